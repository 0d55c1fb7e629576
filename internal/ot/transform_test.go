package ot

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func applyAll(s string, ops ...Operation) (string, error) {
	var err error
	for _, op := range ops {
		s, err = Apply(s, op)
		if err != nil {
			return "", err
		}
	}
	return s, nil
}

// TestTwoInsertsSamePosition is scenario 1 of §8: base "hello", A inserts
// " world" at 5, B inserts "!" at 5. transformInsertInsert's tie-break
// orders the lower ClientID first, so "A" (< "B") keeps position 5 and "!"
// shifts past it; converged result is "hello world!".
func TestTwoInsertsSamePosition(t *testing.T) {
	base := "hello"
	a := InsertOp(5, " world", "A", 0)
	b := InsertOp(5, "!", "B", 0)

	// Replica that applies a first, then b transformed against a.
	replica1, err := applyAll(base, a, Transform(b, a))
	require.NoError(t, err)

	// Replica that applies b first, then a transformed against b.
	replica2, err := applyAll(base, b, Transform(a, b))
	require.NoError(t, err)

	require.Equal(t, "hello world!", replica1)
	require.Equal(t, "hello world!", replica2)
}

// TestInsertDeleteOverlap is scenario 2 of §8.
func TestInsertDeleteOverlap(t *testing.T) {
	base := "hello world"
	a := DeleteOp(6, 5, "A", 0)
	b := InsertOp(6, "beautiful ", "B", 0)

	replica1, err := applyAll(base, a, Transform(b, a))
	require.NoError(t, err)
	replica2, err := applyAll(base, b, Transform(a, b))
	require.NoError(t, err)

	require.Equal(t, "hello beautiful ", replica1)
	require.Equal(t, "hello beautiful ", replica2)
}

// TestThreeWayConcurrent is scenario 3 of §8.
func TestThreeWayConcurrent(t *testing.T) {
	base := "abc"
	a := InsertOp(1, "1", "A", 0)
	b := InsertOp(2, "2", "B", 0)
	c := DeleteOp(0, 1, "C", 0)

	// Apply in server order a, b, c on one replica; each subsequent op is
	// transformed against everything already applied.
	s, err := applyAll(base, a)
	require.NoError(t, err)
	bT := TransformAgainst(b, []Operation{a})
	s, err = applyAll(s, bT)
	require.NoError(t, err)
	cT := TransformAgainst(c, []Operation{a, bT})
	replicaABC, err := applyAll(s, cT)
	require.NoError(t, err)

	// Apply in a different order: c, a, b.
	s2, err := applyAll(base, c)
	require.NoError(t, err)
	aT := TransformAgainst(a, []Operation{c})
	s2, err = applyAll(s2, aT)
	require.NoError(t, err)
	bT2 := TransformAgainst(b, []Operation{c, aT})
	replicaCAB, err := applyAll(s2, bT2)
	require.NoError(t, err)

	require.Equal(t, replicaABC, replicaCAB)
}

// TestOverlappingDeletes is scenario 4 of §8.
func TestOverlappingDeletes(t *testing.T) {
	base := "abcdefgh"
	a := DeleteOp(2, 3, "A", 0)
	b := DeleteOp(3, 3, "B", 0)

	replica1, err := applyAll(base, a, Transform(b, a))
	require.NoError(t, err)
	replica2, err := applyAll(base, b, Transform(a, b))
	require.NoError(t, err)

	require.Equal(t, "abgh", replica1)
	require.Equal(t, "abgh", replica2)
}

func TestDeletesCoveringEntireDocument(t *testing.T) {
	base := "abcdef"
	a := DeleteOp(0, 3, "A", 0)
	b := DeleteOp(3, 3, "B", 0)

	replica1, err := applyAll(base, a, Transform(b, a))
	require.NoError(t, err)
	replica2, err := applyAll(base, b, Transform(a, b))
	require.NoError(t, err)
	require.Equal(t, "", replica1)
	require.Equal(t, "", replica2)
}

func TestZeroWidthOpsAreNoops(t *testing.T) {
	emptyInsert := InsertOp(2, "", "A", 0)
	require.True(t, emptyInsert.IsNoop())
	zeroDelete := DeleteOp(2, 0, "A", 0)
	require.True(t, zeroDelete.IsNoop())

	s, err := Apply("hello", emptyInsert)
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	s, err = Apply("hello", zeroDelete)
	require.NoError(t, err)
	require.Equal(t, "hello", s)
}

// TestTieBreakStability is property P2: concurrent inserts at the same
// position converge to t_lo ++ t_hi ordered by client id, regardless of
// which replica applies first.
func TestTieBreakStability(t *testing.T) {
	base := "x"
	lo := InsertOp(0, "A-text", "A", 0)
	hi := InsertOp(0, "Z-text", "Z", 0)

	replica1, err := applyAll(base, lo, Transform(hi, lo))
	require.NoError(t, err)
	replica2, err := applyAll(base, hi, Transform(lo, hi))
	require.NoError(t, err)

	want := "A-textZ-textx"
	require.Equal(t, want, replica1)
	require.Equal(t, want, replica2)
}

// TestTransformInsertInsertShiftsOnlyPosition checks the transformed
// Operation field-by-field, not just the applied text, so a future change
// that e.g. leaks ClientSeq or mutates Text by accident shows up as a
// precise diff rather than a mismatched rendered string.
func TestTransformInsertInsertShiftsOnlyPosition(t *testing.T) {
	a := InsertOp(5, " world", "A", 3)
	b := InsertOp(2, "!!", "B", 9)

	got := Transform(a, b)
	want := InsertOp(7, " world", "A", 3)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Transform(a, b) mismatch (-want +got):\n%s", diff)
	}
}

func TestTieBreakManyClients(t *testing.T) {
	base := ""
	ids := []ClientID{"c3", "c1", "c5", "c2", "c4"}
	var ops []Operation
	for _, id := range ids {
		ops = append(ops, InsertOp(0, string(id[1]), id, 0))
	}
	// Transform each against all others authored at the same base,
	// applying in arbitrary (here: input) order; all orderings must
	// converge identically because tie-break is purely by ClientID.
	applyOrdered := func(order []int) string {
		s := base
		applied := make([]Operation, 0, len(ops))
		for _, idx := range order {
			op := TransformAgainst(ops[idx], applied)
			var err error
			s, err = Apply(s, op)
			require.NoError(t, err)
			applied = append(applied, op)
		}
		return s
	}
	want := "12345"
	got1 := applyOrdered([]int{0, 1, 2, 3, 4})
	got2 := applyOrdered([]int{4, 3, 2, 1, 0})
	got3 := applyOrdered([]int{2, 0, 4, 1, 3})
	require.Equal(t, want, got1)
	require.Equal(t, want, got2)
	require.Equal(t, want, got3)
}

// drawOperation generates a random well-formed Insert or Delete against a
// document of a given length.
func drawOperation(t *rapid.T, docLen int, clientID ClientID) Operation {
	kind := rapid.IntRange(0, 1).Draw(t, "kind").(int)
	if kind == 0 || docLen == 0 {
		pos := rapid.IntRange(0, docLen).Draw(t, "pos").(int)
		n := rapid.IntRange(1, 5).Draw(t, "n").(int)
		text := make([]rune, n)
		for i := range text {
			text[i] = rune(rapid.IntRange(97, 122).Draw(t, "ch").(int))
		}
		return InsertOp(pos, string(text), clientID, 0)
	}
	pos := rapid.IntRange(0, docLen-1).Draw(t, "pos").(int)
	length := rapid.IntRange(1, docLen-pos).Draw(t, "len").(int)
	return DeleteOp(pos, length, clientID, 0)
}

// TestConvergenceProperty is TP1/P1: for any pair of operations authored
// against the same base, applying b then transform(a,b) converges with
// applying a then transform(b,a).
func TestConvergenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		docLen := rapid.IntRange(0, 20).Draw(t, "docLen").(int)
		doc := make([]rune, docLen)
		for i := range doc {
			doc[i] = rune('a' + i%26)
		}
		base := string(doc)

		a := drawOperation(t, docLen, "A")
		b := drawOperation(t, docLen, "B")

		replica1, err1 := applyAll(base, a, Transform(b, a))
		replica2, err2 := applyAll(base, b, Transform(a, b))
		if err1 != nil || err2 != nil {
			t.Fatalf("apply error: %v / %v", err1, err2)
		}
		if replica1 != replica2 {
			t.Fatalf("TP1 violated: base=%q a=%v b=%v -> %q vs %q", base, a, b, replica1, replica2)
		}
	})
}
