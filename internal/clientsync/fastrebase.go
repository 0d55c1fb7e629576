package clientsync

import (
	"syncdoc/internal/ot"
	"syncdoc/internal/shiftindex"
)

// FastRebasePosition rebases pos against batch using a ShiftIndex instead
// of the pairwise fold: a single query of accumulated position deltas. Per
// §4.5/§9, this is an O(n·log n) optimization equivalent to the pairwise
// fold only when no operation in batch straddles or collapses pos — it is
// never used by InboundOp, which always takes the authoritative pairwise
// path. It exists for callers that know their batch is a long tail of
// independent, non-overlapping edits (e.g. replaying a large backlog after
// a reconnect where the batch is known not to touch the region around
// pos) and want the cheaper query.
func FastRebasePosition(pos int, docLen int, batch []ot.Operation) int {
	idx := shiftindex.New(docLen + 1)
	for _, op := range batch {
		switch op.Kind {
		case ot.Insert:
			idx.AddInsert(op.Pos, op.InsertLen())
		case ot.Delete:
			idx.AddDelete(op.Pos, op.Len)
		}
	}
	if pos == 0 {
		return pos
	}
	shift := idx.Query(pos - 1)
	return pos + int(shift)
}
