package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryGetOrCreateIsIdempotent(t *testing.T) {
	r := NewRegistry(idMinter("A"), nil)
	s1 := r.GetOrCreate("doc1")
	s2 := r.GetOrCreate("doc1")
	require.Same(t, s1, s2)
	require.Equal(t, 1, r.Len())
}

func TestRegistryReclaimsEmptySession(t *testing.T) {
	r := NewRegistry(idMinter("A"), nil)
	s := r.GetOrCreate("doc1")
	s.Join("A", "Ada")
	require.Equal(t, 1, r.Len())

	s.Disconnect("A")
	require.Equal(t, 0, r.Len())
}

func TestRegistryRemoveGuardsAgainstRaceWithRejoin(t *testing.T) {
	r := NewRegistry(idMinter("A", "B"), nil)
	s := r.GetOrCreate("doc1")
	s.Join("A", "Ada")
	s.Join("B", "Bob")

	// A stale OnEmpty callback firing after a client rejoined must not
	// evict a session whose roster is no longer empty.
	r.remove("doc1", s)
	require.Equal(t, 1, r.Len())

	s.Disconnect("A")
	s.Disconnect("B")
	r.remove("doc1", s)
	require.Equal(t, 0, r.Len())
}

func TestDocIDsReflectsLiveSessions(t *testing.T) {
	r := NewRegistry(idMinter("A"), nil)
	r.GetOrCreate("doc1")
	r.GetOrCreate("doc2")
	ids := r.DocIDs()
	require.ElementsMatch(t, []string{"doc1", "doc2"}, ids)
}
