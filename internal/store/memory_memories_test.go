package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemoryMemoryStorePutGet(t *testing.T) {
	s := NewInMemoryMemoryStore()
	ctx := context.Background()
	err := s.Put(ctx, Memory{ID: "m1", Text: "the sky is blue", RoleViewLevel: 0})
	require.NoError(t, err)

	m, ok, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "the sky is blue", m.Text)
}

func TestInMemoryMemoryStoreAppendContradictionOnlyMutation(t *testing.T) {
	s := NewInMemoryMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Memory{ID: "m1", Text: "claim A"}))

	require.NoError(t, s.AppendContradiction(ctx, "m1", Contradiction{Subject: "x", ClaimASource: "m1", ClaimBSource: "m2"}))

	m, _, _ := s.Get(ctx, "m1")
	require.Len(t, m.Contradictions, 1)
	require.Equal(t, "claim A", m.Text, "appending a contradiction must not alter the memory's text")
}

func TestInMemoryMemoryStoreGetMissing(t *testing.T) {
	s := NewInMemoryMemoryStore()
	_, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}
