package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_AppendAndList(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "history.db"))
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.Append(ctx, Message{ThreadID: "t1", Role: RoleUser, Content: "hi", CreatedAt: now}))
	require.NoError(t, s.Append(ctx, Message{ThreadID: "t1", Role: RoleAssistant, Content: "hello", CreatedAt: now}))
	require.NoError(t, s.Append(ctx, Message{ThreadID: "t2", Role: RoleUser, Content: "other thread", CreatedAt: now}))

	msgs, err := s.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, RoleUser, msgs[0].Role)
	require.Equal(t, "hi", msgs[0].Content)
	require.Equal(t, RoleAssistant, msgs[1].Role)
	require.Equal(t, "hello", msgs[1].Content)

	other, err := s.List(ctx, "t2")
	require.NoError(t, err)
	require.Len(t, other, 1)

	empty, err := s.List(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s := Open(path)
	require.NoError(t, s.Append(ctx, Message{ThreadID: "t1", Role: RoleUser, Content: "durable", CreatedAt: time.Now().UTC()}))
	require.NoError(t, s.Close())

	s2 := Open(path)
	defer s2.Close()
	msgs, err := s2.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "durable", msgs[0].Content)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Message{ThreadID: "t1", Role: RoleUser, Content: "a"}))
	require.NoError(t, s.Append(ctx, Message{ThreadID: "t1", Role: RoleAssistant, Content: "b"}))

	msgs, err := s.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.NoError(t, s.Close())
}
