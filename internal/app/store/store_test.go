package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "messenger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "alice", "pw1"))

	user, ok, err := s.Authenticate(ctx, "alice", "pw1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", user.Name)

	_, ok, err = s.Authenticate(ctx, "alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Authenticate(ctx, "nobody", "pw1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "alice", "pw1"))

	err := s.CreateUser(ctx, "alice", "other")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureUser(ctx, "server", "admin"))
	require.NoError(t, s.EnsureUser(ctx, "server", "admin"))

	exists, err := s.UserExists(ctx, "server")
	require.NoError(t, err)
	assert.True(t, exists)

	// The original seed credentials keep working after the second Ensure.
	_, ok, err := s.Authenticate(ctx, "server", "admin")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInsertMessageAssignsIncreasingIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "alice", "pw1"))

	var lastID int64
	for i, content := range []string{"one", "two", "three"} {
		id, err := s.InsertMessage(ctx, "alice", content, int64(100+i))
		require.NoError(t, err)
		assert.Greater(t, id, lastID)
		lastID = id
	}
}

func TestRecentMessagesOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "alice", "pw1"))
	for i, content := range []string{"one", "two", "three", "four"} {
		_, err := s.InsertMessage(ctx, "alice", content, int64(100+i))
		require.NoError(t, err)
	}

	recent, err := s.RecentMessages(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	// Newest first at the store layer.
	assert.Equal(t, "four", recent[0].Content)
	assert.Equal(t, "three", recent[1].Content)
	assert.Greater(t, recent[0].ID, recent[1].ID)
}

func TestLatestMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LatestMessage(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CreateUser(ctx, "alice", "pw1"))
	_, err = s.InsertMessage(ctx, "alice", "first", 100)
	require.NoError(t, err)
	id, err := s.InsertMessage(ctx, "alice", "second", 101)
	require.NoError(t, err)

	latest, ok, err := s.LatestMessage(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, latest.ID)
	assert.Equal(t, "second", latest.Content)
	assert.Equal(t, "alice", latest.Sender.Name)
}
