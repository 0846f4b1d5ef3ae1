package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgr/models"
)

func setupStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client_alice.db3")
	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestKnownUsers(t *testing.T) {
	s, _ := setupStore(t)

	require.NoError(t, s.SetKnownUsers([]string{"carol", "alice", "bob", "bob"}))
	users, err := s.KnownUsers()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, users)

	require.NoError(t, s.SetKnownUsers([]string{"dave"}))
	users, err = s.KnownUsers()
	require.NoError(t, err)
	assert.Equal(t, []string{"dave"}, users)

	known, err := s.IsKnownUser("dave")
	require.NoError(t, err)
	assert.True(t, known)
	known, err = s.IsKnownUser("alice")
	require.NoError(t, err)
	assert.False(t, known)
}

func TestContacts(t *testing.T) {
	s, _ := setupStore(t)

	require.NoError(t, s.SetContacts([]string{"bob"}))
	require.NoError(t, s.AddContact("carol"))
	require.NoError(t, s.AddContact("carol"))

	contacts, err := s.Contacts()
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, contacts)

	require.NoError(t, s.RemoveContact("bob"))
	require.NoError(t, s.RemoveContact("nobody"))
	ok, err := s.IsContact("bob")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.IsContact("carol")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestContactsClearedOnOpen(t *testing.T) {
	s, path := setupStore(t)
	require.NoError(t, s.AddContact("bob"))
	require.NoError(t, s.SetKnownUsers([]string{"bob"}))
	require.NoError(t, s.SaveMessage("bob", models.DirectionIn, "hi"))
	require.NoError(t, s.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	contacts, err := reopened.Contacts()
	require.NoError(t, err)
	assert.Empty(t, contacts)

	users, err := reopened.KnownUsers()
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, users)

	history, err := reopened.History("bob")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHistory(t *testing.T) {
	s, _ := setupStore(t)

	require.NoError(t, s.SaveMessage("bob", models.DirectionOut, "hi bob"))
	require.NoError(t, s.SaveMessage("carol", models.DirectionOut, "hi carol"))
	require.NoError(t, s.SaveMessage("bob", models.DirectionIn, "hi alice"))

	history, err := s.History("bob")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.DirectionOut, history[0].Direction)
	assert.Equal(t, "hi bob", history[0].Text)
	assert.Equal(t, models.DirectionIn, history[1].Direction)
	assert.Equal(t, "hi alice", history[1].Text)
	assert.False(t, history[1].Timestamp.IsZero())

	empty, err := s.History("dave")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
