package lastlogin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// TestGetUnknownUser verifies an absent record comes back as nil, nil.
func TestGetUnknownUser(t *testing.T) {
	store := openTestStore(t)

	rec, err := store.Get("nobody")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

// TestRecordLogin verifies the first login returns no previous record and
// later logins return the one they replace.
func TestRecordLogin(t *testing.T) {
	store := openTestStore(t)

	first := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	previous, err := store.RecordLogin("alice", "198.51.100.7", first)
	require.NoError(t, err)
	assert.Nil(t, previous, "first login has no previous record")

	second := first.Add(48 * time.Hour)
	previous, err = store.RecordLogin("alice", "203.0.113.4", second)
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.Equal(t, "198.51.100.7", previous.IP)
	assert.True(t, first.Equal(previous.Time))

	current, err := store.Get("alice")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "203.0.113.4", current.IP)
	assert.True(t, second.Equal(current.Time))
}

// TestRecordLoginIsolatedPerUser verifies records do not leak between
// usernames.
func TestRecordLoginIsolatedPerUser(t *testing.T) {
	store := openTestStore(t)

	when := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	_, err := store.RecordLogin("alice", "198.51.100.7", when)
	require.NoError(t, err)

	rec, err := store.Get("bob")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

// TestOpenRequiresPath verifies a persistent store refuses an empty path.
func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

// TestPersistence verifies records survive a close and reopen cycle.
func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(Config{DBPath: dir})
	require.NoError(t, err)

	when := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	_, err = store.RecordLogin("alice", "198.51.100.7", when)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(Config{DBPath: dir})
	require.NoError(t, err)
	defer store.Close()

	rec, err := store.Get("alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "198.51.100.7", rec.IP)
	assert.True(t, when.Equal(rec.Time))
}
