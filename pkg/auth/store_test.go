package auth

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func md5hex(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

func writeUserFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.txt")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0644))
	return path
}

// TestLoadCredentialStore verifies parsing of the user file, including
// skipped comment, blank, and malformed lines.
func TestLoadCredentialStore(t *testing.T) {
	path := writeUserFile(t, fmt.Sprintf(
		"# test users\n\nalice|%s\nbob|%s\nmalformed-line\ncarol|tooshort\n",
		md5hex("wonderland"), md5hex("builder")))

	store, err := LoadCredentialStore(path)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
}

// TestVerify covers correct, wrong, and unknown credentials.
func TestVerify(t *testing.T) {
	path := writeUserFile(t, fmt.Sprintf("alice|%s\n", md5hex("wonderland")))
	store, err := LoadCredentialStore(path)
	require.NoError(t, err)

	tests := []struct {
		name     string
		username string
		password string
		want     bool
	}{
		{"correct credentials", "alice", "wonderland", true},
		{"wrong password", "alice", "nope", false},
		{"unknown user", "mallory", "wonderland", false},
		{"empty password", "alice", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, store.Verify(tt.username, tt.password))
		})
	}
}

// TestVerifyUppercaseDigest verifies stored digests are matched
// case-insensitively.
func TestVerifyUppercaseDigest(t *testing.T) {
	upper := fmt.Sprintf("alice|%s\n", hexUpper(md5hex("wonderland")))
	store, err := LoadCredentialStore(writeUserFile(t, upper))
	require.NoError(t, err)
	assert.True(t, store.Verify("alice", "wonderland"))
}

func hexUpper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'f' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

// TestLoadMissingFile verifies a missing user file is an error, not an
// empty store.
func TestLoadMissingFile(t *testing.T) {
	_, err := LoadCredentialStore(filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)
}

// TestWatchReload verifies edits to the user file become visible without a
// reload call.
func TestWatchReload(t *testing.T) {
	path := writeUserFile(t, fmt.Sprintf("alice|%s\n", md5hex("wonderland")))
	store, err := LoadCredentialStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Watch())
	defer store.Close()

	assert.False(t, store.Verify("bob", "builder"))

	content := fmt.Sprintf("alice|%s\nbob|%s\n", md5hex("wonderland"), md5hex("builder"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	require.Eventually(t, func() bool {
		return store.Verify("bob", "builder")
	}, 5*time.Second, 50*time.Millisecond, "user file change was not picked up")
}
