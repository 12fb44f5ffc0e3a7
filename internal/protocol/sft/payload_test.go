package sft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWelcomeRoundTrip covers the richest payload, including last-login
// extras. XDR times carry second precision.
func TestWelcomeRoundTrip(t *testing.T) {
	lastLogin := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	in := &WelcomePayload{
		ClientID:      4711,
		Token:         "abc123",
		LastLoginTime: lastLogin,
		LastLoginIP:   "203.0.113.9",
		Message:       "login success",
	}

	body, err := MarshalPayload(in)
	require.NoError(t, err)

	out, err := DecodeWelcome(body)
	require.NoError(t, err)
	assert.Equal(t, in.ClientID, out.ClientID)
	assert.Equal(t, in.Token, out.Token)
	assert.Equal(t, in.LastLoginIP, out.LastLoginIP)
	assert.True(t, lastLogin.Equal(out.LastLoginTime))
}

// TestWelcomeFirstLogin verifies the zero last-login time survives encoding,
// so clients can distinguish a first login.
func TestWelcomeFirstLogin(t *testing.T) {
	body, err := MarshalPayload(&WelcomePayload{ClientID: 1, Token: "t"})
	require.NoError(t, err)

	out, err := DecodeWelcome(body)
	require.NoError(t, err)
	assert.True(t, out.LastLoginTime.IsZero())
}

// TestMetaRoundTrip covers nested directory and file entries.
func TestMetaRoundTrip(t *testing.T) {
	mod := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	in := &MetaPayload{
		Path: "/docs",
		Dirs: []DirEntry{{Name: "archive", LastWrite: mod}},
		Files: []FileEntry{
			{Name: "report.pdf", Size: 123456, LastWrite: mod, ReadOnly: true},
			{Name: "notes.txt", Size: 42, LastWrite: mod},
		},
	}

	body, err := MarshalPayload(in)
	require.NoError(t, err)

	out, err := DecodeMeta(body)
	require.NoError(t, err)
	assert.Equal(t, "/docs", out.Path)
	require.Len(t, out.Dirs, 1)
	require.Len(t, out.Files, 2)
	assert.Equal(t, "archive", out.Dirs[0].Name)
	assert.Equal(t, int64(123456), out.Files[0].Size)
	assert.True(t, out.Files[0].ReadOnly)
	assert.False(t, out.Files[1].ReadOnly)
}

// TestTransferRequestRoundTrip covers the resume offset and connection
// binding fields.
func TestTransferRequestRoundTrip(t *testing.T) {
	in := &TransferRequestPayload{Path: "/big.iso", StartOffset: 1 << 30, ConnID: 3}

	body, err := MarshalPayload(in)
	require.NoError(t, err)

	out, err := DecodeTransferRequest(body)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

// TestDecodeErrors verifies decoders reject missing and garbage bodies.
func TestDecodeErrors(t *testing.T) {
	t.Run("nil body", func(t *testing.T) {
		_, err := DecodeLogin(nil)
		require.Error(t, err)
	})

	t.Run("truncated body", func(t *testing.T) {
		body, err := MarshalPayload(&LoginPayload{Username: "alice", Password: "secret"})
		require.NoError(t, err)
		_, err = DecodeLogin(body[:3])
		require.Error(t, err)
	})
}
