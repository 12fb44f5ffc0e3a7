package server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wentianbu/sft/internal/protocol/sft"
)

func testConn(t *testing.T) *sft.Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return sft.NewConn(1, a)
}

// TestRegistryRegister verifies sessions get unique non-zero client ids and
// are retrievable.
func TestRegistryRegister(t *testing.T) {
	reg := newRegistry()

	seen := make(map[uint16]bool)
	for i := 0; i < 50; i++ {
		session := reg.register("alice", "token", "127.0.0.1", testConn(t))
		require.NotZero(t, session.ClientID())
		require.False(t, seen[session.ClientID()], "duplicate client id issued")
		seen[session.ClientID()] = true

		got, ok := reg.get(session.ClientID())
		require.True(t, ok)
		assert.Same(t, session, got)
	}
	assert.Equal(t, 50, reg.count())
}

// TestRegistryRemove verifies removal makes the id free for lookup misses.
func TestRegistryRemove(t *testing.T) {
	reg := newRegistry()
	session := reg.register("alice", "token", "127.0.0.1", testConn(t))

	reg.remove(session.ClientID())
	_, ok := reg.get(session.ClientID())
	assert.False(t, ok)
	assert.Zero(t, reg.count())
}

// TestSessionCheckToken verifies token comparison.
func TestSessionCheckToken(t *testing.T) {
	reg := newRegistry()
	session := reg.register("alice", "secret-token", "127.0.0.1", testConn(t))

	assert.True(t, session.checkToken("secret-token"))
	assert.False(t, session.checkToken("wrong"))
	assert.False(t, session.checkToken(""))
}

// TestSessionDataConns verifies bind, lookup, and rebind of data
// connections.
func TestSessionDataConns(t *testing.T) {
	reg := newRegistry()
	session := reg.register("alice", "token", "127.0.0.1", testConn(t))

	_, ok := session.dataConn(9)
	assert.False(t, ok)

	first := testConn(t)
	session.addDataConn(9, first)
	got, ok := session.dataConn(9)
	require.True(t, ok)
	assert.Same(t, first, got)

	// Rebinding the same id replaces and closes the old connection.
	second := testConn(t)
	session.addDataConn(9, second)
	got, ok = session.dataConn(9)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.False(t, first.TryAcquire(), "replaced connection must be closed")
}

// TestSessionCloseAll verifies every connection of the session is torn
// down.
func TestSessionCloseAll(t *testing.T) {
	reg := newRegistry()
	control := testConn(t)
	session := reg.register("alice", "token", "127.0.0.1", control)

	data1, data2 := testConn(t), testConn(t)
	session.addDataConn(1, data1)
	session.addDataConn(2, data2)

	closed := session.closeAll()
	assert.Equal(t, 3, closed)

	assert.False(t, data1.TryAcquire())
	assert.False(t, data2.TryAcquire())
	err := control.WritePacket(sft.NewPacket(sft.CmdOK, 0, 0, nil))
	assert.ErrorIs(t, err, sft.ErrConnClosed)
}
