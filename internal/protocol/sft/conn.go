package sft

import (
	"net"
	"sync"
	"time"

	"github.com/wentianbu/sft/internal/logger"
)

// Conn wraps one live, encrypted, bidirectional byte stream and owns reading
// and writing of whole packets on it.
//
// A Conn is either the control connection of a client (authenticated by
// Login) or a data connection (authenticated by Auth, carries one transfer at
// a time). Any read or write failure invalidates the Conn; callers close it
// and never retry on the same object.
type Conn struct {
	id      uint16
	netConn net.Conn

	// writeMu serializes whole-packet writes so replies never interleave.
	writeMu sync.Mutex

	// mu protects the state flags below.
	mu            sync.Mutex
	control       bool
	authenticated bool
	busy          bool
	closed        bool

	// readTimeout, when non-zero, bounds each blocking packet read.
	readTimeout time.Duration
}

// NewConn wraps an established stream. The identifier is locally unique: the
// server assigns one per accept, the client one per pool slot.
func NewConn(id uint16, netConn net.Conn) *Conn {
	return &Conn{id: id, netConn: netConn}
}

func (c *Conn) ID() uint16 { return c.id }

// RemoteAddr returns the peer address of the underlying stream.
func (c *Conn) RemoteAddr() net.Addr { return c.netConn.RemoteAddr() }

// SetReadTimeout bounds every subsequent ReadPacket call. Zero disables the
// timeout.
func (c *Conn) SetReadTimeout(d time.Duration) {
	c.mu.Lock()
	c.readTimeout = d
	c.mu.Unlock()
}

// MarkControl flags this as the session's control connection.
func (c *Conn) MarkControl() {
	c.mu.Lock()
	c.control = true
	c.mu.Unlock()
}

func (c *Conn) IsControl() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.control
}

// MarkAuthenticated records a successful Login or Auth exchange.
func (c *Conn) MarkAuthenticated() {
	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()
}

func (c *Conn) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// TryAcquire atomically marks an idle data connection busy. It returns false
// if the connection is already owned by a transfer task, is the control
// connection, or has been closed.
func (c *Conn) TryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy || c.control || c.closed {
		return false
	}
	c.busy = true
	return true
}

// Release marks the data connection idle again. Called by the transfer task
// that owns it, on completion or failure.
func (c *Conn) Release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

func (c *Conn) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WritePacket writes one whole packet. Concurrent writers are serialized.
func (c *Conn) WritePacket(p *Packet) error {
	if c.isClosed() {
		return ErrConnClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WritePacket(c.netConn, p)
}

// ReadPacket blocks until a full packet arrives or the stream fails. io.EOF
// signals a clean peer disconnect at a packet boundary.
func (c *Conn) ReadPacket() (*Packet, error) {
	if c.isClosed() {
		return nil, ErrConnClosed
	}

	c.mu.Lock()
	timeout := c.readTimeout
	c.mu.Unlock()
	if timeout > 0 {
		if err := c.netConn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}

	return ReadPacket(c.netConn)
}

// Close tears down the underlying stream. Safe to call more than once; the
// Conn is never reused afterwards.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.netConn.Close()
}

// SendReset sends the unilateral abort marker. No reply is expected and the
// caller closes the connection immediately after.
func (c *Conn) SendReset(clientID, reqID uint16) {
	if err := c.WritePacket(NewPacket(CmdReset, clientID, reqID, nil)); err != nil {
		logger.Debug("Failed to send Reset on conn %d: %v", c.id, err)
	}
}

// SendBye sends the graceful close marker.
func (c *Conn) SendBye(clientID, reqID uint16) error {
	return c.WritePacket(NewPacket(CmdBye, clientID, reqID, nil))
}

// CheckAuthStatus enforces authentication before serving a request. If the
// connection is not authenticated it writes an UnAuth packet and returns
// false; the caller must abort the request.
func (c *Conn) CheckAuthStatus(reqID uint16) bool {
	if c.IsAuthenticated() {
		return true
	}
	if err := c.WritePacket(NewPacket(CmdUnAuth, 0, reqID, nil)); err != nil {
		logger.Debug("Failed to send UnAuth on conn %d: %v", c.id, err)
	}
	return false
}
