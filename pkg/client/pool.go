package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/wentianbu/sft/internal/logger"
	"github.com/wentianbu/sft/internal/protocol/sft"
)

// ErrNoIdleConnection is returned when every data connection is busy and the
// pool has reached its configured cap.
var ErrNoIdleConnection = errors.New("client: no idle data connection")

// getIdleDataConnection returns an exclusively-acquired data connection,
// reusing an idle one or dialing and authenticating a new one when the pool
// has room. The caller (a transfer task) releases it when done.
func (c *Client) getIdleDataConnection(ctx context.Context) (*sft.Conn, error) {
	if _, _, loggedIn := c.session(); !loggedIn {
		return nil, ErrNotLoggedIn
	}

	c.mu.Lock()
	for _, conn := range c.data {
		if conn.TryAcquire() {
			c.mu.Unlock()
			return conn, nil
		}
	}
	// In-flight dials count against the cap so concurrent first misses
	// cannot grow the pool past it.
	if len(c.data)+c.dialing >= c.cfg.MaxDataConnections {
		c.mu.Unlock()
		return nil, ErrNoIdleConnection
	}
	c.dialing++
	c.mu.Unlock()

	conn, err := c.openDataConnection(ctx)

	c.mu.Lock()
	c.dialing--
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.data = append(c.data, conn)
	c.mu.Unlock()

	if !conn.TryAcquire() {
		return nil, ErrNoIdleConnection
	}
	return conn, nil
}

// evictDataConnection closes a dead connection and drops it from the pool,
// freeing its cap slot. A connection that saw a transfer or framing error
// may be mid-stream and must never carry another request.
func (c *Client) evictDataConnection(conn *sft.Conn) {
	c.mu.Lock()
	for i, pooled := range c.data {
		if pooled == conn {
			c.data = append(c.data[:i], c.data[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	conn.Close()
	logger.Debug("Data connection %d evicted", conn.ID())
}

// openDataConnection dials a fresh stream and binds it to the session with
// Auth.
func (c *Client) openDataConnection(ctx context.Context) (*sft.Conn, error) {
	clientID, token, _ := c.session()

	conn, err := c.newConn(ctx)
	if err != nil {
		return nil, err
	}

	body, err := sft.MarshalPayload(&sft.AuthPayload{Token: token, ConnID: conn.ID()})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WritePacket(sft.NewPacket(sft.CmdAuth, clientID, c.reqID(), body)); err != nil {
		conn.Close()
		return nil, err
	}

	reply, err := conn.ReadPacket()
	if err != nil {
		conn.Close()
		return nil, err
	}
	switch reply.Header.Cmd {
	case sft.CmdWelcome:
		conn.MarkAuthenticated()
		logger.Debug("Data connection %d authenticated", conn.ID())
		return conn, nil
	case sft.CmdReject:
		conn.Close()
		reject, derr := sft.DecodeReject(reply.Body)
		if derr != nil {
			return nil, fmt.Errorf("auth rejected: %w", derr)
		}
		return nil, &sft.RemoteError{Cmd: sft.CmdReject, Message: reject.Message}
	default:
		conn.Close()
		return nil, &sft.UnexpectedResponseError{Packet: reply}
	}
}
