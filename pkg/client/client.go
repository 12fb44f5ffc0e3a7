// Package client is the Go client for the secure file transfer protocol.
//
// A Client owns one control connection, established and authenticated by
// Login, plus a lazily-grown pool of data connections that carry file bytes.
// Requests on the control connection are serialized; transfers on distinct
// data connections run concurrently.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/wentianbu/sft/internal/logger"
	"github.com/wentianbu/sft/internal/protocol/sft"
	"github.com/wentianbu/sft/pkg/config"
)

// ErrNotLoggedIn is returned by operations that require a completed Login.
var ErrNotLoggedIn = errors.New("client: not logged in")

// ErrNotAuthenticated is returned when the server answers UnAuth, meaning
// the session is no longer valid on that connection.
var ErrNotAuthenticated = errors.New("client: connection not authenticated")

// DialFunc opens one raw stream to the server. The default dials TLS;
// tests substitute loopback pipes.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Client talks to one SFT server.
type Client struct {
	cfg  config.ClientConfig
	dial DialFunc

	// reqMu serializes whole request/reply exchanges on the control
	// connection.
	reqMu   sync.Mutex
	control *sft.Conn

	// mu protects the session identity set by Login and the data
	// connection pool.
	mu         sync.Mutex
	clientID   uint16
	token      string
	loggedIn   bool
	data       []*sft.Conn
	dialing    int
	nextConnID uint16

	nextReqID uint16
}

// New builds a client that dials addr with TLS according to cfg.
func New(addr string, cfg config.ClientConfig) (*Client, error) {
	tlsConfig := &tls.Config{
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in CA file %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	dialer := &tls.Dialer{Config: tlsConfig}
	dial := func(ctx context.Context) (net.Conn, error) {
		return dialer.DialContext(ctx, "tcp", addr)
	}
	return NewWithDialer(cfg, dial), nil
}

// NewWithDialer builds a client over a custom dialer. Tests use it to run
// the protocol over plain loopback connections.
func NewWithDialer(cfg config.ClientConfig, dial DialFunc) *Client {
	return &Client{cfg: cfg, dial: dial}
}

// ClientID returns the server-assigned session identifier. Zero before
// Login.
func (c *Client) ClientID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// session snapshots the identity set by Login.
func (c *Client) session() (clientID uint16, token string, loggedIn bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID, c.token, c.loggedIn
}

// newConn dials one stream and wraps it.
func (c *Client) newConn(ctx context.Context) (*sft.Conn, error) {
	netConn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial server: %w", err)
	}

	c.mu.Lock()
	c.nextConnID++
	id := c.nextConnID
	c.mu.Unlock()

	conn := sft.NewConn(id, netConn)
	if c.cfg.ReadTimeout > 0 {
		conn.SetReadTimeout(c.cfg.ReadTimeout)
	}
	return conn, nil
}

func (c *Client) reqID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextReqID++
	return c.nextReqID
}

// roundTrip sends one packet on the control connection and reads the reply.
func (c *Client) roundTrip(pkt *sft.Packet) (*sft.Packet, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if c.control == nil {
		return nil, ErrNotLoggedIn
	}
	if err := c.control.WritePacket(pkt); err != nil {
		return nil, err
	}
	return c.control.ReadPacket()
}

// Close drops every connection without the Bye handshake. Prefer Bye for a
// graceful shutdown.
func (c *Client) Close() {
	c.reqMu.Lock()
	if c.control != nil {
		c.control.Close()
		c.control = nil
	}
	c.reqMu.Unlock()

	c.mu.Lock()
	c.loggedIn = false
	conns := c.data
	c.data = nil
	c.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
	logger.Debug("Client closed")
}
