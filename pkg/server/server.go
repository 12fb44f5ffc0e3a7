// Package server implements the secure file transfer server: a TLS accept
// loop, a per-connection dispatch loop, and the handlers behind every
// protocol command.
//
// Each client owns one control connection (authenticated by Login) plus any
// number of data connections (authenticated by Auth against the session
// token). Listing and session commands arrive on the control connection;
// Upload and Download arrive on a data connection, whose worker answers OK
// and then runs the byte stream inline.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/wentianbu/sft/internal/logger"
	"github.com/wentianbu/sft/pkg/auth"
	"github.com/wentianbu/sft/pkg/config"
	"github.com/wentianbu/sft/pkg/lastlogin"
	"github.com/wentianbu/sft/pkg/metrics"
)

// Server serves the file transfer protocol over TLS.
type Server struct {
	cfg       config.ServerConfig
	creds     *auth.CredentialStore
	lastLogin *lastlogin.Store // optional
	metrics   metrics.SFTMetrics

	sessions    *registry
	listener    net.Listener
	nextConnID  atomic.Uint32
	activeConns atomic.Int32
}

// New builds a server. The last-login store and metrics may be nil; a nil
// metrics implementation is replaced with the no-op one.
func New(cfg config.ServerConfig, creds *auth.CredentialStore, lastLogin *lastlogin.Store, m metrics.SFTMetrics) *Server {
	if m == nil {
		m = metrics.NewNoopSFTMetrics()
	}
	return &Server{
		cfg:       cfg,
		creds:     creds,
		lastLogin: lastLogin,
		metrics:   m,
		sessions:  newRegistry(),
	}
}

// Serve listens with TLS on the configured address and accepts clients until
// the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	cert, err := tls.LoadX509KeyPair(s.cfg.CertFile, s.cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("load server certificate: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	addr := net.JoinHostPort(s.cfg.ListenAddress, strconv.Itoa(s.cfg.Port))
	listener, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	return s.ServeListener(ctx, listener)
}

// ServeListener accepts clients from an already-open listener. Tests use it
// to serve plain loopback connections without TLS material.
func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	s.listener = listener
	logger.Info("SFT server listening on %s", listener.Addr())

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Debug("Error accepting connection: %v", err)
				continue
			}
		}

		conn := s.newConn(netConn)
		go conn.serve(ctx)
	}
}

// Stop closes the listener. In-flight connections finish on their own.
func (s *Server) Stop() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// SessionCount returns the number of logged-in sessions.
func (s *Server) SessionCount() int {
	return s.sessions.count()
}

func (s *Server) connAccepted() {
	s.metrics.ConnectionAccepted()
	s.metrics.SetActiveConnections(s.activeConns.Add(1))
}

func (s *Server) connClosed(n int) {
	for i := 0; i < n; i++ {
		s.metrics.ConnectionClosed()
	}
	s.metrics.SetActiveConnections(s.activeConns.Add(int32(-n)))
}
