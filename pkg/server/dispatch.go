package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/wentianbu/sft/internal/logger"
	"github.com/wentianbu/sft/internal/protocol/sft"
	"github.com/wentianbu/sft/internal/ratelimiter"
)

// loopAction tells the serve loop what to do after a packet is handled.
type loopAction int

const (
	// actionContinue keeps reading on the connection.
	actionContinue loopAction = iota
	// actionClose tears the connection down.
	actionClose
)

// clientConn is the server side of one accepted connection. Its worker runs
// the dispatch loop; for Upload and Download the byte-streaming sub-protocol
// runs inline on the same worker, so a data connection is occupied for the
// duration of its transfer.
type clientConn struct {
	server  *Server
	conn    *sft.Conn
	limiter *ratelimiter.RateLimiter

	// session is set after a successful Login (control connection) or Auth
	// (data connection).
	session *Session
}

func (s *Server) newConn(netConn net.Conn) *clientConn {
	id := uint16(s.nextConnID.Add(1))
	conn := sft.NewConn(id, netConn)
	if s.cfg.ReadTimeout > 0 {
		conn.SetReadTimeout(s.cfg.ReadTimeout)
	}
	return &clientConn{
		server:  s,
		conn:    conn,
		limiter: ratelimiter.New(s.cfg.RequestsPerSecond, s.cfg.RequestBurst),
	}
}

func (c *clientConn) serve(ctx context.Context) {
	logger.Debug("New connection from %s", c.conn.RemoteAddr())
	c.server.connAccepted()
	defer c.teardown()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pkt, err := c.conn.ReadPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, sft.ErrConnClosed) {
				logger.Debug("Error reading from %s: %v", c.conn.RemoteAddr(), err)
			}
			return
		}

		if c.dispatch(pkt) == actionClose {
			return
		}
	}
}

// teardown closes the connection and, if it was a session's control
// connection, the whole session with it. Data connections belonging to the
// session are closed here too; their own workers notice and exit through
// this same path, counting themselves.
func (c *clientConn) teardown() {
	if c.session != nil && c.session.control == c.conn {
		c.server.sessions.remove(c.session.clientID)
		c.session.closeAll()
		c.server.metrics.SetActiveSessions(int32(c.server.sessions.count()))
		logger.Info("Session %d (%s) closed", c.session.clientID, c.session.username)
	}
	c.conn.Close()
	c.server.connClosed(1)
}

// dispatch routes one packet to its handler and records the request metric.
func (c *clientConn) dispatch(pkt *sft.Packet) loopAction {
	if !c.limiter.Allow() {
		logger.Debug("Rate limit exceeded on conn %d", c.conn.ID())
		c.sendFail(pkt.Header.ReqID, "rate limit exceeded")
		c.server.metrics.RecordRequest(pkt.Header.Cmd.String(), 0, "fail")
		return actionContinue
	}

	start := time.Now()
	outcome, action := c.handle(pkt)
	c.server.metrics.RecordRequest(pkt.Header.Cmd.String(), time.Since(start), outcome)
	return action
}

func (c *clientConn) handle(pkt *sft.Packet) (string, loopAction) {
	switch pkt.Header.Cmd {
	case sft.CmdClientHello:
		return c.handleClientHello(pkt)
	case sft.CmdLogin:
		return c.handleLogin(pkt)
	case sft.CmdAuth:
		return c.handleAuth(pkt)
	case sft.CmdList:
		return c.handleList(pkt)
	case sft.CmdUpload:
		return c.handleUpload(pkt)
	case sft.CmdDownload:
		return c.handleDownload(pkt)
	case sft.CmdBye:
		return c.handleBye(pkt)
	case sft.CmdReset:
		logger.Debug("Reset from %s, dropping connection", c.conn.RemoteAddr())
		return "ok", actionClose
	default:
		logger.Debug("Unsupported command %s from %s", pkt.Header.Cmd, c.conn.RemoteAddr())
		c.sendFail(pkt.Header.ReqID, "unsupported command")
		return "fail", actionContinue
	}
}

// sendFail writes a Fail reply. Write errors surface on the next read.
func (c *clientConn) sendFail(reqID uint16, message string) {
	var clientID uint16
	if c.session != nil {
		clientID = c.session.clientID
	}
	body, err := sft.MarshalPayload(&sft.FailPayload{Message: message})
	if err != nil {
		logger.Error("Failed to encode Fail payload: %v", err)
		return
	}
	if err := c.conn.WritePacket(sft.NewPacket(sft.CmdFail, clientID, reqID, body)); err != nil {
		logger.Debug("Failed to send Fail on conn %d: %v", c.conn.ID(), err)
	}
}

// sendReject writes a Reject reply for a failed Login or Auth.
func (c *clientConn) sendReject(reqID uint16, message string) {
	body, err := sft.MarshalPayload(&sft.RejectPayload{Message: message})
	if err != nil {
		logger.Error("Failed to encode Reject payload: %v", err)
		return
	}
	if err := c.conn.WritePacket(sft.NewPacket(sft.CmdReject, 0, reqID, body)); err != nil {
		logger.Debug("Failed to send Reject on conn %d: %v", c.conn.ID(), err)
	}
}

// remoteIP extracts the bare host from the connection's remote address.
func (c *clientConn) remoteIP() string {
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String()
	}
	return host
}
