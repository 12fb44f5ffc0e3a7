package server

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wentianbu/sft/internal/logger"
	"github.com/wentianbu/sft/internal/protocol/sft"
	"github.com/wentianbu/sft/internal/transfer"
	"github.com/wentianbu/sft/pkg/auth"
)

func (c *clientConn) handleClientHello(pkt *sft.Packet) (string, loopAction) {
	if hello, err := sft.DecodeClientHello(pkt.Body); err == nil {
		logger.Debug("ClientHello from %s: %q", c.conn.RemoteAddr(), hello.Message)
	}

	body, err := sft.MarshalPayload(&sft.ServerHelloPayload{
		Banner:   c.server.cfg.Banner,
		ClientIP: c.remoteIP(),
	})
	if err != nil {
		logger.Error("Failed to encode ServerHello: %v", err)
		return "fail", actionClose
	}
	if err := c.conn.WritePacket(sft.NewPacket(sft.CmdServerHello, 0, pkt.Header.ReqID, body)); err != nil {
		return "fail", actionClose
	}
	return "ok", actionContinue
}

func (c *clientConn) handleLogin(pkt *sft.Packet) (string, loopAction) {
	if c.session != nil {
		c.sendFail(pkt.Header.ReqID, "already logged in")
		return "fail", actionContinue
	}

	login, err := sft.DecodeLogin(pkt.Body)
	if err != nil {
		logger.Debug("Malformed Login from %s: %v", c.conn.RemoteAddr(), err)
		c.sendReject(pkt.Header.ReqID, "malformed login request")
		return "reject", actionContinue
	}

	if !c.server.creds.Verify(login.Username, login.Password) {
		logger.Info("Login rejected for %q from %s", login.Username, c.remoteIP())
		c.sendReject(pkt.Header.ReqID, "incorrect username or password")
		return "reject", actionContinue
	}

	token, err := auth.NewToken()
	if err != nil {
		logger.Error("Failed to generate token: %v", err)
		c.sendFail(pkt.Header.ReqID, "internal server error")
		return "fail", actionContinue
	}

	session := c.server.sessions.register(login.Username, token, c.remoteIP(), c.conn)
	c.conn.MarkControl()
	c.conn.MarkAuthenticated()
	c.session = session

	welcome := &sft.WelcomePayload{
		ClientID: session.clientID,
		Token:    token,
		Message:  "login success",
	}
	if c.server.lastLogin != nil {
		previous, err := c.server.lastLogin.RecordLogin(login.Username, c.remoteIP(), time.Now())
		if err != nil {
			logger.Warn("Failed to record last login for %q: %v", login.Username, err)
		} else if previous != nil {
			welcome.LastLoginTime = previous.Time
			welcome.LastLoginIP = previous.IP
		}
	}

	body, err := sft.MarshalPayload(welcome)
	if err != nil {
		logger.Error("Failed to encode Welcome: %v", err)
		return "fail", actionClose
	}
	if err := c.conn.WritePacket(sft.NewPacket(sft.CmdWelcome, session.clientID, pkt.Header.ReqID, body)); err != nil {
		return "fail", actionClose
	}

	c.server.metrics.SetActiveSessions(int32(c.server.sessions.count()))
	logger.Info("User %q logged in from %s as client %d", login.Username, c.remoteIP(), session.clientID)
	return "ok", actionContinue
}

func (c *clientConn) handleAuth(pkt *sft.Packet) (string, loopAction) {
	if c.session != nil {
		c.sendFail(pkt.Header.ReqID, "connection already bound")
		return "fail", actionContinue
	}

	authReq, err := sft.DecodeAuth(pkt.Body)
	if err != nil {
		logger.Debug("Malformed Auth from %s: %v", c.conn.RemoteAddr(), err)
		c.sendReject(pkt.Header.ReqID, "malformed auth request")
		return "reject", actionContinue
	}

	// A failed lookup and a bad token get the same reply, so probing for
	// live client ids learns nothing.
	session, ok := c.server.sessions.get(pkt.Header.ClientID)
	if !ok || !session.checkToken(authReq.Token) {
		logger.Info("Auth rejected for client %d from %s", pkt.Header.ClientID, c.remoteIP())
		c.sendReject(pkt.Header.ReqID, "authentication failed")
		return "reject", actionContinue
	}

	c.conn.MarkAuthenticated()
	session.addDataConn(authReq.ConnID, c.conn)
	c.session = session

	body, err := sft.MarshalPayload(&sft.WelcomePayload{
		ClientID: session.clientID,
		Token:    session.token,
		Message:  "auth success",
	})
	if err != nil {
		logger.Error("Failed to encode Welcome: %v", err)
		return "fail", actionClose
	}
	if err := c.conn.WritePacket(sft.NewPacket(sft.CmdWelcome, session.clientID, pkt.Header.ReqID, body)); err != nil {
		return "fail", actionClose
	}

	logger.Debug("Data connection %d bound to client %d as id %d",
		c.conn.ID(), session.clientID, authReq.ConnID)
	return "ok", actionContinue
}

func (c *clientConn) handleList(pkt *sft.Packet) (string, loopAction) {
	if outcome, ok := c.requireSession(pkt); !ok {
		return outcome, actionContinue
	}

	list, err := sft.DecodeList(pkt.Body)
	if err != nil {
		c.sendFail(pkt.Header.ReqID, "malformed list request")
		return "fail", actionContinue
	}

	dir := c.resolvePath(list.Path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Debug("List %q failed: %v", list.Path, err)
		c.sendFail(pkt.Header.ReqID, fmt.Sprintf("cannot list %q", list.Path))
		return "fail", actionContinue
	}

	meta := &sft.MetaPayload{Path: list.Path}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if entry.IsDir() {
			meta.Dirs = append(meta.Dirs, sft.DirEntry{
				Name:      entry.Name(),
				LastWrite: info.ModTime(),
			})
		} else {
			meta.Files = append(meta.Files, sft.FileEntry{
				Name:      entry.Name(),
				Size:      info.Size(),
				LastWrite: info.ModTime(),
				ReadOnly:  info.Mode().Perm()&0200 == 0,
			})
		}
	}

	body, err := sft.MarshalPayload(meta)
	if err != nil {
		logger.Error("Failed to encode Meta: %v", err)
		c.sendFail(pkt.Header.ReqID, "internal server error")
		return "fail", actionContinue
	}
	if len(body) > sft.MaxBodyLen {
		logger.Warn("Listing of %q is %d bytes, over the frame limit", list.Path, len(body))
		c.sendFail(pkt.Header.ReqID, fmt.Sprintf("listing of %q is too large for one reply", list.Path))
		return "fail", actionContinue
	}
	if err := c.conn.WritePacket(sft.NewPacket(sft.CmdMeta, c.session.clientID, pkt.Header.ReqID, body)); err != nil {
		return "fail", actionClose
	}
	return "ok", actionContinue
}

// handleUpload runs an upload inline on the data connection the request
// arrived on. The server is the receiving side of the stream.
func (c *clientConn) handleUpload(pkt *sft.Packet) (string, loopAction) {
	if outcome, ok := c.requireSession(pkt); !ok {
		return outcome, actionContinue
	}

	req, err := sft.DecodeTransferRequest(pkt.Body)
	if err != nil {
		c.sendFail(pkt.Header.ReqID, "malformed upload request")
		return "fail", actionContinue
	}

	if !c.acquireForTransfer(pkt.Header.ReqID, req.ConnID) {
		return "fail", actionContinue
	}

	path := c.resolvePath(req.Path)
	var file *os.File
	if req.StartOffset > 0 {
		// Resume: the partial file must already exist.
		file, err = os.OpenFile(path, os.O_WRONLY, 0)
	} else {
		file, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	}
	if err != nil {
		c.conn.Release()
		logger.Debug("Upload open %q failed: %v", req.Path, err)
		c.sendFail(pkt.Header.ReqID, fmt.Sprintf("cannot open %q for writing", req.Path))
		return "fail", actionContinue
	}

	if err := c.conn.WritePacket(sft.NewPacket(sft.CmdOK, c.session.clientID, pkt.Header.ReqID, nil)); err != nil {
		c.conn.Release()
		file.Close()
		return "fail", actionClose
	}

	task := transfer.New(transfer.Receiver, c.session.clientID, pkt.Header.ReqID,
		c.conn, file, 0, req.StartOffset, c.transferDone("upload"))
	logger.Info("Upload of %q started for client %d (task %s)", req.Path, c.session.clientID, task.ID)
	if err := task.Run(); err != nil {
		return "fail", actionClose
	}
	return "ok", actionContinue
}

// handleDownload runs a download inline on the data connection the request
// arrived on. The server is the sending side of the stream.
func (c *clientConn) handleDownload(pkt *sft.Packet) (string, loopAction) {
	if outcome, ok := c.requireSession(pkt); !ok {
		return outcome, actionContinue
	}

	req, err := sft.DecodeTransferRequest(pkt.Body)
	if err != nil {
		c.sendFail(pkt.Header.ReqID, "malformed download request")
		return "fail", actionContinue
	}

	if !c.acquireForTransfer(pkt.Header.ReqID, req.ConnID) {
		return "fail", actionContinue
	}

	path := c.resolvePath(req.Path)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		c.conn.Release()
		logger.Debug("Download stat %q failed: %v", req.Path, err)
		c.sendFail(pkt.Header.ReqID, fmt.Sprintf("no such file %q", req.Path))
		return "fail", actionContinue
	}
	if req.StartOffset < 0 || req.StartOffset > info.Size() {
		c.conn.Release()
		c.sendFail(pkt.Header.ReqID, "start offset out of range")
		return "fail", actionContinue
	}

	file, err := os.Open(path)
	if err != nil {
		c.conn.Release()
		c.sendFail(pkt.Header.ReqID, fmt.Sprintf("cannot open %q", req.Path))
		return "fail", actionContinue
	}

	if err := c.conn.WritePacket(sft.NewPacket(sft.CmdOK, c.session.clientID, pkt.Header.ReqID, nil)); err != nil {
		c.conn.Release()
		file.Close()
		return "fail", actionClose
	}

	task := transfer.New(transfer.Sender, c.session.clientID, pkt.Header.ReqID,
		c.conn, file, info.Size(), req.StartOffset, c.transferDone("download"))
	logger.Info("Download of %q started for client %d (task %s)", req.Path, c.session.clientID, task.ID)
	if err := task.Run(); err != nil {
		return "fail", actionClose
	}
	return "ok", actionContinue
}

func (c *clientConn) handleBye(pkt *sft.Packet) (string, loopAction) {
	logger.Debug("Bye from %s", c.conn.RemoteAddr())
	if err := c.conn.SendBye(pkt.Header.ClientID, pkt.Header.ReqID); err != nil {
		logger.Debug("Failed to echo Bye on conn %d: %v", c.conn.ID(), err)
	}
	return "ok", actionClose
}

// requireSession enforces that the packet arrived on an authenticated
// connection carrying the session's client id.
func (c *clientConn) requireSession(pkt *sft.Packet) (string, bool) {
	if !c.conn.CheckAuthStatus(pkt.Header.ReqID) {
		return "unauth", false
	}
	if c.session == nil || pkt.Header.ClientID != c.session.clientID {
		c.sendFail(pkt.Header.ReqID, "unknown client id")
		return "fail", false
	}
	return "ok", true
}

// acquireForTransfer checks the named data connection is the one the
// request arrived on and acquires it exclusively, sending Fail otherwise.
// Transfer requests on the control connection fail here: it is never in the
// session's data map.
func (c *clientConn) acquireForTransfer(reqID, connID uint16) bool {
	named, ok := c.session.dataConn(connID)
	if !ok || named != c.conn {
		c.sendFail(reqID, fmt.Sprintf("invalid data connection %d", connID))
		return false
	}
	if !c.conn.TryAcquire() {
		c.sendFail(reqID, fmt.Sprintf("data connection %d is busy", connID))
		return false
	}
	return true
}

// resolvePath maps a client path onto the served root. Cleaning an absolute
// form of the request first keeps ".." segments from escaping the root.
func (c *clientConn) resolvePath(remote string) string {
	return filepath.Join(c.server.cfg.RootDir, filepath.Clean("/"+remote))
}

func (c *clientConn) transferDone(direction string) transfer.DoneFunc {
	return func(t *transfer.Task, err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.server.metrics.RecordTransfer(direction, outcome)
		c.server.metrics.RecordBytesTransferred(direction, t.BytesMoved())
	}
}
