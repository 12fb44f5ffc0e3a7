package client

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/wentianbu/sft/internal/logger"
	"github.com/wentianbu/sft/internal/protocol/sft"
	"github.com/wentianbu/sft/internal/transfer"
)

// Login opens the control connection and authenticates the session. It
// returns false with a nil error when the server rejects the credentials;
// any other failure is an error.
func (c *Client) Login(ctx context.Context, username, password string) (bool, error) {
	c.reqMu.Lock()
	if c.control == nil {
		conn, err := c.newConn(ctx)
		if err != nil {
			c.reqMu.Unlock()
			return false, err
		}
		c.control = conn
		conn.MarkControl()
	}
	c.reqMu.Unlock()

	helloBody, err := sft.MarshalPayload(&sft.ClientHelloPayload{
		Message:    "hello server",
		ClientTime: time.Now(),
	})
	if err != nil {
		return false, err
	}
	reply, err := c.roundTrip(sft.NewPacket(sft.CmdClientHello, 0, c.reqID(), helloBody))
	if err != nil {
		return false, err
	}
	if reply.Header.Cmd != sft.CmdServerHello {
		return false, &sft.UnexpectedResponseError{Packet: reply}
	}
	if hello, err := sft.DecodeServerHello(reply.Body); err == nil {
		logger.Debug("Server banner: %q (we are %s)", hello.Banner, hello.ClientIP)
	}

	loginBody, err := sft.MarshalPayload(&sft.LoginPayload{Username: username, Password: password})
	if err != nil {
		return false, err
	}
	reply, err = c.roundTrip(sft.NewPacket(sft.CmdLogin, 0, c.reqID(), loginBody))
	if err != nil {
		return false, err
	}

	switch reply.Header.Cmd {
	case sft.CmdWelcome:
		welcome, err := sft.DecodeWelcome(reply.Body)
		if err != nil {
			return false, err
		}
		c.mu.Lock()
		c.clientID = welcome.ClientID
		c.token = welcome.Token
		c.loggedIn = true
		c.mu.Unlock()
		if !welcome.LastLoginTime.IsZero() {
			logger.Info("Last login at %s from %s",
				welcome.LastLoginTime.Format(time.RFC3339), welcome.LastLoginIP)
		}
		logger.Debug("Logged in as client %d", welcome.ClientID)
		return true, nil
	case sft.CmdReject:
		if reject, derr := sft.DecodeReject(reply.Body); derr == nil {
			logger.Info("Login rejected: %s", reject.Message)
		}
		return false, nil
	default:
		return false, &sft.UnexpectedResponseError{Packet: reply}
	}
}

// List enumerates a remote directory. The path is interpreted relative to
// the server's served root.
func (c *Client) List(path string) (*sft.MetaPayload, error) {
	clientID, _, loggedIn := c.session()
	if !loggedIn {
		return nil, ErrNotLoggedIn
	}

	body, err := sft.MarshalPayload(&sft.ListPayload{Path: path})
	if err != nil {
		return nil, err
	}
	reply, err := c.roundTrip(sft.NewPacket(sft.CmdList, clientID, c.reqID(), body))
	if err != nil {
		return nil, err
	}

	switch reply.Header.Cmd {
	case sft.CmdMeta:
		return sft.DecodeMeta(reply.Body)
	case sft.CmdFail:
		return nil, failToError(reply)
	case sft.CmdUnAuth:
		return nil, ErrNotAuthenticated
	default:
		return nil, &sft.UnexpectedResponseError{Packet: reply}
	}
}

// Upload copies a local file to the server, blocking until the transfer
// completes. A non-zero startOffset resumes a previous partial upload.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string, startOffset int64) error {
	task, err := c.UploadTask(ctx, localPath, remotePath, startOffset)
	if err != nil {
		return err
	}
	return task.Run()
}

// UploadTask negotiates an upload and returns the ready-to-run transfer
// task. Callers that need pause and resume run the task themselves and keep
// the handle.
func (c *Client) UploadTask(ctx context.Context, localPath, remotePath string, startOffset int64) (*transfer.Task, error) {
	clientID, _, loggedIn := c.session()
	if !loggedIn {
		return nil, ErrNotLoggedIn
	}

	file, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open local file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat local file: %w", err)
	}
	if startOffset < 0 || startOffset > info.Size() {
		file.Close()
		return nil, fmt.Errorf("start offset %d out of range [0, %d]", startOffset, info.Size())
	}

	dataConn, reqID, err := c.negotiateTransfer(ctx, sft.CmdUpload, clientID, remotePath, startOffset)
	if err != nil {
		file.Close()
		return nil, err
	}

	return transfer.New(transfer.Sender, clientID, reqID,
		dataConn, file, info.Size(), startOffset, c.taskDone), nil
}

// Download copies a remote file into localPath, blocking until the transfer
// completes. A non-zero startOffset resumes into an existing partial file.
func (c *Client) Download(ctx context.Context, localPath, remotePath string, startOffset int64) error {
	task, err := c.DownloadTask(ctx, localPath, remotePath, startOffset)
	if err != nil {
		return err
	}
	return task.Run()
}

// DownloadTask negotiates a download and returns the ready-to-run transfer
// task.
func (c *Client) DownloadTask(ctx context.Context, localPath, remotePath string, startOffset int64) (*transfer.Task, error) {
	clientID, _, loggedIn := c.session()
	if !loggedIn {
		return nil, ErrNotLoggedIn
	}

	var file *os.File
	var err error
	if startOffset > 0 {
		// Resume: the partial file must already exist.
		file, err = os.OpenFile(localPath, os.O_WRONLY, 0)
	} else {
		file, err = os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	}
	if err != nil {
		return nil, fmt.Errorf("open local file: %w", err)
	}

	dataConn, reqID, err := c.negotiateTransfer(ctx, sft.CmdDownload, clientID, remotePath, startOffset)
	if err != nil {
		file.Close()
		return nil, err
	}

	return transfer.New(transfer.Receiver, clientID, reqID,
		dataConn, file, 0, startOffset, c.taskDone), nil
}

// taskDone retires the data connection of a failed transfer. The underlying
// stream may still carry half a transfer, so it is closed and evicted rather
// than returned to the pool; successful tasks just release their connection.
func (c *Client) taskDone(t *transfer.Task, err error) {
	if err != nil {
		c.evictDataConnection(t.Conn())
	}
}

// negotiateTransfer acquires a data connection and asks the server to run a
// transfer on it. The request goes out on the data connection itself; the
// server's worker for that connection answers OK and then runs the stream
// inline. On success the acquired connection and the request id of the
// exchange are returned; the transfer stream reuses both.
func (c *Client) negotiateTransfer(ctx context.Context, cmd sft.CmdType, clientID uint16, remotePath string, startOffset int64) (*sft.Conn, uint16, error) {
	dataConn, err := c.getIdleDataConnection(ctx)
	if err != nil {
		return nil, 0, err
	}

	body, err := sft.MarshalPayload(&sft.TransferRequestPayload{
		Path:        remotePath,
		StartOffset: startOffset,
		ConnID:      dataConn.ID(),
	})
	if err != nil {
		dataConn.Release()
		return nil, 0, err
	}

	reqID := c.reqID()
	if err := dataConn.WritePacket(sft.NewPacket(cmd, clientID, reqID, body)); err != nil {
		dataConn.Release()
		c.evictDataConnection(dataConn)
		return nil, 0, err
	}
	reply, err := dataConn.ReadPacket()
	if err != nil {
		dataConn.Release()
		c.evictDataConnection(dataConn)
		return nil, 0, err
	}

	switch reply.Header.Cmd {
	case sft.CmdOK:
		return dataConn, reqID, nil
	case sft.CmdFail:
		dataConn.Release()
		return nil, 0, failToError(reply)
	case sft.CmdUnAuth:
		dataConn.Release()
		return nil, 0, ErrNotAuthenticated
	default:
		// The stream state is unknowable after an out-of-protocol reply.
		dataConn.Release()
		c.evictDataConnection(dataConn)
		return nil, 0, &sft.UnexpectedResponseError{Packet: reply}
	}
}

// Bye ends the session gracefully and drops every connection.
func (c *Client) Bye() error {
	clientID, _, loggedIn := c.session()

	c.reqMu.Lock()
	var err error
	if c.control != nil && loggedIn {
		err = c.control.SendBye(clientID, 0)
	}
	c.reqMu.Unlock()

	c.Close()
	return err
}

func failToError(reply *sft.Packet) error {
	fail, err := sft.DecodeFail(reply.Body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return &sft.RemoteError{Cmd: sft.CmdFail, Message: fail.Message}
}
