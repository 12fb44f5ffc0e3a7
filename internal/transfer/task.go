// Package transfer implements the byte-streaming sub-protocol that moves
// file content over a bound data connection: StartTrans, a run of fixed-size
// DataTrans chunks, then FinishTrans.
//
// One Task is one run of the sub-protocol in a fixed role. The side producing
// file bytes is the sender (the client for uploads, the server for
// downloads); the other side is the receiver. The bound data connection is
// exclusively owned by the task for its duration and is marked idle again on
// completion or failure.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/wentianbu/sft/internal/logger"
	"github.com/wentianbu/sft/internal/protocol/sft"
)

// ChunkSize is the fixed DataTrans chunk size.
const ChunkSize = 4096

// Role selects which half of the sub-protocol the task runs.
type Role int

const (
	// Sender streams local file bytes to the peer.
	Sender Role = iota
	// Receiver writes streamed bytes into the local file.
	Receiver
)

func (r Role) String() string {
	if r == Sender {
		return "sender"
	}
	return "receiver"
}

// ErrTaskFailed marks a transfer that did not run to completion.
var ErrTaskFailed = errors.New("transfer: task failed")

// DoneFunc is invoked exactly once when the task finishes, after the data
// connection has been released. The error is nil on success.
type DoneFunc func(t *Task, err error)

// Task is one in-flight transfer. Construct with New, then call Run from the
// single goroutine that owns it.
type Task struct {
	// ID identifies the task in logs and metrics.
	ID string

	role     Role
	clientID uint16
	reqID    uint16
	conn     *sft.Conn
	file     *os.File

	// length is the total file length (sender only; the receiver learns it
	// from StartTrans). offset is where streaming starts.
	length int64
	offset int64

	gate   *Gate
	onDone DoneFunc

	// bytesMoved counts payload bytes sent or received.
	bytesMoved int64
}

// New builds a transfer task bound to an already-authenticated data
// connection. The file handle is owned by the task and closed when it
// finishes. For senders, length must be the file's total size.
func New(role Role, clientID, reqID uint16, conn *sft.Conn, file *os.File, length, offset int64, onDone DoneFunc) *Task {
	return &Task{
		ID:       uuid.New().String(),
		role:     role,
		clientID: clientID,
		reqID:    reqID,
		conn:     conn,
		file:     file,
		length:   length,
		offset:   offset,
		gate:     NewGate(),
		onDone:   onDone,
	}
}

// Pause closes the pause gate; the streaming loop blocks before the next
// chunk.
func (t *Task) Pause() { t.gate.Pause() }

// Resume reopens the pause gate.
func (t *Task) Resume() { t.gate.Resume() }

// BytesMoved returns the number of payload bytes transferred so far.
func (t *Task) BytesMoved() int64 { return t.bytesMoved }

// Conn returns the data connection the task is bound to. Completion
// callbacks use it to retire a connection the transfer invalidated.
func (t *Task) Conn() *sft.Conn { return t.conn }

// Run executes the sub-protocol synchronously to completion. The bound
// connection is released and the local file closed before Run returns,
// whether the transfer succeeded or failed.
func (t *Task) Run() error {
	var err error
	if t.role == Sender {
		err = t.send()
	} else {
		err = t.receive()
	}

	if cerr := t.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close local file: %w", cerr)
	}
	t.conn.Release()

	if err != nil {
		logger.Debug("Transfer task %s (%s) failed: %v", t.ID, t.role, err)
	} else {
		logger.Debug("Transfer task %s (%s) finished, %d bytes", t.ID, t.role, t.bytesMoved)
	}

	if t.onDone != nil {
		t.onDone(t, err)
	}
	return err
}

// send streams the local file from the start offset: StartTrans, wait for
// OK, then ChunkSize DataTrans packets until EOF, then FinishTrans.
func (t *Task) send() error {
	if t.offset < 0 || t.offset > t.length {
		return fmt.Errorf("%w: start offset %d out of range [0, %d]", ErrTaskFailed, t.offset, t.length)
	}

	body, err := sft.MarshalPayload(&sft.StartTransPayload{Length: t.length, StartOffset: t.offset})
	if err != nil {
		return err
	}
	if err := t.conn.WritePacket(sft.NewPacket(sft.CmdStartTrans, t.clientID, t.reqID, body)); err != nil {
		return err
	}

	reply, err := t.conn.ReadPacket()
	if err != nil {
		return err
	}
	if reply.Header.Cmd == sft.CmdReset {
		// A peer Reset closes without a reply.
		_ = t.conn.Close()
		return fmt.Errorf("%w: transfer reset by peer", ErrTaskFailed)
	}
	if reply.Header.Cmd != sft.CmdOK {
		t.conn.SendReset(t.clientID, t.reqID)
		return fmt.Errorf("%w: StartTrans got %s instead of OK", ErrTaskFailed, reply.Header.Cmd)
	}

	if _, err := t.file.Seek(t.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to %d: %w", t.offset, err)
	}

	buf := make([]byte, ChunkSize)
	for {
		t.gate.Wait()

		n, err := t.file.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if werr := t.conn.WritePacket(sft.NewPacket(sft.CmdDataTrans, t.clientID, t.reqID, chunk)); werr != nil {
				return werr
			}
			t.bytesMoved += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read local file: %w", err)
		}
	}

	return t.conn.WritePacket(sft.NewPacket(sft.CmdFinishTrans, t.clientID, t.reqID, nil))
}

// receive waits for StartTrans, validates the offset against the local file,
// replies OK, then writes DataTrans chunks until FinishTrans.
func (t *Task) receive() error {
	pkt, err := t.conn.ReadPacket()
	if err != nil {
		return err
	}
	if pkt.Header.Cmd == sft.CmdReset {
		_ = t.conn.Close()
		return fmt.Errorf("%w: transfer reset by peer", ErrTaskFailed)
	}
	if pkt.Header.Cmd != sft.CmdStartTrans {
		t.conn.SendReset(t.clientID, t.reqID)
		return fmt.Errorf("%w: expected StartTrans, got %s", ErrTaskFailed, pkt.Header.Cmd)
	}

	start, err := sft.DecodeStartTrans(pkt.Body)
	if err != nil {
		t.conn.SendReset(t.clientID, t.reqID)
		return fmt.Errorf("%w: bad StartTrans packet: %v", ErrTaskFailed, err)
	}

	info, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("stat local file: %w", err)
	}
	if start.StartOffset < 0 || start.StartOffset > info.Size() {
		t.conn.SendReset(t.clientID, t.reqID)
		return fmt.Errorf("%w: start offset %d out of range [0, %d]", ErrTaskFailed, start.StartOffset, info.Size())
	}
	t.length = start.Length
	t.offset = start.StartOffset

	if _, err := t.file.Seek(t.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to %d: %w", t.offset, err)
	}

	if err := t.conn.WritePacket(sft.NewPacket(sft.CmdOK, t.clientID, t.reqID, nil)); err != nil {
		return err
	}

	for {
		t.gate.Wait()

		pkt, err := t.conn.ReadPacket()
		if err != nil {
			return err
		}
		switch pkt.Header.Cmd {
		case sft.CmdDataTrans:
			if len(pkt.Body) == 0 {
				return fmt.Errorf("%w: empty DataTrans chunk", ErrTaskFailed)
			}
			if _, err := t.file.Write(pkt.Body); err != nil {
				return fmt.Errorf("write local file: %w", err)
			}
			t.bytesMoved += int64(len(pkt.Body))
		case sft.CmdFinishTrans:
			return nil
		case sft.CmdReset:
			_ = t.conn.Close()
			return fmt.Errorf("%w: transfer reset by peer", ErrTaskFailed)
		default:
			t.conn.SendReset(t.clientID, t.reqID)
			_ = t.conn.Close()
			return fmt.Errorf("%w: expected DataTrans or FinishTrans, got %s", ErrTaskFailed, pkt.Header.Cmd)
		}
	}
}
