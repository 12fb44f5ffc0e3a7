package transfer

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wentianbu/sft/internal/protocol/sft"
)

// makeContent builds a deterministic byte pattern long enough to span
// several chunks.
func makeContent(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}

// transferPair wires a sender and a receiver task back to back over an
// in-memory pipe. dstPrefix pre-populates the receiving file, as a resumed
// transfer would find it.
func transferPair(t *testing.T, content []byte, offset int64, dstPrefix []byte) (*Task, *Task, string) {
	t.Helper()
	dir := t.TempDir()

	srcPath := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(srcPath, content, 0644))
	srcFile, err := os.Open(srcPath)
	require.NoError(t, err)

	dstPath := filepath.Join(dir, "dst.bin")
	require.NoError(t, os.WriteFile(dstPath, dstPrefix, 0644))
	dstFile, err := os.OpenFile(dstPath, os.O_WRONLY, 0)
	require.NoError(t, err)

	a, b := net.Pipe()
	connA, connB := sft.NewConn(1, a), sft.NewConn(2, b)
	t.Cleanup(func() {
		connA.Close()
		connB.Close()
	})

	sender := New(Sender, 77, 5, connA, srcFile, int64(len(content)), offset, nil)
	receiver := New(Receiver, 77, 5, connB, dstFile, 0, 0, nil)
	return sender, receiver, dstPath
}

// runBoth runs the two halves concurrently and returns their errors.
func runBoth(sender, receiver *Task) (error, error) {
	var wg sync.WaitGroup
	var sendErr, recvErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		sendErr = sender.Run()
	}()
	go func() {
		defer wg.Done()
		recvErr = receiver.Run()
	}()
	wg.Wait()
	return sendErr, recvErr
}

// TestTransferFidelity moves a multi-chunk file and verifies the bytes
// arrive unchanged.
func TestTransferFidelity(t *testing.T) {
	content := makeContent(3*ChunkSize + 123)
	sender, receiver, dstPath := transferPair(t, content, 0, nil)

	sendErr, recvErr := runBoth(sender, receiver)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, int64(len(content)), sender.BytesMoved())
	assert.Equal(t, int64(len(content)), receiver.BytesMoved())
}

// TestTransferEmptyFile verifies a zero-byte file transfers cleanly: no
// DataTrans packets, just StartTrans/OK/FinishTrans.
func TestTransferEmptyFile(t *testing.T) {
	sender, receiver, dstPath := transferPair(t, nil, 0, nil)

	sendErr, recvErr := runBoth(sender, receiver)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// TestTransferResume restarts a transfer from a mid-file offset and
// verifies only the tail is streamed.
func TestTransferResume(t *testing.T) {
	content := makeContent(2*ChunkSize + 500)
	offset := int64(ChunkSize + 100)

	sender, receiver, dstPath := transferPair(t, content, offset, content[:offset])

	sendErr, recvErr := runBoth(sender, receiver)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	expected := int64(len(content)) - offset
	assert.Equal(t, expected, sender.BytesMoved())
	assert.Equal(t, expected, receiver.BytesMoved())
}

// TestTransferPauseResume pauses the sender before any chunk moves, checks
// nothing completes while paused, then resumes to completion.
func TestTransferPauseResume(t *testing.T) {
	content := makeContent(4 * ChunkSize)
	sender, receiver, dstPath := transferPair(t, content, 0, nil)

	sender.Pause()

	done := make(chan struct{})
	go func() {
		sendErr, recvErr := runBoth(sender, receiver)
		assert.NoError(t, sendErr)
		assert.NoError(t, recvErr)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("transfer completed while paused")
	case <-time.After(100 * time.Millisecond):
	}

	sender.Resume()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer did not complete after resume")
	}

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

// TestSenderOffsetOutOfRange verifies the sender refuses an offset past the
// end of the file before touching the wire.
func TestSenderOffsetOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0644))
	file, err := os.Open(path)
	require.NoError(t, err)

	a, b := net.Pipe()
	conn := sft.NewConn(1, a)
	t.Cleanup(func() {
		conn.Close()
		b.Close()
	})

	task := New(Sender, 1, 1, conn, file, 5, 99, nil)
	err = task.Run()
	require.ErrorIs(t, err, ErrTaskFailed)
}

// TestReceiverRejectsBadOpening verifies the receiver resets when the first
// packet is not StartTrans.
func TestReceiverRejectsBadOpening(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dst.bin")
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	require.NoError(t, err)

	a, b := net.Pipe()
	connA, connB := sft.NewConn(1, a), sft.NewConn(2, b)
	t.Cleanup(func() {
		connA.Close()
		connB.Close()
	})

	task := New(Receiver, 1, 1, connB, file, 0, 0, nil)

	errc := make(chan error, 1)
	go func() { errc <- task.Run() }()

	require.NoError(t, connA.WritePacket(sft.NewPacket(sft.CmdList, 1, 1, nil)))

	// The receiver answers with Reset before failing.
	pkt, err := connA.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, sft.CmdReset, pkt.Header.Cmd)

	require.ErrorIs(t, <-errc, ErrTaskFailed)
}

// TestReceiverResetClosesSilently verifies a peer Reset ends the task
// without a Reset echoed back: the observer closes without replying.
func TestReceiverResetClosesSilently(t *testing.T) {
	dir := t.TempDir()
	file, err := os.OpenFile(filepath.Join(dir, "dst.bin"), os.O_WRONLY|os.O_CREATE, 0644)
	require.NoError(t, err)

	a, b := net.Pipe()
	connA, connB := sft.NewConn(1, a), sft.NewConn(2, b)
	t.Cleanup(func() {
		connA.Close()
		connB.Close()
	})

	task := New(Receiver, 1, 1, connB, file, 0, 0, nil)

	errc := make(chan error, 1)
	go func() { errc <- task.Run() }()

	require.NoError(t, connA.WritePacket(sft.NewPacket(sft.CmdReset, 1, 1, nil)))
	require.ErrorIs(t, <-errc, ErrTaskFailed)

	// No reply comes back: the peer just sees the stream close. Had the
	// receiver echoed a Reset, this read would have returned it.
	_, err = connA.ReadPacket()
	assert.Error(t, err)
}

// TestDoneCallback verifies the completion hook fires with the task result.
func TestDoneCallback(t *testing.T) {
	content := makeContent(100)
	dir := t.TempDir()

	srcPath := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(srcPath, content, 0644))
	srcFile, err := os.Open(srcPath)
	require.NoError(t, err)

	dstFile, err := os.OpenFile(filepath.Join(dir, "dst.bin"), os.O_WRONLY|os.O_CREATE, 0644)
	require.NoError(t, err)

	a, b := net.Pipe()
	connA, connB := sft.NewConn(1, a), sft.NewConn(2, b)
	t.Cleanup(func() {
		connA.Close()
		connB.Close()
	})

	calls := make(chan error, 2)
	done := func(task *Task, err error) { calls <- err }

	sender := New(Sender, 1, 1, connA, srcFile, int64(len(content)), 0, done)
	receiver := New(Receiver, 1, 1, connB, dstFile, 0, 0, done)

	sendErr, recvErr := runBoth(sender, receiver)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	assert.NoError(t, <-calls)
	assert.NoError(t, <-calls)
}
