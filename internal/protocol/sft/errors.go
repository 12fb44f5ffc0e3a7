package sft

import (
	"errors"
	"fmt"
)

// ErrFraming indicates the byte stream violated the packet framing rules
// (bad leading byte, stream closed mid-packet, header/body length mismatch).
var ErrFraming = errors.New("sft: framing error")

// ErrConnClosed indicates an operation on a connection that has been
// invalidated by a previous I/O failure or an explicit Close.
var ErrConnClosed = errors.New("sft: connection closed")

// RemoteError is an application-level failure reported by the peer through a
// Fail or Reject packet. It is an expected, recoverable outcome of a request,
// not a transport fault.
type RemoteError struct {
	Cmd     CmdType // CmdFail or CmdReject
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("sft: remote %s: %s", e.Cmd, e.Message)
}

// UnexpectedResponseError reports a packet whose command type is not valid in
// the current protocol state. The offending packet is carried so callers can
// decide next steps; the connection is expected to be abandoned.
type UnexpectedResponseError struct {
	Packet *Packet
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("sft: unexpected response %s", e.Packet.Header.Cmd)
}

// IsRemote reports whether err is an application-level RemoteError and, if
// so, returns it.
func IsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
