package sft

import (
	"bytes"
	"fmt"
	"time"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Payload structures, one per command type that carries a body. Bodies are
// XDR-encoded records; DataTrans bodies are raw file bytes and bypass this
// file entirely.

// ClientHelloPayload is the optional client greeting.
type ClientHelloPayload struct {
	Message    string
	ClientTime time.Time
}

// ServerHelloPayload is the server banner, carrying the client address as
// observed by the server.
type ServerHelloPayload struct {
	Banner   string
	ClientIP string
}

// LoginPayload carries credentials on the control connection.
type LoginPayload struct {
	Username string
	Password string
}

// AuthPayload authenticates an additional data connection. ConnID is the
// client-chosen identifier the session will use to name this connection.
type AuthPayload struct {
	Token  string
	ConnID uint16
}

// WelcomePayload acknowledges a successful Login or Auth. LastLoginTime and
// LastLoginIP describe the previous successful login, when known.
type WelcomePayload struct {
	ClientID      uint16
	Token         string
	LastLoginTime time.Time
	LastLoginIP   string
	Message       string
}

// RejectPayload reports a failed Login or Auth.
type RejectPayload struct {
	Message string
}

// ListPayload names the directory to enumerate. Path always starts with "/"
// and is relative to the served root.
type ListPayload struct {
	Path string
}

// DirEntry describes one subdirectory in a Meta listing.
type DirEntry struct {
	Name      string
	LastWrite time.Time
}

// FileEntry describes one file in a Meta listing.
type FileEntry struct {
	Name      string
	Size      int64
	LastWrite time.Time
	ReadOnly  bool
}

// MetaPayload is the result of a List request.
type MetaPayload struct {
	Path  string
	Dirs  []DirEntry
	Files []FileEntry
}

// FailPayload reports an application-level request failure.
type FailPayload struct {
	Message string
}

// TransferRequestPayload initiates an Upload or Download. ConnID names the
// data connection the transfer will run on, as registered by Auth.
type TransferRequestPayload struct {
	Path        string
	StartOffset int64
	ConnID      uint16
}

// StartTransPayload opens the byte-streaming sub-protocol.
type StartTransPayload struct {
	Length      int64
	StartOffset int64
}

// MarshalPayload encodes a payload record into its body bytes.
func MarshalPayload(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshalPayload(body []byte, v any) error {
	if body == nil {
		return fmt.Errorf("missing payload")
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(body), v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// Typed decoders. Handlers decode at the dispatch boundary with the decoder
// matching the command type; there is no generic decode-as-anything path.

func DecodeClientHello(body []byte) (*ClientHelloPayload, error) {
	p := &ClientHelloPayload{}
	if err := unmarshalPayload(body, p); err != nil {
		return nil, err
	}
	return p, nil
}

func DecodeServerHello(body []byte) (*ServerHelloPayload, error) {
	p := &ServerHelloPayload{}
	if err := unmarshalPayload(body, p); err != nil {
		return nil, err
	}
	return p, nil
}

func DecodeLogin(body []byte) (*LoginPayload, error) {
	p := &LoginPayload{}
	if err := unmarshalPayload(body, p); err != nil {
		return nil, err
	}
	return p, nil
}

func DecodeAuth(body []byte) (*AuthPayload, error) {
	p := &AuthPayload{}
	if err := unmarshalPayload(body, p); err != nil {
		return nil, err
	}
	return p, nil
}

func DecodeWelcome(body []byte) (*WelcomePayload, error) {
	p := &WelcomePayload{}
	if err := unmarshalPayload(body, p); err != nil {
		return nil, err
	}
	return p, nil
}

func DecodeReject(body []byte) (*RejectPayload, error) {
	p := &RejectPayload{}
	if err := unmarshalPayload(body, p); err != nil {
		return nil, err
	}
	return p, nil
}

func DecodeList(body []byte) (*ListPayload, error) {
	p := &ListPayload{}
	if err := unmarshalPayload(body, p); err != nil {
		return nil, err
	}
	return p, nil
}

func DecodeMeta(body []byte) (*MetaPayload, error) {
	p := &MetaPayload{}
	if err := unmarshalPayload(body, p); err != nil {
		return nil, err
	}
	return p, nil
}

func DecodeFail(body []byte) (*FailPayload, error) {
	p := &FailPayload{}
	if err := unmarshalPayload(body, p); err != nil {
		return nil, err
	}
	return p, nil
}

func DecodeTransferRequest(body []byte) (*TransferRequestPayload, error) {
	p := &TransferRequestPayload{}
	if err := unmarshalPayload(body, p); err != nil {
		return nil, err
	}
	return p, nil
}

func DecodeStartTrans(body []byte) (*StartTransPayload, error) {
	p := &StartTransPayload{}
	if err := unmarshalPayload(body, p); err != nil {
		return nil, err
	}
	return p, nil
}
