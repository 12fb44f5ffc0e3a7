// Package sft implements the wire format of the secure file transfer
// protocol: a fixed 8-byte header followed by a command-typed payload.
//
// Header layout (little-endian for multi-byte fields):
//
//	leading(1) | cmdType(1) | clientId(2) | reqId(2) | bodyLen(2)
//
// The body is exactly bodyLen bytes. Its shape is determined by the command
// type alone; the framing layer treats it as opaque.
package sft

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the fixed packet header size in bytes.
const HeaderSize = 8

// MaxBodyLen is the largest body one packet can carry; the header's length
// field is 16 bits. WritePacket refuses anything larger so the header never
// lies about the body size.
const MaxBodyLen = 0xFFFF

// Leading is the marker byte every packet starts with.
const Leading = 0x01

// CmdType identifies the command a packet carries.
type CmdType byte

const (
	// Handshake and session lifecycle.
	CmdClientHello CmdType = 0x01
	CmdServerHello CmdType = 0x02
	CmdLogin       CmdType = 0x03
	CmdAuth        CmdType = 0x04
	CmdWelcome     CmdType = 0x05
	CmdReject      CmdType = 0x06
	CmdBye         CmdType = 0x07
	CmdReset       CmdType = 0x08

	// Directory and file commands.
	CmdList     CmdType = 0x21
	CmdUpload   CmdType = 0x26
	CmdDownload CmdType = 0x27

	// Responses and transfer stream.
	CmdOK          CmdType = 0xA1
	CmdFail        CmdType = 0xA2
	CmdDataTrans   CmdType = 0xA3
	CmdStartTrans  CmdType = 0xA4
	CmdFinishTrans CmdType = 0xA5
	CmdMeta        CmdType = 0xA6
	CmdUnAuth      CmdType = 0xA7
)

func (c CmdType) String() string {
	switch c {
	case CmdClientHello:
		return "ClientHello"
	case CmdServerHello:
		return "ServerHello"
	case CmdLogin:
		return "Login"
	case CmdAuth:
		return "Auth"
	case CmdWelcome:
		return "Welcome"
	case CmdReject:
		return "Reject"
	case CmdBye:
		return "Bye"
	case CmdReset:
		return "Reset"
	case CmdList:
		return "List"
	case CmdUpload:
		return "Upload"
	case CmdDownload:
		return "Download"
	case CmdOK:
		return "OK"
	case CmdFail:
		return "Fail"
	case CmdDataTrans:
		return "DataTrans"
	case CmdStartTrans:
		return "StartTrans"
	case CmdFinishTrans:
		return "FinishTrans"
	case CmdMeta:
		return "Meta"
	case CmdUnAuth:
		return "UnAuth"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", byte(c))
	}
}

// Header is the fixed-size packet header.
type Header struct {
	Cmd      CmdType
	ClientID uint16
	ReqID    uint16
	BodyLen  uint16
}

// Packet is one framed protocol message. Body may be nil for commands that
// carry no payload (OK, Bye, Reset, FinishTrans, UnAuth).
type Packet struct {
	Header Header
	Body   []byte
}

// NewPacket builds a packet for the given command, setting BodyLen from the
// actual body size.
func NewPacket(cmd CmdType, clientID, reqID uint16, body []byte) *Packet {
	return &Packet{
		Header: Header{
			Cmd:      cmd,
			ClientID: clientID,
			ReqID:    reqID,
			BodyLen:  uint16(len(body)),
		},
		Body: body,
	}
}

// Encode serializes the header into its 8-byte wire form.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = Leading
	buf[1] = byte(h.Cmd)
	binary.LittleEndian.PutUint16(buf[2:4], h.ClientID)
	binary.LittleEndian.PutUint16(buf[4:6], h.ReqID)
	binary.LittleEndian.PutUint16(buf[6:8], h.BodyLen)
	return buf
}

// DecodeHeader parses an 8-byte header. The buffer must be exactly HeaderSize
// bytes.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes, want %d", ErrFraming, len(buf), HeaderSize)
	}
	if buf[0] != Leading {
		return Header{}, fmt.Errorf("%w: bad leading byte 0x%02X", ErrFraming, buf[0])
	}
	return Header{
		Cmd:      CmdType(buf[1]),
		ClientID: binary.LittleEndian.Uint16(buf[2:4]),
		ReqID:    binary.LittleEndian.Uint16(buf[4:6]),
		BodyLen:  binary.LittleEndian.Uint16(buf[6:8]),
	}, nil
}

// Encode serializes the whole packet, header followed by body. BodyLen in the
// encoded header always equals len(Body).
func (p *Packet) Encode() []byte {
	p.Header.BodyLen = uint16(len(p.Body))
	buf := make([]byte, HeaderSize+len(p.Body))
	copy(buf, p.Header.Encode())
	copy(buf[HeaderSize:], p.Body)
	return buf
}

// ReadPacket reads one full packet from r.
//
// A clean EOF at the header boundary is returned as io.EOF so callers can
// detect normal peer disconnect. A stream that closes mid-header or mid-body
// is a framing error.
func ReadPacket(r io.Reader) (*Packet, error) {
	var headerBuf [HeaderSize]byte
	if _, err := io.ReadFull(r, headerBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: short header read: %v", ErrFraming, err)
	}

	header, err := DecodeHeader(headerBuf[:])
	if err != nil {
		return nil, err
	}

	var body []byte
	if header.BodyLen > 0 {
		body = make([]byte, header.BodyLen)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("%w: short body read (want %d bytes): %v", ErrFraming, header.BodyLen, err)
		}
	}

	return &Packet{Header: header, Body: body}, nil
}

// WritePacket writes the packet's full wire form to w. A body larger than
// MaxBodyLen is refused before anything touches the wire: encoding it would
// truncate BodyLen and desync the stream.
func WritePacket(w io.Writer, p *Packet) error {
	if len(p.Body) > MaxBodyLen {
		return fmt.Errorf("%w: body of %d bytes exceeds the %d-byte frame limit",
			ErrFraming, len(p.Body), MaxBodyLen)
	}
	if _, err := w.Write(p.Encode()); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	return nil
}
