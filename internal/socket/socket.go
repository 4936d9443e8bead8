// Package socket implements the daemon's local client protocol: a
// fixed framed header over a Unix stream socket.
// Request dispatch beyond framing belongs to the daemon's command
// handlers, not this package.
package socket

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sanlockd/sanlockd/internal/sanlockerr"
)

// Magic identifies a sanlockd frame so a misrouted byte stream (e.g. a
// stale client speaking an older protocol) fails fast instead of being
// decoded as garbage.
const Magic uint32 = 0x53414e4c // "SANL"

// HeaderSize is the fixed, unpadded width of a frame header on the wire.
const HeaderSize = 4 + 4 + 4 + 4 + 4

// Command identifies a request or reply's operation.
type Command uint32

const (
	CmdRegister Command = iota + 1
	CmdAcquire
	CmdRelease
	CmdMigrate
	CmdSetOwner
	CmdSetHostID
	CmdStatus
	CmdLogDump
	CmdShutdown
)

func (c Command) String() string {
	switch c {
	case CmdRegister:
		return "REGISTER"
	case CmdAcquire:
		return "ACQUIRE"
	case CmdRelease:
		return "RELEASE"
	case CmdMigrate:
		return "MIGRATE"
	case CmdSetOwner:
		return "SETOWNER"
	case CmdSetHostID:
		return "SET_HOST_ID"
	case CmdStatus:
		return "STATUS"
	case CmdLogDump:
		return "LOG_DUMP"
	case CmdShutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(c))
	}
}

// Header is the fixed frame preceding every request and reply:
// magic, command, two command-specific 32-bit data fields, and the
// length of the payload that follows. On a reply, Data1 carries the
// negated sanlockerr.Code when the command failed, or zero on success.
type Header struct {
	Magic         uint32
	Command       Command
	Data1         uint32
	Data2         uint32
	PayloadLength uint32
}

// Encode serializes h into a HeaderSize-byte little-endian buffer.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Command))
	binary.LittleEndian.PutUint32(buf[8:12], h.Data1)
	binary.LittleEndian.PutUint32(buf[12:16], h.Data2)
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadLength)
	return buf
}

// DecodeHeader parses a HeaderSize-byte buffer into a Header, rejecting
// anything that doesn't carry Magic.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("socket: short header: %d bytes", len(buf))
	}
	h := Header{
		Magic:         binary.LittleEndian.Uint32(buf[0:4]),
		Command:       Command(binary.LittleEndian.Uint32(buf[4:8])),
		Data1:         binary.LittleEndian.Uint32(buf[8:12]),
		Data2:         binary.LittleEndian.Uint32(buf[12:16]),
		PayloadLength: binary.LittleEndian.Uint32(buf[16:20]),
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("socket: bad magic %#x", h.Magic)
	}
	return h, nil
}

// Frame is a decoded header plus its payload bytes.
type Frame struct {
	Header  Header
	Payload []byte
}

// ReadFrame reads one frame from r: the fixed header, then exactly
// PayloadLength bytes.
func ReadFrame(r io.Reader) (Frame, error) {
	hbuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hbuf); err != nil {
		return Frame{}, fmt.Errorf("socket: read header: %w", err)
	}
	h, err := DecodeHeader(hbuf)
	if err != nil {
		return Frame{}, err
	}
	payload := make([]byte, h.PayloadLength)
	if h.PayloadLength > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("socket: read payload: %w", err)
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame writes cmd, the two data fields, and payload as one frame.
func WriteFrame(w io.Writer, cmd Command, data1, data2 uint32, payload []byte) error {
	h := Header{
		Magic:         Magic,
		Command:       cmd,
		Data1:         data1,
		Data2:         data2,
		PayloadLength: uint32(len(payload)),
	}
	if _, err := w.Write(h.Encode()); err != nil {
		return fmt.Errorf("socket: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("socket: write payload: %w", err)
		}
	}
	return nil
}

// WriteErrorReply writes a zero-payload reply whose Data1 carries the
// negated error code: non-zero reply data fields carry negated error
// kinds.
func WriteErrorReply(w io.Writer, cmd Command, err error) error {
	code := errorCode(err)
	return WriteFrame(w, cmd, uint32(-int32(code)), 0, nil)
}

// WriteOKReply writes a successful zero-data-field reply carrying payload.
func WriteOKReply(w io.Writer, cmd Command, payload []byte) error {
	return WriteFrame(w, cmd, 0, 0, payload)
}

func errorCode(err error) sanlockerr.Code {
	var se *sanlockerr.SanlockError
	for e := err; e != nil; {
		if asErr, ok := e.(*sanlockerr.SanlockError); ok {
			se = asErr
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if se == nil {
		return 0
	}
	return se.Code
}
