// Package protocol implements the length-prefixed framed messages exchanged
// between client and server over the local stream socket.
//
// Wire layout: one type byte, a 32-bit little-endian payload length, then
// exactly length payload bytes. Non-empty payloads are NUL-terminated and
// the terminator is counted in length; length zero means no payload bytes
// follow at all.
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/bibliofed/bibliofed/internal/errors"
)

// Message types.
const (
	// TypeQuery is a read-only query, client to server.
	TypeQuery byte = 'Q'
	// TypeLoan is a query that grants loans on every match.
	TypeLoan byte = 'L'
	// TypeRecord carries the aggregated matching records, server to client.
	TypeRecord byte = 'R'
	// TypeNo reports zero matches; it never carries a payload.
	TypeNo byte = 'N'
	// TypeError carries a human-readable error message.
	TypeError byte = 'E'
	// TypeStop is the worker stop sentinel. It never travels on the wire.
	TypeStop byte = 'S'
)

// Client-facing error payloads. The wording is part of the protocol; do
// not edit.
const (
	MsgBadRequest    = "La richiesta inviata non è del formato corretto.\n"
	MsgSearchFailure = "C'è stato un fallimento di sistema durante la ricerca dei libri richiesti.\n"
)

// MaxPayload bounds a frame's declared length. A peer announcing more is
// treated as a protocol violation rather than an allocation request.
const MaxPayload = 1 << 20

// headerLen is one type byte plus the 32-bit length.
const headerLen = 5

// Message is one decoded frame. Payload holds the string content without
// the wire NUL terminator.
type Message struct {
	Type    byte
	Payload string
}

// Write encodes m onto w. The payload's NUL terminator is appended here
// and counted in the length prefix.
func Write(w io.Writer, m Message) error {
	length := int32(0)
	if len(m.Payload) > 0 {
		length = int32(len(m.Payload) + 1)
	}

	buf := make([]byte, headerLen, headerLen+int(length))
	buf[0] = m.Type
	binary.LittleEndian.PutUint32(buf[1:headerLen], uint32(length))
	if length > 0 {
		buf = append(buf, m.Payload...)
		buf = append(buf, 0)
	}

	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, errors.CodeSystem, "write frame")
	}
	return nil
}

// Read decodes one frame from r. EOF before the frame completes is a
// communication error, distinct from a failed system call.
func Read(r io.Reader) (Message, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, readErr(err, "frame header")
	}

	msg := Message{Type: header[0]}
	length := int32(binary.LittleEndian.Uint32(header[1:]))
	switch {
	case length == 0:
		return msg, nil
	case length < 0 || length > MaxPayload:
		return Message{}, errors.Comm("frame declares an invalid payload length")
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, readErr(err, "frame payload")
	}
	if payload[length-1] == 0 {
		payload = payload[:length-1]
	}
	msg.Payload = string(payload)
	return msg, nil
}

// readErr classifies a failed frame read: peer EOF is COMM, anything else
// is a system error.
func readErr(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrapf(err, errors.CodeComm, "peer closed while reading %s", what)
	}
	return errors.Wrapf(err, errors.CodeSystem, "read %s", what)
}
