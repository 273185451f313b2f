package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliofed/bibliofed/internal/errors"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"query", Message{Type: TypeQuery, Payload: " autore: Linda;"}},
		{"loan", Message{Type: TypeLoan, Payload: " anno: 2011;"}},
		{"record", Message{Type: TypeRecord, Payload: "autore: Pagli, Linda;\n"}},
		{"no matches, empty", Message{Type: TypeNo}},
		{"error payload", Message{Type: TypeError, Payload: MsgBadRequest}},
		{"accented payload", Message{Type: TypeError, Payload: MsgSearchFailure}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, tt.msg))

			got, err := Read(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestWrite_WireLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Message{Type: TypeRecord, Payload: "abc"}))

	raw := buf.Bytes()
	require.Len(t, raw, 5+4)
	assert.Equal(t, TypeRecord, raw[0])
	// Length counts the NUL terminator.
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(raw[1:5]))
	assert.Equal(t, byte(0), raw[len(raw)-1])
}

func TestWrite_EmptyPayloadHasNoBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Message{Type: TypeNo}))
	assert.Len(t, buf.Bytes(), 5)
}

func TestRead_EOFBeforeHeaderIsComm(t *testing.T) {
	_, err := Read(bytes.NewReader(nil))
	assert.ErrorIs(t, err, errors.ErrComm)
}

func TestRead_EOFMidFrameIsComm(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Message{Type: TypeRecord, Payload: "abcdef"}))

	truncated := buf.Bytes()[:7]
	_, err := Read(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, errors.ErrComm)
}

func TestRead_RejectsInvalidLength(t *testing.T) {
	raw := []byte{TypeRecord, 0xff, 0xff, 0xff, 0xff} // -1 as int32
	_, err := Read(bytes.NewReader(raw))
	assert.ErrorIs(t, err, errors.ErrComm)
}
