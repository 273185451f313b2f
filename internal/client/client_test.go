package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliofed/bibliofed/internal/errors"
	"github.com/bibliofed/bibliofed/internal/protocol"
)

func TestBuildRequest(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantType    byte
		wantPayload string
	}{
		{
			"single pair",
			[]string{"--autore=Linda"},
			protocol.TypeQuery,
			" autore: Linda;",
		},
		{
			"multiple pairs keep order",
			[]string{"--editore=Morgan Kaufmann", "--anno=2011"},
			protocol.TypeQuery,
			" editore: Morgan Kaufmann; anno: 2011;",
		},
		{
			"trailing -p selects loan",
			[]string{"--autore=Pagli", "-p"},
			protocol.TypeLoan,
			" autore: Pagli;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := BuildRequest(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, msg.Type)
			assert.Equal(t, tt.wantPayload, msg.Payload)
		})
	}
}

func TestBuildRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no arguments", nil},
		{"only the loan flag", []string{"-p"}},
		{"missing double dash", []string{"autore=Linda"}},
		{"missing equals", []string{"--autore"}},
		{"empty field name", []string{"--=Linda"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildRequest(tt.args)
			assert.ErrorIs(t, err, errors.ErrBadFormat)
		})
	}
}
