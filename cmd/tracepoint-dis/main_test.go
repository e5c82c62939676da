package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/tracepoint/op"
)

func TestParseFormat(t *testing.T) {
	format, err := parseFormat("modern")
	require.NoError(t, err)
	require.Equal(t, op.FormatModern, format)

	format, err = parseFormat("legacy")
	require.NoError(t, err)
	require.Equal(t, op.FormatLegacy, format)

	_, err = parseFormat("py4")
	require.Error(t, err)
}

func TestDecodeHex(t *testing.T) {
	tests := []struct {
		input string
		want  []byte
	}{
		{"0a00 0203", []byte{0x0a, 0x00, 0x02, 0x03}},
		{"0x0a, 0x00", []byte{0x0a, 0x00}},
		{"0A\n00", []byte{0x0a, 0x00}},
	}
	for _, tt := range tests {
		got, err := decodeHex(tt.input)
		require.NoError(t, err, tt.input)
		require.Equal(t, tt.want, got, tt.input)
	}

	_, err := decodeHex("zz")
	require.Error(t, err)
}
