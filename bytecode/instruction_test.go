package bytecode

import (
	"testing"

	"github.com/deepnoodle-ai/tracepoint/op"
	"github.com/stretchr/testify/require"
)

func TestEncodedSizeModern(t *testing.T) {
	tests := []struct {
		arg  uint32
		want int
	}{
		{0, 2},
		{0xFF, 2},
		{0x100, 4},
		{0xFFFF, 4},
		{0x10000, 6},
		{0xFFFFFF, 6},
		{0x1000000, 8},
		{0xFFFFFFFF, 8},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, EncodedSize(op.FormatModern, op.LoadConst, tt.arg), tt.arg)
	}
}

func TestEncodedSizeLegacy(t *testing.T) {
	require.Equal(t, 1, EncodedSize(op.FormatLegacy, op.ReturnValue, 0))
	require.Equal(t, 3, EncodedSize(op.FormatLegacy, op.LoadConst, 0xFFFF))
	require.Equal(t, 6, EncodedSize(op.FormatLegacy, op.LoadConst, 0x10000))
}

func TestRoundTripModern(t *testing.T) {
	args := []uint32{0, 1, 47, 0xFF, 0x100, 0xABCD, 0x123456, 0xDEADBEEF}
	for _, arg := range args {
		ins := NewInstruction(op.FormatModern, op.JumpAbsolute, arg)
		buf := make([]byte, ins.Size)
		n := WriteInstruction(op.FormatModern, buf, 0, ins)
		require.Equal(t, ins.Size, n)

		decoded := ReadInstruction(op.FormatModern, buf, 0)
		require.Equal(t, ins, decoded, arg)
	}
}

func TestRoundTripLegacy(t *testing.T) {
	// No-arg instruction
	ins := NewInstructionNoArg(op.FormatLegacy, op.ReturnValue)
	buf := make([]byte, 1)
	WriteInstruction(op.FormatLegacy, buf, 0, ins)
	require.Equal(t, ins, ReadInstruction(op.FormatLegacy, buf, 0))

	// 16 bit argument
	ins = NewInstruction(op.FormatLegacy, op.LoadConst, 0x1234)
	buf = make([]byte, 3)
	WriteInstruction(op.FormatLegacy, buf, 0, ins)
	require.Equal(t, []byte{byte(op.LoadConst), 0x34, 0x12}, buf)
	require.Equal(t, ins, ReadInstruction(op.FormatLegacy, buf, 0))

	// 32 bit argument via the fixed extension record
	ins = NewInstruction(op.FormatLegacy, op.JumpAbsolute, 0xCAFE1234)
	require.Equal(t, 6, ins.Size)
	buf = make([]byte, 6)
	WriteInstruction(op.FormatLegacy, buf, 0, ins)
	require.Equal(t, ins, ReadInstruction(op.FormatLegacy, buf, 0))
}

func TestRoundTripStream(t *testing.T) {
	// Decode∘Encode over a whole stream reproduces the original bytes.
	instructions := []Instruction{
		NewInstruction(op.FormatModern, op.LoadConst, 300),
		NewInstructionNoArg(op.FormatModern, op.Nop),
		NewInstruction(op.FormatModern, op.JumpForward, 12),
		NewInstruction(op.FormatModern, op.Call, 0),
		NewInstructionNoArg(op.FormatModern, op.ReturnValue),
	}
	buf := make([]byte, InstructionsSize(instructions))
	WriteInstructions(op.FormatModern, buf, 0, instructions)

	out := make([]byte, len(buf))
	pos := 0
	for pos < len(buf) {
		ins := ReadInstruction(op.FormatModern, buf, pos)
		require.False(t, ins.IsInvalid())
		WriteInstruction(op.FormatModern, out, pos, ins)
		pos += ins.Size
	}
	require.Equal(t, buf, out)
}

func TestDecodeTruncated(t *testing.T) {
	// Empty buffer
	require.True(t, ReadInstruction(op.FormatModern, nil, 0).IsInvalid())
	require.True(t, ReadInstruction(op.FormatLegacy, nil, 0).IsInvalid())

	// Single dangling byte in the modern format
	require.True(t, ReadInstruction(op.FormatModern, []byte{byte(op.Nop)}, 0).IsInvalid())

	// ExtendArg prefix with nothing following it
	require.True(t, ReadInstruction(op.FormatModern,
		[]byte{byte(op.ExtendArg), 0x01}, 0).IsInvalid())

	// Legacy instruction with a missing argument
	require.True(t, ReadInstruction(op.FormatLegacy,
		[]byte{byte(op.LoadConst), 0x01}, 0).IsInvalid())

	// Legacy extension record cut short
	require.True(t, ReadInstruction(op.FormatLegacy,
		[]byte{byte(op.ExtendArg), 0, 0, byte(op.LoadConst)}, 0).IsInvalid())
}

func TestWithSizePadding(t *testing.T) {
	// A small argument written at a forced larger size decodes to the same
	// value, with zero-valued ExtendArg prefix units.
	ins := NewInstruction(op.FormatModern, op.JumpAbsolute, 5).WithSize(6)
	require.Equal(t, 6, ins.Size)
	buf := make([]byte, 6)
	WriteInstruction(op.FormatModern, buf, 0, ins)
	require.Equal(t, []byte{
		byte(op.ExtendArg), 0,
		byte(op.ExtendArg), 0,
		byte(op.JumpAbsolute), 5,
	}, buf)

	decoded := ReadInstruction(op.FormatModern, buf, 0)
	require.Equal(t, op.JumpAbsolute, decoded.Opcode)
	require.Equal(t, uint32(5), decoded.Arg)
	require.Equal(t, 6, decoded.Size)

	// WithSize never shrinks.
	require.Equal(t, 6, decoded.WithSize(2).Size)
}

func TestBranchTarget(t *testing.T) {
	// Relative: target is measured from the end of the instruction.
	ins := NewInstruction(op.FormatModern, op.JumpForward, 12)
	target, ok := BranchTarget(op.FormatModern, 4, ins)
	require.True(t, ok)
	require.Equal(t, 4+2+12, target)

	// Absolute: the argument is the target.
	ins = NewInstruction(op.FormatModern, op.JumpAbsolute, 40)
	target, ok = BranchTarget(op.FormatModern, 10, ins)
	require.True(t, ok)
	require.Equal(t, 40, target)

	// Not a branch.
	_, ok = BranchTarget(op.FormatModern, 0, NewInstructionNoArg(op.FormatModern, op.Nop))
	require.False(t, ok)
}

func TestMethodImmutability(t *testing.T) {
	code := []byte{byte(op.Nop), 0, byte(op.ReturnValue), 0}
	table := []byte{2, 1}
	m := NewMethod(MethodParams{
		Name:         "f",
		Code:         code,
		LineTable:    table,
		HasLineTable: true,
		FirstLine:    10,
	})

	code[0] = 0xEE
	table[0] = 0xEE
	require.Equal(t, []byte{byte(op.Nop), 0, byte(op.ReturnValue), 0}, m.Code())
	require.Equal(t, []byte{2, 1}, m.LineTable())

	got := m.Code()
	got[0] = 0xEE
	require.Equal(t, []byte{byte(op.Nop), 0, byte(op.ReturnValue), 0}, m.Code())

	require.Equal(t, "f", m.Name())
	require.Equal(t, 4, m.CodeSize())
	require.Equal(t, 10, m.FirstLine())
	require.True(t, m.HasLineTable())
}
