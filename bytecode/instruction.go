package bytecode

import (
	"github.com/deepnoodle-ai/tracepoint/op"
)

// Instruction is a single decoded interpreter instruction.
//
// The argument is held as an unsigned 32 bit value. Branch opcodes
// reinterpret it per their classification: relative displacement for
// ClassBranchDelta, absolute offset for ClassBranchAbsolute. Size is the
// encoded width in bytes, including any ExtendArg prefix units.
type Instruction struct {
	Opcode op.Code
	Arg    uint32
	Size   int
}

// InvalidInstruction is the pseudo-instruction returned on decode failure.
var InvalidInstruction = Instruction{Opcode: op.Invalid, Arg: 0xFFFFFFFF, Size: 0}

// IsInvalid reports whether the instruction marks a decode failure.
func (i Instruction) IsInvalid() bool {
	return i.Opcode == op.Invalid
}

// EncodedSize returns the minimal number of bytes needed to encode the
// given argument value under the given format.
func EncodedSize(format op.Format, opcode op.Code, arg uint32) int {
	if format == op.FormatModern {
		switch {
		case arg <= 0xFF:
			return 2
		case arg <= 0xFFFF:
			return 4
		case arg <= 0xFFFFFF:
			return 6
		default:
			return 8
		}
	}
	if !op.HasArg(format, opcode) {
		return 1
	}
	if arg > 0xFFFF {
		return 6
	}
	return 3
}

// NewInstruction creates an instruction with an argument, sized minimally
// for the argument value.
func NewInstruction(format op.Format, opcode op.Code, arg uint32) Instruction {
	return Instruction{
		Opcode: opcode,
		Arg:    arg,
		Size:   EncodedSize(format, opcode, arg),
	}
}

// NewInstructionNoArg creates an instruction without an argument. In the
// modern format the unit still carries a zero argument byte.
func NewInstructionNoArg(format op.Format, opcode op.Code) Instruction {
	size := 1
	if format == op.FormatModern {
		size = 2
	}
	return Instruction{Opcode: opcode, Size: size}
}

// WithSize returns a copy of the instruction upgraded to the requested
// encoded size. The encoder left-pads with ExtendArg units carrying value
// zero. Requesting a size smaller than the instruction's minimal size
// returns the instruction unchanged.
func (i Instruction) WithSize(size int) Instruction {
	if size > i.Size {
		i.Size = size
	}
	return i
}

// InstructionsSize returns the total encoded size of a set of instructions.
func InstructionsSize(instructions []Instruction) int {
	size := 0
	for _, ins := range instructions {
		size += ins.Size
	}
	return size
}

// BranchTarget returns the effective target offset of a branch instruction
// located at the given offset. The second return value is false if the
// instruction is not a branch.
func BranchTarget(format op.Format, offset int, ins Instruction) (int, bool) {
	switch op.Classify(format, ins.Opcode) {
	case op.ClassBranchDelta:
		return offset + ins.Size + int(int32(ins.Arg)), true
	case op.ClassBranchAbsolute:
		return int(ins.Arg), true
	default:
		return -1, false
	}
}

// ReadInstruction decodes the instruction starting at the given offset.
// Decoding past the end of the buffer, or a malformed extension record,
// yields InvalidInstruction; it never panics on truncated input.
func ReadInstruction(format op.Format, code []byte, offset int) Instruction {
	if format == op.FormatModern {
		return readModern(code, offset)
	}
	return readLegacy(code, offset)
}

func readModern(code []byte, offset int) Instruction {
	var ins Instruction
	if len(code)-offset < 2 {
		return InvalidInstruction
	}
	// Consume all ExtendArg prefix units, accumulating 8 argument bits per
	// unit, then the real opcode unit.
	for op.Code(code[offset]) == op.ExtendArg {
		ins.Arg = ins.Arg<<8 | uint32(code[offset+1])
		offset += 2
		ins.Size += 2
		if len(code)-offset < 2 {
			return InvalidInstruction
		}
	}
	ins.Opcode = op.Code(code[offset])
	ins.Arg = ins.Arg<<8 | uint32(code[offset+1])
	ins.Size += 2
	return ins
}

func readLegacy(code []byte, offset int) Instruction {
	if offset >= len(code) {
		return InvalidInstruction
	}
	opcode := op.Code(code[offset])
	if opcode == op.ExtendArg {
		// Fixed-size extension record: prefix + high 16 bits, then the
		// real opcode + low 16 bits.
		if len(code)-offset < 6 {
			return InvalidInstruction
		}
		return Instruction{
			Opcode: op.Code(code[offset+3]),
			Arg: uint32(readUint16(code[offset+1:]))<<16 |
				uint32(readUint16(code[offset+4:])),
			Size: 6,
		}
	}
	if op.HasArg(op.FormatLegacy, opcode) {
		if len(code)-offset < 3 {
			return InvalidInstruction
		}
		return Instruction{
			Opcode: opcode,
			Arg:    uint32(readUint16(code[offset+1:])),
			Size:   3,
		}
	}
	return Instruction{Opcode: opcode, Size: 1}
}

// WriteInstruction encodes the instruction into the buffer at the given
// offset and returns the number of bytes written. The caller must ensure
// the buffer has ins.Size bytes of room; sizes beyond the minimal encoding
// are honored by left-padding with zero-valued ExtendArg units.
func WriteInstruction(format op.Format, code []byte, offset int, ins Instruction) int {
	if format == op.FormatModern {
		return writeModern(code, offset, ins)
	}
	return writeLegacy(code, offset, ins)
}

func writeModern(code []byte, offset int, ins Instruction) int {
	arg := ins.Arg
	written := 0
	// Write backwards from the real instruction unit, then any ExtendArg
	// prefix units carrying the remaining high bits.
	for i := ins.Size - 2; i >= 0; i -= 2 {
		if written == 0 {
			code[offset+i] = byte(ins.Opcode)
		} else {
			code[offset+i] = byte(op.ExtendArg)
		}
		code[offset+i+1] = byte(arg)
		arg >>= 8
		written += 2
	}
	return written
}

func writeLegacy(code []byte, offset int, ins Instruction) int {
	if ins.Size == 6 {
		code[offset] = byte(op.ExtendArg)
		writeUint16(code[offset+1:], uint16(ins.Arg>>16))
		code[offset+3] = byte(ins.Opcode)
		writeUint16(code[offset+4:], uint16(ins.Arg))
		return 6
	}
	code[offset] = byte(ins.Opcode)
	if op.HasArg(op.FormatLegacy, ins.Opcode) {
		writeUint16(code[offset+1:], uint16(ins.Arg))
		return 3
	}
	return 1
}

// WriteInstructions encodes a set of instructions contiguously starting at
// the given offset and returns the total number of bytes written.
func WriteInstructions(format op.Format, code []byte, offset int, instructions []Instruction) int {
	written := 0
	for _, ins := range instructions {
		written += WriteInstruction(format, code, offset+written, ins)
	}
	return written
}

func readUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func writeUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
