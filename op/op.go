// Package op defines the opcodes of the target interpreter family and their
// control-flow classification, versioned by interpreter release.
package op

// Code is a single-byte opcode understood by the target interpreter.
type Code uint8

const (
	// Execution
	Nop         Code = 1
	Call        Code = 2
	ReturnValue Code = 3

	// Load / store
	LoadConst   Code = 10
	LoadFast    Code = 11
	LoadGlobal  Code = 12
	StoreFast   Code = 13
	StoreGlobal Code = 14

	// Stack
	PopTop Code = 20
	DupTop Code = 21

	// Operations
	BinaryOp  Code = 30
	CompareOp Code = 31
	UnaryNot  Code = 32

	// Relative branches
	JumpForward  Code = 40
	ForIter      Code = 41
	SetupFinally Code = 42
	SetupWith    Code = 43

	// Absolute branches
	JumpAbsolute     Code = 50
	PopJumpIfFalse   Code = 51
	PopJumpIfTrue    Code = 52
	JumpIfTrueOrPop  Code = 53
	JumpIfFalseOrPop Code = 54

	// Coroutine suspension
	Yield     Code = 60
	YieldFrom Code = 61 // Modern format only

	// ExtendArg is the width-extension prefix. It is never a real
	// instruction on its own; it widens the argument of the instruction
	// that follows it.
	ExtendArg Code = 70

	// Invalid marks a decode failure. It is never present in a valid
	// instruction stream.
	Invalid Code = 0xFF
)

// Class describes the control-flow effect of an opcode. The bytecode
// rewriter is written entirely against this classification rather than
// against individual opcodes, because the opcode set shifts across
// interpreter releases.
type Class uint8

const (
	// ClassSequential has no control-flow effect.
	ClassSequential Class = iota

	// ClassBranchDelta interprets the argument as a relative displacement
	// from the end of the instruction.
	ClassBranchDelta

	// ClassBranchAbsolute interprets the argument as an absolute bytecode
	// offset.
	ClassBranchAbsolute

	// ClassSuspend is a coroutine yield point. A suspended frame records a
	// raw resumption offset into the instruction stream, which constrains
	// how the stream may be rewritten.
	ClassSuspend

	// ClassInvalid marks an opcode that failed to decode.
	ClassInvalid
)

// String returns the name of the classification.
func (c Class) String() string {
	switch c {
	case ClassSequential:
		return "SEQUENTIAL"
	case ClassBranchDelta:
		return "BRANCH_DELTA"
	case ClassBranchAbsolute:
		return "BRANCH_ABSOLUTE"
	case ClassSuspend:
		return "SUSPEND"
	default:
		return "INVALID"
	}
}

// Format identifies an interpreter bytecode format release.
type Format uint8

const (
	// FormatLegacy is the historical encoding: instructions are 1 byte
	// without an argument or 3 bytes with a 16 bit argument, and a single
	// fixed-size 6 byte extension record carries 32 bit arguments.
	FormatLegacy Format = iota

	// FormatModern is the word-coded encoding: every instruction is a
	// 2 byte unit (opcode plus 8 bit argument), preceded by as many
	// ExtendArg prefix units as the argument value requires.
	FormatModern
)

// String returns the name of the format.
func (f Format) String() string {
	if f == FormatLegacy {
		return "legacy"
	}
	return "modern"
}

// Info contains static information about an opcode.
type Info struct {
	Code   Code
	Name   string
	HasArg bool
	Class  Class
}

// Per-format classification tables. These are data rather than switch
// statements spread across call sites: the mapping changes between
// interpreter releases and is consulted in exactly one place.
var (
	legacyInfos [256]Info
	modernInfos [256]Info
)

func init() {
	type opInfo struct {
		op     Code
		name   string
		hasArg bool
		class  Class
	}
	shared := []opInfo{
		{Nop, "NOP", false, ClassSequential},
		{Call, "CALL", true, ClassSequential},
		{ReturnValue, "RETURN_VALUE", false, ClassSequential},
		{LoadConst, "LOAD_CONST", true, ClassSequential},
		{LoadFast, "LOAD_FAST", true, ClassSequential},
		{LoadGlobal, "LOAD_GLOBAL", true, ClassSequential},
		{StoreFast, "STORE_FAST", true, ClassSequential},
		{StoreGlobal, "STORE_GLOBAL", true, ClassSequential},
		{PopTop, "POP_TOP", false, ClassSequential},
		{DupTop, "DUP_TOP", false, ClassSequential},
		{BinaryOp, "BINARY_OP", true, ClassSequential},
		{CompareOp, "COMPARE_OP", true, ClassSequential},
		{UnaryNot, "UNARY_NOT", false, ClassSequential},
		{JumpForward, "JUMP_FORWARD", true, ClassBranchDelta},
		{ForIter, "FOR_ITER", true, ClassBranchDelta},
		{SetupFinally, "SETUP_FINALLY", true, ClassBranchDelta},
		{SetupWith, "SETUP_WITH", true, ClassBranchDelta},
		{JumpAbsolute, "JUMP_ABSOLUTE", true, ClassBranchAbsolute},
		{PopJumpIfFalse, "POP_JUMP_IF_FALSE", true, ClassBranchAbsolute},
		{PopJumpIfTrue, "POP_JUMP_IF_TRUE", true, ClassBranchAbsolute},
		{JumpIfTrueOrPop, "JUMP_IF_TRUE_OR_POP", true, ClassBranchAbsolute},
		{JumpIfFalseOrPop, "JUMP_IF_FALSE_OR_POP", true, ClassBranchAbsolute},
		{Yield, "YIELD", false, ClassSuspend},
		{ExtendArg, "EXTEND_ARG", true, ClassSequential},
	}
	modernOnly := []opInfo{
		{YieldFrom, "YIELD_FROM", false, ClassSuspend},
	}
	for i := range legacyInfos {
		legacyInfos[i] = Info{Code: Code(i), Name: "INVALID", Class: ClassInvalid}
		modernInfos[i] = Info{Code: Code(i), Name: "INVALID", Class: ClassInvalid}
	}
	for _, o := range shared {
		info := Info{Code: o.op, Name: o.name, HasArg: o.hasArg, Class: o.class}
		legacyInfos[o.op] = info
		modernInfos[o.op] = info
	}
	for _, o := range modernOnly {
		modernInfos[o.op] = Info{Code: o.op, Name: o.name, HasArg: o.hasArg, Class: o.class}
	}
	// Every modern format instruction unit carries an argument byte.
	for i, info := range modernInfos {
		if info.Class != ClassInvalid {
			info.HasArg = true
			modernInfos[i] = info
		}
	}
}

// GetInfo returns static information about the given opcode under the given
// bytecode format.
func GetInfo(format Format, code Code) Info {
	if format == FormatLegacy {
		return legacyInfos[code]
	}
	return modernInfos[code]
}

// Classify returns the control-flow classification of the given opcode
// under the given bytecode format.
func Classify(format Format, code Code) Class {
	return GetInfo(format, code).Class
}

// HasArg reports whether the opcode carries an encoded argument under the
// given bytecode format. In the modern format every valid opcode does.
func HasArg(format Format, code Code) bool {
	return GetInfo(format, code).HasArg
}
