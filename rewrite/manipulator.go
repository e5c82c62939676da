// Package rewrite implements the bytecode rewriting engine: given a
// snapshot of a method body, it produces a new, fully self-consistent
// instruction stream and line table with a breakpoint call-out injected at
// a target offset, or fails atomically leaving the snapshot untouched.
package rewrite

import (
	"fmt"

	"github.com/deepnoodle-ai/tracepoint/bytecode"
	"github.com/deepnoodle-ai/tracepoint/op"
)

// Strategy selects how a call-out is injected into a method body.
type Strategy uint8

const (
	// StrategyInsert splices the call-out into the stream in place,
	// shifting everything after the target offset and fixing up branches.
	StrategyInsert Strategy = iota

	// StrategyAppend relocates a window of instructions to an appendix at
	// the end of the stream and overwrites the window with a trampoline
	// jump. Used for methods with suspension points, whose suspended
	// frames hold raw resumption offsets that in-place insertion would
	// invalidate.
	StrategyAppend

	// StrategyFail rejects every injection. Chosen when the original
	// stream failed to decode.
	StrategyFail
)

// String returns the name of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyInsert:
		return "insert"
	case StrategyAppend:
		return "append"
	default:
		return "fail"
	}
}

// Manipulator rewrites one method body. It holds a private working copy of
// the instruction stream and line table; each successful InjectCall
// replaces the working copy, and a failed one leaves it exactly as it was.
//
// The manipulator performs no locking of its own. Callers invoke it while
// holding the interpreter's global execution lock, which already excludes
// concurrent interpreted execution.
type Manipulator struct {
	format       op.Format
	code         []byte
	lineTable    []byte
	hasLineTable bool
	strategy     Strategy
}

// NewManipulator creates a manipulator over a snapshot of the given method.
// The strategy is fixed here: one scan over the stream selects the append
// strategy if any suspension opcode is present, the insert strategy
// otherwise, and the failing strategy if the stream does not decode.
func NewManipulator(format op.Format, method *bytecode.Method) *Manipulator {
	m := &Manipulator{
		format:       format,
		code:         method.Code(),
		lineTable:    method.LineTable(),
		hasLineTable: method.HasLineTable(),
		strategy:     StrategyInsert,
	}
	for pos := 0; pos < len(m.code); {
		ins := bytecode.ReadInstruction(format, m.code, pos)
		if ins.IsInvalid() {
			m.strategy = StrategyFail
			break
		}
		if op.Classify(format, ins.Opcode) == op.ClassSuspend {
			m.strategy = StrategyAppend
			break
		}
		pos += ins.Size
	}
	return m
}

// Strategy returns the injection strategy selected at construction.
func (m *Manipulator) Strategy() Strategy {
	return m.strategy
}

// Code returns a copy of the current instruction stream.
func (m *Manipulator) Code() []byte {
	out := make([]byte, len(m.code))
	copy(out, m.code)
	return out
}

// LineTable returns a copy of the current line table.
func (m *Manipulator) LineTable() []byte {
	out := make([]byte, len(m.lineTable))
	copy(out, m.lineTable)
	return out
}

// HasLineTable reports whether the method carries a line table.
func (m *Manipulator) HasLineTable() bool {
	return m.hasLineTable
}

// InjectCall injects the call-out sequence invoking the callable held in
// the given constant pool slot, targeting the given bytecode offset. On
// failure the working copy is untouched; the operation is transactional.
func (m *Manipulator) InjectCall(offset, constIndex int) error {
	if offset < 0 || offset >= len(m.code) {
		return fmt.Errorf("%w: offset %d out of range [0,%d)",
			ErrOffsetInvalid, offset, len(m.code))
	}

	code := m.Code()
	table := m.LineTable()

	var err error
	switch m.strategy {
	case StrategyInsert:
		code, table, err = m.insertCall(code, table, offset, constIndex)
	case StrategyAppend:
		code, err = m.appendCall(code, offset, constIndex)
	default:
		err = fmt.Errorf("%w: method body did not decode", ErrDecode)
	}
	if err != nil {
		return err
	}

	m.code = code
	m.lineTable = table
	return nil
}

// callSequence returns the fixed call-out: load the callable from the
// constant pool, call it with zero arguments, discard the result.
func callSequence(format op.Format, constIndex int) []bytecode.Instruction {
	return []bytecode.Instruction{
		bytecode.NewInstruction(format, op.LoadConst, uint32(constIndex)),
		bytecode.NewInstruction(format, op.Call, 0),
		bytecode.NewInstructionNoArg(format, op.PopTop),
	}
}

// spliceFill inserts n filler bytes at the given position. The filler is
// the Nop opcode byte, though every inserted range is fully overwritten
// before the new stream escapes the rewriter.
func spliceFill(code []byte, at, n int) []byte {
	out := make([]byte, 0, len(code)+n)
	out = append(out, code[:at]...)
	for i := 0; i < n; i++ {
		out = append(out, byte(op.Nop))
	}
	return append(out, code[at:]...)
}
