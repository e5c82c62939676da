package rewrite

import (
	"fmt"

	"github.com/deepnoodle-ai/tracepoint/bytecode"
	"github.com/deepnoodle-ai/tracepoint/op"
)

// appendCall injects a call-out without moving any existing instruction
// except the relocation window itself: the window is overwritten with a
// jump to an appendix at the end of the stream holding the call-out, the
// relocated instructions verbatim, and a jump back. Offsets of everything
// outside the window stay valid, which is what a suspended frame's raw
// resumption offset requires.
//
// The line table is deliberately left unmodified: it must grow
// monotonically, which an appendix cannot satisfy, and the trampoline
// virtually always fits inside a single instruction's attribution range.
// Appended instructions therefore report the source line of the relocation
// point, a documented accuracy gap.
func (m *Manipulator) appendCall(code []byte, offset, constIndex int) ([]byte, error) {
	trampoline := bytecode.NewInstruction(
		m.format, op.JumpAbsolute, uint32(len(code)))

	// Collect whole instructions from the target offset until the
	// trampoline fits. Relative branches cannot be relocated (a delta
	// cannot be rewritten to point backwards across the stream) and
	// suspension points cannot move at all, because a suspended frame
	// would resume into the appendix after the breakpoint is cleared.
	var relocated []bytecode.Instruction
	relocatedSize := 0
	for pos := offset; relocatedSize < trampoline.Size; {
		if pos >= len(code) {
			return nil, fmt.Errorf("%w: method ends before window is free",
				ErrNoRoomForRelocation)
		}
		ins := bytecode.ReadInstruction(m.format, code, pos)
		if ins.IsInvalid() {
			return nil, fmt.Errorf("%w: at offset %d", ErrDecode, pos)
		}
		switch op.Classify(m.format, ins.Opcode) {
		case op.ClassBranchDelta, op.ClassSuspend:
			return nil, fmt.Errorf("%w: %s at offset %d cannot be relocated",
				ErrNoRoomForRelocation,
				op.GetInfo(m.format, ins.Opcode).Name, pos)
		}
		relocated = append(relocated, ins)
		relocatedSize += ins.Size
		pos += ins.Size
	}

	// Scan the whole method: the target offset must be an instruction
	// boundary, and no branch may land strictly inside the relocation
	// window. A jump to the window's start lands on the trampoline and is
	// fine; a jump past its end never enters it. Anything in between was
	// an instruction boundary in the original stream but is mid-trampoline
	// in the new one.
	offsetValid := false
	for pos := 0; pos < len(code); {
		if pos == offset {
			offsetValid = true
		}
		ins := bytecode.ReadInstruction(m.format, code, pos)
		if ins.IsInvalid() {
			return nil, fmt.Errorf("%w: at offset %d", ErrDecode, pos)
		}
		if target, ok := bytecode.BranchTarget(m.format, pos, ins); ok {
			if target > offset && target < offset+relocatedSize {
				return nil, fmt.Errorf(
					"%w: branch at offset %d targets offset %d",
					ErrRelocationTargetConflict, pos, target)
			}
		}
		pos += ins.Size
	}
	if !offsetValid {
		return nil, fmt.Errorf("%w: offset %d is mid-instruction",
			ErrOffsetInvalid, offset)
	}

	// Appendix: call-out, relocated instructions, jump back to the first
	// instruction after the window.
	appendix := callSequence(m.format, constIndex)
	appendix = append(appendix, relocated...)
	appendix = append(appendix, bytecode.NewInstruction(
		m.format, op.JumpAbsolute, uint32(offset+relocatedSize)))

	pos := len(code)
	code = append(code, make([]byte, bytecode.InstructionsSize(appendix))...)
	bytecode.WriteInstructions(m.format, code, pos, appendix)

	// Overwrite the window: trampoline first, no-op filler for the rest.
	fill := offset + bytecode.WriteInstruction(m.format, code, offset, trampoline)
	for fill < offset+relocatedSize {
		nop := bytecode.NewInstructionNoArg(m.format, op.Nop)
		fill += bytecode.WriteInstruction(m.format, code, fill, nop)
	}

	return code, nil
}
