package rewrite

import (
	"fmt"

	"github.com/deepnoodle-ai/tracepoint/bytecode"
	"github.com/deepnoodle-ai/tracepoint/linetable"
	"github.com/deepnoodle-ai/tracepoint/op"
)

// maxInsertionIterations bounds the cascading widening worklist. Widening
// one branch can force widening another, which can in principle cascade;
// exceeding the bound fails the injection rather than looping.
const maxInsertionIterations = 10

// updatedInstruction is a branch instruction whose argument may need
// fixing, and possibly widening, to survive an insertion.
type updatedInstruction struct {
	ins           bytecode.Instruction
	originalSize  int
	currentOffset int
}

// insertion is space that must be reserved in the instruction stream.
type insertion struct {
	size          int
	currentOffset int
}

func (m *Manipulator) insertCall(code, table []byte, offset, constIndex int) ([]byte, []byte, error) {
	if m.format == op.FormatModern {
		return m.insertCallModern(code, table, offset, constIndex)
	}
	return m.insertCallLegacy(code, table, offset, constIndex)
}

// insertCallModern reserves room for the call-out and recomputes every
// branch argument against the shifted offsets, widening instructions with
// ExtendArg prefixes where a new argument no longer fits.
//
// Widening is processed as a worklist of insertion operations. The first
// operation is the call-out itself; every widening discovered while
// processing one operation pushes another. Within one operation, an
// instruction at the exact insertion offset is shifted only for the initial
// call-out insertion: a widening insertion at an instruction's own offset
// is the ExtendArg prefix for that very instruction, so the instruction
// stays put and only its argument grows.
func (m *Manipulator) insertCallModern(code, table []byte, offset, constIndex int) ([]byte, []byte, error) {
	var updated []updatedInstruction

	// Gather every branch instruction and validate the target offset.
	offsetValid := false
	for pos := 0; pos < len(code); {
		if pos == offset {
			offsetValid = true
		}
		ins := bytecode.ReadInstruction(m.format, code, pos)
		if ins.IsInvalid() {
			return nil, nil, fmt.Errorf("%w: at offset %d", ErrDecode, pos)
		}
		switch op.Classify(m.format, ins.Opcode) {
		case op.ClassBranchDelta, op.ClassBranchAbsolute:
			updated = append(updated, updatedInstruction{
				ins:           ins,
				originalSize:  ins.Size,
				currentOffset: pos,
			})
		}
		pos += ins.Size
	}
	if !offsetValid {
		return nil, nil, fmt.Errorf("%w: offset %d is mid-instruction",
			ErrOffsetInvalid, offset)
	}

	callout := callSequence(m.format, constIndex)
	calloutSize := bytecode.InstructionsSize(callout)

	insertions := []insertion{{size: calloutSize, currentOffset: offset}}
	for iterations := 0; len(insertions) > 0; iterations++ {
		if iterations == maxInsertionIterations {
			return nil, nil, fmt.Errorf("%w: more than %d widening passes",
				ErrUpgradeExhausted, maxInsertionIterations)
		}
		ir := insertions[len(insertions)-1]
		insertions = insertions[:len(insertions)-1]

		// Shift pending insertions at or after this one.
		for i := range insertions {
			if insertions[i].currentOffset >= ir.currentOffset {
				insertions[i].currentOffset += ir.size
			}
		}

		for i := range updated {
			u := &updated[i]
			ins := u.ins
			arg := int32(ins.Arg)
			needUpdate := false
			switch op.Classify(m.format, ins.Opcode) {
			case op.ClassBranchDelta:
				// A relative branch changes only if the insertion lands
				// between the instruction and its target. The compiler
				// sometimes emits a premature zero ExtendArg prefix, so
				// the effective size used to locate the target is the
				// larger of the decoded and original sizes.
				insSize := ins.Size
				if u.originalSize > insSize {
					insSize = u.originalSize
				}
				target := u.currentOffset + insSize + int(arg)
				needUpdate = u.currentOffset < ir.currentOffset &&
					ir.currentOffset < target
			case op.ClassBranchAbsolute:
				needUpdate = ir.currentOffset < int(arg)
			}

			// The initial call-out insertion shifts instructions at or
			// after it; a widening insertion leaves the instruction at
			// its own offset in place (the new bytes are its prefix).
			offsetDiff := u.currentOffset - ir.currentOffset
			if (iterations == 0 && offsetDiff >= 0) || offsetDiff > 0 {
				u.currentOffset += ir.size
			}

			if needUpdate {
				next := bytecode.NewInstruction(
					m.format, ins.Opcode, uint32(arg+int32(ir.size)))
				if sizeDiff := next.Size - ins.Size; sizeDiff > 0 {
					insertions = append(insertions, insertion{
						size:          sizeDiff,
						currentOffset: u.currentOffset,
					})
				}
				u.ins = next
			}
		}
	}

	// Splice in the call-out and account for it in the line table.
	code = spliceFill(code, offset, calloutSize)
	bytecode.WriteInstructions(m.format, code, offset, callout)
	if m.hasLineTable {
		table = linetable.InsertRange(table, offset, calloutSize)
	}

	// Write the fixed-up branches. Offsets can be used directly: every
	// insertion before an instruction has been applied by the time it is
	// written back.
	for _, u := range updated {
		pos := u.currentOffset
		sizeDiff := u.ins.Size - u.originalSize
		if sizeDiff > 0 {
			code = spliceFill(code, pos, sizeDiff)
			if m.hasLineTable {
				table = linetable.InsertRange(table, pos, sizeDiff)
			}
		} else if sizeDiff < 0 {
			// The stream had a premature zero ExtendArg prefix and the
			// recomputed argument shrank below it. Keep the prefix and
			// write the instruction after it.
			pos -= sizeDiff
		}
		bytecode.WriteInstruction(m.format, code, pos, u.ins)
	}

	return code, table, nil
}

// insertCallLegacy is the simple variant used for the legacy format: a
// single pass recomputing branch arguments in place. An argument that no
// longer fits its instruction's width fails the injection outright rather
// than widening, which the legacy encoding makes rare enough not to bother
// with.
func (m *Manipulator) insertCallLegacy(code, table []byte, offset, constIndex int) ([]byte, []byte, error) {
	callout := callSequence(m.format, constIndex)
	calloutSize := bytecode.InstructionsSize(callout)

	offsetValid := false
	for pos := 0; pos < len(code); {
		if pos == offset {
			offsetValid = true
		}
		fixedPos := pos
		if fixedPos >= offset {
			fixedPos += calloutSize
		}

		ins := bytecode.ReadInstruction(m.format, code, pos)
		if ins.IsInvalid() {
			return nil, nil, fmt.Errorf("%w: at offset %d", ErrDecode, pos)
		}

		switch op.Classify(m.format, ins.Opcode) {
		case op.ClassBranchDelta:
			delta := int32(ins.Arg)
			target := pos + ins.Size + int(delta)
			if target > offset {
				target += calloutSize
			}
			fixedDelta := int32(target - fixedPos - ins.Size)
			if fixedDelta != delta {
				next := bytecode.NewInstruction(m.format, ins.Opcode, uint32(fixedDelta))
				if next.Size != ins.Size {
					return nil, nil, fmt.Errorf(
						"%w: widening not supported in legacy format",
						ErrUpgradeExhausted)
				}
				bytecode.WriteInstruction(m.format, code, pos, next)
			}
		case op.ClassBranchAbsolute:
			if int(int32(ins.Arg)) > offset {
				next := bytecode.NewInstruction(
					m.format, ins.Opcode, ins.Arg+uint32(calloutSize))
				if next.Size != ins.Size {
					return nil, nil, fmt.Errorf(
						"%w: widening not supported in legacy format",
						ErrUpgradeExhausted)
				}
				bytecode.WriteInstruction(m.format, code, pos, next)
			}
		}

		pos += ins.Size
	}
	if !offsetValid {
		return nil, nil, fmt.Errorf("%w: offset %d is mid-instruction",
			ErrOffsetInvalid, offset)
	}

	code = spliceFill(code, offset, calloutSize)
	bytecode.WriteInstructions(m.format, code, offset, callout)
	if m.hasLineTable {
		table = linetable.InsertRange(table, offset, calloutSize)
	}

	return code, table, nil
}
