// Package dis supports analysis of instrumented bytecode by disassembling
// it. It decodes both instruction formats defined in the `op` package and
// annotates branch targets and installed breakpoint call-outs, which makes
// rewritten method bodies legible when debugging the rewriter itself.
package dis

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/tracepoint/bytecode"
	"github.com/deepnoodle-ai/tracepoint/internal/table"
	"github.com/deepnoodle-ai/tracepoint/interp"
	"github.com/deepnoodle-ai/tracepoint/op"
)

// Instruction represents a single decoded instruction and its context
// within the method body.
type Instruction struct {
	Offset int
	Name   string
	Opcode op.Code
	Arg    uint32
	Size   int

	// HasArg reports whether the opcode carries an operand in this
	// format.
	HasArg bool

	// Target is the branch destination, or -1 for non-branch opcodes.
	Target int

	// IsTarget reports that some branch in the body jumps here.
	IsTarget bool

	// Constant holds the referenced constant pool value for LoadConst,
	// when a pool was supplied.
	Constant any

	// Annotation is a short display note: branch destination, constant
	// value, or call-out marker.
	Annotation string
}

// Disassemble decodes a method body. The consts pool is optional; when
// given, LoadConst instructions are annotated with the value they load
// and installed breakpoint call-outs are called out as such.
func Disassemble(format op.Format, code []byte, consts []any) ([]Instruction, error) {
	var instructions []Instruction
	targets := map[int]bool{}

	for offset := 0; offset < len(code); {
		ins := bytecode.ReadInstruction(format, code, offset)
		if ins.IsInvalid() || op.Classify(format, ins.Opcode) == op.ClassInvalid {
			return nil, fmt.Errorf("undecodable instruction at offset %d", offset)
		}
		out := Instruction{
			Offset: offset,
			Name:   op.GetInfo(format, ins.Opcode).Name,
			Opcode: ins.Opcode,
			Arg:    ins.Arg,
			Size:   ins.Size,
			HasArg: op.HasArg(format, ins.Opcode),
			Target: -1,
		}
		if target, ok := bytecode.BranchTarget(format, offset, ins); ok {
			out.Target = target
			out.Annotation = fmt.Sprintf("to %d", target)
			targets[target] = true
		}
		if ins.Opcode == op.LoadConst && int(ins.Arg) < len(consts) {
			out.Constant = consts[ins.Arg]
			if _, isCallout := out.Constant.(*interp.Callback); isCallout {
				out.Annotation = "breakpoint call-out"
			} else {
				out.Annotation = formatConstant(out.Constant)
			}
		}
		instructions = append(instructions, out)
		offset += ins.Size
	}

	for i := range instructions {
		instructions[i].IsTarget = targets[instructions[i].Offset]
	}
	return instructions, nil
}

func formatConstant(c any) string {
	switch v := c.(type) {
	case string:
		if len(v) > 80 {
			v = v[:77] + "..."
		}
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Print writes a table rendering of the instructions to the writer.
// Branch targets are flagged with ">>" in the offset column.
func Print(instructions []Instruction, writer io.Writer) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	var rows [][]string
	for _, ins := range instructions {
		offset := fmt.Sprintf("%d", ins.Offset)
		if ins.IsTarget {
			offset = ">> " + offset
		}
		operand := ""
		if ins.HasArg {
			operand = fmt.Sprintf("%d", ins.Arg)
		}
		info := ins.Annotation
		switch {
		case ins.Target >= 0:
			info = cyan.Sprint(info)
		case ins.Constant != nil:
			info = green.Sprint(info)
		}
		rows = append(rows, []string{offset, bold.Sprint(ins.Name), operand, info})
	}

	table.NewTable(writer).
		WithHeader([]string{"OFFSET", "OPCODE", "OPERANDS", "INFO"}).
		WithColumnAlignment([]table.Alignment{
			table.AlignRight,
			table.AlignLeft,
			table.AlignRight,
			table.AlignLeft,
		}).
		WithHeaderAlignment([]table.Alignment{
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
		}).
		WithRows(rows).
		Render()
}
