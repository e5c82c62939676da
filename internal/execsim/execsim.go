// Package execsim runs method bodies in a tiny stack machine. It exists
// for the test suites: patched bodies are executed for real, so hit
// counts, trampoline jumps and stack headroom are observed rather than
// inferred from the bytes.
package execsim

import (
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/tracepoint/bytecode"
	"github.com/deepnoodle-ai/tracepoint/interp"
	"github.com/deepnoodle-ai/tracepoint/op"
)

// stepLimit bounds one Run call. Rewritten bodies are tiny; hitting the
// limit means a branch fixup produced an unintended loop.
const stepLimit = 100000

var (
	ErrBadOpcode      = errors.New("opcode not supported")
	ErrBadConstIndex  = errors.New("constant index out of range")
	ErrBadJumpTarget  = errors.New("jump target out of range")
	ErrNotCallable    = errors.New("value is not callable")
	ErrStackOverflow  = errors.New("stack depth hint exceeded")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrStepLimit      = errors.New("step limit exceeded")
	ErrNoReturn       = errors.New("execution ran past end of code")
)

// Result is the outcome of one method execution.
type Result struct {
	// Value is the operand ReturnValue popped.
	Value any
	// Yields holds every value a Yield or YieldFrom produced, in order.
	Yields []any
	// Steps is the number of instructions executed.
	Steps int
	// MaxDepth is the deepest the operand stack grew.
	MaxDepth int
}

// frame is one in-flight execution. It holds the code and constant pool
// it started with, the way a real interpreter frame keeps raw references
// into the method object.
type frame struct {
	code     []byte
	consts   []any
	depthCap int
	stack    []any
	result   Result
}

// Run executes the method's current body in the modern instruction format
// and returns the value passed to ReturnValue. The operand stack is capped
// at the method's stack depth hint.
func Run(method interp.MethodObject) (Result, error) {
	f := &frame{
		code:     method.Code(),
		consts:   method.Consts(),
		depthCap: method.StackDepthHint(),
	}
	return f.run()
}

func (f *frame) run() (Result, error) {
	pc := 0
	for f.result.Steps < stepLimit {
		if pc < 0 || pc > len(f.code) {
			return f.result, fmt.Errorf("%w: pc %d", ErrBadJumpTarget, pc)
		}
		if pc == len(f.code) {
			return f.result, ErrNoReturn
		}
		ins := bytecode.ReadInstruction(op.FormatModern, f.code, pc)
		if ins.IsInvalid() {
			return f.result, fmt.Errorf("%w: undecodable unit at %d", ErrBadOpcode, pc)
		}
		f.result.Steps++
		next := pc + ins.Size

		switch ins.Opcode {
		case op.Nop:

		case op.LoadConst:
			if int(ins.Arg) >= len(f.consts) {
				return f.result, fmt.Errorf("%w: %d", ErrBadConstIndex, ins.Arg)
			}
			if err := f.push(f.consts[ins.Arg]); err != nil {
				return f.result, err
			}

		case op.Call:
			callee, err := f.pop()
			if err != nil {
				return f.result, err
			}
			ret, err := call(callee)
			if err != nil {
				return f.result, err
			}
			if err := f.push(ret); err != nil {
				return f.result, err
			}

		case op.PopTop:
			if _, err := f.pop(); err != nil {
				return f.result, err
			}

		case op.DupTop:
			v, err := f.pop()
			if err != nil {
				return f.result, err
			}
			f.push(v)
			if err := f.push(v); err != nil {
				return f.result, err
			}

		case op.Yield, op.YieldFrom:
			v, err := f.pop()
			if err != nil {
				return f.result, err
			}
			f.result.Yields = append(f.result.Yields, v)

		case op.JumpForward:
			target, _ := bytecode.BranchTarget(op.FormatModern, pc, ins)
			next = target

		case op.JumpAbsolute:
			next = int(ins.Arg)

		case op.PopJumpIfFalse, op.PopJumpIfTrue:
			v, err := f.pop()
			if err != nil {
				return f.result, err
			}
			if truthy(v) == (ins.Opcode == op.PopJumpIfTrue) {
				next = int(ins.Arg)
			}

		case op.ReturnValue:
			v, err := f.pop()
			if err != nil {
				return f.result, err
			}
			f.result.Value = v
			return f.result, nil

		default:
			return f.result, fmt.Errorf("%w: %d at %d", ErrBadOpcode, ins.Opcode, pc)
		}
		pc = next
	}
	return f.result, ErrStepLimit
}

func (f *frame) push(v any) error {
	f.stack = append(f.stack, v)
	if len(f.stack) > f.result.MaxDepth {
		f.result.MaxDepth = len(f.stack)
	}
	if len(f.stack) > f.depthCap {
		return fmt.Errorf("%w: depth %d, hint %d", ErrStackOverflow, len(f.stack), f.depthCap)
	}
	return nil
}

func (f *frame) pop() (any, error) {
	if len(f.stack) == 0 {
		return nil, ErrStackUnderflow
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func call(callee any) (any, error) {
	switch fn := callee.(type) {
	case *interp.Callback:
		fn.Invoke()
		return nil, nil
	case func():
		fn()
		return nil, nil
	case func() any:
		return fn(), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrNotCallable, callee)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int:
		return t != 0
	default:
		return true
	}
}
