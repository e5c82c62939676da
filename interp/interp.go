// Package interp defines the interfaces through which the instrumentation
// engine touches the host interpreter, together with an in-memory
// reference implementation used in tests.
//
// The engine never walks live stacks or threads itself: it takes method
// bodies as values and installs new values through these interfaces, always
// under the host's global execution lock.
package interp

// MethodObject is the host interpreter's handle to one compiled method.
// Implementations must be comparable (typically a pointer) so the patch
// manager can key its bookkeeping by method.
type MethodObject interface {
	// Name returns the method's qualified name, for diagnostics only.
	Name() string

	// Code returns the current raw instruction bytes.
	Code() []byte

	// SetCode installs a new instruction stream.
	SetCode(code []byte)

	// LineTable returns the current encoded line table. The second value
	// is false for methods with no line information.
	LineTable() ([]byte, bool)

	// SetLineTable installs a new encoded line table.
	SetLineTable(table []byte)

	// FirstLine returns the method's declared first source line.
	FirstLine() int

	// Consts returns the method's constant pool as an ordered sequence of
	// opaque value handles.
	Consts() []any

	// SetConsts replaces the constant pool. The pool is append-only from
	// the engine's perspective: a replacement is always the original pool
	// plus trailing callback entries.
	SetConsts(consts []any)

	// StackDepthHint returns the interpreter's precomputed operand stack
	// bound for this method.
	StackDepthHint() int

	// SetStackDepthHint updates the stack bound. The call-out sequence
	// temporarily occupies one extra slot, so a patched method carries a
	// hint one higher than its original.
	SetStackDepthHint(depth int)
}

// FrameEnumerator walks live execution contexts. It is used by the
// thread-attachment layer around the engine, never by the rewriter, which
// only transforms method bodies as values.
type FrameEnumerator interface {
	// Frames invokes fn for each live frame's method and current offset.
	// Enumeration stops early if fn returns false.
	Frames(fn func(method MethodObject, offset int) bool)
}

// MutationTracer is the external immutability tracer consulted by the
// conditional-breakpoint layer: it evaluates an expression while vetoing
// any operation that would mutate interpreter state.
type MutationTracer interface {
	// Trace evaluates the expression and reports whether state was
	// mutated, along with the number of instructions executed.
	Trace(expr string) (mutated bool, steps int, err error)
}

// Quiescence attests that no live frame references method body
// generations at or below a given generation number. The patch manager
// uses it to release superseded code buffers; without an attestation the
// buffers are retained, a documented bounded leak.
type Quiescence interface {
	// QuiescentBelow reports whether every live frame runs a body of a
	// generation strictly greater than gen.
	QuiescentBelow(gen uint64) bool
}
