package interp

// Callback wraps a zero-argument native callback as a value the rewritten
// bytecode's call-out sequence invokes from the constant pool.
//
// A callback supports one-shot disable: once disabled, invocations become
// no-ops. This lets a breakpoint be torn down immediately without
// re-patching every call site first; the patched-in call-out keeps firing
// harmlessly until the next repatch removes it.
//
// Callbacks are not independently thread-safe: like every mutating engine
// operation, Disable is called under the host's global execution lock,
// which also serializes bytecode execution and therefore Invoke.
type Callback struct {
	fn func()
}

// NewCallback wraps the given function.
func NewCallback(fn func()) *Callback {
	return &Callback{fn: fn}
}

// Invoke runs the wrapped function unless the callback has been disabled.
func (c *Callback) Invoke() {
	if c.fn != nil {
		c.fn()
	}
}

// Disable turns all subsequent invocations into no-ops.
func (c *Callback) Disable() {
	c.fn = nil
}
