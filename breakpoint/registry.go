// Package breakpoint exposes the cookie-keyed breakpoint lifecycle on top
// of the per-method patching machinery.
//
// A breakpoint moves through the states Inactive, Active, Error and Done.
// Registration leaves it Inactive without touching the target method;
// activation installs it and lands on Active or Error depending on whether
// the rewrite succeeded; clearing always ends on Done. Active and Error
// may flip back and forth as other breakpoints in the same method force
// repatches.
package breakpoint

import (
	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/tracepoint/interp"
	"github.com/deepnoodle-ai/tracepoint/op"
	"github.com/deepnoodle-ai/tracepoint/patch"
)

// Status is a breakpoint's lifecycle state.
type Status = patch.Status

const (
	StatusUnknown  = patch.StatusUnknown
	StatusInactive = patch.StatusInactive
	StatusActive   = patch.StatusActive
	StatusError    = patch.StatusError
	StatusDone     = patch.StatusDone
)

// Registry manages breakpoints across all methods of one interpreter. It
// inherits the patching machinery's locking discipline: callers hold the
// interpreter's global execution lock around every call.
type Registry struct {
	manager *patch.Manager
}

// NewRegistry creates a registry patching bodies in the given bytecode
// format.
func NewRegistry(format op.Format, log zerolog.Logger) *Registry {
	return &Registry{manager: patch.NewManager(format, log)}
}

// Register creates a breakpoint on a source line of the given method and
// returns its cookie. The method body is not modified until Activate. The
// hit callback fires on every execution of the breakpoint location; the
// error callback fires if registration or any later repatch fails for
// this breakpoint.
func (r *Registry) Register(method interp.MethodObject, line int, hit func(), onError func(error)) (int, error) {
	return r.manager.Register(method, line, hit, onError)
}

// Activate installs a registered breakpoint into its method body. The
// resulting state is Active, or Error if the bytecode rewrite was refused.
// Unknown or Done cookies are ignored.
func (r *Registry) Activate(cookie int) error {
	return r.manager.Activate(cookie)
}

// Set registers and immediately activates a breakpoint. The returned
// cookie is valid even when activation failed; the breakpoint is then in
// the Error state and retried on the method's next repatch.
func (r *Registry) Set(method interp.MethodObject, line int, hit func(), onError func(error)) (int, error) {
	cookie, err := r.manager.Register(method, line, hit, onError)
	if err != nil {
		return cookie, err
	}
	return cookie, r.manager.Activate(cookie)
}

// Clear removes a breakpoint and repatches its method; the last clear in
// a method restores the original body exactly. Unknown or Done cookies
// are ignored.
func (r *Registry) Clear(cookie int) error {
	return r.manager.Clear(cookie)
}

// Status returns the breakpoint's lifecycle state, or StatusUnknown for a
// cookie the registry never issued.
func (r *Registry) Status(cookie int) Status {
	return r.manager.Status(cookie)
}

// Detach clears every breakpoint and restores every patched method.
func (r *Registry) Detach() error {
	return r.manager.Detach()
}

// ReleaseRetired frees superseded body buffers covered by the quiescence
// attestation and returns how many were released.
func (r *Registry) ReleaseRetired(q interp.Quiescence) int {
	return r.manager.ReleaseRetired(q)
}

// RetiredCount returns the number of superseded body buffers still held.
func (r *Registry) RetiredCount() int {
	return r.manager.RetiredCount()
}
