// Package tracepoint instruments a running interpreter with zero-overhead
// breakpoints. Breakpoints are compiled directly into method bodies by
// rewriting their bytecode in place, so an unhit breakpoint costs nothing
// on any other code path.
//
// The Engine is the explicit context object tying the pieces together: the
// breakpoint registry and per-method patch sets, an optional hit quota, an
// optional data visibility policy and an optional expression tracer for
// breakpoint conditions. An engine does nothing until Attach and releases
// everything on Detach.
//
// The engine performs no locking of its own. Callers invoke every method,
// and run every patched body, while holding the host interpreter's global
// execution lock.
package tracepoint

import (
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/tracepoint/breakpoint"
	"github.com/deepnoodle-ai/tracepoint/interp"
	"github.com/deepnoodle-ai/tracepoint/op"
	"github.com/deepnoodle-ai/tracepoint/ratelimit"
	"github.com/deepnoodle-ai/tracepoint/visibility"
)

var (
	// ErrNotAttached indicates an engine operation before Attach or after
	// Detach.
	ErrNotAttached = errors.New("engine not attached")

	// ErrUnknownBreakpoint indicates a breakpoint ID this engine never
	// issued.
	ErrUnknownBreakpoint = errors.New("unknown breakpoint id")

	// ErrBlockedByPolicy indicates a method the visibility policy does
	// not permit breakpoints in.
	ErrBlockedByPolicy = errors.New("method blocked by visibility policy")

	// ErrQuotaExceeded indicates a breakpoint retired because its hits
	// exhausted the engine's cost quota.
	ErrQuotaExceeded = errors.New("breakpoint cost quota exceeded")

	// ErrConditionMutates indicates a breakpoint condition with side
	// effects; such breakpoints are retired rather than re-evaluated.
	ErrConditionMutates = errors.New("breakpoint condition has side effects")
)

// hitCost is the quota charge for dispatching one unconditional hit.
// Conditional hits are charged their traced instruction count instead.
const hitCost = 1

// Breakpoint describes one breakpoint to set.
type Breakpoint struct {
	// Method is the compiled method to instrument.
	Method interp.MethodObject

	// Line is the source line to break on.
	Line int

	// Condition optionally gates the hit callback. It is evaluated by the
	// engine's tracer on every hit and must be side effect free.
	Condition string

	// OnHit fires each time execution reaches the breakpoint location
	// and the condition, if any, holds.
	OnHit func()

	// OnError fires when the breakpoint fails: rewrite refusal, a
	// mutating condition, or quota exhaustion. The breakpoint is retired
	// by then. Optional.
	OnError func(error)
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	log     zerolog.Logger
	format  op.Format
	limiter *ratelimit.Bucket
	policy  *visibility.Policy
	tracer  interp.MutationTracer
}

func collectOptions(opts ...Option) *options {
	o := &options{
		log:    zerolog.Nop(),
		format: op.FormatModern,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// WithLogger sets the engine's logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithFormat selects the bytecode format of the instrumented interpreter.
// The default is the modern 2-byte-unit format.
func WithFormat(format op.Format) Option {
	return func(o *options) {
		o.format = format
	}
}

// WithHitLimiter caps the execution cost breakpoints may consume. A
// breakpoint whose hits exhaust the bucket is retired with
// ErrQuotaExceeded. Without a limiter, hits are never throttled.
func WithHitLimiter(limiter *ratelimit.Bucket) Option {
	return func(o *options) {
		o.limiter = limiter
	}
}

// WithVisibility restricts which methods may carry breakpoints. Setting a
// breakpoint in a method whose name the policy blocks fails with
// ErrBlockedByPolicy.
func WithVisibility(policy *visibility.Policy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// WithTracer provides the expression tracer evaluating breakpoint
// conditions. Breakpoints with a Condition require one.
func WithTracer(tracer interp.MutationTracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// Engine owns all instrumentation state for one interpreter.
type Engine struct {
	log     zerolog.Logger
	format  op.Format
	limiter *ratelimit.Bucket
	policy  *visibility.Policy
	tracer  interp.MutationTracer

	registry *breakpoint.Registry
	cookies  map[string]int
}

// New creates an engine. It is inert until Attach.
func New(opts ...Option) *Engine {
	o := collectOptions(opts...)
	return &Engine{
		log:     o.log,
		format:  o.format,
		limiter: o.limiter,
		policy:  o.policy,
		tracer:  o.tracer,
	}
}

// Attach initializes the engine against the interpreter. Attaching an
// already attached engine is a no-op.
func (e *Engine) Attach() {
	if e.registry != nil {
		return
	}
	e.registry = breakpoint.NewRegistry(e.format, e.log)
	e.cookies = map[string]int{}
	e.log.Info().Msg("tracepoint engine attached")
}

// Detach clears every breakpoint, restores every patched method to its
// original body and returns the engine to the inert state. Superseded
// body buffers stay allocated until released via ReleaseRetired on a
// re-attached engine, or reclaimed by the collector with the engine.
func (e *Engine) Detach() error {
	if e.registry == nil {
		return nil
	}
	err := e.registry.Detach()
	e.registry = nil
	e.cookies = nil
	e.log.Info().Msg("tracepoint engine detached")
	return err
}

// Attached reports whether the engine is attached.
func (e *Engine) Attached() bool {
	return e.registry != nil
}

// SetBreakpoint installs a breakpoint and returns its opaque ID. The
// returned ID is valid even when installation failed; the breakpoint is
// then in StatusError and retried on the method's next repatch.
func (e *Engine) SetBreakpoint(spec Breakpoint) (string, error) {
	if e.registry == nil {
		return "", ErrNotAttached
	}
	if e.policy != nil {
		if visible, reason := e.policy.IsVisible(spec.Method.Name()); !visible {
			return "", fmt.Errorf("%w: %s: %s", ErrBlockedByPolicy, spec.Method.Name(), reason)
		}
	}

	id := uuid.Must(uuid.NewV4()).String()
	cookie, err := e.registry.Set(spec.Method, spec.Line, e.dispatch(id, spec), spec.OnError)
	if err != nil && cookie < 0 {
		return "", err
	}
	e.cookies[id] = cookie
	e.log.Debug().Str("id", id).Str("method", spec.Method.Name()).
		Int("line", spec.Line).Msg("breakpoint set")
	return id, err
}

// ClearBreakpoint removes a breakpoint and restores its method body if it
// carried the last one.
func (e *Engine) ClearBreakpoint(id string) error {
	if e.registry == nil {
		return ErrNotAttached
	}
	cookie, ok := e.cookies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBreakpoint, id)
	}
	return e.registry.Clear(cookie)
}

// BreakpointStatus returns the lifecycle state of a breakpoint, or
// StatusUnknown for an ID the engine never issued.
func (e *Engine) BreakpointStatus(id string) breakpoint.Status {
	if e.registry == nil {
		return breakpoint.StatusUnknown
	}
	cookie, ok := e.cookies[id]
	if !ok {
		return breakpoint.StatusUnknown
	}
	return e.registry.Status(cookie)
}

// ReleaseRetired frees superseded method body buffers covered by the
// quiescence attestation and returns how many were released.
func (e *Engine) ReleaseRetired(q interp.Quiescence) int {
	if e.registry == nil {
		return 0
	}
	return e.registry.ReleaseRetired(q)
}

// dispatch wraps a breakpoint's hit callback with condition evaluation
// and quota accounting. It runs inside the patched method, under the
// interpreter's execution lock.
func (e *Engine) dispatch(id string, spec Breakpoint) func() {
	return func() {
		if spec.Condition != "" {
			if !e.evalCondition(id, spec) {
				return
			}
		} else if !e.charge(hitCost) {
			e.retire(id, spec, ErrQuotaExceeded)
			return
		}
		if spec.OnHit != nil {
			spec.OnHit()
		}
	}
}

// evalCondition reports whether the hit callback should fire. A mutating
// condition, a tracer failure or quota exhaustion retires the breakpoint.
func (e *Engine) evalCondition(id string, spec Breakpoint) bool {
	if e.tracer == nil {
		e.retire(id, spec, fmt.Errorf("condition %q: no tracer configured", spec.Condition))
		return false
	}
	mutated, steps, err := e.tracer.Trace(spec.Condition)
	if !e.charge(int64(steps)) {
		e.retire(id, spec, ErrQuotaExceeded)
		return false
	}
	if err != nil {
		e.retire(id, spec, fmt.Errorf("condition %q: %w", spec.Condition, err))
		return false
	}
	if mutated {
		e.retire(id, spec, fmt.Errorf("%w: %q", ErrConditionMutates, spec.Condition))
		return false
	}
	return true
}

func (e *Engine) charge(cost int64) bool {
	if e.limiter == nil {
		return true
	}
	return e.limiter.Request(cost)
}

// retire clears a breakpoint from inside its own hit dispatch and reports
// why to the owner.
func (e *Engine) retire(id string, spec Breakpoint, cause error) {
	e.log.Warn().Err(cause).Str("id", id).Str("method", spec.Method.Name()).
		Int("line", spec.Line).Msg("retiring breakpoint")
	if cookie, ok := e.cookies[id]; ok {
		if err := e.registry.Clear(cookie); err != nil {
			e.log.Error().Err(err).Str("id", id).Msg("failed to clear breakpoint")
		}
	}
	if spec.OnError != nil {
		spec.OnError(cause)
	}
}
