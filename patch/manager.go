// Package patch tracks the breakpoints set in each compiled method and
// merges them into rewritten method bodies.
//
// All bookkeeping is keyed by the original, unpatched body: breakpoint
// offsets are resolved once against the original line table, and every
// repatch recomputes the installed body from the original plus the full
// set of eligible breakpoints. The installed state is therefore always
// idempotently re-derivable and a full clear restores the original body
// byte for byte.
//
// The manager performs no locking. Every mutating call happens while the
// caller holds the host interpreter's global execution lock, which already
// serializes it against interpreted execution and against other mutations.
package patch

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/tracepoint/bytecode"
	"github.com/deepnoodle-ai/tracepoint/interp"
	"github.com/deepnoodle-ai/tracepoint/linetable"
	"github.com/deepnoodle-ai/tracepoint/op"
	"github.com/deepnoodle-ai/tracepoint/rewrite"
)

// MaxMethodConsts caps the constant pool size of a patchable method.
// Breakpoint patching appends one callback per breakpoint; beyond this
// index the call-out's LoadConst would need widths the patcher does not
// emit for itself.
const MaxMethodConsts = 0xF000

// cookieBase is the first cookie value ever issued. Cookies are never
// reused.
const cookieBase = 1000000

// ErrConstantPoolExhausted indicates the method already carries the
// maximum number of constants a breakpoint slot can address.
var ErrConstantPoolExhausted = errors.New("method constant pool exhausted")

// ErrLineNotFound indicates the requested source line has no entry in the
// method's line table.
var ErrLineNotFound = errors.New("line not found in method")

// ErrMethodInvalid indicates a method object with no code or a corrupted
// constant pool.
var ErrMethodInvalid = errors.New("method object invalid")

// Breakpoint is the manager's record of one registered breakpoint.
type Breakpoint struct {
	method   interp.MethodObject
	line     int
	offset   int // resolved against the original, unpatched line table
	callback *interp.Callback
	onError  func(error)
	cookie   int
	status   Status
	eligible bool
}

// Cookie returns the breakpoint's unique handle.
func (b *Breakpoint) Cookie() int { return b.cookie }

// Line returns the source line the breakpoint was registered on.
func (b *Breakpoint) Line() int { return b.line }

// Status returns the breakpoint's current lifecycle state.
func (b *Breakpoint) Status() Status { return b.status }

// zombie is a retired body generation. The executing interpreter may still
// hold raw references into it, so it is only released on an explicit
// quiescence attestation.
type zombie struct {
	gen    uint64
	code   []byte
	consts []any
}

// entry is the per-method patch set: the immutable original body and
// everything needed to recompute the installed body from scratch.
type entry struct {
	method            interp.MethodObject
	original          *bytecode.Method
	originalConsts    []any
	originalStackHint int

	// breakpoints ordered by descending offset, so that merging patches
	// highest-first keeps lower offsets valid throughout one pass.
	breakpoints []*Breakpoint

	generation uint64
	zombies    []zombie
}

func (e *entry) eligibleCount() int {
	n := 0
	for _, bp := range e.breakpoints {
		if bp.eligible {
			n++
		}
	}
	return n
}

// Manager owns all per-method patch bookkeeping for one engine instance.
type Manager struct {
	format  op.Format
	log     zerolog.Logger
	cookies map[int]*Breakpoint
	patches map[interp.MethodObject]*entry
	next    int
}

// NewManager creates a patch set manager for the given bytecode format.
func NewManager(format op.Format, log zerolog.Logger) *Manager {
	return &Manager{
		format:  format,
		log:     log,
		cookies: map[int]*Breakpoint{},
		patches: map[interp.MethodObject]*entry{},
		next:    cookieBase,
	}
}

// Register creates a breakpoint at the given source line. The offset is
// resolved against the original, unpatched line table, a cookie is
// allocated, and the breakpoint starts Inactive; the live method body is
// not touched. On failure the error callback is invoked and a non-nil
// error returned.
func (m *Manager) Register(method interp.MethodObject, line int, hit func(), onError func(error)) (int, error) {
	fail := func(err error) (int, error) {
		m.log.Error().Err(err).Str("method", method.Name()).Int("line", line).
			Msg("cannot register breakpoint")
		if onError != nil {
			onError(err)
		}
		return -1, err
	}

	e, err := m.prepare(method)
	if err != nil {
		return fail(err)
	}

	offset, ok := offsetForLine(e.original, line)
	if !ok {
		return fail(fmt.Errorf("%w: line %d in %s", ErrLineNotFound, line, method.Name()))
	}

	cookie := m.next
	m.next++

	bp := &Breakpoint{
		method:   method,
		line:     line,
		offset:   offset,
		callback: interp.NewCallback(hit),
		onError:  onError,
		cookie:   cookie,
		status:   StatusInactive,
	}
	e.insert(bp)
	m.cookies[cookie] = bp
	return cookie, nil
}

// Activate marks a registered breakpoint eligible for patching and
// repatches its method. Any breakpoint in the same method that previously
// failed to activate is retried in the same pass. Unknown cookies are
// ignored.
func (m *Manager) Activate(cookie int) error {
	bp, ok := m.cookies[cookie]
	if !ok || bp.status == StatusDone {
		return nil
	}
	bp.eligible = true
	return m.repatch(m.patches[bp.method])
}

// Clear removes a breakpoint, repatches its method and retires the
// breakpoint record. Clearing the last breakpoint in a method restores the
// original body exactly. Unknown cookies are ignored.
func (m *Manager) Clear(cookie int) error {
	bp, ok := m.cookies[cookie]
	if !ok || bp.status == StatusDone {
		return nil
	}

	// Disable before repatching: even if the call-out stays installed in
	// a superseded body some frame is still executing, the callback fires
	// as a no-op.
	bp.callback.Disable()
	bp.status = StatusDone
	bp.eligible = false

	e := m.patches[bp.method]
	e.remove(bp)
	err := m.repatch(e)

	if len(e.breakpoints) == 0 && len(e.zombies) == 0 {
		delete(m.patches, bp.method)
	}
	return err
}

// Status returns the lifecycle state for a cookie, or StatusUnknown for a
// cookie that was never issued.
func (m *Manager) Status(cookie int) Status {
	bp, ok := m.cookies[cookie]
	if !ok {
		return StatusUnknown
	}
	return bp.status
}

// Detach clears every breakpoint and restores every patched method to its
// original body. Retired buffers stay in their zombie pools until released
// by a quiescence attestation.
func (m *Manager) Detach() error {
	var result error
	for _, e := range m.patches {
		for _, bp := range e.breakpoints {
			bp.callback.Disable()
			bp.status = StatusDone
			bp.eligible = false
		}
		e.breakpoints = nil
		if err := m.repatch(e); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for method, e := range m.patches {
		if len(e.breakpoints) == 0 && len(e.zombies) == 0 {
			delete(m.patches, method)
		}
	}
	return result
}

// ReleaseRetired frees every retired body generation the given attestation
// covers and returns the number of buffers released. Entries left with no
// breakpoints and no zombies are discarded.
func (m *Manager) ReleaseRetired(q interp.Quiescence) int {
	released := 0
	for method, e := range m.patches {
		kept := e.zombies[:0]
		for _, z := range e.zombies {
			if q.QuiescentBelow(z.gen) {
				released++
			} else {
				kept = append(kept, z)
			}
		}
		e.zombies = kept
		if len(e.breakpoints) == 0 && len(e.zombies) == 0 {
			delete(m.patches, method)
		}
	}
	return released
}

// RetiredCount returns the number of retired body buffers not yet
// released.
func (m *Manager) RetiredCount() int {
	n := 0
	for _, e := range m.patches {
		n += len(e.zombies)
	}
	return n
}

// prepare loads the per-method entry, snapshotting the original body on
// first touch.
func (m *Manager) prepare(method interp.MethodObject) (*entry, error) {
	if e, ok := m.patches[method]; ok {
		if len(e.originalConsts)+e.eligibleCount() >= MaxMethodConsts {
			return nil, ErrConstantPoolExhausted
		}
		return e, nil
	}

	code := method.Code()
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %s has no code", ErrMethodInvalid, method.Name())
	}
	consts := method.Consts()
	if len(consts) >= MaxMethodConsts {
		return nil, ErrConstantPoolExhausted
	}

	table, hasTable := method.LineTable()
	e := &entry{
		method: method,
		original: bytecode.NewMethod(bytecode.MethodParams{
			Name:         method.Name(),
			Code:         code,
			LineTable:    table,
			HasLineTable: hasTable,
			FirstLine:    method.FirstLine(),
		}),
		originalConsts:    append([]any{}, consts...),
		originalStackHint: method.StackDepthHint(),
	}
	m.patches[method] = e
	return e, nil
}

// repatch recomputes and installs the method body from the original plus
// all eligible breakpoints, highest offset first. A breakpoint whose
// insertion fails is marked Error and its error callback is invoked after
// the rest of the merge has been installed; one failing breakpoint never
// blocks the others.
func (m *Manager) repatch(e *entry) error {
	if e == nil {
		return nil
	}

	current := e.method.Code()
	currentConsts := e.method.Consts()

	if e.eligibleCount() == 0 {
		// Restore the original body exactly.
		e.retire(current, currentConsts)
		e.method.SetCode(e.original.Code())
		if e.original.HasLineTable() {
			e.method.SetLineTable(e.original.LineTable())
		}
		e.method.SetConsts(append([]any{}, e.originalConsts...))
		e.method.SetStackDepthHint(e.originalStackHint)
		return nil
	}

	man := rewrite.NewManipulator(m.format, e.original)

	type failure struct {
		bp  *Breakpoint
		err error
	}
	var failures []failure
	callbacks := make([]any, 0, len(e.breakpoints))

	constIndex := len(e.originalConsts)
	for _, bp := range e.breakpoints {
		if !bp.eligible {
			continue
		}
		callbacks = append(callbacks, bp.callback)

		// Earlier insertions in this pass may have widened instructions
		// and shifted line positions, so the offset is re-resolved
		// against the manipulator's current line table rather than
		// trusted from registration time.
		offset := bp.offset
		found := true
		if man.HasLineTable() {
			offset, found = linetable.OffsetForLine(
				e.original.FirstLine(), man.LineTable(), bp.line)
		}

		var err error
		if !found {
			err = fmt.Errorf("%w: line %d after repatch", ErrLineNotFound, bp.line)
		} else {
			err = man.InjectCall(offset, constIndex)
		}
		if err != nil {
			m.log.Warn().Err(err).Int("cookie", bp.cookie).
				Str("method", e.method.Name()).Int("line", bp.line).
				Msg("failed to insert breakpoint bytecode")
			bp.status = StatusError
			failures = append(failures, failure{bp: bp, err: err})
		} else {
			bp.status = StatusActive
		}
		constIndex++
	}

	// Install the merged body. The superseded buffers go to the zombie
	// pool: a frame may still be executing them.
	e.retire(current, currentConsts)
	e.method.SetConsts(append(append([]any{}, e.originalConsts...), callbacks...))
	e.method.SetStackDepthHint(e.originalStackHint + 1)
	e.method.SetCode(man.Code())
	if man.HasLineTable() {
		e.method.SetLineTable(man.LineTable())
	}

	// Error callbacks run only after the install: a callback may clear
	// its breakpoint, which re-enters the manager.
	var result error
	for _, f := range failures {
		result = multierror.Append(result, f.err)
		if f.bp.onError != nil {
			f.bp.onError(f.err)
		}
	}
	return result
}

// retire moves the currently installed buffers into the zombie pool and
// advances the generation counter.
func (e *entry) retire(code []byte, consts []any) {
	e.zombies = append(e.zombies, zombie{gen: e.generation, code: code, consts: consts})
	e.generation++
}

// insert adds a breakpoint keeping the list ordered by descending offset.
func (e *entry) insert(bp *Breakpoint) {
	at := len(e.breakpoints)
	for i, other := range e.breakpoints {
		if other.offset < bp.offset {
			at = i
			break
		}
	}
	e.breakpoints = append(e.breakpoints, nil)
	copy(e.breakpoints[at+1:], e.breakpoints[at:])
	e.breakpoints[at] = bp
}

// remove deletes a breakpoint from the entry's ordered list.
func (e *entry) remove(bp *Breakpoint) {
	for i, other := range e.breakpoints {
		if other == bp {
			e.breakpoints = append(e.breakpoints[:i], e.breakpoints[i+1:]...)
			return
		}
	}
}

// offsetForLine resolves a source line against a method's line table.
func offsetForLine(method *bytecode.Method, line int) (int, bool) {
	if !method.HasLineTable() {
		return 0, false
	}
	return linetable.OffsetForLine(method.FirstLine(), method.LineTable(), line)
}
