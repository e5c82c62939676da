package patch

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/tracepoint/bytecode"
	"github.com/deepnoodle-ai/tracepoint/interp"
	"github.com/deepnoodle-ai/tracepoint/op"
)

func buildCode(instructions ...bytecode.Instruction) []byte {
	code := make([]byte, bytecode.InstructionsSize(instructions))
	bytecode.WriteInstructions(op.FormatModern, code, 0, instructions)
	return code
}

// sampleMethod builds a three instruction method starting on line 10:
//
//	offset 0  Nop          line 10
//	offset 2  LoadConst 0  line 11
//	offset 4  ReturnValue  line 11
func sampleMethod() *interp.Object {
	code := buildCode(
		bytecode.NewInstruction(op.FormatModern, op.Nop, 0),
		bytecode.NewInstruction(op.FormatModern, op.LoadConst, 0),
		bytecode.NewInstruction(op.FormatModern, op.ReturnValue, 0),
	)
	method := bytecode.NewMethod(bytecode.MethodParams{
		Name:         "sample",
		Code:         code,
		LineTable:    []byte{2, 1},
		HasLineTable: true,
		FirstLine:    10,
	})
	return interp.NewObject(method, []any{"result"}, 2)
}

func newTestManager() *Manager {
	return NewManager(op.FormatModern, zerolog.Nop())
}

type snapshot struct {
	code      []byte
	lineTable []byte
	consts    []any
	stackHint int
}

func capture(obj *interp.Object) snapshot {
	table, _ := obj.LineTable()
	return snapshot{
		code:      append([]byte{}, obj.Code()...),
		lineTable: append([]byte{}, table...),
		consts:    append([]any{}, obj.Consts()...),
		stackHint: obj.StackDepthHint(),
	}
}

func requireSnapshot(t *testing.T, obj *interp.Object, want snapshot) {
	t.Helper()
	table, _ := obj.LineTable()
	require.Equal(t, want.code, obj.Code())
	require.Equal(t, want.lineTable, table)
	require.Equal(t, want.consts, obj.Consts())
	require.Equal(t, want.stackHint, obj.StackDepthHint())
}

func TestRegisterDoesNotPatch(t *testing.T) {
	m := newTestManager()
	obj := sampleMethod()
	before := capture(obj)

	cookie, err := m.Register(obj, 11, func() {}, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, cookie, 1000000)
	require.Equal(t, StatusInactive, m.Status(cookie))
	requireSnapshot(t, obj, before)
}

func TestActivateInstallsCallout(t *testing.T) {
	m := newTestManager()
	obj := sampleMethod()

	hits := 0
	cookie, err := m.Register(obj, 11, func() { hits++ }, nil)
	require.NoError(t, err)
	require.NoError(t, m.Activate(cookie))
	require.Equal(t, StatusActive, m.Status(cookie))

	// The callback constant lands after the original pool and the method
	// gains one slot of stack headroom for the call-out.
	require.Len(t, obj.Consts(), 2)
	require.Equal(t, 3, obj.StackDepthHint())
	cb, ok := obj.Consts()[1].(*interp.Callback)
	require.True(t, ok)
	cb.Invoke()
	require.Equal(t, 1, hits)

	// Call-out at offset 2: LoadConst 1, Call 0, PopTop.
	want := buildCode(
		bytecode.NewInstruction(op.FormatModern, op.Nop, 0),
		bytecode.NewInstruction(op.FormatModern, op.LoadConst, 1),
		bytecode.NewInstruction(op.FormatModern, op.Call, 0),
		bytecode.NewInstruction(op.FormatModern, op.PopTop, 0),
		bytecode.NewInstruction(op.FormatModern, op.LoadConst, 0),
		bytecode.NewInstruction(op.FormatModern, op.ReturnValue, 0),
	)
	require.Equal(t, want, obj.Code())

	// The inserted range is charged to the line entry covering offset 2.
	table, has := obj.LineTable()
	require.True(t, has)
	require.Equal(t, []byte{2, 1}, table)
}

func TestClearRestoresOriginal(t *testing.T) {
	m := newTestManager()
	obj := sampleMethod()
	before := capture(obj)

	cookie, err := m.Register(obj, 11, func() {}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Activate(cookie))
	require.NotEqual(t, before.code, obj.Code())

	require.NoError(t, m.Clear(cookie))
	require.Equal(t, StatusDone, m.Status(cookie))
	requireSnapshot(t, obj, before)

	// Clearing again is a no-op.
	require.NoError(t, m.Clear(cookie))
	requireSnapshot(t, obj, before)
}

func TestTwoBreakpointsIndependentClear(t *testing.T) {
	m := newTestManager()
	obj := sampleMethod()
	before := capture(obj)

	c1, err := m.Register(obj, 10, func() {}, nil)
	require.NoError(t, err)
	c2, err := m.Register(obj, 11, func() {}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Activate(c1))
	require.NoError(t, m.Activate(c2))
	require.Equal(t, StatusActive, m.Status(c1))
	require.Equal(t, StatusActive, m.Status(c2))

	// Both call-outs installed: two extra instructions each.
	require.Len(t, obj.Code(), len(before.code)+12)

	require.NoError(t, m.Clear(c1))
	require.Equal(t, StatusDone, m.Status(c1))
	require.Equal(t, StatusActive, m.Status(c2))
	require.Len(t, obj.Code(), len(before.code)+6)

	require.NoError(t, m.Clear(c2))
	requireSnapshot(t, obj, before)
}

func TestRegisterLineNotFound(t *testing.T) {
	m := newTestManager()
	obj := sampleMethod()

	var got error
	cookie, err := m.Register(obj, 99, func() {}, func(e error) { got = e })
	require.ErrorIs(t, err, ErrLineNotFound)
	require.ErrorIs(t, got, ErrLineNotFound)
	require.Equal(t, -1, cookie)
	require.Equal(t, StatusUnknown, m.Status(cookie))
}

func TestRegisterConstantPoolExhausted(t *testing.T) {
	m := newTestManager()
	code := buildCode(
		bytecode.NewInstruction(op.FormatModern, op.Nop, 0),
		bytecode.NewInstruction(op.FormatModern, op.ReturnValue, 0),
	)
	method := bytecode.NewMethod(bytecode.MethodParams{
		Name:         "crowded",
		Code:         code,
		LineTable:    []byte{},
		HasLineTable: true,
		FirstLine:    1,
	})
	obj := interp.NewObject(method, make([]any, MaxMethodConsts), 1)

	_, err := m.Register(obj, 1, func() {}, nil)
	require.ErrorIs(t, err, ErrConstantPoolExhausted)
}

func TestActivateFailureMarksError(t *testing.T) {
	m := newTestManager()
	// A truncated trailing unit makes the body undecodable, so insertion
	// is refused while line resolution still works.
	method := bytecode.NewMethod(bytecode.MethodParams{
		Name:         "broken",
		Code:         []byte{byte(op.Nop), 0, byte(op.LoadConst)},
		LineTable:    []byte{},
		HasLineTable: true,
		FirstLine:    5,
	})
	obj := interp.NewObject(method, nil, 1)

	var got error
	cookie, err := m.Register(obj, 5, func() {}, func(e error) { got = e })
	require.NoError(t, err)
	err = m.Activate(cookie)
	require.Error(t, err)
	require.Error(t, got)
	require.Equal(t, StatusError, m.Status(cookie))

	// The callback is still appended so the constant pool layout stays
	// predictable for the breakpoints that did install.
	require.Len(t, obj.Consts(), 1)

	require.NoError(t, m.Clear(cookie))
	require.Equal(t, StatusDone, m.Status(cookie))
	require.Empty(t, obj.Consts())
}

func TestStatusUnknownCookie(t *testing.T) {
	m := newTestManager()
	require.Equal(t, StatusUnknown, m.Status(42))
	require.NoError(t, m.Activate(42))
	require.NoError(t, m.Clear(42))
}

func TestCookiesNeverReused(t *testing.T) {
	m := newTestManager()
	obj := sampleMethod()

	c1, err := m.Register(obj, 10, func() {}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Clear(c1))

	c2, err := m.Register(obj, 10, func() {}, nil)
	require.NoError(t, err)
	require.NotEqual(t, c1, c2)
	require.Equal(t, StatusDone, m.Status(c1))
	require.Equal(t, StatusInactive, m.Status(c2))
}

func TestClearDisablesCallback(t *testing.T) {
	m := newTestManager()
	obj := sampleMethod()

	hits := 0
	cookie, err := m.Register(obj, 11, func() { hits++ }, nil)
	require.NoError(t, err)
	require.NoError(t, m.Activate(cookie))

	cb := obj.Consts()[1].(*interp.Callback)
	require.NoError(t, m.Clear(cookie))

	// A frame still executing the superseded body holds this callback;
	// invoking it after the clear must be a no-op.
	cb.Invoke()
	require.Equal(t, 0, hits)
}

type allQuiet struct{}

func (allQuiet) QuiescentBelow(uint64) bool { return true }

type neverQuiet struct{}

func (neverQuiet) QuiescentBelow(uint64) bool { return false }

func TestRetiredBuffersReleasedOnQuiescence(t *testing.T) {
	m := newTestManager()
	obj := sampleMethod()

	cookie, err := m.Register(obj, 11, func() {}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Activate(cookie))
	require.NoError(t, m.Clear(cookie))

	// Activate and Clear each retired one body generation.
	require.Equal(t, 2, m.RetiredCount())
	require.Equal(t, 0, m.ReleaseRetired(neverQuiet{}))
	require.Equal(t, 2, m.RetiredCount())
	require.Equal(t, 2, m.ReleaseRetired(allQuiet{}))
	require.Equal(t, 0, m.RetiredCount())
}

func TestDetachRestoresEverything(t *testing.T) {
	m := newTestManager()
	obj1 := sampleMethod()
	obj2 := sampleMethod()
	before1 := capture(obj1)
	before2 := capture(obj2)

	c1, err := m.Register(obj1, 11, func() {}, nil)
	require.NoError(t, err)
	c2, err := m.Register(obj2, 10, func() {}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Activate(c1))
	require.NoError(t, m.Activate(c2))

	require.NoError(t, m.Detach())
	require.Equal(t, StatusDone, m.Status(c1))
	require.Equal(t, StatusDone, m.Status(c2))
	requireSnapshot(t, obj1, before1)
	requireSnapshot(t, obj2, before2)
}
