package interp

import "github.com/deepnoodle-ai/tracepoint/bytecode"

// Object is an in-memory MethodObject implementation. The engine's tests
// and the execution simulator use it in place of a live interpreter.
type Object struct {
	name           string
	code           []byte
	lineTable      []byte
	hasLineTable   bool
	firstLine      int
	consts         []any
	stackDepthHint int
}

// NewObject creates a method object from a method snapshot and its
// constant pool.
func NewObject(method *bytecode.Method, consts []any, stackDepthHint int) *Object {
	table, hasTable := method.LineTable(), method.HasLineTable()
	return &Object{
		name:           method.Name(),
		code:           method.Code(),
		lineTable:      table,
		hasLineTable:   hasTable,
		firstLine:      method.FirstLine(),
		consts:         append([]any{}, consts...),
		stackDepthHint: stackDepthHint,
	}
}

func (o *Object) Name() string { return o.name }

func (o *Object) Code() []byte { return o.code }

func (o *Object) SetCode(code []byte) { o.code = code }

func (o *Object) LineTable() ([]byte, bool) { return o.lineTable, o.hasLineTable }

func (o *Object) SetLineTable(table []byte) {
	o.lineTable = table
	o.hasLineTable = true
}

func (o *Object) FirstLine() int { return o.firstLine }

func (o *Object) Consts() []any { return o.consts }

func (o *Object) SetConsts(consts []any) { o.consts = consts }

func (o *Object) StackDepthHint() int { return o.stackDepthHint }

func (o *Object) SetStackDepthHint(depth int) { o.stackDepthHint = depth }
