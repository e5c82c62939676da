package bytecode

// Method is an immutable snapshot of a compiled method body: the executable
// instruction stream plus its auxiliary line number table. Methods are
// never mutated in place; the rewriter produces entirely new Method values
// and the previous body stays intact for frames still executing it.
type Method struct {
	name         string
	code         []byte
	lineTable    []byte
	hasLineTable bool
	firstLine    int
}

// MethodParams contains parameters for creating a new Method.
type MethodParams struct {
	Name         string
	Code         []byte
	LineTable    []byte
	HasLineTable bool
	FirstLine    int
}

// NewMethod creates a new immutable Method from the given parameters.
// Input slices are copied so later caller mutation cannot be observed.
func NewMethod(params MethodParams) *Method {
	return &Method{
		name:         params.Name,
		code:         copyBytes(params.Code),
		lineTable:    copyBytes(params.LineTable),
		hasLineTable: params.HasLineTable,
		firstLine:    params.FirstLine,
	}
}

// Name returns the method name, used only for diagnostics.
func (m *Method) Name() string {
	return m.name
}

// Code returns a copy of the instruction stream.
func (m *Method) Code() []byte {
	return copyBytes(m.code)
}

// CodeSize returns the size of the instruction stream in bytes.
func (m *Method) CodeSize() int {
	return len(m.code)
}

// LineTable returns a copy of the encoded line number table.
func (m *Method) LineTable() []byte {
	return copyBytes(m.lineTable)
}

// HasLineTable reports whether the method carries a line number table.
func (m *Method) HasLineTable() bool {
	return m.hasLineTable
}

// FirstLine returns the method's declared first source line.
func (m *Method) FirstLine() int {
	return m.firstLine
}

// copyBytes returns a copy of the given byte slice.
func copyBytes(src []byte) []byte {
	if src == nil {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}
