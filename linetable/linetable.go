// Package linetable encodes and decodes the compact delta-encoded table
// mapping bytecode offsets to source line numbers.
//
// The table is a sequence of (offset_delta, line_delta) byte pairs.
// Cumulative sums of the deltas, starting from offset zero and the method's
// declared first line, produce the (offset, line) breakpoint positions in
// strictly increasing offset order. Deltas that do not fit in one byte are
// chained: an offset delta of 0xFF with a zero line companion, or a line
// delta of 0xFF with a zero offset companion, continues into the next pair.
//
// The modern interpreter format additionally reserves the line delta value
// 0x80 as a "no associated line" sentinel; the codec rounds it through
// transparently.
package linetable

// NoLineSentinel is the modern-format line delta marking an entry with no
// associated source line.
const NoLineSentinel = 0x80

// Enumerator walks the breakpoint positions of an encoded line table.
//
// The enumerator starts positioned on the method's first line at offset
// zero. A zero-length or corrupted table is not an error: the enumerator
// simply yields no further entries.
//
// Usage:
//
//	e := linetable.NewEnumerator(firstLine, table)
//	for e.Next() {
//	    // e.Offset(), e.Line()
//	}
type Enumerator struct {
	table  []byte
	pos    int
	offset int
	line   int
}

// NewEnumerator creates an enumerator over the given encoded table. The
// initial line is the method's declared first line.
func NewEnumerator(firstLine int, table []byte) *Enumerator {
	e := &Enumerator{
		table: table,
		line:  firstLine,
	}
	// A leading zero offset delta means the first instruction belongs to
	// the following line, not to firstLine.
	if len(e.table) >= 2 && e.table[0] == 0 {
		e.Next()
	}
	return e
}

// Offset returns the bytecode offset of the current position.
func (e *Enumerator) Offset() int {
	return e.offset
}

// Line returns the source line number of the current position.
func (e *Enumerator) Line() int {
	return e.line
}

// Next advances to the next breakpoint position. It returns false once the
// table is exhausted, including when a chained delta is cut short by a
// corrupted table.
func (e *Enumerator) Next() bool {
	if e.pos+2 > len(e.table) {
		return false
	}
	for {
		offsetDelta := e.table[e.pos]
		lineDelta := e.table[e.pos+1]
		e.pos += 2

		e.offset += int(offsetDelta)
		e.line += int(lineDelta)

		// (0xFF, 0) and (0, 0xFF) are continuation pairs for deltas that
		// exceed one byte.
		stop := (offsetDelta != 0xFF || lineDelta != 0) &&
			(offsetDelta != 0 || lineDelta != 0xFF)
		if stop {
			return true
		}
		if e.pos+2 > len(e.table) {
			return false
		}
	}
}

// OffsetForLine resolves a source line to the bytecode offset of its first
// instruction. It returns false if the line has no entry in the table.
func OffsetForLine(firstLine int, table []byte, line int) (int, bool) {
	e := NewEnumerator(firstLine, table)
	for e.Line() != line {
		if !e.Next() {
			return 0, false
		}
	}
	return e.Offset(), true
}

// Append encodes one (offsetDelta, lineDelta) entry onto the table,
// emitting continuation pairs for deltas that exceed one byte. It is used
// to build tables; the deltas must be non-negative.
func Append(table []byte, offsetDelta, lineDelta int) []byte {
	for offsetDelta > 0xFF {
		table = append(table, 0xFF, 0)
		offsetDelta -= 0xFF
	}
	for lineDelta > 0xFF {
		table = append(table, 0, 0xFF)
		lineDelta -= 0xFF
	}
	return append(table, byte(offsetDelta), byte(lineDelta))
}
