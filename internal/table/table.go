// Package table renders rows of strings as an ASCII bordered table. Cell
// widths are computed on text with ANSI escape sequences stripped, so
// colored content does not break alignment.
package table

import (
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Alignment controls horizontal placement of text within a cell.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignCenter
	AlignRight
)

var ansiPattern = regexp.MustCompile("\x1b\\[[0-9;]*m")

func stripAnsi(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// Table accumulates rows and renders them to a writer.
type Table struct {
	w           io.Writer
	header      []string
	rows        [][]string
	columnAlign []Alignment
	headerAlign []Alignment
}

// NewTable creates a table writing to w.
func NewTable(w io.Writer) *Table {
	return &Table{w: w}
}

// WithHeader sets the header row.
func (t *Table) WithHeader(header []string) *Table {
	t.header = header
	return t
}

// WithColumnAlignment sets per-column alignment for body rows.
func (t *Table) WithColumnAlignment(align []Alignment) *Table {
	t.columnAlign = align
	return t
}

// WithHeaderAlignment sets per-column alignment for the header row.
func (t *Table) WithHeaderAlignment(align []Alignment) *Table {
	t.headerAlign = align
	return t
}

// WithRows replaces the body rows.
func (t *Table) WithRows(rows [][]string) *Table {
	t.rows = rows
	return t
}

// Append adds one body row.
func (t *Table) Append(row []string) *Table {
	t.rows = append(t.rows, row)
	return t
}

// Render writes the table.
func (t *Table) Render() {
	widths := t.columnWidths()

	t.writeBorder(widths)
	if len(t.header) > 0 {
		t.writeRow(t.header, widths, t.headerAlign)
		t.writeBorder(widths)
	}
	for _, row := range t.rows {
		t.writeRow(row, widths, t.columnAlign)
	}
	t.writeBorder(widths)
}

func (t *Table) columnWidths() []int {
	count := len(t.header)
	for _, row := range t.rows {
		if len(row) > count {
			count = len(row)
		}
	}
	widths := make([]int, count)
	measure := func(row []string) {
		for i, cell := range row {
			if w := len(stripAnsi(cell)); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.header)
	for _, row := range t.rows {
		measure(row)
	}
	return widths
}

func (t *Table) writeBorder(widths []int) {
	var sb strings.Builder
	sb.WriteByte('+')
	for _, w := range widths {
		sb.WriteString(strings.Repeat("-", w+2))
		sb.WriteByte('+')
	}
	fmt.Fprintln(t.w, sb.String())
}

func (t *Table) writeRow(row []string, widths []int, align []Alignment) {
	var sb strings.Builder
	sb.WriteByte('|')
	for i, w := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		a := AlignLeft
		if i < len(align) {
			a = align[i]
		}
		sb.WriteString(" " + pad(cell, w, a) + " |")
	}
	fmt.Fprintln(t.w, sb.String())
}

// pad widens the cell to the target width, counting visible characters
// only.
func pad(cell string, width int, a Alignment) string {
	gap := width - len(stripAnsi(cell))
	if gap <= 0 {
		return cell
	}
	switch a {
	case AlignRight:
		return strings.Repeat(" ", gap) + cell
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + cell + strings.Repeat(" ", gap-left)
	default:
		return cell + strings.Repeat(" ", gap)
	}
}
