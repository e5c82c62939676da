package linetable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnumeratorEmpty(t *testing.T) {
	e := NewEnumerator(10, nil)
	require.Equal(t, 0, e.Offset())
	require.Equal(t, 10, e.Line())
	require.False(t, e.Next())
}

func TestEnumeratorSimple(t *testing.T) {
	// {2,1},{4,2}: offsets 0, 2, 6 at lines 10, 11, 13.
	table := []byte{2, 1, 4, 2}
	e := NewEnumerator(10, table)
	require.Equal(t, 0, e.Offset())
	require.Equal(t, 10, e.Line())

	require.True(t, e.Next())
	require.Equal(t, 2, e.Offset())
	require.Equal(t, 11, e.Line())

	require.True(t, e.Next())
	require.Equal(t, 6, e.Offset())
	require.Equal(t, 13, e.Line())

	require.False(t, e.Next())
}

func TestEnumeratorLeadingZeroDelta(t *testing.T) {
	// A leading zero offset delta means the first instruction belongs to
	// the following line rather than the declared first line.
	table := []byte{0, 3, 2, 1}
	e := NewEnumerator(10, table)
	require.Equal(t, 0, e.Offset())
	require.Equal(t, 13, e.Line())

	require.True(t, e.Next())
	require.Equal(t, 2, e.Offset())
	require.Equal(t, 14, e.Line())
}

func TestEnumeratorChainedOffsetDelta(t *testing.T) {
	// An offset gap of 300 encodes as (0xFF,0) + (45,1).
	table := Append(nil, 300, 1)
	require.Equal(t, []byte{0xFF, 0, 45, 1}, table)

	e := NewEnumerator(1, table)
	require.True(t, e.Next())
	require.Equal(t, 300, e.Offset())
	require.Equal(t, 2, e.Line())
	require.False(t, e.Next())
}

func TestEnumeratorChainedLineDelta(t *testing.T) {
	// A line gap of 400 encodes as (0,0xFF) + (4,145). The leading zero
	// offset delta also means the chain is consumed at construction: the
	// instruction at offset 0 has no entry of its own.
	table := Append(nil, 4, 400)
	e := NewEnumerator(1, table)
	require.Equal(t, 4, e.Offset())
	require.Equal(t, 401, e.Line())
	require.False(t, e.Next())
}

func TestEnumeratorTruncatedChain(t *testing.T) {
	// A continuation pair with nothing after it is a corrupted table; the
	// enumerator stops without failing.
	e := NewEnumerator(1, []byte{0xFF, 0})
	require.False(t, e.Next())

	// Odd trailing byte is ignored.
	e = NewEnumerator(1, []byte{2, 1, 9})
	require.True(t, e.Next())
	require.Equal(t, 2, e.Offset())
	require.False(t, e.Next())
}

func TestOffsetForLine(t *testing.T) {
	table := []byte{2, 1, 2, 1}
	offset, ok := OffsetForLine(10, table, 11)
	require.True(t, ok)
	require.Equal(t, 2, offset)

	offset, ok = OffsetForLine(10, table, 10)
	require.True(t, ok)
	require.Equal(t, 0, offset)

	_, ok = OffsetForLine(10, table, 99)
	require.False(t, ok)
}

func TestInsertRangeAtStart(t *testing.T) {
	// {2,1},{2,1} with 6 bytes inserted at offset 0: the first entry
	// widens to {8,1}, the second is untouched.
	table := []byte{2, 1, 2, 1}
	got := InsertRange(table, 0, 6)
	require.Equal(t, []byte{8, 1, 2, 1}, got)

	// Input table is not modified.
	require.Equal(t, []byte{2, 1, 2, 1}, table)
}

func TestInsertRangeMiddle(t *testing.T) {
	// Insertion at offset 2 lands in the second entry's range.
	table := []byte{2, 1, 4, 1, 2, 1}
	got := InsertRange(table, 2, 6)
	require.Equal(t, []byte{2, 1, 10, 1, 2, 1}, got)

	// Decoded positions: line deltas unchanged, offsets after the
	// insertion shifted by 6.
	e := NewEnumerator(1, got)
	require.True(t, e.Next())
	require.Equal(t, 2, e.Offset())
	require.Equal(t, 2, e.Line())
	require.True(t, e.Next())
	require.Equal(t, 12, e.Offset())
	require.Equal(t, 3, e.Line())
	require.True(t, e.Next())
	require.Equal(t, 14, e.Offset())
	require.Equal(t, 4, e.Line())
}

func TestInsertRangeOverflowChains(t *testing.T) {
	// Widening an entry past 0xFF emits continuation pairs, never a
	// truncated delta.
	table := []byte{250, 1}
	got := InsertRange(table, 0, 20)
	require.Equal(t, []byte{0xFF, 0, 15, 1}, got)

	e := NewEnumerator(1, got)
	require.True(t, e.Next())
	require.Equal(t, 270, e.Offset())
	require.Equal(t, 2, e.Line())
}

func TestInsertRangePastEnd(t *testing.T) {
	// Appended code needs no line attribution; the table is unchanged.
	table := []byte{2, 1}
	require.Equal(t, []byte{2, 1}, InsertRange(table, 2, 6))
	require.Equal(t, []byte{2, 1}, InsertRange(table, 50, 6))
}

func TestInsertRangeEmptyTable(t *testing.T) {
	require.Empty(t, InsertRange(nil, 0, 6))
}

func TestInsertRangeRoundTripsNoLineSentinel(t *testing.T) {
	// The modern no-line sentinel passes through InsertRange untouched.
	table := []byte{2, NoLineSentinel, 2, 1}
	got := InsertRange(table, 0, 4)
	require.Equal(t, []byte{6, NoLineSentinel, 2, 1}, got)
}
