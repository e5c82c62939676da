package linetable

// InsertRange widens the table to account for size bytes of code inserted
// at the given offset. Code at or after the insertion point reports offsets
// shifted by size; the mapping from logical code regions to line numbers is
// unchanged.
//
// The entry covering the insertion point is re-encoded rather than split:
// merging the inserted size into the existing entry keeps an enlarged
// instruction (one that grew a widening prefix) attributed to its original
// line. Offset deltas that no longer fit in one byte are chained with
// (0xFF, 0) continuation pairs, never truncated.
//
// The input table is not modified; the widened table is returned. An
// insertion at or past the end of the mapped range leaves the table
// unchanged, which is legal because appended code needs no line attribution.
func InsertRange(table []byte, offset, size int) []byte {
	out := make([]byte, 0, len(table)+4)

	currentOffset := 0
	for pos := 0; pos+2 <= len(table); pos += 2 {
		offsetDelta := int(table[pos])
		lineDelta := table[pos+1]
		currentOffset += offsetDelta

		if currentOffset > offset {
			remaining := offsetDelta + size
			for remaining > 0xFF {
				out = append(out, 0xFF, 0)
				remaining -= 0xFF
			}
			out = append(out, byte(remaining), lineDelta)
			out = append(out, table[pos+2:]...)
			return out
		}
		out = append(out, byte(offsetDelta), lineDelta)
	}
	return out
}
