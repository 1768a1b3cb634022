// Package annot implements the range-based annotation engine: half-open
// character ranges over an immutable document string, the segment builder
// that partitions a document into renderable slices, the selection mapper,
// and the render-state reducer.
package annot

// TextRange is a half-open interval [Start, End) over a document's character
// offsets. Text caches the slice content[Start:End] for the document revision
// the range was captured against; it is advisory for any other revision.
type TextRange struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Len returns the number of characters covered by the range.
func (r TextRange) Len() int {
	return r.End - r.Start
}

// Overlaps reports whether two half-open ranges share at least one character.
// Zero-length ranges never overlap anything, including themselves.
func Overlaps(a, b TextRange) bool {
	return a.Start < b.End && b.Start < a.End
}

// Covers reports whether the segment [segStart, segEnd) lies fully inside r.
// The segment builder only ever emits segments that do not straddle a range
// boundary, so containment is the right test, not general overlap.
func Covers(segStart, segEnd int, r TextRange) bool {
	return segStart >= r.Start && segEnd <= r.End
}
