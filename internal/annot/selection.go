package annot

import "strings"

// Selection is a raw user text selection reported against the rendered
// segment list: the segment the selection starts in, the offset of the
// selection start inside that segment, and the selected text itself.
type Selection struct {
	SegmentIndex int    `json:"segmentIndex"`
	Offset       int    `json:"offset"`
	Text         string `json:"text"`
}

// MapSelection resolves a selection to absolute document coordinates. The
// probe length — the total text preceding the selection start — is the sum of
// the lengths of all segments before the anchor plus the in-segment offset,
// so the result does not depend on how many annotation-induced boundaries
// the rendered view currently has.
//
// The second return value is false when no range should be emitted: a
// collapsed selection, selected text that trims to nothing, an anchor outside
// the rendered view, or selected text that no longer matches the live
// document slice (a stale view). Rejection is silent; there is no error.
func MapSelection(content string, segments []Segment, sel Selection) (TextRange, bool) {
	if sel.Text == "" || strings.TrimSpace(sel.Text) == "" {
		return TextRange{}, false
	}
	if sel.SegmentIndex < 0 || sel.SegmentIndex >= len(segments) {
		return TextRange{}, false
	}

	anchor := segments[sel.SegmentIndex]
	if sel.Offset < 0 || sel.Offset > anchor.End-anchor.Start {
		return TextRange{}, false
	}

	start := anchor.Start + sel.Offset
	end := start + len(sel.Text)
	if end > len(content) {
		return TextRange{}, false
	}
	if content[start:end] != sel.Text {
		return TextRange{}, false
	}
	return TextRange{Start: start, End: end, Text: content[start:end]}, true
}
