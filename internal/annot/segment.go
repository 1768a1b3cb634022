package annot

import (
	"sort"
	"strings"
)

// minSearchLen is the minimum search term length that produces highlight
// boundaries; shorter terms are ignored to avoid confetti on 1-2 char input.
const minSearchLen = 3

// Segment is a derived, non-overlapping slice of document text. Segments are
// recomputed on every render pass and never mutated in place.
type Segment struct {
	Start         int      `json:"start"`
	End           int      `json:"end"`
	Text          string   `json:"text"`
	CoveringIDs   []string `json:"coveringAnnotations"`
	IsSearchMatch bool     `json:"isSearchMatch"`
}

type span struct {
	start int
	end   int
}

// BuildSegments partitions [0, len(content)) into the minimal ordered set of
// segments induced by annotation range edges and search-match edges. The
// result is contiguous, non-overlapping, ascending, and covers the document
// exactly once. Empty content yields zero segments.
//
// Every segment lies fully inside or fully outside each annotation range and
// each search match, which is what lets CoveringIDs use containment rather
// than general overlap.
func BuildSegments(content string, annotations []Annotation, searchTerm string) []Segment {
	segments := make([]Segment, 0)
	if content == "" {
		return segments
	}

	boundaries := map[int]struct{}{0: {}, len(content): {}}
	for _, a := range annotations {
		addBoundary(boundaries, a.Range.Start, len(content))
		addBoundary(boundaries, a.Range.End, len(content))
	}

	matches := findMatches(content, searchTerm)
	for _, m := range matches {
		addBoundary(boundaries, m.start, len(content))
		addBoundary(boundaries, m.end, len(content))
	}

	offsets := make([]int, 0, len(boundaries))
	for offset := range boundaries {
		offsets = append(offsets, offset)
	}
	sort.Ints(offsets)

	matchIdx := 0
	for i := 0; i+1 < len(offsets); i++ {
		start, end := offsets[i], offsets[i+1]
		segment := Segment{Start: start, End: end, Text: content[start:end]}
		for _, a := range annotations {
			if a.Range.Len() == 0 {
				// Zero-length ranges are invisible under containment.
				continue
			}
			if Covers(start, end, a.Range) {
				segment.CoveringIDs = append(segment.CoveringIDs, a.ID)
			}
		}
		for matchIdx < len(matches) && matches[matchIdx].end <= start {
			matchIdx++
		}
		if matchIdx < len(matches) && start >= matches[matchIdx].start && end <= matches[matchIdx].end {
			segment.IsSearchMatch = true
		}
		segments = append(segments, segment)
	}
	return segments
}

// addBoundary records offset as a segment edge, ignoring offsets outside the
// document. Ranges captured against an older revision can point past the end
// of the current content; they must not corrupt the partition.
func addBoundary(boundaries map[int]struct{}, offset, length int) {
	if offset < 0 || offset > length {
		return
	}
	boundaries[offset] = struct{}{}
}

// findMatches returns the non-overlapping, left-to-right, case-insensitive
// literal matches of term in content. Terms shorter than minSearchLen match
// nothing.
func findMatches(content, term string) []span {
	if len(term) < minSearchLen {
		return nil
	}
	lower := strings.ToLower(content)
	lowerTerm := strings.ToLower(term)
	if len(lower) != len(content) || len(lowerTerm) == 0 {
		// Case folding changed byte offsets; highlighting would be wrong.
		return nil
	}

	var matches []span
	from := 0
	for {
		i := strings.Index(lower[from:], lowerTerm)
		if i < 0 {
			return matches
		}
		start := from + i
		end := start + len(lowerTerm)
		if end > len(content) {
			return matches
		}
		matches = append(matches, span{start: start, end: end})
		from = end
	}
}
