package annot

// EphemeralColor is the fixed highlight color for AI-origin ephemeral
// annotations. It overrides the primary annotation's user color.
const EphemeralColor = "#b45309"

// RenderState is the per-segment display decision: which covering annotation
// drives the highlight, what color to paint, and the aggregate reply count
// for the badge.
type RenderState struct {
	PrimaryID     string `json:"primaryId,omitempty"`
	Color         string `json:"color,omitempty"`
	ReplyCount    int    `json:"replyCount"`
	HasEphemeral  bool   `json:"hasEphemeral,omitempty"`
	IsSearchMatch bool   `json:"isSearchMatch,omitempty"`
}

// Reduce decides the visual state for one segment. Among several covering
// annotations the most recent timestamp wins the highlight color; the reply
// count aggregates across all covering annotations, not just the primary.
// A covering ephemeral annotation forces the fixed ephemeral color.
func Reduce(segment Segment, byID map[string]Annotation) RenderState {
	state := RenderState{IsSearchMatch: segment.IsSearchMatch}

	var primary Annotation
	found := false
	for _, id := range segment.CoveringIDs {
		a, ok := byID[id]
		if !ok {
			continue
		}
		state.ReplyCount += len(a.Replies)
		if a.IsEphemeral {
			state.HasEphemeral = true
		}
		if !found || a.Timestamp > primary.Timestamp {
			primary = a
			found = true
		}
	}
	if !found {
		return state
	}

	state.PrimaryID = primary.ID
	state.Color = primary.UserColor
	if state.HasEphemeral {
		state.Color = EphemeralColor
	}
	return state
}
