package cast

import "strings"

// BackHalfSelector assumes that credits interleave character names with
// the names of the actors playing them, such that the actors occupy the back
// half of the list. Up to Max names are taken from the start of the back half;
// a Max of zero or less places no limit on the number of names.
type BackHalfSelector struct {
	Max int
}

func (selector BackHalfSelector) Select(candidates []string) []string {
	skip := (len(candidates) + 1) / 2
	selected := candidates[skip:]
	if selector.Max > 0 && len(selected) > selector.Max {
		selected = selected[:selector.Max]
	}

	out := make([]string, len(selected))
	copy(out, selected)
	return out
}

// parseCandidates finds the first occurrence of the marker within the text and
// returns the cleaned, non-empty, lines starting from the line containing it. The
// boolean returned is false when the marker does not appear in the text.
func parseCandidates(text string, marker string) ([]string, bool) {
	idx := strings.Index(strings.ToLower(text), strings.ToLower(marker))
	if idx == -1 {
		return nil, false
	}

	lineStart := strings.LastIndex(text[:idx], "\n") + 1
	lines := strings.Split(text[lineStart:], "\n")

	candidates := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.TrimSpace(strings.NewReplacer("\r", "", "\n", "").Replace(line))
		if clean != "" {
			candidates = append(candidates, clean)
		}
	}

	return candidates, true
}

// trimMarker removes any leading lines which are only the marker.
func trimMarker(candidates []string, marker string) []string {
	for len(candidates) > 0 && strings.EqualFold(candidates[0], marker) {
		candidates = candidates[1:]
	}

	return candidates
}
