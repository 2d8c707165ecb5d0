package production

import (
	"strings"
	"unicode"
)

// NormalizeNGReason maps the free-text NG reasons operators enter at the
// line to the canonical labels the dashboard charts aggregate on. Unmatched
// reasons are title-cased so casing variants of the same reason merge.
// The rule set matches the backend's normalization, so client-side
// aggregation agrees with the server's.
func NormalizeNGReason(reason string) string {
	if reason == "" {
		return ""
	}

	rl := strings.ToLower(strings.TrimSpace(reason))

	switch {
	case strings.Contains(rl, "air leak"):
		return "Air Leak"
	case strings.Contains(rl, "wt333e") && strings.Contains(rl, "power"):
		return "WT333E Power Issue"
	case strings.Contains(rl, "broken thread"),
		strings.Contains(rl, "misthread"),
		strings.Contains(rl, "thread side screw"):
		return "Broken Thread Screw"
	case strings.Contains(rl, "power split"):
		return "Power Split"
	case strings.Contains(rl, "bms write"):
		return "BMS Write Issue"
	default:
		return titleCase(strings.TrimSpace(reason))
	}
}

// AggregateReasons merges raw reason counts under their normalized labels.
// Empty reasons are dropped. Applying it to already-normalized input is a
// no-op merge.
func AggregateReasons(counts map[string]int) map[string]int {
	merged := make(map[string]int, len(counts))
	for reason, count := range counts {
		norm := NormalizeNGReason(reason)
		if norm == "" {
			continue
		}
		merged[norm] += count
	}

	return merged
}

// titleCase matches the backend's title casing: a letter following any
// non-letter starts a new word, so hyphenated and non-ASCII reasons get
// the same label on both sides.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	prevLetter := false
	for _, r := range s {
		switch {
		case !unicode.IsLetter(r):
			b.WriteRune(r)
			prevLetter = false
		case prevLetter:
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(unicode.ToTitle(r))
			prevLetter = true
		}
	}

	return b.String()
}
