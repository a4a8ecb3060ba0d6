package review

import (
	"regexp"
	"strconv"
)

// bareMarker matches "#123" style markers anywhere in text.
var bareMarker = regexp.MustCompile(`#(\d+)\b`)

// ExtractMarker finds a work-item marker in change title or body text.
// Both "#123" and "<prefix>-123" (case-insensitive) forms are recognized;
// the prefixed form wins when both appear. Returns false when no marker
// is present.
func ExtractMarker(prefix, text string) (int, bool) {
	if prefix != "" {
		prefixed := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(prefix) + `-(\d+)\b`)
		if m := prefixed.FindStringSubmatch(text); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil && n > 0 {
				return n, true
			}
		}
	}

	if m := bareMarker.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}
