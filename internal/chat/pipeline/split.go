package pipeline

import "strings"

// sentence-terminal punctuation, CJK and Latin. A terminator ends the
// current segment; consecutive terminators (ellipses, "?!") stay attached
// to the segment they close.
var terminators = map[rune]bool{
	'。': true,
	'！': true,
	'？': true,
	'…':  true,
	'.':  true,
	'!':  true,
	'?':  true,
}

// SplitReply cuts one completion into sentence-level segments for the
// multi-bubble reply presentation. When no terminator is found the whole
// trimmed text is returned as a single segment. Empty segments are dropped.
func SplitReply(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var (
		segments []string
		current  strings.Builder
		inTail   bool // inside a run of terminators
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			segments = append(segments, s)
		}
		current.Reset()
	}

	for _, r := range text {
		if terminators[r] {
			current.WriteRune(r)
			inTail = true
			continue
		}
		if inTail {
			flush()
			inTail = false
		}
		current.WriteRune(r)
	}
	flush()

	if len(segments) == 0 {
		return []string{text}
	}
	return segments
}
