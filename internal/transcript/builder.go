package transcript

import "strings"

// Update is one recognition result as shown to the user.
type Update struct {
	Text  string
	Final bool
}

// Display renders the update with its finality marker.
func (u Update) Display() string {
	text := cleanSegment(u.Text)
	if u.Final {
		return text + " (final)"
	}
	return text + "..."
}

// Builder accumulates streamed updates into ordered transcript segments.
// Final results are committed; the most recent partial is kept as a tail and
// committed early only when the next partial clearly starts new speech.
type Builder struct {
	segments    []string
	lastPartial string
}

// Add records one update. Empty text is ignored.
func (b *Builder) Add(u Update) {
	text := cleanSegment(u.Text)
	if text == "" {
		return
	}
	if u.Final {
		b.segments = appendSegment(b.segments, text)
		b.lastPartial = ""
		return
	}
	if b.lastPartial != "" && !isContinuation(b.lastPartial, text) {
		b.segments = appendSegment(b.segments, b.lastPartial)
	}
	b.lastPartial = text
}

// Segments returns committed segments plus any trailing partial.
func (b *Builder) Segments() []string {
	out := append([]string(nil), b.segments...)
	if b.lastPartial != "" {
		out = appendSegment(out, b.lastPartial)
	}
	return out
}

// Finals returns only the committed final segments.
func (b *Builder) Finals() []string {
	return append([]string(nil), b.segments...)
}

// Reset clears all state.
func (b *Builder) Reset() {
	b.segments = nil
	b.lastPartial = ""
}

// appendSegment merges prefix continuations so a growing result replaces its
// shorter predecessor instead of duplicating it.
func appendSegment(segments []string, text string) []string {
	if len(segments) == 0 {
		return append(segments, text)
	}
	last := segments[len(segments)-1]
	switch {
	case text == last, strings.HasPrefix(last, text):
		return segments
	case strings.HasPrefix(text, last):
		segments[len(segments)-1] = text
		return segments
	default:
		return append(segments, text)
	}
}

// isContinuation decides whether a partial revises the previous one rather
// than starting a new utterance: at least half the shorter one's words must
// be a shared prefix.
func isContinuation(previous string, current string) bool {
	if strings.HasPrefix(current, previous) || strings.HasPrefix(previous, current) {
		return true
	}

	prev := strings.Fields(previous)
	curr := strings.Fields(current)
	shorter := min(len(prev), len(curr))
	if shorter == 0 {
		return true
	}

	common := 0
	for common < shorter && prev[common] == curr[common] {
		common++
	}
	return common*2 >= shorter
}

func cleanSegment(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
