// Package transcript merges streamed recognition updates into committed text.
package transcript

import (
	"regexp"
	"strings"
	"unicode"
)

// Options controls transcript assembly formatting behavior.
type Options struct {
	TrailingSpace       bool
	CapitalizeSentences bool
}

// Assemble joins final segments and applies configured normalization.
func Assemble(segments []string, opts Options) string {
	normalized := cleanSegment(strings.Join(segments, " "))
	if normalized == "" {
		return ""
	}

	if opts.CapitalizeSentences {
		normalized = capitalizeSentences(normalized)
	}
	if opts.TrailingSpace {
		return normalized + " "
	}
	return normalized
}

var pronounI = regexp.MustCompile(`\bi\b('(?:m|d|ll|ve|re|s)\b)?`)

func capitalizeSentences(text string) string {
	runes := []rune(text)
	upper := true
	for i, r := range runes {
		switch {
		case upper && unicode.IsLetter(r):
			runes[i] = unicode.ToUpper(r)
			upper = false
		case upper && unicode.IsDigit(r):
			upper = false
		case r == '.' || r == '!' || r == '?':
			// "3.5" and "e.g" keep their lowercase continuation.
			upper = i+1 >= len(runes) || unicode.IsSpace(runes[i+1])
		}
	}
	return pronounI.ReplaceAllStringFunc(string(runes), func(match string) string {
		return "I" + match[1:]
	})
}
