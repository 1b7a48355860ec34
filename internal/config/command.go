package config

import (
	"fmt"
	"strings"
	"unicode"
)

// argvSplitter tokenizes a command line with shell-like quoting and
// backslash escapes. It never expands variables or globs.
type argvSplitter struct {
	argv    []string
	word    strings.Builder
	inWord  bool
	quote   rune
	escaped bool
}

func (s *argvSplitter) feed(r rune) {
	switch {
	case s.escaped:
		s.word.WriteRune(r)
		s.escaped = false
	case r == '\\':
		s.escaped, s.inWord = true, true
	case s.quote != 0 && r == s.quote:
		s.quote = 0
	case s.quote != 0:
		s.word.WriteRune(r)
	case r == '\'' || r == '"':
		s.quote, s.inWord = r, true
	case unicode.IsSpace(r):
		s.flush()
	default:
		s.word.WriteRune(r)
		s.inWord = true
	}
}

func (s *argvSplitter) flush() {
	if s.inWord && s.word.Len() > 0 {
		s.argv = append(s.argv, s.word.String())
	}
	s.word.Reset()
	s.inWord = false
}

func parseArgv(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" || strings.HasPrefix(input, "#") {
		return nil, nil
	}

	var s argvSplitter
	for _, r := range input {
		s.feed(r)
	}
	switch {
	case s.escaped:
		return nil, fmt.Errorf("unterminated escape sequence in command: %q", input)
	case s.quote != 0:
		return nil, fmt.Errorf("unterminated quote in command: %q", input)
	}
	s.flush()
	return s.argv, nil
}

// ParseCommand builds a CommandConfig from a raw command string.
func ParseCommand(raw string) (CommandConfig, error) {
	argv, err := parseArgv(raw)
	if err != nil {
		return CommandConfig{}, err
	}
	return CommandConfig{Raw: raw, Argv: argv}, nil
}

func mustParseArgv(input string) []string {
	argv, err := parseArgv(input)
	if err != nil {
		panic(err)
	}
	return argv
}
