// Package policy implements the confinement model: static source scanning and
// the runtime permission policy applied to submitted programs.
package policy

import (
	"strings"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// DefaultBlacklist is used when no forbidden tokens are configured.
var DefaultBlacklist = []string{"Files", "exec"}

// Match describes a forbidden token found in the source.
type Match struct {
	Word   string
	Offset int
}

// Scanner matches source text against a fixed dictionary of forbidden tokens.
// A scan costs O(len(source)) regardless of how many tokens are configured.
// A Scanner is immutable and safe for concurrent use.
type Scanner struct {
	words   []string
	matcher *ahocorasick.AhoCorasick
}

// NewScanner builds a scanner. Blank and duplicate words are ignored.
// Matching is case sensitive.
func NewScanner(words []string) *Scanner {
	s := &Scanner{}
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		s.words = append(s.words, w)
	}
	if len(s.words) == 0 {
		return s
	}
	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		MatchKind: ahocorasick.LeftMostFirstMatch,
		DFA:       true,
	})
	ac := builder.Build(s.words)
	s.matcher = &ac
	return s
}

// Scan returns the leftmost forbidden token in source. When several tokens
// start at the same offset, the one configured first wins.
func (s *Scanner) Scan(source string) (Match, bool) {
	if s == nil || s.matcher == nil || source == "" {
		return Match{}, false
	}
	matches := s.matcher.FindAll(source)
	if len(matches) == 0 {
		return Match{}, false
	}
	m := matches[0]
	return Match{Word: source[m.Start():m.End()], Offset: m.Start()}, true
}
