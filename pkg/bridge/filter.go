// Copyright 2024-2026 Aiku AI

package bridge

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// IgnoreSet is an immutable set of remote user names whose lines are dropped
// from relayed output.
type IgnoreSet struct {
	names map[string]struct{}
}

// NewIgnoreSet builds an IgnoreSet. Empty or invalid UTF-8 names and
// duplicates are skipped.
func NewIgnoreSet(names ...string) IgnoreSet {
	set := IgnoreSet{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		if name == "" || !utf8.ValidString(name) {
			continue
		}
		set.names[name] = struct{}{}
	}
	return set
}

// Contains reports whether name is ignored. Matching is case-sensitive.
func (s IgnoreSet) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

func (s IgnoreSet) Len() int {
	return len(s.names)
}

// Names returns the ignored names sorted longest first, then alphabetically.
func (s IgnoreSet) Names() []string {
	names := make([]string, 0, len(s.names))
	for name := range s.names {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})
	return names
}

// LineFilter removes chat lines spoken by ignored users from remote output.
// A line is removed when it starts with "<name> says:" for an ignored name.
type LineFilter struct {
	re *regexp.Regexp
}

// NewLineFilter compiles a single alternation matcher for the ignore set so
// each chunk is scanned once.
func NewLineFilter(ignored IgnoreSet) *LineFilter {
	if ignored.Len() == 0 {
		return &LineFilter{}
	}
	names := ignored.Names()
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = regexp.QuoteMeta(name)
	}
	pattern := `(?m)^(?:` + strings.Join(quoted, "|") + `) says:[^\n]*(?:\n|$)`
	return &LineFilter{re: regexp.MustCompile(pattern)}
}

// Apply returns text without the ignored lines, trimmed of surrounding
// whitespace. Other lines are kept verbatim and in order.
func (f *LineFilter) Apply(text string) string {
	out, _ := f.Filter(text)
	return out
}

// Filter is Apply that also reports how many lines were dropped. Matching
// runs on the untrimmed text, so an indented line is never an ignored line
// wherever it appears in the chunk.
func (f *LineFilter) Filter(text string) (out string, removed int) {
	if f == nil || f.re == nil {
		return strings.TrimSpace(text), 0
	}
	removed = len(f.re.FindAllStringIndex(text, -1))
	if removed > 0 {
		text = f.re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text), removed
}
