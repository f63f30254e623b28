package content

import (
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// KeywordMatch reports a single keyword occurrence.
// Start and End are byte offsets into the searched text.
type KeywordMatch struct {
	Keyword string
	Start   int
	End     int
}

// KeywordMatcher finds configured keywords in text. Matching is
// case-insensitive, respects Unicode word boundaries, and treats keywords
// literally (special regex characters carry no meaning).
// Safe for concurrent use.
type KeywordMatcher struct {
	mu       sync.RWMutex
	keywords map[string]string // lowered -> original
}

// NewKeywordMatcher creates an empty matcher.
func NewKeywordMatcher() *KeywordMatcher {
	return &KeywordMatcher{keywords: make(map[string]string)}
}

// AddKeyword registers a keyword. Empty strings are ignored.
// Re-adding the same keyword (case-insensitively) replaces the stored form.
func (m *KeywordMatcher) AddKeyword(keyword string) {
	if keyword == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keywords[strings.ToLower(keyword)] = keyword
}

// AddKeywords registers multiple keywords.
func (m *KeywordMatcher) AddKeywords(keywords []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keywords {
		if k == "" {
			continue
		}
		m.keywords[strings.ToLower(k)] = k
	}
}

// RemoveKeyword unregisters a keyword (case-insensitively).
func (m *KeywordMatcher) RemoveKeyword(keyword string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keywords, strings.ToLower(keyword))
}

// Keywords returns the registered keywords in their original form.
func (m *KeywordMatcher) Keywords() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.keywords))
	for _, orig := range m.keywords {
		out = append(out, orig)
	}
	sort.Strings(out)
	return out
}

// FindMatches returns all keyword occurrences in text, ordered by start
// offset; on equal start the longer keyword wins the earlier position.
// Overlapping matches from distinct keywords are all reported.
func (m *KeywordMatcher) FindMatches(text string) []KeywordMatch {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.keywords) == 0 || text == "" {
		return nil
	}

	lowered := strings.ToLower(text)
	var matches []KeywordMatch
	for lk := range m.keywords {
		for _, start := range allOccurrences(lowered, lk) {
			end := start + len(lk)
			if !isWordBoundary(lowered, start, end) {
				continue
			}
			matches = append(matches, KeywordMatch{Keyword: lk, Start: start, End: end})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return len(matches[i].Keyword) > len(matches[j].Keyword)
	})
	return matches
}

// HasMatch reports whether any keyword occurs in text.
func (m *KeywordMatcher) HasMatch(text string) bool {
	return len(m.FindMatches(text)) > 0
}

// allOccurrences returns every byte offset at which needle occurs in haystack,
// including overlapping occurrences.
func allOccurrences(haystack, needle string) []int {
	var offsets []int
	for from := 0; ; {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return offsets
		}
		offsets = append(offsets, from+i)
		from += i + 1
	}
}

// isWordBoundary reports whether [start,end) sits on Unicode word boundaries:
// the adjacent runes on both sides must not be letters, digits, or underscore.
func isWordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
