// Package content contains the text-normalization pipeline that turns raw
// chat messages into a fingerprint-stable, policy-ready representation.
package content

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizedContent is the policy-ready representation of a chat message.
type NormalizedContent struct {
	// OriginalText is the input exactly as received.
	OriginalText string
	// NormalizedText is NFKC-composed, zero-width-stripped, lower-cased text
	// with whitespace runs collapsed to single spaces.
	NormalizedText string
	// URLs are extracted in first-occurrence order, duplicates preserved,
	// original casing preserved.
	URLs []string
	// Mentions are @-handles found in the text, without the leading @.
	Mentions []string
	// Hashtags are #-tags found in the text, without the leading #.
	Hashtags []string
}

var (
	urlRegex     = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)
	mentionRegex = regexp.MustCompile(`@([A-Za-z0-9_]+)`)
	hashtagRegex = regexp.MustCompile(`#([A-Za-z0-9_]+)`)
	wsRegex      = regexp.MustCompile(`\s+`)

	// Zero-width characters that evade keyword matching when embedded
	// mid-word: ZWSP, ZWNJ, ZWJ, and the BOM used as ZWNBSP.
	zeroWidthReplacer = strings.NewReplacer(
		"\u200b", "",
		"\u200c", "",
		"\u200d", "",
		"\ufeff", "",
	)
)

// Normalize produces the canonical representation of user text.
// It never fails: empty or degenerate input yields empty fields.
func Normalize(text string) NormalizedContent {
	nc := NormalizedContent{
		OriginalText: text,
		URLs:         []string{},
		Mentions:     []string{},
		Hashtags:     []string{},
	}
	if text == "" {
		return nc
	}

	// Unicode compatibility decomposition + canonical composition, then
	// strip zero-width characters before any extraction so that split
	// tokens rejoin.
	composed := norm.NFKC.String(text)
	composed = zeroWidthReplacer.Replace(composed)

	// URLs are extracted before lower-casing to preserve original case.
	nc.URLs = urlRegex.FindAllString(composed, -1)
	if nc.URLs == nil {
		nc.URLs = []string{}
	}

	lowered := strings.ToLower(composed)
	for _, m := range mentionRegex.FindAllStringSubmatch(lowered, -1) {
		nc.Mentions = append(nc.Mentions, m[1])
	}
	for _, m := range hashtagRegex.FindAllStringSubmatch(lowered, -1) {
		nc.Hashtags = append(nc.Hashtags, m[1])
	}

	nc.NormalizedText = strings.TrimSpace(wsRegex.ReplaceAllString(lowered, " "))
	return nc
}

// HasLinks reports whether any URL was extracted from the content.
func (nc NormalizedContent) HasLinks() bool {
	return len(nc.URLs) > 0
}
