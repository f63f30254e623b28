package policy

import (
	"unicode"

	"github.com/hmcelik/aegis-moderation/internal/domain/content"
)

// Identifiers of the shipped default rules. Tenant policy files may override
// their weights or replace them entirely.
const (
	RuleIDProfanity     = "profanity"
	RuleIDExcessiveCaps = "excessive_caps"
	RuleIDLinkFlood     = "link_flood"
	RuleIDMentionFlood  = "mention_flood"

	// RuleIDAISpam is the synthetic rule ID under which the AI stage merges
	// its score into a verdict. It is never registered in the engine.
	RuleIDAISpam = "ai.spam"
	// RuleNameAISpam is the display name of the synthetic AI rule.
	RuleNameAISpam = "AI Spam Score"
)

// defaultProfanityKeywords seed the shipped profanity rule. Tenant
// configuration is expected to extend or replace this list.
var defaultProfanityKeywords = []string{
	"spam", "scam", "porn", "xxx", "casino", "viagra",
}

const (
	// capsMinLetters is the minimum number of letters before the caps rule
	// considers a message at all; short shouting is tolerated.
	capsMinLetters = 10
	// capsRatio is the uppercase share above which the caps rule fires.
	capsRatio = 0.7
	// linkFloodCount is the URL count at which the link rule fires.
	linkFloodCount = 3
	// mentionFloodCount is the mention count at which the mention rule fires.
	mentionFloodCount = 5
)

// DefaultRules returns the shipped rule set. The weights reproduce the
// documented defaults: profanity alone blocks, excessive caps alone still
// allows.
func DefaultRules() []Rule {
	profanity := content.NewKeywordMatcher()
	profanity.AddKeywords(defaultProfanityKeywords)

	return []Rule{
		{
			ID:     RuleIDProfanity,
			Name:   "Profanity Filter",
			Weight: 80,
			Match: func(nc content.NormalizedContent) bool {
				return profanity.HasMatch(nc.NormalizedText)
			},
		},
		{
			ID:     RuleIDExcessiveCaps,
			Name:   "Excessive Caps",
			Weight: 30,
			Match: func(nc content.NormalizedContent) bool {
				return isExcessiveCaps(nc.OriginalText)
			},
		},
		{
			ID:     RuleIDLinkFlood,
			Name:   "Link Flood",
			Weight: 50,
			Match: func(nc content.NormalizedContent) bool {
				return len(nc.URLs) >= linkFloodCount
			},
		},
		{
			ID:     RuleIDMentionFlood,
			Name:   "Mention Flood",
			Weight: 40,
			Match: func(nc content.NormalizedContent) bool {
				return len(nc.Mentions) >= mentionFloodCount
			},
		},
	}
}

// isExcessiveCaps inspects the original (pre-lowercasing) text: the rule
// fires when at least capsMinLetters letters are present and more than
// capsRatio of them are uppercase.
func isExcessiveCaps(text string) bool {
	var letters, upper int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters < capsMinLetters {
		return false
	}
	return float64(upper)/float64(letters) > capsRatio
}
