package queue

import "github.com/hmcelik/aegis-moderation/internal/domain/content"

// spamIndicatorKeywords bump a job's dequeue priority so likely spam is
// moderated ahead of ordinary chatter. The list mirrors the shipped
// profanity seed plus common spam bait.
var spamIndicatorKeywords = []string{
	"spam", "scam", "casino", "viagra", "airdrop", "giveaway", "free money",
}

var spamIndicators = func() *content.KeywordMatcher {
	m := content.NewKeywordMatcher()
	m.AddKeywords(spamIndicatorKeywords)
	return m
}()

// DerivePriority scores a job for dequeue ordering within its shard.
// Base 0; a spam indicator keyword adds 2; a link from a non-established
// user adds 1. Higher scores dequeue first.
func DerivePriority(job MessageJob) int {
	nc := content.Normalize(job.Content)
	p := 0
	if spamIndicators.HasMatch(nc.NormalizedText) {
		p += 2
	}
	if len(nc.URLs) > 0 && !job.UserEstablished {
		p++
	}
	return p
}
