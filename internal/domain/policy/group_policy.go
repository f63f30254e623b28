package policy

// GroupPolicy is the per-chat enforcement configuration: whether to warn
// the user alongside deletions and whether reviewed messages earn strikes.
type GroupPolicy struct {
	// WarnOnBlock sends a warning message alongside the deletion.
	WarnOnBlock bool
	// WarnOnReview sends an ephemeral warning for reviewed messages.
	WarnOnReview bool
	// StrikeOnReview counts a strike for reviewed messages, not just blocks.
	StrikeOnReview bool
	// WarnText overrides the default warning message when non-empty.
	WarnText string
}

// DefaultGroupPolicy is applied to chats without explicit configuration.
func DefaultGroupPolicy() GroupPolicy {
	return GroupPolicy{
		WarnOnBlock:  true,
		WarnOnReview: true,
	}
}

// GroupPolicySource resolves the enforcement policy for a chat.
type GroupPolicySource interface {
	PolicyFor(chatID int64) GroupPolicy
}

// StaticGroupPolicies is a fixed chat-to-policy map with a default fallback.
type StaticGroupPolicies struct {
	Default  GroupPolicy
	Policies map[int64]GroupPolicy
}

// PolicyFor returns the chat's policy, or the default when unset.
func (s StaticGroupPolicies) PolicyFor(chatID int64) GroupPolicy {
	if p, ok := s.Policies[chatID]; ok {
		return p
	}
	return s.Default
}
