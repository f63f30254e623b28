package service

import (
	"fmt"
	"sync"
)

// StrikeCounter tracks enforcement strikes per (chat, user). Blocked
// messages always earn a strike; reviewed messages earn one only when the
// group policy says so.
type StrikeCounter struct {
	mu      sync.RWMutex
	strikes map[string]int
}

// NewStrikeCounter creates an empty counter.
func NewStrikeCounter() *StrikeCounter {
	return &StrikeCounter{strikes: make(map[string]int)}
}

func strikeKey(chatID, userID int64) string {
	return fmt.Sprintf("%d:%d", chatID, userID)
}

// Increment adds one strike and returns the new total.
func (c *StrikeCounter) Increment(chatID, userID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := strikeKey(chatID, userID)
	c.strikes[key]++
	return c.strikes[key]
}

// Count returns the current strike total for a user in a chat.
func (c *StrikeCounter) Count(chatID, userID int64) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strikes[strikeKey(chatID, userID)]
}

// Reset clears a user's strikes in a chat.
func (c *StrikeCounter) Reset(chatID, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.strikes, strikeKey(chatID, userID))
}

// Snapshot returns a copy of all strike totals keyed "chatId:userId".
func (c *StrikeCounter) Snapshot() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.strikes))
	for k, v := range c.strikes {
		out[k] = v
	}
	return out
}
