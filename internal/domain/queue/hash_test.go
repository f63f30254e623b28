package queue

import (
	"errors"
	"strconv"
	"testing"
)

func TestShard_Deterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		key := strconv.Itoa(i)
		a := Shard(key, 8)
		b := Shard(key, 8)
		if a != b {
			t.Fatalf("Shard(%q, 8) not deterministic: %d vs %d", key, a, b)
		}
		if a < 0 || a >= 8 {
			t.Fatalf("Shard(%q, 8) = %d, out of range", key, a)
		}
	}
}

func TestShard_SinglePartition(t *testing.T) {
	if Shard("anything", 1) != 0 {
		t.Error("single partition must route everything to shard 0")
	}
	if Shard("anything", 0) != 0 {
		t.Error("degenerate partition count must route to shard 0")
	}
}

func TestShard_HalvingProperty(t *testing.T) {
	// Doubling the partition count keeps every chat on shard s or s+N.
	const n = 8
	for i := 0; i < 10_000; i++ {
		key := strconv.Itoa(i)
		before := Shard(key, n)
		after := Shard(key, 2*n)
		if after != before && after != before+n {
			t.Fatalf("chat %q moved from %d to %d when doubling %d -> %d partitions",
				key, before, after, n, 2*n)
		}
	}
}

func TestMessageJob_ID(t *testing.T) {
	j := MessageJob{ChatID: -100123, MessageID: "456"}
	if got := j.ID(); got != "-100123:456" {
		t.Errorf("ID() = %q, want -100123:456", got)
	}
	if got := j.ChatKey(); got != "-100123" {
		t.Errorf("ChatKey() = %q, want -100123", got)
	}
}

func TestMessageJob_Validate(t *testing.T) {
	if err := (MessageJob{ChatID: 1, MessageID: "m"}).Validate(); err != nil {
		t.Errorf("valid job rejected: %v", err)
	}
	if err := (MessageJob{MessageID: "m"}).Validate(); !errors.Is(err, ErrZeroChatID) {
		t.Errorf("want ErrZeroChatID, got %v", err)
	}
	if err := (MessageJob{ChatID: 1}).Validate(); !errors.Is(err, ErrEmptyMessageID) {
		t.Errorf("want ErrEmptyMessageID, got %v", err)
	}
}
