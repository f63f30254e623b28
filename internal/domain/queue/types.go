// Package queue contains the sharded message-queue domain types: jobs, shard
// routing, and queue statistics.
package queue

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Validation errors surfaced by PublishMessage before a job enters the queue.
var (
	// ErrEmptyMessageID rejects jobs without a message identifier.
	ErrEmptyMessageID = errors.New("message job has empty messageId")
	// ErrZeroChatID rejects jobs without a chat identifier.
	ErrZeroChatID = errors.New("message job has zero chatId")
	// ErrBackpressure is returned when a shard's ready queue stays above its
	// high watermark for longer than the publisher's bounded wait.
	ErrBackpressure = errors.New("shard queue over high watermark")
	// ErrShuttingDown is returned when publishing after shutdown started.
	ErrShuttingDown = errors.New("queue is shutting down")
)

// Metadata carries the sender details attached to a message job.
type Metadata struct {
	Username  string
	FirstName string
	LastName  string
}

// MessageJob is one chat message to moderate. Jobs are immutable once
// enqueued; the worker owns the job exclusively while processing it.
type MessageJob struct {
	// ChatID is the platform chat identifier (signed 64-bit).
	ChatID int64
	// MessageID is the platform message identifier within the chat.
	MessageID string
	// UserID is the sender's platform identifier.
	UserID int64
	// TenantID selects the moderation tenant (budget, policy).
	TenantID string
	// Content is the raw message text.
	Content string
	// Timestamp is when the platform delivered the message.
	Timestamp time.Time
	// Metadata carries sender details.
	Metadata Metadata
	// UserEstablished is the "established user" signal supplied by ingress
	// (account age / reputation above the configured threshold).
	UserEstablished bool
	// Priority orders dequeue within a shard only; higher dequeues first.
	Priority int
}

// ID returns the job identifier "chatId:messageId", unique per job.
func (j MessageJob) ID() string {
	return fmt.Sprintf("%d:%s", j.ChatID, j.MessageID)
}

// ChatKey returns the chat ID in the string form used for shard routing.
func (j MessageJob) ChatKey() string {
	return strconv.FormatInt(j.ChatID, 10)
}

// Validate rejects malformed jobs at the publish boundary.
func (j MessageJob) Validate() error {
	if j.ChatID == 0 {
		return ErrZeroChatID
	}
	if j.MessageID == "" {
		return ErrEmptyMessageID
	}
	return nil
}

// Stats is a point-in-time view of queue occupancy across all shards.
type Stats struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
}

// DeadLetter is a job that exhausted its processing retries.
type DeadLetter struct {
	Job      MessageJob
	Attempts int
	LastErr  string
	FailedAt time.Time
}
