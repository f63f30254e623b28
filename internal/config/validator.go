package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hmcelik/aegis-moderation/internal/domain/queue"
)

// Validate checks struct tags plus the cross-field queue and policy rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateQueueSizing(); err != nil {
		return err
	}
	if err := c.validateThresholds(); err != nil {
		return err
	}
	return c.validateBudgetMode()
}

// validateQueueSizing enforces the worker-pool arithmetic: every shard must
// end up with at least one worker.
func (c *Config) validateQueueSizing() error {
	q := c.Queue
	if q.PartitionCount > queue.MaxPartitions {
		return fmt.Errorf("queue.partition_count: must be <= %d, got %d", queue.MaxPartitions, q.PartitionCount)
	}
	if q.Concurrency < q.PartitionCount {
		return fmt.Errorf("queue.concurrency (%d) must be >= queue.partition_count (%d): every shard needs a worker",
			q.Concurrency, q.PartitionCount)
	}
	perShard := q.Concurrency / q.PartitionCount
	if q.MaxConcurrencyPerShard != 0 && q.MaxConcurrencyPerShard < perShard {
		return fmt.Errorf("queue.max_concurrency_per_shard (%d) must be >= concurrency/partition_count (%d)",
			q.MaxConcurrencyPerShard, perShard)
	}
	return nil
}

// validateThresholds keeps the verdict bands ordered.
func (c *Config) validateThresholds() error {
	if c.Policy.ReviewThreshold >= c.Policy.BlockThreshold {
		return fmt.Errorf("policy.review_threshold (%.0f) must be < policy.block_threshold (%.0f)",
			c.Policy.ReviewThreshold, c.Policy.BlockThreshold)
	}
	return nil
}

// validateBudgetMode ties the http budget mode to its service URL.
func (c *Config) validateBudgetMode() error {
	if c.Budget.Mode == "http" && c.Budget.ServiceURL == "" {
		return errors.New("budget.service_url is required when budget.mode is http")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors into actionable
// messages.
func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	var messages []string
	for _, e := range verrs {
		messages = append(messages, formatSingleValidationError(e))
	}
	return errors.New(strings.Join(messages, "; "))
}

func formatSingleValidationError(e validator.FieldError) string {
	field := strings.ToLower(e.Namespace())
	field = strings.TrimPrefix(field, "config.")
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s: required", field)
	case "required_if":
		return fmt.Sprintf("%s: required (%s)", field, e.Param())
	case "min":
		return fmt.Sprintf("%s: must be >= %s, got %v", field, e.Param(), e.Value())
	case "max":
		return fmt.Sprintf("%s: must be <= %s, got %v", field, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s], got %v", field, e.Param(), e.Value())
	case "url":
		return fmt.Sprintf("%s: must be a valid URL, got %v", field, e.Value())
	case "gt":
		return fmt.Sprintf("%s: must be > %s, got %v", field, e.Param(), e.Value())
	default:
		return fmt.Sprintf("%s: failed %s validation", field, e.Tag())
	}
}
