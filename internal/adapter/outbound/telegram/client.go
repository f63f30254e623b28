// Package telegram is the Bot API adapter behind the platform client port:
// JSON method calls with retry, rate limiting, and a circuit breaker so a
// platform outage cannot stall the outbox dispatcher.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hmcelik/aegis-moderation/internal/port/outbound"
)

const (
	defaultAPIURL    = "https://api.telegram.org"
	defaultMaxDelay  = 30 * time.Second
	defaultBaseDelay = 250 * time.Millisecond
	// Bot API global sendMessage ceiling is ~30/s.
	defaultRateLimit = 30
)

// Config holds the Bot API client settings.
type Config struct {
	BotToken string
	// APIURL overrides the Bot API base URL (tests point it at a local server).
	APIURL string
	// MaxRetries bounds retry attempts per call for retryable failures.
	MaxRetries int
	// BaseDelay and MaxDelay bound the exponential retry backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// CircuitBreakerThreshold is the consecutive-failure count that opens
	// the circuit.
	CircuitBreakerThreshold int
	// CircuitBreakerResetTime is how long the circuit stays open before a
	// half-open probe.
	CircuitBreakerResetTime time.Duration
	// RateLimit is calls per second; zero uses the Bot API default.
	RateLimit float64
}

func (c *Config) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.CircuitBreakerThreshold <= 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerResetTime <= 0 {
		c.CircuitBreakerResetTime = 30 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = defaultRateLimit
	}
}

// Metrics is a point-in-time view of client health.
type Metrics struct {
	TotalCalls      int64
	ErrorCount      int64
	SuccessRate     float64
	CircuitState    BreakerState
	CircuitFailures int
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// Client is the Bot API HTTP client. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuitBreaker
	logger  *slog.Logger

	totalCalls atomic.Int64
	errorCount atomic.Int64
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Bot API client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	cfg.applyDefaults()

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)),
		breaker: newCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerResetTime),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ outbound.PlatformClient = (*Client)(nil)

// Call performs one Bot API method call with retry and backoff. Network
// errors, HTTP 5xx, and 429 are retried; 400/401/403 surface immediately as
// permanent errors; an open circuit fails fast without touching the wire.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if !c.breaker.allow() {
		return nil, fmt.Errorf("%s: %w", method, outbound.ErrCircuitOpen)
	}
	c.totalCalls.Add(1)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.retryDelay(attempt, lastErr)
			c.logger.Debug("telegram retry",
				"method", method, "attempt", attempt, "wait", wait)
			select {
			case <-ctx.Done():
				c.noteFailure()
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		result, err := c.doCall(ctx, method, params)
		if err == nil {
			c.breaker.recordSuccess()
			return result, nil
		}
		lastErr = err

		var re *retryableError
		if !errors.As(err, &re) {
			c.noteFailure()
			return nil, err
		}
	}

	c.noteFailure()
	return nil, fmt.Errorf("%s: retries exhausted: %w", method, lastErr)
}

// retryableError marks a failure worth retrying, optionally carrying the
// server-instructed delay from a 429.
type retryableError struct {
	err        error
	retryAfter time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// retryDelay is exponential with jitter, honoring a 429 retry_after.
func (c *Client) retryDelay(attempt int, lastErr error) time.Duration {
	var re *retryableError
	if errors.As(lastErr, &re) && re.retryAfter > 0 {
		return re.retryAfter
	}
	d := c.cfg.BaseDelay << uint(attempt-1)
	if d > c.cfg.MaxDelay || d <= 0 {
		d = c.cfg.MaxDelay
	}
	// Full jitter.
	return time.Duration(rand.Int63n(int64(d)) + int64(c.cfg.BaseDelay)/2)
}

// doCall performs one HTTP round trip and classifies the outcome.
func (c *Client) doCall(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: encode params: %v", outbound.ErrPermanent, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.cfg.APIURL, c.cfg.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", outbound.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("network: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("read response: %w", err)}
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode == http.StatusOK {
		return nil, &retryableError{err: fmt.Errorf("decode response: %w", err)}
	}
	if env.OK {
		return env.Result, nil
	}

	reason := env.Description
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		re := &retryableError{err: fmt.Errorf("HTTP 429: %s", reason)}
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			re.retryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
		} else if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				re.retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, re
	case resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, reason)}
	default:
		// 400, 401, 403 and anything else the API rejects outright.
		return nil, fmt.Errorf("%w: HTTP %d: %s", outbound.ErrPermanent, resp.StatusCode, reason)
	}
}

func (c *Client) noteFailure() {
	c.errorCount.Add(1)
	c.breaker.recordFailure()
}

// SendMessage sends a text message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := c.Call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	return err
}

// DeleteMessage removes a message from a chat.
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID string) error {
	params := map[string]any{"chat_id": chatID}
	if id, err := strconv.ParseInt(messageID, 10, 64); err == nil {
		params["message_id"] = id
	} else {
		params["message_id"] = messageID
	}
	_, err := c.Call(ctx, "deleteMessage", params)
	return err
}

// BanChatMember permanently bans a user from a chat.
func (c *Client) BanChatMember(ctx context.Context, chatID, userID int64) error {
	_, err := c.Call(ctx, "banChatMember", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	})
	return err
}

// RestrictChatMember mutes a user until the given time.
func (c *Client) RestrictChatMember(ctx context.Context, chatID, userID int64, until time.Time) error {
	_, err := c.Call(ctx, "restrictChatMember", map[string]any{
		"chat_id":    chatID,
		"user_id":    userID,
		"until_date": until.Unix(),
		"permissions": map[string]any{
			"can_send_messages": false,
		},
	})
	return err
}

// UnbanChatMember lifts a ban.
func (c *Client) UnbanChatMember(ctx context.Context, chatID, userID int64) error {
	_, err := c.Call(ctx, "unbanChatMember", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	})
	return err
}

// GetMetrics returns call counters and breaker state.
func (c *Client) GetMetrics() Metrics {
	total := c.totalCalls.Load()
	errs := c.errorCount.Load()
	var success float64
	if total > 0 {
		success = float64(total-errs) / float64(total)
	}
	state, failures := c.breaker.snapshot()
	return Metrics{
		TotalCalls:      total,
		ErrorCount:      errs,
		SuccessRate:     success,
		CircuitState:    state,
		CircuitFailures: failures,
	}
}

// ResetMetrics clears counters and closes the circuit.
func (c *Client) ResetMetrics() {
	c.totalCalls.Store(0)
	c.errorCount.Store(0)
	c.breaker.reset()
}
