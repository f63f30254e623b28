package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hmcelik/aegis-moderation/internal/port/outbound"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(url string) Config {
	return Config{
		BotToken:                "test-token",
		APIURL:                  url,
		MaxRetries:              3,
		BaseDelay:               time.Millisecond,
		MaxDelay:                5 * time.Millisecond,
		CircuitBreakerThreshold: 10,
		CircuitBreakerResetTime: time.Minute,
		RateLimit:               1000,
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	c, err := NewClient(cfg, testLogger(), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RequiresToken(t *testing.T) {
	if _, err := NewClient(Config{}, testLogger()); err == nil {
		t.Error("expected error for empty bot token")
	}
}

func TestClient_CallSuccess(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"ok":true,"result":{"message_id":42}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testConfig(srv.URL))
	result, err := c.Call(context.Background(), "sendMessage", map[string]any{
		"chat_id": int64(-100123),
		"text":    "hello",
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["chat_id"] != float64(-100123) || gotBody["text"] != "hello" {
		t.Errorf("request body = %v", gotBody)
	}
	if !strings.Contains(string(result), "message_id") {
		t.Errorf("result = %s", result)
	}

	m := c.GetMetrics()
	if m.TotalCalls != 1 || m.ErrorCount != 0 || m.SuccessRate != 1.0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"ok":false,"error_code":500,"description":"internal"}`)
			return
		}
		io.WriteString(w, `{"ok":true,"result":true}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testConfig(srv.URL))
	if _, err := c.Call(context.Background(), "deleteMessage", nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("server hits = %d, want 3", n)
	}
}

func TestClient_RetriesRateLimited(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"ok":false,"error_code":429,"description":"Too Many Requests"}`)
			return
		}
		io.WriteString(w, `{"ok":true,"result":true}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testConfig(srv.URL))
	if _, err := c.Call(context.Background(), "sendMessage", nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("server hits = %d, want 2", n)
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, `{"ok":false,"error_code":502,"description":"bad gateway"}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 2
	c := newTestClient(t, srv, cfg)

	_, err := c.Call(context.Background(), "sendMessage", nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "retries exhausted") {
		t.Errorf("error = %v", err)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("server hits = %d, want 3 (initial + 2 retries)", n)
	}
}

func TestClient_ClientErrorIsPermanent(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: message to delete not found"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testConfig(srv.URL))
	_, err := c.Call(context.Background(), "deleteMessage", nil)
	if !errors.Is(err, outbound.ErrPermanent) {
		t.Fatalf("error = %v, want ErrPermanent", err)
	}
	if !strings.Contains(err.Error(), "HTTP 400: Bad Request: message to delete not found") {
		t.Errorf("error = %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, permanent errors must not retry", n)
	}
}

func TestClient_CircuitBreaker(t *testing.T) {
	var hits atomic.Int64
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if healthy.Load() {
			io.WriteString(w, `{"ok":true,"result":true}`)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"ok":false,"error_code":403,"description":"bot was kicked"}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.CircuitBreakerThreshold = 2
	cfg.CircuitBreakerResetTime = 50 * time.Millisecond
	c := newTestClient(t, srv, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Call(ctx, "sendMessage", nil); !errors.Is(err, outbound.ErrPermanent) {
			t.Fatalf("call %d: error = %v, want ErrPermanent", i+1, err)
		}
	}
	if m := c.GetMetrics(); m.CircuitState != BreakerOpen {
		t.Fatalf("circuit state = %s, want open", m.CircuitState)
	}

	// Open circuit fails fast without touching the wire.
	before := hits.Load()
	if _, err := c.Call(ctx, "sendMessage", nil); !errors.Is(err, outbound.ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if hits.Load() != before {
		t.Error("open circuit still reached the server")
	}

	// After the reset timeout a probe goes through and closes the circuit.
	healthy.Store(true)
	time.Sleep(60 * time.Millisecond)
	if _, err := c.Call(ctx, "sendMessage", nil); err != nil {
		t.Fatalf("half-open probe: %v", err)
	}
	if m := c.GetMetrics(); m.CircuitState != BreakerClosed || m.CircuitFailures != 0 {
		t.Errorf("after probe: state=%s failures=%d", m.CircuitState, m.CircuitFailures)
	}
}

func TestClient_MethodParams(t *testing.T) {
	var got struct {
		path string
		body map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.body = nil
		json.NewDecoder(r.Body).Decode(&got.body)
		io.WriteString(w, `{"ok":true,"result":true}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testConfig(srv.URL))
	ctx := context.Background()

	if err := c.DeleteMessage(ctx, -100123, "456"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if !strings.HasSuffix(got.path, "/deleteMessage") {
		t.Errorf("path = %q", got.path)
	}
	if got.body["chat_id"] != float64(-100123) || got.body["message_id"] != float64(456) {
		t.Errorf("deleteMessage body = %v", got.body)
	}

	until := time.Now().Add(time.Hour)
	if err := c.RestrictChatMember(ctx, -100123, 9, until); err != nil {
		t.Fatalf("RestrictChatMember: %v", err)
	}
	if got.body["until_date"] != float64(until.Unix()) {
		t.Errorf("until_date = %v, want %d", got.body["until_date"], until.Unix())
	}
	perms, ok := got.body["permissions"].(map[string]any)
	if !ok || perms["can_send_messages"] != false {
		t.Errorf("permissions = %v", got.body["permissions"])
	}

	if err := c.BanChatMember(ctx, -100123, 9); err != nil {
		t.Fatalf("BanChatMember: %v", err)
	}
	if !strings.HasSuffix(got.path, "/banChatMember") || got.body["user_id"] != float64(9) {
		t.Errorf("banChatMember path=%q body=%v", got.path, got.body)
	}

	if err := c.UnbanChatMember(ctx, -100123, 9); err != nil {
		t.Fatalf("UnbanChatMember: %v", err)
	}
	if !strings.HasSuffix(got.path, "/unbanChatMember") {
		t.Errorf("path = %q", got.path)
	}
}

func TestClient_ResetMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"ok":false,"error_code":400,"description":"nope"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, testConfig(srv.URL))
	c.Call(context.Background(), "sendMessage", nil)

	if m := c.GetMetrics(); m.ErrorCount != 1 {
		t.Fatalf("error count = %d, want 1", m.ErrorCount)
	}
	c.ResetMetrics()
	m := c.GetMetrics()
	if m.TotalCalls != 0 || m.ErrorCount != 0 || m.CircuitState != BreakerClosed {
		t.Errorf("after reset: %+v", m)
	}
}
