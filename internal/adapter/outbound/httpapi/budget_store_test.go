package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmcelik/aegis-moderation/internal/domain/budget"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, srv *httptest.Server, apiKey string) *BudgetStore {
	t.Helper()
	s, err := NewBudgetStore(BudgetStoreConfig{
		BaseURL: srv.URL + "/",
		APIKey:  apiKey,
	}, testLogger(), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewBudgetStore: %v", err)
	}
	return s
}

func TestBudgetStore_Fetch(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, `{
			"tenantId": "t1",
			"monthlyLimit": "25.00",
			"totalSpent": "3.142",
			"degradeMode": "link_blocks",
			"resetDate": "2026-09-01T00:00:00Z",
			"isExhausted": false
		}`)
	}))
	defer srv.Close()

	store := newTestStore(t, srv, "secret")
	snap, err := store.Fetch(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotPath != "/v1/tenants/t1/budget" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if !snap.MonthlyLimit.Equal(decimal.NewFromFloat(25.0)) {
		t.Errorf("monthlyLimit = %s", snap.MonthlyLimit)
	}
	if !snap.TotalSpent.Equal(decimal.NewFromFloat(3.142)) {
		t.Errorf("totalSpent = %s", snap.TotalSpent)
	}
	if snap.DegradeMode != budget.DegradeLinkBlocks {
		t.Errorf("degradeMode = %s", snap.DegradeMode)
	}
	if want := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC); !snap.ResetDate.Equal(want) {
		t.Errorf("resetDate = %v", snap.ResetDate)
	}
}

func TestBudgetStore_FetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := newTestStore(t, srv, "")
	if _, err := store.Fetch(context.Background(), "ghost"); !errors.Is(err, budget.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBudgetStore_FetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newTestStore(t, srv, "")
	if _, err := store.Fetch(context.Background(), "t1"); err == nil {
		t.Error("expected error on HTTP 500")
	}
}

func TestBudgetStore_FetchDefaultsApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Unknown degrade mode, missing reset date.
		io.WriteString(w, `{"tenantId":"t1","monthlyLimit":"10","totalSpent":"0","degradeMode":"mystery"}`)
	}))
	defer srv.Close()

	store := newTestStore(t, srv, "")
	snap, err := store.Fetch(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.DegradeMode != budget.DegradeStrictRules {
		t.Errorf("degradeMode = %s, want strict_rules fallback", snap.DegradeMode)
	}
	if snap.ResetDate.IsZero() {
		t.Error("missing reset date should default to the next month boundary")
	}
}

func TestBudgetStore_FetchMalformedDecimal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"tenantId":"t1","monthlyLimit":"lots","totalSpent":"0"}`)
	}))
	defer srv.Close()

	store := newTestStore(t, srv, "")
	if _, err := store.Fetch(context.Background(), "t1"); err == nil {
		t.Error("expected error for unparseable monthlyLimit")
	}
}

func TestBudgetStore_Record(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := newTestStore(t, srv, "secret")
	err := store.Record(context.Background(), "t1", budget.Usage{
		Tokens:    480,
		Cost:      decimal.NewFromFloat(0.002),
		Model:     "gpt-4o-mini",
		Operation: "spam_check",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if gotPath != "/v1/tenants/t1/usage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotBody["tokens"] != float64(480) || gotBody["cost"] != "0.002" || gotBody["operation"] != "spam_check" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestBudgetStore_RecordRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	store := newTestStore(t, srv, "")
	err := store.Record(context.Background(), "t1", budget.Usage{Cost: decimal.Zero})
	if err == nil {
		t.Error("expected error on HTTP 403")
	}
}

func TestNewBudgetStore_RequiresBaseURL(t *testing.T) {
	if _, err := NewBudgetStore(BudgetStoreConfig{}, testLogger()); err == nil {
		t.Error("expected error for empty base URL")
	}
}
