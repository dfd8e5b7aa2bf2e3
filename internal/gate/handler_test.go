package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sprintiq/sprinthia-gate/internal/analysis"
	"github.com/sprintiq/sprinthia-gate/internal/auth"
	"github.com/sprintiq/sprinthia-gate/internal/metering"
	"github.com/sprintiq/sprinthia-gate/internal/tier"
	"github.com/sprintiq/sprinthia-gate/pkg/ratelimit"
)

// Mock meter
type mockMeter struct {
	admitFunc func(ctx context.Context, accountID string, kind analysis.Kind, payload analysis.Payload, now time.Time) (*metering.Admission, error)
	usageFunc func(ctx context.Context, accountID string, now time.Time) (*metering.UsageReport, error)
	admits    int
}

func (m *mockMeter) Admit(ctx context.Context, accountID string, kind analysis.Kind, payload analysis.Payload, now time.Time) (*metering.Admission, error) {
	m.admits++
	if m.admitFunc != nil {
		return m.admitFunc(ctx, accountID, kind, payload, now)
	}
	return &metering.Admission{
		Request: &analysis.Request{ID: "req-1", AccountID: accountID, Kind: kind, Status: analysis.StatusPending},
		Via:     analysis.AdmittedViaQuota,
	}, nil
}

func (m *mockMeter) Usage(ctx context.Context, accountID string, now time.Time) (*metering.UsageReport, error) {
	if m.usageFunc != nil {
		return m.usageFunc(ctx, accountID, now)
	}
	return &metering.UsageReport{Tier: tier.Free, MonthlyQuota: 1}, nil
}

// Mock analysis store
type mockRequestStore struct {
	request *analysis.Request
	listed  []*analysis.Request
	limit   int
	offset  int
}

func (m *mockRequestStore) Create(ctx context.Context, req *analysis.Request) error { return nil }

func (m *mockRequestStore) Get(ctx context.Context, id string) (*analysis.Request, error) {
	if m.request == nil {
		return nil, analysis.ErrNotFound
	}
	return m.request, nil
}

func (m *mockRequestStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*analysis.Request, error) {
	m.limit, m.offset = limit, offset
	return m.listed, nil
}

func (m *mockRequestStore) MarkCompleted(ctx context.Context, id, resultText string) (bool, error) {
	return true, nil
}

func (m *mockRequestStore) MarkFailed(ctx context.Context, id, failureNote string) (bool, error) {
	return true, nil
}

// Mock dispatcher
type mockDispatcher struct {
	dispatched []string
}

func (m *mockDispatcher) Dispatch(requestID string) {
	m.dispatched = append(m.dispatched, requestID)
}

// Mock limiter store
type mockLimiterStore struct {
	allowed bool
	err     error
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func setupTest(meter *mockMeter, store *mockRequestStore, limiterAllowed bool) (*Handler, *mockDispatcher) {
	dispatcher := &mockDispatcher{}
	limiter := ratelimit.NewTestLimiter(&mockLimiterStore{allowed: limiterAllowed})
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewHandler(meter, store, dispatcher, limiter, tracer), dispatcher
}

func validBody(t *testing.T) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"kind":        "sprint_form",
		"video_url":   "https://cdn.example.com/run.mp4",
		"video_title": "100m heat 2",
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return bytes.NewReader(body)
}

func TestHandleAnalyze_Unauthorized(t *testing.T) {
	h, _ := setupTest(&mockMeter{}, &mockRequestStore{}, true)
	req := httptest.NewRequest("POST", "/v1/analyze", validBody(t))
	w := httptest.NewRecorder()

	h.HandleAnalyze(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestHandleAnalyze_InvalidBody(t *testing.T) {
	h, _ := setupTest(&mockMeter{}, &mockRequestStore{}, true)
	req := httptest.NewRequest("POST", "/v1/analyze", strings.NewReader(`{invalid json}`))
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()

	h.HandleAnalyze(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleAnalyze_UnknownKind(t *testing.T) {
	meter := &mockMeter{}
	h, dispatcher := setupTest(meter, &mockRequestStore{}, true)
	body, _ := json.Marshal(map[string]string{
		"kind":        "long_jump",
		"video_url":   "https://cdn.example.com/run.mp4",
		"video_title": "t",
	})
	req := httptest.NewRequest("POST", "/v1/analyze", bytes.NewReader(body))
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()

	h.HandleAnalyze(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
	if meter.admits != 0 {
		t.Error("Invalid kind must be rejected before admission")
	}
	if len(dispatcher.dispatched) != 0 {
		t.Error("Invalid kind must not dispatch the executor")
	}
}

func TestHandleAnalyze_MissingVideoURL(t *testing.T) {
	h, _ := setupTest(&mockMeter{}, &mockRequestStore{}, true)
	body, _ := json.Marshal(map[string]string{"kind": "sprint_form", "video_title": "t"})
	req := httptest.NewRequest("POST", "/v1/analyze", bytes.NewReader(body))
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()

	h.HandleAnalyze(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestHandleAnalyze_RateLimited(t *testing.T) {
	meter := &mockMeter{}
	h, _ := setupTest(meter, &mockRequestStore{}, false)
	req := httptest.NewRequest("POST", "/v1/analyze", validBody(t))
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()

	h.HandleAnalyze(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
	if meter.admits != 0 {
		t.Error("Rate-limited request must not reach admission")
	}
}

func TestHandleAnalyze_InsufficientCredit(t *testing.T) {
	meter := &mockMeter{
		admitFunc: func(ctx context.Context, accountID string, kind analysis.Kind, payload analysis.Payload, now time.Time) (*metering.Admission, error) {
			return nil, &metering.InsufficientSpikesError{Required: 10, Available: 3}
		},
	}
	h, dispatcher := setupTest(meter, &mockRequestStore{}, true)
	req := httptest.NewRequest("POST", "/v1/analyze", validBody(t))
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()

	h.HandleAnalyze(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "insufficient_credit" {
		t.Errorf("Expected insufficient_credit error, got %v", resp["error"])
	}
	if resp["required"] != float64(10) || resp["available"] != float64(3) {
		t.Errorf("Expected required=10 available=3, got %v/%v", resp["required"], resp["available"])
	}
	if len(dispatcher.dispatched) != 0 {
		t.Error("Rejected admission must not dispatch the executor")
	}
}

func TestHandleAnalyze_Admitted(t *testing.T) {
	h, dispatcher := setupTest(&mockMeter{}, &mockRequestStore{}, true)
	req := httptest.NewRequest("POST", "/v1/analyze", validBody(t))
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()

	h.HandleAnalyze(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["analysis_request_id"] != "req-1" {
		t.Errorf("Expected analysis_request_id req-1, got %v", resp["analysis_request_id"])
	}
	if resp["status"] != "pending" {
		t.Errorf("Expected pending status, got %v", resp["status"])
	}
	if resp["admitted_via"] != analysis.AdmittedViaQuota {
		t.Errorf("Expected quota admission, got %v", resp["admitted_via"])
	}

	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0] != "req-1" {
		t.Errorf("Expected executor dispatched for req-1, got %v", dispatcher.dispatched)
	}
}

func TestHandleUsage(t *testing.T) {
	meter := &mockMeter{
		usageFunc: func(ctx context.Context, accountID string, now time.Time) (*metering.UsageReport, error) {
			return &metering.UsageReport{
				Tier:              tier.Pro,
				SpikeBalance:      42,
				WeeklyUsed:        3,
				WeeklyQuota:       5,
				MonthlyQuota:      tier.Unlimited,
				OverageCostSpikes: 10,
			}, nil
		},
	}
	h, _ := setupTest(meter, &mockRequestStore{}, true)
	req := httptest.NewRequest("GET", "/v1/usage", nil)
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()

	h.HandleUsage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["tier"] != "pro" || resp["spike_balance"] != float64(42) {
		t.Errorf("Unexpected usage payload: %v", resp)
	}
	limits := resp["limits"].(map[string]any)
	if limits["weekly_quota"] != float64(5) {
		t.Errorf("Expected weekly_quota 5, got %v", limits["weekly_quota"])
	}
	if limits["monthly_quota"] != "unlimited" {
		t.Errorf("Expected unlimited monthly quota, got %v", limits["monthly_quota"])
	}
}

func TestHandleGetAnalysis_OwnerOnly(t *testing.T) {
	store := &mockRequestStore{request: &analysis.Request{ID: "req-1", AccountID: "acct-1"}}
	h, _ := setupTest(&mockMeter{}, store, true)

	r := chi.NewRouter()
	r.Get("/v1/analysis/{id}", h.HandleGetAnalysis)

	// Owner sees the request.
	req := httptest.NewRequest("GET", "/v1/analysis/req-1", nil)
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for owner, got %d", w.Code)
	}

	// Anyone else gets 403.
	req = httptest.NewRequest("GET", "/v1/analysis/req-1", nil)
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-2"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-owner, got %d", w.Code)
	}
}

func TestHandleGetAnalysis_NotFound(t *testing.T) {
	h, _ := setupTest(&mockMeter{}, &mockRequestStore{}, true)

	r := chi.NewRouter()
	r.Get("/v1/analysis/{id}", h.HandleGetAnalysis)

	req := httptest.NewRequest("GET", "/v1/analysis/missing", nil)
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestHandleHistory_Pagination(t *testing.T) {
	store := &mockRequestStore{listed: []*analysis.Request{{ID: "req-9"}}}
	h, _ := setupTest(&mockMeter{}, store, true)

	req := httptest.NewRequest("GET", "/v1/history?page=3&limit=20", nil)
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()

	h.HandleHistory(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if store.limit != 20 || store.offset != 40 {
		t.Errorf("Expected limit=20 offset=40, got %d/%d", store.limit, store.offset)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	pagination := resp["pagination"].(map[string]any)
	if pagination["page"] != float64(3) || pagination["has_more"] != false {
		t.Errorf("Unexpected pagination: %v", pagination)
	}
}

func TestHandleHistory_ClampsLimit(t *testing.T) {
	store := &mockRequestStore{}
	h, _ := setupTest(&mockMeter{}, store, true)

	req := httptest.NewRequest("GET", "/v1/history?limit=5000", nil)
	req = req.WithContext(auth.WithAccountID(req.Context(), "acct-1"))
	w := httptest.NewRecorder()

	h.HandleHistory(w, req)

	if store.limit != maxHistoryLimit {
		t.Errorf("Expected limit clamped to %d, got %d", maxHistoryLimit, store.limit)
	}
}

func TestHandleAnalysisKinds(t *testing.T) {
	h, _ := setupTest(&mockMeter{}, &mockRequestStore{}, true)
	req := httptest.NewRequest("GET", "/v1/analysis-kinds", nil)
	w := httptest.NewRecorder()

	h.HandleAnalysisKinds(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string][]analysis.KindInfo
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp["kinds"]) != 6 {
		t.Errorf("Expected 6 analysis kinds, got %d", len(resp["kinds"]))
	}
}
