package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sprintiq/sprinthia-gate/internal/analysis"
	"github.com/sprintiq/sprinthia-gate/internal/auth"
	"github.com/sprintiq/sprinthia-gate/internal/metering"
	"github.com/sprintiq/sprinthia-gate/internal/tier"
	"github.com/sprintiq/sprinthia-gate/pkg/ratelimit"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// Meter is the admission side of the metering controller.
type Meter interface {
	Admit(ctx context.Context, accountID string, kind analysis.Kind, payload analysis.Payload, now time.Time) (*metering.Admission, error)
	Usage(ctx context.Context, accountID string, now time.Time) (*metering.UsageReport, error)
}

// Dispatcher starts the analysis executor for an admitted request.
type Dispatcher interface {
	Dispatch(requestID string)
}

type Handler struct {
	meter    Meter
	requests analysis.Store
	executor Dispatcher
	limiter  *ratelimit.Limiter
	tracer   trace.Tracer
	now      func() time.Time
}

func NewHandler(meter Meter, requests analysis.Store, executor Dispatcher, limiter *ratelimit.Limiter, tracer trace.Tracer) *Handler {
	return &Handler{
		meter:    meter,
		requests: requests,
		executor: executor,
		limiter:  limiter,
		tracer:   tracer,
		now:      time.Now,
	}
}

type analyzeRequest struct {
	Kind string `json:"kind"`
	analysis.Payload
}

// HandleAnalyze admits a metered analysis request and dispatches the executor
// without waiting for it. The caller gets 202 with a pending request ID and
// polls GET /v1/analysis/{id} for the outcome.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := auth.GetAccountID(ctx)
	if accountID == "" {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	allowed, err := h.limiter.Allow(ctx, accountID)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60s")
		respondJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	kind, err := analysis.ParseKind(req.Kind)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Payload.Validate(); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	_, span := h.tracer.Start(ctx, "gate.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("account_id", accountID),
		attribute.String("request_id", auth.GetRequestID(ctx)),
		attribute.String("analysis_kind", string(kind)),
	)

	admission, err := h.meter.Admit(ctx, accountID, kind, req.Payload, h.now())
	if err != nil {
		var insufficient *metering.InsufficientSpikesError
		if errors.As(err, &insufficient) {
			respondJSON(w, http.StatusPaymentRequired, map[string]any{
				"error":     "insufficient_credit",
				"required":  insufficient.Required,
				"available": insufficient.Available,
			})
			return
		}
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start analysis"})
		return
	}

	// Admission has committed; the analysis itself runs out-of-band.
	h.executor.Dispatch(admission.Request.ID)

	respondJSON(w, http.StatusAccepted, map[string]any{
		"analysis_request_id": admission.Request.ID,
		"status":              analysis.StatusPending,
		"admitted_via":        admission.Via,
		"cost_spikes":         admission.CostSpikes,
	})
}

// HandleUsage reports the caller's standing against its tier policy.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := auth.GetAccountID(ctx)
	if accountID == "" {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	report, err := h.meter.Usage(ctx, accountID, h.now())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch usage"})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"tier":          report.Tier,
		"spike_balance": report.SpikeBalance,
		"usage": map[string]int{
			"weekly":  report.WeeklyUsed,
			"monthly": report.MonthlyUsed,
		},
		"limits": map[string]any{
			"weekly_quota":  quotaJSON(report.WeeklyQuota),
			"monthly_quota": quotaJSON(report.MonthlyQuota),
		},
		"overage_cost_spikes": report.OverageCostSpikes,
	})
}

// HandleGetAnalysis returns one analysis request, owner-only.
func (h *Handler) HandleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := auth.GetAccountID(ctx)
	if accountID == "" {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	id := chi.URLParam(r, "id")
	req, err := h.requests.Get(ctx, id)
	if err != nil {
		if errors.Is(err, analysis.ErrNotFound) {
			respondJSON(w, http.StatusNotFound, map[string]string{"error": "analysis not found"})
			return
		}
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch analysis"})
		return
	}

	if req.AccountID != accountID {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
		return
	}

	respondJSON(w, http.StatusOK, req)
}

// HandleHistory lists the caller's past analysis requests, newest first.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := auth.GetAccountID(ctx)
	if accountID == "" {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	page := parseQueryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := parseQueryInt(r, "limit", defaultHistoryLimit)
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	offset := (page - 1) * limit

	requests, err := h.requests.ListByAccount(ctx, accountID, limit, offset)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch history"})
		return
	}
	if requests == nil {
		requests = []*analysis.Request{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"analyses": requests,
		"pagination": map[string]any{
			"page":     page,
			"limit":    limit,
			"has_more": len(requests) == limit,
		},
	})
}

// HandleAnalysisKinds is the static catalogue for client pickers.
func (h *Handler) HandleAnalysisKinds(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"kinds": analysis.Kinds()})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseQueryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// Unlimited quotas render as a string rather than the internal sentinel.
func quotaJSON(quota int) any {
	if quota == tier.Unlimited {
		return "unlimited"
	}
	return quota
}
