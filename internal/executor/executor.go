package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sprintiq/sprinthia-gate/internal/analysis"
	"github.com/sprintiq/sprinthia-gate/internal/provider"
)

// Executor runs admitted analyses out-of-band: one detached task per request,
// bounded by a timeout, with a circuit breaker in front of the provider.
// Whatever happens here never reverses the admission's cost and is only
// observable by polling the request.
type Executor struct {
	requests analysis.Store
	provider provider.Provider
	breaker  *gobreaker.CircuitBreaker
	timeout  time.Duration
}

func New(requests analysis.Store, p provider.Provider, timeout time.Duration) *Executor {
	settings := gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Executor{
		requests: requests,
		provider: p,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		timeout:  timeout,
	}
}

// Dispatch starts the analysis without waiting for it, fire-and-forget from
// the caller's perspective. The admission has already committed by the time
// this runs.
func (e *Executor) Dispatch(requestID string) {
	go e.Run(context.Background(), requestID)
}

// Run performs the external analysis and records the terminal status. Calling
// it again on an already-terminal request is a no-op (the store's status
// guard makes the transition exactly-once even if two runs race).
func (e *Executor) Run(ctx context.Context, requestID string) {
	req, err := e.requests.Get(ctx, requestID)
	if err != nil {
		log.Printf("executor: failed to load request %s: %v", requestID, err)
		return
	}
	if req.Status != analysis.StatusPending {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.provider.Analyze(callCtx, &provider.Request{
			Kind:           string(req.Kind),
			VideoURL:       req.VideoURL,
			VideoTitle:     req.VideoTitle,
			CustomPrompt:   req.CustomPrompt,
			VideoTimestamp: req.VideoTimestamp,
		})
	})
	if err != nil {
		log.Printf("executor: analysis %s failed: %v", requestID, err)
		note := fmt.Sprintf("Analysis failed: %v. Please try again.", err)
		if _, err := e.requests.MarkFailed(ctx, requestID, note); err != nil {
			log.Printf("executor: failed to mark request %s failed: %v", requestID, err)
		}
		return
	}

	text := result.(*provider.Result).Text
	if _, err := e.requests.MarkCompleted(ctx, requestID, text); err != nil {
		log.Printf("executor: failed to mark request %s completed: %v", requestID, err)
	}
}
