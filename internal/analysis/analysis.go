package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("analysis request not found")

// Kind is the aspect of sprint performance the coach is asked to analyze.
type Kind string

const (
	KindSprintForm        Kind = "sprint_form"
	KindBlockStart        Kind = "block_start"
	KindStrideLength      Kind = "stride_length"
	KindStrideFrequency   Kind = "stride_frequency"
	KindGroundContactTime Kind = "ground_contact_time"
	KindFlightTime        Kind = "flight_time"
)

var kinds = []Kind{
	KindSprintForm, KindBlockStart, KindStrideLength,
	KindStrideFrequency, KindGroundContactTime, KindFlightTime,
}

func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if Kind(s) == k {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown analysis kind %q", s)
}

// KindInfo describes one analysis kind for client pickers.
type KindInfo struct {
	Kind        Kind   `json:"kind"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func Kinds() []KindInfo {
	return []KindInfo{
		{KindSprintForm, "Sprint Form Analysis", "Comprehensive analysis of running technique and body mechanics"},
		{KindBlockStart, "Block Start Analysis", "Detailed evaluation of starting technique and acceleration"},
		{KindStrideLength, "Stride Length", "Assessment of stride length optimization and efficiency"},
		{KindStrideFrequency, "Stride Frequency", "Analysis of cadence and rhythm consistency"},
		{KindGroundContactTime, "Ground Contact Time", "Evaluation of foot strike patterns and ground contact efficiency"},
		{KindFlightTime, "Flight Time", "Analysis of aerial mechanics and flight phase optimization"},
	}
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// How an analysis was paid for.
const (
	AdmittedViaQuota  = "quota"
	AdmittedViaLedger = "ledger"
)

// Payload is the client-supplied analysis input.
type Payload struct {
	VideoURL       string   `json:"video_url"`
	VideoTitle     string   `json:"video_title"`
	CustomPrompt   string   `json:"custom_prompt,omitempty"`
	VideoTimestamp *float64 `json:"video_timestamp,omitempty"`
}

func (p Payload) Validate() error {
	if p.VideoURL == "" {
		return fmt.Errorf("video_url is required")
	}
	if p.VideoTitle == "" {
		return fmt.Errorf("video_title is required")
	}
	if len(p.VideoTitle) > 200 {
		return fmt.Errorf("video_title must be at most 200 characters")
	}
	if p.VideoTimestamp != nil && *p.VideoTimestamp < 0 {
		return fmt.Errorf("video_timestamp must be non-negative")
	}
	return nil
}

// Request is one admitted analysis call. It is created at admission time with
// status pending and reaches a terminal status exactly once; rows are never
// deleted (audit trail).
type Request struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Kind           Kind      `json:"kind"`
	VideoURL       string    `json:"video_url"`
	VideoTitle     string    `json:"video_title"`
	CustomPrompt   string    `json:"custom_prompt,omitempty"`
	VideoTimestamp *float64  `json:"video_timestamp,omitempty"`
	Status         Status    `json:"status"`
	CostSpikes     int       `json:"cost_spikes"`
	AdmittedVia    string    `json:"admitted_via"`
	ResultText     *string   `json:"result_text,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Store interface {
	// Create inserts the request and fills ID and CreatedAt.
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	// ListByAccount returns the account's requests, newest first.
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*Request, error)
	// MarkCompleted / MarkFailed transition a pending request to its terminal
	// status. They return false without error when the request was already
	// terminal, making the executor idempotent.
	MarkCompleted(ctx context.Context, id, resultText string) (bool, error)
	MarkFailed(ctx context.Context, id, failureNote string) (bool, error)
}
