package provider

import (
	"context"
)

// Request carries everything the coach needs about one admitted analysis.
type Request struct {
	Kind           string
	VideoURL       string
	VideoTitle     string
	CustomPrompt   string
	VideoTimestamp *float64
}

// Result is the provider's analysis output.
type Result struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is the externally billed analysis service. Calls are slow and
// must be made with a bounded context; failures are terminal for the request
// that triggered them (no retries, no refunds).
type Provider interface {
	Analyze(ctx context.Context, req *Request) (*Result, error)
	Name() string
}
