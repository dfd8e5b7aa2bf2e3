package ledger

import (
	"context"
	"time"
)

// Entry sources recorded by this service. Grants carry whatever tag the
// crediting feature uses (achievement, referral, ...).
const (
	SourceAnalysisOverage = "ai_analysis_overage"
)

// Entry is one immutable, balance-affecting transaction. Entries are never
// updated or deleted; the account's spike_balance is a cached projection of
// the latest BalanceAfter and is only ever written in the same transaction
// as an entry insert.
type Entry struct {
	ID               string
	AccountID        string
	Amount           int // signed; negative = debit
	BalanceAfter     int // balance snapshot immediately after applying Amount
	Source           string
	RelatedRequestID *string
	Description      string
	CreatedAt        time.Time
}

type Store interface {
	// Append inserts the entry and fills ID and CreatedAt.
	Append(ctx context.Context, entry *Entry) error
	// ListByAccount returns the account's entries, newest first.
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Entry, error)
}
