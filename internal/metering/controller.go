package metering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sprintiq/sprinthia-gate/internal/analysis"
	"github.com/sprintiq/sprinthia-gate/internal/ledger"
	"github.com/sprintiq/sprinthia-gate/internal/tier"
	"github.com/sprintiq/sprinthia-gate/internal/usage"
)

var ErrAccountNotFound = errors.New("account not found")

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Admission is the successful outcome of one metered request: the pending
// analysis row plus how it was paid for.
type Admission struct {
	Request    *analysis.Request
	Via        string
	CostSpikes int
}

// UsageReport is the account's current standing against its tier policy.
type UsageReport struct {
	Tier              tier.Tier
	SpikeBalance      int
	WeeklyUsed        int
	MonthlyUsed       int
	WeeklyQuota       int
	MonthlyQuota      int
	OverageCostSpikes int
}

// Controller decides the fate of analysis requests and performs all state
// mutation for each decision as one atomic unit. Concurrent admissions for
// the same account are linearized by the row lock taken on the account.
type Controller struct {
	db     TxBeginner
	policy tier.Policy
}

func NewController(db TxBeginner, policy tier.Policy) *Controller {
	return &Controller{db: db, policy: policy}
}

// Admit runs the full admission for one analysis request: resolve policy and
// window, decide, apply exactly one of {nothing, window increment, spike
// debit}, and create the pending analysis row — all in one transaction, so a
// rejected or failed admission leaves no trace and a successful one can never
// be charged without its request row.
func (c *Controller) Admit(ctx context.Context, accountID string, kind analysis.Kind, payload analysis.Payload, now time.Time) (*Admission, error) {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin admission: %w", err)
	}
	defer tx.Rollback(ctx)

	// The row lock serializes read-decide-write per account; without it two
	// concurrent admissions could both pass the same balance or quota check.
	var (
		rawTier      string
		spikeBalance int
	)
	err = tx.QueryRow(ctx,
		`SELECT tier, spike_balance FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&rawTier, &spikeBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	accountTier, err := tier.Parse(rawTier)
	if err != nil {
		return nil, err
	}
	limits, err := c.policy.LimitsFor(accountTier)
	if err != nil {
		return nil, err
	}

	windows := usage.NewPostgresStore(tx)
	window, err := windows.GetOrCreate(ctx, accountID, usage.WeekStart(now), usage.MonthStart(now))
	if err != nil {
		return nil, err
	}

	decision, err := Decide(accountTier, limits, window.WeeklyCount, window.MonthlyCount, spikeBalance)
	if err != nil {
		return nil, err
	}

	req := &analysis.Request{
		AccountID:      accountID,
		Kind:           kind,
		VideoURL:       payload.VideoURL,
		VideoTitle:     payload.VideoTitle,
		CustomPrompt:   payload.CustomPrompt,
		VideoTimestamp: payload.VideoTimestamp,
		CostSpikes:     decision.CostSpikes,
		AdmittedVia:    decision.Via,
	}
	if err := analysis.NewPostgresStore(tx).Create(ctx, req); err != nil {
		return nil, err
	}

	switch {
	case decision.IncrementWeekly:
		err = windows.IncrementWeekly(ctx, window.ID, now)
	case decision.IncrementMonthly:
		err = windows.IncrementMonthly(ctx, window.ID, now)
	case decision.CostSpikes > 0:
		err = c.debit(ctx, tx, accountID, spikeBalance, decision.CostSpikes, req.ID)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit admission: %w", err)
	}

	return &Admission{Request: req, Via: decision.Via, CostSpikes: decision.CostSpikes}, nil
}

// debit appends the ledger entry and refreshes the cached balance projection
// in the same transaction. The balance is never written anywhere else.
func (c *Controller) debit(ctx context.Context, tx pgx.Tx, accountID string, balance, cost int, requestID string) error {
	entry := &ledger.Entry{
		AccountID:        accountID,
		Amount:           -cost,
		BalanceAfter:     balance - cost,
		Source:           ledger.SourceAnalysisOverage,
		RelatedRequestID: &requestID,
		Description:      "Sprinthia video analysis overage",
	}
	if err := ledger.NewPostgresStore(tx).Append(ctx, entry); err != nil {
		return err
	}

	_, err := tx.Exec(ctx,
		`UPDATE accounts SET spike_balance = $1 WHERE id = $2`,
		entry.BalanceAfter, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to update spike balance: %w", err)
	}
	return nil
}

// GrantSpikes credits an account, e.g. for achievements or referrals. Same
// atomicity contract as the debit path.
func (c *Controller) GrantSpikes(ctx context.Context, accountID string, amount int, source, description string) (*ledger.Entry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	tx, err := c.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin grant: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int
	err = tx.QueryRow(ctx,
		`SELECT spike_balance FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	entry := &ledger.Entry{
		AccountID:    accountID,
		Amount:       amount,
		BalanceAfter: balance + amount,
		Source:       source,
		Description:  description,
	}
	if err := ledger.NewPostgresStore(tx).Append(ctx, entry); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET spike_balance = $1 WHERE id = $2`,
		entry.BalanceAfter, accountID,
	); err != nil {
		return nil, fmt.Errorf("failed to update spike balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit grant: %w", err)
	}
	return entry, nil
}

// Usage is the read-only side of the meter for GET /v1/usage. It never
// creates a window: an absent row reads as zero usage.
func (c *Controller) Usage(ctx context.Context, accountID string, now time.Time) (*UsageReport, error) {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin usage read: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		rawTier      string
		spikeBalance int
	)
	err = tx.QueryRow(ctx,
		`SELECT tier, spike_balance FROM accounts WHERE id = $1`,
		accountID,
	).Scan(&rawTier, &spikeBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to read account: %w", err)
	}

	accountTier, err := tier.Parse(rawTier)
	if err != nil {
		return nil, err
	}
	limits, err := c.policy.LimitsFor(accountTier)
	if err != nil {
		return nil, err
	}

	report := &UsageReport{
		Tier:              accountTier,
		SpikeBalance:      spikeBalance,
		WeeklyQuota:       limits.WeeklyQuota,
		MonthlyQuota:      limits.MonthlyQuota,
		OverageCostSpikes: limits.OverageCostSpikes,
	}

	window, err := usage.NewPostgresStore(tx).Get(ctx, accountID, usage.WeekStart(now), usage.MonthStart(now))
	if err != nil && !errors.Is(err, usage.ErrWindowNotFound) {
		return nil, err
	}
	if window != nil {
		report.WeeklyUsed = window.WeeklyCount
		report.MonthlyUsed = window.MonthlyCount
	}

	return report, tx.Commit(ctx)
}
