package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is satisfied by both *pgxpool.Pool and pgx.Tx, so the store can run
// standalone or inside an admission transaction.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

const selectWindow = `
	SELECT id, account_id, week_start, month_start, weekly_count, monthly_count, last_used_at, created_at
	FROM usage_windows
	WHERE account_id = $1 AND week_start = $2 AND month_start = $3
`

func (s *PostgresStore) GetOrCreate(ctx context.Context, accountID string, weekStart, monthStart time.Time) (*Window, error) {
	// The unique constraint on (account_id, week_start, month_start) makes
	// this race-free: a concurrent first request loses the insert and reads
	// the winner's row.
	insert := `
		INSERT INTO usage_windows (account_id, week_start, month_start)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, week_start, month_start) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, insert, accountID, weekStart, monthStart); err != nil {
		return nil, fmt.Errorf("failed to create usage window: %w", err)
	}

	w, err := s.Get(ctx, accountID, weekStart, monthStart)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage window after insert: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) Get(ctx context.Context, accountID string, weekStart, monthStart time.Time) (*Window, error) {
	var w Window
	err := s.db.QueryRow(ctx, selectWindow, accountID, weekStart, monthStart).Scan(
		&w.ID, &w.AccountID, &w.WeekStart, &w.MonthStart,
		&w.WeeklyCount, &w.MonthlyCount, &w.LastUsedAt, &w.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, fmt.Errorf("failed to get usage window: %w", err)
	}
	return &w, nil
}

func (s *PostgresStore) IncrementWeekly(ctx context.Context, windowID string, now time.Time) error {
	return s.increment(ctx, "weekly_count", windowID, now)
}

func (s *PostgresStore) IncrementMonthly(ctx context.Context, windowID string, now time.Time) error {
	return s.increment(ctx, "monthly_count", windowID, now)
}

func (s *PostgresStore) increment(ctx context.Context, column, windowID string, now time.Time) error {
	query := fmt.Sprintf(`UPDATE usage_windows SET %s = %s + 1, last_used_at = $1 WHERE id = $2`, column, column)
	tag, err := s.db.Exec(ctx, query, now.UTC(), windowID)
	if err != nil {
		return fmt.Errorf("failed to increment usage window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWindowNotFound
	}
	return nil
}
