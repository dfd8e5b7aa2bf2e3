package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is satisfied by both *pgxpool.Pool and pgx.Tx, so the pending row can be
// created inside the admission transaction.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

const requestColumns = `id, account_id, kind, video_url, video_title, custom_prompt, video_timestamp,
	status, cost_spikes, admitted_via, result_text, created_at`

func (s *PostgresStore) Create(ctx context.Context, req *Request) error {
	query := `
		INSERT INTO analysis_requests (account_id, kind, video_url, video_title, custom_prompt, video_timestamp, status, cost_spikes, admitted_via)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		req.AccountID, req.Kind, req.VideoURL, req.VideoTitle,
		req.CustomPrompt, req.VideoTimestamp, StatusPending, req.CostSpikes, req.AdmittedVia,
	).Scan(&req.ID, &req.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create analysis request: %w", err)
	}

	req.Status = StatusPending
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM analysis_requests WHERE id = $1`, requestColumns)

	var r Request
	err := s.db.QueryRow(ctx, query, id).Scan(
		&r.ID, &r.AccountID, &r.Kind, &r.VideoURL, &r.VideoTitle,
		&r.CustomPrompt, &r.VideoTimestamp, &r.Status, &r.CostSpikes,
		&r.AdmittedVia, &r.ResultText, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get analysis request: %w", err)
	}

	return &r, nil
}

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*Request, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM analysis_requests
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, requestColumns)

	rows, err := s.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis requests: %w", err)
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		var r Request
		err := rows.Scan(
			&r.ID, &r.AccountID, &r.Kind, &r.VideoURL, &r.VideoTitle,
			&r.CustomPrompt, &r.VideoTimestamp, &r.Status, &r.CostSpikes,
			&r.AdmittedVia, &r.ResultText, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis request: %w", err)
		}
		requests = append(requests, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analysis requests: %w", err)
	}

	return requests, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id, resultText string) (bool, error) {
	return s.finish(ctx, id, StatusCompleted, resultText)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, failureNote string) (bool, error) {
	return s.finish(ctx, id, StatusFailed, failureNote)
}

// The status guard makes the terminal transition exactly-once: a second call
// matches zero rows and reports false.
func (s *PostgresStore) finish(ctx context.Context, id string, status Status, text string) (bool, error) {
	query := `
		UPDATE analysis_requests
		SET status = $1, result_text = $2
		WHERE id = $3 AND status = $4
	`
	tag, err := s.db.Exec(ctx, query, status, text, id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to finish analysis request: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
