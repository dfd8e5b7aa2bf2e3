package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

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

func HashToken(token string) string {
	h := sha256.New()
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *PostgresStore) GetByToken(ctx context.Context, token string) (*Token, error) {
	tokenHash := HashToken(token)
	query := `
		SELECT id, account_id, token_hash, active, created_at
		FROM account_tokens
		WHERE token_hash = $1 AND active = true
	`

	var t Token
	err := s.db.QueryRow(ctx, query, tokenHash).Scan(
		&t.ID, &t.AccountID, &t.TokenHash, &t.Active, &t.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get account token: %w", err)
	}

	return &t, nil
}

func (s *PostgresStore) Create(ctx context.Context, token *Token) error {
	if token.TokenHash == "" {
		return fmt.Errorf("token_hash is required")
	}

	query := `
		INSERT INTO account_tokens (account_id, token_hash, active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := s.db.QueryRow(ctx, query,
		token.AccountID, token.TokenHash, token.Active,
	).Scan(&token.ID, &token.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create account token: %w", err)
	}

	return nil
}

func (s *PostgresStore) Revoke(ctx context.Context, tokenID string) error {
	query := `UPDATE account_tokens SET active = false WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, tokenID)
	if err != nil {
		return fmt.Errorf("failed to revoke account token: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}

	return nil
}
