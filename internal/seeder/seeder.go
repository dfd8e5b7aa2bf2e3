package seeder

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sprintiq/sprinthia-gate/internal/auth"
	"github.com/sprintiq/sprinthia-gate/internal/metering"
)

const (
	TestToken     = "test-account-token-12345"
	TestAccountID = "00000000-0000-0000-0000-000000000001"
)

// SeedTestAccount creates a free-tier dev account with a known token and a
// starter spike grant so the overage path can be exercised locally.
func SeedTestAccount(ctx context.Context, pool *pgxpool.Pool, tokens auth.Store, meter *metering.Controller) {
	_, err := pool.Exec(ctx, `
		INSERT INTO accounts (id, tier, spike_balance)
		VALUES ($1, 'free', 0)
		ON CONFLICT (id) DO NOTHING
	`, TestAccountID)
	if err != nil {
		log.Printf("[Seeder] failed to create test account: %v", err)
		return
	}

	token := &auth.Token{
		AccountID: TestAccountID,
		TokenHash: auth.HashToken(TestToken),
		Active:    true,
	}
	if err := tokens.Create(ctx, token); err != nil {
		log.Printf("[Seeder] token may already exist, skipping: %v", err)
		return
	}

	if _, err := meter.GrantSpikes(ctx, TestAccountID, 50, "seed", "dev starter spikes"); err != nil {
		log.Printf("[Seeder] failed to grant starter spikes: %v", err)
	}

	log.Printf("[Seeder] Test account created successfully")
	log.Printf("[Seeder] Token: %s", TestToken)
	log.Printf("[Seeder] AccountID: %s", TestAccountID)
}
