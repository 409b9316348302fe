// Package billing maps subscriptions onto run allowances.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scholar/backend/internal/config"
	"scholar/backend/internal/store"
)

// ErrRunLimitExceeded signals the account used up its monthly run quota.
var ErrRunLimitExceeded = errors.New("monthly run limit exceeded")

// Tier names a subscription level.
type Tier string

const (
	TierFree  Tier = "free"
	TierPlus  Tier = "plus"
	TierPro   Tier = "pro"
	TierUltra Tier = "ultra"
)

// Quota gates workflow runs by the account's subscription tier.
type Quota struct {
	cfg        config.Config
	executions store.ExecutionStore
	billing    store.BillingStore
}

func NewQuota(cfg config.Config, executions store.ExecutionStore, billingStore store.BillingStore) Quota {
	return Quota{cfg: cfg, executions: executions, billing: billingStore}
}

// TierForAccount resolves the account's tier from its active subscription.
// Accounts without one are on the free tier.
func (q Quota) TierForAccount(ctx context.Context, accountID string) (Tier, error) {
	sub, err := q.billing.ActiveSubscription(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return TierFree, nil
	}
	if err != nil {
		return TierFree, err
	}
	switch sub.PriceID {
	case q.cfg.StripePriceUltra:
		return TierUltra, nil
	case q.cfg.StripePricePro:
		return TierPro, nil
	case q.cfg.StripePricePlus:
		return TierPlus, nil
	default:
		return TierFree, nil
	}
}

// MonthlyLimit returns the run allowance for a tier.
func (q Quota) MonthlyLimit(tier Tier) int {
	switch tier {
	case TierUltra:
		return q.cfg.UltraTierMonthlyRuns
	case TierPro:
		return q.cfg.ProTierMonthlyRuns
	case TierPlus:
		return q.cfg.PlusTierMonthlyRuns
	default:
		return q.cfg.FreeTierMonthlyRuns
	}
}

// Usage reports runs used and allowed in the current calendar month.
func (q Quota) Usage(ctx context.Context, accountID string) (used, limit int, tier Tier, err error) {
	tier, err = q.TierForAccount(ctx, accountID)
	if err != nil {
		return 0, 0, tier, err
	}
	limit = q.MonthlyLimit(tier)
	used, err = q.executions.CountSince(ctx, accountID, monthStart(time.Now().UTC()))
	if err != nil {
		return 0, limit, tier, fmt.Errorf("count runs: %w", err)
	}
	return used, limit, tier, nil
}

// Allow returns ErrRunLimitExceeded when the account is out of runs.
func (q Quota) Allow(ctx context.Context, accountID string) error {
	used, limit, _, err := q.Usage(ctx, accountID)
	if err != nil {
		return err
	}
	if limit > 0 && used >= limit {
		return ErrRunLimitExceeded
	}
	return nil
}

func monthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
