package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type BillingCustomer struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Email     string `json:"email,omitempty"`
	Provider  string `json:"provider"`
}

type BillingSubscription struct {
	ID                 string `json:"id"`
	BillingCustomerID  string `json:"billing_customer_id"`
	Status             string `json:"status"`
	PriceID            string `json:"price_id,omitempty"`
	Quantity           int    `json:"quantity"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart string `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   string `json:"current_period_end,omitempty"`
	EndedAt            string `json:"ended_at,omitempty"`
	Created            string `json:"created,omitempty"`
	Metadata           string `json:"metadata,omitempty"`
}

// BillingStore mirrors remote billing state into local tables so tier
// lookups never call the billing provider on the request path.
type BillingStore struct {
	db *sql.DB
}

func NewBillingStore(db *sql.DB) BillingStore {
	return BillingStore{db: db}
}

func (s BillingStore) UpsertCustomer(ctx context.Context, customer BillingCustomer) error {
	if customer.Provider == "" {
		customer.Provider = "stripe"
	}
	query := `
INSERT INTO billing_customers (id, account_id, email, provider)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  account_id = excluded.account_id,
  email = excluded.email;
`
	if _, err := s.db.ExecContext(ctx, query, customer.ID, customer.AccountID, customer.Email, customer.Provider); err != nil {
		return fmt.Errorf("upsert billing customer: %w", err)
	}
	return nil
}

func (s BillingStore) UpsertSubscription(ctx context.Context, sub BillingSubscription) error {
	if sub.Quantity < 1 {
		sub.Quantity = 1
	}
	query := `
INSERT INTO billing_subscriptions (id, billing_customer_id, status, price_id, quantity, cancel_at_period_end, current_period_start, current_period_end, created, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  price_id = excluded.price_id,
  quantity = excluded.quantity,
  cancel_at_period_end = excluded.cancel_at_period_end,
  current_period_start = excluded.current_period_start,
  current_period_end = excluded.current_period_end,
  metadata = excluded.metadata,
  updated_at = CURRENT_TIMESTAMP;
`
	cancelFlag := 0
	if sub.CancelAtPeriodEnd {
		cancelFlag = 1
	}
	if _, err := s.db.ExecContext(ctx, query, sub.ID, sub.BillingCustomerID, sub.Status, sub.PriceID, sub.Quantity, cancelFlag, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.Created, sub.Metadata); err != nil {
		return fmt.Errorf("upsert billing subscription: %w", err)
	}
	return nil
}

// UpdateSubscriptionStatus patches the status fields of a mirrored
// subscription without touching rows we have never seen.
func (s BillingStore) UpdateSubscriptionStatus(ctx context.Context, id, status, priceID string, quantity int, cancelAtPeriodEnd bool, periodStart, periodEnd string) error {
	cancelFlag := 0
	if cancelAtPeriodEnd {
		cancelFlag = 1
	}
	result, err := s.db.ExecContext(ctx, `
UPDATE billing_subscriptions
SET status = ?,
    price_id = COALESCE(NULLIF(?, ''), price_id),
    quantity = CASE WHEN ? > 0 THEN ? ELSE quantity END,
    cancel_at_period_end = ?,
    current_period_start = COALESCE(NULLIF(?, ''), current_period_start),
    current_period_end = COALESCE(NULLIF(?, ''), current_period_end),
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?;
`, status, priceID, quantity, quantity, cancelFlag, periodStart, periodEnd, id)
	if err != nil {
		return fmt.Errorf("update billing subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update billing subscription: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s BillingStore) MarkSubscriptionCanceled(ctx context.Context, id string, endedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
UPDATE billing_subscriptions
SET status = 'canceled', ended_at = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?;
`, endedAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("cancel billing subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel billing subscription: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveSubscription returns the account's most recent active or trialing
// subscription, if any.
func (s BillingStore) ActiveSubscription(ctx context.Context, accountID string) (BillingSubscription, error) {
	var sub BillingSubscription
	var priceID, periodStart, periodEnd, endedAt, created, metadata sql.NullString
	var cancelFlag int
	err := s.db.QueryRowContext(ctx, `
SELECT s.id, s.billing_customer_id, s.status, s.price_id, s.quantity, s.cancel_at_period_end,
       s.current_period_start, s.current_period_end, s.ended_at, s.created, s.metadata
FROM billing_subscriptions s
JOIN billing_customers c ON c.id = s.billing_customer_id
WHERE c.account_id = ? AND s.status IN ('active', 'trialing')
ORDER BY s.updated_at DESC
LIMIT 1;
`, accountID).Scan(&sub.ID, &sub.BillingCustomerID, &sub.Status, &priceID, &sub.Quantity, &cancelFlag,
		&periodStart, &periodEnd, &endedAt, &created, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return BillingSubscription{}, ErrNotFound
	}
	if err != nil {
		return BillingSubscription{}, fmt.Errorf("active subscription: %w", err)
	}
	sub.PriceID = priceID.String
	sub.CancelAtPeriodEnd = cancelFlag != 0
	sub.CurrentPeriodStart = periodStart.String
	sub.CurrentPeriodEnd = periodEnd.String
	sub.EndedAt = endedAt.String
	sub.Created = created.String
	sub.Metadata = metadata.String
	return sub, nil
}

// CustomerForAccount returns the stripe customer mirrored for an account.
func (s BillingStore) CustomerForAccount(ctx context.Context, accountID string) (BillingCustomer, error) {
	var customer BillingCustomer
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT id, account_id, email, provider
FROM billing_customers
WHERE account_id = ?
ORDER BY created_at DESC
LIMIT 1;
`, accountID).Scan(&customer.ID, &customer.AccountID, &email, &customer.Provider)
	if errors.Is(err, sql.ErrNoRows) {
		return BillingCustomer{}, ErrNotFound
	}
	if err != nil {
		return BillingCustomer{}, fmt.Errorf("customer for account: %w", err)
	}
	customer.Email = email.String
	return customer, nil
}
