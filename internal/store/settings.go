package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("store: not found")

// SettingsStore keeps one JSON settings document per account.
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) SettingsStore {
	return SettingsStore{db: db}
}

// DefaultSettings is the document auto-created for accounts that have never
// saved settings.
func DefaultSettings() map[string]any {
	return map[string]any{
		"flows":           []any{},
		"activeFlowId":    "",
		"modelParameters": map[string]any{},
		"mcp": map[string]any{
			"servers":       []any{},
			"preRegistered": []any{},
		},
	}
}

// Get returns the account's settings, creating the default document on
// first access.
func (s SettingsStore) Get(ctx context.Context, accountID string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT settings FROM account_settings WHERE account_id = ?;`, accountID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return s.Upsert(ctx, accountID, DefaultSettings())
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}

	var settings map[string]any
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

func (s SettingsStore) Upsert(ctx context.Context, accountID string, settings map[string]any) (map[string]any, error) {
	if settings == nil {
		settings = DefaultSettings()
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}

	query := `
INSERT INTO account_settings (account_id, settings)
VALUES (?, ?)
ON CONFLICT(account_id) DO UPDATE SET
  settings = excluded.settings,
  updated_at = CURRENT_TIMESTAMP;
`
	if _, err := s.db.ExecContext(ctx, query, accountID, string(raw)); err != nil {
		return nil, fmt.Errorf("upsert settings: %w", err)
	}
	return settings, nil
}

// Reset replaces the account's settings with the default document.
func (s SettingsStore) Reset(ctx context.Context, accountID string) (map[string]any, error) {
	return s.Upsert(ctx, accountID, DefaultSettings())
}
