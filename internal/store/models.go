package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"scholar/backend/internal/config"
)

type Model struct {
	ID            string `json:"id"`
	AccountID     string `json:"account_id"`
	Name          string `json:"name"`
	Model         string `json:"model"`
	Provider      string `json:"provider"`
	ContextWindow int    `json:"context_window"`
	BaseURL       string `json:"base_url,omitempty"`
	VerifySSL     bool   `json:"verify_ssl"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// ModelStore persists per-account model rows seeded from the catalog.
type ModelStore struct {
	db      *sql.DB
	catalog config.ModelCatalog
}

func NewModelStore(db *sql.DB, catalog config.ModelCatalog) ModelStore {
	return ModelStore{db: db, catalog: catalog}
}

// EnsureDefaults seeds the catalog's default models for an account. Existing
// rows are left untouched. Returns the ids that were created.
func (s ModelStore) EnsureDefaults(ctx context.Context, accountID string) ([]string, error) {
	created := make([]string, 0, len(s.catalog.DefaultModelIDs))
	for _, modelID := range s.catalog.DefaultModelIDs {
		entry, ok := s.catalog.ByID(modelID)
		if !ok {
			continue
		}
		verifySSL := 1
		if entry.VerifySSL != nil && !*entry.VerifySSL {
			verifySSL = 0
		}
		result, err := s.db.ExecContext(ctx, `
INSERT INTO llm_models (id, account_id, name, model, provider, context_window, base_url, verify_ssl)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(account_id, id) DO NOTHING;
`, entry.ID, accountID, entry.Name, entry.Model, entry.Provider, entry.ContextWindow, entry.BaseURL, verifySSL)
		if err != nil {
			return nil, fmt.Errorf("seed default model %s: %w", entry.ID, err)
		}
		if rows, err := result.RowsAffected(); err == nil && rows > 0 {
			created = append(created, entry.ID)
		}
	}
	return created, nil
}

func (s ModelStore) ListForAccount(ctx context.Context, accountID string) ([]Model, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, account_id, name, model, COALESCE(provider, ''), context_window, COALESCE(base_url, ''), verify_ssl, created_at, updated_at
FROM llm_models
WHERE account_id = ?
ORDER BY created_at, id;
`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	models := make([]Model, 0, 8)
	for rows.Next() {
		var m Model
		var verifySSL int
		if err := rows.Scan(&m.ID, &m.AccountID, &m.Name, &m.Model, &m.Provider, &m.ContextWindow, &m.BaseURL, &verifySSL, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		m.VerifySSL = verifySSL != 0
		models = append(models, m)
	}
	return models, rows.Err()
}

func (s ModelStore) GetForAccount(ctx context.Context, accountID, modelID string) (Model, error) {
	var m Model
	var verifySSL int
	err := s.db.QueryRowContext(ctx, `
SELECT id, account_id, name, model, COALESCE(provider, ''), context_window, COALESCE(base_url, ''), verify_ssl, created_at, updated_at
FROM llm_models
WHERE account_id = ? AND id = ?;
`, accountID, modelID).Scan(&m.ID, &m.AccountID, &m.Name, &m.Model, &m.Provider, &m.ContextWindow, &m.BaseURL, &verifySSL, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Model{}, ErrNotFound
	}
	if err != nil {
		return Model{}, fmt.Errorf("get model: %w", err)
	}
	m.VerifySSL = verifySSL != 0
	return m, nil
}

// Resolve maps a model id to its API model string for an account, falling
// back to the catalog and finally to the id itself so unknown ids still
// reach the provider verbatim.
func (s ModelStore) Resolve(ctx context.Context, accountID, modelID string) string {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return ""
	}
	if m, err := s.GetForAccount(ctx, accountID, modelID); err == nil && strings.TrimSpace(m.Model) != "" {
		return m.Model
	}
	if entry, ok := s.catalog.ByID(modelID); ok && strings.TrimSpace(entry.Model) != "" {
		return entry.Model
	}
	return modelID
}

func (s ModelStore) Catalog() config.ModelCatalog {
	return s.catalog
}
