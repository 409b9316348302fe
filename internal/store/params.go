package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	DefaultTemperature      = 0.7
	DefaultMaxTokens        = 2048
	DefaultTopP             = 0.9
	DefaultFrequencyPenalty = 0.0
)

type ModelParameters struct {
	AccountID        string  `json:"account_id"`
	ModelID          string  `json:"model_id"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	TopP             float64 `json:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	CreatedAt        string  `json:"created_at,omitempty"`
	UpdatedAt        string  `json:"updated_at,omitempty"`
}

// DefaultParameters returns the values used when an account has no override
// row for a model.
func DefaultParameters(accountID, modelID string) ModelParameters {
	return ModelParameters{
		AccountID:        accountID,
		ModelID:          modelID,
		Temperature:      DefaultTemperature,
		MaxTokens:        DefaultMaxTokens,
		TopP:             DefaultTopP,
		FrequencyPenalty: DefaultFrequencyPenalty,
	}
}

type ParameterStore struct {
	db *sql.DB
}

func NewParameterStore(db *sql.DB) ParameterStore {
	return ParameterStore{db: db}
}

func (s ParameterStore) ListForAccount(ctx context.Context, accountID string) ([]ModelParameters, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT account_id, model_id, temperature, max_tokens, top_p, frequency_penalty, created_at, updated_at
FROM llm_model_parameters
WHERE account_id = ?
ORDER BY model_id;
`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list model parameters: %w", err)
	}
	defer rows.Close()

	out := make([]ModelParameters, 0, 4)
	for rows.Next() {
		var p ModelParameters
		if err := rows.Scan(&p.AccountID, &p.ModelID, &p.Temperature, &p.MaxTokens, &p.TopP, &p.FrequencyPenalty, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan model parameters: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s ParameterStore) GetForModel(ctx context.Context, accountID, modelID string) (ModelParameters, error) {
	var p ModelParameters
	err := s.db.QueryRowContext(ctx, `
SELECT account_id, model_id, temperature, max_tokens, top_p, frequency_penalty, created_at, updated_at
FROM llm_model_parameters
WHERE account_id = ? AND model_id = ?;
`, accountID, modelID).Scan(&p.AccountID, &p.ModelID, &p.Temperature, &p.MaxTokens, &p.TopP, &p.FrequencyPenalty, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelParameters{}, ErrNotFound
	}
	if err != nil {
		return ModelParameters{}, fmt.Errorf("get model parameters: %w", err)
	}
	return p, nil
}

// Upsert merges the given overrides over the row (or defaults when no row
// exists). Only temperature, max_tokens, top_p and frequency_penalty are
// recognized; any other key is ignored.
func (s ParameterStore) Upsert(ctx context.Context, accountID, modelID string, overrides map[string]any) (ModelParameters, error) {
	current, err := s.GetForModel(ctx, accountID, modelID)
	if errors.Is(err, ErrNotFound) {
		current = DefaultParameters(accountID, modelID)
	} else if err != nil {
		return ModelParameters{}, err
	}

	current.Apply(overrides)

	query := `
INSERT INTO llm_model_parameters (account_id, model_id, temperature, max_tokens, top_p, frequency_penalty)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(account_id, model_id) DO UPDATE SET
  temperature = excluded.temperature,
  max_tokens = excluded.max_tokens,
  top_p = excluded.top_p,
  frequency_penalty = excluded.frequency_penalty,
  updated_at = CURRENT_TIMESTAMP;
`
	if _, err := s.db.ExecContext(ctx, query, accountID, modelID, current.Temperature, current.MaxTokens, current.TopP, current.FrequencyPenalty); err != nil {
		return ModelParameters{}, fmt.Errorf("upsert model parameters: %w", err)
	}
	return s.GetForModel(ctx, accountID, modelID)
}

func (s ParameterStore) DeleteForModel(ctx context.Context, accountID, modelID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM llm_model_parameters WHERE account_id = ? AND model_id = ?;`, accountID, modelID)
	if err != nil {
		return fmt.Errorf("delete model parameters: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete model parameters: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveForModel returns the effective parameters for a model: the stored
// override when present, the defaults otherwise.
func (s ParameterStore) ResolveForModel(ctx context.Context, accountID, modelID string) ModelParameters {
	params, err := s.GetForModel(ctx, accountID, modelID)
	if err != nil {
		return DefaultParameters(accountID, modelID)
	}
	return params
}

// Apply merges recognized override keys over p. Only temperature,
// max_tokens, top_p and frequency_penalty are recognized; any other key is
// ignored.
func (p *ModelParameters) Apply(overrides map[string]any) {
	for key, value := range overrides {
		switch key {
		case "temperature":
			if v, ok := asFloat(value); ok {
				p.Temperature = v
			}
		case "max_tokens":
			if v, ok := asFloat(value); ok && v > 0 {
				p.MaxTokens = int(v)
			}
		case "top_p":
			if v, ok := asFloat(value); ok {
				p.TopP = v
			}
		case "frequency_penalty":
			if v, ok := asFloat(value); ok {
				p.FrequencyPenalty = v
			}
		}
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
