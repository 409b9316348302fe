package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MCPConnection is a stored descriptor for an external tool-provider process
// the agent can invoke: transport plus command/URL/env, and the subset of
// tools enabled for this account.
type MCPConnection struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	QualifiedName string          `json:"qualified_name"`
	Name          string          `json:"name"`
	Config        json.RawMessage `json:"config,omitempty"`
	EnabledTools  json.RawMessage `json:"enabled_tools,omitempty"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

type MCPStore struct {
	db *sql.DB
}

func NewMCPStore(db *sql.DB) MCPStore {
	return MCPStore{db: db}
}

func (s MCPStore) Create(ctx context.Context, conn MCPConnection) (MCPConnection, error) {
	if strings.TrimSpace(conn.QualifiedName) == "" {
		return MCPConnection{}, errors.New("qualified_name is required")
	}
	if strings.TrimSpace(conn.Name) == "" {
		conn.Name = conn.QualifiedName
	}
	if strings.TrimSpace(conn.ID) == "" {
		conn.ID = uuid.NewString()
	}

	query := `
INSERT INTO mcp_connections (id, account_id, qualified_name, name, config, enabled_tools)
VALUES (?, ?, ?, ?, ?, ?);
`
	if _, err := s.db.ExecContext(ctx, query, conn.ID, conn.AccountID, conn.QualifiedName, conn.Name, rawOrNull(conn.Config), rawOrNull(conn.EnabledTools)); err != nil {
		return MCPConnection{}, fmt.Errorf("create mcp connection: %w", err)
	}
	return s.GetForAccount(ctx, conn.AccountID, conn.ID)
}

func (s MCPStore) GetForAccount(ctx context.Context, accountID, id string) (MCPConnection, error) {
	var conn MCPConnection
	var configRaw, toolsRaw sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT id, account_id, qualified_name, name, config, enabled_tools, created_at, updated_at
FROM mcp_connections
WHERE account_id = ? AND id = ?;
`, accountID, id).Scan(&conn.ID, &conn.AccountID, &conn.QualifiedName, &conn.Name, &configRaw, &toolsRaw, &conn.CreatedAt, &conn.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return MCPConnection{}, ErrNotFound
	}
	if err != nil {
		return MCPConnection{}, fmt.Errorf("get mcp connection: %w", err)
	}
	if configRaw.Valid && configRaw.String != "" {
		conn.Config = json.RawMessage(configRaw.String)
	}
	if toolsRaw.Valid && toolsRaw.String != "" {
		conn.EnabledTools = json.RawMessage(toolsRaw.String)
	}
	return conn, nil
}

func (s MCPStore) ListForAccount(ctx context.Context, accountID string) ([]MCPConnection, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, account_id, qualified_name, name, config, enabled_tools, created_at, updated_at
FROM mcp_connections
WHERE account_id = ?
ORDER BY created_at, id;
`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list mcp connections: %w", err)
	}
	defer rows.Close()

	out := make([]MCPConnection, 0, 4)
	for rows.Next() {
		var conn MCPConnection
		var configRaw, toolsRaw sql.NullString
		if err := rows.Scan(&conn.ID, &conn.AccountID, &conn.QualifiedName, &conn.Name, &configRaw, &toolsRaw, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan mcp connection: %w", err)
		}
		if configRaw.Valid && configRaw.String != "" {
			conn.Config = json.RawMessage(configRaw.String)
		}
		if toolsRaw.Valid && toolsRaw.String != "" {
			conn.EnabledTools = json.RawMessage(toolsRaw.String)
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

func (s MCPStore) Update(ctx context.Context, accountID, id string, name string, configJSON, enabledTools json.RawMessage) (MCPConnection, error) {
	result, err := s.db.ExecContext(ctx, `
UPDATE mcp_connections
SET name = COALESCE(NULLIF(?, ''), name),
    config = COALESCE(?, config),
    enabled_tools = COALESCE(?, enabled_tools),
    updated_at = CURRENT_TIMESTAMP
WHERE account_id = ? AND id = ?;
`, strings.TrimSpace(name), rawOrNull(configJSON), rawOrNull(enabledTools), accountID, id)
	if err != nil {
		return MCPConnection{}, fmt.Errorf("update mcp connection: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return MCPConnection{}, fmt.Errorf("update mcp connection: %w", err)
	}
	if rows == 0 {
		return MCPConnection{}, ErrNotFound
	}
	return s.GetForAccount(ctx, accountID, id)
}

func (s MCPStore) Delete(ctx context.Context, accountID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM mcp_connections WHERE account_id = ? AND id = ?;`, accountID, id)
	if err != nil {
		return fmt.Errorf("delete mcp connection: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete mcp connection: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
