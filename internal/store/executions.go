package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is one logged run of the agent pipeline, tracked for billing.
type Execution struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	ThreadID    string          `json:"thread_id"`
	Kind        string          `json:"kind"`
	Status      ExecutionStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	StartedAt   string          `json:"started_at"`
	FinishedAt  string          `json:"finished_at,omitempty"`
	DurationMS  int64           `json:"duration_ms"`
	TotalTokens int             `json:"total_tokens"`
}

type ExecutionStore struct {
	db *sql.DB
}

func NewExecutionStore(db *sql.DB) ExecutionStore {
	return ExecutionStore{db: db}
}

func (s ExecutionStore) Create(ctx context.Context, accountID, threadID, kind string) (string, error) {
	id := uuid.NewString()
	if strings.TrimSpace(kind) == "" {
		kind = "research"
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO workflow_executions (id, account_id, thread_id, kind, status)
VALUES (?, ?, ?, ?, 'running');
`, id, accountID, threadID, kind); err != nil {
		return "", fmt.Errorf("create workflow execution: %w", err)
	}
	return id, nil
}

// Finish finalizes an execution record. It is safe to call with either
// terminal status; duration and token totals are recorded as-is.
func (s ExecutionStore) Finish(ctx context.Context, id string, status ExecutionStatus, errMessage string, duration time.Duration, totalTokens int) error {
	if status != ExecutionCompleted && status != ExecutionFailed {
		return fmt.Errorf("finish workflow execution: status %q is not terminal", status)
	}
	result, err := s.db.ExecContext(ctx, `
UPDATE workflow_executions
SET status = ?, error = NULLIF(?, ''), finished_at = CURRENT_TIMESTAMP, duration_ms = ?, total_tokens = ?
WHERE id = ?;
`, string(status), strings.TrimSpace(errMessage), duration.Milliseconds(), totalTokens, id)
	if err != nil {
		return fmt.Errorf("finish workflow execution: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish workflow execution: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s ExecutionStore) Get(ctx context.Context, id string) (Execution, error) {
	var e Execution
	var errMsg, finishedAt sql.NullString
	var durationMS sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT id, account_id, thread_id, kind, status, error, started_at, finished_at, duration_ms, total_tokens
FROM workflow_executions
WHERE id = ?;
`, id).Scan(&e.ID, &e.AccountID, &e.ThreadID, &e.Kind, &e.Status, &errMsg, &e.StartedAt, &finishedAt, &durationMS, &e.TotalTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return Execution{}, ErrNotFound
	}
	if err != nil {
		return Execution{}, fmt.Errorf("get workflow execution: %w", err)
	}
	e.Error = errMsg.String
	e.FinishedAt = finishedAt.String
	e.DurationMS = durationMS.Int64
	return e, nil
}

// CountSince counts an account's executions started at or after the cutoff.
// Used by the billing gate on monthly windows.
func (s ExecutionStore) CountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM workflow_executions
WHERE account_id = ? AND started_at >= ?;
`, accountID, since.UTC().Format("2006-01-02 15:04:05")).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count workflow executions: %w", err)
	}
	return count, nil
}
