package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"scholar/backend/internal/config"
	"scholar/backend/internal/db"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func seedAccount(t *testing.T, database *sql.DB, id string) {
	t.Helper()
	if _, err := database.Exec(`
INSERT INTO accounts (id, google_sub, email, display_name)
VALUES (?, ?, ?, ?);
`, id, id+"-sub", id+"@example.com", "Test Account"); err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func testCatalog() config.ModelCatalog {
	return config.ModelCatalog{
		Models: []config.CatalogModel{
			{ID: "gpt", Name: "GPT", Model: "openai/gpt-4o", Provider: "OpenAI", ContextWindow: 128_000, Kind: config.ModelKindBasic},
			{ID: "claude", Name: "Claude", Model: "anthropic/claude-3.5-sonnet", Provider: "Anthropic", ContextWindow: 200_000, Kind: config.ModelKindReasoning},
		},
		DefaultModelIDs: []string{"gpt", "claude"},
	}
}

func TestSettingsGetAutoCreatesDefaults(t *testing.T) {
	database := newTestDB(t)
	seedAccount(t, database, "acct-1")
	settings := NewSettingsStore(database)
	ctx := context.Background()

	got, err := settings.Get(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if _, ok := got["flows"]; !ok {
		t.Fatalf("expected default flows key, got %v", got)
	}
	mcp, ok := got["mcp"].(map[string]any)
	if !ok {
		t.Fatalf("expected default mcp document, got %T", got["mcp"])
	}
	if _, ok := mcp["servers"]; !ok {
		t.Fatal("expected mcp.servers key in defaults")
	}

	// The auto-created row is persisted, not just returned.
	var count int
	if err := database.QueryRow(`SELECT COUNT(*) FROM account_settings WHERE account_id = 'acct-1';`).Scan(&count); err != nil {
		t.Fatalf("count settings rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 settings row, got %d", count)
	}
}

func TestSettingsUpsertAndReset(t *testing.T) {
	database := newTestDB(t)
	seedAccount(t, database, "acct-1")
	settings := NewSettingsStore(database)
	ctx := context.Background()

	updated, err := settings.Upsert(ctx, "acct-1", map[string]any{"activeFlowId": "flow-9"})
	if err != nil {
		t.Fatalf("upsert settings: %v", err)
	}
	if updated["activeFlowId"] != "flow-9" {
		t.Fatalf("unexpected upserted settings: %v", updated)
	}

	got, err := settings.Get(ctx, "acct-1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if got["activeFlowId"] != "flow-9" {
		t.Fatalf("expected persisted settings, got %v", got)
	}

	reset, err := settings.Reset(ctx, "acct-1")
	if err != nil {
		t.Fatalf("reset settings: %v", err)
	}
	if reset["activeFlowId"] != "" {
		t.Fatalf("expected defaults after reset, got %v", reset)
	}
}

func TestModelStoreEnsureDefaultsSeedsOnce(t *testing.T) {
	database := newTestDB(t)
	seedAccount(t, database, "acct-1")
	models := NewModelStore(database, testCatalog())
	ctx := context.Background()

	created, err := models.EnsureDefaults(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ensure defaults: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 seeded models, got %d", len(created))
	}

	again, err := models.EnsureDefaults(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ensure defaults again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no reseeding, got %v", again)
	}

	listed, err := models.ListForAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 models, got %d", len(listed))
	}
	if !listed[0].VerifySSL {
		t.Fatal("expected verify_ssl default true")
	}
}

func TestModelStoreResolveFallsBackToCatalogThenID(t *testing.T) {
	database := newTestDB(t)
	seedAccount(t, database, "acct-1")
	models := NewModelStore(database, testCatalog())
	ctx := context.Background()

	if got := models.Resolve(ctx, "acct-1", "gpt"); got != "openai/gpt-4o" {
		t.Fatalf("expected catalog resolution, got %q", got)
	}
	if got := models.Resolve(ctx, "acct-1", "mystery/model"); got != "mystery/model" {
		t.Fatalf("expected verbatim fallback, got %q", got)
	}
}

func TestParameterStoreUpsertFiltersUnknownKeys(t *testing.T) {
	database := newTestDB(t)
	seedAccount(t, database, "acct-1")
	params := NewParameterStore(database)
	ctx := context.Background()

	saved, err := params.Upsert(ctx, "acct-1", "gpt", map[string]any{
		"temperature": 0.2,
		"max_tokens":  float64(4096),
		"evil_key":    "ignored",
	})
	if err != nil {
		t.Fatalf("upsert params: %v", err)
	}
	if saved.Temperature != 0.2 {
		t.Fatalf("unexpected temperature: %v", saved.Temperature)
	}
	if saved.MaxTokens != 4096 {
		t.Fatalf("unexpected max tokens: %v", saved.MaxTokens)
	}
	if saved.TopP != DefaultTopP {
		t.Fatalf("expected default top_p, got %v", saved.TopP)
	}
}

func TestParameterStoreResolveDefaultsWhenAbsent(t *testing.T) {
	database := newTestDB(t)
	seedAccount(t, database, "acct-1")
	params := NewParameterStore(database)

	resolved := params.ResolveForModel(context.Background(), "acct-1", "gpt")
	if resolved.Temperature != DefaultTemperature || resolved.MaxTokens != DefaultMaxTokens {
		t.Fatalf("expected defaults, got %+v", resolved)
	}
}

func TestParameterStoreDelete(t *testing.T) {
	database := newTestDB(t)
	seedAccount(t, database, "acct-1")
	params := NewParameterStore(database)
	ctx := context.Background()

	if _, err := params.Upsert(ctx, "acct-1", "gpt", map[string]any{"top_p": 0.5}); err != nil {
		t.Fatalf("upsert params: %v", err)
	}
	if err := params.DeleteForModel(ctx, "acct-1", "gpt"); err != nil {
		t.Fatalf("delete params: %v", err)
	}
	if err := params.DeleteForModel(ctx, "acct-1", "gpt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMCPStoreCRUD(t *testing.T) {
	database := newTestDB(t)
	seedAccount(t, database, "acct-1")
	mcp := NewMCPStore(database)
	ctx := context.Background()

	created, err := mcp.Create(ctx, MCPConnection{
		AccountID:     "acct-1",
		QualifiedName: "search/everything",
		Config:        json.RawMessage(`{"transport":"stdio","command":"mcp-search"}`),
	})
	if err != nil {
		t.Fatalf("create mcp connection: %v", err)
	}
	if created.Name != "search/everything" {
		t.Fatalf("expected name fallback to qualified name, got %q", created.Name)
	}

	listed, err := mcp.ListForAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("list mcp connections: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(listed))
	}

	updated, err := mcp.Update(ctx, "acct-1", created.ID, "Everything Search", nil, json.RawMessage(`["search"]`))
	if err != nil {
		t.Fatalf("update mcp connection: %v", err)
	}
	if updated.Name != "Everything Search" {
		t.Fatalf("unexpected updated name: %q", updated.Name)
	}
	if string(updated.Config) != `{"transport":"stdio","command":"mcp-search"}` {
		t.Fatalf("expected config preserved, got %s", updated.Config)
	}

	if err := mcp.Delete(ctx, "acct-1", created.ID); err != nil {
		t.Fatalf("delete mcp connection: %v", err)
	}
	if _, err := mcp.GetForAccount(ctx, "acct-1", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMCPStoreScopesByAccount(t *testing.T) {
	database := newTestDB(t)
	seedAccount(t, database, "acct-1")
	seedAccount(t, database, "acct-2")
	mcp := NewMCPStore(database)
	ctx := context.Background()

	created, err := mcp.Create(ctx, MCPConnection{AccountID: "acct-1", QualifiedName: "tools/a"})
	if err != nil {
		t.Fatalf("create mcp connection: %v", err)
	}
	if _, err := mcp.GetForAccount(ctx, "acct-2", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cross-account get to miss, got %v", err)
	}
}

func TestExecutionLifecycleAndMonthlyCount(t *testing.T) {
	database := newTestDB(t)
	seedAccount(t, database, "acct-1")
	executions := NewExecutionStore(database)
	ctx := context.Background()

	id, err := executions.Create(ctx, "acct-1", "thread-1", "")
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}

	got, err := executions.Get(ctx, id)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got.Status != ExecutionRunning || got.Kind != "research" {
		t.Fatalf("unexpected new execution: %+v", got)
	}

	if err := executions.Finish(ctx, id, ExecutionCompleted, "", 1500*time.Millisecond, 420); err != nil {
		t.Fatalf("finish execution: %v", err)
	}
	got, err = executions.Get(ctx, id)
	if err != nil {
		t.Fatalf("get finished execution: %v", err)
	}
	if got.Status != ExecutionCompleted || got.DurationMS != 1500 || got.TotalTokens != 420 {
		t.Fatalf("unexpected finished execution: %+v", got)
	}
	if got.FinishedAt == "" {
		t.Fatal("expected finished_at to be set")
	}

	count, err := executions.CountSince(ctx, "acct-1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("count executions: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 execution this window, got %d", count)
	}

	count, err = executions.CountSince(ctx, "acct-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("count executions: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 executions in future window, got %d", count)
	}
}

func TestExecutionFinishRejectsNonTerminalStatus(t *testing.T) {
	database := newTestDB(t)
	seedAccount(t, database, "acct-1")
	executions := NewExecutionStore(database)

	if err := executions.Finish(context.Background(), "missing", ExecutionRunning, "", 0, 0); err == nil {
		t.Fatal("expected error for non-terminal status")
	}
}

func TestBillingMirrorLifecycle(t *testing.T) {
	database := newTestDB(t)
	seedAccount(t, database, "acct-1")
	billing := NewBillingStore(database)
	ctx := context.Background()

	if err := billing.UpsertCustomer(ctx, BillingCustomer{ID: "cus_1", AccountID: "acct-1", Email: "acct-1@example.com"}); err != nil {
		t.Fatalf("upsert customer: %v", err)
	}
	if err := billing.UpsertSubscription(ctx, BillingSubscription{
		ID:                "sub_1",
		BillingCustomerID: "cus_1",
		Status:            "active",
		PriceID:           "price_pro",
	}); err != nil {
		t.Fatalf("upsert subscription: %v", err)
	}

	active, err := billing.ActiveSubscription(ctx, "acct-1")
	if err != nil {
		t.Fatalf("active subscription: %v", err)
	}
	if active.PriceID != "price_pro" {
		t.Fatalf("unexpected active price: %q", active.PriceID)
	}

	if err := billing.UpdateSubscriptionStatus(ctx, "sub_1", "past_due", "", 0, true, "", ""); err != nil {
		t.Fatalf("update subscription: %v", err)
	}
	if _, err := billing.ActiveSubscription(ctx, "acct-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no active subscription after past_due, got %v", err)
	}

	if err := billing.UpdateSubscriptionStatus(ctx, "sub_1", "active", "price_ultra", 2, false, "", ""); err != nil {
		t.Fatalf("reactivate subscription: %v", err)
	}
	active, err = billing.ActiveSubscription(ctx, "acct-1")
	if err != nil {
		t.Fatalf("active subscription: %v", err)
	}
	if active.PriceID != "price_ultra" || active.Quantity != 2 {
		t.Fatalf("unexpected subscription after update: %+v", active)
	}

	if err := billing.MarkSubscriptionCanceled(ctx, "sub_1", time.Now()); err != nil {
		t.Fatalf("cancel subscription: %v", err)
	}
	if _, err := billing.ActiveSubscription(ctx, "acct-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no active subscription after cancel, got %v", err)
	}
}

func TestBillingUpdateUnknownSubscription(t *testing.T) {
	database := newTestDB(t)
	billing := NewBillingStore(database)

	if err := billing.UpdateSubscriptionStatus(context.Background(), "sub_missing", "active", "", 0, false, "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
