package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"scholar/backend/internal/db"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) (Store, *sql.DB) {
	t.Helper()

	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(database, 16), database
}

func TestUpsertAccountIsIdempotentPerGoogleSub(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertAccount(ctx, "sub-1", "User@Example.com", "User", "")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.Email != "user@example.com" {
		t.Fatalf("expected lowercased email, got %q", first.Email)
	}

	second, err := store.UpsertAccount(ctx, "sub-1", "user@example.com", "Renamed", "https://avatar")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected stable account id, got %q then %q", first.ID, second.ID)
	}
	if second.Name != "Renamed" {
		t.Fatalf("expected updated display name, got %q", second.Name)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	account, err := store.UpsertAccount(ctx, "sub-1", "user@example.com", "User", "")
	if err != nil {
		t.Fatalf("upsert account: %v", err)
	}

	token, expiresAt, err := store.CreateSession(ctx, account.ID, time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if token == "" || !expiresAt.After(time.Now()) {
		t.Fatalf("unexpected session token/expiry: %q %v", token, expiresAt)
	}

	resolved, err := store.ResolveSession(ctx, token)
	if err != nil {
		t.Fatalf("resolve session: %v", err)
	}
	if resolved.ID != account.ID {
		t.Fatalf("resolved wrong account: %q", resolved.ID)
	}

	// Second resolution is served from the LRU.
	cached, err := store.ResolveSession(ctx, token)
	if err != nil {
		t.Fatalf("resolve cached session: %v", err)
	}
	if cached.ID != account.ID {
		t.Fatalf("cached resolution returned wrong account: %q", cached.ID)
	}

	if err := store.DeleteSession(ctx, token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := store.ResolveSession(ctx, token); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestResolveSessionRejectsExpiredToken(t *testing.T) {
	store, database := newTestStore(t)
	ctx := context.Background()

	account, err := store.UpsertAccount(ctx, "sub-1", "user@example.com", "User", "")
	if err != nil {
		t.Fatalf("upsert account: %v", err)
	}
	token, _, err := store.CreateSession(ctx, account.ID, time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if _, err := database.Exec(`UPDATE sessions SET expires_at = '2000-01-01T00:00:00Z';`); err != nil {
		t.Fatalf("expire session: %v", err)
	}
	// Bypass the cache: a fresh store shares the database but not the LRU.
	fresh := NewStore(database, 16)
	if _, err := fresh.ResolveSession(ctx, token); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}
}

func TestResolveSessionRejectsSameDayExpiry(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	account, err := store.UpsertAccount(ctx, "sub-1", "user@example.com", "User", "")
	if err != nil {
		t.Fatalf("upsert account: %v", err)
	}
	// A token that lapsed minutes ago must not resolve; expiry is compared
	// at second precision, not day precision.
	token, _, err := store.CreateSession(ctx, account.ID, -time.Minute)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := store.ResolveSession(ctx, token); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for lapsed session, got %v", err)
	}
}
