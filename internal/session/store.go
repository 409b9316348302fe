package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrNotFound = errors.New("session not found")

const defaultCacheSize = 1024

type Account struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	GoogleSub string `json:"googleSub"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type cachedSession struct {
	account   Account
	expiresAt time.Time
}

// Store persists accounts and opaque session tokens. Resolved sessions are
// kept in a small LRU keyed by token hash so the auth middleware stays off
// the database on hot paths; entries carry the session expiry and are
// dropped once stale.
type Store struct {
	db    *sql.DB
	cache *lru.Cache[string, cachedSession]
}

func NewStore(db *sql.DB, cacheSize int) Store {
	if cacheSize < 1 {
		cacheSize = defaultCacheSize
	}
	// lru.New only errors on a non-positive size, which is guarded above.
	cache, _ := lru.New[string, cachedSession](cacheSize)
	return Store{db: db, cache: cache}
}

func (s Store) UpsertAccount(ctx context.Context, googleSub, email, name, avatar string) (Account, error) {
	id := uuid.NewString()
	query := `
INSERT INTO accounts (id, google_sub, email, display_name, avatar_url)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(google_sub) DO UPDATE SET
  email = excluded.email,
  display_name = excluded.display_name,
  avatar_url = excluded.avatar_url,
  updated_at = CURRENT_TIMESTAMP
RETURNING id, google_sub, email, COALESCE(display_name, ''), COALESCE(avatar_url, ''), created_at, updated_at;
`

	var out Account
	if err := s.db.QueryRowContext(ctx, query, id, googleSub, strings.ToLower(email), strings.TrimSpace(name), strings.TrimSpace(avatar)).Scan(
		&out.ID,
		&out.GoogleSub,
		&out.Email,
		&out.Name,
		&out.AvatarURL,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return Account{}, fmt.Errorf("upsert account: %w", err)
	}

	return out, nil
}

func (s Store) CreateSession(ctx context.Context, accountID string, ttl time.Duration) (string, time.Time, error) {
	rawToken, err := randomToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}

	expiresAt := time.Now().Add(ttl).UTC()
	query := `INSERT INTO sessions (id, account_id, token_hash, expires_at) VALUES (?, ?, ?, ?);`

	if _, err := s.db.ExecContext(ctx, query, uuid.NewString(), accountID, hashToken(rawToken), expiresAt.Format(time.RFC3339)); err != nil {
		return "", time.Time{}, fmt.Errorf("create session: %w", err)
	}

	return rawToken, expiresAt, nil
}

func (s Store) ResolveSession(ctx context.Context, rawToken string) (Account, error) {
	tokenHash := hashToken(rawToken)

	if s.cache != nil {
		if entry, ok := s.cache.Get(tokenHash); ok {
			if time.Now().Before(entry.expiresAt) {
				return entry.account, nil
			}
			s.cache.Remove(tokenHash)
		}
	}

	// expires_at is stored as RFC3339 UTC, so the cutoff must be bound in
	// the same format; sqlite's CURRENT_TIMESTAMP renders differently and
	// would not compare correctly.
	query := `
SELECT a.id, a.google_sub, a.email, COALESCE(a.display_name, ''), COALESCE(a.avatar_url, ''), a.created_at, a.updated_at, s.expires_at
FROM sessions s
JOIN accounts a ON a.id = s.account_id
WHERE s.token_hash = ? AND s.expires_at > ?
LIMIT 1;
`

	var out Account
	var expiresAtRaw string
	err := s.db.QueryRowContext(ctx, query, tokenHash, time.Now().UTC().Format(time.RFC3339)).Scan(
		&out.ID,
		&out.GoogleSub,
		&out.Email,
		&out.Name,
		&out.AvatarURL,
		&out.CreatedAt,
		&out.UpdatedAt,
		&expiresAtRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("resolve session: %w", err)
	}

	if s.cache != nil {
		if expiresAt, parseErr := time.Parse(time.RFC3339, expiresAtRaw); parseErr == nil {
			s.cache.Add(tokenHash, cachedSession{account: out, expiresAt: expiresAt})
		}
	}
	return out, nil
}

func (s Store) DeleteSession(ctx context.Context, rawToken string) error {
	if strings.TrimSpace(rawToken) == "" {
		return nil
	}
	tokenHash := hashToken(rawToken)
	if s.cache != nil {
		s.cache.Remove(tokenHash)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?;`, tokenHash)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
