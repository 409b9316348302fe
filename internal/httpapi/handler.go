package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"scholar/backend/internal/auth"
	"scholar/backend/internal/billing"
	"scholar/backend/internal/config"
	"scholar/backend/internal/session"
	"scholar/backend/internal/store"
	"scholar/backend/internal/stripe"
	"scholar/backend/internal/tts"
	"scholar/backend/internal/workflow"
)

// Handler carries every dependency the API routes need.
type Handler struct {
	cfg      config.Config
	db       *sql.DB
	sessions session.Store
	verifier auth.Verifier

	settings   store.SettingsStore
	models     store.ModelStore
	params     store.ParameterStore
	mcpConns   store.MCPStore
	executions store.ExecutionStore
	billing    store.BillingStore

	engine  workflow.Engine
	llm     workflow.LLM
	quota   billing.Quota
	stripe  stripe.Client
	tts     tts.Client
	catalog config.ModelCatalog
}

type contextKey string

const sessionAccountContextKey contextKey = "session_account"

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authGoogleRequest struct {
	IDToken string `json:"idToken"`
}

func (h Handler) AuthGoogle(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.AuthRequired {
		writeJSON(w, http.StatusOK, map[string]any{"account": anonymousAccount()})
		return
	}

	var req authGoogleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	identity, err := h.identityFromRequest(r.Context(), r, req.IDToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_google_token", err.Error())
		return
	}

	account, err := h.sessions.UpsertAccount(r.Context(), identity.GoogleSubject, identity.Email, identity.Name, identity.AvatarURL)
	if err != nil {
		log.Printf("auth upsert failed sub=%s err=%v", identity.GoogleSubject, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to upsert account")
		return
	}

	token, expiresAt, err := h.sessions.CreateSession(r.Context(), account.ID, h.cfg.SessionTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to create session")
		return
	}

	h.setSessionCookie(w, token, expiresAt)
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "token": token})
}

func (h Handler) AuthMe(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account})
}

func (h Handler) AuthLogout(w http.ResponseWriter, r *http.Request) {
	if rawToken := h.sessionToken(r); rawToken != "" {
		_ = h.sessions.DeleteSession(r.Context(), rawToken)
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// RequireSession resolves the caller's account from the session cookie or
// an Authorization bearer token and puts it on the request context.
func (h Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.cfg.AuthRequired {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionAccountContextKey, anonymousAccount())))
			return
		}

		rawToken := h.sessionToken(r)
		if rawToken == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid session")
			return
		}

		account, err := h.sessions.ResolveSession(r.Context(), rawToken)
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "session expired or invalid")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error", "failed to resolve session")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionAccountContextKey, account)))
	})
}

func (h Handler) sessionToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	cookie, err := r.Cookie(h.cfg.SessionCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func (h Handler) identityFromRequest(ctx context.Context, r *http.Request, idToken string) (auth.GoogleIdentity, error) {
	if !h.cfg.InsecureSkipGoogleVerify {
		return h.verifier.Verify(ctx, idToken)
	}

	email := strings.TrimSpace(r.Header.Get("X-Test-Email"))
	sub := strings.TrimSpace(r.Header.Get("X-Test-Google-Sub"))
	if email == "" || sub == "" {
		return auth.GoogleIdentity{}, errors.New("insecure auth mode requires X-Test-Email and X-Test-Google-Sub headers")
	}
	return auth.GoogleIdentity{GoogleSubject: sub, Email: strings.ToLower(email), Name: strings.TrimSpace(r.Header.Get("X-Test-Name"))}, nil
}

func (h Handler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func (h Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func sessionAccountFromContext(ctx context.Context) (session.Account, bool) {
	value := ctx.Value(sessionAccountContextKey)
	if value == nil {
		return session.Account{}, false
	}
	account, ok := value.(session.Account)
	return account, ok
}

func anonymousAccount() session.Account {
	return session.Account{
		ID:        "anonymous-account",
		Email:     "anonymous@scholar.local",
		Name:      "Anonymous",
		GoogleSub: "anonymous",
		CreatedAt: "1970-01-01T00:00:00Z",
		UpdatedAt: "1970-01-01T00:00:00Z",
	}
}
