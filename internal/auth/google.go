package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scholar/backend/internal/config"

	"google.golang.org/api/idtoken"
)

var ErrUnverifiedEmail = errors.New("google account email is not verified")

// GoogleIdentity is the subset of ID-token claims the account layer keys on.
type GoogleIdentity struct {
	GoogleSubject string
	Email         string
	Name          string
	AvatarURL     string
}

type Verifier struct {
	cfg config.Config
}

func NewVerifier(cfg config.Config) Verifier {
	return Verifier{cfg: cfg}
}

// Verify validates a Google ID token against the configured client id and
// extracts the identity claims. Tokens for unverified emails are rejected.
func (v Verifier) Verify(ctx context.Context, idToken string) (GoogleIdentity, error) {
	if strings.TrimSpace(idToken) == "" {
		return GoogleIdentity{}, errors.New("id token is required")
	}
	if v.cfg.InsecureSkipGoogleVerify {
		return GoogleIdentity{}, errors.New("AUTH_INSECURE_SKIP_GOOGLE_VERIFY enabled: testing endpoint requires explicit test identity header")
	}

	payload, err := idtoken.Validate(ctx, idToken, v.cfg.GoogleClientID)
	if err != nil {
		return GoogleIdentity{}, fmt.Errorf("validate id token: %w", err)
	}
	return identityFromClaims(payload.Subject, payload.Claims)
}

func identityFromClaims(subject string, claims map[string]any) (GoogleIdentity, error) {
	email := strings.TrimSpace(claimString(claims, "email"))
	if email == "" {
		return GoogleIdentity{}, errors.New("google token missing email claim")
	}
	if !claimBool(claims, "email_verified") {
		return GoogleIdentity{}, ErrUnverifiedEmail
	}
	return GoogleIdentity{
		GoogleSubject: subject,
		Email:         strings.ToLower(email),
		Name:          strings.TrimSpace(claimString(claims, "name")),
		AvatarURL:     strings.TrimSpace(claimString(claims, "picture")),
	}, nil
}

func claimString(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}

// claimBool tolerates the string form Google emits for email_verified on
// some token variants.
func claimBool(claims map[string]any, key string) bool {
	switch v := claims[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}
