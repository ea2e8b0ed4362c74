package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"vibeline/internal/domain"
	"vibeline/internal/events"
	"vibeline/internal/repo"
)

// Resolve turns an opaque session token into the acting principal. A
// missing, expired, or unknown token yields ErrUnauthenticated; callers
// branch on it rather than treating it as a failure.
func (e Engine) Resolve(ctx context.Context, token string) (domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Principal{}, ErrUnauthenticated
	}
	var s domain.Session
	err := e.withReadTimeout(ctx, func(ctx context.Context) error {
		var err error
		s, err = e.Repo.GetSessionByHash(ctx, repo.HashCredential(token))
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Principal{}, ErrUnauthenticated
	}
	if err != nil {
		return domain.Principal{}, err
	}
	exp, err := time.Parse(time.RFC3339, s.ExpiresAt)
	if err != nil || e.now().UTC().After(exp) {
		return domain.Principal{}, ErrUnauthenticated
	}
	var p domain.Principal
	err = e.withReadTimeout(ctx, func(ctx context.Context) error {
		var err error
		p, err = e.Repo.GetUser(ctx, s.UserID)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Principal{}, ErrUnauthenticated
	}
	if err != nil {
		return domain.Principal{}, err
	}
	return p, nil
}

// SignupOptions are parameters for creating a user.
type SignupOptions struct {
	Email    string
	FullName string
	Role     string
}

// Signup registers a new principal. New users start as vibe coders unless an
// explicit role is given; the developer role is only reachable through an
// approved application.
func (e Engine) Signup(ctx context.Context, opts SignupOptions) (domain.Principal, error) {
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.Principal{}, errors.New("valid email is required")
	}
	role := opts.Role
	if role == "" {
		role = domain.RoleVibeCoder
	}
	if role != domain.RoleVibeCoder && role != domain.RoleAdmin {
		return domain.Principal{}, fmt.Errorf("role %s cannot be self-assigned", role)
	}
	p := domain.Principal{
		ID:        uuid.New().String(),
		Email:     email,
		FullName:  strings.TrimSpace(opts.FullName),
		Role:      role,
		CreatedAt: e.nowRFC3339(),
	}
	err := e.withWriteTimeout(ctx, func(ctx context.Context) error {
		return e.Repo.InsertUser(ctx, p)
	})
	if errors.Is(err, repo.ErrConflict) {
		return domain.Principal{}, fmt.Errorf("email %s is already registered", email)
	}
	if err != nil {
		return domain.Principal{}, err
	}
	return p, nil
}

// Login mints a session for an existing user and returns the raw token once.
// Only its hash is stored.
func (e Engine) Login(ctx context.Context, email string) (string, domain.Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var p domain.Principal
	err := e.withReadTimeout(ctx, func(ctx context.Context) error {
		var err error
		p, err = e.Repo.GetUserByEmail(ctx, email)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return "", domain.Principal{}, ErrUnauthenticated
	}
	if err != nil {
		return "", domain.Principal{}, err
	}
	token, err := newToken()
	if err != nil {
		return "", domain.Principal{}, err
	}
	now := e.now().UTC()
	ttl := 72 * time.Hour
	if e.Config != nil {
		ttl = e.Config.SessionTTL()
	}
	s := domain.Session{
		TokenHash: repo.HashCredential(token),
		UserID:    p.ID,
		CreatedAt: now.Format(time.RFC3339),
		ExpiresAt: now.Add(ttl).Format(time.RFC3339),
	}
	err = e.withWriteTimeout(ctx, func(ctx context.Context) error {
		return e.Repo.InsertSession(ctx, s)
	})
	if err != nil {
		return "", domain.Principal{}, err
	}
	return token, p, nil
}

// Logout drops the session behind a token. Unknown tokens are a no-op.
func (e Engine) Logout(ctx context.Context, token string) error {
	return e.withWriteTimeout(ctx, func(ctx context.Context) error {
		return e.Repo.DeleteSession(ctx, repo.HashCredential(token))
	})
}

// CompleteProfile marks onboarding finished for the calling principal.
func (e Engine) CompleteProfile(ctx context.Context, p domain.Principal) error {
	return e.withWriteTimeout(ctx, func(ctx context.Context) error {
		return e.Repo.UpdateUserProfileCompleted(ctx, p.ID, true)
	})
}

// PruneSessions removes expired sessions and reports how many were dropped.
func (e Engine) PruneSessions(ctx context.Context) (int64, error) {
	var n int64
	err := e.withWriteTimeout(ctx, func(ctx context.Context) error {
		var err error
		n, err = e.Repo.DeleteExpiredSessions(ctx, e.nowRFC3339())
		return err
	})
	return n, err
}

// CreateAPIKey mints a long-lived credential for the given user and returns
// the raw key once.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	var p domain.Principal
	err := e.withReadTimeout(ctx, func(ctx context.Context) error {
		var err error
		p, err = e.Repo.GetUser(ctx, userID)
		return err
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	raw, err := newToken()
	if err != nil {
		return domain.APIKey{}, "", err
	}
	key := domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    p.ID,
		Name:      name,
		KeyHash:   repo.HashCredential(raw),
		CreatedAt: e.nowRFC3339(),
	}
	err = e.withWriteTimeout(ctx, func(ctx context.Context) error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, "apikey.created", "api_key", key.ID, p.ID, events.EventPayload{"name": name}); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

// ResolveAPIKey resolves a raw API key to its owning principal.
func (e Engine) ResolveAPIKey(ctx context.Context, rawKey string) (domain.Principal, error) {
	if strings.TrimSpace(rawKey) == "" {
		return domain.Principal{}, ErrUnauthenticated
	}
	var key domain.APIKey
	err := e.withReadTimeout(ctx, func(ctx context.Context) error {
		var err error
		key, err = e.Repo.GetAPIKeyByHash(ctx, repo.HashCredential(rawKey))
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Principal{}, ErrUnauthenticated
	}
	if err != nil {
		return domain.Principal{}, err
	}
	var p domain.Principal
	err = e.withReadTimeout(ctx, func(ctx context.Context) error {
		var err error
		p, err = e.Repo.GetUser(ctx, key.UserID)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Principal{}, ErrUnauthenticated
	}
	if err != nil {
		return domain.Principal{}, err
	}
	return p, nil
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
