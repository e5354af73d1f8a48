package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// refreshTokenBytes is the entropy of a refresh token before hex encoding.
const refreshTokenBytes = 32

// Service issues and checks refresh sessions for the admin panel. Access
// tokens are short-lived JWTs; the refresh token is an opaque random value
// that lives only in the session store.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// CreateSession mints an opaque refresh token for an admin subject and
// persists it with the given lifetime.
func (s *Service) CreateSession(ctx context.Context, sub string, ttl time.Duration) (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	session := &Session{
		RefreshToken: token,
		Sub:          sub,
		ExpiresAt:    time.Now().UTC().Add(ttl),
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return "", err
	}
	return token, nil
}

// ValidateRefresh looks a refresh token up and returns its session, or nil
// when the token is unknown or past its expiry. Expired rows are deleted on
// the way out.
func (s *Service) ValidateRefresh(ctx context.Context, refresh string) (*Session, error) {
	session, err := s.repo.GetByRefresh(ctx, refresh)
	if err != nil || session == nil {
		return nil, err
	}
	if time.Now().UTC().After(session.ExpiresAt) {
		_ = s.repo.DeleteByRefresh(ctx, refresh)
		return nil, nil
	}
	return session, nil
}

// DeleteRefresh drops a session on logout.
func (s *Service) DeleteRefresh(ctx context.Context, refresh string) error {
	return s.repo.DeleteByRefresh(ctx, refresh)
}
