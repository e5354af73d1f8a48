package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/overlab/overlab/internal/config"
	"github.com/overlab/overlab/internal/sessions"
	"github.com/overlab/overlab/pkg/middleware"
)

// GenerateAccessToken creates a signed JWT access token for the admin subject
func GenerateAccessToken(cfg *config.Config, sub string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  sub,
		"role": "admin",
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(ttl).Unix(),
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return jt.SignedString([]byte(cfg.JWT.Secret))
}

// claimsToken adapts parsed JWT claims to the middleware.Token interface.
type claimsToken struct {
	claims jwt.MapClaims
}

func (t *claimsToken) Claims(v interface{}) error {
	m, ok := v.(*map[string]interface{})
	if !ok {
		return errors.New("unsupported claims target")
	}
	*m = map[string]interface{}(t.claims)
	return nil
}

// SecretVerifier verifies locally issued HS256 tokens and consults the
// logout blacklist. It satisfies middleware.Verifier.
type SecretVerifier struct {
	secret []byte
}

func NewSecretVerifier(secret string) *SecretVerifier {
	return &SecretVerifier{secret: []byte(secret)}
}

func (v *SecretVerifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	blacklisted, err := sessions.IsAccessTokenBlacklisted(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("blacklist check failed: %w", err)
	}
	if blacklisted {
		return nil, errors.New("token revoked")
	}

	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return &claimsToken{claims: claims}, nil
}
