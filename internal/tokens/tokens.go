package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/driftnote/driftnote/backend/go-identity/internal/config"
	"github.com/driftnote/driftnote/backend/go-identity/internal/identity"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every way a presented token can be unusable:
// malformed, tampered, expired or signed with the wrong key. Callers at the
// resolution boundary treat it as "no evidence", not as a request failure.
var ErrInvalidToken = errors.New("tokens: invalid token")

// IssueAnonymousToken creates the signed bearer token that identifies an
// anonymous record client-side. It carries only the public identifier, never
// the internal id, and expires after the configured anonymous TTL
// (~30 days).
func IssueAnonymousToken(cfg *config.Config, publicID string) (string, error) {
	claims := jwt.MapClaims{
		"pid": publicID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(cfg.Token.AnonymousTTL).Unix(),
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return jt.SignedString([]byte(cfg.Token.Secret))
}

// PublicIDFromToken verifies the anonymous token and returns the publicId it
// carries. Any verification failure yields ErrInvalidToken.
func PublicIDFromToken(cfg *config.Config, raw string) (string, error) {
	parsed, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(cfg.Token.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	pid, _ := claims["pid"].(string)
	if pid == "" {
		return "", ErrInvalidToken
	}
	return pid, nil
}

// GenerateAccessToken creates a signed JWT access token for a linked record
func GenerateAccessToken(cfg *config.Config, rec *identity.Record, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"pid":   rec.PublicID,
		"name":  rec.DisplayName,
		"email": rec.Email,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(ttl).Unix(),
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return jt.SignedString([]byte(cfg.Token.Secret))
}
