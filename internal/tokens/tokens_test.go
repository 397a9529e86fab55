package tokens

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/driftnote/driftnote/backend/go-identity/internal/config"
	"github.com/driftnote/driftnote/backend/go-identity/internal/identity"
	"github.com/golang-jwt/jwt/v5"
)

func testConfig(secret string) *config.Config {
	cfg := &config.Config{}
	cfg.Token.Secret = secret
	cfg.Token.AnonymousTTL = 30 * 24 * time.Hour
	return cfg
}

func TestAnonymousToken_RoundTrip(t *testing.T) {
	cfg := testConfig("test-secret-32-bytes-should-be-long-enough")

	tok, err := IssueAnonymousToken(cfg, "p1")
	if err != nil {
		t.Fatalf("IssueAnonymousToken error: %v", err)
	}
	pid, err := PublicIDFromToken(cfg, tok)
	if err != nil {
		t.Fatalf("PublicIDFromToken error: %v", err)
	}
	if pid != "p1" {
		t.Fatalf("unexpected publicId: got=%q want=%q", pid, "p1")
	}
}

func TestAnonymousToken_WrongSecretFails(t *testing.T) {
	cfg := testConfig("secret-one-32-bytes-xxxxxxxxxxxxxxxx")
	tok, err := IssueAnonymousToken(cfg, "p2")
	if err != nil {
		t.Fatalf("IssueAnonymousToken error: %v", err)
	}

	other := testConfig("different-secret-xxxxxxxxxxxxxxxxxxx")
	if _, err := PublicIDFromToken(other, tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestAnonymousToken_Expired(t *testing.T) {
	cfg := testConfig("expiry-test-secret-32-bytes-xxxxxxxx")
	cfg.Token.AnonymousTTL = -time.Minute // already expired at issue time

	tok, err := IssueAnonymousToken(cfg, "p3")
	if err != nil {
		t.Fatalf("IssueAnonymousToken error: %v", err)
	}
	if _, err := PublicIDFromToken(cfg, tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestAnonymousToken_TamperedPayload(t *testing.T) {
	cfg := testConfig("tamper-test-secret-32-bytes-xxxxxxx")
	tok, err := IssueAnonymousToken(cfg, "p4")
	if err != nil {
		t.Fatalf("IssueAnonymousToken error: %v", err)
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token parts")
	}
	payloadBytes, _ := jwt.NewParser().DecodeSegment(parts[1])
	payload := strings.Replace(string(payloadBytes), "p4", "p9", 1)
	parts[1] = (&jwt.Token{}).EncodeSegment([]byte(payload))
	tampered := strings.Join(parts, ".")

	if _, err := PublicIDFromToken(cfg, tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestAnonymousToken_Malformed(t *testing.T) {
	cfg := testConfig("x")
	if _, err := PublicIDFromToken(cfg, "not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for malformed token, got %v", err)
	}
}

// Rejected when alg=none (unsigned token)
func TestAnonymousToken_AlgNoneRejected(t *testing.T) {
	cfg := testConfig("x")
	headerEnc := (&jwt.Token{}).EncodeSegment([]byte(`{"alg":"none"}`))
	payloadEnc := (&jwt.Token{}).EncodeSegment([]byte(`{"pid":"p-none","exp":9999999999}`))
	tok := headerEnc + "." + payloadEnc + "."
	if _, err := PublicIDFromToken(cfg, tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for alg=none token, got %v", err)
	}
}

func TestGenerateAccessToken_Claims(t *testing.T) {
	cfg := testConfig("access-test-secret-32-bytes-xxxxxxxx")
	rec := &identity.Record{PublicID: "p5", DisplayName: "merry-fox-417", Email: "u@example.com"}

	tok, err := GenerateAccessToken(cfg, rec, 2*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken error: %v", err)
	}
	parsed, err := jwt.Parse(tok, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Token.Secret), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("failed to parse token: %v", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		t.Fatalf("claims type assertion failed")
	}
	if claims["pid"] != rec.PublicID || claims["name"] != rec.DisplayName {
		t.Fatalf("unexpected claims: %v", claims)
	}
}
