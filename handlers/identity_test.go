package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/driftnote/driftnote/backend/go-identity/internal/config"
	"github.com/driftnote/driftnote/backend/go-identity/internal/identity"
	"github.com/driftnote/driftnote/backend/go-identity/internal/names"
	"github.com/driftnote/driftnote/backend/go-identity/internal/sessions"
	"github.com/driftnote/driftnote/backend/go-identity/pkg/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fake sessions repo
type fakeSessionsRepo struct {
	store map[string]*sessions.Session
}

func (f *fakeSessionsRepo) Create(ctx context.Context, s *sessions.Session) error {
	if f.store == nil {
		f.store = map[string]*sessions.Session{}
	}
	f.store[s.Token] = s
	return nil
}

func (f *fakeSessionsRepo) GetByToken(ctx context.Context, token string) (*sessions.Session, error) {
	s, ok := f.store[token]
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (f *fakeSessionsRepo) UpdateClaims(ctx context.Context, token string, claims sessions.Claims) error {
	s, ok := f.store[token]
	if !ok {
		return fmt.Errorf("session not found")
	}
	s.Claims = claims
	return nil
}

func (f *fakeSessionsRepo) DeleteByToken(ctx context.Context, token string) error {
	delete(f.store, token)
	return nil
}

// fakeIDToken implements middleware.Token
type fakeIDToken struct {
	data map[string]interface{}
}

func (t *fakeIDToken) Claims(v interface{}) error {
	if mm, ok := v.(*map[string]interface{}); ok {
		*mm = t.data
		return nil
	}
	return fmt.Errorf("unsupported claims type")
}

// fakeIDVerifier maps raw id_tokens onto claim sets
type fakeIDVerifier struct {
	tokens map[string]map[string]interface{}
}

func (f *fakeIDVerifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	claims, ok := f.tokens[raw]
	if !ok {
		return nil, fmt.Errorf("invalid token")
	}
	return &fakeIDToken{data: claims}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Token.Secret = "identity-test-secret-32-bytes-xx"
	cfg.Token.AnonymousTTL = 30 * 24 * time.Hour
	cfg.Token.AccessTokenTTL = 15 * time.Minute
	cfg.Token.SessionTTL = 7 * 24 * time.Hour
	return cfg
}

func newTestRouter(t *testing.T, ver middleware.Verifier) (*gin.Engine, *IdentityHandler, *sessions.Service) {
	t.Helper()
	cfg := testConfig()
	idSvc := identity.NewService(identity.NewMemoryStore(), names.NewSeeded(7))
	sSvc := sessions.NewService(&fakeSessionsRepo{})
	h := NewIdentityHandler(cfg, idSvc, sSvc, ver, nil)

	r := gin.New()
	rg := r.Group("/")
	h.Register(rg)
	return r, h, sSvc
}

func doJSON(r *gin.Engine, method, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func anonCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, ck := range w.Result().Cookies() {
		if ck.Name == anonCookieName {
			return ck
		}
	}
	return nil
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var got map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&got))
	return got
}

func userField(t *testing.T, body map[string]interface{}, key string) interface{} {
	t.Helper()
	u, ok := body["user"].(map[string]interface{})
	require.True(t, ok, "response missing user object")
	return u[key]
}

func TestMe_ProvisionsAnonymousIdentity(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeIDVerifier{})

	w := doJSON(r, "GET", "/identity/me", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	got := decodeBody(t, w)
	assert.Equal(t, false, got["linked"])
	assert.NotEmpty(t, userField(t, got, "publicId"))
	assert.NotEmpty(t, userField(t, got, "displayName"))
	assert.Equal(t, true, userField(t, got, "isAnonymous"))

	ck := anonCookie(t, w)
	require.NotNil(t, ck, "expected anonymous token cookie")
	assert.True(t, ck.HttpOnly)
	assert.NotEmpty(t, ck.Value)
}

func TestMe_ReturnsSameIdentityForCookie(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeIDVerifier{})

	w1 := doJSON(r, "GET", "/identity/me", "", nil)
	require.Equal(t, http.StatusOK, w1.Code)
	pid := userField(t, decodeBody(t, w1), "publicId")
	ck := anonCookie(t, w1)
	require.NotNil(t, ck)

	w2 := doJSON(r, "GET", "/identity/me", "", func(req *http.Request) {
		req.AddCookie(ck)
	})
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, pid, userField(t, decodeBody(t, w2), "publicId"))
	// identity resolved, no replacement cookie issued
	assert.Nil(t, anonCookie(t, w2))
}

func TestMe_GarbageCookieProvisionsFresh(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeIDVerifier{})

	w := doJSON(r, "GET", "/identity/me", "", func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: anonCookieName, Value: "not-a-jwt"})
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, userField(t, decodeBody(t, w), "publicId"))
	require.NotNil(t, anonCookie(t, w), "expected a replacement cookie")
}

func TestLink_PromotesAnonymousRecord(t *testing.T) {
	ver := &fakeIDVerifier{tokens: map[string]map[string]interface{}{
		"good": {"sub": "prov-sub-1", "email": "alice@example.com", "name": "Alice Provider"},
	}}
	r, _, _ := newTestRouter(t, ver)

	w1 := doJSON(r, "GET", "/identity/me", "", nil)
	require.Equal(t, http.StatusOK, w1.Code)
	body1 := decodeBody(t, w1)
	pid := userField(t, body1, "publicId")
	anonName := userField(t, body1, "displayName")
	ck := anonCookie(t, w1)
	require.NotNil(t, ck)

	w2 := doJSON(r, "POST", "/identity/link", `{"idToken":"good"}`, func(req *http.Request) {
		req.AddCookie(ck)
	})
	require.Equal(t, http.StatusOK, w2.Code)
	got := decodeBody(t, w2)
	assert.Equal(t, true, got["linked"])
	assert.Equal(t, pid, userField(t, got, "publicId"))
	// display name survives the upgrade; provider profile name is discarded
	assert.Equal(t, anonName, userField(t, got, "displayName"))
	assert.Equal(t, "alice@example.com", userField(t, got, "email"))
	assert.Equal(t, false, userField(t, got, "isAnonymous"))
	assert.NotEmpty(t, got["sessionToken"])
	assert.NotEmpty(t, got["accessToken"])
}

func TestLink_IdempotentForSameIdentity(t *testing.T) {
	ver := &fakeIDVerifier{tokens: map[string]map[string]interface{}{
		"good": {"sub": "prov-sub-2", "email": "b@example.com"},
	}}
	r, _, _ := newTestRouter(t, ver)

	w1 := doJSON(r, "GET", "/identity/me", "", nil)
	ck := anonCookie(t, w1)
	require.NotNil(t, ck)
	pid := userField(t, decodeBody(t, w1), "publicId")

	for i := 0; i < 2; i++ {
		w := doJSON(r, "POST", "/identity/link", `{"idToken":"good"}`, func(req *http.Request) {
			req.AddCookie(ck)
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, pid, userField(t, decodeBody(t, w), "publicId"))
	}
}

func TestLink_ExistingOwnerWins(t *testing.T) {
	ver := &fakeIDVerifier{tokens: map[string]map[string]interface{}{
		"good": {"sub": "prov-sub-3", "email": "c@example.com"},
	}}
	r, _, _ := newTestRouter(t, ver)

	// device A provisions and links
	wa := doJSON(r, "GET", "/identity/me", "", nil)
	cka := anonCookie(t, wa)
	require.NotNil(t, cka)
	pidA := userField(t, decodeBody(t, wa), "publicId")
	wl := doJSON(r, "POST", "/identity/link", `{"idToken":"good"}`, func(req *http.Request) {
		req.AddCookie(cka)
	})
	require.Equal(t, http.StatusOK, wl.Code)

	// device B has its own anonymous record and links the same identity
	wb := doJSON(r, "GET", "/identity/me", "", nil)
	ckb := anonCookie(t, wb)
	require.NotNil(t, ckb)
	pidB := userField(t, decodeBody(t, wb), "publicId")
	require.NotEqual(t, pidA, pidB)

	wl2 := doJSON(r, "POST", "/identity/link", `{"idToken":"good"}`, func(req *http.Request) {
		req.AddCookie(ckb)
	})
	require.Equal(t, http.StatusOK, wl2.Code)
	// the first linker's record is authoritative
	assert.Equal(t, pidA, userField(t, decodeBody(t, wl2), "publicId"))
}

func TestLink_NoCookieProvisionsThenLinks(t *testing.T) {
	ver := &fakeIDVerifier{tokens: map[string]map[string]interface{}{
		"good": {"sub": "prov-sub-4", "email": "d@example.com"},
	}}
	r, _, _ := newTestRouter(t, ver)

	w := doJSON(r, "POST", "/identity/link", `{"idToken":"good"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody(t, w)
	assert.Equal(t, true, got["linked"])
	assert.Equal(t, false, userField(t, got, "isAnonymous"))
	require.NotNil(t, anonCookie(t, w), "expected cookie for the provisioned record")
}

func TestLink_InvalidIDToken(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeIDVerifier{})

	w := doJSON(r, "POST", "/identity/link", `{"idToken":"bogus"}`, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLink_MissingSubject(t *testing.T) {
	ver := &fakeIDVerifier{tokens: map[string]map[string]interface{}{
		"nosub": {"email": "e@example.com"},
	}}
	r, _, _ := newTestRouter(t, ver)

	w := doJSON(r, "POST", "/identity/link", `{"idToken":"nosub"}`, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_DeletesSessionAndBlacklistsToken(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	sessions.SetBlacklistClient(client)
	defer sessions.SetBlacklistClient(nil)

	ver := &fakeIDVerifier{tokens: map[string]map[string]interface{}{
		"good": {"sub": "prov-sub-5", "email": "f@example.com"},
	}}
	r, _, sSvc := newTestRouter(t, ver)

	w1 := doJSON(r, "GET", "/identity/me", "", nil)
	ck := anonCookie(t, w1)
	require.NotNil(t, ck)
	w2 := doJSON(r, "POST", "/identity/link", `{"idToken":"good"}`, func(req *http.Request) {
		req.AddCookie(ck)
	})
	require.Equal(t, http.StatusOK, w2.Code)
	linked := decodeBody(t, w2)
	sessTok, _ := linked["sessionToken"].(string)
	require.NotEmpty(t, sessTok)

	// craft an access token with exp in the future to be blacklisted
	exp := time.Now().Add(2 * time.Minute).Unix()
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"pid":"x","exp":%d}`, exp)))
	access := "hdr." + payload + ".sig"

	w3 := doJSON(r, "POST", "/identity/logout", fmt.Sprintf(`{"accessToken":"%s"}`, access), func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+sessTok)
	})
	require.Equal(t, http.StatusOK, w3.Code)

	// session is gone
	sess, err := sSvc.Validate(context.Background(), sessTok)
	require.NoError(t, err)
	assert.Nil(t, sess)

	// access token is blacklisted in redis
	assert.True(t, m.Exists("blacklist:access:"+access))

	// anonymous cookie is cleared
	ck2 := anonCookie(t, w3)
	require.NotNil(t, ck2)
	assert.Empty(t, ck2.Value)
	assert.True(t, ck2.MaxAge < 0)
}

func TestParseExpFromJWT_VariousFormats(t *testing.T) {
	extra := base64.RawURLEncoding.EncodeToString([]byte(`{"pid":"p1","exp":1700000000}`))
	tok := "hdr." + extra + ".sig"
	expTime, err := parseExpFromJWT(tok)
	if err != nil {
		t.Fatalf("unexpected error from parseExpFromJWT: %v", err)
	}
	if expTime.Unix() != 1700000000 {
		t.Fatalf("unexpected exp time: %v", expTime.Unix())
	}

	// missing exp
	nopayload := base64.RawURLEncoding.EncodeToString([]byte(`{"pid":"p2"}`))
	notok := "hdr." + nopayload + ".sig"
	if _, err := parseExpFromJWT(notok); err == nil {
		t.Fatalf("expected error for missing exp claim")
	}

	// malformed token
	if _, err := parseExpFromJWT("not.a.jwt"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}
