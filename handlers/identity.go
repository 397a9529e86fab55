package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/driftnote/driftnote/backend/go-identity/internal/config"
	"github.com/driftnote/driftnote/backend/go-identity/internal/identity"
	"github.com/driftnote/driftnote/backend/go-identity/internal/oidc"
	"github.com/driftnote/driftnote/backend/go-identity/internal/sessions"
	"github.com/driftnote/driftnote/backend/go-identity/internal/tokens"
	"github.com/driftnote/driftnote/backend/go-identity/pkg/logger"
	"github.com/driftnote/driftnote/backend/go-identity/pkg/metrics"
	"github.com/driftnote/driftnote/backend/go-identity/pkg/middleware"
)

// anonCookieName is the browser cookie carrying the signed anonymous token.
// The cookie holds the token, never the raw publicId.
const anonCookieName = "driftnote_identity"

// LinkRequest carries the provider id_token obtained client-side after the
// OAuth exchange.
type LinkRequest struct {
	IDToken string `json:"idToken" binding:"required"`
}

// AvatarMirror copies a provider avatar into our own storage. Optional; a nil
// mirror means linked records keep the provider URL.
type AvatarMirror interface {
	Mirror(ctx context.Context, publicID, providerURL string) (string, error)
}

// IdentityHandler holds dependencies
type IdentityHandler struct {
	cfg         *config.Config
	idSvc       *identity.Service
	sessionsSvc *sessions.Service
	verifier    middleware.Verifier
	avatars     AvatarMirror
}

func NewIdentityHandler(cfg *config.Config, id *identity.Service, s *sessions.Service, ver middleware.Verifier, av AvatarMirror) *IdentityHandler {
	return &IdentityHandler{cfg: cfg, idSvc: id, sessionsSvc: s, verifier: ver, avatars: av}
}

// Register routes under /identity
func (h *IdentityHandler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/identity")
	g.GET("/me", h.Me)
	g.POST("/link", h.Link)
	g.POST("/logout", h.Logout)
}

// Me resolves the caller's identity from whatever evidence the request
// carries and provisions a fresh anonymous record when nothing resolves.
// A visitor's very first request leaves with a usable identity and the
// anonymous token cookie set.
func (h *IdentityHandler) Me(c *gin.Context) {
	ev := h.evidence(c)
	rec, err := h.idSvc.Resolve(c.Request.Context(), ev)
	if err != nil {
		logger.Errorf("identity resolve error: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "identity store unavailable"})
		return
	}
	if rec == nil {
		rec, err = h.provisionWithCookie(c)
		if err != nil {
			return // response already written
		}
	}
	c.JSON(http.StatusOK, gin.H{"user": rec, "linked": rec.Linked()})
}

// Link merges the caller's anonymous record with the verified external
// identity asserted by the id_token. Re-linking the same identity is
// idempotent; an identity already owned by another record returns that
// record instead of failing.
func (h *IdentityHandler) Link(c *gin.Context) {
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tkn, err := h.verifier.Verify(c.Request.Context(), req.IDToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid id token", "details": err.Error()})
		return
	}
	var claims map[string]interface{}
	if err := tkn.Claims(&claims); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "failed to parse claims"})
		return
	}
	ext, ok := oidc.ExternalIdentityFromClaims(claims)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "id token missing subject"})
		return
	}

	// recover the anonymous record this browser has been using
	var anon *identity.Record
	if pid := h.anonymousPublicID(c); pid != "" {
		anon, err = h.idSvc.Resolve(c.Request.Context(), identity.Evidence{AnonymousPublicID: pid})
		if err != nil {
			logger.Errorf("identity resolve error: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "identity store unavailable"})
			return
		}
	}
	// no usable anonymous identity: provision one so the link always has a
	// record to land on (first visit straight to sign-in)
	if anon == nil {
		anon, err = h.provisionWithCookie(c)
		if err != nil {
			return
		}
	}
	wasAnonymous := anon.IsAnonymous

	rec, err := h.idSvc.Upgrade(c.Request.Context(), anon, ext)
	if errors.Is(err, identity.ErrLinkingConflict) {
		metrics.Upgrades.WithLabelValues("conflict").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "account linking conflict, retry"})
		return
	}
	if err != nil {
		metrics.Upgrades.WithLabelValues("error").Inc()
		logger.Errorf("upgrade error: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "identity store unavailable"})
		return
	}
	if rec == nil {
		// anon was already linked; it either owns this external identity or
		// the identity belongs to another record
		if anon.ExternalID == ext.ExternalID {
			rec = anon
		} else {
			rec, err = h.idSvc.Resolve(c.Request.Context(), identity.Evidence{Claims: &identity.VerifiedClaims{ExternalID: ext.ExternalID, Linked: true}})
			if err != nil {
				logger.Errorf("identity resolve error: %v", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "identity store unavailable"})
				return
			}
			if rec == nil {
				metrics.Upgrades.WithLabelValues("conflict").Inc()
				c.JSON(http.StatusConflict, gin.H{"error": "identity already linked to a different account"})
				return
			}
		}
	}

	if wasAnonymous && rec.PublicID == anon.PublicID {
		metrics.Upgrades.WithLabelValues("linked").Inc()
	} else {
		metrics.Upgrades.WithLabelValues("existing").Inc()
	}

	if h.avatars != nil && strings.HasPrefix(rec.AvatarImage, "http") {
		if mirrored, merr := h.avatars.Mirror(c.Request.Context(), rec.PublicID, rec.AvatarImage); merr == nil && mirrored != "" {
			rec.AvatarImage = mirrored
		} else if merr != nil {
			logger.Warnf("avatar mirror failed for %s: %v", rec.PublicID, merr)
		}
	}

	// refresh the verified session snapshot, or start a session if the
	// request carried none
	sclaims := sessions.FromRecord(rec)
	sessTok := bearerToken(c)
	if sessTok != "" {
		if err := h.sessionsSvc.Refresh(c.Request.Context(), sessTok, sclaims); err != nil {
			logger.Warnf("session refresh failed, issuing a new session: %v", err)
			sessTok = ""
		}
	}
	if sessTok == "" {
		sessTok, err = h.sessionsSvc.CreateSession(c.Request.Context(), sclaims, h.cfg.Token.SessionTTL)
		if err != nil {
			logger.Errorf("failed to create session: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}
	}
	access, err := tokens.GenerateAccessToken(h.cfg, rec, h.cfg.Token.AccessTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create access token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":         rec,
		"linked":       true,
		"sessionToken": sessTok,
		"accessToken":  access,
		"expiresIn":    int(h.cfg.Token.AccessTokenTTL.Seconds()),
	})
}

// Logout deletes the verified session, blacklists the supplied access token
// and clears the anonymous cookie so the next visit starts fresh.
func (h *IdentityHandler) Logout(c *gin.Context) {
	var req struct {
		AccessToken string `json:"accessToken"`
	}
	_ = c.ShouldBindJSON(&req) // body is optional

	if req.AccessToken != "" {
		if exp, err := parseExpFromJWT(req.AccessToken); err == nil {
			if ttl := time.Until(exp); ttl > 0 {
				if err := sessions.BlacklistAccessToken(c.Request.Context(), req.AccessToken, ttl); err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to blacklist access token"})
					return
				}
			}
		}
	}

	if tok := bearerToken(c); tok != "" {
		if err := h.sessionsSvc.Delete(c.Request.Context(), tok); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove session"})
			return
		}
	}

	c.SetCookie(anonCookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// provisionWithCookie creates a fresh anonymous record and hands the browser
// its signed token. Writes the error response itself on failure.
func (h *IdentityHandler) provisionWithCookie(c *gin.Context) (*identity.Record, error) {
	rec, err := h.idSvc.Provision(c.Request.Context())
	if err != nil {
		logger.Errorf("provisioning error: %v", err)
		if errors.Is(err, identity.ErrProvisioningExhausted) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not provision identity, retry"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not provision identity"})
		}
		return nil, err
	}
	metrics.IdentitiesProvisioned.Inc()
	tok, err := tokens.IssueAnonymousToken(h.cfg, rec.PublicID)
	if err != nil {
		logger.Errorf("failed to sign anonymous token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue anonymous token"})
		return nil, err
	}
	c.SetCookie(anonCookieName, tok, int(h.cfg.Token.AnonymousTTL.Seconds()), "/", "", false, true)
	return rec, nil
}

// evidence gathers everything the request asserts about who it is. A verified
// session contributes claims only once its external identity has been merged;
// before that the anonymous cookie is the authoritative evidence.
func (h *IdentityHandler) evidence(c *gin.Context) identity.Evidence {
	ev := identity.Evidence{AnonymousPublicID: h.anonymousPublicID(c)}
	if tok := bearerToken(c); tok != "" {
		sess, err := h.sessionsSvc.Validate(c.Request.Context(), tok)
		if err == nil && sess != nil && sess.Claims.ExternalID != "" && sess.Claims.Linked {
			ev.Claims = &identity.VerifiedClaims{
				ExternalID:  sess.Claims.ExternalID,
				Email:       sess.Claims.Email,
				ProfileName: sess.Claims.DisplayName,
				AvatarImage: sess.Claims.AvatarImage,
				Linked:      true,
			}
		}
	}
	return ev
}

// anonymousPublicID recovers the publicId from the anonymous cookie. An
// invalid, expired or foreign token is treated as absent, never as an error.
func (h *IdentityHandler) anonymousPublicID(c *gin.Context) string {
	raw, err := c.Cookie(anonCookieName)
	if err != nil || raw == "" {
		return ""
	}
	pid, err := tokens.PublicIDFromToken(h.cfg, raw)
	if err != nil {
		logger.Debugf("ignoring unusable anonymous token: %v", err)
		return ""
	}
	return pid
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		return ""
	}
	var tok string
	if n, _ := fmt.Sscanf(auth, "Bearer %s", &tok); n == 1 {
		return tok
	}
	return ""
}

// parseExpFromJWT decodes the JWT payload and returns the `exp` claim as time.Time.
// This performs payload-only parsing (no signature verification) and is suitable
// for computing remaining TTLs for blacklisting purposes.
func parseExpFromJWT(tok string) (time.Time, error) {
	parts := strings.Split(tok, ".")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("invalid token")
	}
	payload := parts[1]
	b, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		// try standard base64 (pad) as a fallback
		b, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return time.Time{}, err
		}
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(b, &claims); err != nil {
		return time.Time{}, err
	}
	v, ok := claims["exp"]
	if !ok {
		return time.Time{}, fmt.Errorf("exp claim not present")
	}
	switch vv := v.(type) {
	case float64:
		return time.Unix(int64(vv), 0), nil
	case int64:
		return time.Unix(vv, 0), nil
	case json.Number:
		i64, err := vv.Int64()
		if err != nil {
			f, err2 := vv.Float64()
			if err2 != nil {
				return time.Time{}, err
			}
			return time.Unix(int64(f), 0), nil
		}
		return time.Unix(i64, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported exp type %T", v)
	}
}
