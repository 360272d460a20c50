package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type contextKey string

const ownerIDKey contextKey = "ownerID"

// Settings selects the accepted credentials. With neither a JWT secret nor an
// API key configured, the X-Owner-ID header is trusted as is (local development).
type Settings struct {
	JWTSecret   string
	JWTAudience string
	APIKey      string
}

// Enabled reports whether any credential check is configured.
func (s Settings) Enabled() bool {
	return strings.TrimSpace(s.JWTSecret) != "" || strings.TrimSpace(s.APIKey) != ""
}

// OwnerID retrieves the authenticated owner from context.
func OwnerID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(ownerIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// WithOwnerID returns a context carrying ownerID.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// OwnerMiddleware resolves the caller's owner identity and stores it in the
// request context. Accepted credentials, in order:
//   - Authorization: Bearer <jwt> (or ?access_token= for WebSocket upgrades); subject is the owner
//   - X-API-Key plus X-Owner-ID from a trusted gateway
func OwnerMiddleware(s Settings) gin.HandlerFunc {
	secret := strings.TrimSpace(s.JWTSecret)
	audience := strings.TrimSpace(s.JWTAudience)
	apiKey := strings.TrimSpace(s.APIKey)

	return func(c *gin.Context) {
		owner, status, msg := resolveOwner(c, secret, audience, apiKey)
		if owner == "" {
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		c.Request = c.Request.WithContext(WithOwnerID(c.Request.Context(), owner))
		c.Set(string(ownerIDKey), owner)
		c.Next()
	}
}

func resolveOwner(c *gin.Context, secret, audience, apiKey string) (string, int, string) {
	token := ""
	if header := c.GetHeader("Authorization"); header != "" {
		t, err := extractBearerToken(header)
		if err != nil {
			return "", http.StatusUnauthorized, err.Error()
		}
		token = t
	} else if q := c.Query("access_token"); q != "" {
		token = q
	}

	switch {
	case token != "" && secret != "":
		owner, err := ownerFromToken(token, secret, audience)
		if err != nil {
			return "", http.StatusUnauthorized, err.Error()
		}
		return owner, 0, ""

	case c.GetHeader(apiKeyHeader) != "" && apiKey != "":
		owner, err := ownerFromAPIKey(c, apiKey)
		if errors.Is(err, errInvalidAPIKey) {
			return "", http.StatusForbidden, err.Error()
		}
		if err != nil {
			return "", http.StatusBadRequest, err.Error()
		}
		return owner, 0, ""

	case secret == "" && apiKey == "":
		owner, err := ownerHeader(c)
		if err != nil {
			return "", http.StatusUnauthorized, err.Error()
		}
		return owner, 0, ""
	}

	return "", http.StatusUnauthorized, "missing credentials"
}
