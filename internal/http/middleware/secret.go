package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const secretParam = "secret"

// RequireSecret rejects requests that do not present secret in one of the
// given headers, the "secret" query parameter or the :secret path segment.
// An empty secret rejects everything.
func RequireSecret(secret string, headers ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" || !matchesSecret(c, secret, headers) {
			slog.WarnContext(c.Request.Context(), "rejected request with missing or invalid secret",
				"path", redactedPath(c))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// OptionalSecret behaves like RequireSecret when secret is set and lets every
// request through when it is empty. Kommo webhooks are often configured
// without a secret during setup.
func OptionalSecret(secret string, headers ...string) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) { c.Next() }
	}
	return RequireSecret(secret, headers...)
}

func matchesSecret(c *gin.Context, secret string, headers []string) bool {
	candidates := make([]string, 0, len(headers)+2)
	for _, h := range headers {
		candidates = append(candidates, c.GetHeader(h))
	}
	candidates = append(candidates, c.Query(secretParam), c.Param(secretParam))

	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) == 1 {
			return true
		}
	}
	return false
}
