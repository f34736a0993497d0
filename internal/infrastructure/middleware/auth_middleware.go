package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"streamrelay/pkg/errors"

	"github.com/gin-gonic/gin"
)

// BearerToken returns the token from an "Authorization: Bearer <token>" header, or "".
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// TokenMatches compares in constant time.
func TokenMatches(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// TokenAuthMiddleware rejects requests that do not carry the shared bearer token.
func TokenAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			_ = c.Error(errors.NewUnauthorizedError("authorization header required"))
			c.Abort()
			return
		}
		if !TokenMatches(BearerToken(c.Request), token) {
			_ = c.Error(errors.NewUnauthorizedError("invalid token"))
			c.Abort()
			return
		}
		c.Next()
	}
}
