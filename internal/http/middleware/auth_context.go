package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/campusops/edugate/internal/platform/envutil"
	"github.com/campusops/edugate/internal/platform/logger"
)

const (
	// UserIDKey is where AuthContext leaves the caller's id in the gin
	// context, when a usable token is present.
	UserIDKey = "auth_user_id"
	// ClaimsKey holds the full claim set.
	ClaimsKey = "auth_claims"
)

// AuthContext captures the caller's identity from the bearer token.
// When JWT_SECRET is set the signature is verified and bad tokens are
// logged; either way the request proceeds, since verification belongs
// to the downstream services.
func AuthContext(log *logger.Logger) gin.HandlerFunc {
	secret := envutil.Str("JWT_SECRET", "")
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.Next()
			return
		}
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.Next()
			return
		}
		raw := strings.TrimSpace(parts[1])

		claims := jwt.MapClaims{}
		if secret != "" {
			_, err := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})).
				Parse(raw, func(*jwt.Token) (interface{}, error) { return []byte(secret), nil })
			if err != nil {
				log.Debug("Bearer token failed verification", "error", err)
				c.Next()
				return
			}
		}
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			c.Next()
			return
		}

		for _, field := range []string{"sub", "userId", "id"} {
			if v, ok := claims[field].(string); ok && v != "" {
				c.Set(UserIDKey, v)
				break
			}
		}
		c.Set(ClaimsKey, map[string]any(claims))
		c.Next()
	}
}
