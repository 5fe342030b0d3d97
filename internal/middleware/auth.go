package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in token claims.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

const (
	identityKey = "identity"
	usernameKey = "username"
	roleKey     = "role"
)

// AuthMiddleware validates the HS256 bearer token and stores the caller's
// identity, username and role in the context. The subject claim is the
// opaque identity used for per-user redemption limits.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims,
			func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		sub, _ := claims.GetSubject()
		if sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no subject"})
			return
		}
		c.Set(identityKey, sub)
		if username, ok := claims[usernameKey].(string); ok {
			c.Set(usernameKey, username)
		}
		if role, ok := claims[roleKey].(string); ok {
			c.Set(roleKey, role)
		}
		c.Next()
	}
}

// RequireRole aborts with 403 unless the authenticated caller has the role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(roleKey) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// GetIdentity returns the authenticated caller's identity.
func GetIdentity(c *gin.Context) (string, bool) {
	id := c.GetString(identityKey)
	return id, id != ""
}

// GetUsername returns the authenticated caller's display name, if any.
func GetUsername(c *gin.Context) string {
	return c.GetString(usernameKey)
}
