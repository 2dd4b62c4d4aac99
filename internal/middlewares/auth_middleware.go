package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"formapi/internal/services"
	"formapi/internal/utils"
)

const (
	UserIDKey        = "userId"
	tokenHeader      = "x-jwt-token"
	bearerAuthPrefix = "Bearer"
)

// ParseToken reads a bearer or x-jwt-token header when present. Requests
// without a token continue anonymously; a bad token is rejected.
func ParseToken(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := tokenFrom(c)
		if !ok {
			c.Next()
			return
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid Authorization format"})
			return
		}

		claims, err := utils.VerifyJWT(tokenStr, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		}

		c.Set(UserIDKey, claims.Subject)
		if scope := services.ScopeFrom(c.Request.Context()); scope != nil {
			scope.SetUserID(claims.Subject)
		}

		c.Next()
	}
}

// Authenticate requires a user established by ParseToken.
func Authenticate(c *gin.Context) {
	if c.GetString(UserIDKey) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Missing Authorization header"})
		return
	}
	c.Next()
}

func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// tokenFrom reports whether a token header was sent, and its value. An
// Authorization header in the wrong format yields ok with an empty token.
func tokenFrom(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != bearerAuthPrefix {
			return "", true
		}
		return parts[1], true
	}
	if token := c.GetHeader(tokenHeader); token != "" {
		return token, true
	}
	return "", false
}
