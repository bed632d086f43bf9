package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const callerContextKey = "CallerID"

// CallerClaims represents JWT claims for authenticated API callers. Tokens
// are minted out-of-band with the shared secret; the gateway only validates.
type CallerClaims struct {
	CallerID string `json:"uid"`
	jwt.RegisteredClaims
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &CallerClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*CallerClaims); ok && token.Valid {
		if claims.CallerID != "" {
			return claims.CallerID, nil
		}
		return claims.Subject, nil
	}
	return "", errors.New("invalid token claims")
}

// AuthMiddleware enforces JWT auth for protected routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": "invalid Authorization header",
			})
			return
		}

		callerID, err := parseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(callerContextKey, callerID)
		c.Next()
	}
}

// CurrentCallerID returns the authenticated caller ID from context.
func CurrentCallerID(c *gin.Context) string {
	if v, ok := c.Get(callerContextKey); ok {
		if id, okCast := v.(string); okCast {
			return id
		}
	}
	return ""
}
