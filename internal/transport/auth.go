package transport

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// OperatorClaims identifies the single bearer token that gates the
// command/settings surface and the WebSocket upgrade, per spec.md §6's
// "thin UI, not a multi-user system" framing.
type OperatorClaims struct {
	TokenID string `json:"tid"`
	jwt.RegisteredClaims
}

// MintOperatorToken creates a long-lived bearer token for the one
// operator session, minted once at startup and logged so it can be
// copied into the UI.
func MintOperatorToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		TokenID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseOperatorToken(tokenStr, secret string) error {
	token, err := jwt.ParseWithClaims(tokenStr, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if _, ok := token.Claims.(*OperatorClaims); ok && token.Valid {
		return nil
	}
	return errors.New("invalid token claims")
}

// AuthMiddleware enforces the operator bearer token on protected routes.
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

		if err := parseOperatorToken(parts[1], secret); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Next()
	}
}

// AuthorizeWebSocket validates the bearer token carried as a query
// parameter, since browsers cannot set Authorization headers on the
// WebSocket upgrade request.
func AuthorizeWebSocket(c *gin.Context, secret string) bool {
	token := c.Query("token")
	if token == "" {
		return false
	}
	return parseOperatorToken(token, secret) == nil
}
