package auth

import (
	"fmt"
	"strings"
	"time"

	"teamspace/metrics"
	"teamspace/types"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
)

const userIDKey = "userID"

// Sessions issues and parses signed session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
}

func NewSessions(secret string, ttl time.Duration) *Sessions {
	return &Sessions{secret: []byte(secret), ttl: ttl}
}

func (s *Sessions) Issue(user types.User) (string, error) {
	claims := jwt.MapClaims{
		"userID":    user.ID,
		"userEmail": user.Email,
		"exp":       time.Now().Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Parse validates a token and returns the user id it was issued for.
func (s *Sessions) Parse(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	userID, _ := claims["userID"].(string)
	if userID == "" {
		return "", fmt.Errorf("token has no user")
	}
	return userID, nil
}

// AuthMiddleware requires a valid session token, from the Authorization
// header or, for websocket upgrades, the token query parameter.
func AuthMiddleware(sessions *Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			metrics.AuthErrors.WithLabelValues("missing_token").Inc()
			c.AbortWithStatusJSON(401, gin.H{"error": "Authorization header required"})
			return
		}

		userID, err := sessions.Parse(tokenString)
		if err != nil {
			metrics.AuthErrors.WithLabelValues("invalid_token").Inc()
			c.AbortWithStatusJSON(401, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// CurrentUserID returns the authenticated user id set by AuthMiddleware.
func CurrentUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// SetCurrentUserID is used by tests that bypass the token check.
func SetCurrentUserID(c *gin.Context, userID string) {
	c.Set(userIDKey, userID)
}
