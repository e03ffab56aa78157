package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/AnTengye/escrowdash/config"
	"github.com/AnTengye/escrowdash/model"
	"github.com/AnTengye/escrowdash/pkg/logger"
)

// SessionSource is the process-wide wallet session.
type SessionSource interface {
	Current() model.Session
	Authorize(required model.Role) error
}

// Claims binds a token to the wallet address it was issued for.
type Claims struct {
	Address       string     `json:"address"`
	Role          model.Role `json:"role,omitempty"`
	Authenticated bool       `json:"authenticated"`
	jwt.RegisteredClaims
}

// GenerateToken issues a token for a connected session.
func GenerateToken(s model.Session, cfg *config.AuthConfig) (string, time.Time, error) {
	expiresAt := time.Now().Add(time.Duration(cfg.TokenExpireHours) * time.Hour)

	claims := Claims{
		Address:       s.Address,
		Role:          s.Role,
		Authenticated: s.Authenticated,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.Address,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// SessionAuth validates the bearer token and requires it to belong to the
// currently connected address. Tokens from a previous connection stop
// working once the wallet disconnects or switches.
func SessionAuth(cfg *config.AuthConfig, sessions SessionSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		current := sessions.Current()
		if current.Address == "" || current.Address != claims.Address {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session is no longer connected"})
			return
		}

		c.Set("address", current.Address)
		c.Set("role", current.Role)
		c.Request = c.Request.WithContext(logger.WithAddress(c.Request.Context(), current.Address))

		c.Next()
	}
}

// RequireRole rejects requests whose session lacks role with 403.
func RequireRole(sessions SessionSource, role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := sessions.Authorize(role); err != nil {
			var authErr *model.AuthorizationError
			if errors.As(err, &authErr) {
				logger.Warn(c.Request.Context(), "authorization denied", "required", role, "actual", authErr.Actual)
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// GetAddress gets the connected address from context
func GetAddress(c *gin.Context) string {
	if address, exists := c.Get("address"); exists {
		return address.(string)
	}
	return ""
}

func GetRole(c *gin.Context) model.Role {
	if role, exists := c.Get("role"); exists {
		return role.(model.Role)
	}
	return model.RoleNone
}
