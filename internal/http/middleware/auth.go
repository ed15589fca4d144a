package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/authcore/internal/service"
	"github.com/smallbiznis/authcore/internal/token"
)

const claimsKey = "accessClaims"

// Auth validates the Authorization header and attaches claims.
type Auth struct {
	AuthService *service.AuthService
}

// ValidateJWT ensures the request carries a valid bearer access token. Every
// rejection looks the same to the client; the concrete failure is available
// server-side only.
func (m *Auth) ValidateJWT(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}

	claims, err := m.AuthService.VerifyAccess(c.Request.Context(), parts[1])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}
	c.Set(claimsKey, claims)
	c.Next()
}

// GetClaims exposes the verified access-token claims to handlers.
func GetClaims(c *gin.Context) (token.Claims, bool) {
	value, ok := c.Get(claimsKey)
	if !ok {
		return token.Claims{}, false
	}
	claims, ok := value.(token.Claims)
	return claims, ok
}
