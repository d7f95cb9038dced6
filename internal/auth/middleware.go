package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const callerContextKey = "auth_caller"

// Middleware validates bearer tokens and stores the caller name in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		name, err := s.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(callerContextKey, name)
		c.Next()
	}
}

// CallerFromContext retrieves the authenticated caller name.
func CallerFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(callerContextKey)
	if !ok {
		return "", false
	}
	name, ok := val.(string)
	return name, ok
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
