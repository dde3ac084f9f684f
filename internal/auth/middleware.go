package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyAPIKey is the key for storing the validated API key in gin context.
	ContextKeyAPIKey = "apiKey"
	// ContextKeyAccountID is the key for the authenticated account id.
	ContextKeyAccountID = "authAccountID"
	// ContextKeyRole is the key for the authenticated account role.
	ContextKeyRole = "authRole"
)

// Middleware extracts and validates the API key from the request. Sets the
// account identity in context when valid; never rejects on its own.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}

		if apiKey != "" {
			key, err := m.ValidateKey(c.Request.Context(), apiKey)
			if err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyAccountID, key.AccountID)
				c.Set(ContextKeyRole, key.Role)
			}
		}

		c.Next()
	}
}

// RequireAuth rejects requests without a valid API key.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer vk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests from non-admin accounts.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}
		if AccountRole(c) != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin role required.",
			})
			return
		}
		c.Next()
	}
}

// AccountID returns the authenticated account id, or "" if unauthenticated.
func AccountID(c *gin.Context) string {
	id, exists := c.Get(ContextKeyAccountID)
	if !exists {
		return ""
	}
	return id.(string)
}

// AccountRole returns the authenticated account role, or "" if unauthenticated.
func AccountRole(c *gin.Context) Role {
	r, exists := c.Get(ContextKeyRole)
	if !exists {
		return ""
	}
	return r.(Role)
}

// IsAuthenticated checks if the request carries a valid API key.
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyAPIKey)
	return exists
}
