package middleware

import (
	"net/http" // HTTP status codes
	"slices"   // Role lookup

	"dairy_delivery/internal/domain" // Importing domain models

	"github.com/gin-gonic/gin" // Gin web framework
	"gorm.io/gorm"             // GORM ORM library
)

// ContextUser is the gin context key holding the loaded domain.User
const ContextUser = "user"

// RequireRole loads the authenticated user from the database on each request
// and rejects roles not listed. The role in the token is never trusted.
func RequireRole(db *gorm.DB, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get(ContextUserID) // Set by JWTAuthMiddleware
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "unauthorized"})
			return
		}
		var user domain.User
		if err := db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": domain.ErrAccessDenied.Code, "message": "unknown user"})
			return
		}
		if !slices.Contains(roles, user.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": domain.ErrAccessDenied.Code, "message": "role " + user.Role + " may not call this endpoint"})
			return
		}
		c.Set(ContextUser, user) // Loaded user, including locality
		c.Next()
	}
}
