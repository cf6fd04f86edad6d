package api

import (
	"net/http" // HTTP status codes
	"strconv"  // String conversion

	"dairy_delivery/internal/domain"     // Domain models
	"dairy_delivery/internal/middleware" // Context keys

	"github.com/gin-gonic/gin" // Gin web framework
)

// pagination reads page and page_size, defaulting to 1 and 20 and capping size at 100
func pagination(c *gin.Context) (page, pageSize int) {
	page = 1      // Default page number
	pageSize = 20 // Default page size
	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v // Set page if valid
		}
	}
	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v // Set page size if valid
		}
	}
	return page, pageSize
}

// currentUserID returns the authenticated user ID or writes 401
func currentUserID(c *gin.Context) (uint, bool) {
	v, exists := c.Get(middleware.ContextUserID)
	id, ok := v.(uint)
	if !exists || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "unauthorized"})
		return 0, false
	}
	return id, true
}

// currentUser returns the user loaded by RequireRole or writes 401
func currentUser(c *gin.Context) (domain.User, bool) {
	v, exists := c.Get(middleware.ContextUser)
	u, ok := v.(domain.User)
	if !exists || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "unauthorized"})
		return domain.User{}, false
	}
	return u, true
}

// uintParam parses a positive path parameter
func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(v), true
}
