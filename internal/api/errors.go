package api

import (
	"net/http" // HTTP status codes

	"dairy_delivery/internal/domain" // Domain error codes

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// statusByCode maps stable domain error codes to HTTP statuses
var statusByCode = map[string]int{
	domain.ErrInsufficientFunds.Code:  http.StatusPaymentRequired,
	domain.ErrWalletNotFound.Code:     http.StatusNotFound,
	domain.ErrInvalidAmount.Code:      http.StatusBadRequest,
	domain.ErrInvalidTransition.Code:  http.StatusConflict,
	domain.ErrInvalidCode.Code:        http.StatusNotFound,
	domain.ErrCouponVoid.Code:         http.StatusGone,
	domain.ErrAccessDenied.Code:       http.StatusForbidden,
	domain.ErrNotFound.Code:           http.StatusNotFound,
	domain.ErrDuplicateReference.Code: http.StatusConflict,
}

// respondError writes {"error": code, "message": msg}. Internal failures are
// logged and reported without detail.
func respondError(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	status, known := statusByCode[code]
	if !known {
		logrus.WithFields(logrus.Fields{
			"method": c.Request.Method, // HTTP method
			"path":   c.FullPath(),     // Route
			"error":  err.Error(),      // Error message
		}).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": domain.CodeInternal, "message": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// badRequest reports a malformed request body or parameter
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": msg})
}
