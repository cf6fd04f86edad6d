package api

import (
	"net/http" // HTTP status codes
	"time"     // Default route date

	"dairy_delivery/internal/domain" // Date helpers
	"dairy_delivery/internal/proof"  // Verification service

	"github.com/gin-gonic/gin" // Gin web framework
)

// StartRouteRequest picks the day to start; today (UTC) when empty
type StartRouteRequest struct {
	Date string `json:"date"` // YYYY-MM-DD
}

// VerifyProofRequest carries a scanned or typed proof code
type VerifyProofRequest struct {
	Code string `json:"code" binding:"required"` // Proof code
}

// ExceptionRequest explains a missed delivery
type ExceptionRequest struct {
	Reason string `json:"reason" binding:"required,max=255"` // Why the delivery failed
}

// BatchRequest is a list of field actions replayed by a device
type BatchRequest struct {
	Actions []proof.Action `json:"actions" binding:"required,min=1,max=500"` // Actions in device order
}

// StartRouteHandler moves the staff member's pending deliveries out for delivery
func StartRouteHandler(ps *proof.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		staff, ok := currentUser(c)
		if !ok {
			return
		}
		var req StartRouteRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "invalid body")
				return
			}
		}
		if req.Date == "" {
			req.Date = domain.FormatDate(time.Now().UTC())
		}
		if _, err := domain.ParseDate(req.Date); err != nil {
			badRequest(c, "date must be YYYY-MM-DD")
			return
		}
		res, err := ps.StartRoute(c.Request.Context(), staff.ID, staff.Locality, req.Date)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// VerifyProofHandler redeems a proof code. A replay answers 200 with ALREADY_SCANNED.
func VerifyProofHandler(ps *proof.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		staff, ok := currentUser(c)
		if !ok {
			return
		}
		var req VerifyProofRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "code is required")
			return
		}
		res, err := ps.VerifyProof(c.Request.Context(), req.Code, staff.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// ReportExceptionHandler marks a delivery missed and refunds it. A replay answers 200 with ALREADY_REFUNDED.
func ReportExceptionHandler(ps *proof.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		staff, ok := currentUser(c)
		if !ok {
			return
		}
		deliveryID, ok := uintParam(c, "id")
		if !ok {
			return
		}
		var req ExceptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "reason is required")
			return
		}
		res, err := ps.ReportException(c.Request.Context(), deliveryID, req.Reason, staff.ID, staff.Locality)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// BatchActionsHandler applies queued offline actions in order and reports each outcome
func BatchActionsHandler(ps *proof.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		staff, ok := currentUser(c)
		if !ok {
			return
		}
		var req BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "actions must hold between 1 and 500 items")
			return
		}
		results := ps.ApplyBatch(c.Request.Context(), staff.ID, staff.Locality, req.Actions)
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}
