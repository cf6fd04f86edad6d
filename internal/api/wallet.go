package api

import (
	"net/http" // HTTP status codes

	"dairy_delivery/internal/wallet" // Wallet service

	"github.com/gin-gonic/gin" // Gin web framework
)

// TopUpRequest is a customer prepayment. Reference is generated by the client
// and makes retries safe.
type TopUpRequest struct {
	Amount    int64  `json:"amount" binding:"required,gt=0"`           // Minor units
	Reference string `json:"reference" binding:"required,min=1,max=64"` // Client idempotency key
}

// CreateWalletHandler creates the authenticated user's wallet (one wallet per user)
func CreateWalletHandler(ws *wallet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		w, created, err := ws.CreateWallet(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		if !created {
			c.JSON(http.StatusOK, gin.H{"message": "Wallet already exists", "wallet": w})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "Wallet created", "wallet": w})
	}
}

// GetWalletHandler returns wallet info for the authenticated user
func GetWalletHandler(ws *wallet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		w, cached, err := ws.Get(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"wallet": w, "cached": cached})
	}
}

// GetLedgerHandler returns the authenticated user's ledger, newest first
func GetLedgerHandler(ws *wallet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		page, pageSize := pagination(c)
		hp, cached, err := ws.History(c.Request.Context(), userID, page, pageSize)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"entries":     hp.Entries,    // Ledger entries
			"page":        hp.Page,       // Current page
			"page_size":   hp.PageSize,   // Page size
			"total":       hp.Total,      // Total entries
			"total_pages": hp.TotalPages, // Total pages
			"cached":      cached,        // Served from cache
		})
	}
}

// TopUpHandler credits a prepayment; replaying a reference returns 200 with the original entry
func TopUpHandler(ws *wallet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}
		var req TopUpRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "amount and reference are required")
			return
		}
		entry, created, err := ws.TopUp(c.Request.Context(), userID, req.Amount, req.Reference)
		if err != nil {
			respondError(c, err)
			return
		}
		status := http.StatusCreated
		if !created {
			status = http.StatusOK
		}
		c.JSON(status, gin.H{"entry": entry, "replayed": !created})
	}
}
