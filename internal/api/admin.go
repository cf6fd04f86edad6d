package api

import (
	"errors"   // Error inspection
	"net/http" // HTTP status codes
	"strings"  // Cache key building
	"time"     // Lock TTL

	"dairy_delivery/internal/batch"  // Dispatcher and worker
	"dairy_delivery/internal/domain" // Importing domain models
	"dairy_delivery/internal/lock"   // Advisory lock
	"dairy_delivery/internal/utils"  // Cache
	"dairy_delivery/internal/wallet" // Wallet service

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// GenerateRequest triggers a batch for one locality and day
type GenerateRequest struct {
	Date     string `json:"date" binding:"required"`     // YYYY-MM-DD
	Locality string `json:"locality" binding:"required"` // Locality to dispatch
}

// FulfillRequest creates one delivery on demand
type FulfillRequest struct {
	SubscriptionID uint   `json:"subscription_id" binding:"required"` // Subscription to fulfil
	Date           string `json:"date" binding:"required"`            // YYYY-MM-DD
}

// GenerateDeliveriesHandler dispatches a batch under the advisory lock. A run
// already in progress for the same day and locality answers 409.
func GenerateDeliveriesHandler(d *batch.Dispatcher, locker lock.Locker, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GenerateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "date and locality are required")
			return
		}
		if _, err := domain.ParseDate(req.Date); err != nil {
			badRequest(c, "date must be YYYY-MM-DD")
			return
		}
		ctx := c.Request.Context()
		key := lock.GenerateKey(req.Date, req.Locality)
		acquired, err := locker.Acquire(ctx, key, ttl)
		if err != nil {
			respondError(c, err)
			return
		}
		if !acquired {
			logrus.WithFields(logrus.Fields{
				"date":     req.Date,     // Delivery day
				"locality": req.Locality, // Locality
			}).Warn("Batch generation already in progress")
			c.JSON(http.StatusConflict, gin.H{"error": "BATCH_IN_PROGRESS", "message": "a batch for this date and locality is already running"})
			return
		}
		defer func() {
			if err := locker.Release(ctx, key); err != nil {
				logrus.WithField("error", err.Error()).Warn("Releasing batch lock failed")
			}
		}()
		sum, err := d.GenerateDeliveriesForDate(ctx, req.Date, req.Locality)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, sum)
	}
}

// FulfillHandler runs one delivery job inline, the manual twin of a queued job
func FulfillHandler(db *gorm.DB, w *batch.Worker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req FulfillRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "subscription_id and date are required")
			return
		}
		if _, err := domain.ParseDate(req.Date); err != nil {
			badRequest(c, "date must be YYYY-MM-DD")
			return
		}
		ctx := c.Request.Context()
		var sub domain.Subscription
		if err := db.WithContext(ctx).Preload("Product").First(&sub, req.SubscriptionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				respondError(c, domain.ErrNotFound)
				return
			}
			respondError(c, err)
			return
		}
		if sub.Status != domain.SubscriptionActive {
			c.JSON(http.StatusConflict, gin.H{"error": "SUBSCRIPTION_INACTIVE", "message": "subscription is " + sub.Status})
			return
		}
		res, err := w.Process(ctx, batch.JobFromSubscription(sub, req.Date))
		if err != nil {
			respondError(c, err)
			return
		}
		status := http.StatusOK
		if res.Outcome == batch.OutcomeCreated {
			status = http.StatusCreated
		}
		c.JSON(status, res)
	}
}

// ListDeliveriesHandler returns deliveries filtered by date, locality, status or user
func ListDeliveriesHandler(db *gorm.DB, cache *utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		cacheKey := "admin:deliveries:" + queryKey(c, "date", "locality", "status", "user_id", "page", "page_size")
		var cached struct {
			Deliveries []domain.DailyDelivery `json:"deliveries"`  // List of deliveries
			Page       int                    `json:"page"`        // Current page
			PageSize   int                    `json:"page_size"`   // Page size
			Total      int64                  `json:"total"`       // Total deliveries
			TotalPages int                    `json:"total_pages"` // Total pages
		}
		if found, err := cache.Get(ctx, cacheKey, &cached); err == nil && found {
			c.JSON(http.StatusOK, gin.H{
				"deliveries":  cached.Deliveries, // List of deliveries
				"page":        cached.Page,       // Current page
				"page_size":   cached.PageSize,   // Page size
				"total":       cached.Total,      // Total deliveries
				"total_pages": cached.TotalPages, // Total pages
				"cached":      true,              // Indicate response is from cache
			})
			return
		}
		page, pageSize := pagination(c)
		query := db.WithContext(ctx).Model(&domain.DailyDelivery{})
		if v := c.Query("date"); v != "" {
			query = query.Where("date = ?", v) // Filter by day
		}
		if v := c.Query("locality"); v != "" {
			query = query.Where("locality = ?", v) // Filter by locality
		}
		if v := c.Query("status"); v != "" {
			query = query.Where("status = ?", strings.ToUpper(v)) // Filter by status
		}
		if v := c.Query("user_id"); v != "" {
			query = query.Where("user_id = ?", v) // Filter by subscriber
		}
		var total int64
		if err := query.Count(&total).Error; err != nil {
			respondError(c, err)
			return
		}
		deliveries := []domain.DailyDelivery{}
		if err := query.Order("date desc, id").Offset((page - 1) * pageSize).Limit(pageSize).Find(&deliveries).Error; err != nil {
			respondError(c, err)
			return
		}
		resp := gin.H{
			"deliveries":  deliveries,                             // List of deliveries
			"page":        page,                                   // Current page
			"page_size":   pageSize,                               // Page size
			"total":       total,                                  // Total deliveries
			"total_pages": (int(total) + pageSize - 1) / pageSize, // Total pages
			"cached":      false,                                  // Indicate response is not from cache
		}
		_ = cache.Set(ctx, cacheKey, resp)
		c.JSON(http.StatusOK, resp)
	}
}

// ListLedgerHandler returns ledger entries filtered by owner, type, reference or creation time
func ListLedgerHandler(db *gorm.DB, cache *utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		cacheKey := "admin:ledger:" + queryKey(c, "owner_id", "type", "reference_id", "from", "to", "page", "page_size")
		var cached struct {
			Entries    []domain.LedgerEntry `json:"entries"`     // List of entries
			Page       int                  `json:"page"`        // Current page
			PageSize   int                  `json:"page_size"`   // Page size
			Total      int64                `json:"total"`       // Total entries
			TotalPages int                  `json:"total_pages"` // Total pages
		}
		if found, err := cache.Get(ctx, cacheKey, &cached); err == nil && found {
			c.JSON(http.StatusOK, gin.H{
				"entries":     cached.Entries,    // List of entries
				"page":        cached.Page,       // Current page
				"page_size":   cached.PageSize,   // Page size
				"total":       cached.Total,      // Total entries
				"total_pages": cached.TotalPages, // Total pages
				"cached":      true,              // Indicate response is from cache
			})
			return
		}
		page, pageSize := pagination(c)
		query := db.WithContext(ctx).Model(&domain.LedgerEntry{})
		if v := c.Query("owner_id"); v != "" {
			query = query.Where("wallet_id IN (?)", db.Model(&domain.Wallet{}).Select("id").Where("owner_id = ?", v)) // Filter by owner
		}
		if v := c.Query("type"); v != "" {
			query = query.Where("type = ?", strings.ToUpper(v)) // Filter by entry type
		}
		if v := c.Query("reference_id"); v != "" {
			query = query.Where("reference_id = ?", v) // Exact reference lookup
		}
		if v := c.Query("from"); v != "" {
			query = query.Where("created_at >= ?", v) // Filter by start date
		}
		if v := c.Query("to"); v != "" {
			query = query.Where("created_at <= ?", v) // Filter by end date
		}
		var total int64
		if err := query.Count(&total).Error; err != nil {
			respondError(c, err)
			return
		}
		entries := []domain.LedgerEntry{}
		if err := query.Order("id desc").Offset((page - 1) * pageSize).Limit(pageSize).Find(&entries).Error; err != nil {
			respondError(c, err)
			return
		}
		resp := gin.H{
			"entries":     entries,                                // List of entries
			"page":        page,                                   // Current page
			"page_size":   pageSize,                               // Page size
			"total":       total,                                  // Total entries
			"total_pages": (int(total) + pageSize - 1) / pageSize, // Total pages
			"cached":      false,                                  // Indicate response is not from cache
		}
		_ = cache.Set(ctx, cacheKey, resp)
		c.JSON(http.StatusOK, resp)
	}
}

// ReconcileHandler audits one wallet's balance against its ledger
func ReconcileHandler(ws *wallet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := uintParam(c, "owner_id")
		if !ok {
			return
		}
		rec, err := ws.Reconcile(c.Request.Context(), ownerID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// queryKey joins the named query parameters into a cache key suffix
func queryKey(c *gin.Context, names ...string) string {
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, k+"="+c.DefaultQuery(k, ""))
	}
	return strings.Join(parts, ":")
}
