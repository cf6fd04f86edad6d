// Package api exposes the HTTP surface: customer wallet endpoints, staff field
// actions and admin operations.
package api

import (
	"context"  // Health check timeout
	"net/http" // HTTP status codes
	"time"     // Durations

	"dairy_delivery/internal/batch"      // Dispatcher and worker
	"dairy_delivery/internal/domain"     // Roles
	"dairy_delivery/internal/lock"       // Advisory lock
	"dairy_delivery/internal/middleware" // Auth middleware
	"dairy_delivery/internal/proof"      // Verification service
	"dairy_delivery/internal/utils"      // Cache
	"dairy_delivery/internal/wallet"     // Wallet service

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"gorm.io/gorm"                 // GORM ORM library
)

// Deps are the services the router dispatches to
type Deps struct {
	DB           *gorm.DB          // Relational store, for admin listings and role checks
	Redis        *redis.Client     // Health checks, may be nil
	Cache        *utils.Cache      // Admin listing cache, may be nil
	Wallet       *wallet.Service   // Wallet service
	Proof        *proof.Service    // Field actions
	Dispatcher   *batch.Dispatcher // Batch generation
	Worker       *batch.Worker     // Manual fulfillment
	Locker       lock.Locker       // Batch advisory lock
	JWTSecret    string            // Token signing secret
	BatchLockTTL time.Duration     // Lock TTL for manual batches
}

// NewRouter builds the gin engine with every route registered
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", HealthHandler(d.DB, d.Redis)) // Liveness and dependencies

	auth := middleware.JWTAuthMiddleware(d.JWTSecret)

	// Wallet routes (any authenticated user)
	walletGroup := r.Group("/wallet")
	walletGroup.Use(auth)
	walletGroup.POST("", CreateWalletHandler(d.Wallet))    // Create wallet endpoint
	walletGroup.GET("", GetWalletHandler(d.Wallet))        // Get wallet endpoint
	walletGroup.GET("/ledger", GetLedgerHandler(d.Wallet)) // Ledger history endpoint
	walletGroup.POST("/topup", TopUpHandler(d.Wallet))     // Prepayment endpoint

	// Staff routes
	staffGroup := r.Group("/staff")
	staffGroup.Use(auth, middleware.RequireRole(d.DB, domain.RoleStaff))
	staffGroup.POST("/route/start", StartRouteHandler(d.Proof))                   // Start route endpoint
	staffGroup.POST("/proofs/verify", VerifyProofHandler(d.Proof))                // Proof scan endpoint
	staffGroup.POST("/deliveries/:id/exception", ReportExceptionHandler(d.Proof)) // Missed delivery endpoint
	staffGroup.POST("/actions/batch", BatchActionsHandler(d.Proof))               // Offline replay endpoint

	// Admin routes
	adminGroup := r.Group("/admin")
	adminGroup.Use(auth, middleware.RequireRole(d.DB, domain.RoleAdmin))
	adminGroup.POST("/deliveries/generate", GenerateDeliveriesHandler(d.Dispatcher, d.Locker, d.BatchLockTTL)) // Batch trigger
	adminGroup.POST("/deliveries/fulfill", FulfillHandler(d.DB, d.Worker))                                     // Single job trigger
	adminGroup.GET("/deliveries", ListDeliveriesHandler(d.DB, d.Cache))                                        // Delivery listing
	adminGroup.GET("/ledger", ListLedgerHandler(d.DB, d.Cache))                                                // Ledger listing
	adminGroup.GET("/wallets/:owner_id/reconcile", ReconcileHandler(d.Wallet))                                 // Balance audit

	return r
}

// HealthHandler pings the database and Redis
func HealthHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		checks := gin.H{"database": "ok", "redis": "skipped"}
		healthy := true
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			checks["database"] = "down"
			healthy = false
		}
		if rdb != nil {
			checks["redis"] = "ok"
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = "down"
				healthy = false
			}
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
	}
}
