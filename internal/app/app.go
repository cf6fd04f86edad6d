// Package app wires configuration, stores and services for the binaries.
package app

import (
	"context" // Redis ping
	"fmt"     // Error wrapping
	"time"    // Cache TTL

	"dairy_delivery/internal/batch"        // Dispatcher and worker
	"dairy_delivery/internal/config"       // Configuration
	"dairy_delivery/internal/db"           // Database connection
	"dairy_delivery/internal/lock"         // Advisory lock
	"dairy_delivery/internal/notify"       // Notification dispatcher
	"dairy_delivery/internal/proof"        // Verification service
	"dairy_delivery/internal/queue"        // Delivery queue
	"dairy_delivery/internal/rewards"      // Reward hook
	"dairy_delivery/internal/store"        // Unit of work
	"dairy_delivery/internal/subscription" // Eligibility resolver
	"dairy_delivery/internal/utils"        // Cache
	"dairy_delivery/internal/wallet"       // Wallet service

	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logrus for structured logging
	"gorm.io/gorm"                 // GORM ORM library
)

// App holds every long-lived dependency of a process
type App struct {
	Config     *config.Config        // Loaded configuration
	DB         *gorm.DB              // Relational store
	Redis      *redis.Client         // Redis client
	Cache      *utils.Cache          // Read cache
	Wallet     *wallet.Service       // Wallet service
	Proof      *proof.Service        // Field actions
	Queue      *queue.RedisQueue     // Delivery queue
	Worker     *batch.Worker         // Job processor
	Dispatcher *batch.Dispatcher     // Batch fan-out
	Locker     *lock.RedisLocker     // Advisory lock
	Notifier   *notify.RedisNotifier // Notification publisher
}

// SetupLogger applies the formatter and level from configuration
func SetupLogger(cfg *config.Config) {
	if cfg.IsProd {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// New connects to MySQL and Redis and builds the service graph
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	gdb, err := db.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to DB: %w", err)
	}

	// Setup Redis client
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr, // Redis server address
		Password: cfg.RedisPass, // Redis password
		DB:       cfg.RedisDB,   // Redis database number
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	st := store.New(gdb)
	cache := utils.NewCache(rdb, 60*time.Second)
	notifier := notify.NewRedisNotifier(rdb, cfg.NotifyChannel)
	ws := wallet.NewService(st, cache, notifier, wallet.Options{
		Currency:            cfg.Currency,
		LowBalanceThreshold: cfg.LowBalanceThreshold,
	})
	hook := rewards.NewHook(ws, notifier, rewards.Options{
		ReferralBonus: cfg.ReferralBonus,
		StreakBonus:   cfg.StreakBonus,
		StreakTarget:  cfg.StreakTarget,
	})
	q := queue.NewRedisQueue(rdb, queue.Options{
		Name:        cfg.QueueName,
		MaxAttempts: cfg.QueueMaxAttempts,
		BaseBackoff: cfg.QueueBaseBackoff,
		MaxBackoff:  cfg.QueueMaxBackoff,
	})
	worker := batch.NewWorker(st, ws, notifier)
	return &App{
		Config:     cfg,
		DB:         gdb,
		Redis:      rdb,
		Cache:      cache,
		Wallet:     ws,
		Proof:      proof.NewService(st, ws, hook, notifier),
		Queue:      q,
		Worker:     worker,
		Dispatcher: batch.NewDispatcher(subscription.NewResolver(st), q, worker),
		Locker:     lock.NewRedisLocker(rdb),
		Notifier:   notifier,
	}, nil
}

// Close releases connections
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		logrus.WithError(err).Warn("Closing Redis failed")
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
