package main

import (
	"context"   // Cancellation
	"os/signal" // Signal handling
	"strconv"   // Consumer ids
	"sync"      // Consumer pool
	"syscall"   // Termination signals
	"time"      // Depth reporting

	"dairy_delivery/internal/app"    // Service wiring
	"dairy_delivery/internal/config" // Configuration

	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// Main runs WORKER_CONCURRENCY queue consumers until SIGINT or SIGTERM
func main() {
	cfg := config.LoadConfig() // Load configuration
	app.SetupLogger(cfg)       // Setup logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logrus.Fatalf("startup failed: %v", err)
	}
	defer a.Close()

	n := cfg.WorkerCount
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		// Stable ids let a restarted worker reclaim its own stranded messages
		consumer := cfg.WorkerID + "-" + strconv.Itoa(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Queue.Run(ctx, consumer, a.Worker.HandleMessage); err != nil {
				logrus.WithFields(logrus.Fields{
					"consumer": consumer,    // Consumer id
					"error":    err.Error(), // Error message
				}).Error("Consumer stopped")
			}
		}()
	}
	logrus.WithFields(logrus.Fields{
		"queue":     cfg.QueueName, // Queue
		"consumers": n,             // Pool size
	}).Info("Worker running")

	go reportDepth(ctx, a)
	wg.Wait()
	logrus.Info("Worker stopped")
}

// reportDepth logs queue depth every minute and warns when jobs are dead-lettered
func reportDepth(ctx context.Context, a *app.App) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ready, delayed, dead, err := a.Queue.Depth(ctx)
		if err != nil {
			continue
		}
		entry := logrus.WithFields(logrus.Fields{
			"ready":   ready,   // Waiting jobs
			"delayed": delayed, // Jobs awaiting retry
			"dead":    dead,    // Dead-lettered jobs
		})
		if dead > 0 {
			entry.Warn("Dead-lettered delivery jobs need operator review")
			continue
		}
		entry.Debug("Queue depth")
	}
}
