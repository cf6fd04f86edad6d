package main

import (
	"context"       // Command context
	"encoding/json" // Output
	"errors"        // Exit status
	"fmt"           // Output
	"os"            // Stdout
	"time"          // Default dates

	"dairy_delivery/internal/app"    // Service wiring
	"dairy_delivery/internal/config" // Configuration
	"dairy_delivery/internal/domain" // Domain models
	"dairy_delivery/internal/lock"   // Advisory lock
	"dairy_delivery/internal/utils"  // JWT issuing

	"github.com/sirupsen/logrus" // Logrus for structured logging
	"github.com/spf13/cobra"     // CLI framework
)

// withApp loads configuration, connects, and runs fn
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg := config.LoadConfig()
	app.SetupLogger(cfg)
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// printJSON writes v indented to stdout
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func generateCmd() *cobra.Command {
	var date, locality string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Dispatch delivery jobs for one locality and day",
		Long: `Resolve the subscriptions eligible on --date in --locality and enqueue one
delivery job for each. Jobs are processed by the worker; rerunning is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = domain.FormatDate(time.Now().UTC().AddDate(0, 0, 1))
			}
			if _, err := domain.ParseDate(date); err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				ctx := cmd.Context()
				key := lock.GenerateKey(date, locality)
				ok, err := a.Locker.Acquire(ctx, key, a.Config.BatchLockTTL)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("a batch for %s in %s is already running", date, locality)
				}
				defer func() {
					if err := a.Locker.Release(ctx, key); err != nil {
						logrus.WithError(err).Warn("Releasing batch lock failed")
					}
				}()
				sum, err := a.Dispatcher.GenerateDeliveriesForDate(ctx, date, locality)
				if err != nil {
					return err
				}
				return printJSON(sum)
			})
		},
	}

	cmd.Flags().StringVarP(&date, "date", "d", "", "Delivery day, YYYY-MM-DD (default tomorrow, UTC)")
	cmd.Flags().StringVarP(&locality, "locality", "l", "", "Locality to dispatch")
	_ = cmd.MarkFlagRequired("locality")

	return cmd
}

func reconcileCmd() *cobra.Command {
	var ownerID uint
	var all bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check wallet balances against their ledgers",
		Long: `Compare each wallet's stored balance with the sum of its ledger entries.
Exits non-zero when any wallet diverges; divergent wallets need manual review.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && ownerID == 0 {
				return errors.New("pass --owner-id or --all")
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				ctx := cmd.Context()
				owners := []uint{ownerID}
				if all {
					owners = nil
					if err := a.DB.WithContext(ctx).Model(&domain.Wallet{}).Order("owner_id").Pluck("owner_id", &owners).Error; err != nil {
						return err
					}
				}
				diverged := 0
				for _, id := range owners {
					rec, err := a.Wallet.Reconcile(ctx, id)
					if err != nil {
						return fmt.Errorf("owner %d: %w", id, err)
					}
					if !rec.Consistent {
						diverged++
						if err := printJSON(rec); err != nil {
							return err
						}
					} else if !all {
						if err := printJSON(rec); err != nil {
							return err
						}
					}
				}
				fmt.Fprintf(os.Stderr, "checked %d wallets, %d diverged\n", len(owners), diverged)
				if diverged > 0 {
					return fmt.Errorf("%d wallets diverge from their ledger", diverged)
				}
				return nil
			})
		},
	}

	cmd.Flags().UintVar(&ownerID, "owner-id", 0, "Wallet owner to check")
	cmd.Flags().BoolVar(&all, "all", false, "Check every wallet")

	return cmd
}

func deadLettersCmd() *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List delivery jobs that exhausted their retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				ctx := cmd.Context()
				ready, delayed, dead, err := a.Queue.Depth(ctx)
				if err != nil {
					return err
				}
				msgs, err := a.Queue.DeadLetters(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"ready":        ready,
					"delayed":      delayed,
					"dead":         dead,
					"dead_letters": msgs,
				})
			})
		},
	}

	cmd.Flags().Int64VarP(&limit, "limit", "n", 50, "Maximum messages to show")

	return cmd
}

func tokenCmd() *cobra.Command {
	var userID uint
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an access token for an existing user (operators and local testing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return errors.New("--user-id is required")
			}
			cfg := config.LoadConfig()
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				var u domain.User
				if err := a.DB.WithContext(cmd.Context()).First(&u, userID).Error; err != nil {
					return fmt.Errorf("user %d: %w", userID, err)
				}
				token, err := utils.GenerateJWT(u.ID, u.Role, cfg.JWTSecret, ttl)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}

	cmd.Flags().UintVar(&userID, "user-id", 0, "User to sign for")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	return cmd
}
