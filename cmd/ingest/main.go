// Command ingest is the tagwatch operations CLI: one-off fetch cycles,
// history pruning, state cleanup and key generation.
//
// Usage:
//
//	tagwatch-ingest process
//	tagwatch-ingest process --user alice --workers 2
//	tagwatch-ingest prune
//	tagwatch-ingest forget geofence alice home
//	tagwatch-ingest forget device alice dev1
//	tagwatch-ingest test-notification alice dev1 battery_low
//	tagwatch-ingest users
//	tagwatch-ingest vapid-keys
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tagwatch/tagwatch/internal/app"
	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/maintenance"
	"github.com/tagwatch/tagwatch/internal/notifications"
	"github.com/tagwatch/tagwatch/internal/poller"
	"github.com/tagwatch/tagwatch/internal/state"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "tagwatch-ingest",
		Short: "tagwatch operations CLI",
	}

	root.AddCommand(processCmd())
	root.AddCommand(pruneCmd())
	root.AddCommand(forgetCmd())
	root.AddCommand(testNotificationCmd())
	root.AddCommand(usersCmd())
	root.AddCommand(vapidKeysCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// process command
// --------------------------------------------------------------------------

func processCmd() *cobra.Command {
	var userID string
	var workers int
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one fetch cycle over cached reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithServices(func(ctx context.Context, cfg *config.Config, svc *app.Services) error {
				var users poller.UserLister = svc.Store
				if userID != "" {
					if err := state.ValidateUserID(userID); err != nil {
						return err
					}
					users = staticUsers{userID}
				}
				if workers < 1 {
					workers = cfg.PollWorkers
				}
				p := poller.New(users, poller.NewCacheFetcher(svc.Store), svc.Engine, poller.Config{
					Interval:    cfg.FetchInterval,
					UserTimeout: cfg.UserTaskTimeout,
					Workers:     workers,
				}, logger)

				result := p.RunCycle(ctx)
				logger.Info("Fetch cycle finished", "summary", result.Summary())
				for _, e := range result.Errors {
					logger.Error("Cycle error", "error", e)
				}
				if result.UsersFailed > 0 {
					return fmt.Errorf("%d of %d users failed", result.UsersFailed, result.UsersFound)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Only process this user")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent user tasks (default POLL_WORKERS)")
	return cmd
}

type staticUsers []string

func (u staticUsers) Users(context.Context) ([]string, error) { return u, nil }

// --------------------------------------------------------------------------
// prune command
// --------------------------------------------------------------------------

func pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop notification history older than NOTIFICATION_HISTORY_DAYS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithServices(func(ctx context.Context, cfg *config.Config, svc *app.Services) error {
				res := maintenance.PruneHistories(ctx, svc.Store, svc.Notifier, logger)
				if res.Failed > 0 {
					return fmt.Errorf("history prune failed for %d of %d users", res.Failed, res.Users)
				}
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// forget command
// --------------------------------------------------------------------------

func forgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Drop tracked state for a geofence or device",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "geofence <user> <geofence-id>",
		Short: "Drop membership and cooldowns of a geofence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithServices(func(ctx context.Context, cfg *config.Config, svc *app.Services) error {
				if err := svc.Engine.ForgetGeofence(ctx, args[0], args[1]); err != nil {
					return err
				}
				logger.Info("Geofence state removed", "user_id", args[0], "geofence_id", args[1])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "device <user> <device-id>",
		Short: "Drop membership, battery, cooldowns and cached reports of a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithServices(func(ctx context.Context, cfg *config.Config, svc *app.Services) error {
				userID, deviceID := args[0], args[1]
				if err := svc.Engine.ForgetDevice(ctx, userID, deviceID); err != nil {
					return err
				}
				unlock := svc.Store.Lock(userID, state.ResourceReports)
				err := svc.Store.DeleteDeviceReports(ctx, userID, deviceID)
				unlock()
				if err != nil {
					return fmt.Errorf("delete cached reports: %w", err)
				}
				logger.Info("Device state removed", "user_id", userID, "device_id", deviceID)
				return nil
			})
		},
	})
	return cmd
}

// --------------------------------------------------------------------------
// test-notification command
// --------------------------------------------------------------------------

func testNotificationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-notification <user> <device-id> <type>",
		Short: "Send a test notification (geofence_entry, geofence_exit, battery_low, generic_test)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithServices(func(ctx context.Context, cfg *config.Config, svc *app.Services) error {
				n, err := svc.Engine.SendTestNotification(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				logger.Info("Test notification sent", "title", n.Title, "tag", n.Tag)
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// users command
// --------------------------------------------------------------------------

func usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users with stored state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithServices(func(ctx context.Context, cfg *config.Config, svc *app.Services) error {
				ids, err := svc.Store.Users(ctx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// vapid-keys command
// --------------------------------------------------------------------------

func vapidKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid-keys",
		Short: "Generate a VAPID key pair for Web Push",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := notifications.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "VAPID_PUBLIC_KEY=%s\n", pub)
			fmt.Fprintf(out, "VAPID_PRIVATE_KEY=%s\n", priv)
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// Shared helpers
// --------------------------------------------------------------------------

func runWithServices(fn func(ctx context.Context, cfg *config.Config, svc *app.Services) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	err = fn(ctx, cfg, svc)
	logger.Debug("Command finished", "duration", time.Since(start).Round(time.Millisecond))
	return err
}
