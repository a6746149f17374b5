package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/voicockpit/cockpit/internal/alert"
	"github.com/voicockpit/cockpit/internal/config"
	"github.com/voicockpit/cockpit/internal/notification"
	"github.com/voicockpit/cockpit/internal/realtime"
)

var alertsOnly string

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Alert scanner commands",
}

var alertsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the deadline and overdue scan once",
	Long:  "Runs the alert scanner once and prints the report. Suitable for cron; exits non-zero when a pass fails.",
	RunE:  runAlertsCheck,
}

func init() {
	alertsCheckCmd.Flags().StringVar(&alertsOnly, "only", "", "run a single pass: deadline or overdue")
	alertsCmd.AddCommand(alertsCheckCmd)
	rootCmd.AddCommand(alertsCmd)
}

// newRedis returns a client when redis.addr is configured, nil otherwise.
func newRedis(cfg *config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// newScanner wires the scanner. hub and recorder may be nil.
func newScanner(cfg *config.Config, alerts *alert.Store, notes *notification.Store, rdb *redis.Client, hub *realtime.Hub, recorder alert.Recorder) (*alert.Scanner, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	opts := alert.Options{
		Location: loc,
		LockTTL:  cfg.Redis.LockTTL,
		Recorder: recorder,
	}
	if hub != nil {
		opts.Publisher = hub
	}
	if rdb != nil {
		opts.Locker = alert.NewRedisLocker(rdb)
	}
	return alert.NewScanner(alerts, notes, opts), nil
}

func runAlertsCheck(cmd *cobra.Command, args []string) error {
	var passes []alert.Pass
	if alertsOnly != "" {
		p, err := alert.ParsePass(alertsOnly)
		if err != nil {
			return err
		}
		passes = append(passes, p)
	}

	cfg, err := setup()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb := newRedis(cfg)
	if rdb != nil {
		defer rdb.Close()
	}

	scanner, err := newScanner(cfg, alert.NewStore(pool), notification.NewStore(pool), rdb, nil, nil)
	if err != nil {
		return err
	}

	report, err := scanner.Run(ctx, passes...)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if report.Failed() {
		return fmt.Errorf("alert scan failed: %v", report.Errors)
	}
	return nil
}
