package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zuevav/pik-tracker/internal/notify"
)

var (
	syncEvery  time.Duration
	syncSource string
	syncDryRun bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one ingestion cycle (or loop with --every)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, syncSource, syncDryRun)
		if err != nil {
			return err
		}
		defer env.Close()

		if syncEvery > 0 {
			zap.L().Info("starting sync loop", zap.Duration("interval", syncEvery))
			if err := env.Runner.RunEvery(ctx, syncEvery); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		}

		report, err := env.Runner.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("fetched: %d\nnew: %d\nupdated: %d\n", report.Fetched, report.New, report.Updated)
		if len(report.Errors) > 0 {
			fmt.Printf("errors (%d):\n", len(report.Errors))
			for _, e := range report.Errors {
				fmt.Println("  -", e)
			}
		}
		return nil
	},
}

var testMailCmd = &cobra.Command{
	Use:   "test-mail <recipient>",
	Short: "Send a test email through the configured SMTP relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Email.Enabled {
			return fmt.Errorf("email delivery is disabled in config")
		}
		mailer := notify.NewSMTPMailer(cfg.Email)
		body := "<html><body><p>Проверка доставки уведомлений.</p></body></html>"
		if err := mailer.Send(cmd.Context(), args[0], "PIK Tracker: тестовое письмо", body); err != nil {
			return err
		}
		fmt.Println("sent to", args[0])
		return nil
	},
}

func init() {
	syncCmd.Flags().DurationVar(&syncEvery, "every", 0, "repeat cycles at this interval (e.g. 30m)")
	syncCmd.Flags().StringVar(&syncSource, "source", "", "listing source: api or site (default from config)")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "log digests instead of sending email")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(testMailCmd)
}
