package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/makobot/mako/internal/notify"
	"github.com/makobot/mako/internal/scheduler"
)

var followupsCmd = &cobra.Command{
	Use:   "followups",
	Short: "Deliver due follow-up reminders",
}

var followupsScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Deliver due follow-ups once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScanner(cmd, func(s *scheduler.Scanner) error {
			report, err := s.Scan(cmd.Context())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		})
	},
}

var followupsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Deliver due follow-ups on the configured schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		cmd.SetContext(ctx)
		return withScanner(cmd, func(s *scheduler.Scanner) error {
			printHeader(cmd.OutOrStdout(), "Follow-up scanner")
			fmt.Fprintln(cmd.OutOrStdout(), "Watching for due follow-ups. Press Ctrl+C to stop.")
			if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	},
}

func init() {
	followupsCmd.AddCommand(followupsScanCmd)
	followupsCmd.AddCommand(followupsWatchCmd)
}

func withScanner(cmd *cobra.Command, fn func(s *scheduler.Scanner) error) error {
	return withApp(cmd.Context(), func(a *app) error {
		scfg, err := scheduler.ConfigFromProactive(a.cfg.Proactive)
		if err != nil {
			return err
		}
		chain, closeNotifiers, err := notify.FromConfig(a.cfg.Notify)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeNotifiers(); err != nil {
				slog.Warn("Failed to close notifiers", "error", err)
			}
		}()
		return fn(scheduler.New(scfg, a.memories, chain))
	})
}

func printReport(w io.Writer, r scheduler.Report) {
	if r.Locked {
		fmt.Fprintln(w, color.YellowString("Another scanner holds the lock; nothing delivered."))
		return
	}
	fmt.Fprintf(w, "due=%d delivered=%s failed=%s skipped=%d\n",
		r.Due, color.GreenString("%d", r.Delivered), color.RedString("%d", r.Failed), r.Skipped)
}
