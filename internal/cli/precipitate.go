package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/makobot/mako/internal/precipitate"
	"github.com/makobot/mako/internal/scheduler"
)

var precipitateWatch bool

var precipitateCmd = &cobra.Command{
	Use:   "precipitate",
	Short: "Condense recent chat into recall points and user portraits",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if precipitateWatch {
			var stop context.CancelFunc
			ctx, stop = signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
		}
		return withApp(ctx, func(a *app) error {
			out := cmd.OutOrStdout()
			if a.precipitator == nil {
				fmt.Fprintln(out, color.YellowString("Precipitation needs a chat provider; set OPENAI_API_KEY."))
				return nil
			}
			if !precipitateWatch {
				report, err := a.precipitator.Run(ctx)
				if err != nil {
					return err
				}
				printPrecipitation(out, report)
				return nil
			}
			if !a.cfg.Precipitation.Enabled {
				fmt.Fprintln(out, color.YellowString("Precipitation is disabled in the configuration."))
				return nil
			}
			expr, err := scheduler.ParseCron(a.cfg.Precipitation.Cron)
			if err != nil {
				return err
			}
			printHeader(out, "Knowledge precipitation")
			fmt.Fprintf(out, "Running on %q. Press Ctrl+C to stop.\n", expr.String())
			err = scheduler.Every(ctx, time.Minute, expr, func(ctx context.Context, _ time.Time) {
				report, err := a.precipitator.Run(ctx)
				if err != nil {
					fmt.Fprintln(out, color.RedString("Precipitation failed: %v", err))
					return
				}
				printPrecipitation(out, report)
			})
			if !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile <user>",
	Short: "Show what the bot has learned about a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			out := cmd.OutOrStdout()
			p, err := a.profiles.Profile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if p == nil {
				fmt.Fprintf(out, "No profile for %s.\n", args[0])
				return nil
			}
			printHeader(out, fmt.Sprintf("Profile of %s(%s)", p.Nickname, p.UserID))
			fmt.Fprintln(out, p.Text())
			fmt.Fprintf(out, "\nUpdated %s\n", p.LastUpdated.Format(time.DateTime))
			return nil
		})
	},
}

func printPrecipitation(w io.Writer, r precipitate.Report) {
	fmt.Fprintf(w, "lines=%d points=%d profiles=%d failed=%d\n", r.Lines, r.Points, r.Profiles, r.Failed)
}

func init() {
	precipitateCmd.Flags().BoolVarP(&precipitateWatch, "watch", "w", false, "keep running on the configured schedule")
}
