package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/makobot/mako/internal/memory"
)

var budgetUser string

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show today's spend against the daily limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			u, err := a.ledger.Usage(cmd.Context(), budgetUser)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printHeader(out, "Budget "+u.Day)
			fmt.Fprintf(out, "Global: %.4f / %.4f\n", u.Global, u.GlobalLimit)
			if budgetUser != "" {
				fmt.Fprintf(out, "User %s: %.4f / %.4f\n", budgetUser, u.User, u.UserLimit)
			}
			return nil
		})
	},
}

var blacklistCmd = &cobra.Command{
	Use:   "blacklist",
	Short: "Manage the dynamic user and group blacklist",
}

var blacklistAddCmd = &cobra.Command{
	Use:   "add user|group <id> [reason]",
	Short: "Block a user or group",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason := ""
		if len(args) == 3 {
			reason = args[2]
		}
		return withApp(cmd.Context(), func(a *app) error {
			var err error
			switch args[0] {
			case "user":
				err = a.blacklist.AddUser(cmd.Context(), args[1], reason)
			case "group":
				err = a.blacklist.AddGroup(cmd.Context(), args[1], reason)
			default:
				return fmt.Errorf("unknown blacklist kind %q (want user or group)", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Blocked %s %s", args[0], args[1]))
			if args[0] == "user" {
				return printBlockReason(cmd, a, args[1])
			}
			return nil
		})
	},
}

var blacklistRemoveCmd = &cobra.Command{
	Use:   "remove user|group <id>",
	Short: "Unblock a user or group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			var err error
			switch args[0] {
			case "user":
				err = a.blacklist.RemoveUser(cmd.Context(), args[1])
			case "group":
				err = a.blacklist.RemoveGroup(cmd.Context(), args[1])
			default:
				return fmt.Errorf("unknown blacklist kind %q (want user or group)", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Unblocked %s %s", args[0], args[1]))
			return nil
		})
	},
}

var blacklistShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Show whether a user is blocked and why",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			blocked, err := a.blacklist.IsUserBlocked(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !blocked {
				fmt.Fprintf(cmd.OutOrStdout(), "User %s is not blocked\n", args[0])
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.RedString("User %s is blocked", args[0]))
			return printBlockReason(cmd, a, args[0])
		})
	},
}

func printBlockReason(cmd *cobra.Command, a *app, userID string) error {
	reason, err := a.blacklist.UserReason(cmd.Context(), userID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "(none recorded)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reason: %s\n", reason)
	return nil
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect relationship memories",
}

var memoryListOpts struct {
	typ    string
	status string
	limit  int
}

var memoryListCmd = &cobra.Command{
	Use:   "list <user>",
	Short: "List a user's memories, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			recs, err := a.memories.List(cmd.Context(), args[0],
				memory.Type(memoryListOpts.typ), memory.Status(memoryListOpts.status), memoryListOpts.limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "No memories.")
				return nil
			}
			for _, r := range recs {
				due := ""
				if r.DueAt != nil {
					due = " due " + r.DueAt.Format(time.DateTime)
				}
				fmt.Fprintf(out, "%s %-10s %-6s %s%s\n", r.ID, color.MagentaString(string(r.Type)), r.Status, r.Content, due)
			}
			return nil
		})
	},
}

var memoryDoneCmd = &cobra.Command{
	Use:   "done <user> <memory-id>",
	Short: "Mark a follow-up as done",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			ok, err := a.memories.MarkDone(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("Memory %s was not active", args[1]))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Marked %s done", args[1]))
			return nil
		})
	},
}

var memoryReindexCmd = &cobra.Command{
	Use:   "reindex <user>",
	Short: "Rebuild a user's follow-up index from their memories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			n, err := a.memories.Reindex(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Reindexed %d follow-ups for %s", n, args[0]))
			return nil
		})
	},
}

func init() {
	budgetCmd.Flags().StringVarP(&budgetUser, "user", "u", "", "also show this user's spend")

	blacklistCmd.AddCommand(blacklistAddCmd)
	blacklistCmd.AddCommand(blacklistRemoveCmd)
	blacklistCmd.AddCommand(blacklistShowCmd)

	memoryListCmd.Flags().StringVarP(&memoryListOpts.typ, "type", "t", "", "preference, taboo, event or promise")
	memoryListCmd.Flags().StringVar(&memoryListOpts.status, "status", "", "active or done")
	memoryListCmd.Flags().IntVarP(&memoryListOpts.limit, "limit", "l", 20, "maximum records; 0 for all")
	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryDoneCmd)
	memoryCmd.AddCommand(memoryReindexCmd)
}
