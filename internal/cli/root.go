// Package cli implements the mako command line: it loads the configuration,
// wires the engine components and exposes them as cobra commands.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/makobot/mako/internal/config"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/makobot/mako/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  _ __ ___   __ _| | _____\n" +
		" | '_ ` _ \\ / _` | |/ / _ \\\n" +
		" | | | | | | (_| |   < (_) |\n" +
		" |_| |_| |_|\\__,_|_|\\_\\___/\n"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "mako",
	Short:         "mako - tool orchestration for a chat companion",
	Long:          color.CyanString(logo) + "\nIntent extraction, access policy, budget and follow-ups for a group chat bot.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			return os.Setenv("MAKO_CONFIG", configPath)
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mako %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.mako/config.json)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(intentsCmd)
	rootCmd.AddCommand(followupsCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(blacklistCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(precipitateCmd)
	rootCmd.AddCommand(profileCmd)
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(title))
	fmt.Fprintln(w, "─────────────────────")
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log, os.Stderr)
	return cfg, nil
}
