package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/portfolio-deploy/pkg/deploy"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(deploy.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "portfolio-deploy",
	Short: "Deploy the portfolio site with backup, health checks and rollback",
	Long: `portfolio-deploy builds the portfolio site from its source tree and
puts the new release live under PM2 behind nginx.

Every deployment backs up the live release first. When a step from
process-reload onward fails, the backup is restored, the previous nginx
site config is put back and health is re-checked. Failures in the earlier
steps (validation, pre-hook, backup, install, build) never touch the live
release, so they end the deployment without a rollback.

Exit codes:
  0  success
  1  deployment failed (whether or not the rollback succeeded)
  2  rollback failed, manual intervention required
  3  another deployment is in progress`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	rootCmd.SetVersionTemplate(versionString())

	rootCmd.PersistentFlags().StringP("config", "c", os.Getenv("DEPLOY_CONFIG"), "Path to the YAML config file")

	rootCmd.Flags().Bool("rollback", false, "Restore the most recent backup instead of deploying")
	rootCmd.Flags().Bool("status", false, "Show processes, live release, backups and the last deployment")
	rootCmd.Flags().Bool("logs", false, "Show the deployment log")
	rootCmd.Flags().Int("lines", 50, "Number of log lines to show with --logs")
	rootCmd.Flags().BoolP("follow", "f", false, "Keep streaming the log with --logs")
	rootCmd.Flags().Bool("health-check", false, "Probe the health endpoint and exit")
	rootCmd.Flags().Bool("no-rollback", false, "Leave a failed release in place instead of rolling back")
	rootCmd.MarkFlagsMutuallyExclusive("rollback", "status", "logs", "health-check")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(resurrectCmd)
	rootCmd.AddCommand(versionCmd)
}

func versionString() string {
	return fmt.Sprintf("portfolio-deploy version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runRoot(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	rollback, _ := cmd.Flags().GetBool("rollback")
	status, _ := cmd.Flags().GetBool("status")
	logs, _ := cmd.Flags().GetBool("logs")
	lines, _ := cmd.Flags().GetInt("lines")
	follow, _ := cmd.Flags().GetBool("follow")
	healthCheck, _ := cmd.Flags().GetBool("health-check")
	noRollback, _ := cmd.Flags().GetBool("no-rollback")

	if follow && !logs {
		return fmt.Errorf("--follow requires --logs")
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	out := cmd.OutOrStdout()

	switch {
	case logs:
		a, err := newApp(configPath, appOptions{readOnly: true})
		if err != nil {
			return err
		}
		defer a.Close()
		return a.orch.Logs(ctx, out, lines, follow)

	case status:
		a, err := newApp(configPath, appOptions{readOnly: true})
		if err != nil {
			return err
		}
		defer a.Close()
		st, err := a.orch.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(out, st)
		return nil

	case healthCheck:
		a, err := newApp(configPath, appOptions{readOnly: true})
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.orch.HealthCheck(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ %s is healthy\n", a.cfg.Health.URL)
		return nil

	case rollback:
		a, err := newApp(configPath, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		attempt, err := a.orch.Rollback(ctx)
		printAttempt(out, attempt)
		return err

	default:
		a, err := newApp(configPath, appOptions{noRollback: noRollback})
		if err != nil {
			return err
		}
		defer a.Close()
		attempt, err := a.orch.Deploy(ctx)
		printAttempt(out, attempt)
		return err
	}
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded deployments, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(configPath, appOptions{readOnly: true})
		if err != nil {
			return err
		}
		defer a.Close()

		attempts, err := a.orch.History(limit)
		if err != nil {
			return err
		}
		printHistory(cmd.OutOrStdout(), attempts)
		return nil
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List retained backups, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		a, err := newApp(configPath, appOptions{readOnly: true})
		if err != nil {
			return err
		}
		defer a.Close()

		backups, err := a.orch.Backups()
		if err != nil {
			return err
		}
		printBackups(cmd.OutOrStdout(), backups)
		return nil
	},
}

var resurrectCmd = &cobra.Command{
	Use:   "resurrect",
	Short: "Bring the saved process table back after a host restart",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		ctx, stop := signalContext(cmd)
		defer stop()

		a, err := newApp(configPath, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.orch.Resurrect(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Processes resurrected")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), versionString())
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of deployments to show (0 for all)")
}
