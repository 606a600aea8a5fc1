package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/portfolio-deploy/pkg/api"
	"github.com/cuemby/portfolio-deploy/pkg/config"
	"github.com/cuemby/portfolio-deploy/pkg/health"
	"github.com/cuemby/portfolio-deploy/pkg/log"
	"github.com/cuemby/portfolio-deploy/pkg/metrics"
	"github.com/cuemby/portfolio-deploy/pkg/runner"
	"github.com/cuemby/portfolio-deploy/pkg/supervisor"
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
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "portfolio-health",
	Short: "Health and metrics endpoint for the portfolio site",
	Long: `portfolio-health runs next to the portfolio site under PM2 and serves
its aggregated health:

  GET /health        JSON report, 200 when healthy, 503 otherwise
  GET /health/live   200 while this process runs
  GET /health/ready  200 when the site accepts TCP connections
  GET /status        service identity
  GET /metrics       Prometheus metrics (when enabled)`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"portfolio-health version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().StringP("config", "c", os.Getenv("DEPLOY_CONFIG"), "Path to the YAML config file")
	rootCmd.Flags().String("addr", "", "Listen address (default :<health.port>)")
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	addrFlag, _ := cmd.Flags().GetString("addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	}); err != nil {
		return err
	}
	logger := log.WithComponent("health-daemon")

	var m *metrics.HealthMetrics
	if cfg.Metrics.Enabled {
		m = metrics.NewHealthMetrics()

		pm := supervisor.NewPM2(cfg.Process.PM2Binary, cfg.App.Environment, runner.NewExecRunner(log.WithComponent("runner")))
		collector := metrics.NewCollector(pm, cfg.Health.Interval, m.Registry())
		collector.Start()
		defer collector.Stop()
	}

	hs := api.NewHealthServer(api.Options{
		Name:        cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		Interval:    cfg.Health.Interval,
		Ready:       health.NewTCPChecker(serviceAddr(cfg)).WithTimeout(cfg.Health.Timeout),
	}, newReporter(cfg), m)

	addr, metricsAddr := listenAddrs(cfg, addrFlag)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("name", cfg.App.Name).
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Str("addr", addr).
		Str("metrics_addr", metricsAddr).
		Dur("interval", cfg.Health.Interval).
		Msg("Health daemon starting")

	if err := api.NewServer(hs, addr, metricsAddr).Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("Health daemon stopped")
	return nil
}

// serviceAddr is the loopback address of the main service
func serviceAddr(cfg *config.Config) string {
	return fmt.Sprintf("127.0.0.1:%d", cfg.App.Port)
}

// newReporter assembles the sub-checks of /health
func newReporter(cfg *config.Config) *health.Reporter {
	return health.NewReporter(cfg.App.Version, cfg.Health.Timeout).
		Add("process", health.NewHTTPChecker("http://"+serviceAddr(cfg)+"/").WithTimeout(cfg.Health.Timeout)).
		Add("artifacts", health.NewArtifactChecker(filepath.Join(cfg.Paths.LiveDir, cfg.EntryPath()))).
		Add("memory", health.NewMemoryChecker(cfg.Health.MemoryThreshold)).
		Add("cpu", health.NewCPUChecker(cfg.Health.CPUThreshold, cfg.Health.CPUSample))
}

// listenAddrs returns the health address and, when metrics are enabled,
// the metrics address
func listenAddrs(cfg *config.Config, override string) (string, string) {
	addr := override
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Health.Port)
	}
	metricsAddr := ""
	if cfg.Metrics.Enabled {
		metricsAddr = fmt.Sprintf(":%d", cfg.Metrics.Port)
	}
	return addr, metricsAddr
}
