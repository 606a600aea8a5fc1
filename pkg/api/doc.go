/*
Package api implements the HTTP side of the portfolio-health daemon.

The daemon runs under the process manager as a singleton next to the
clustered main service. It evaluates the service on a ticker and answers
load balancer and monitoring probes from the last published report.

# Architecture

	┌──────────────── portfolio-health ─────────────────┐
	│                                                    │
	│  refresh loop (every Interval)                     │
	│     health.Reporter.Run ──▶ atomic.Pointer[report] │
	│                        └──▶ metrics.Observe         │
	│                                                    │
	│  chi router (health port)                          │
	│     GET /health        report, 200 / 503            │
	│     GET /health/live   always 200                  │
	│     GET /health/ready  TCP to main service          │
	│     GET /status        name, version, pid          │
	│     GET /metrics       Prometheus text format      │
	│                                                    │
	│  metrics listener (METRICS_PORT, optional)         │
	│     GET /metrics                                   │
	└────────────────────────────────────────────────────┘

Handlers never run checks themselves, except /health/ready which is a single
cheap dial. A report that has not been produced yet reads as "unknown" with
status 503.

# Usage

	reporter := health.NewReporter(version, cfg.Health.Timeout).
		Add("process", health.NewHTTPChecker(serviceURL)).
		Add("artifacts", health.NewArtifactChecker(entryFile))

	hs := api.NewHealthServer(api.Options{
		Name:     "portfolio",
		Version:  version,
		Interval: 30 * time.Second,
		Ready:    health.NewTCPChecker("127.0.0.1:3000"),
	}, reporter, metrics.NewHealthMetrics())

	srv := api.NewServer(hs, ":3001", ":9090")
	if err := srv.Run(ctx); err != nil {
		log.Logger.Fatal().Err(err).Msg("Health daemon failed")
	}

Run returns after ctx is cancelled and both listeners have shut down.
*/
package api
