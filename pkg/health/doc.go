/*
Package health provides the checks that decide whether a deployed release
is serving, and the bounded probe the deployment pipeline waits on.

# Architecture

	┌──────────────────────────────────────────────────────────────┐
	│                     Checker Interface                        │
	│  • Check(ctx) Result                                         │
	│  • Type() CheckType                                          │
	└────────┬─────────────────────────────────────────────────────┘
	         │
	    ┌────┴──────┬──────────┬────────────┬──────────────┐
	    ▼           ▼          ▼            ▼              ▼
	┌────────┐  ┌──────┐  ┌────────┐  ┌──────────┐  ┌─────────────┐
	│  HTTP  │  │ TCP  │  │  Exec  │  │ Artifact │  │ Memory/CPU  │
	└────────┘  └──────┘  └────────┘  └──────────┘  └─────────────┘
	  GET url    dial      tool        entry file     gopsutil
	  2xx        :port     --version   on disk        < threshold

Two consumers sit on top of the checkers:

  - Probe wraps one checker with bounded retries. The deployment pipeline
    calls WaitHealthy after a process reload and again after a rollback.
  - Reporter runs named checks concurrently and folds them into a
    types.HealthReport. The portfolio-health daemon refreshes one on a
    ticker and serves it over HTTP.

# Probe

	Unknown ──Check──▶ Checking ──ok──▶ Healthy
	                       │
	                       └──fail──▶ Unhealthy

WaitHealthy performs at most Config.Attempts checks. Each check is bounded
by Config.Timeout and attempts are separated by a fixed Config.Backoff.
When attempts run out, or the context ends first, the returned error
matches types.ErrHealthCheckTimeout:

	probe := health.NewProbe(
		health.NewHTTPChecker("http://127.0.0.1:3000/"),
		health.Config{Attempts: 10, Timeout: 5 * time.Second, Backoff: 5 * time.Second},
	)
	if err := probe.WaitHealthy(ctx); errors.Is(err, types.ErrHealthCheckTimeout) {
		// roll back
	}

# Reporter

	report := health.NewReporter(version, 5*time.Second).
		Add("process", health.NewHTTPChecker("http://127.0.0.1:3000/")).
		Add("artifacts", health.NewArtifactChecker("/var/www/portfolio/dist/server.js")).
		Add("memory", health.NewMemoryChecker(90)).
		Add("cpu", health.NewCPUChecker(90, 200*time.Millisecond)).
		Run(ctx)

Overall status is healthy only when every check is healthy. A failing
check never aborts the others.

Status tracks consecutive outcomes of a repeated check so callers can log
transitions instead of every tick.
*/
package health
