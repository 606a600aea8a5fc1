/*
Package metrics provides Prometheus metrics for the health daemon and the
deployment CLI.

Each consumer owns a private registry, so tests and both binaries can
create metrics freely without colliding on the global default registry.

# Health metrics

HealthMetrics is fed one types.HealthReport per refresh and served on
/metrics by the portfolio-health daemon:

	portfolio_health_status                   gauge   1 healthy, 0 unhealthy
	portfolio_health_check_status{check}      gauge   per sub-check
	portfolio_health_check_value{check}       gauge   usage percent, latency ms, bytes
	portfolio_uptime_seconds                  counter
	portfolio_health_checks_total{result}     counter evaluations by result

plus the Go runtime and process collectors. Collector polls the process
manager into the same registry:

	portfolio_process_online{name,pm_id}
	portfolio_process_cpu_percent{name,pm_id}
	portfolio_process_memory_bytes{name,pm_id}
	portfolio_process_restarts{name,pm_id}

# Deployment metrics

The deployment CLI exits after each run, so there is nothing to scrape.
DeployRecorder subscribes to the lifecycle event broker and, at exit, the
CLI writes the registry to a node_exporter textfile:

	broker := events.NewBroker()
	broker.Start()
	rec := metrics.NewDeployRecorder()
	rec.Consume(broker.Subscribe())

	// ... orchestrator publishes on broker ...

	broker.Stop()
	rec.Wait()
	_ = rec.WriteTextfile("/var/lib/node_exporter/textfile/portfolio_deploy.prom")

Series: portfolio_deployments_total{kind,result},
portfolio_deployment_duration_seconds{kind},
portfolio_deployment_steps_total{step,result},
portfolio_deployment_step_duration_seconds{step},
portfolio_rollbacks_total{result},
portfolio_last_successful_deployment_timestamp_seconds and
portfolio_backups_retained.

# Timer

	timer := metrics.NewTimer()
	// ... work ...
	timer.ObserveDurationVec(rec.StepDuration, "build")
*/
package metrics
