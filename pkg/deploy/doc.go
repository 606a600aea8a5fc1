/*
Package deploy sequences a deployment of the portfolio service and, when a
release goes live and then fails, rolls it back.

# Pipeline

A deployment runs these steps in order and stops at the first failure:

	validate-environment     tools on PATH, source tree, state directories
	pre-hook                 optional shell hook in the source directory
	backup                   snapshot of the live tree
	install-dependencies     npm ci (or the configured install command)
	build                    build command, entry file check, release packaging
	process-reload           swap the release in, rolling reload under PM2
	edge-reload              nginx -t, then reload (skipped when unmanaged)
	post-deploy-health-check bounded probe of the health endpoint
	post-hook                optional shell hook
	cleanup-old-backups      retention of the newest N backups

Every step is logged with the deployment ID, published on the event broker
and recorded in the attempt history.

# Rollback

Failures up to and including build leave the live release untouched and
are reported without rollback. From process-reload on, the live release may
already have changed, so the backup taken in this attempt is restored, the
processes restarted, the edge reverted to its pre-deploy site config and
health re-probed. Rollback runs
once and is not cancelled with the deployment context. A failed rollback
matches types.ErrRollbackFailed and needs manual intervention.

	      ┌──────────┐  fail before reload   ┌────────┐
	      │  steps   ├──────────────────────▶│ failed │
	      └────┬─────┘                       └────────┘
	           │ fail at/after reload
	      ┌────▼─────┐        ok             ┌─────────────┐
	      │ rollback ├──────────────────────▶│ rolled_back │
	      └────┬─────┘                       └─────────────┘
	           │ fail
	   ┌───────▼─────────┐
	   │ rollback_failed │
	   └─────────────────┘

# Concurrency

Only one deployment or rollback runs per state directory. The orchestrator
holds an flock on StateDir/deploy.lock for the whole run; a second run gets
types.ErrDeployInProgress immediately.

# Exit codes

ExitCode maps errors to process exit codes: 0 success, 1 deployment failed
(rolled back or not), 2 rollback failed, 3 another deployment in progress.
*/
package deploy
