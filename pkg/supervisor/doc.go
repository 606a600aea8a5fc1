/*
Package supervisor keeps the service's processes in line with the live
release.

The Supervisor is the single owner of the live directory. A release built
or restored elsewhere is handed over through Replace (or Reload/Restart,
which call it), which swaps the staged tree into place with a rename. No
other component writes to the live directory.

# Process table

Two apps are managed through PM2:

	<app>          cluster mode, one instance per CPU unless configured,
	               running <live>/<output>/<entry>
	<app>-health   fork mode, one instance, the portfolio-health binary

The table is rendered as a PM2 ecosystem file in the state directory,
persisted with `pm2 save` and mirrored into the bbolt store so Resurrect
can bring it back even when PM2's own dump is gone.

# Reload vs Restart

Reload is the deploy path: each cluster instance is reloaded on its own and
waited on until it reports online before the next one, so some worker keeps
accepting connections throughout. Restart is the rollback path and bounces
the whole app at once. Both end by checking that every instance of the main
app is online and return types.ErrProcessReloadFailed otherwise; neither
retries.
*/
package supervisor
