/*
Package log provides structured logging for portfolio-deploy using zerolog.

A single package-level Logger is configured once via Init and shared by
every component. Component loggers are derived with WithComponent so each
line carries a component field:

	log.Init(log.Config{Level: log.InfoLevel, File: "/var/log/portfolio/deploy.log"})
	logger := log.WithComponent("backup")
	logger.Info().Str("backup_id", id).Msg("Backup created")

# Output

Console output uses zerolog.ConsoleWriter with colored level tags and
RFC3339 timestamps, or raw JSON when JSONOutput is set. When File is set,
an uncolored copy of every line is appended to that file so operators can
read the deployment history after the terminal is gone.

# Reading the log back

Tail writes the last N lines of the log file and, when following, keeps
streaming new lines through github.com/nxadm/tail until its context is
cancelled. The file is reopened after logrotate moves it and re-read from
the start after a truncation.
*/
package log
