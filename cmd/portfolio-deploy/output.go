package main

import (
	"fmt"
	"io"
	"time"

	"github.com/cuemby/portfolio-deploy/pkg/deploy"
	"github.com/cuemby/portfolio-deploy/pkg/types"
)

const timeLayout = "2006-01-02 15:04:05"

func printAttempt(w io.Writer, a *types.DeploymentAttempt) {
	if a == nil {
		return
	}

	fmt.Fprintln(w)
	switch a.State {
	case types.AttemptSucceeded:
		fmt.Fprintf(w, "✓ %s %s succeeded\n", a.Kind, a.ID)
	case types.AttemptRolledBack:
		fmt.Fprintf(w, "✗ %s %s failed at %s, rolled back\n", a.Kind, a.ID, a.FailedStep)
	case types.AttemptRollbackFailed:
		fmt.Fprintf(w, "✗ %s %s failed at %s, rollback failed: manual intervention required\n", a.Kind, a.ID, a.FailedStep)
	default:
		fmt.Fprintf(w, "✗ %s %s failed at %s\n", a.Kind, a.ID, a.FailedStep)
	}
	if a.ReleaseID != "" {
		fmt.Fprintf(w, "  Release: %s\n", a.ReleaseID)
	}
	if a.Backup != nil {
		fmt.Fprintf(w, "  Backup: %s\n", a.Backup.Dir)
	}
	if !a.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  Duration: %s\n", a.FinishedAt.Sub(a.StartedAt).Round(time.Millisecond))
	}

	fmt.Fprintln(w, "  Steps:")
	for _, s := range a.Steps {
		mark := "✓"
		switch {
		case s.Error != "":
			mark = "✗"
		case s.Skipped:
			mark = "-"
		}
		fmt.Fprintf(w, "    %s %-26s %s\n", mark, s.Name, s.Duration.Round(time.Millisecond))
	}
}

func printStatus(w io.Writer, st *deploy.Status) {
	fmt.Fprintln(w, "Live release:")
	if st.Live != nil {
		fmt.Fprintf(w, "  %s (%s, %s)\n", st.Live.ID, st.Live.Source, st.Live.CreatedAt.Local().Format(timeLayout))
	} else {
		fmt.Fprintln(w, "  none")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Processes:")
	if st.ProcessError != "" {
		fmt.Fprintf(w, "  unavailable: %s\n", st.ProcessError)
	} else if len(st.Processes) == 0 {
		fmt.Fprintln(w, "  none")
	} else {
		fmt.Fprintf(w, "  %-24s %-6s %-8s %-10s %-7s %-10s %-8s %s\n", "NAME", "ID", "PID", "STATUS", "CPU", "MEMORY", "RESTARTS", "UPTIME")
		for _, p := range st.Processes {
			fmt.Fprintf(w, "  %-24s %-6d %-8d %-10s %-7s %-10s %-8d %s\n",
				p.Name, p.ID, p.PID, p.Status,
				fmt.Sprintf("%.1f%%", p.CPU), formatBytes(p.MemoryBytes),
				p.Restarts, p.Uptime.Round(time.Second))
		}
	}
	fmt.Fprintln(w)

	printBackups(w, st.Backups)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Last deployment:")
	if a := st.LastAttempt; a != nil {
		fmt.Fprintf(w, "  %s %s %s at %s\n", a.ID, a.Kind, a.State, a.StartedAt.Local().Format(timeLayout))
		if a.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", a.Error)
		}
	} else {
		fmt.Fprintln(w, "  none")
	}
}

func printBackups(w io.Writer, backups []*types.Backup) {
	fmt.Fprintf(w, "Backups (%d):\n", len(backups))
	if len(backups) == 0 {
		fmt.Fprintln(w, "  none")
		return
	}
	fmt.Fprintf(w, "  %-40s %-20s %-8s %-10s %s\n", "ID", "CREATED", "FILES", "SIZE", "RELEASE")
	for _, b := range backups {
		release := b.ReleaseID
		if release == "" {
			release = "-"
		}
		fmt.Fprintf(w, "  %-40s %-20s %-8d %-10s %s\n",
			b.ID, b.CreatedAt.Local().Format(timeLayout), b.Files, formatBytes(b.Bytes), release)
	}
}

func printHistory(w io.Writer, attempts []*types.DeploymentAttempt) {
	if len(attempts) == 0 {
		fmt.Fprintln(w, "No deployments recorded")
		return
	}
	fmt.Fprintf(w, "%-36s %-8s %-16s %-20s %-10s %s\n", "ID", "KIND", "STATE", "STARTED", "DURATION", "FAILED STEP")
	for _, a := range attempts {
		duration := "-"
		if !a.FinishedAt.IsZero() {
			duration = a.FinishedAt.Sub(a.StartedAt).Round(time.Second).String()
		}
		failed := a.FailedStep
		if failed == "" {
			failed = "-"
		}
		fmt.Fprintf(w, "%-36s %-8s %-16s %-20s %-10s %s\n",
			a.ID, a.Kind, a.State, a.StartedAt.Local().Format(timeLayout), duration, failed)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
