package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/ripcord-io/ripcord"
)

func init() {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	boldColor    = color.New(color.Bold)
)

// statusString renders an execution status with color.
func statusString(status ripcord.ExecutionStatus) string {
	switch status {
	case ripcord.ExecutionStatusCompleted:
		return successColor.Sprint(status)
	case ripcord.ExecutionStatusFailed, ripcord.ExecutionStatusTimeout:
		return errorColor.Sprint(status)
	case ripcord.ExecutionStatusPaused, ripcord.ExecutionStatusCancelled:
		return warnColor.Sprint(status)
	default:
		return string(status)
	}
}

func waveStatusString(status ripcord.WaveStatus) string {
	switch status {
	case ripcord.WaveStatusCompleted:
		return successColor.Sprint(status)
	case ripcord.WaveStatusFailed:
		return errorColor.Sprint(status)
	case ripcord.WaveStatusUnknown:
		return warnColor.Sprint(status)
	default:
		return string(status)
	}
}

// printExecution renders one execution with its waves and servers.
func printExecution(execution *ripcord.Execution) {
	fmt.Printf("%s  %s\n", boldColor.Sprint(execution.ID), statusString(execution.Status))
	fmt.Printf("  plan: %s (%s)\n", execution.PlanName, execution.PlanID)
	fmt.Printf("  account: %s\n", execution.AccountContext.AccountID)
	if execution.IsDrill {
		fmt.Printf("  drill: yes\n")
	}
	if !execution.StartTime.IsZero() {
		fmt.Printf("  started: %s\n", execution.StartTime.Format(time.RFC3339))
	}
	if !execution.EndTime.IsZero() {
		fmt.Printf("  ended: %s\n", execution.EndTime.Format(time.RFC3339))
	}
	if execution.PausedBeforeWave != nil {
		fmt.Printf("  paused before wave: %d (token %s)\n", *execution.PausedBeforeWave, execution.CallbackToken)
	}
	if execution.Error != "" {
		fmt.Printf("  error: %s\n", errorColor.Sprint(execution.Error))
	}
	for _, wave := range execution.Waves {
		fmt.Printf("  wave %d %q  %s", wave.Number, wave.Name, waveStatusString(wave.Status))
		if wave.JobID != "" {
			fmt.Printf("  job=%s", wave.JobID)
		}
		fmt.Println()
		for _, server := range wave.Servers {
			line := fmt.Sprintf("    %s  %s", server.SourceServerID, server.LaunchStatus)
			if server.RecoveryInstanceID != "" {
				line += "  instance=" + server.RecoveryInstanceID
			}
			if server.Error != "" {
				line += "  " + errorColor.Sprint(server.Error)
			}
			fmt.Println(line)
		}
	}
}

// printExecutionRow renders one execution as a list row.
func printExecutionRow(execution *ripcord.Execution) {
	completed := 0
	for _, wave := range execution.Waves {
		if wave.Status == ripcord.WaveStatusCompleted {
			completed++
		}
	}
	fmt.Printf("%s  %-10s  %-24s  waves %d/%d  %s\n",
		execution.ID,
		statusString(execution.Status),
		execution.PlanName,
		completed, len(execution.Waves),
		execution.CreatedAt.Format(time.RFC3339))
}
