package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/engine"
	"github.com/ripcord-io/ripcord/metrics"
	"github.com/ripcord-io/ripcord/slogger"
)

// PollerOptions configures a Poller.
type PollerOptions struct {
	Executions ripcord.ExecutionStore
	Services   ripcord.RecoveryServiceFactory
	Engine     *engine.Engine
	Notifier   ripcord.Notifier
	Logger     slogger.Logger
	Metrics    *metrics.Metrics
	Clock      func() time.Time
}

// Poller fetches authoritative job state for one execution and folds it into
// the stored record. All updates are monotonic: reapplying the same job state
// is a no-op, and server and wave statuses only ever move forward. After
// converging, the poller hands the execution back to the engine so newly
// unlocked waves launch.
type Poller struct {
	executions ripcord.ExecutionStore
	services   ripcord.RecoveryServiceFactory
	engine     *engine.Engine
	notifier   ripcord.Notifier
	logger     slogger.Logger
	metrics    *metrics.Metrics
	clock      func() time.Time
}

// NewPoller creates a Poller.
func NewPoller(opts PollerOptions) (*Poller, error) {
	if opts.Executions == nil {
		return nil, fmt.Errorf("execution store is required")
	}
	if opts.Services == nil {
		return nil, fmt.Errorf("recovery service factory is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Poller{
		executions: opts.Executions,
		services:   opts.Services,
		engine:     opts.Engine,
		notifier:   opts.Notifier,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		clock:      opts.Clock,
	}, nil
}

// Poll reconciles one execution. A revision conflict means another worker
// converged the record concurrently; the next pass observes the merged state,
// so conflicts are logged and swallowed.
func (p *Poller) Poll(ctx context.Context, executionID string) error {
	execution, err := p.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if execution.Status.Terminal() {
		return nil
	}

	var inFlight []*ripcord.WaveExecution
	for _, waveExec := range execution.Waves {
		if waveExec.Status == ripcord.WaveStatusLaunched || waveExec.Status == ripcord.WaveStatusPolling {
			inFlight = append(inFlight, waveExec)
		}
	}
	if len(inFlight) == 0 {
		return p.engine.Advance(ctx, executionID)
	}

	svc, err := p.services.ForAccount(ctx, execution.AccountContext)
	if err != nil {
		return err
	}

	changed := false
	var completedWaves []int
	for _, waveExec := range inFlight {
		waveChanged, err := p.reconcileWave(ctx, svc, execution.ID, waveExec)
		if err != nil {
			return err
		}
		if waveChanged {
			changed = true
			if waveExec.Status == ripcord.WaveStatusCompleted {
				completedWaves = append(completedWaves, waveExec.Number)
			}
		}
	}

	if changed {
		execution.UpdatedAt = p.clock()
		if err := p.executions.UpdateExecution(ctx, execution); err != nil {
			if errors.Is(err, ripcord.ErrRevisionConflict) {
				p.logger.Debug("reconciliation lost a revision race",
					"execution_id", executionID)
				return nil
			}
			return err
		}
		for _, waveNumber := range completedWaves {
			p.notifyWaveCompleted(ctx, execution, waveNumber)
		}
	}

	return p.engine.Advance(ctx, executionID)
}

// reconcileWave folds the state of every job the wave has started into the
// wave record. Returns whether anything on the wave changed.
func (p *Poller) reconcileWave(ctx context.Context, svc ripcord.RecoveryService, executionID string, waveExec *ripcord.WaveExecution) (bool, error) {
	jobIDs := waveJobIDs(waveExec)
	if len(jobIDs) == 0 {
		return false, nil
	}

	changed := false
	allJobsDone := true
	anyUnknown := false
	for _, jobID := range jobIDs {
		job, err := svc.DescribeJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, ripcord.ErrJobNotFound) {
				// The service expired the job before we observed its
				// outcome. The true result is unknowable; record the gap
				// rather than guessing success or failure.
				gap := &ripcord.ReconciliationGapError{ExecutionID: executionID, WaveNumber: waveExec.Number, JobID: jobID}
				p.logger.Warn("authoritative job state expired",
					"job_id", jobID, "wave_number", waveExec.Number, "error", gap)
				anyUnknown = true
				changed = true
				continue
			}
			return changed, fmt.Errorf("describing job %s: %w", jobID, err)
		}

		for _, participant := range job.ParticipatingServers {
			server, ok := waveExec.Server(participant.SourceServerID)
			if !ok {
				continue
			}
			if server.ApplyLaunchStatus(participant.LaunchStatus) {
				changed = true
			}
			if participant.RecoveryInstanceID != "" && server.RecoveryInstanceID == "" {
				server.RecoveryInstanceID = participant.RecoveryInstanceID
				changed = true
			}
			if participant.LaunchStatus == ripcord.LaunchStatusFailed && server.Error == "" {
				server.Error = fmt.Sprintf("launch failed in job %s", job.ID)
				changed = true
			}
		}

		if !job.Status.Terminal() {
			allJobsDone = false
		}
	}

	if anyUnknown {
		if waveExec.ApplyStatus(ripcord.WaveStatusUnknown) {
			waveExec.StatusMessage = "job state expired before outcome was observed"
			waveExec.CompletedAt = p.clock()
		}
		return changed, nil
	}

	if !allJobsDone {
		if waveExec.ApplyStatus(ripcord.WaveStatusPolling) {
			changed = true
		}
		return changed, nil
	}

	// Every started job is terminal. The wave itself is done only when every
	// server has been launched; a sequential wave with unlaunched servers
	// remaining stays open for the engine to continue.
	launched, failed, pending := waveOutcome(waveExec)
	if pending > 0 && failed == 0 {
		if waveExec.ApplyStatus(ripcord.WaveStatusPolling) {
			changed = true
		}
		return changed, nil
	}

	if failed > 0 {
		if waveExec.ApplyStatus(ripcord.WaveStatusFailed) {
			waveExec.StatusMessage = fmt.Sprintf("%d of %d servers failed to launch", failed, len(waveExec.Servers))
			waveExec.CompletedAt = p.clock()
			changed = true
		}
		return changed, nil
	}
	if waveExec.ApplyStatus(ripcord.WaveStatusCompleted) {
		waveExec.StatusMessage = fmt.Sprintf("%d servers launched", launched)
		waveExec.CompletedAt = p.clock()
		changed = true
	}
	return changed, nil
}

// waveJobIDs returns the distinct job ids the wave has started, in server
// order.
func waveJobIDs(waveExec *ripcord.WaveExecution) []string {
	seen := make(map[string]bool)
	var jobIDs []string
	for _, server := range waveExec.Servers {
		if server.JobID != "" && !seen[server.JobID] {
			seen[server.JobID] = true
			jobIDs = append(jobIDs, server.JobID)
		}
	}
	if len(jobIDs) == 0 && waveExec.JobID != "" {
		jobIDs = append(jobIDs, waveExec.JobID)
	}
	return jobIDs
}

// waveOutcome tallies per-server launch results.
func waveOutcome(waveExec *ripcord.WaveExecution) (launched, failed, pending int) {
	for _, server := range waveExec.Servers {
		switch {
		case server.LaunchStatus == ripcord.LaunchStatusLaunched:
			launched++
		case server.LaunchStatus == ripcord.LaunchStatusFailed:
			failed++
		case !server.LaunchStatus.Terminal():
			pending++
		}
	}
	return launched, failed, pending
}

func (p *Poller) notifyWaveCompleted(ctx context.Context, execution *ripcord.Execution, waveNumber int) {
	if p.notifier == nil {
		return
	}
	waveExec, ok := execution.Wave(waveNumber)
	if !ok {
		return
	}
	p.notifier.Notify(ctx, &ripcord.Event{
		Type:        ripcord.EventWaveCompleted,
		ExecutionID: execution.ID,
		PlanID:      execution.PlanID,
		PlanName:    execution.PlanName,
		WaveNumber:  waveNumber,
		Timestamp:   p.clock(),
		Detail:      map[string]any{"servers": len(waveExec.Servers)},
	})
}
