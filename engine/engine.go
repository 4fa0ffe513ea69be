// Package engine drives wave-by-wave failover execution. It owns every write
// to the Execution aggregate: admission, launches, pause checkpoints, resume
// and cancel signals, and terminal finalization. Asynchronous job completion
// is converged separately by the reconcile package, which calls back into
// Advance.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/account"
	"github.com/ripcord-io/ripcord/capacity"
	"github.com/ripcord-io/ripcord/graph"
	"github.com/ripcord-io/ripcord/launchconfig"
	"github.com/ripcord-io/ripcord/metrics"
	"github.com/ripcord-io/ripcord/slogger"
)

// DefaultWaveTimeout bounds how long a launched wave may stay unconverged
// before the execution is marked timed out.
const DefaultWaveTimeout = 2 * time.Hour

// Options configures an Engine.
type Options struct {
	Executions    ripcord.ExecutionStore
	Groups        ripcord.GroupStore
	Services      ripcord.RecoveryServiceFactory
	Resolver      *account.Resolver
	Capacity      *capacity.Controller
	LaunchConfigs *launchconfig.Resolver
	Callbacks     ripcord.CallbackService
	Notifier      ripcord.Notifier
	Logger        slogger.Logger
	Metrics       *metrics.Metrics
	Clock         func() time.Time
	WaveTimeout   time.Duration
}

// Engine is the wave execution engine.
type Engine struct {
	executions    ripcord.ExecutionStore
	groups        ripcord.GroupStore
	services      ripcord.RecoveryServiceFactory
	resolver      *account.Resolver
	capacity      *capacity.Controller
	launchConfigs *launchconfig.Resolver
	callbacks     ripcord.CallbackService
	notifier      ripcord.Notifier
	logger        slogger.Logger
	metrics       *metrics.Metrics
	clock         func() time.Time
	waveTimeout   time.Duration
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Executions == nil {
		return nil, fmt.Errorf("execution store is required")
	}
	if opts.Groups == nil {
		return nil, fmt.Errorf("group store is required")
	}
	if opts.Services == nil {
		return nil, fmt.Errorf("recovery service factory is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("account resolver is required")
	}
	if opts.Capacity == nil {
		return nil, fmt.Errorf("capacity controller is required")
	}
	if opts.LaunchConfigs == nil {
		return nil, fmt.Errorf("launch config resolver is required")
	}
	if opts.Callbacks == nil {
		return nil, fmt.Errorf("callback service is required")
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.WaveTimeout == 0 {
		opts.WaveTimeout = DefaultWaveTimeout
	}
	return &Engine{
		executions:    opts.Executions,
		groups:        opts.Groups,
		services:      opts.Services,
		resolver:      opts.Resolver,
		capacity:      opts.Capacity,
		launchConfigs: opts.LaunchConfigs,
		callbacks:     opts.Callbacks,
		notifier:      opts.Notifier,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		clock:         opts.Clock,
		waveTimeout:   opts.WaveTimeout,
	}, nil
}

// CreateExecution admits a plan and creates its execution record in pending
// status. Admission validates the plan structure and dependency DAG, resolves
// the single target account, and checks every wave against the per-job size
// quota. No recovery job is launched here.
func (e *Engine) CreateExecution(ctx context.Context, plan *ripcord.RecoveryPlan) (*ripcord.Execution, error) {
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}

	target, err := e.resolver.ResolveTarget(ctx, plan)
	if err != nil {
		return nil, err
	}

	serverCounts := make(map[int]int, len(plan.Waves))
	waveServers := make(map[int][]string, len(plan.Waves))
	for _, wave := range plan.Waves {
		group, err := e.groups.GetGroup(ctx, wave.ProtectionGroupID)
		if err != nil {
			return nil, fmt.Errorf("loading group %q: %w", wave.ProtectionGroupID, err)
		}
		servers, err := resolveWaveServers(wave, group)
		if err != nil {
			return nil, err
		}
		serverCounts[wave.Number] = len(servers)
		waveServers[wave.Number] = servers
	}
	if err := e.capacity.CheckWaveSizes(plan, serverCounts); err != nil {
		e.metrics.IncAdmissionDenials()
		return nil, err
	}

	now := e.clock()
	execution := &ripcord.Execution{
		ID:             uuid.NewString(),
		PlanID:         plan.ID,
		Plan:           plan,
		PlanName:       plan.Name,
		IsDrill:        plan.IsDrill,
		Status:         ripcord.ExecutionStatusPending,
		AccountContext: *target,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, wave := range plan.Waves {
		waveExec := &ripcord.WaveExecution{
			Number:        wave.Number,
			Name:          wave.Name,
			ExecutionType: wave.ExecutionType,
			Status:        ripcord.WaveStatusPending,
		}
		for _, serverID := range waveServers[wave.Number] {
			waveExec.Servers = append(waveExec.Servers, &ripcord.ServerExecution{
				SourceServerID: serverID,
			})
		}
		execution.Waves = append(execution.Waves, waveExec)
	}

	if err := e.executions.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("persisting execution: %w", err)
	}
	e.logger.Info("created execution",
		"execution_id", execution.ID,
		"plan_id", plan.ID,
		"target_account", target.AccountID,
		"waves", len(execution.Waves))
	return execution, nil
}

// Start moves a pending execution to running and advances it. Assuming the
// target role up front surfaces authorization failures before any wave
// launches.
func (e *Engine) Start(ctx context.Context, executionID string) error {
	execution, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if execution.Status != ripcord.ExecutionStatusPending {
		return ripcord.NewValidationError("execution %s is %s, not pending", executionID, execution.Status)
	}

	if _, err := e.services.ForAccount(ctx, execution.AccountContext); err != nil {
		if ripcord.IsAuthorization(err) {
			e.finalize(ctx, execution, ripcord.ExecutionStatusFailed, err.Error())
			return err
		}
		return err
	}

	now := e.clock()
	execution.Transition(ripcord.ExecutionStatusRunning, now)
	execution.UpdatedAt = now
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		return err
	}
	e.metrics.IncExecutionsStarted()
	e.notify(ctx, execution, ripcord.EventExecutionStarted, 0, nil)
	return e.Advance(ctx, executionID)
}

// Advance is the engine's idempotent unit of work: it launches every wave
// that is currently eligible, honors pause checkpoints, continues sequential
// waves, enforces the wave timeout, and finalizes the execution when all
// waves are done. It is invoked after creation, after a resume signal, and by
// the reconciliation poller whenever converged state may have unlocked work.
func (e *Engine) Advance(ctx context.Context, executionID string) error {
	execution, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	// Terminal executions accept no further work; paused executions wait
	// for their callback signal.
	if execution.Status.Terminal() || execution.Status == ripcord.ExecutionStatusPaused {
		return nil
	}
	if execution.Status != ripcord.ExecutionStatusRunning {
		return nil
	}

	now := e.clock()
	timeout := e.planWaveTimeout(execution.Plan)
	for _, waveExec := range execution.Waves {
		if timedOut(waveExec, now, timeout) {
			msg := fmt.Sprintf("wave %d did not converge within %s", waveExec.Number, timeout)
			e.finalize(ctx, execution, ripcord.ExecutionStatusTimeout, msg)
			return nil
		}
		if waveExec.Status == ripcord.WaveStatusFailed {
			msg := fmt.Sprintf("wave %d failed: %s", waveExec.Number, waveExec.StatusMessage)
			e.finalize(ctx, execution, ripcord.ExecutionStatusFailed, msg)
			return nil
		}
	}

	svc, err := e.services.ForAccount(ctx, execution.AccountContext)
	if err != nil {
		if ripcord.IsAuthorization(err) {
			e.finalize(ctx, execution, ripcord.ExecutionStatusFailed, err.Error())
		}
		return err
	}

	cont, err := e.continueSequentialWaves(ctx, execution, svc)
	if err != nil {
		return err
	}
	if !cont {
		return nil
	}

	waveGraph := buildWaveGraph(execution.Plan)
	done := make(map[string]bool)
	allDone := true
	for _, waveExec := range execution.Waves {
		if waveExec.Status.Terminal() {
			done[strconv.Itoa(waveExec.Number)] = true
		} else {
			allDone = false
		}
	}
	if allDone {
		e.finalizeCompleted(ctx, execution)
		return nil
	}

	for _, name := range waveGraph.Ready(done) {
		number, _ := strconv.Atoi(name)
		waveExec, _ := execution.Wave(number)
		if waveExec == nil || waveExec.Status != ripcord.WaveStatusPending {
			continue
		}
		wave, ok := execution.Plan.Wave(number)
		if !ok {
			continue
		}

		if !e.waitElapsed(execution, wave, now) {
			continue
		}

		if wave.PauseBefore && !waveExec.PauseReleased {
			return e.pauseBeforeWave(ctx, execution, wave)
		}

		cont, err := e.launchWave(ctx, execution, wave, waveExec, svc)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}

	// Everything material was persisted as it happened; this write only
	// freshens the timestamp, so losing a race here is harmless.
	execution.UpdatedAt = e.clock()
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		if errors.Is(err, ripcord.ErrRevisionConflict) {
			e.logger.Debug("advance lost a revision race", "execution_id", execution.ID)
			return nil
		}
		return err
	}
	return nil
}

// waveTimeout returns the plan's timeout override or the engine default.
func (e *Engine) planWaveTimeout(plan *ripcord.RecoveryPlan) time.Duration {
	if plan != nil && plan.WaveTimeout > 0 {
		return plan.WaveTimeout
	}
	return e.waveTimeout
}

func timedOut(waveExec *ripcord.WaveExecution, now time.Time, timeout time.Duration) bool {
	if waveExec.Status != ripcord.WaveStatusLaunched && waveExec.Status != ripcord.WaveStatusPolling {
		return false
	}
	if waveExec.LaunchedAt.IsZero() {
		return false
	}
	return now.Sub(waveExec.LaunchedAt) > timeout
}

// waitElapsed reports whether the wave's configured settle delay after its
// dependencies completed has passed.
func (e *Engine) waitElapsed(execution *ripcord.Execution, wave *ripcord.Wave, now time.Time) bool {
	if wave.WaitSeconds <= 0 {
		return true
	}
	anchor := execution.StartTime
	for _, dep := range wave.DependsOn {
		if depExec, ok := execution.Wave(dep); ok && depExec.CompletedAt.After(anchor) {
			anchor = depExec.CompletedAt
		}
	}
	return !now.Before(anchor.Add(time.Duration(wave.WaitSeconds) * time.Second))
}

// pauseBeforeWave checkpoints the execution with a durable callback token and
// suspends without holding a thread. Resumption arrives externally through
// Resume.
func (e *Engine) pauseBeforeWave(ctx context.Context, execution *ripcord.Execution, wave *ripcord.Wave) error {
	token, err := e.callbacks.IssueToken(ctx, execution.ID, wave.Number)
	if err != nil {
		return fmt.Errorf("issuing callback token: %w", err)
	}
	now := e.clock()
	waveNumber := wave.Number
	execution.PausedBeforeWave = &waveNumber
	execution.CallbackToken = token
	execution.CurrentWaveIndex = wave.Number
	execution.Transition(ripcord.ExecutionStatusPaused, now)
	execution.UpdatedAt = now
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		return err
	}
	e.logger.Info("paused before wave",
		"execution_id", execution.ID, "wave_number", wave.Number)
	e.notify(ctx, execution, ripcord.EventExecutionPaused, wave.Number, nil)
	return nil
}

// launchWave re-checks admission against current usage, applies drifted
// launch configuration, and starts the recovery job. The returned job id is
// persisted immediately, before any further wave is considered: a started job
// whose id only lives in memory would be relaunched by the next advance if
// this pass aborted, and a launched wave without a job id is a bug signal,
// never a valid state. Returns whether the caller may keep advancing with its
// in-memory record.
func (e *Engine) launchWave(ctx context.Context, execution *ripcord.Execution, wave *ripcord.Wave, waveExec *ripcord.WaveExecution, svc ripcord.RecoveryService) (bool, error) {
	serverIDs := make([]string, len(waveExec.Servers))
	for i, s := range waveExec.Servers {
		serverIDs[i] = s.SourceServerID
	}

	if err := e.capacity.AdmitWave(ctx, svc, execution.AccountContext.AccountID, wave.Number, len(serverIDs)); err != nil {
		e.metrics.IncAdmissionDenials()
		return false, err
	}

	group, err := e.groups.GetGroup(ctx, wave.ProtectionGroupID)
	if err != nil {
		return false, fmt.Errorf("loading group %q: %w", wave.ProtectionGroupID, err)
	}
	if _, err := e.launchConfigs.EnsureApplied(ctx, svc, group, serverIDs); err != nil {
		waveExec.ApplyStatus(ripcord.WaveStatusFailed)
		waveExec.StatusMessage = err.Error()
		execution.UpdatedAt = e.clock()
		if uerr := e.executions.UpdateExecution(ctx, execution); uerr != nil {
			return false, uerr
		}
		e.finalize(ctx, execution, ripcord.ExecutionStatusFailed, err.Error())
		return false, nil
	}

	var launchIDs []string
	if wave.ExecutionType == ripcord.ExecutionTypeSequential {
		// One server at a time, in listed order. The next server launches
		// once reconciliation reports this job complete.
		launchIDs = serverIDs[:1]
	} else {
		launchIDs = serverIDs
	}

	job, err := svc.StartJob(ctx, launchIDs, execution.IsDrill)
	if err != nil {
		waveExec.ApplyStatus(ripcord.WaveStatusFailed)
		waveExec.StatusMessage = err.Error()
		execution.UpdatedAt = e.clock()
		if uerr := e.executions.UpdateExecution(ctx, execution); uerr != nil {
			return false, uerr
		}
		e.finalize(ctx, execution, ripcord.ExecutionStatusFailed, err.Error())
		return false, nil
	}

	now := e.clock()
	waveExec.JobID = job.ID
	waveExec.LaunchedAt = now
	waveExec.ApplyStatus(ripcord.WaveStatusLaunched)
	for _, id := range launchIDs {
		if server, ok := waveExec.Server(id); ok {
			server.JobID = job.ID
			server.ApplyLaunchStatus(ripcord.LaunchStatusPending)
		}
	}
	execution.CurrentWaveIndex = wave.Number
	execution.UpdatedAt = now
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		if errors.Is(err, ripcord.ErrRevisionConflict) {
			return false, e.recordLaunch(ctx, execution.ID, wave.Number, job.ID, launchIDs)
		}
		return false, err
	}
	e.metrics.IncWavesLaunched()
	e.logger.Info("launched wave",
		"execution_id", execution.ID,
		"wave_number", wave.Number,
		"job_id", job.ID,
		"servers", len(launchIDs),
		"execution_type", wave.ExecutionType)
	return true, nil
}

// recordLaunch lands a started job's id on a freshly loaded record after the
// caller's copy lost a revision race. The job is already running upstream, so
// its id must become durable no matter what else happened to the record.
func (e *Engine) recordLaunch(ctx context.Context, executionID string, waveNumber int, jobID string, launchIDs []string) error {
	for attempt := 0; attempt < 5; attempt++ {
		execution, err := e.executions.GetExecution(ctx, executionID)
		if err != nil {
			return err
		}
		waveExec, ok := execution.Wave(waveNumber)
		if !ok {
			return fmt.Errorf("execution %s has no wave %d", executionID, waveNumber)
		}
		now := e.clock()
		waveExec.JobID = jobID
		if waveExec.LaunchedAt.IsZero() {
			waveExec.LaunchedAt = now
		}
		waveExec.ApplyStatus(ripcord.WaveStatusLaunched)
		for _, id := range launchIDs {
			if server, ok := waveExec.Server(id); ok {
				server.JobID = jobID
				server.ApplyLaunchStatus(ripcord.LaunchStatusPending)
			}
		}
		if execution.CurrentWaveIndex < waveNumber {
			execution.CurrentWaveIndex = waveNumber
		}
		execution.UpdatedAt = now
		err = e.executions.UpdateExecution(ctx, execution)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ripcord.ErrRevisionConflict) {
			return err
		}
	}
	return fmt.Errorf("recording job %s for wave %d of execution %s: %w",
		jobID, waveNumber, executionID, ripcord.ErrRevisionConflict)
}

// continueSequentialWaves launches the next server job for sequential waves
// whose in-flight job has finished. Each started job is persisted before the
// next launch. Returns whether the caller may keep advancing with its
// in-memory record.
func (e *Engine) continueSequentialWaves(ctx context.Context, execution *ripcord.Execution, svc ripcord.RecoveryService) (bool, error) {
	for _, waveExec := range execution.Waves {
		if waveExec.ExecutionType != ripcord.ExecutionTypeSequential {
			continue
		}
		if waveExec.Status != ripcord.WaveStatusLaunched && waveExec.Status != ripcord.WaveStatusPolling {
			continue
		}
		next := nextSequentialServer(waveExec)
		if next == nil {
			continue
		}
		job, err := svc.StartJob(ctx, []string{next.SourceServerID}, execution.IsDrill)
		if err != nil {
			waveExec.ApplyStatus(ripcord.WaveStatusFailed)
			waveExec.StatusMessage = err.Error()
			execution.UpdatedAt = e.clock()
			if uerr := e.executions.UpdateExecution(ctx, execution); uerr != nil {
				return false, uerr
			}
			e.finalize(ctx, execution, ripcord.ExecutionStatusFailed, err.Error())
			return false, nil
		}
		next.JobID = job.ID
		next.ApplyLaunchStatus(ripcord.LaunchStatusPending)
		waveExec.JobID = job.ID
		execution.UpdatedAt = e.clock()
		if err := e.executions.UpdateExecution(ctx, execution); err != nil {
			if errors.Is(err, ripcord.ErrRevisionConflict) {
				return false, e.recordLaunch(ctx, execution.ID, waveExec.Number, job.ID, []string{next.SourceServerID})
			}
			return false, err
		}
		e.metrics.IncWavesLaunched()
		e.logger.Info("launched next sequential server",
			"execution_id", execution.ID,
			"wave_number", waveExec.Number,
			"server_id", next.SourceServerID,
			"job_id", job.ID)
	}
	return true, nil
}

// nextSequentialServer returns the first unlaunched server once every
// launched predecessor has reached a successful terminal launch state, or nil
// when the wave has nothing to launch right now.
func nextSequentialServer(waveExec *ripcord.WaveExecution) *ripcord.ServerExecution {
	for _, server := range waveExec.Servers {
		if server.JobID == "" {
			return server
		}
		if server.LaunchStatus != ripcord.LaunchStatusLaunched {
			// Previous server still in flight or failed; nothing to do.
			return nil
		}
	}
	return nil
}

// finalizeCompleted ends an execution whose waves are all terminal and none
// failed. Waves that ended unknown are carried in the error note for operator
// attention without failing the execution.
func (e *Engine) finalizeCompleted(ctx context.Context, execution *ripcord.Execution) {
	var unknown []int
	for _, waveExec := range execution.Waves {
		if waveExec.Status == ripcord.WaveStatusUnknown {
			unknown = append(unknown, waveExec.Number)
		}
	}
	msg := ""
	if len(unknown) > 0 {
		msg = fmt.Sprintf("completed with unknown waves %v: authoritative job state expired upstream", unknown)
	}
	e.finalize(ctx, execution, ripcord.ExecutionStatusCompleted, msg)
}

// finalize records the terminal status on the persisted record before any
// notification is sent, so stored state and notifications can never disagree.
// Returns the persist error so callers gating side effects on the terminal
// write can react; most call sites ignore it, since an unpersisted terminal
// status is re-derived and re-finalized on the next advance.
func (e *Engine) finalize(ctx context.Context, execution *ripcord.Execution, status ripcord.ExecutionStatus, message string) error {
	now := e.clock()
	if !execution.Transition(status, now) {
		return nil
	}
	execution.Error = message
	execution.UpdatedAt = now
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		e.logger.Error("failed to persist terminal status",
			"execution_id", execution.ID, "status", status, "error", err)
		return err
	}
	e.metrics.IncExecutionsFinished(string(status))

	eventType := ripcord.EventExecutionCompleted
	switch status {
	case ripcord.ExecutionStatusFailed, ripcord.ExecutionStatusTimeout:
		eventType = ripcord.EventExecutionFailed
	case ripcord.ExecutionStatusCancelled:
		eventType = ripcord.EventExecutionCancelled
	}
	detail := map[string]any{"waves": len(execution.Waves)}
	if message != "" {
		detail["message"] = message
	}
	e.notify(ctx, execution, eventType, 0, detail)
	e.logger.Info("execution finished",
		"execution_id", execution.ID, "status", status, "message", message)
	return nil
}

func (e *Engine) notify(ctx context.Context, execution *ripcord.Execution, eventType ripcord.EventType, waveNumber int, detail map[string]any) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, &ripcord.Event{
		Type:        eventType,
		ExecutionID: execution.ID,
		PlanID:      execution.PlanID,
		PlanName:    execution.PlanName,
		WaveNumber:  waveNumber,
		Timestamp:   e.clock(),
		Detail:      detail,
	})
}

// waveNode adapts a plan wave to the dependency graph.
type waveNode struct {
	wave *ripcord.Wave
}

func (n waveNode) Name() string {
	return strconv.Itoa(n.wave.Number)
}

func (n waveNode) Dependencies() []string {
	deps := make([]string, len(n.wave.DependsOn))
	for i, d := range n.wave.DependsOn {
		deps[i] = strconv.Itoa(d)
	}
	return deps
}

// ValidatePlan checks plan structure plus the dependency DAG, including cycle
// detection.
func ValidatePlan(plan *ripcord.RecoveryPlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	if err := buildWaveGraph(plan).Validate(); err != nil {
		return ripcord.NewValidationError("plan %q: %v", plan.ID, err)
	}
	return nil
}

func buildWaveGraph(plan *ripcord.RecoveryPlan) *graph.Graph {
	nodes := make([]graph.Node, len(plan.Waves))
	for i, wave := range plan.Waves {
		nodes[i] = waveNode{wave: wave}
	}
	return graph.New(nodes)
}

// resolveWaveServers returns the server ids a wave will launch. A wave that
// lists explicit servers must stay within its group's membership; a wave with
// no explicit list launches the whole group.
func resolveWaveServers(wave *ripcord.Wave, group *ripcord.ProtectionGroup) ([]string, error) {
	if len(wave.ServerIDs) == 0 {
		return append([]string{}, group.SourceServerIDs...), nil
	}
	members := make(map[string]bool, len(group.SourceServerIDs))
	for _, id := range group.SourceServerIDs {
		members[id] = true
	}
	for _, id := range wave.ServerIDs {
		if !members[id] {
			return nil, ripcord.NewValidationError("wave %d references server %q outside group %q", wave.Number, id, group.ID)
		}
	}
	return append([]string{}, wave.ServerIDs...), nil
}
