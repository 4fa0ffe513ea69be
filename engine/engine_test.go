package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/account"
	"github.com/ripcord-io/ripcord/callback"
	"github.com/ripcord-io/ripcord/capacity"
	"github.com/ripcord-io/ripcord/drs"
	"github.com/ripcord-io/ripcord/launchconfig"
	"github.com/ripcord-io/ripcord/store"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testHarness struct {
	engine *Engine
	store  *store.Memory
	fake   *drs.Fake
	clock  *testClock
}

func newTestHarness(t *testing.T, limits ripcord.ServiceLimits) *testHarness {
	t.Helper()
	mem := store.NewMemory()
	return buildHarness(t, limits, mem, mem)
}

// buildHarness wires an engine whose execution store may differ from the
// backing memory store, so tests can inject write failures.
func buildHarness(t *testing.T, limits ripcord.ServiceLimits, mem *store.Memory, executions ripcord.ExecutionStore) *testHarness {
	t.Helper()
	fake := drs.NewFake()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	resolver, err := account.NewResolver(account.ResolverOptions{
		Groups:        mem,
		HomeAccountID: "111111111111",
		Accounts: []account.RegisteredAccount{
			{AccountID: "222222222222", ExternalID: "ext-222"},
		},
	})
	require.NoError(t, err)

	controller := capacity.NewController(capacity.ControllerOptions{
		Limits: limits,
		Cache:  capacity.NewUsageCache(0),
	})

	lcResolver, err := launchconfig.NewResolver(launchconfig.ResolverOptions{
		Groups: mem,
		Clock:  clock.Now,
	})
	require.NoError(t, err)

	callbacks, err := callback.NewService(callback.ServiceOptions{
		Tokens: mem,
		Clock:  clock.Now,
	})
	require.NoError(t, err)

	eng, err := New(Options{
		Executions:    executions,
		Groups:        mem,
		Services:      fake,
		Resolver:      resolver,
		Capacity:      controller,
		LaunchConfigs: lcResolver,
		Callbacks:     callbacks,
		Clock:         clock.Now,
	})
	require.NoError(t, err)

	return &testHarness{engine: eng, store: mem, fake: fake, clock: clock}
}

func (h *testHarness) putGroup(t *testing.T, group *ripcord.ProtectionGroup) {
	t.Helper()
	require.NoError(t, h.store.PutGroup(context.Background(), group))
}

// completeWave marks a wave's stored state completed, standing in for the
// reconciliation poller.
func (h *testHarness) completeWave(t *testing.T, executionID string, waveNumber int) {
	t.Helper()
	ctx := context.Background()
	execution, err := h.store.GetExecution(ctx, executionID)
	require.NoError(t, err)
	waveExec, ok := execution.Wave(waveNumber)
	require.True(t, ok)
	waveExec.ApplyStatus(ripcord.WaveStatusCompleted)
	waveExec.CompletedAt = h.clock.Now()
	for _, server := range waveExec.Servers {
		server.ApplyLaunchStatus(ripcord.LaunchStatusLaunched)
	}
	require.NoError(t, h.store.UpdateExecution(ctx, execution))
}

func (h *testHarness) reload(t *testing.T, executionID string) *ripcord.Execution {
	t.Helper()
	execution, err := h.store.GetExecution(context.Background(), executionID)
	require.NoError(t, err)
	return execution
}

func threeWavePlan(pauseBeforeSecond bool) *ripcord.RecoveryPlan {
	return &ripcord.RecoveryPlan{
		ID:   "plan-1",
		Name: "regional failover",
		Waves: []*ripcord.Wave{
			{Number: 1, Name: "databases", ProtectionGroupID: "g1", ExecutionType: ripcord.ExecutionTypeParallel},
			{Number: 2, Name: "services", ProtectionGroupID: "g2", ExecutionType: ripcord.ExecutionTypeParallel,
				DependsOn: []int{1}, PauseBefore: pauseBeforeSecond},
			{Number: 3, Name: "frontends", ProtectionGroupID: "g3", ExecutionType: ripcord.ExecutionTypeParallel,
				DependsOn: []int{2}},
		},
	}
}

func (h *testHarness) putThreeGroups(t *testing.T) {
	h.putGroup(t, &ripcord.ProtectionGroup{ID: "g1", SourceServerIDs: []string{"db-1", "db-2"}})
	h.putGroup(t, &ripcord.ProtectionGroup{ID: "g2", SourceServerIDs: []string{"svc-1"}})
	h.putGroup(t, &ripcord.ProtectionGroup{ID: "g3", SourceServerIDs: []string{"web-1"}})
}

func TestCreateExecutionBuildsPendingRecord(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putThreeGroups(t)

	execution, err := h.engine.CreateExecution(ctx, threeWavePlan(false))
	require.NoError(t, err)
	require.Equal(t, ripcord.ExecutionStatusPending, execution.Status)
	require.Equal(t, int64(1), execution.Revision)
	require.Len(t, execution.Waves, 3)
	require.Len(t, execution.Waves[0].Servers, 2)
	require.Equal(t, ripcord.WaveStatusPending, execution.Waves[0].Status)
	require.True(t, execution.AccountContext.IsCurrentAccount)

	// Nothing launched at admission time.
	require.Empty(t, h.fake.LastJobID())
}

func TestCreateExecutionRejectsOversizedWave(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.ServiceLimits{
		MaxServersPerJob:    1,
		MaxConcurrentJobs:   10,
		MaxServersInAllJobs: 100,
	})
	h.putThreeGroups(t)

	_, err := h.engine.CreateExecution(ctx, threeWavePlan(false))
	var capErr *ripcord.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	require.Len(t, capErr.Violations, 1)
	require.Equal(t, 1, capErr.Violations[0].WaveNumber)
}

func TestCreateExecutionRejectsMixedAccounts(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putGroup(t, &ripcord.ProtectionGroup{ID: "g1", AccountID: "222222222222", SourceServerIDs: []string{"s1"}})
	h.putGroup(t, &ripcord.ProtectionGroup{ID: "g2", AccountID: "333333333333", SourceServerIDs: []string{"s2"}})

	plan := &ripcord.RecoveryPlan{
		ID:   "plan-mixed",
		Name: "mixed",
		Waves: []*ripcord.Wave{
			{Number: 1, Name: "a", ProtectionGroupID: "g1"},
			{Number: 2, Name: "b", ProtectionGroupID: "g2"},
		},
	}
	_, err := h.engine.CreateExecution(ctx, plan)
	var mixed *ripcord.MixedAccountError
	require.ErrorAs(t, err, &mixed)
}

func TestCreateExecutionRejectsCyclicPlan(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putThreeGroups(t)

	plan := &ripcord.RecoveryPlan{
		ID:   "plan-cycle",
		Name: "cycle",
		Waves: []*ripcord.Wave{
			{Number: 1, Name: "a", ProtectionGroupID: "g1", DependsOn: []int{2}},
			{Number: 2, Name: "b", ProtectionGroupID: "g2", DependsOn: []int{1}},
		},
	}
	_, err := h.engine.CreateExecution(ctx, plan)
	var verr *ripcord.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCreateExecutionRejectsServerOutsideGroup(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putGroup(t, &ripcord.ProtectionGroup{ID: "g1", SourceServerIDs: []string{"s1"}})

	plan := &ripcord.RecoveryPlan{
		ID:   "plan-bad-server",
		Name: "bad",
		Waves: []*ripcord.Wave{
			{Number: 1, Name: "a", ProtectionGroupID: "g1", ServerIDs: []string{"s1", "intruder"}},
		},
	}
	_, err := h.engine.CreateExecution(ctx, plan)
	var verr *ripcord.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Error(), "intruder")
}

func TestStartLaunchesFirstWaveOnly(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putThreeGroups(t)

	execution, err := h.engine.CreateExecution(ctx, threeWavePlan(false))
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx, execution.ID))

	reloaded := h.reload(t, execution.ID)
	require.Equal(t, ripcord.ExecutionStatusRunning, reloaded.Status)
	require.False(t, reloaded.StartTime.IsZero())

	wave1, _ := reloaded.Wave(1)
	require.Equal(t, ripcord.WaveStatusLaunched, wave1.Status)
	require.NotEmpty(t, wave1.JobID)
	for _, server := range wave1.Servers {
		require.Equal(t, wave1.JobID, server.JobID)
		require.Equal(t, ripcord.LaunchStatusPending, server.LaunchStatus)
	}

	// Dependent waves stay pending until wave 1 converges.
	wave2, _ := reloaded.Wave(2)
	require.Equal(t, ripcord.WaveStatusPending, wave2.Status)
	require.Empty(t, wave2.JobID)
}

func TestStartRequiresPendingStatus(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putThreeGroups(t)

	execution, err := h.engine.CreateExecution(ctx, threeWavePlan(false))
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx, execution.ID))

	err = h.engine.Start(ctx, execution.ID)
	var verr *ripcord.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestPauseAndResumeFlow(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putThreeGroups(t)

	execution, err := h.engine.CreateExecution(ctx, threeWavePlan(true))
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx, execution.ID))

	h.completeWave(t, execution.ID, 1)
	require.NoError(t, h.engine.Advance(ctx, execution.ID))

	paused := h.reload(t, execution.ID)
	require.Equal(t, ripcord.ExecutionStatusPaused, paused.Status)
	require.NotNil(t, paused.PausedBeforeWave)
	require.Equal(t, 2, *paused.PausedBeforeWave)
	require.NotEmpty(t, paused.CallbackToken)

	// Wave 2 launches nothing while paused.
	wave2, _ := paused.Wave(2)
	require.Equal(t, ripcord.WaveStatusPending, wave2.Status)

	require.NoError(t, h.engine.Resume(ctx, paused.CallbackToken, true, ""))

	resumed := h.reload(t, execution.ID)
	require.Equal(t, ripcord.ExecutionStatusRunning, resumed.Status)
	require.Nil(t, resumed.PausedBeforeWave)
	require.Empty(t, resumed.CallbackToken)
	wave2, _ = resumed.Wave(2)
	require.Equal(t, ripcord.WaveStatusLaunched, wave2.Status)

	// Tokens are single use.
	err = h.engine.Resume(ctx, paused.CallbackToken, true, "")
	require.ErrorIs(t, err, ripcord.ErrCallbackNotFound)
}

func TestResumeWithFailureAborts(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putThreeGroups(t)

	execution, err := h.engine.CreateExecution(ctx, threeWavePlan(true))
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx, execution.ID))
	h.completeWave(t, execution.ID, 1)
	require.NoError(t, h.engine.Advance(ctx, execution.ID))

	paused := h.reload(t, execution.ID)
	require.NoError(t, h.engine.Resume(ctx, paused.CallbackToken, false, "db validation failed"))

	aborted := h.reload(t, execution.ID)
	require.Equal(t, ripcord.ExecutionStatusFailed, aborted.Status)
	require.Equal(t, "db validation failed", aborted.Error)
	require.False(t, aborted.EndTime.IsZero())
}

func TestCompletionWhenAllWavesDone(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putThreeGroups(t)

	execution, err := h.engine.CreateExecution(ctx, threeWavePlan(false))
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx, execution.ID))

	for wave := 1; wave <= 3; wave++ {
		h.completeWave(t, execution.ID, wave)
		require.NoError(t, h.engine.Advance(ctx, execution.ID))
	}

	done := h.reload(t, execution.ID)
	require.Equal(t, ripcord.ExecutionStatusCompleted, done.Status)
	require.False(t, done.EndTime.IsZero())
}

func TestFailedWaveFailsExecution(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putThreeGroups(t)

	execution, err := h.engine.CreateExecution(ctx, threeWavePlan(false))
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx, execution.ID))

	stored := h.reload(t, execution.ID)
	wave1, _ := stored.Wave(1)
	wave1.ApplyStatus(ripcord.WaveStatusFailed)
	wave1.StatusMessage = "2 of 2 servers failed to launch"
	require.NoError(t, h.store.UpdateExecution(ctx, stored))

	require.NoError(t, h.engine.Advance(ctx, execution.ID))
	failed := h.reload(t, execution.ID)
	require.Equal(t, ripcord.ExecutionStatusFailed, failed.Status)
	require.Contains(t, failed.Error, "wave 1 failed")
}

func TestSequentialWaveLaunchesOneServerAtATime(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putGroup(t, &ripcord.ProtectionGroup{ID: "g1", SourceServerIDs: []string{"s1", "s2", "s3"}})

	plan := &ripcord.RecoveryPlan{
		ID:   "plan-seq",
		Name: "sequential",
		Waves: []*ripcord.Wave{
			{Number: 1, Name: "ordered", ProtectionGroupID: "g1", ExecutionType: ripcord.ExecutionTypeSequential},
		},
	}
	execution, err := h.engine.CreateExecution(ctx, plan)
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx, execution.ID))

	stored := h.reload(t, execution.ID)
	wave, _ := stored.Wave(1)
	require.Equal(t, "job-1", wave.Servers[0].JobID)
	require.Empty(t, wave.Servers[1].JobID)
	require.Empty(t, wave.Servers[2].JobID)

	// First server converges; the next advance launches the second job.
	wave.Servers[0].ApplyLaunchStatus(ripcord.LaunchStatusLaunched)
	require.NoError(t, h.store.UpdateExecution(ctx, stored))
	require.NoError(t, h.engine.Advance(ctx, execution.ID))

	stored = h.reload(t, execution.ID)
	wave, _ = stored.Wave(1)
	require.Equal(t, "job-2", wave.Servers[1].JobID)
	require.Empty(t, wave.Servers[2].JobID)
	require.Equal(t, "job-2", wave.JobID)
}

func TestWaveTimeoutFinalizesExecution(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putThreeGroups(t)

	execution, err := h.engine.CreateExecution(ctx, threeWavePlan(false))
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx, execution.ID))

	h.clock.Advance(DefaultWaveTimeout + time.Minute)
	require.NoError(t, h.engine.Advance(ctx, execution.ID))

	timedOut := h.reload(t, execution.ID)
	require.Equal(t, ripcord.ExecutionStatusTimeout, timedOut.Status)
	require.Contains(t, timedOut.Error, "did not converge")
}

func TestWaitSecondsDelaysDependentWave(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putGroup(t, &ripcord.ProtectionGroup{ID: "g1", SourceServerIDs: []string{"s1"}})
	h.putGroup(t, &ripcord.ProtectionGroup{ID: "g2", SourceServerIDs: []string{"s2"}})

	plan := &ripcord.RecoveryPlan{
		ID:   "plan-wait",
		Name: "settle delay",
		Waves: []*ripcord.Wave{
			{Number: 1, Name: "first", ProtectionGroupID: "g1"},
			{Number: 2, Name: "second", ProtectionGroupID: "g2", DependsOn: []int{1}, WaitSeconds: 120},
		},
	}
	execution, err := h.engine.CreateExecution(ctx, plan)
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx, execution.ID))
	h.completeWave(t, execution.ID, 1)

	// The settle window has not elapsed; wave 2 must stay pending.
	require.NoError(t, h.engine.Advance(ctx, execution.ID))
	stored := h.reload(t, execution.ID)
	wave2, _ := stored.Wave(2)
	require.Equal(t, ripcord.WaveStatusPending, wave2.Status)

	h.clock.Advance(3 * time.Minute)
	require.NoError(t, h.engine.Advance(ctx, execution.ID))
	stored = h.reload(t, execution.ID)
	wave2, _ = stored.Wave(2)
	require.Equal(t, ripcord.WaveStatusLaunched, wave2.Status)
}

func TestCancelIsIdempotentAndTerminal(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putThreeGroups(t)

	execution, err := h.engine.CreateExecution(ctx, threeWavePlan(false))
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx, execution.ID))
	require.NoError(t, h.engine.Cancel(ctx, execution.ID, false))

	cancelled := h.reload(t, execution.ID)
	require.Equal(t, ripcord.ExecutionStatusCancelled, cancelled.Status)

	// Repeat signals against a terminal execution are no-ops.
	require.NoError(t, h.engine.Cancel(ctx, execution.ID, false))
	require.NoError(t, h.engine.Advance(ctx, execution.ID))
	again := h.reload(t, execution.ID)
	require.Equal(t, ripcord.ExecutionStatusCancelled, again.Status)
	require.Equal(t, cancelled.Revision, again.Revision)
}

func TestCancelTerminatesRecoveryInstances(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putThreeGroups(t)

	execution, err := h.engine.CreateExecution(ctx, threeWavePlan(false))
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx, execution.ID))

	stored := h.reload(t, execution.ID)
	wave1, _ := stored.Wave(1)
	wave1.Servers[0].RecoveryInstanceID = "ri-db-1"
	require.NoError(t, h.store.UpdateExecution(ctx, stored))

	require.NoError(t, h.engine.Cancel(ctx, execution.ID, true))
	require.Equal(t, []string{"ri-db-1"}, h.fake.Terminated)
}

func TestCancelWhilePausedRetiresToken(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putThreeGroups(t)

	execution, err := h.engine.CreateExecution(ctx, threeWavePlan(true))
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx, execution.ID))
	h.completeWave(t, execution.ID, 1)
	require.NoError(t, h.engine.Advance(ctx, execution.ID))

	paused := h.reload(t, execution.ID)
	token := paused.CallbackToken
	require.NotEmpty(t, token)

	require.NoError(t, h.engine.Cancel(ctx, execution.ID, false))
	err = h.engine.Resume(ctx, token, true, "")
	require.ErrorIs(t, err, ripcord.ErrCallbackNotFound)
}

// flakyStore fails the next conditional write, standing in for a concurrent
// writer winning a revision race.
type flakyStore struct {
	*store.Memory
	conflictNext bool
}

func (s *flakyStore) UpdateExecution(ctx context.Context, execution *ripcord.Execution) error {
	if s.conflictNext {
		s.conflictNext = false
		return ripcord.ErrRevisionConflict
	}
	return s.Memory.UpdateExecution(ctx, execution)
}

func TestLaunchPersistedBeforeNextWaveAdmission(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.ServiceLimits{
		MaxServersPerJob:    10,
		MaxConcurrentJobs:   1,
		MaxServersInAllJobs: 100,
	})
	h.putGroup(t, &ripcord.ProtectionGroup{ID: "g1", SourceServerIDs: []string{"s1"}})
	h.putGroup(t, &ripcord.ProtectionGroup{ID: "g2", SourceServerIDs: []string{"s2"}})

	plan := &ripcord.RecoveryPlan{
		ID:   "plan-two-roots",
		Name: "independent roots",
		Waves: []*ripcord.Wave{
			{Number: 1, Name: "first", ProtectionGroupID: "g1"},
			{Number: 2, Name: "second", ProtectionGroupID: "g2"},
		},
	}
	execution, err := h.engine.CreateExecution(ctx, plan)
	require.NoError(t, err)

	// Wave 1 takes the only job slot, so wave 2's admission is denied in
	// the same pass.
	err = h.engine.Start(ctx, execution.ID)
	var capErr *ripcord.CapacityExceededError
	require.ErrorAs(t, err, &capErr)

	// The denial must not lose wave 1's started job: its id is already on
	// the stored record.
	stored := h.reload(t, execution.ID)
	wave1, _ := stored.Wave(1)
	require.Equal(t, ripcord.WaveStatusLaunched, wave1.Status)
	require.Equal(t, "job-1", wave1.JobID)
	require.Equal(t, "job-1", wave1.Servers[0].JobID)
	wave2, _ := stored.Wave(2)
	require.Equal(t, ripcord.WaveStatusPending, wave2.Status)
	require.Empty(t, wave2.JobID)

	// Re-advancing is denied again for wave 2 but never relaunches wave 1.
	require.Error(t, h.engine.Advance(ctx, execution.ID))
	require.Equal(t, "job-1", h.fake.LastJobID())
}

func TestLaunchRecordedAfterRevisionRace(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	flaky := &flakyStore{Memory: mem}
	h := buildHarness(t, ripcord.DefaultServiceLimits(), mem, flaky)
	h.putThreeGroups(t)

	execution, err := h.engine.CreateExecution(ctx, threeWavePlan(false))
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx, execution.ID))
	h.completeWave(t, execution.ID, 1)

	// The write recording wave 2's job loses a revision race; the id must
	// still land through a fresh read.
	flaky.conflictNext = true
	require.NoError(t, h.engine.Advance(ctx, execution.ID))

	stored := h.reload(t, execution.ID)
	wave2, _ := stored.Wave(2)
	require.Equal(t, ripcord.WaveStatusLaunched, wave2.Status)
	require.Equal(t, "job-2", wave2.JobID)
	require.Equal(t, "job-2", wave2.Servers[0].JobID)
	require.False(t, wave2.LaunchedAt.IsZero())
}

func TestResumeKeepsTokenWhenWriteLosesRace(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	flaky := &flakyStore{Memory: mem}
	h := buildHarness(t, ripcord.DefaultServiceLimits(), mem, flaky)
	h.putThreeGroups(t)

	execution, err := h.engine.CreateExecution(ctx, threeWavePlan(true))
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(ctx, execution.ID))
	h.completeWave(t, execution.ID, 1)
	require.NoError(t, h.engine.Advance(ctx, execution.ID))

	paused := h.reload(t, execution.ID)
	token := paused.CallbackToken
	require.NotEmpty(t, token)

	flaky.conflictNext = true
	err = h.engine.Resume(ctx, token, true, "")
	require.ErrorIs(t, err, ripcord.ErrRevisionConflict)

	// The failed write must not have consumed the token: the execution is
	// still paused and the retried signal goes through.
	stored := h.reload(t, execution.ID)
	require.Equal(t, ripcord.ExecutionStatusPaused, stored.Status)

	require.NoError(t, h.engine.Resume(ctx, token, true, ""))
	resumed := h.reload(t, execution.ID)
	require.Equal(t, ripcord.ExecutionStatusRunning, resumed.Status)
	wave2, _ := resumed.Wave(2)
	require.Equal(t, ripcord.WaveStatusLaunched, wave2.Status)

	// Now that the signal landed, the token is consumed.
	err = h.engine.Resume(ctx, token, true, "")
	require.ErrorIs(t, err, ripcord.ErrCallbackNotFound)
}

func TestStartJobFailureFailsExecution(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t, ripcord.DefaultServiceLimits())
	h.putThreeGroups(t)

	execution, err := h.engine.CreateExecution(ctx, threeWavePlan(false))
	require.NoError(t, err)

	h.fake.StartJobErr = &ripcord.ExternalServiceError{Op: "StartRecovery", Err: context.DeadlineExceeded}
	require.NoError(t, h.engine.Start(ctx, execution.ID))

	failed := h.reload(t, execution.ID)
	require.Equal(t, ripcord.ExecutionStatusFailed, failed.Status)
	wave1, _ := failed.Wave(1)
	require.Equal(t, ripcord.WaveStatusFailed, wave1.Status)
}
