package capacity

import (
	"context"
	"testing"
	"time"

	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/drs"
	"github.com/stretchr/testify/require"
)

func testLimits() ripcord.ServiceLimits {
	return ripcord.ServiceLimits{
		MaxServersPerJob:    3,
		MaxConcurrentJobs:   2,
		MaxServersInAllJobs: 5,
	}
}

func newTestController(limits ripcord.ServiceLimits) *Controller {
	return NewController(ControllerOptions{
		Limits: limits,
		Cache:  NewUsageCache(time.Minute),
	})
}

func TestCheckWaveSizesCollectsAllViolations(t *testing.T) {
	controller := newTestController(testLimits())
	plan := &ripcord.RecoveryPlan{
		ID: "p",
		Waves: []*ripcord.Wave{
			{Number: 1, ProtectionGroupID: "g"},
			{Number: 2, ProtectionGroupID: "g"},
			{Number: 3, ProtectionGroupID: "g"},
		},
	}
	counts := map[int]int{1: 5, 2: 2, 3: 4}

	err := controller.CheckWaveSizes(plan, counts)
	var capErr *ripcord.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	require.Len(t, capErr.Violations, 2)
	require.Equal(t, 1, capErr.Violations[0].WaveNumber)
	require.Equal(t, 3, capErr.Violations[1].WaveNumber)
	require.Equal(t, CheckWaveSize, capErr.Violations[0].Check)
}

func TestCheckWaveSizesPasses(t *testing.T) {
	controller := newTestController(testLimits())
	plan := &ripcord.RecoveryPlan{
		ID:    "p",
		Waves: []*ripcord.Wave{{Number: 1, ProtectionGroupID: "g"}},
	}
	require.NoError(t, controller.CheckWaveSizes(plan, map[int]int{1: 3}))
}

func TestCurrentUsageCountsActiveJobsOnly(t *testing.T) {
	ctx := context.Background()
	fake := drs.NewFake()
	_, err := fake.StartJob(ctx, []string{"s1", "s2"}, false)
	require.NoError(t, err)
	job, err := fake.StartJob(ctx, []string{"s3"}, false)
	require.NoError(t, err)
	fake.CompleteJob(job.ID)

	controller := newTestController(testLimits())
	usage, err := controller.CurrentUsage(ctx, fake, "111111111111")
	require.NoError(t, err)
	require.Equal(t, 1, usage.ActiveJobs)
	require.Equal(t, 2, usage.ServersInJobs)
}

func TestCurrentUsageNotInitializedIsZero(t *testing.T) {
	ctx := context.Background()
	fake := drs.NewFake()
	fake.NotInitialized = true

	controller := newTestController(testLimits())
	usage, err := controller.CurrentUsage(ctx, fake, "111111111111")
	require.NoError(t, err)
	require.Zero(t, usage.ActiveJobs)
	require.Zero(t, usage.ServersInJobs)
}

func TestAvailableSlotsExhausted(t *testing.T) {
	ctx := context.Background()
	fake := drs.NewFake()
	for i := 0; i < 2; i++ {
		_, err := fake.StartJob(ctx, []string{"s"}, false)
		require.NoError(t, err)
	}

	controller := newTestController(testLimits())
	_, err := controller.AvailableSlots(ctx, fake, "111111111111")
	var capErr *ripcord.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, CheckConcurrency, capErr.Violations[0].Check)
}

func TestAdmitServersAggregateLimit(t *testing.T) {
	ctx := context.Background()
	fake := drs.NewFake()
	_, err := fake.StartJob(ctx, []string{"s1", "s2", "s3"}, false)
	require.NoError(t, err)

	controller := newTestController(testLimits())
	require.NoError(t, controller.AdmitServers(ctx, fake, "111111111111", 2))

	controller = newTestController(testLimits())
	err = controller.AdmitServers(ctx, fake, "111111111111", 3)
	var capErr *ripcord.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, CheckAggregate, capErr.Violations[0].Check)
}

func TestAdmitWaveInvalidatesCacheOnSuccess(t *testing.T) {
	ctx := context.Background()
	fake := drs.NewFake()
	cache := NewUsageCache(time.Minute)
	controller := NewController(ControllerOptions{Limits: testLimits(), Cache: cache})

	require.NoError(t, controller.AdmitWave(ctx, fake, "111111111111", 1, 2))
	_, cached := cache.Get("111111111111")
	require.False(t, cached)
}

func TestUsageCacheTTL(t *testing.T) {
	now := time.Now()
	cache := NewUsageCache(time.Second)
	cache.now = func() time.Time { return now }

	cache.Put("acct", ripcord.Usage{ActiveJobs: 1})
	usage, ok := cache.Get("acct")
	require.True(t, ok)
	require.Equal(t, 1, usage.ActiveJobs)

	now = now.Add(2 * time.Second)
	_, ok = cache.Get("acct")
	require.False(t, ok)
}

func TestUsageCacheZeroTTLDisabled(t *testing.T) {
	cache := NewUsageCache(0)
	cache.Put("acct", ripcord.Usage{ActiveJobs: 1})
	_, ok := cache.Get("acct")
	require.False(t, ok)
}
