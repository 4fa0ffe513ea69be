package capacity

import (
	"context"
	"fmt"

	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/slogger"
)

// Check names used in capacity violations.
const (
	CheckWaveSize    = "wave_size"
	CheckConcurrency = "concurrent_jobs"
	CheckAggregate   = "servers_in_all_jobs"
)

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	Limits ripcord.ServiceLimits
	Cache  *UsageCache
	Logger slogger.Logger
}

// Controller validates wave sizes and in-flight job and server counts against
// recovery-service quotas before new work is admitted. The three checks are
// independent and composable. The recovery-service client is passed per call
// because it is scoped to the execution's target account.
type Controller struct {
	limits ripcord.ServiceLimits
	cache  *UsageCache
	logger slogger.Logger
}

// NewController creates a Controller.
func NewController(opts ControllerOptions) *Controller {
	if opts.Limits == (ripcord.ServiceLimits{}) {
		opts.Limits = ripcord.DefaultServiceLimits()
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	return &Controller{
		limits: opts.Limits,
		cache:  opts.Cache,
		logger: opts.Logger,
	}
}

// Limits returns the quota set the controller enforces.
func (c *Controller) Limits() ripcord.ServiceLimits {
	return c.limits
}

// CheckWaveSizes validates every wave's resolved server count against the
// per-job quota. All violations are collected; the check does not
// short-circuit on the first offending wave.
func (c *Controller) CheckWaveSizes(plan *ripcord.RecoveryPlan, serverCounts map[int]int) error {
	var violations []ripcord.CapacityViolation
	for _, wave := range plan.Waves {
		count := serverCounts[wave.Number]
		if count > c.limits.MaxServersPerJob {
			violations = append(violations, ripcord.CapacityViolation{
				Check:      CheckWaveSize,
				WaveNumber: wave.Number,
				Count:      count,
				Limit:      c.limits.MaxServersPerJob,
			})
		}
	}
	if len(violations) > 0 {
		return &ripcord.CapacityExceededError{Violations: violations}
	}
	return nil
}

// CurrentUsage fetches the in-flight job and server counts for the target
// account, consulting the cache first. An account or region where the
// recovery service has never been initialized counts as zero usage; that is
// a valid state, not an error.
func (c *Controller) CurrentUsage(ctx context.Context, svc ripcord.RecoveryService, accountID string) (ripcord.Usage, error) {
	if usage, ok := c.cache.Get(accountID); ok {
		return usage, nil
	}

	jobs, err := svc.ListJobs(ctx)
	if err != nil {
		if ripcord.IsNotInitialized(err) {
			c.logger.Debug("recovery service not initialized, counting zero usage", "account_id", accountID)
			usage := ripcord.Usage{}
			c.cache.Put(accountID, usage)
			return usage, nil
		}
		return ripcord.Usage{}, fmt.Errorf("listing jobs: %w", err)
	}

	var usage ripcord.Usage
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		usage.ActiveJobs++
		usage.ServersInJobs += len(job.ParticipatingServers)
	}
	c.cache.Put(accountID, usage)
	return usage, nil
}

// AvailableSlots returns how many more jobs may start in the target account.
// Returns CapacityExceededError when no slot is free.
func (c *Controller) AvailableSlots(ctx context.Context, svc ripcord.RecoveryService, accountID string) (int, error) {
	usage, err := c.CurrentUsage(ctx, svc, accountID)
	if err != nil {
		return 0, err
	}
	slots := c.limits.MaxConcurrentJobs - usage.ActiveJobs
	if slots <= 0 {
		return 0, &ripcord.CapacityExceededError{Violations: []ripcord.CapacityViolation{{
			Check: CheckConcurrency,
			Count: usage.ActiveJobs,
			Limit: c.limits.MaxConcurrentJobs,
		}}}
	}
	return slots, nil
}

// AdmitServers checks that servers already in non-terminal jobs plus the
// servers about to be admitted fit under the aggregate quota.
func (c *Controller) AdmitServers(ctx context.Context, svc ripcord.RecoveryService, accountID string, adding int) error {
	usage, err := c.CurrentUsage(ctx, svc, accountID)
	if err != nil {
		return err
	}
	total := usage.ServersInJobs + adding
	if total > c.limits.MaxServersInAllJobs {
		return &ripcord.CapacityExceededError{Violations: []ripcord.CapacityViolation{{
			Check: CheckAggregate,
			Count: total,
			Limit: c.limits.MaxServersInAllJobs,
		}}}
	}
	return nil
}

// AdmitWave composes the per-wave checks run immediately before a launch:
// wave size, a free job slot, and aggregate server headroom. On success the
// cached usage snapshot is invalidated, since the launch makes it stale.
func (c *Controller) AdmitWave(ctx context.Context, svc ripcord.RecoveryService, accountID string, waveNumber, serverCount int) error {
	if serverCount > c.limits.MaxServersPerJob {
		return &ripcord.CapacityExceededError{Violations: []ripcord.CapacityViolation{{
			Check:      CheckWaveSize,
			WaveNumber: waveNumber,
			Count:      serverCount,
			Limit:      c.limits.MaxServersPerJob,
		}}}
	}
	if _, err := c.AvailableSlots(ctx, svc, accountID); err != nil {
		return err
	}
	if err := c.AdmitServers(ctx, svc, accountID, serverCount); err != nil {
		return err
	}
	c.cache.Invalidate(accountID)
	return nil
}
