package launchconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/retry"
	"github.com/ripcord-io/ripcord/slogger"
)

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Groups ripcord.GroupStore
	Logger slogger.Logger
	Clock  func() time.Time
}

// Resolver computes effective launch configurations and applies them to the
// recovery service, skipping servers whose stored configuration hash is
// unchanged.
type Resolver struct {
	groups ripcord.GroupStore
	logger slogger.Logger
	clock  func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(opts ResolverOptions) (*Resolver, error) {
	if opts.Groups == nil {
		return nil, fmt.Errorf("group store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Resolver{groups: opts.Groups, logger: opts.Logger, clock: opts.Clock}, nil
}

// EnsureApplied resolves the effective configuration for each server and
// applies it through the recovery service only where the configuration has
// drifted. The resulting per-server hashes and state are persisted on the
// group's LaunchConfigStatus. Partial application failures mark the status
// failed but record every per-server error rather than stopping at the first.
func (r *Resolver) EnsureApplied(ctx context.Context, svc ripcord.RecoveryService, group *ripcord.ProtectionGroup, serverIDs []string) (*ripcord.LaunchConfigStatus, error) {
	status, err := r.groups.GetLaunchConfigStatus(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("loading launch config status for group %q: %w", group.ID, err)
	}
	if status == nil {
		status = &ripcord.LaunchConfigStatus{
			GroupID: group.ID,
			State:   ripcord.LaunchConfigNotConfigured,
		}
	}
	if status.ConfigHashes == nil {
		status.ConfigHashes = make(map[string]string)
	}

	var applyErrors []string
	applied := 0
	for _, serverID := range serverIDs {
		config, err := EffectiveConfig(group, serverID)
		if err != nil {
			return nil, err
		}
		hash, err := ConfigHash(config)
		if err != nil {
			return nil, err
		}

		// Unchanged hash with a ready status means no drift; skip the
		// reapplication round trip.
		if status.State == ripcord.LaunchConfigReady && status.ConfigHashes[serverID] == hash {
			continue
		}

		err = retry.WithRetry(ctx, func() error {
			return svc.UpdateLaunchConfiguration(ctx, serverID, config)
		})
		if err != nil {
			r.logger.Error("failed to apply launch configuration",
				"group_id", group.ID, "server_id", serverID, "error", err)
			applyErrors = append(applyErrors, fmt.Sprintf("%s: %v", serverID, err))
			continue
		}
		status.ConfigHashes[serverID] = hash
		applied++
	}

	status.LastApplied = r.clock()
	status.Errors = applyErrors
	if len(applyErrors) > 0 {
		status.State = ripcord.LaunchConfigFailed
	} else {
		status.State = ripcord.LaunchConfigReady
	}

	if err := r.groups.PutLaunchConfigStatus(ctx, status); err != nil {
		return nil, fmt.Errorf("persisting launch config status for group %q: %w", group.ID, err)
	}

	if applied > 0 {
		r.logger.Info("applied launch configuration",
			"group_id", group.ID, "applied", applied, "skipped", len(serverIDs)-applied-len(applyErrors))
	}
	if len(applyErrors) > 0 {
		return status, fmt.Errorf("launch configuration failed for %d of %d servers in group %q",
			len(applyErrors), len(serverIDs), group.ID)
	}
	return status, nil
}
