package ripcord

import (
	"context"
)

// RecoveryService is the typed contract over the wrapped recovery-service
// API. Implementations are possibly slow and possibly throttled; callers
// retry throttling failures with backoff and treat authorization failures as
// fatal.
type RecoveryService interface {
	// StartJob launches a recovery job for the given source servers and
	// returns the job with its identifier assigned.
	StartJob(ctx context.Context, serverIDs []string, isDrill bool) (*Job, error)

	// DescribeJob fetches the authoritative state of one job. Returns
	// ErrJobNotFound when the job has expired upstream.
	DescribeJob(ctx context.Context, jobID string) (*Job, error)

	// ListJobs returns all jobs known to the service in the target account
	// and region. Returns NotInitializedError when the service has never
	// been initialized there.
	ListJobs(ctx context.Context) ([]*Job, error)

	// DescribeRecoveryInstances lists launched recovery instances matching
	// the filter.
	DescribeRecoveryInstances(ctx context.Context, filter RecoveryInstanceFilter) ([]*RecoveryInstance, error)

	// TerminateRecoveryInstances requests termination of launched instances.
	TerminateRecoveryInstances(ctx context.Context, instanceIDs []string) error

	// UpdateLaunchConfiguration applies a launch configuration to a source
	// server.
	UpdateLaunchConfiguration(ctx context.Context, serverID string, config *LaunchConfig) error

	// TagResource applies tags to a service resource.
	TagResource(ctx context.Context, resourceID string, tags map[string]string) error
}

// RecoveryServiceFactory returns a RecoveryService scoped to the given target
// account context. Remote accounts go through a role exchange; the returned
// client carries short-lived credentials and must not outlive the execution
// attempt it was created for.
type RecoveryServiceFactory interface {
	ForAccount(ctx context.Context, target TargetAccountContext) (RecoveryService, error)
}

// IdentityService exchanges a role identifier and external id for short-lived
// credentials.
type IdentityService interface {
	AssumeRole(ctx context.Context, roleArn, externalID, sessionName string) (*ScopedCredentials, error)
}

// ExecutionStore persists Execution records. Updates are conditional on the
// record revision; a stale write returns ErrRevisionConflict. Writes to a
// terminal execution are idempotent no-ops.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, execution *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	UpdateExecution(ctx context.Context, execution *Execution) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)

	// ListExecutionIDsByStatus queries the status secondary index without a
	// full scan. Used by the reconciliation finder.
	ListExecutionIDsByStatus(ctx context.Context, statuses ...ExecutionStatus) ([]string, error)
}

// GroupStore persists ProtectionGroup records and their launch-configuration
// status. Group contents are owned by an external CRUD collaborator; the
// orchestrator writes only LaunchConfigStatus.
type GroupStore interface {
	GetGroup(ctx context.Context, id string) (*ProtectionGroup, error)
	PutGroup(ctx context.Context, group *ProtectionGroup) error
	ListGroups(ctx context.Context) ([]*ProtectionGroup, error)
	// GetLaunchConfigStatus returns nil with no error when the group has
	// no recorded status yet.
	GetLaunchConfigStatus(ctx context.Context, groupID string) (*LaunchConfigStatus, error)
	PutLaunchConfigStatus(ctx context.Context, status *LaunchConfigStatus) error
}

// CallbackStore persists durable pause tokens.
type CallbackStore interface {
	PutCallback(ctx context.Context, callback *Callback) error
	GetCallback(ctx context.Context, token string) (*Callback, error)
	DeleteCallback(ctx context.Context, token string) error
}

// CallbackService issues and resolves opaque callback tokens for pause
// checkpoints. The engine process may terminate while paused; the token alone
// is enough to resume later.
type CallbackService interface {
	IssueToken(ctx context.Context, executionID string, waveNumber int) (string, error)
	Resolve(ctx context.Context, token string) (*Callback, error)
	Complete(ctx context.Context, token string) error
}

// Notifier delivers structured events to a fire-and-forget sink. A failure to
// notify must never fail the orchestration; implementations log and swallow
// delivery errors.
type Notifier interface {
	Notify(ctx context.Context, event *Event)
}
