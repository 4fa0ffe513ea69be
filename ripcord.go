package ripcord

import (
	"fmt"
	"time"
)

// ExecutionType indicates how the servers within a wave are launched.
type ExecutionType string

const (
	// ExecutionTypeSequential launches one server job at a time, in listed order.
	ExecutionTypeSequential ExecutionType = "sequential"

	// ExecutionTypeParallel submits all servers of the wave as one batch job.
	ExecutionTypeParallel ExecutionType = "parallel"
)

// Wave is one ordered group of servers within a RecoveryPlan.
type Wave struct {
	Number            int           `json:"number" yaml:"number" validate:"gte=1"`
	Name              string        `json:"name" yaml:"name" validate:"required"`
	ProtectionGroupID string        `json:"protection_group_id" yaml:"protection_group_id" validate:"required"`
	ServerIDs         []string      `json:"server_ids,omitempty" yaml:"server_ids,omitempty"`
	ExecutionType     ExecutionType `json:"execution_type" yaml:"execution_type" validate:"omitempty,oneof=sequential parallel"`
	DependsOn         []int         `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	WaitSeconds       int           `json:"wait_seconds,omitempty" yaml:"wait_seconds,omitempty" validate:"gte=0"`
	PauseBefore       bool          `json:"pause_before,omitempty" yaml:"pause_before,omitempty"`
}

// RecoveryPlan is an immutable template describing a wave-by-wave failover.
type RecoveryPlan struct {
	ID          string        `json:"id" yaml:"id" validate:"required"`
	Name        string        `json:"name" yaml:"name" validate:"required"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	IsDrill     bool          `json:"is_drill,omitempty" yaml:"is_drill,omitempty"`
	WaveTimeout time.Duration `json:"wave_timeout,omitempty" yaml:"wave_timeout,omitempty"`
	Waves       []*Wave       `json:"waves" yaml:"waves" validate:"required,min=1,dive,required"`
}

// Wave returns the wave with the given number.
func (p *RecoveryPlan) Wave(number int) (*Wave, bool) {
	for _, w := range p.Waves {
		if w.Number == number {
			return w, true
		}
	}
	return nil, false
}

// Validate checks plan structure: unique wave numbers and a dependency
// relation that only references waves present in the plan. Cycle detection
// is owned by the graph package.
func (p *RecoveryPlan) Validate() error {
	if len(p.Waves) == 0 {
		return NewValidationError("plan %q has no waves", p.ID)
	}
	seen := make(map[int]bool, len(p.Waves))
	for _, w := range p.Waves {
		if w.Number < 1 {
			return NewValidationError("plan %q: wave number %d is invalid", p.ID, w.Number)
		}
		if seen[w.Number] {
			return NewValidationError("plan %q: duplicate wave number %d", p.ID, w.Number)
		}
		seen[w.Number] = true
		if w.ProtectionGroupID == "" {
			return NewValidationError("plan %q: wave %d has no protection group", p.ID, w.Number)
		}
	}
	for _, w := range p.Waves {
		for _, dep := range w.DependsOn {
			if !seen[dep] {
				return NewValidationError("plan %q: wave %d depends on unknown wave %d", p.ID, w.Number, dep)
			}
			if dep == w.Number {
				return NewValidationError("plan %q: wave %d depends on itself", p.ID, w.Number)
			}
		}
	}
	return nil
}

// ServerEntry is one server's membership in a ProtectionGroup, carrying its
// launch override settings. LaunchOverrides is the raw override document as
// supplied by the caller; field names are validated against the override
// allow-list before use. A nil LaunchOverrides map means "no override entry",
// which is distinct from an empty map.
type ServerEntry struct {
	ServerID         string            `json:"server_id" yaml:"server_id" validate:"required"`
	UseGroupDefaults bool              `json:"use_group_defaults" yaml:"use_group_defaults"`
	LaunchOverrides  map[string]any    `json:"launch_overrides,omitempty" yaml:"launch_overrides,omitempty"`
	Tags             map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// ProtectionGroup is a set of replicating servers owned by one account and
// region. It is owned by its CRUD collaborator and read-only to the
// orchestrator.
type ProtectionGroup struct {
	ID              string            `json:"id" yaml:"id" validate:"required"`
	Name            string            `json:"name" yaml:"name"`
	AccountID       string            `json:"account_id,omitempty" yaml:"account_id,omitempty" validate:"omitempty,len=12,numeric"`
	Region          string            `json:"region" yaml:"region"`
	SourceServerIDs []string          `json:"source_server_ids" yaml:"source_server_ids"`
	LaunchDefaults  *LaunchConfig     `json:"launch_defaults,omitempty" yaml:"launch_defaults,omitempty"`
	Servers         []*ServerEntry    `json:"servers,omitempty" yaml:"servers,omitempty"`
	Tags            map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Server returns the entry for the given server id, if present.
func (g *ProtectionGroup) Server(serverID string) (*ServerEntry, bool) {
	for _, s := range g.Servers {
		if s.ServerID == serverID {
			return s, true
		}
	}
	return nil, false
}

// LaunchConfig is a launch configuration with optional fields. A nil pointer
// means the field is absent, which is distinct from a field set to its zero
// value. Only fields on this struct may be overridden per server; anything
// owned by the recovery service itself (boot image, user data, block device
// mappings) is deliberately not representable here.
type LaunchConfig struct {
	InstanceType      *string           `json:"instance_type,omitempty" yaml:"instance_type,omitempty"`
	SubnetID          *string           `json:"subnet_id,omitempty" yaml:"subnet_id,omitempty"`
	SecurityGroupIDs  []string          `json:"security_group_ids,omitempty" yaml:"security_group_ids,omitempty"`
	PrivateIP         *string           `json:"private_ip,omitempty" yaml:"private_ip,omitempty"`
	CopyPrivateIP     *bool             `json:"copy_private_ip,omitempty" yaml:"copy_private_ip,omitempty"`
	CopyTags          *bool             `json:"copy_tags,omitempty" yaml:"copy_tags,omitempty"`
	LaunchDisposition *string           `json:"launch_disposition,omitempty" yaml:"launch_disposition,omitempty"`
	RightSizing       *string           `json:"right_sizing,omitempty" yaml:"right_sizing,omitempty"`
	Tags              map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Clone returns a deep copy of the configuration.
func (c *LaunchConfig) Clone() *LaunchConfig {
	if c == nil {
		return &LaunchConfig{}
	}
	out := &LaunchConfig{}
	out.InstanceType = cloneStringPtr(c.InstanceType)
	out.SubnetID = cloneStringPtr(c.SubnetID)
	out.PrivateIP = cloneStringPtr(c.PrivateIP)
	out.LaunchDisposition = cloneStringPtr(c.LaunchDisposition)
	out.RightSizing = cloneStringPtr(c.RightSizing)
	out.CopyPrivateIP = cloneBoolPtr(c.CopyPrivateIP)
	out.CopyTags = cloneBoolPtr(c.CopyTags)
	if c.SecurityGroupIDs != nil {
		out.SecurityGroupIDs = append([]string{}, c.SecurityGroupIDs...)
	}
	if c.Tags != nil {
		out.Tags = make(map[string]string, len(c.Tags))
		for k, v := range c.Tags {
			out.Tags[k] = v
		}
	}
	return out
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneBoolPtr(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// LaunchConfigState describes whether a group's launch configuration has been
// applied to the recovery service.
type LaunchConfigState string

const (
	LaunchConfigReady         LaunchConfigState = "ready"
	LaunchConfigPending       LaunchConfigState = "pending"
	LaunchConfigFailed        LaunchConfigState = "failed"
	LaunchConfigNotConfigured LaunchConfigState = "not_configured"
)

// LaunchConfigStatus records the last-applied launch configuration for a
// protection group, keyed per server by content hash for drift detection.
type LaunchConfigStatus struct {
	GroupID      string            `json:"group_id"`
	State        LaunchConfigState `json:"state"`
	ConfigHashes map[string]string `json:"config_hashes,omitempty"`
	LastApplied  time.Time         `json:"last_applied,omitempty"`
	Errors       []string          `json:"errors,omitempty"`
}

// TargetAccountContext identifies the cloud account and security context an
// execution runs under. It is derived at admission time and embedded in the
// Execution, never persisted independently.
type TargetAccountContext struct {
	AccountID        string `json:"account_id"`
	RoleArn          string `json:"role_arn,omitempty"`
	ExternalID       string `json:"external_id,omitempty"`
	IsCurrentAccount bool   `json:"is_current_account"`
}

// ScopedCredentials are short-lived credentials for one execution attempt.
// Local credentials (home account) carry no secret material.
type ScopedCredentials struct {
	AccessKeyID     string    `json:"access_key_id,omitempty"`
	SecretAccessKey string    `json:"-"`
	SessionToken    string    `json:"-"`
	Expiration      time.Time `json:"expiration,omitempty"`
	Local           bool      `json:"local,omitempty"`
}

// Expired reports whether the credentials have passed their expiry.
func (c ScopedCredentials) Expired(now time.Time) bool {
	if c.Local || c.Expiration.IsZero() {
		return false
	}
	return !now.Before(c.Expiration)
}

// Job is the recovery service's unit of execution for a set of servers.
type Job struct {
	ID                   string                 `json:"id"`
	Status               JobStatus              `json:"status"`
	IsDrill              bool                   `json:"is_drill"`
	CreationTime         time.Time              `json:"creation_time"`
	EndTime              time.Time              `json:"end_time,omitempty"`
	ParticipatingServers []*ParticipatingServer `json:"participating_servers,omitempty"`
}

// JobStatus is the recovery service's own job lifecycle.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusStarted   JobStatus = "STARTED"
	JobStatusCompleted JobStatus = "COMPLETED"
)

// Terminal reports whether the job has finished from the service's view.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted
}

// ParticipatingServer is the authoritative per-server state within a Job.
type ParticipatingServer struct {
	SourceServerID     string       `json:"source_server_id"`
	LaunchStatus       LaunchStatus `json:"launch_status"`
	RecoveryInstanceID string       `json:"recovery_instance_id,omitempty"`
}

// LaunchStatus is the per-server launch lifecycle reported by the recovery
// service.
type LaunchStatus string

const (
	LaunchStatusPending    LaunchStatus = "PENDING"
	LaunchStatusInProgress LaunchStatus = "IN_PROGRESS"
	LaunchStatusLaunched   LaunchStatus = "LAUNCHED"
	LaunchStatusFailed     LaunchStatus = "FAILED"
	LaunchStatusTerminated LaunchStatus = "TERMINATED"
)

var launchStatusRank = map[LaunchStatus]int{
	"":                     0,
	LaunchStatusPending:    1,
	LaunchStatusInProgress: 2,
	LaunchStatusLaunched:   3,
	LaunchStatusFailed:     3,
	LaunchStatusTerminated: 4,
}

// Terminal reports whether a server launch has reached a final state.
func (s LaunchStatus) Terminal() bool {
	return s == LaunchStatusLaunched || s == LaunchStatusFailed || s == LaunchStatusTerminated
}

// RecoveryInstance is a launched target instance tracked by the recovery
// service.
type RecoveryInstance struct {
	ID              string    `json:"id"`
	SourceServerID  string    `json:"source_server_id"`
	CloudInstanceID string    `json:"cloud_instance_id,omitempty"`
	JobID           string    `json:"job_id,omitempty"`
	State           string    `json:"state,omitempty"`
	LaunchTime      time.Time `json:"launch_time,omitempty"`
}

// RecoveryInstanceFilter narrows a DescribeRecoveryInstances call.
type RecoveryInstanceFilter struct {
	SourceServerIDs []string `json:"source_server_ids,omitempty"`
	JobID           string   `json:"job_id,omitempty"`
}

// Usage is a point-in-time snapshot of recovery-service activity used for
// admission decisions.
type Usage struct {
	ActiveJobs    int `json:"active_jobs"`
	ServersInJobs int `json:"servers_in_jobs"`
}

// ServiceLimits are the recovery service quotas admission is checked against.
type ServiceLimits struct {
	MaxServersPerJob    int `json:"max_servers_per_job" yaml:"max_servers_per_job" validate:"gt=0"`
	MaxConcurrentJobs   int `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs" validate:"gt=0"`
	MaxServersInAllJobs int `json:"max_servers_in_all_jobs" yaml:"max_servers_in_all_jobs" validate:"gt=0"`
}

// DefaultServiceLimits returns the published default quotas.
func DefaultServiceLimits() ServiceLimits {
	return ServiceLimits{
		MaxServersPerJob:    200,
		MaxConcurrentJobs:   20,
		MaxServersInAllJobs: 500,
	}
}

// EventType classifies a notification event.
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventWaveCompleted      EventType = "wave_completed"
	EventExecutionPaused    EventType = "execution_paused"
	EventExecutionResumed   EventType = "execution_resumed"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
	EventExecutionCancelled EventType = "execution_cancelled"
)

// Event is a structured, fire-and-forget notification. Delivery failures
// must never fail the orchestration that emitted the event.
type Event struct {
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	PlanID      string         `json:"plan_id,omitempty"`
	PlanName    string         `json:"plan_name,omitempty"`
	WaveNumber  int            `json:"wave_number,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Detail      map[string]any `json:"detail,omitempty"`
}

// Callback is a durable pause checkpoint: an opaque token an external actor
// uses to resume or abort a paused execution.
type Callback struct {
	Token       string    `json:"token"`
	ExecutionID string    `json:"execution_id"`
	WaveNumber  int       `json:"wave_number"`
	IssuedAt    time.Time `json:"issued_at"`
}

// String implements fmt.Stringer for readable wave references in logs.
func (w *Wave) String() string {
	return fmt.Sprintf("wave %d (%s)", w.Number, w.Name)
}
