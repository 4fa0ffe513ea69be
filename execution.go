package ripcord

import (
	"time"
)

// ExecutionStatus is the lifecycle status of an Execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusTimeout   ExecutionStatus = "timeout"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final. No further status writes are
// accepted for a terminal execution.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusTimeout, ExecutionStatusCancelled:
		return true
	}
	return false
}

// executionTransitions is the allowed state machine over ExecutionStatus.
var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending: {
		ExecutionStatusRunning,
		ExecutionStatusFailed,
		ExecutionStatusCancelled,
	},
	ExecutionStatusRunning: {
		ExecutionStatusPaused,
		ExecutionStatusCompleted,
		ExecutionStatusFailed,
		ExecutionStatusTimeout,
		ExecutionStatusCancelled,
	},
	ExecutionStatusPaused: {
		ExecutionStatusRunning,
		ExecutionStatusFailed,
		ExecutionStatusCancelled,
	},
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s ExecutionStatus) CanTransition(next ExecutionStatus) bool {
	for _, allowed := range executionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// WaveStatus is the lifecycle status of a WaveExecution.
type WaveStatus string

const (
	WaveStatusPending   WaveStatus = "pending"
	WaveStatusLaunched  WaveStatus = "launched"
	WaveStatusPolling   WaveStatus = "polling"
	WaveStatusCompleted WaveStatus = "completed"
	WaveStatusFailed    WaveStatus = "failed"
	WaveStatusUnknown   WaveStatus = "unknown"
)

// waveStatusRank orders wave statuses so that reconciliation can only ever
// move a wave forward. Completed, failed, and unknown share the top rank;
// once reached, no rank change is possible.
var waveStatusRank = map[WaveStatus]int{
	WaveStatusPending:   0,
	WaveStatusLaunched:  1,
	WaveStatusPolling:   2,
	WaveStatusCompleted: 3,
	WaveStatusFailed:    3,
	WaveStatusUnknown:   3,
}

// Terminal reports whether the wave status is final.
func (s WaveStatus) Terminal() bool {
	return s == WaveStatusCompleted || s == WaveStatusFailed || s == WaveStatusUnknown
}

// Execution is the mutable root aggregate for one invocation of a plan. It is
// owned exclusively by the execution engine for writes; the reconciliation
// poller converges wave and server state through the same conditional-update
// store path.
type Execution struct {
	ID     string `json:"id"`
	PlanID string `json:"plan_id"`

	// Plan is the immutable template snapshot taken at admission time, so
	// the engine can advance the execution without re-reading mutable plan
	// storage.
	Plan *RecoveryPlan `json:"plan"`

	PlanName         string               `json:"plan_name"`
	IsDrill          bool                 `json:"is_drill"`
	Status           ExecutionStatus      `json:"status"`
	AccountContext   TargetAccountContext `json:"account_context"`
	CurrentWaveIndex int                  `json:"current_wave_index"`
	PausedBeforeWave *int                 `json:"paused_before_wave,omitempty"`
	CallbackToken    string               `json:"callback_token,omitempty"`
	Waves            []*WaveExecution     `json:"waves"`
	Error            string               `json:"error,omitempty"`
	StartTime        time.Time            `json:"start_time,omitempty"`
	EndTime          time.Time            `json:"end_time,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`

	// Revision supports conditional writes. The store rejects an update
	// whose revision does not match the stored record.
	Revision int64 `json:"revision"`
}

// Wave returns the wave execution with the given number.
func (e *Execution) Wave(number int) (*WaveExecution, bool) {
	for _, w := range e.Waves {
		if w.Number == number {
			return w, true
		}
	}
	return nil, false
}

// CompletedWaves returns the set of completed wave numbers.
func (e *Execution) CompletedWaves() map[int]bool {
	completed := make(map[int]bool)
	for _, w := range e.Waves {
		if w.Status == WaveStatusCompleted {
			completed[w.Number] = true
		}
	}
	return completed
}

// Transition moves the execution to the next status if the state machine
// allows it. A repeated write of the current status is an idempotent no-op.
// Returns false when the transition is rejected.
func (e *Execution) Transition(next ExecutionStatus, now time.Time) bool {
	if e.Status == next {
		return true
	}
	if e.Status.Terminal() {
		return false
	}
	if !e.Status.CanTransition(next) {
		return false
	}
	e.Status = next
	if next == ExecutionStatusRunning && e.StartTime.IsZero() {
		e.StartTime = now
	}
	if next.Terminal() {
		e.EndTime = now
	}
	return true
}

// WaveExecution is the recorded state of one wave within an Execution.
type WaveExecution struct {
	Number        int                `json:"number"`
	Name          string             `json:"name"`
	ExecutionType ExecutionType      `json:"execution_type"`
	JobID         string             `json:"job_id,omitempty"`
	Status        WaveStatus         `json:"status"`
	StatusMessage string             `json:"status_message,omitempty"`
	PauseReleased bool               `json:"pause_released,omitempty"`
	LaunchedAt    time.Time          `json:"launched_at,omitempty"`
	CompletedAt   time.Time          `json:"completed_at,omitempty"`
	Servers       []*ServerExecution `json:"servers"`
}

// Server returns the server execution for the given source server id.
func (w *WaveExecution) Server(sourceServerID string) (*ServerExecution, bool) {
	for _, s := range w.Servers {
		if s.SourceServerID == sourceServerID {
			return s, true
		}
	}
	return nil, false
}

// ApplyStatus advances the wave status. Transitions are monotonic: a wave
// never moves backward and a terminal wave never changes. Returns true when
// the stored status changed.
func (w *WaveExecution) ApplyStatus(next WaveStatus) bool {
	if next == w.Status {
		return false
	}
	if waveStatusRank[next] <= waveStatusRank[w.Status] {
		return false
	}
	w.Status = next
	return true
}

// ServerExecution is the recorded per-server outcome within a wave. It is
// mutated only by reconciliation once a job exists for the server.
type ServerExecution struct {
	SourceServerID     string       `json:"source_server_id"`
	JobID              string       `json:"job_id,omitempty"`
	LaunchStatus       LaunchStatus `json:"launch_status,omitempty"`
	RecoveryInstanceID string       `json:"recovery_instance_id,omitempty"`
	CloudInstanceID    string       `json:"cloud_instance_id,omitempty"`
	Error              string       `json:"error,omitempty"`
}

// ApplyLaunchStatus advances the server launch status, forward only. Returns
// true when the stored status changed.
func (s *ServerExecution) ApplyLaunchStatus(next LaunchStatus) bool {
	if next == s.LaunchStatus {
		return false
	}
	if launchStatusRank[next] <= launchStatusRank[s.LaunchStatus] {
		return false
	}
	s.LaunchStatus = next
	return true
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	Status *ExecutionStatus `json:"status,omitempty"`
	PlanID *string          `json:"plan_id,omitempty"`
	Limit  int              `json:"limit,omitempty"`
}
