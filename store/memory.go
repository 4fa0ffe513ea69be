package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ripcord-io/ripcord"
)

// Memory is an in-memory implementation of the execution, group, and
// callback stores. It mirrors the durable store's conditional-write and
// terminal-state semantics so engine and reconciler behavior can be exercised
// without disk state.
type Memory struct {
	mu         sync.RWMutex
	executions map[string]*ripcord.Execution
	groups     map[string]*ripcord.ProtectionGroup
	lcStatus   map[string]*ripcord.LaunchConfigStatus
	callbacks  map[string]*ripcord.Callback
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		executions: make(map[string]*ripcord.Execution),
		groups:     make(map[string]*ripcord.ProtectionGroup),
		lcStatus:   make(map[string]*ripcord.LaunchConfigStatus),
		callbacks:  make(map[string]*ripcord.Callback),
	}
}

func cloneRecord[T any](in *T) *T {
	if in == nil {
		return nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("store: cloning record: %v", err))
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("store: cloning record: %v", err))
	}
	return out
}

// CreateExecution stores a new execution record.
func (m *Memory) CreateExecution(ctx context.Context, execution *ripcord.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[execution.ID]; exists {
		return fmt.Errorf("execution %q already exists", execution.ID)
	}
	execution.Revision = 1
	m.executions[execution.ID] = cloneRecord(execution)
	return nil
}

// GetExecution returns a copy of the stored execution.
func (m *Memory) GetExecution(ctx context.Context, id string) (*ripcord.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.executions[id]
	if !ok {
		return nil, ripcord.ErrExecutionNotFound
	}
	return cloneRecord(stored), nil
}

// UpdateExecution applies a conditional write. The caller's revision must
// match the stored revision or ErrRevisionConflict is returned. Once the
// stored record is terminal, further updates are idempotent no-ops. On
// success the caller's record receives the new revision.
func (m *Memory) UpdateExecution(ctx context.Context, execution *ripcord.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.executions[execution.ID]
	if !ok {
		return ripcord.ErrExecutionNotFound
	}
	if stored.Status.Terminal() {
		return nil
	}
	if stored.Revision != execution.Revision {
		return ripcord.ErrRevisionConflict
	}
	execution.Revision++
	m.executions[execution.ID] = cloneRecord(execution)
	return nil
}

// ListExecutions returns executions matching the filter, newest first.
func (m *Memory) ListExecutions(ctx context.Context, filter ripcord.ExecutionFilter) ([]*ripcord.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ripcord.Execution
	for _, e := range m.executions {
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.PlanID != nil && e.PlanID != *filter.PlanID {
			continue
		}
		out = append(out, cloneRecord(e))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListExecutionIDsByStatus returns ids of executions in any of the given
// statuses, sorted for determinism.
func (m *Memory) ListExecutionIDsByStatus(ctx context.Context, statuses ...ripcord.ExecutionStatus) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[ripcord.ExecutionStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var ids []string
	for id, e := range m.executions {
		if want[e.Status] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetGroup returns a copy of the stored protection group.
func (m *Memory) GetGroup(ctx context.Context, id string) (*ripcord.ProtectionGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	group, ok := m.groups[id]
	if !ok {
		return nil, ripcord.ErrGroupNotFound
	}
	return cloneRecord(group), nil
}

// PutGroup stores a protection group.
func (m *Memory) PutGroup(ctx context.Context, group *ripcord.ProtectionGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group.ID] = cloneRecord(group)
	return nil
}

// ListGroups returns all protection groups sorted by id.
func (m *Memory) ListGroups(ctx context.Context) ([]*ripcord.ProtectionGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ripcord.ProtectionGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, cloneRecord(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetLaunchConfigStatus returns the stored status, or nil when the group has
// none recorded.
func (m *Memory) GetLaunchConfigStatus(ctx context.Context, groupID string) (*ripcord.LaunchConfigStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRecord(m.lcStatus[groupID]), nil
}

// PutLaunchConfigStatus stores a launch configuration status.
func (m *Memory) PutLaunchConfigStatus(ctx context.Context, status *ripcord.LaunchConfigStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lcStatus[status.GroupID] = cloneRecord(status)
	return nil
}

// PutCallback stores a callback token record.
func (m *Memory) PutCallback(ctx context.Context, callback *ripcord.Callback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[callback.Token] = cloneRecord(callback)
	return nil
}

// GetCallback resolves a callback token.
func (m *Memory) GetCallback(ctx context.Context, token string) (*ripcord.Callback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cb, ok := m.callbacks[token]
	if !ok {
		return nil, ripcord.ErrCallbackNotFound
	}
	return cloneRecord(cb), nil
}

// DeleteCallback removes a callback token record.
func (m *Memory) DeleteCallback(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.callbacks, token)
	return nil
}
