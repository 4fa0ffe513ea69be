package store

import (
	"context"
	"testing"
	"time"

	"github.com/ripcord-io/ripcord"
	"github.com/stretchr/testify/require"
)

// fullStore is the union of store interfaces both implementations satisfy.
type fullStore interface {
	ripcord.ExecutionStore
	ripcord.GroupStore
	ripcord.CallbackStore
}

func runStoreTests(t *testing.T, open func(t *testing.T) fullStore) {
	t.Run("execution lifecycle", func(t *testing.T) { testExecutionLifecycle(t, open(t)) })
	t.Run("revision conflict", func(t *testing.T) { testRevisionConflict(t, open(t)) })
	t.Run("terminal updates are no-ops", func(t *testing.T) { testTerminalNoOp(t, open(t)) })
	t.Run("status index", func(t *testing.T) { testStatusIndex(t, open(t)) })
	t.Run("list filter", func(t *testing.T) { testListFilter(t, open(t)) })
	t.Run("groups and launch config status", func(t *testing.T) { testGroups(t, open(t)) })
	t.Run("callbacks", func(t *testing.T) { testCallbacks(t, open(t)) })
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) fullStore {
		return NewMemory()
	})
}

func TestBadgerStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) fullStore {
		db, err := OpenBadger(BadgerOptions{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return db
	})
}

func newExecution(id string, status ripcord.ExecutionStatus) *ripcord.Execution {
	return &ripcord.Execution{
		ID:        id,
		PlanID:    "plan-1",
		PlanName:  "test plan",
		Status:    status,
		CreatedAt: time.Now().UTC(),
		Waves: []*ripcord.WaveExecution{
			{Number: 1, Status: ripcord.WaveStatusPending},
		},
	}
}

func testExecutionLifecycle(t *testing.T, s fullStore) {
	ctx := context.Background()
	execution := newExecution("e1", ripcord.ExecutionStatusPending)
	require.NoError(t, s.CreateExecution(ctx, execution))
	require.Equal(t, int64(1), execution.Revision)

	got, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, "e1", got.ID)
	require.Equal(t, ripcord.ExecutionStatusPending, got.Status)

	got.Status = ripcord.ExecutionStatusRunning
	require.NoError(t, s.UpdateExecution(ctx, got))
	require.Equal(t, int64(2), got.Revision)

	reloaded, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, ripcord.ExecutionStatusRunning, reloaded.Status)

	_, err = s.GetExecution(ctx, "missing")
	require.ErrorIs(t, err, ripcord.ErrExecutionNotFound)
}

func testRevisionConflict(t *testing.T, s fullStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateExecution(ctx, newExecution("e1", ripcord.ExecutionStatusRunning)))

	first, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	second, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)

	first.Waves[0].Status = ripcord.WaveStatusLaunched
	require.NoError(t, s.UpdateExecution(ctx, first))

	// The second reader holds a stale revision; its write must lose.
	second.Waves[0].Status = ripcord.WaveStatusFailed
	err = s.UpdateExecution(ctx, second)
	require.ErrorIs(t, err, ripcord.ErrRevisionConflict)

	reloaded, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, ripcord.WaveStatusLaunched, reloaded.Waves[0].Status)
}

func testTerminalNoOp(t *testing.T, s fullStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateExecution(ctx, newExecution("e1", ripcord.ExecutionStatusRunning)))

	execution, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	execution.Status = ripcord.ExecutionStatusCompleted
	require.NoError(t, s.UpdateExecution(ctx, execution))

	// A write against a terminal record succeeds without changing anything.
	execution.Status = ripcord.ExecutionStatusFailed
	execution.Error = "should not land"
	require.NoError(t, s.UpdateExecution(ctx, execution))

	reloaded, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, ripcord.ExecutionStatusCompleted, reloaded.Status)
	require.Empty(t, reloaded.Error)
}

func testStatusIndex(t *testing.T, s fullStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateExecution(ctx, newExecution("e1", ripcord.ExecutionStatusRunning)))
	require.NoError(t, s.CreateExecution(ctx, newExecution("e2", ripcord.ExecutionStatusRunning)))
	require.NoError(t, s.CreateExecution(ctx, newExecution("e3", ripcord.ExecutionStatusPaused)))
	require.NoError(t, s.CreateExecution(ctx, newExecution("e4", ripcord.ExecutionStatusCompleted)))

	ids, err := s.ListExecutionIDsByStatus(ctx, ripcord.ExecutionStatusRunning)
	require.NoError(t, err)
	require.Equal(t, []string{"e1", "e2"}, ids)

	ids, err = s.ListExecutionIDsByStatus(ctx, ripcord.ExecutionStatusRunning, ripcord.ExecutionStatusPaused)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"e1", "e2", "e3"}, ids)

	// Index entries follow status changes.
	execution, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	execution.Status = ripcord.ExecutionStatusCompleted
	require.NoError(t, s.UpdateExecution(ctx, execution))

	ids, err = s.ListExecutionIDsByStatus(ctx, ripcord.ExecutionStatusRunning)
	require.NoError(t, err)
	require.Equal(t, []string{"e2"}, ids)
}

func testListFilter(t *testing.T, s fullStore) {
	ctx := context.Background()
	e1 := newExecution("e1", ripcord.ExecutionStatusRunning)
	e2 := newExecution("e2", ripcord.ExecutionStatusCompleted)
	e2.PlanID = "plan-2"
	require.NoError(t, s.CreateExecution(ctx, e1))
	require.NoError(t, s.CreateExecution(ctx, e2))

	running := ripcord.ExecutionStatusRunning
	out, err := s.ListExecutions(ctx, ripcord.ExecutionFilter{Status: &running})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "e1", out[0].ID)

	planID := "plan-2"
	out, err = s.ListExecutions(ctx, ripcord.ExecutionFilter{PlanID: &planID})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "e2", out[0].ID)

	out, err = s.ListExecutions(ctx, ripcord.ExecutionFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func testGroups(t *testing.T, s fullStore) {
	ctx := context.Background()
	group := &ripcord.ProtectionGroup{
		ID:              "g1",
		Name:            "databases",
		SourceServerIDs: []string{"s1", "s2"},
	}
	require.NoError(t, s.PutGroup(ctx, group))

	got, err := s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, group.SourceServerIDs, got.SourceServerIDs)

	_, err = s.GetGroup(ctx, "missing")
	require.ErrorIs(t, err, ripcord.ErrGroupNotFound)

	groups, err := s.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	// No status recorded yet means nil without error.
	status, err := s.GetLaunchConfigStatus(ctx, "g1")
	require.NoError(t, err)
	require.Nil(t, status)

	require.NoError(t, s.PutLaunchConfigStatus(ctx, &ripcord.LaunchConfigStatus{
		GroupID:      "g1",
		State:        ripcord.LaunchConfigReady,
		ConfigHashes: map[string]string{"s1": "abc"},
	}))
	status, err = s.GetLaunchConfigStatus(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, ripcord.LaunchConfigReady, status.State)
	require.Equal(t, "abc", status.ConfigHashes["s1"])
}

func testCallbacks(t *testing.T, s fullStore) {
	ctx := context.Background()
	require.NoError(t, s.PutCallback(ctx, &ripcord.Callback{
		Token:       "tok-1",
		ExecutionID: "e1",
		WaveNumber:  2,
	}))

	cb, err := s.GetCallback(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, "e1", cb.ExecutionID)
	require.Equal(t, 2, cb.WaveNumber)

	require.NoError(t, s.DeleteCallback(ctx, "tok-1"))
	_, err = s.GetCallback(ctx, "tok-1")
	require.ErrorIs(t, err, ripcord.ErrCallbackNotFound)
}
