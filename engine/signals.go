package engine

import (
	"context"
	"fmt"

	"github.com/ripcord-io/ripcord"
)

// Resume releases a pause checkpoint. The token alone identifies the paused
// execution; success releases the gated wave and re-enters the advance loop,
// while failure aborts the execution. The token is consumed only after the
// status write lands: a write that loses a revision race leaves the token
// live, so the operator can simply signal again. Resuming a consumed token
// returns ErrCallbackNotFound.
func (e *Engine) Resume(ctx context.Context, token string, success bool, message string) error {
	callback, err := e.callbacks.Resolve(ctx, token)
	if err != nil {
		return err
	}
	execution, err := e.executions.GetExecution(ctx, callback.ExecutionID)
	if err != nil {
		return err
	}
	if execution.Status != ripcord.ExecutionStatusPaused {
		return ripcord.NewValidationError("execution %s is %s, not paused", execution.ID, execution.Status)
	}

	now := e.clock()
	if !success {
		reason := message
		if reason == "" {
			reason = fmt.Sprintf("aborted at pause before wave %d", callback.WaveNumber)
		}
		execution.PausedBeforeWave = nil
		execution.CallbackToken = ""
		if err := e.finalize(ctx, execution, ripcord.ExecutionStatusFailed, reason); err != nil {
			return err
		}
		e.retireToken(ctx, execution.ID, token)
		return nil
	}

	if waveExec, ok := execution.Wave(callback.WaveNumber); ok {
		waveExec.PauseReleased = true
	}
	execution.PausedBeforeWave = nil
	execution.CallbackToken = ""
	execution.Transition(ripcord.ExecutionStatusRunning, now)
	execution.UpdatedAt = now
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		return err
	}
	e.retireToken(ctx, execution.ID, token)
	e.logger.Info("resumed execution",
		"execution_id", execution.ID, "wave_number", callback.WaveNumber)
	e.notify(ctx, execution, ripcord.EventExecutionResumed, callback.WaveNumber, nil)
	return e.Advance(ctx, execution.ID)
}

// retireToken consumes a callback token once its signal has been durably
// applied. Deletion is idempotent; a failure here only leaves a dead token
// behind, never a stranded execution.
func (e *Engine) retireToken(ctx context.Context, executionID, token string) {
	if err := e.callbacks.Complete(ctx, token); err != nil {
		e.logger.Warn("failed to retire callback token",
			"execution_id", executionID, "error", err)
	}
}

// Cancel aborts an execution. Cancelling a terminal execution is an
// idempotent no-op. With terminateInstances set, recovery instances already
// launched by the execution's jobs are torn down before the terminal status
// is recorded.
func (e *Engine) Cancel(ctx context.Context, executionID string, terminateInstances bool) error {
	execution, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if execution.Status.Terminal() {
		return nil
	}

	token := execution.CallbackToken
	execution.CallbackToken = ""
	execution.PausedBeforeWave = nil

	if terminateInstances {
		if err := e.terminateLaunched(ctx, execution); err != nil {
			e.logger.Error("failed to terminate recovery instances on cancel",
				"execution_id", execution.ID, "error", err)
		}
	}

	if err := e.finalize(ctx, execution, ripcord.ExecutionStatusCancelled, "cancelled by operator"); err != nil {
		return err
	}
	if token != "" {
		e.retireToken(ctx, execution.ID, token)
	}
	return nil
}

// terminateLaunched tears down every recovery instance recorded on the
// execution's servers.
func (e *Engine) terminateLaunched(ctx context.Context, execution *ripcord.Execution) error {
	var instanceIDs []string
	for _, waveExec := range execution.Waves {
		for _, server := range waveExec.Servers {
			if server.RecoveryInstanceID != "" {
				instanceIDs = append(instanceIDs, server.RecoveryInstanceID)
			}
		}
	}
	if len(instanceIDs) == 0 {
		return nil
	}
	svc, err := e.services.ForAccount(ctx, execution.AccountContext)
	if err != nil {
		return err
	}
	if err := svc.TerminateRecoveryInstances(ctx, instanceIDs); err != nil {
		return fmt.Errorf("terminating %d recovery instances: %w", len(instanceIDs), err)
	}
	e.logger.Info("terminated recovery instances",
		"execution_id", execution.ID, "count", len(instanceIDs))
	return nil
}
