package ripcord

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for store lookups and token resolution.
var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrGroupNotFound     = errors.New("protection group not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrCallbackNotFound  = errors.New("callback token not found")

	// ErrRevisionConflict indicates a conditional write lost a race with a
	// concurrent update. Callers reload and retry.
	ErrRevisionConflict = errors.New("execution revision conflict")
)

// ValidationError reports a malformed plan, group, or request. It is returned
// to the caller and never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Message
}

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// MixedAccountError reports a plan whose waves resolve to more than one
// distinct target account. The execution is never created.
type MixedAccountError struct {
	AccountIDs []string
}

func (e *MixedAccountError) Error() string {
	return fmt.Sprintf("plan spans multiple target accounts: %s", strings.Join(e.AccountIDs, ", "))
}

// AuthorizationError reports a rejected role exchange or an access-denied
// response from an external service. Fatal for the execution attempt.
type AuthorizationError struct {
	AccountID string
	Err       error
}

func (e *AuthorizationError) Error() string {
	if e.AccountID != "" {
		return fmt.Sprintf("authorization failed for account %s: %v", e.AccountID, e.Err)
	}
	return fmt.Sprintf("authorization failed: %v", e.Err)
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// CapacityViolation is one offending check result within a capacity denial.
type CapacityViolation struct {
	Check      string `json:"check"`
	WaveNumber int    `json:"wave_number,omitempty"`
	Count      int    `json:"count"`
	Limit      int    `json:"limit"`
}

func (v CapacityViolation) String() string {
	if v.WaveNumber > 0 {
		return fmt.Sprintf("%s: wave %d has %d servers, limit %d", v.Check, v.WaveNumber, v.Count, v.Limit)
	}
	return fmt.Sprintf("%s: %d exceeds limit %d", v.Check, v.Count, v.Limit)
}

// CapacityExceededError reports denied admission. The caller may retry later
// once in-flight work drains.
type CapacityExceededError struct {
	Violations []CapacityViolation
}

func (e *CapacityExceededError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "capacity exceeded: " + strings.Join(parts, "; ")
}

// NotInitializedError indicates the recovery service has never been
// initialized in the target account and region. Admission treats this as
// zero current usage, not as a failure.
type NotInitializedError struct {
	AccountID string
	Region    string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("recovery service not initialized in account %s region %s", e.AccountID, e.Region)
}

// ExternalServiceError wraps a transient failure from an external dependency.
// Throttled errors are retried with backoff at the call site.
type ExternalServiceError struct {
	Op        string
	Throttled bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure should be retried. Satisfies the
// retry package's classification interface.
func (e *ExternalServiceError) Retryable() bool {
	return e.Throttled
}

// ReconciliationGapError indicates the authoritative job for a wave vanished
// upstream before reconciliation observed its completion. The wave is marked
// unknown and the execution continues, flagged for operator attention.
type ReconciliationGapError struct {
	ExecutionID string
	WaveNumber  int
	JobID       string
}

func (e *ReconciliationGapError) Error() string {
	return fmt.Sprintf("execution %s wave %d: job %s no longer exists upstream", e.ExecutionID, e.WaveNumber, e.JobID)
}

// IsNotInitialized reports whether err indicates an uninitialized service
// state anywhere in its chain.
func IsNotInitialized(err error) bool {
	var nie *NotInitializedError
	return errors.As(err, &nie)
}

// IsAuthorization reports whether err is an authorization failure anywhere in
// its chain.
func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}
