// Package callback issues and resolves the durable tokens that anchor pause
// checkpoints. A paused execution holds no thread or process; the token in
// the store is the whole checkpoint, and resumption is driven externally by
// a success or failure signal keyed on it.
package callback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/slogger"
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Tokens ripcord.CallbackStore
	Logger slogger.Logger
	Clock  func() time.Time
}

// Service is the store-backed callback token service.
type Service struct {
	tokens ripcord.CallbackStore
	logger slogger.Logger
	clock  func() time.Time
}

// NewService creates a Service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Tokens == nil {
		return nil, fmt.Errorf("callback store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{tokens: opts.Tokens, logger: opts.Logger, clock: opts.Clock}, nil
}

// IssueToken creates and persists an opaque token bound to one pause point.
func (s *Service) IssueToken(ctx context.Context, executionID string, waveNumber int) (string, error) {
	callback := &ripcord.Callback{
		Token:       uuid.NewString(),
		ExecutionID: executionID,
		WaveNumber:  waveNumber,
		IssuedAt:    s.clock(),
	}
	if err := s.tokens.PutCallback(ctx, callback); err != nil {
		return "", fmt.Errorf("persisting callback token: %w", err)
	}
	s.logger.Debug("issued callback token",
		"execution_id", executionID, "wave_number", waveNumber)
	return callback.Token, nil
}

// Resolve returns the pause point a token is bound to.
func (s *Service) Resolve(ctx context.Context, token string) (*ripcord.Callback, error) {
	return s.tokens.GetCallback(ctx, token)
}

// Complete consumes a token after its execution has been resumed or aborted.
func (s *Service) Complete(ctx context.Context, token string) error {
	return s.tokens.DeleteCallback(ctx, token)
}
