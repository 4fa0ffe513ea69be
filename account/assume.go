package account

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/retry"
	"github.com/ripcord-io/ripcord/slogger"
)

// AssumerOptions configures an Assumer.
type AssumerOptions struct {
	Identity      ripcord.IdentityService
	SessionPrefix string
	Logger        slogger.Logger
}

// Assumer exchanges a target account context for scoped credentials. The
// credentials are bounded-lifetime and belong to one execution attempt; they
// are never cached across executions.
type Assumer struct {
	identity      ripcord.IdentityService
	sessionPrefix string
	logger        slogger.Logger
}

// NewAssumer creates an Assumer.
func NewAssumer(opts AssumerOptions) (*Assumer, error) {
	if opts.Identity == nil {
		return nil, fmt.Errorf("identity service is required")
	}
	if opts.SessionPrefix == "" {
		opts.SessionPrefix = "ripcord"
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	return &Assumer{
		identity:      opts.Identity,
		sessionPrefix: opts.SessionPrefix,
		logger:        opts.Logger,
	}, nil
}

// Assume returns credentials for the target account. The home account uses
// local default credentials with no network call. A remote account requires
// both a role arn and an external id; the exchange fails closed with
// AuthorizationError when the remote trust policy rejects the external id.
// There is no fallback to local credentials for a remote target.
func (a *Assumer) Assume(ctx context.Context, target ripcord.TargetAccountContext) (*ripcord.ScopedCredentials, error) {
	if target.IsCurrentAccount {
		return &ripcord.ScopedCredentials{Local: true}, nil
	}
	if target.RoleArn == "" {
		return nil, ripcord.NewValidationError("target account %s has no role arn", target.AccountID)
	}
	if target.ExternalID == "" {
		return nil, ripcord.NewValidationError("target account %s has no external id", target.AccountID)
	}

	sessionName := fmt.Sprintf("%s-%s", a.sessionPrefix, uuid.NewString()[:8])

	var creds *ripcord.ScopedCredentials
	err := retry.WithRetry(ctx, func() error {
		var err error
		creds, err = a.identity.AssumeRole(ctx, target.RoleArn, target.ExternalID, sessionName)
		return err
	})
	if err != nil {
		if ripcord.IsAuthorization(err) {
			a.logger.Error("role exchange rejected",
				"account_id", target.AccountID, "role_arn", target.RoleArn)
			return nil, &ripcord.AuthorizationError{AccountID: target.AccountID, Err: err}
		}
		return nil, fmt.Errorf("assuming role %s: %w", target.RoleArn, err)
	}

	a.logger.Debug("assumed role",
		"account_id", target.AccountID,
		"session_name", sessionName,
		"expires_in", time.Until(creds.Expiration).Round(time.Second))
	return creds, nil
}
