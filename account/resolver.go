package account

import (
	"context"
	"fmt"
	"sort"

	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/slogger"
)

// RegisteredAccount is a remote account the orchestrator is configured to
// fail over into. The external id is the shared secret checked by the remote
// trust policy.
type RegisteredAccount struct {
	AccountID  string `json:"account_id" yaml:"account_id" validate:"required,len=12,numeric"`
	ExternalID string `json:"external_id" yaml:"external_id" validate:"required"`
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Groups        ripcord.GroupStore
	HomeAccountID string
	RolePrefix    string
	Accounts      []RegisteredAccount
	Logger        slogger.Logger
}

// Resolver determines the single cloud account context a plan's waves must
// run under.
type Resolver struct {
	groups        ripcord.GroupStore
	homeAccountID string
	rolePrefix    string
	accounts      map[string]RegisteredAccount
	logger        slogger.Logger
}

// NewResolver creates a Resolver.
func NewResolver(opts ResolverOptions) (*Resolver, error) {
	if opts.Groups == nil {
		return nil, fmt.Errorf("group store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	accounts := make(map[string]RegisteredAccount, len(opts.Accounts))
	for _, a := range opts.Accounts {
		if !ValidAccountID(a.AccountID) {
			return nil, ripcord.NewValidationError("registered account id %q is invalid", a.AccountID)
		}
		accounts[a.AccountID] = a
	}
	return &Resolver{
		groups:        opts.Groups,
		homeAccountID: opts.HomeAccountID,
		rolePrefix:    opts.RolePrefix,
		accounts:      accounts,
		logger:        opts.Logger,
	}, nil
}

// ResolveTarget resolves the owning account of every wave's protection group
// and returns the single target account context for the plan. Zero distinct
// non-home accounts target the home account. Exactly one targets that account
// with its registered role and external id. More than one fails with
// MixedAccountError naming the conflicting accounts. No side effects.
func (r *Resolver) ResolveTarget(ctx context.Context, plan *ripcord.RecoveryPlan) (*ripcord.TargetAccountContext, error) {
	seen := make(map[string]bool)
	for _, wave := range plan.Waves {
		group, err := r.groups.GetGroup(ctx, wave.ProtectionGroupID)
		if err != nil {
			return nil, fmt.Errorf("resolving group %q for wave %d: %w", wave.ProtectionGroupID, wave.Number, err)
		}
		// An empty account id means the group lives in the home account.
		if group.AccountID == "" || group.AccountID == r.homeAccountID {
			continue
		}
		seen[group.AccountID] = true
	}

	distinct := make([]string, 0, len(seen))
	for id := range seen {
		distinct = append(distinct, id)
	}
	sort.Strings(distinct)

	switch len(distinct) {
	case 0:
		return &ripcord.TargetAccountContext{
			AccountID:        r.homeAccountID,
			IsCurrentAccount: true,
		}, nil
	case 1:
		accountID := distinct[0]
		registered, ok := r.accounts[accountID]
		if !ok {
			return nil, ripcord.NewValidationError("account %s is referenced by the plan but not registered", accountID)
		}
		roleArn, err := RoleArnForAccount(r.rolePrefix, accountID)
		if err != nil {
			return nil, err
		}
		return &ripcord.TargetAccountContext{
			AccountID:        accountID,
			RoleArn:          roleArn,
			ExternalID:       registered.ExternalID,
			IsCurrentAccount: false,
		}, nil
	default:
		r.logger.Warn("plan references multiple target accounts",
			"plan_id", plan.ID, "accounts", distinct)
		return nil, &ripcord.MixedAccountError{AccountIDs: distinct}
	}
}
