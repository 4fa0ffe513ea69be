package drs

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/account"
	"github.com/ripcord-io/ripcord/slogger"
)

// FactoryOptions configures a Factory.
type FactoryOptions struct {
	Endpoint   string
	Assumer    *account.Assumer
	HTTPClient *http.Client
	RatePerSec float64
	Logger     slogger.Logger
}

// Factory builds account-scoped recovery-service clients. Each client carries
// the short-lived credentials of one execution attempt; clients are never
// shared across executions targeting different accounts.
type Factory struct {
	endpoint   string
	assumer    *account.Assumer
	httpClient *http.Client
	ratePerSec float64
	logger     slogger.Logger
}

// NewFactory creates a Factory.
func NewFactory(opts FactoryOptions) (*Factory, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("recovery service endpoint is required")
	}
	if opts.Assumer == nil {
		return nil, fmt.Errorf("assumer is required")
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	return &Factory{
		endpoint:   opts.Endpoint,
		assumer:    opts.Assumer,
		httpClient: opts.HTTPClient,
		ratePerSec: opts.RatePerSec,
		logger:     opts.Logger,
	}, nil
}

// ForAccount assumes the target's role and returns a client scoped to the
// resulting credentials.
func (f *Factory) ForAccount(ctx context.Context, target ripcord.TargetAccountContext) (ripcord.RecoveryService, error) {
	creds, err := f.assumer.Assume(ctx, target)
	if err != nil {
		return nil, err
	}
	return NewClient(ClientOptions{
		Endpoint:    f.endpoint,
		Credentials: *creds,
		HTTPClient:  f.httpClient,
		RatePerSec:  f.ratePerSec,
		Logger:      f.logger.With("account_id", target.AccountID),
	})
}
