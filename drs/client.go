// Package drs is the typed client for the wrapped recovery-service API. The
// wire format is an opaque JSON contract; callers only see the typed surface
// defined in the root package. Calls are rate limited client-side, retried
// with backoff on throttling signals, and fail fast on authorization errors.
package drs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/retry"
	"github.com/ripcord-io/ripcord/slogger"
	"golang.org/x/time/rate"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	Endpoint    string
	Credentials ripcord.ScopedCredentials
	HTTPClient  *http.Client
	RatePerSec  float64
	Logger      slogger.Logger
}

// Client implements ripcord.RecoveryService over HTTP.
type Client struct {
	endpoint string
	creds    ripcord.ScopedCredentials
	client   *http.Client
	limiter  *rate.Limiter
	logger   slogger.Logger
}

// NewClient creates a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("recovery service endpoint is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.RatePerSec == 0 {
		opts.RatePerSec = 5
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	return &Client{
		endpoint: opts.Endpoint,
		creds:    opts.Credentials,
		client:   opts.HTTPClient,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), int(opts.RatePerSec)+1),
		logger:   opts.Logger,
	}, nil
}

// serviceError is the service's wire-level error envelope.
type serviceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// call performs one rate-limited, retried POST of the given operation.
func (c *Client) call(ctx context.Context, op string, request, response any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}
	return retry.WithRetry(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.doOnce(ctx, op, body, response)
	})
}

func (c *Client) doOnce(ctx context.Context, op string, body []byte, response any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+op, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if !c.creds.Local {
		req.Header.Set("X-Access-Key-Id", c.creds.AccessKeyID)
		req.Header.Set("X-Session-Token", c.creds.SessionToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &ripcord.ExternalServiceError{Op: op, Throttled: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if response == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(response)
	}

	var svcErr serviceError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	_ = json.Unmarshal(raw, &svcErr)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &ripcord.AuthorizationError{Err: fmt.Errorf("%s: %s", op, svcErr.Message)}
	case svcErr.Code == "UninitializedAccountException":
		return &ripcord.NotInitializedError{}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ripcord.ErrJobNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &ripcord.ExternalServiceError{
			Op:        op,
			Throttled: true,
			Err:       fmt.Errorf("service returned %d: %s", resp.StatusCode, svcErr.Message),
		}
	default:
		return &ripcord.ExternalServiceError{
			Op:  op,
			Err: fmt.Errorf("service returned %d: %s", resp.StatusCode, svcErr.Message),
		}
	}
}

type startJobRequest struct {
	SourceServerIDs []string `json:"source_server_ids"`
	IsDrill         bool     `json:"is_drill"`
}

type jobResponse struct {
	Job *ripcord.Job `json:"job"`
}

// StartJob launches a recovery job for the given servers.
func (c *Client) StartJob(ctx context.Context, serverIDs []string, isDrill bool) (*ripcord.Job, error) {
	var out jobResponse
	err := c.call(ctx, "StartRecovery", startJobRequest{SourceServerIDs: serverIDs, IsDrill: isDrill}, &out)
	if err != nil {
		return nil, err
	}
	if out.Job == nil || out.Job.ID == "" {
		return nil, fmt.Errorf("StartRecovery returned no job id")
	}
	return out.Job, nil
}

type describeJobRequest struct {
	JobID string `json:"job_id"`
}

// DescribeJob fetches the authoritative state of one job.
func (c *Client) DescribeJob(ctx context.Context, jobID string) (*ripcord.Job, error) {
	var out jobResponse
	if err := c.call(ctx, "DescribeJob", describeJobRequest{JobID: jobID}, &out); err != nil {
		return nil, err
	}
	return out.Job, nil
}

type listJobsResponse struct {
	Jobs []*ripcord.Job `json:"jobs"`
}

// ListJobs returns all jobs in the target account and region.
func (c *Client) ListJobs(ctx context.Context) ([]*ripcord.Job, error) {
	var out listJobsResponse
	if err := c.call(ctx, "DescribeJobs", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

type describeInstancesResponse struct {
	Instances []*ripcord.RecoveryInstance `json:"instances"`
}

// DescribeRecoveryInstances lists launched recovery instances.
func (c *Client) DescribeRecoveryInstances(ctx context.Context, filter ripcord.RecoveryInstanceFilter) ([]*ripcord.RecoveryInstance, error) {
	var out describeInstancesResponse
	if err := c.call(ctx, "DescribeRecoveryInstances", filter, &out); err != nil {
		return nil, err
	}
	return out.Instances, nil
}

type terminateInstancesRequest struct {
	InstanceIDs []string `json:"instance_ids"`
}

// TerminateRecoveryInstances requests termination of launched instances.
func (c *Client) TerminateRecoveryInstances(ctx context.Context, instanceIDs []string) error {
	return c.call(ctx, "TerminateRecoveryInstances", terminateInstancesRequest{InstanceIDs: instanceIDs}, nil)
}

type updateLaunchConfigRequest struct {
	SourceServerID string                `json:"source_server_id"`
	Config         *ripcord.LaunchConfig `json:"config"`
}

// UpdateLaunchConfiguration applies a launch configuration to a server.
func (c *Client) UpdateLaunchConfiguration(ctx context.Context, serverID string, config *ripcord.LaunchConfig) error {
	return c.call(ctx, "UpdateLaunchConfiguration", updateLaunchConfigRequest{SourceServerID: serverID, Config: config}, nil)
}

type tagResourceRequest struct {
	ResourceID string            `json:"resource_id"`
	Tags       map[string]string `json:"tags"`
}

// TagResource applies tags to a service resource.
func (c *Client) TagResource(ctx context.Context, resourceID string, tags map[string]string) error {
	return c.call(ctx, "TagResource", tagResourceRequest{ResourceID: resourceID, Tags: tags}, nil)
}
