package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ripcord-io/ripcord"
)

// STSClientOptions configures an STSClient.
type STSClientOptions struct {
	Endpoint   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// STSClient is an HTTP implementation of the identity role-exchange service.
type STSClient struct {
	endpoint string
	client   *http.Client
}

// NewSTSClient creates an STSClient.
func NewSTSClient(opts STSClientOptions) (*STSClient, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("identity endpoint is required")
	}
	if opts.HTTPClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &STSClient{endpoint: opts.Endpoint, client: opts.HTTPClient}, nil
}

type assumeRoleRequest struct {
	RoleArn         string `json:"role_arn"`
	ExternalID      string `json:"external_id"`
	RoleSessionName string `json:"role_session_name"`
}

type assumeRoleResponse struct {
	AccessKeyID     string    `json:"access_key_id"`
	SecretAccessKey string    `json:"secret_access_key"`
	SessionToken    string    `json:"session_token"`
	Expiration      time.Time `json:"expiration"`
}

// AssumeRole implements ripcord.IdentityService over HTTP. A 403 from the
// exchange maps to AuthorizationError; throttling maps to a retryable
// ExternalServiceError.
func (c *STSClient) AssumeRole(ctx context.Context, roleArn, externalID, sessionName string) (*ripcord.ScopedCredentials, error) {
	body, err := json.Marshal(assumeRoleRequest{
		RoleArn:         roleArn,
		ExternalID:      externalID,
		RoleSessionName: sessionName,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding assume-role request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/assume-role", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ripcord.ExternalServiceError{Op: "AssumeRole", Throttled: true, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, &ripcord.AuthorizationError{Err: fmt.Errorf("assume-role returned %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &ripcord.ExternalServiceError{
			Op:        "AssumeRole",
			Throttled: true,
			Err:       fmt.Errorf("assume-role returned %d", resp.StatusCode),
		}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("assume-role returned %d: %s", resp.StatusCode, msg)
	}

	var out assumeRoleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding assume-role response: %w", err)
	}
	return &ripcord.ScopedCredentials{
		AccessKeyID:     out.AccessKeyID,
		SecretAccessKey: out.SecretAccessKey,
		SessionToken:    out.SessionToken,
		Expiration:      out.Expiration,
	}, nil
}
