// Package notify delivers structured orchestration events to fire-and-forget
// sinks. Delivery failures are logged and swallowed; they never propagate
// into the orchestration that emitted the event.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/slogger"
)

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger slogger.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger slogger.Logger) *LogNotifier {
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, event *ripcord.Event) {
	n.logger.Info("notification",
		"event_type", event.Type,
		"execution_id", event.ExecutionID,
		"plan_name", event.PlanName,
		"wave_number", event.WaveNumber)
}

// WebhookNotifier posts events as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	endpoint string
	client   *http.Client
	logger   slogger.Logger
	onError  func()
}

// WebhookNotifierOptions configures a WebhookNotifier.
type WebhookNotifierOptions struct {
	Endpoint string
	Client   *http.Client
	Logger   slogger.Logger

	// OnError is invoked on each delivery failure, for metrics.
	OnError func()
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(opts WebhookNotifierOptions) *WebhookNotifier {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	return &WebhookNotifier{
		endpoint: opts.Endpoint,
		client:   opts.Client,
		logger:   opts.Logger,
		onError:  opts.OnError,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, event *ripcord.Event) {
	body, err := json.Marshal(event)
	if err != nil {
		n.fail("encoding notification", event, err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		n.fail("building notification request", event, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.fail("delivering notification", event, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.fail("delivering notification", event, nil)
	}
}

func (n *WebhookNotifier) fail(msg string, event *ripcord.Event, err error) {
	n.logger.Warn(msg, "event_type", event.Type, "execution_id", event.ExecutionID, "error", err)
	if n.onError != nil {
		n.onError()
	}
}

// Multi fans an event out to several sinks.
type Multi []ripcord.Notifier

func (m Multi) Notify(ctx context.Context, event *ripcord.Event) {
	for _, n := range m {
		n.Notify(ctx, event)
	}
}
