package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ripcord-io/ripcord"
	"github.com/stretchr/testify/require"
)

func testEvent() *ripcord.Event {
	return &ripcord.Event{
		Type:        ripcord.EventWaveCompleted,
		ExecutionID: "exec-1",
		PlanID:      "plan-1",
		PlanName:    "failover",
		WaveNumber:  2,
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var received *ripcord.Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var event ripcord.Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		received = &event
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(WebhookNotifierOptions{Endpoint: server.URL})
	notifier.Notify(context.Background(), testEvent())

	require.NotNil(t, received)
	require.Equal(t, ripcord.EventWaveCompleted, received.Type)
	require.Equal(t, "exec-1", received.ExecutionID)
	require.Equal(t, 2, received.WaveNumber)
}

func TestWebhookNotifierCountsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	failures := 0
	notifier := NewWebhookNotifier(WebhookNotifierOptions{
		Endpoint: server.URL,
		OnError:  func() { failures++ },
	})
	notifier.Notify(context.Background(), testEvent())
	require.Equal(t, 1, failures)

	// Unreachable endpoint counts too; the caller never sees an error.
	server.Close()
	notifier.Notify(context.Background(), testEvent())
	require.Equal(t, 2, failures)
}

func TestMultiFansOut(t *testing.T) {
	var calls []string
	a := notifierFunc(func(*ripcord.Event) { calls = append(calls, "a") })
	b := notifierFunc(func(*ripcord.Event) { calls = append(calls, "b") })

	Multi{a, b}.Notify(context.Background(), testEvent())
	require.Equal(t, []string{"a", "b"}, calls)
}

type notifierFunc func(*ripcord.Event)

func (f notifierFunc) Notify(ctx context.Context, event *ripcord.Event) { f(event) }
