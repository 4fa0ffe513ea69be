package callback

import (
	"context"
	"testing"
	"time"

	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/store"
	"github.com/stretchr/testify/require"
)

func TestTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	service, err := NewService(ServiceOptions{
		Tokens: store.NewMemory(),
		Clock:  func() time.Time { return issued },
	})
	require.NoError(t, err)

	token, err := service.IssueToken(ctx, "exec-1", 2)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	callback, err := service.Resolve(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "exec-1", callback.ExecutionID)
	require.Equal(t, 2, callback.WaveNumber)
	require.Equal(t, issued, callback.IssuedAt)

	require.NoError(t, service.Complete(ctx, token))
	_, err = service.Resolve(ctx, token)
	require.ErrorIs(t, err, ripcord.ErrCallbackNotFound)
}

func TestTokensAreUnique(t *testing.T) {
	ctx := context.Background()
	service, err := NewService(ServiceOptions{Tokens: store.NewMemory()})
	require.NoError(t, err)

	first, err := service.IssueToken(ctx, "exec-1", 1)
	require.NoError(t, err)
	second, err := service.IssueToken(ctx, "exec-1", 1)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestResolveUnknownToken(t *testing.T) {
	service, err := NewService(ServiceOptions{Tokens: store.NewMemory()})
	require.NoError(t, err)

	_, err = service.Resolve(context.Background(), "no-such-token")
	require.ErrorIs(t, err, ripcord.ErrCallbackNotFound)
}
