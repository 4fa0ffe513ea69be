package launchconfig

import (
	"context"
	"testing"

	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/drs"
	"github.com/ripcord-io/ripcord/store"
	"github.com/stretchr/testify/require"
)

func TestEnsureAppliedAppliesAndRecordsHashes(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	fake := drs.NewFake()
	group := groupWithDefaults()
	require.NoError(t, mem.PutGroup(ctx, group))

	resolver, err := NewResolver(ResolverOptions{Groups: mem})
	require.NoError(t, err)

	status, err := resolver.EnsureApplied(ctx, fake, group, []string{"s1", "s2"})
	require.NoError(t, err)
	require.Equal(t, ripcord.LaunchConfigReady, status.State)
	require.Len(t, status.ConfigHashes, 2)
	require.Len(t, fake.Applied, 2)
	require.Equal(t, "m5.large", *fake.Applied["s1"].InstanceType)
}

func TestEnsureAppliedSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	fake := drs.NewFake()
	group := groupWithDefaults()
	require.NoError(t, mem.PutGroup(ctx, group))

	resolver, err := NewResolver(ResolverOptions{Groups: mem})
	require.NoError(t, err)

	_, err = resolver.EnsureApplied(ctx, fake, group, []string{"s1"})
	require.NoError(t, err)

	// Second pass with the same configuration makes no service calls.
	fake.Applied = map[string]*ripcord.LaunchConfig{}
	_, err = resolver.EnsureApplied(ctx, fake, group, []string{"s1"})
	require.NoError(t, err)
	require.Empty(t, fake.Applied)
}

func TestEnsureAppliedReappliesOnDrift(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	fake := drs.NewFake()
	group := groupWithDefaults()
	require.NoError(t, mem.PutGroup(ctx, group))

	resolver, err := NewResolver(ResolverOptions{Groups: mem})
	require.NoError(t, err)

	_, err = resolver.EnsureApplied(ctx, fake, group, []string{"s1"})
	require.NoError(t, err)

	group.LaunchDefaults.InstanceType = strPtr("c5.xlarge")
	fake.Applied = map[string]*ripcord.LaunchConfig{}
	_, err = resolver.EnsureApplied(ctx, fake, group, []string{"s1"})
	require.NoError(t, err)
	require.Len(t, fake.Applied, 1)
	require.Equal(t, "c5.xlarge", *fake.Applied["s1"].InstanceType)
}
