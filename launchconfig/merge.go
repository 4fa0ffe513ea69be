package launchconfig

import (
	"github.com/ripcord-io/ripcord"
)

// EffectiveConfig merges a protection group's launch defaults with one
// server's overrides.
//
// A server with no override entry gets the group defaults unchanged. With
// UseGroupDefaults true, only the override fields the server actually set are
// overlaid onto the defaults. With UseGroupDefaults false, the override
// document replaces the defaults entirely. The merge is idempotent: applying
// it again with identical inputs yields the same result.
func EffectiveConfig(group *ripcord.ProtectionGroup, serverID string) (*ripcord.LaunchConfig, error) {
	defaults := group.LaunchDefaults.Clone()

	entry, ok := group.Server(serverID)
	if !ok || entry.LaunchOverrides == nil {
		return defaults, nil
	}

	overrides, err := DecodeOverrides(entry.LaunchOverrides)
	if err != nil {
		return nil, err
	}

	if !entry.UseGroupDefaults {
		// Full replacement: the override document stands alone.
		return overrides, nil
	}
	return overlay(defaults, overrides), nil
}

// overlay applies every non-nil override field onto the base. The base keeps
// every field the override left absent.
func overlay(base, override *ripcord.LaunchConfig) *ripcord.LaunchConfig {
	out := base.Clone()
	if override.InstanceType != nil {
		out.InstanceType = override.InstanceType
	}
	if override.SubnetID != nil {
		out.SubnetID = override.SubnetID
	}
	if override.PrivateIP != nil {
		out.PrivateIP = override.PrivateIP
	}
	if override.LaunchDisposition != nil {
		out.LaunchDisposition = override.LaunchDisposition
	}
	if override.RightSizing != nil {
		out.RightSizing = override.RightSizing
	}
	if override.CopyPrivateIP != nil {
		out.CopyPrivateIP = override.CopyPrivateIP
	}
	if override.CopyTags != nil {
		out.CopyTags = override.CopyTags
	}
	if override.SecurityGroupIDs != nil {
		out.SecurityGroupIDs = append([]string{}, override.SecurityGroupIDs...)
	}
	if override.Tags != nil {
		out.Tags = make(map[string]string, len(override.Tags))
		for k, v := range override.Tags {
			out.Tags[k] = v
		}
	}
	return out
}
