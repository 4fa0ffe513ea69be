package launchconfig

import (
	"encoding/json"
	"fmt"

	"github.com/ripcord-io/ripcord"
	"github.com/zeebo/blake3"
)

// ConfigHash computes a stable content hash of a launch configuration. The
// configuration is first projected onto a map and serialized with
// lexicographically sorted keys, so key-insertion order never affects the
// hash. This is the drift-detection primitive: configuration is reapplied
// only when the hash changes.
func ConfigHash(config *ripcord.LaunchConfig) (string, error) {
	projected := make(map[string]any)
	if config != nil {
		if config.InstanceType != nil {
			projected[FieldInstanceType] = *config.InstanceType
		}
		if config.SubnetID != nil {
			projected[FieldSubnetID] = *config.SubnetID
		}
		if config.PrivateIP != nil {
			projected[FieldPrivateIP] = *config.PrivateIP
		}
		if config.LaunchDisposition != nil {
			projected[FieldLaunchDisposition] = *config.LaunchDisposition
		}
		if config.RightSizing != nil {
			projected[FieldRightSizing] = *config.RightSizing
		}
		if config.CopyPrivateIP != nil {
			projected[FieldCopyPrivateIP] = *config.CopyPrivateIP
		}
		if config.CopyTags != nil {
			projected[FieldCopyTags] = *config.CopyTags
		}
		if config.SecurityGroupIDs != nil {
			projected[FieldSecurityGroupIDs] = config.SecurityGroupIDs
		}
		if config.Tags != nil {
			projected[FieldTags] = config.Tags
		}
	}

	// encoding/json writes map keys in sorted order, which makes the
	// serialization canonical for this shape.
	data, err := json.Marshal(projected)
	if err != nil {
		return "", fmt.Errorf("serializing launch config for hashing: %w", err)
	}
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum), nil
}
