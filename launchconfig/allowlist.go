package launchconfig

import (
	"fmt"
	"sort"

	"github.com/ripcord-io/ripcord"
)

// Override field names accepted from per-server launch override documents.
// Fields owned by the recovery service itself (boot image, user data, block
// device mappings) are never user-overridable and are absent from this list.
const (
	FieldInstanceType      = "instance_type"
	FieldSubnetID          = "subnet_id"
	FieldSecurityGroupIDs  = "security_group_ids"
	FieldPrivateIP         = "private_ip"
	FieldCopyPrivateIP     = "copy_private_ip"
	FieldCopyTags          = "copy_tags"
	FieldLaunchDisposition = "launch_disposition"
	FieldRightSizing       = "right_sizing"
	FieldTags              = "tags"
)

var allowedOverrideFields = map[string]bool{
	FieldInstanceType:      true,
	FieldSubnetID:          true,
	FieldSecurityGroupIDs:  true,
	FieldPrivateIP:         true,
	FieldCopyPrivateIP:     true,
	FieldCopyTags:          true,
	FieldLaunchDisposition: true,
	FieldRightSizing:       true,
	FieldTags:              true,
}

// AllowedFields returns the override allow-list, sorted.
func AllowedFields() []string {
	fields := make([]string, 0, len(allowedOverrideFields))
	for f := range allowedOverrideFields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// DecodeOverrides converts a raw override document into a typed LaunchConfig.
// Any field outside the allow-list is rejected with a ValidationError; fields
// the document omits stay nil on the result, preserving "absent" as a state
// distinct from "set to zero".
func DecodeOverrides(overrides map[string]any) (*ripcord.LaunchConfig, error) {
	cfg := &ripcord.LaunchConfig{}
	for field, raw := range overrides {
		if !allowedOverrideFields[field] {
			return nil, ripcord.NewValidationError("launch override field %q is not overridable", field)
		}
		var err error
		switch field {
		case FieldInstanceType:
			cfg.InstanceType, err = stringField(field, raw)
		case FieldSubnetID:
			cfg.SubnetID, err = stringField(field, raw)
		case FieldPrivateIP:
			cfg.PrivateIP, err = stringField(field, raw)
		case FieldLaunchDisposition:
			cfg.LaunchDisposition, err = stringField(field, raw)
		case FieldRightSizing:
			cfg.RightSizing, err = stringField(field, raw)
		case FieldCopyPrivateIP:
			cfg.CopyPrivateIP, err = boolField(field, raw)
		case FieldCopyTags:
			cfg.CopyTags, err = boolField(field, raw)
		case FieldSecurityGroupIDs:
			cfg.SecurityGroupIDs, err = stringSliceField(field, raw)
		case FieldTags:
			cfg.Tags, err = stringMapField(field, raw)
		}
		if err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func stringField(field string, raw any) (*string, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, ripcord.NewValidationError("launch override %q must be a string, got %T", field, raw)
	}
	return &s, nil
}

func boolField(field string, raw any) (*bool, error) {
	b, ok := raw.(bool)
	if !ok {
		return nil, ripcord.NewValidationError("launch override %q must be a boolean, got %T", field, raw)
	}
	return &b, nil
}

func stringSliceField(field string, raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return append([]string{}, v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, ripcord.NewValidationError("launch override %q must contain strings, got %T", field, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, ripcord.NewValidationError("launch override %q must be a string list, got %T", field, raw)
	}
}

func stringMapField(field string, raw any) (map[string]string, error) {
	switch v := raw.(type) {
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, ripcord.NewValidationError("launch override %q values must be strings, got %T for key %q", field, item, k)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("launch override %q must be a string map, got %T", field, raw)
	}
}
