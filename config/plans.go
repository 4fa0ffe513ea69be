package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/ripcord-io/ripcord"
)

// planDocument is the on-disk shape of a recovery plan. Durations are written
// as strings ("2h", "90m") rather than nanosecond integers.
type planDocument struct {
	ID          string          `yaml:"id" validate:"required"`
	Name        string          `yaml:"name" validate:"required"`
	Description string          `yaml:"description,omitempty"`
	IsDrill     bool            `yaml:"is_drill,omitempty"`
	WaveTimeout string          `yaml:"wave_timeout,omitempty"`
	Waves       []*ripcord.Wave `yaml:"waves" validate:"required,min=1,dive"`
}

// ParsePlan parses and validates one plan document.
func ParsePlan(data []byte) (*ripcord.RecoveryPlan, error) {
	var doc planDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse plan yaml: %w", err)
	}
	if err := validate.Struct(&doc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, ripcord.NewValidationError("plan %q: %v", doc.ID, verrs)
		}
		return nil, err
	}

	plan := &ripcord.RecoveryPlan{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		IsDrill:     doc.IsDrill,
		Waves:       doc.Waves,
	}
	if doc.WaveTimeout != "" {
		timeout, err := time.ParseDuration(doc.WaveTimeout)
		if err != nil {
			return nil, ripcord.NewValidationError("plan %q: invalid wave_timeout %q", doc.ID, doc.WaveTimeout)
		}
		plan.WaveTimeout = timeout
	}
	for _, wave := range plan.Waves {
		if wave.ExecutionType == "" {
			wave.ExecutionType = ripcord.ExecutionTypeParallel
		}
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// LoadPlanFile loads one plan from a YAML file.
func LoadPlanFile(path string) (*ripcord.RecoveryPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file %s: %w", path, err)
	}
	plan, err := ParsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("plan file %s: %w", path, err)
	}
	return plan, nil
}

// LoadPlans loads every plan matching the doublestar pattern, in
// lexicographical path order. Duplicate plan ids across files are an error.
func LoadPlans(pattern string) ([]*ripcord.RecoveryPlan, error) {
	base, pat := doublestar.SplitPattern(pattern)
	matches, err := doublestar.Glob(os.DirFS(base), pat)
	if err != nil {
		return nil, fmt.Errorf("invalid plan pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)

	seen := make(map[string]string)
	var plans []*ripcord.RecoveryPlan
	for _, match := range matches {
		path := filepath.Join(base, match)
		plan, err := LoadPlanFile(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[plan.ID]; ok {
			return nil, ripcord.NewValidationError("plan id %q defined in both %s and %s", plan.ID, prev, path)
		}
		seen[plan.ID] = path
		plans = append(plans, plan)
	}
	return plans, nil
}
