// Package config loads the orchestrator's configuration and plan documents
// from YAML files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/ripcord-io/ripcord"
)

// Config is the orchestrator configuration document.
type Config struct {
	// HomeAccountID is the 12-digit account the orchestrator itself runs in.
	HomeAccountID string `yaml:"home_account_id" json:"home_account_id" validate:"required,len=12,numeric"`

	// RolePrefix is prepended to account ids when constructing failover role
	// identifiers. Empty uses the built-in default.
	RolePrefix string `yaml:"role_prefix,omitempty" json:"role_prefix,omitempty"`

	// Accounts registers the target accounts executions may run in, with
	// their role-exchange external ids.
	Accounts []Account `yaml:"accounts,omitempty" json:"accounts,omitempty" validate:"dive"`

	// Limits overrides the recovery service quotas used for admission.
	Limits *ripcord.ServiceLimits `yaml:"limits,omitempty" json:"limits,omitempty"`

	// Store configures the embedded state store.
	Store Store `yaml:"store,omitempty" json:"store,omitempty"`

	// Service configures the wrapped recovery-service endpoint.
	Service Service `yaml:"service" json:"service" validate:"required"`

	// Identity is the endpoint of the role-exchange service.
	Identity Identity `yaml:"identity,omitempty" json:"identity,omitempty"`

	// Reconcile configures the reconciliation loop.
	Reconcile Reconcile `yaml:"reconcile,omitempty" json:"reconcile,omitempty"`

	// WaveTimeout bounds how long a launched wave may converge before the
	// execution times out. Zero uses the engine default.
	WaveTimeout time.Duration `yaml:"wave_timeout,omitempty" json:"wave_timeout,omitempty"`

	// WebhookURL, when set, receives execution lifecycle events.
	WebhookURL string `yaml:"webhook_url,omitempty" json:"webhook_url,omitempty" validate:"omitempty,url"`

	// UsageCacheTTL bounds staleness of the admission usage snapshot.
	UsageCacheTTL time.Duration `yaml:"usage_cache_ttl,omitempty" json:"usage_cache_ttl,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty" json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// Account registers one target account for cross-account executions.
type Account struct {
	AccountID  string `yaml:"account_id" json:"account_id" validate:"required,len=12,numeric"`
	ExternalID string `yaml:"external_id" json:"external_id" validate:"required"`
	Name       string `yaml:"name,omitempty" json:"name,omitempty"`
}

// Store configures the embedded state store.
type Store struct {
	Path       string `yaml:"path,omitempty" json:"path,omitempty"`
	InMemory   bool   `yaml:"in_memory,omitempty" json:"in_memory,omitempty"`
	SyncWrites bool   `yaml:"sync_writes,omitempty" json:"sync_writes,omitempty"`
}

// Service configures the recovery-service client.
type Service struct {
	Endpoint   string  `yaml:"endpoint" json:"endpoint" validate:"required,url"`
	RatePerSec float64 `yaml:"rate_per_sec,omitempty" json:"rate_per_sec,omitempty" validate:"gte=0"`
}

// Identity configures the role-exchange client.
type Identity struct {
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" validate:"omitempty,url"`
}

// Reconcile configures the reconciliation runner.
type Reconcile struct {
	Interval    time.Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
	Concurrency int           `yaml:"concurrency,omitempty" json:"concurrency,omitempty" validate:"gte=0"`
}

var validate = validator.New()

// ParseYAML parses a Config from YAML.
func ParseYAML(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	return &config, nil
}

// ParseJSON parses a Config from JSON.
func ParseJSON(data []byte) (*Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse json: %w", err)
	}
	return &config, nil
}

// LoadFile loads and validates a Config. The file extension determines the
// format.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	var config *Config
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		config, err = ParseJSON(data)
	} else {
		config, err = ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse file %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// Validate checks the configuration against its declarative rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Limits != nil {
		if err := validate.Struct(c.Limits); err != nil {
			return fmt.Errorf("limits: %w", err)
		}
	}
	return nil
}

// ServiceLimits returns the configured quotas, falling back to the published
// defaults.
func (c *Config) ServiceLimits() ripcord.ServiceLimits {
	if c.Limits != nil {
		return *c.Limits
	}
	return ripcord.DefaultServiceLimits()
}

// RegisteredAccounts converts the account block into resolver registrations.
func (c *Config) RegisteredAccounts() []Account {
	return c.Accounts
}
