package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/n2nstreams/rollout/pkg/types"
)

// Config is the controller-level configuration, loaded once at startup.
// Per-rollout settings live in the transaction spec file instead.
type Config struct {
	// Target selects and configures the traffic-splitting backend
	Target TargetConfig `yaml:"target"`

	// Health tunes probing and the initial gate
	Health HealthConfig `yaml:"health"`

	// Stage tunes the traffic progression engine
	Stage StageConfig `yaml:"stage"`

	// SLO tunes the burn-rate watcher
	SLO SLOConfig `yaml:"slo"`

	// Retention is how many revisions to keep per region after promotion
	Retention int `yaml:"retention"`

	// DataDir holds the bbolt audit database
	DataDir string `yaml:"data_dir"`

	// ListenAddr serves /metrics and /healthz for the watch daemon
	ListenAddr string `yaml:"listen_addr"`
}

type TargetConfig struct {
	// Endpoint overrides the regional Cloud Run API endpoint (tests, emulators)
	Endpoint string `yaml:"endpoint,omitempty"`

	// CredentialsFile is a service account key file; empty uses ADC
	CredentialsFile string `yaml:"credentials_file,omitempty"`
}

type HealthConfig struct {
	Path         string         `yaml:"path"`
	Interval     types.Duration `yaml:"interval"`
	Timeout      types.Duration `yaml:"timeout"`
	GateAttempts int            `yaml:"gate_attempts"`
	GateInterval types.Duration `yaml:"gate_interval"`
}

type StageConfig struct {
	RollbackThreshold int            `yaml:"rollback_threshold"`
	ShiftAttempts     int            `yaml:"shift_attempts"`
	ShiftBackoff      types.Duration `yaml:"shift_backoff"`
	DefaultCadence    types.Duration `yaml:"default_cadence"`
}

type SLOConfig struct {
	// PrometheusURL enables the burn-rate watcher when set
	PrometheusURL string `yaml:"prometheus_url,omitempty"`

	// GoodQuery and TotalQuery are PromQL templates with two placeholders,
	// the service name and the range duration
	GoodQuery  string `yaml:"good_query,omitempty"`
	TotalQuery string `yaml:"total_query,omitempty"`

	Goal          float64        `yaml:"goal"`
	Window        types.Duration `yaml:"window"`
	Lookback      types.Duration `yaml:"lookback"`
	FastBurn      float64        `yaml:"fast_burn"`
	SlowBurn      float64        `yaml:"slow_burn"`
	Sustain       types.Duration `yaml:"sustain"`
	Interval      types.Duration `yaml:"interval"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Retention:  5,
		DataDir:    "/var/lib/rollout",
		ListenAddr: ":9090",
		SLO: SLOConfig{
			GoodQuery:  `sum(increase(request_count{service="%s",response_code_class!="5xx"}[%s]))`,
			TotalQuery: `sum(increase(request_count{service="%s"}[%s]))`,
		},
	}
}

// Load reads a controller configuration file. Fields left unset in the file
// keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would make the controller misbehave rather
// than merely behave differently
func (c *Config) Validate() error {
	if c.Retention < 1 {
		return fmt.Errorf("retention must be at least 1, got %d", c.Retention)
	}
	if c.SLO.Goal < 0 || c.SLO.Goal >= 1 {
		if c.SLO.Goal != 0 {
			return fmt.Errorf("slo goal must be in [0, 1), got %v", c.SLO.Goal)
		}
	}
	if c.SLO.FastBurn < 0 || c.SLO.SlowBurn < 0 {
		return fmt.Errorf("burn thresholds must be non-negative")
	}
	return nil
}

// LoadTransactionSpec reads and validates a rollout spec file
func LoadTransactionSpec(path string) (*types.TransactionSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}
	var spec types.TransactionSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse spec file: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid spec %s: %w", path, err)
	}
	return &spec, nil
}
