package statefultask

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Config is a serialisable representation of the runtime configuration. It
// can be populated from JSON or YAML. The zero value does not validate,
// because at least one engine is required; DefaultConfig returns a valid
// starting point. Empty Events, Timer and Tracing fields fall back to their
// package defaults.
type Config struct {
	Engines []EngineConfig `json:"engines" yaml:"engines"`
	Events  EventConfig    `json:"events" yaml:"events"`
	Timer   TimerConfig    `json:"timer" yaml:"timer"`
	Tracing TracingConfig  `json:"tracing" yaml:"tracing"`
}

// EngineConfig describes one engine to construct at start-up.
type EngineConfig struct {
	Name string `json:"name" yaml:"name"`

	// MaxDurationMs caps how long one Mainloop invocation admits new
	// tasks; zero leaves the engine without a budget.
	MaxDurationMs int `json:"maxDurationMs" yaml:"maxDurationMs"`

	// Auxiliary designates this engine as the process-wide fallback.
	Auxiliary bool `json:"auxiliary" yaml:"auxiliary"`
}

// MaxDuration returns the configured budget as a duration.
func (e *EngineConfig) MaxDuration() time.Duration {
	return time.Duration(e.MaxDurationMs) * time.Millisecond
}

// EventConfig selects the journal vendor recording task transition events.
type EventConfig struct {
	Vendor  string `json:"vendor" yaml:"vendor"`
	BaseURL string `json:"baseURL" yaml:"baseURL"`
}

// TimerConfig configures the timer service.
type TimerConfig struct {
	ResolutionMs int `json:"resolutionMs" yaml:"resolutionMs"`
}

// TracingConfig configures OpenTelemetry initialisation.
type TracingConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	ServiceName    string `json:"serviceName" yaml:"serviceName"`
	ServiceVersion string `json:"serviceVersion" yaml:"serviceVersion"`
	OutputFile     string `json:"outputFile" yaml:"outputFile"`
}

// DefaultConfig returns a Config populated with the defaults the
// constructors previously hard-coded: one unbudgeted engine named "main"
// and in-memory transition events.
func DefaultConfig() *Config {
	return &Config{
		Engines: []EngineConfig{{Name: "main"}},
		Events:  EventConfig{Vendor: "memory"},
	}
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if len(c.Engines) == 0 {
		return fmt.Errorf("at least one engine is required")
	}
	seen := map[string]bool{}
	auxiliaries := 0
	for i := range c.Engines {
		ec := &c.Engines[i]
		if ec.Name == "" {
			return fmt.Errorf("engine[%d].name is required", i)
		}
		if seen[ec.Name] {
			return fmt.Errorf("duplicate engine name %q", ec.Name)
		}
		seen[ec.Name] = true
		if ec.MaxDurationMs < 0 {
			return fmt.Errorf("engine %q: maxDurationMs must be >= 0", ec.Name)
		}
		if ec.Auxiliary {
			auxiliaries++
		}
	}
	if auxiliaries > 1 {
		return fmt.Errorf("at most one engine may be auxiliary")
	}
	switch c.Events.Vendor {
	case "", "memory":
	case "fs":
		if c.Events.BaseURL == "" {
			return fmt.Errorf("events.baseURL is required for the fs vendor")
		}
	default:
		return fmt.Errorf("unsupported events vendor: %s", c.Events.Vendor)
	}
	if c.Timer.ResolutionMs < 0 {
		return fmt.Errorf("timer.resolutionMs must be >= 0")
	}
	return nil
}

// LoadConfig reads a YAML configuration document from the given afs URL
// (file path, mem://, s3://, ...), applies defaults and validates it.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	fs := afs.New()
	reader, err := fs.OpenURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %s: %w", URL, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", URL, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", URL, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", URL, err)
	}
	return config, nil
}
