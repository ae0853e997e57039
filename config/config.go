// Package config loads the YAML description of a mesh: layer range, router
// tuning, cognition endpoints and the ordered node declarations.
//
// A minimal file:
//
//	layers: {min: 1, max: 3}
//	endpoints:
//	  - name: planner
//	    provider: mock
//	nodes:
//	  - {id: in, layer: 1, transform: relay, forward_links: [think]}
//	  - {id: think, layer: 2, transform: cognitive, settings: {endpoint: planner}}
//	  - {id: out, layer: 3, transform: terminal, backward_links: [think]}
//
// Durations use Go syntax ("250ms", "1h").
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of a configuration file.
type Config struct {
	Layers    LayersConfig     `yaml:"layers"`
	Router    RouterConfig     `yaml:"router"`
	Inbox     InboxConfig      `yaml:"inbox"`
	Cache     CacheConfig      `yaml:"cache"`
	Logging   LoggingConfig    `yaml:"logging"`
	Audit     AuditConfig      `yaml:"audit"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Endpoints []EndpointConfig `yaml:"endpoints,omitempty" validate:"dive"`
	Nodes     []NodeConfig     `yaml:"nodes,omitempty" validate:"dive"`
}

// LayersConfig is the inclusive layer range.
type LayersConfig struct {
	Min int `yaml:"min" validate:"gte=0"`
	Max int `yaml:"max" validate:"gtefield=Min"`
}

// RouterConfig tunes the scheduler. Zero values keep the router defaults.
type RouterConfig struct {
	Workers          int           `yaml:"workers" validate:"gte=0"`
	DefaultTTL       int           `yaml:"default_ttl" validate:"gte=0"`
	MaxQueueAge      time.Duration `yaml:"max_queue_age" validate:"gte=0"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval" validate:"gte=0"`
	ResultRetention  time.Duration `yaml:"result_retention" validate:"gte=0"`
}

// InboxConfig sets the default inbox of every node.
type InboxConfig struct {
	Capacity int    `yaml:"capacity" validate:"gte=0"`
	Policy   string `yaml:"policy" validate:"omitempty,oneof=reject_new evict_oldest"`
}

// CacheConfig sizes the cognition result cache.
type CacheConfig struct {
	Disabled bool          `yaml:"disabled"`
	Capacity int           `yaml:"capacity" validate:"gte=0"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// AuditConfig selects where cost events and results are recorded.
type AuditConfig struct {
	Driver string `yaml:"driver" validate:"omitempty,oneof=none memory sqlite"`
	Path   string `yaml:"path" validate:"required_if=Driver sqlite"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Prometheus bool   `yaml:"prometheus"`
	Namespace  string `yaml:"namespace"`
}

// EndpointConfig describes one logical cognition endpoint. The ledger,
// breaker and limiter are shared by every node using the endpoint.
type EndpointConfig struct {
	Name     string `yaml:"name" validate:"required"`
	Provider string `yaml:"provider" validate:"required,oneof=anthropic openai mock failing"`
	Model    string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the key. Empty uses
	// the provider SDK default.
	APIKeyEnv         string          `yaml:"api_key_env"`
	CallTimeout       time.Duration   `yaml:"call_timeout" validate:"gte=0"`
	EstimatedCallCost float64         `yaml:"estimated_call_cost" validate:"gte=0"`
	Pricing           PricingConfig   `yaml:"pricing"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
	Breaker           BreakerConfig   `yaml:"breaker"`
	Ledger            LedgerConfig    `yaml:"ledger"`
	// MockResponses maps a prompt to the reply of the mock provider.
	MockResponses map[string]string `yaml:"mock_responses,omitempty"`
	// FallbackResponses maps a prompt substring to a canned fallback reply.
	FallbackResponses map[string]string `yaml:"fallback_responses,omitempty"`
	// LayerResponses is the fallback reply per layer when no trigger matches.
	LayerResponses map[int]string `yaml:"layer_responses,omitempty"`
}

// PricingConfig is the price per thousand tokens.
type PricingConfig struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k" validate:"gte=0"`
	CompletionPer1K float64 `yaml:"completion_per_1k" validate:"gte=0"`
}

// RateLimitConfig is the token bucket of an endpoint. A zero rate disables it.
type RateLimitConfig struct {
	RatePerSecond float64       `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int           `yaml:"burst" validate:"gte=0"`
	Mode          string        `yaml:"mode" validate:"omitempty,oneof=reject block"`
	WaitTimeout   time.Duration `yaml:"wait_timeout" validate:"gte=0"`
}

// BreakerConfig tunes the circuit breaker. Zero values keep the defaults.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" validate:"gte=0"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" validate:"gte=0"`
	HalfOpenTrials   int           `yaml:"half_open_trials" validate:"gte=0"`
}

// LedgerConfig is the spend budget. Zero limits are disabled.
type LedgerConfig struct {
	Window    time.Duration `yaml:"window" validate:"gte=0"`
	SoftLimit float64       `yaml:"soft_limit" validate:"gte=0"`
	HardLimit float64       `yaml:"hard_limit" validate:"gte=0"`
}

// NodeConfig declares one node. Links may be declared on either end.
type NodeConfig struct {
	ID            string            `yaml:"id" validate:"required"`
	Layer         int               `yaml:"layer"`
	Transform     string            `yaml:"transform" validate:"required"`
	ForwardLinks  []string          `yaml:"forward_links,omitempty"`
	BackwardLinks []string          `yaml:"backward_links,omitempty"`
	FanOut        string            `yaml:"fan_out" validate:"omitempty,oneof=broadcast round_robin least_loaded"`
	Settings      map[string]string `yaml:"settings,omitempty"`
	InboxCapacity int               `yaml:"inbox_capacity" validate:"gte=0"`
	Policy        string            `yaml:"policy" validate:"omitempty,oneof=reject_new evict_oldest"`
}

// Default returns the configuration used for omitted sections.
func Default() *Config {
	return &Config{
		Layers:  LayersConfig{Min: 1, Max: 9},
		Inbox:   InboxConfig{Policy: "reject_new"},
		Cache:   CacheConfig{Capacity: 1024},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Audit:   AuditConfig{Driver: "memory"},
		Metrics: MetricsConfig{Namespace: "layermesh"},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over Default and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Endpoint returns the endpoint named name.
func (c *Config) Endpoint(name string) (EndpointConfig, bool) {
	for _, e := range c.Endpoints {
		if e.Name == name {
			return e, true
		}
	}
	return EndpointConfig{}, false
}
