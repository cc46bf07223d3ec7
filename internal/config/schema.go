package config

import "time"

// Defaults and bounds for tunable settings.
const (
	DefaultBatchSize       = 50
	MinBatchSize           = 1
	MaxBatchSize           = 1000
	DefaultFlushIntervalMs = 5000
	MinFlushIntervalMs     = 1000
	MaxFlushIntervalMs     = 30000

	DefaultInactivityTimeoutMs = 30 * 60 * 1000
	DefaultHiddenTimeoutMs     = 10 * 60 * 1000
	DefaultMaxQueueSize        = 500
	DefaultMaxRetries          = 5
	DefaultRequestTimeoutMs    = 30000

	DefaultAPIEndpoint     = "https://collect.tracewell.io/v1/events"
	DefaultMetricsEndpoint = "https://collect.tracewell.io/v1/metrics"
)

// Config is the recorder configuration. The host integration supplies it to
// Init; the agent binary loads the same structure from YAML.
type Config struct {
	ProjectID       string            `yaml:"project_id" json:"projectId"`
	UserID          string            `yaml:"user_id" json:"userId,omitempty"`
	Debug           bool              `yaml:"debug" json:"debug,omitempty"`
	BatchSize       int               `yaml:"batch_size" json:"batchSize,omitempty"`
	FlushIntervalMs int               `yaml:"flush_interval_ms" json:"flushInterval,omitempty"`
	APIEndpoint     string            `yaml:"api_endpoint" json:"apiEndpoint,omitempty"`
	MetricsEndpoint string            `yaml:"metrics_endpoint" json:"metricsEndpoint,omitempty"`
	PageURL         string            `yaml:"page_url" json:"pageUrl,omitempty"`
	Metadata        map[string]string `yaml:"metadata" json:"metadata,omitempty"`

	// Advanced tuning; zero values take the defaults above.
	InactivityTimeoutMs int `yaml:"inactivity_timeout_ms" json:"-"`
	HiddenTimeoutMs     int `yaml:"hidden_timeout_ms" json:"-"`
	MaxQueueSize        int `yaml:"max_queue_size" json:"-"`
	MaxRetries          int `yaml:"max_retries" json:"-"`
	RequestTimeoutMs    int `yaml:"request_timeout_ms" json:"-"`
}

// Normalize fills unset fields with their defaults. It never touches fields
// the caller set, so Validate still sees out-of-range values.
func (c *Config) Normalize() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushIntervalMs == 0 {
		c.FlushIntervalMs = DefaultFlushIntervalMs
	}
	if c.APIEndpoint == "" {
		c.APIEndpoint = DefaultAPIEndpoint
	}
	if c.MetricsEndpoint == "" {
		c.MetricsEndpoint = DefaultMetricsEndpoint
	}
	if c.InactivityTimeoutMs == 0 {
		c.InactivityTimeoutMs = DefaultInactivityTimeoutMs
	}
	if c.HiddenTimeoutMs == 0 {
		c.HiddenTimeoutMs = DefaultHiddenTimeoutMs
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RequestTimeoutMs == 0 {
		c.RequestTimeoutMs = DefaultRequestTimeoutMs
	}
}

// Duration accessors.

func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutMs) * time.Millisecond
}

func (c *Config) HiddenTimeout() time.Duration {
	return time.Duration(c.HiddenTimeoutMs) * time.Millisecond
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}
