package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

// Scorer kinds accepted by the scorer setting
const (
	ScorerFixed     = "fixed"
	ScorerPathDepth = "path_depth"
)

// AppConfig holds the scheduler configuration
type AppConfig struct {
	UserAgent             string           `yaml:"user_agent"`
	QueueCapacity         int              `yaml:"queue_capacity"`                // Resident window of the staging queue (required, >= 1)
	QueueRefillRatio      float64          `yaml:"queue_refill_ratio,omitempty"`  // Refill from disk below capacity*ratio
	SpillDir              string           `yaml:"spill_dir,omitempty"`           // Overflow file directory (default: OS temp dir)
	ResolverPoolSize      int              `yaml:"resolver_pool_size"`            // Concurrent exclusion-rule fetches
	RobotsFetchTimeout    time.Duration    `yaml:"robots_fetch_timeout"`          // Per-domain fetch-and-parse timeout
	RobotsScheme          string           `yaml:"robots_scheme,omitempty"`       // Scheme used to fetch /robots.txt
	RobotsFetchRate       float64          `yaml:"robots_fetch_rate,omitempty"`   // robots.txt fetches per second across all domains (0 = unlimited)
	RobotsFetchBurst      int              `yaml:"robots_fetch_burst,omitempty"`  // Fetches allowed back to back (default: ceil of the rate)
	RespectRobots         *bool            `yaml:"respect_robots,omitempty"`      // nil = true; false allows every URL without fetching
	MaxOutstandingDomains int              `yaml:"max_outstanding_domains"`       // 0 = unlimited
	MaxURLsPerServer      int              `yaml:"max_urls_per_server,omitempty"` // 0 = unlimited
	Scorer                string           `yaml:"scorer,omitempty"`              // "fixed" or "path_depth"
	FixedScore            float64          `yaml:"fixed_score,omitempty"`         // Score used by the fixed scorer
	MaxRetries            int              `yaml:"max_retries,omitempty"`         // Robots fetch retries
	InitialRetryDelay     time.Duration    `yaml:"initial_retry_delay,omitempty"` // First backoff delay
	MaxRetryDelay         time.Duration    `yaml:"max_retry_delay,omitempty"`     // Backoff cap
	GlobalTimeout         time.Duration    `yaml:"global_timeout,omitempty"`      // Whole-run timeout (0 = none)
	EnableResultStore     bool             `yaml:"enable_result_store,omitempty"` // Persist dispositions to badger
	StateDir              string           `yaml:"state_dir,omitempty"`           // Badger directory root
	HTTPClientSettings    HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // Tri-state: nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// EffectiveRespectRobots reports whether exclusion rules should be honoured
func (c *AppConfig) EffectiveRespectRobots() bool {
	if c.RespectRobots != nil {
		return *c.RespectRobots
	}
	return true
}

// Load reads and parses a YAML config file. It does not validate
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config '%s': %w", utils.ErrFilesystem, path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes. Unknown keys are rejected so typos surface early
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) { // Empty file decodes to the zero config
		return nil, fmt.Errorf("%w: parsing config: %w", utils.ErrConfigValidation, err)
	}
	return &cfg, nil
}
