package config

import (
	"fmt"
	"math"
	"time"

	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

const (
	DefaultUserAgent          = "crawl-scheduler/1.0"
	DefaultResolverPoolSize   = 4
	DefaultRobotsFetchTimeout = 10 * time.Second
	DefaultRefillRatio        = 0.75
	DefaultStateDir           = "./scheduler_state"

	// Floor for robots_fetch_timeout
	minRobotsFetchTimeout = 100 * time.Millisecond
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// QueueCapacity
	if c.QueueCapacity < 1 {
		return warnings, fmt.Errorf("%w: queue_capacity must be >= 1, got %d", utils.ErrConfigValidation, c.QueueCapacity)
	}

	// QueueRefillRatio
	if c.QueueRefillRatio == 0 {
		c.QueueRefillRatio = DefaultRefillRatio
	} else if c.QueueRefillRatio < 0 || c.QueueRefillRatio > 1 {
		warnings = append(warnings, fmt.Sprintf(
			"queue_refill_ratio (%v) outside (0, 1], defaulting to %v", c.QueueRefillRatio, DefaultRefillRatio))
		c.QueueRefillRatio = DefaultRefillRatio
	}

	// ResolverPoolSize
	if c.ResolverPoolSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("resolver_pool_size should be > 0, defaulting to %d", DefaultResolverPoolSize))
		c.ResolverPoolSize = DefaultResolverPoolSize
	}

	// RobotsFetchTimeout
	if c.RobotsFetchTimeout < 0 {
		return warnings, fmt.Errorf("%w: robots_fetch_timeout cannot be negative", utils.ErrConfigValidation)
	}
	if c.RobotsFetchTimeout == 0 {
		c.RobotsFetchTimeout = DefaultRobotsFetchTimeout
	}
	if c.RobotsFetchTimeout < minRobotsFetchTimeout {
		return warnings, fmt.Errorf("%w: robots_fetch_timeout (%v) must be at least %v", utils.ErrConfigValidation, c.RobotsFetchTimeout, minRobotsFetchTimeout)
	}

	// RobotsFetchRate / RobotsFetchBurst
	if c.RobotsFetchRate < 0 {
		return warnings, fmt.Errorf("%w: robots_fetch_rate cannot be negative", utils.ErrConfigValidation)
	}
	if c.RobotsFetchBurst < 0 {
		warnings = append(warnings, "robots_fetch_burst cannot be negative, using the default")
		c.RobotsFetchBurst = 0
	}
	if c.RobotsFetchRate > 0 && c.RobotsFetchBurst == 0 {
		c.RobotsFetchBurst = int(math.Ceil(c.RobotsFetchRate))
	}

	// RobotsScheme
	switch c.RobotsScheme {
	case "":
		c.RobotsScheme = "https"
	case "http", "https":
	default:
		return warnings, fmt.Errorf("%w: robots_scheme must be 'http' or 'https', got '%s'", utils.ErrConfigValidation, c.RobotsScheme)
	}

	// Limits
	if c.MaxOutstandingDomains < 0 {
		return warnings, fmt.Errorf("%w: max_outstanding_domains cannot be negative", utils.ErrConfigValidation)
	}
	if c.MaxURLsPerServer < 0 {
		return warnings, fmt.Errorf("%w: max_urls_per_server cannot be negative", utils.ErrConfigValidation)
	}

	// UserAgent
	if c.UserAgent == "" {
		warnings = append(warnings, fmt.Sprintf("user_agent is empty, defaulting to '%s'", DefaultUserAgent))
		c.UserAgent = DefaultUserAgent
	}

	// Scorer
	switch c.Scorer {
	case "":
		c.Scorer = ScorerFixed
	case ScorerFixed, ScorerPathDepth:
	default:
		return warnings, fmt.Errorf("%w: scorer must be '%s' or '%s', got '%s'", utils.ErrConfigValidation, ScorerFixed, ScorerPathDepth, c.Scorer)
	}
	if c.Scorer == ScorerFixed {
		if c.FixedScore == 0 {
			c.FixedScore = 1.0
		} else if c.FixedScore < 0 {
			warnings = append(warnings, "fixed_score is negative, every URL will be SKIPPED")
		}
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 2
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 250 * time.Millisecond
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 2 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// GlobalTimeout
	if c.GlobalTimeout < 0 {
		warnings = append(warnings, "global_timeout cannot be negative, disabling timeout")
		c.GlobalTimeout = 0
	}

	// StateDir
	if c.EnableResultStore && c.StateDir == "" {
		warnings = append(warnings, fmt.Sprintf(
			"'enable_result_store' is true but 'state_dir' is empty. Defaulting to '%s'", DefaultStateDir))
		c.StateDir = DefaultStateDir
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}
