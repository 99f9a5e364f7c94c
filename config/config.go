package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds settings for every bookfinder component.
type Config struct {
	EndpointURL      string        `mapstructure:"endpoint_url"`
	ListenAddr       string        `mapstructure:"listen_addr"`
	APIAddr          string        `mapstructure:"api_addr"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
	VolumesURL       string        `mapstructure:"volumes_url"`
	MaxResults       int           `mapstructure:"max_results"`
	DescriptionLimit int           `mapstructure:"description_limit"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax  time.Duration `mapstructure:"retry_backoff_max"`
	CacheSize        int           `mapstructure:"cache_size"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	RateBurst        int           `mapstructure:"rate_burst"`
	TrustProxy       bool          `mapstructure:"trust_proxy"`
	MessageTimeout   time.Duration `mapstructure:"message_timeout"`
	SessionLimit     int           `mapstructure:"session_limit"`
	Parallelism      int           `mapstructure:"parallelism"`
	UserAgent        string        `mapstructure:"user_agent"`
	Verbose          bool          `mapstructure:"verbose"`
}

// DefaultConfig returns defaults suitable for running the UI and the search
// service side by side on one host.
func DefaultConfig() *Config {
	return &Config{
		EndpointURL:      "http://localhost:8081/search",
		ListenAddr:       ":8080",
		APIAddr:          ":8081",
		MetricsAddr:      "",
		VolumesURL:       "https://www.googleapis.com/books/v1/volumes",
		MaxResults:       10,
		DescriptionLimit: 300,
		Timeout:          10 * time.Second,
		MaxRetries:       2,
		RetryBackoff:     200 * time.Millisecond,
		RetryBackoffMax:  2 * time.Second,
		CacheSize:        256,
		CacheTTL:         10 * time.Minute,
		RateLimit:        5,
		RateBurst:        10,
		TrustProxy:       false,
		MessageTimeout:   5 * time.Second,
		SessionLimit:     1024,
		Parallelism:      4,
		UserAgent:        "bookfinder/1.0 (+https://github.com/rrh2023/book-finder)",
		Verbose:          false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := validateURL("endpoint URL", c.EndpointURL); err != nil {
		return err
	}
	if err := validateURL("volumes URL", c.VolumesURL); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.APIAddr == "" {
		return fmt.Errorf("api address cannot be empty")
	}
	if c.MaxResults <= 0 || c.MaxResults > 40 {
		return fmt.Errorf("max results must be between 1 and 40")
	}
	if c.DescriptionLimit <= 0 {
		return fmt.Errorf("description limit must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.CacheSize > 0 && c.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive when the cache is enabled")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rate burst must be positive when rate limiting is enabled")
	}
	if c.MessageTimeout <= 0 {
		return fmt.Errorf("message timeout must be positive")
	}
	if c.SessionLimit <= 0 {
		return fmt.Errorf("session limit must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", name)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
