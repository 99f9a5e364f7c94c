package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every environment variable read by this package.
const EnvPrefix = "BOOKFINDER_"

// EnvString returns the trimmed value of BOOKFINDER_<name> when it is set.
func EnvString(name string) (string, bool) {
	value, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses BOOKFINDER_<name> as an integer.
func EnvInt(name string) (int, bool, error) {
	value, ok := EnvString(name)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return n, true, nil
}

// EnvDuration parses BOOKFINDER_<name> as a Go duration ("5s", "200ms").
func EnvDuration(name string) (time.Duration, bool, error) {
	value, ok := EnvString(name)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return d, true, nil
}

// EnvFloat parses BOOKFINDER_<name> as a float.
func EnvFloat(name string) (float64, bool, error) {
	value, ok := EnvString(name)
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return f, true, nil
}

// EnvBool parses BOOKFINDER_<name> with strconv.ParseBool.
func EnvBool(name string) (bool, bool, error) {
	value, ok := EnvString(name)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return b, true, nil
}

// envField binds one config key to its BOOKFINDER_ variable.
type envField struct {
	key   string
	apply func(cfg *Config, name string) error
}

func stringField(key string, dst func(*Config) *string) envField {
	return envField{key, func(cfg *Config, name string) error {
		if v, ok := EnvString(name); ok {
			*dst(cfg) = v
		}
		return nil
	}}
}

func intField(key string, dst func(*Config) *int) envField {
	return envField{key, func(cfg *Config, name string) error {
		v, ok, err := EnvInt(name)
		if ok {
			*dst(cfg) = v
		}
		return err
	}}
}

func floatField(key string, dst func(*Config) *float64) envField {
	return envField{key, func(cfg *Config, name string) error {
		v, ok, err := EnvFloat(name)
		if ok {
			*dst(cfg) = v
		}
		return err
	}}
}

func durationField(key string, dst func(*Config) *time.Duration) envField {
	return envField{key, func(cfg *Config, name string) error {
		v, ok, err := EnvDuration(name)
		if ok {
			*dst(cfg) = v
		}
		return err
	}}
}

func boolField(key string, dst func(*Config) *bool) envField {
	return envField{key, func(cfg *Config, name string) error {
		v, ok, err := EnvBool(name)
		if ok {
			*dst(cfg) = v
		}
		return err
	}}
}

// envFields lists every Config key; keys match the mapstructure tags.
var envFields = []envField{
	stringField("endpoint_url", func(c *Config) *string { return &c.EndpointURL }),
	stringField("listen_addr", func(c *Config) *string { return &c.ListenAddr }),
	stringField("api_addr", func(c *Config) *string { return &c.APIAddr }),
	stringField("metrics_addr", func(c *Config) *string { return &c.MetricsAddr }),
	stringField("volumes_url", func(c *Config) *string { return &c.VolumesURL }),
	intField("max_results", func(c *Config) *int { return &c.MaxResults }),
	intField("description_limit", func(c *Config) *int { return &c.DescriptionLimit }),
	durationField("timeout", func(c *Config) *time.Duration { return &c.Timeout }),
	intField("max_retries", func(c *Config) *int { return &c.MaxRetries }),
	durationField("retry_backoff", func(c *Config) *time.Duration { return &c.RetryBackoff }),
	durationField("retry_backoff_max", func(c *Config) *time.Duration { return &c.RetryBackoffMax }),
	intField("cache_size", func(c *Config) *int { return &c.CacheSize }),
	durationField("cache_ttl", func(c *Config) *time.Duration { return &c.CacheTTL }),
	floatField("rate_limit", func(c *Config) *float64 { return &c.RateLimit }),
	intField("rate_burst", func(c *Config) *int { return &c.RateBurst }),
	boolField("trust_proxy", func(c *Config) *bool { return &c.TrustProxy }),
	durationField("message_timeout", func(c *Config) *time.Duration { return &c.MessageTimeout }),
	intField("session_limit", func(c *Config) *int { return &c.SessionLimit }),
	intField("parallelism", func(c *Config) *int { return &c.Parallelism }),
	stringField("user_agent", func(c *Config) *string { return &c.UserAgent }),
	boolField("verbose", func(c *Config) *bool { return &c.Verbose }),
}

// EnvKeys returns every config key in file form ("rate_limit"). Each one
// is read from BOOKFINDER_<KEY>.
func EnvKeys() []string {
	keys := make([]string, len(envFields))
	for i, f := range envFields {
		keys[i] = f.key
	}
	return keys
}

// ApplyEnv overlays the environment on cfg. Values that fail to parse are
// reported and leave cfg unchanged for that field.
func ApplyEnv(cfg *Config) error {
	var errs []error
	for _, f := range envFields {
		if err := f.apply(cfg, strings.ToUpper(f.key)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
