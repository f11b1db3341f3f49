package s3

import (
	"fmt"
	"time"
)

// Config represents S3 transport configuration
type Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// Performance settings
	MaxRetries     int           `yaml:"max_retries"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // HeadObject only; range streams are bounded by the cache

	// Advanced settings
	UseAccelerate bool `yaml:"use_accelerate"`
	UseDualStack  bool `yaml:"use_dual_stack"`

	// PinETag makes every range request conditional on the ETag seen by
	// Open, so a replaced object fails the read instead of mixing versions.
	PinETag bool `yaml:"pin_etag"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Region:         "us-east-1",
		MaxRetries:     3,
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
		PinETag:        true,
	}
}

// Validate checks the configuration for values the SDK would reject later.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative: %d", c.MaxRetries)
	}
	if c.ConnectTimeout < 0 || c.RequestTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	if c.UseAccelerate && c.ForcePathStyle {
		return fmt.Errorf("transfer acceleration does not support path-style addressing")
	}
	return nil
}
