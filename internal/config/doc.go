/*
Package config provides configuration management for streamcache.

Configuration is layered. Compiled-in defaults come first, then a YAML file,
then STREAMCACHE_* environment variables, then command-line flags applied by
the caller:

	┌─────────────────────────────────────────────┐
	│          Command-line flags                 │ ← Highest Priority
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables                │
	│           (STREAMCACHE_*)                   │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Sections

	global:      log level, log file, metrics port
	cache:       byte-range file cache sizes and error window
	messages:    time-block message cache geometry and byte budget
	network:     timeouts and the retry policy used when opening a resource
	storage.s3:  region, endpoint, credentials, addressing, ETag pinning
	monitoring:  Prometheus exporter and log format
	mount:       FUSE options

Sizes are strings such as "256MB" or "64KB", parsed by utils.ParseBytes with
1024-based multipliers. A cache_size of "0" disables the byte budget.

# Example

	global:
	  log_level: INFO
	  metrics_port: 9090
	cache:
	  cache_size: 256MB
	  block_size: 1MB
	  continue_threshold: 5MB
	messages:
	  block_duration: 1s
	  cache_limit_blocks: 100
	  max_cache_size: 1GB
	storage:
	  s3:
	    region: us-east-1
	    pin_etag: true

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile(path); err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	opts, err := cfg.FileOptions("video", logger, collector)

The converters (FileOptions, MessageOptions, RetryConfig, S3Config,
MetricsConfig, FuseConfig) turn each section into the option type of the
package that consumes it.
*/
package config
