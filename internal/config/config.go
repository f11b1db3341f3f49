package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/streamcache/internal/cache"
	"github.com/objectfs/streamcache/internal/fuse"
	"github.com/objectfs/streamcache/internal/metrics"
	"github.com/objectfs/streamcache/internal/storage/s3"
	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/retry"
	"github.com/objectfs/streamcache/pkg/types"
	"github.com/objectfs/streamcache/pkg/utils"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "STREAMCACHE_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig       `yaml:"global"`
	Cache      CacheConfig        `yaml:"cache"`
	Messages   MessageCacheConfig `yaml:"messages"`
	Network    NetworkConfig      `yaml:"network"`
	Storage    StorageConfig      `yaml:"storage"`
	Monitoring MonitoringConfig   `yaml:"monitoring"`
	Mount      MountConfig        `yaml:"mount"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSize    string `yaml:"log_max_size"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogCompress   bool   `yaml:"log_compress"`
	MetricsPort   int    `yaml:"metrics_port"`
}

// CacheConfig configures the byte-range file cache. Sizes accept the
// suffixes understood by utils.ParseBytes ("64MB", "1G").
type CacheConfig struct {
	CacheSize         string        `yaml:"cache_size"`
	BlockSize         string        `yaml:"block_size"`
	ChunkSize         string        `yaml:"chunk_size"`
	ContinueThreshold string        `yaml:"continue_threshold"`
	ErrorWindow       time.Duration `yaml:"error_window"`
}

// MessageCacheConfig configures the time-block message cache.
type MessageCacheConfig struct {
	BlockDuration           time.Duration `yaml:"block_duration"`
	MaxBlocks               int           `yaml:"max_blocks"`
	MinBlockDuration        time.Duration `yaml:"min_block_duration"`
	CacheLimitBlocks        uint64        `yaml:"cache_limit_blocks"`
	ContinueThresholdBlocks uint64        `yaml:"continue_threshold_blocks"`
	MaxCacheSize            string        `yaml:"max_cache_size"`
	MinimumBlocksToKeep     uint64        `yaml:"minimum_blocks_to_keep"`
	ErrorWindow             time.Duration `yaml:"error_window"`
}

// NetworkConfig represents network configuration
type NetworkConfig struct {
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Retry    RetryConfig   `yaml:"retry"`
}

// TimeoutConfig represents timeout settings
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Request time.Duration `yaml:"request"`
}

// RetryConfig represents retry settings for opening a resource
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// StorageConfig represents storage backend settings
type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config represents the S3 settings not covered by NetworkConfig
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	UseAccelerate   bool   `yaml:"use_accelerate"`
	UseDualStack    bool   `yaml:"use_dual_stack"`
	PinETag         bool   `yaml:"pin_etag"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Path         string            `yaml:"path"`
	Namespace    string            `yaml:"namespace"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Format string `yaml:"format"`
}

// MountConfig represents FUSE mount settings
type MountConfig struct {
	AllowOther   bool          `yaml:"allow_other"`
	Debug        bool          `yaml:"debug"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:      "INFO",
			LogFile:       "",
			LogMaxSize:    "100MB",
			LogMaxBackups: 5,
			MetricsPort:   9090,
		},
		Cache: CacheConfig{
			CacheSize:         "256MB",
			BlockSize:         "1MB",
			ChunkSize:         "64KB",
			ContinueThreshold: "5MB",
			ErrorWindow:       cache.DefaultErrorWindow,
		},
		Messages: MessageCacheConfig{
			MaxBlocks:               cache.DefaultMaxBlocks,
			MinBlockDuration:        cache.DefaultMinBlockDuration,
			CacheLimitBlocks:        cache.DefaultCacheLimitBlocks,
			ContinueThresholdBlocks: cache.DefaultContinueThresholdBlocks,
			MaxCacheSize:            "1GB",
			MinimumBlocksToKeep:     cache.DefaultMinimumBlocksToKeep,
			ErrorWindow:             cache.DefaultErrorWindow,
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 10 * time.Second,
				Request: 30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   100 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
		},
		Storage: StorageConfig{
			S3: S3Config{
				Region:  "us-east-1",
				PinETag: true,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Path:      "/metrics",
				Namespace: "streamcache",
				CustomLabels: map[string]string{
					"service": "streamcache",
				},
			},
			Logging: LoggingConfig{
				Format: "text",
			},
		},
		Mount: MountConfig{
			AttrTimeout:  time.Minute,
			EntryTimeout: time.Minute,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to read config file", err).
			WithComponent("config").
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to parse config file", err).
			WithComponent("config").
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from STREAMCACHE_* environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := getenv("LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := getenv("LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := getenv("LOG_FORMAT"); val != "" {
		c.Monitoring.Logging.Format = val
	}
	if val := getenv("METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %sMETRICS_PORT: %w", EnvPrefix, err)
		}
		c.Global.MetricsPort = port
	}
	if val := getenv("METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	// Cache settings
	if val := getenv("CACHE_SIZE"); val != "" {
		c.Cache.CacheSize = val
	}
	if val := getenv("BLOCK_SIZE"); val != "" {
		c.Cache.BlockSize = val
	}
	if val := getenv("CONTINUE_THRESHOLD"); val != "" {
		c.Cache.ContinueThreshold = val
	}
	if val := getenv("MESSAGE_CACHE_SIZE"); val != "" {
		c.Messages.MaxCacheSize = val
	}
	if val := getenv("BLOCK_DURATION"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid %sBLOCK_DURATION: %w", EnvPrefix, err)
		}
		c.Messages.BlockDuration = d
	}

	// Network settings
	if val := getenv("RETRY_MAX_ATTEMPTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %sRETRY_MAX_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.Network.Retry.MaxAttempts = n
	}

	// S3 settings
	if val := getenv("S3_REGION"); val != "" {
		c.Storage.S3.Region = val
	}
	if val := getenv("S3_ENDPOINT"); val != "" {
		c.Storage.S3.Endpoint = val
	}
	if val := getenv("S3_FORCE_PATH_STYLE"); val != "" {
		c.Storage.S3.ForcePathStyle = strings.ToLower(val) == "true"
	}

	return nil
}

func getenv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration. Failures carry
// errors.ErrCodeConfigValidation.
func (c *Configuration) Validate() error {
	if err := c.validate(); err != nil {
		return errors.Wrap(errors.ErrCodeConfigValidation, "invalid configuration", err).
			WithComponent("config").
			WithOperation("validate")
	}
	return nil
}

func (c *Configuration) validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel)
	}

	switch c.Monitoring.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format: %s (must be text or json)", c.Monitoring.Logging.Format)
	}

	if c.Monitoring.Metrics.Enabled && (c.Global.MetricsPort < 0 || c.Global.MetricsPort > 65535) {
		return fmt.Errorf("metrics_port out of range: %d", c.Global.MetricsPort)
	}

	sizes := []struct {
		name  string
		value string
	}{
		{"global.log_max_size", c.Global.LogMaxSize},
		{"cache.cache_size", c.Cache.CacheSize},
		{"cache.block_size", c.Cache.BlockSize},
		{"cache.chunk_size", c.Cache.ChunkSize},
		{"cache.continue_threshold", c.Cache.ContinueThreshold},
		{"messages.max_cache_size", c.Messages.MaxCacheSize},
	}
	for _, s := range sizes {
		if _, err := utils.ParseBytes(s.value); err != nil {
			return fmt.Errorf("invalid %s: %w", s.name, err)
		}
	}

	if c.Global.LogMaxBackups < 0 {
		return fmt.Errorf("global.log_max_backups cannot be negative")
	}

	blockSize, _ := utils.ParseBytes(c.Cache.BlockSize)
	if blockSize == 0 {
		return fmt.Errorf("cache.block_size must be greater than 0")
	}

	if c.Messages.CacheLimitBlocks == 0 {
		return fmt.Errorf("messages.cache_limit_blocks must be greater than 0")
	}
	if c.Messages.BlockDuration < 0 || c.Messages.MinBlockDuration < 0 {
		return fmt.Errorf("message block durations cannot be negative")
	}

	if c.Network.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be greater than 0")
	}

	return c.S3Config().Validate()
}

// LogRotation converts the global log settings into a utils.RotationConfig.
func (c *Configuration) LogRotation() utils.RotationConfig {
	maxSize, _ := utils.ParseBytes(c.Global.LogMaxSize)
	return utils.RotationConfig{
		Filename:   c.Global.LogFile,
		MaxSize:    maxSize,
		MaxBackups: c.Global.LogMaxBackups,
		Compress:   c.Global.LogCompress,
	}
}

// FileOptions converts the cache section into options for cache.NewFileCache.
func (c *Configuration) FileOptions(name string, logger *slog.Logger, m types.MetricsCollector) (cache.FileOptions, error) {
	cacheSize, err := utils.ParseBytes(c.Cache.CacheSize)
	if err != nil {
		return cache.FileOptions{}, fmt.Errorf("invalid cache.cache_size: %w", err)
	}
	blockSize, err := utils.ParseBytes(c.Cache.BlockSize)
	if err != nil {
		return cache.FileOptions{}, fmt.Errorf("invalid cache.block_size: %w", err)
	}
	chunkSize, err := utils.ParseBytes(c.Cache.ChunkSize)
	if err != nil {
		return cache.FileOptions{}, fmt.Errorf("invalid cache.chunk_size: %w", err)
	}
	threshold, err := utils.ParseBytes(c.Cache.ContinueThreshold)
	if err != nil {
		return cache.FileOptions{}, fmt.Errorf("invalid cache.continue_threshold: %w", err)
	}

	return cache.FileOptions{
		Name:              name,
		CacheSize:         uint64(cacheSize),
		BlockSize:         uint64(blockSize),
		ChunkSize:         int(chunkSize),
		ContinueThreshold: uint64(threshold),
		ErrorWindow:       c.Cache.ErrorWindow,
		Retry:             c.RetryConfig(),
		Logger:            logger,
		Metrics:           m,
	}, nil
}

// MessageOptions converts the messages section into options for
// cache.NewMessageCache.
func (c *Configuration) MessageOptions(name string, logger *slog.Logger, m types.MetricsCollector) (cache.MessageOptions, error) {
	maxBytes, err := utils.ParseBytes(c.Messages.MaxCacheSize)
	if err != nil {
		return cache.MessageOptions{}, fmt.Errorf("invalid messages.max_cache_size: %w", err)
	}

	keep := c.Messages.MinimumBlocksToKeep
	return cache.MessageOptions{
		Name:                    name,
		BlockDuration:           c.Messages.BlockDuration,
		MaxBlocks:               c.Messages.MaxBlocks,
		MinBlockDuration:        c.Messages.MinBlockDuration,
		CacheLimitBlocks:        c.Messages.CacheLimitBlocks,
		ContinueThresholdBlocks: c.Messages.ContinueThresholdBlocks,
		MaxCacheBytes:           uint64(maxBytes),
		MinimumBlocksToKeep:     &keep,
		ErrorWindow:             c.Messages.ErrorWindow,
		Retry:                   c.RetryConfig(),
		Logger:                  logger,
		Metrics:                 m,
	}, nil
}

// RetryConfig converts the retry section into a retry.Config.
func (c *Configuration) RetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = c.Network.Retry.MaxAttempts
	if c.Network.Retry.BaseDelay > 0 {
		cfg.InitialDelay = c.Network.Retry.BaseDelay
	}
	if c.Network.Retry.MaxDelay > 0 {
		cfg.MaxDelay = c.Network.Retry.MaxDelay
	}
	return cfg
}

// S3Config converts the storage and network sections into an s3.Config.
// SDK-level retries are left to the SDK default; opening is retried by the
// cache.
func (c *Configuration) S3Config() *s3.Config {
	cfg := s3.NewDefaultConfig()
	cfg.Region = c.Storage.S3.Region
	cfg.Endpoint = c.Storage.S3.Endpoint
	cfg.AccessKeyID = c.Storage.S3.AccessKeyID
	cfg.SecretAccessKey = c.Storage.S3.SecretAccessKey
	cfg.SessionToken = c.Storage.S3.SessionToken
	cfg.ForcePathStyle = c.Storage.S3.ForcePathStyle
	cfg.UseAccelerate = c.Storage.S3.UseAccelerate
	cfg.UseDualStack = c.Storage.S3.UseDualStack
	cfg.PinETag = c.Storage.S3.PinETag
	cfg.ConnectTimeout = c.Network.Timeouts.Connect
	cfg.RequestTimeout = c.Network.Timeouts.Request
	return cfg
}

// MetricsConfig converts the monitoring section into a metrics.Config.
func (c *Configuration) MetricsConfig() *metrics.Config {
	return &metrics.Config{
		Enabled:   c.Monitoring.Metrics.Enabled,
		Port:      c.Global.MetricsPort,
		Path:      c.Monitoring.Metrics.Path,
		Namespace: c.Monitoring.Metrics.Namespace,
		Labels:    c.Monitoring.Metrics.CustomLabels,
	}
}

// FuseConfig converts the mount section into a fuse.Config for mountPoint.
func (c *Configuration) FuseConfig(mountPoint string) fuse.Config {
	return fuse.Config{
		MountPoint:   mountPoint,
		AllowOther:   c.Mount.AllowOther,
		Debug:        c.Mount.Debug,
		AttrTimeout:  c.Mount.AttrTimeout,
		EntryTimeout: c.Mount.EntryTimeout,
	}
}
