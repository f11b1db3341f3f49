package config

import (
	stderr "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/objectfs/streamcache/internal/cache"
	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/types"
)

// Test Constants
const (
	TestDebugLevel = "DEBUG"
	TestCacheSize  = "8MB"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	// Test global defaults
	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9090 {
		t.Errorf("Expected MetricsPort to be 9090, got %d", cfg.Global.MetricsPort)
	}

	// Test cache defaults
	if cfg.Cache.CacheSize != "256MB" {
		t.Errorf("Expected CacheSize to be 256MB, got %s", cfg.Cache.CacheSize)
	}
	if cfg.Cache.ContinueThreshold != "5MB" {
		t.Errorf("Expected ContinueThreshold to be 5MB, got %s", cfg.Cache.ContinueThreshold)
	}
	if cfg.Cache.ErrorWindow != cache.DefaultErrorWindow {
		t.Errorf("Expected ErrorWindow to be %v, got %v", cache.DefaultErrorWindow, cfg.Cache.ErrorWindow)
	}

	// Test message cache defaults
	if cfg.Messages.BlockDuration != 0 {
		t.Errorf("Expected BlockDuration to be derived (0), got %v", cfg.Messages.BlockDuration)
	}
	if cfg.Messages.MaxBlocks != cache.DefaultMaxBlocks {
		t.Errorf("Expected MaxBlocks to be %d, got %d", cache.DefaultMaxBlocks, cfg.Messages.MaxBlocks)
	}
	if cfg.Messages.CacheLimitBlocks != cache.DefaultCacheLimitBlocks {
		t.Errorf("Expected CacheLimitBlocks to be %d, got %d", cache.DefaultCacheLimitBlocks, cfg.Messages.CacheLimitBlocks)
	}

	// Test storage defaults
	if cfg.Storage.S3.Region != "us-east-1" {
		t.Errorf("Expected Region to be us-east-1, got %s", cfg.Storage.S3.Region)
	}
	if !cfg.Storage.S3.PinETag {
		t.Error("Expected PinETag to be enabled by default")
	}
	if !cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected metrics to be enabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Configuration)
		wantErr string
	}{
		{
			name:   "valid config",
			modify: func(c *Configuration) {},
		},
		{
			name:    "invalid log level",
			modify:  func(c *Configuration) { c.Global.LogLevel = "LOUD" },
			wantErr: "invalid log_level",
		},
		{
			name:    "invalid log format",
			modify:  func(c *Configuration) { c.Monitoring.Logging.Format = "xml" },
			wantErr: "invalid logging format",
		},
		{
			name:    "metrics port out of range",
			modify:  func(c *Configuration) { c.Global.MetricsPort = 70000 },
			wantErr: "metrics_port",
		},
		{
			name: "port ignored when metrics disabled",
			modify: func(c *Configuration) {
				c.Global.MetricsPort = 70000
				c.Monitoring.Metrics.Enabled = false
			},
		},
		{
			name:    "invalid log max size",
			modify:  func(c *Configuration) { c.Global.LogMaxSize = "huge" },
			wantErr: "log_max_size",
		},
		{
			name:    "negative log backups",
			modify:  func(c *Configuration) { c.Global.LogMaxBackups = -1 },
			wantErr: "log_max_backups",
		},
		{
			name:    "invalid cache size",
			modify:  func(c *Configuration) { c.Cache.CacheSize = "lots" },
			wantErr: "cache.cache_size",
		},
		{
			name:   "unlimited cache size",
			modify: func(c *Configuration) { c.Cache.CacheSize = "0" },
		},
		{
			name:    "zero block size",
			modify:  func(c *Configuration) { c.Cache.BlockSize = "0" },
			wantErr: "block_size",
		},
		{
			name:    "invalid message cache size",
			modify:  func(c *Configuration) { c.Messages.MaxCacheSize = "" },
			wantErr: "messages.max_cache_size",
		},
		{
			name:    "zero cache limit blocks",
			modify:  func(c *Configuration) { c.Messages.CacheLimitBlocks = 0 },
			wantErr: "cache_limit_blocks",
		},
		{
			name:    "negative block duration",
			modify:  func(c *Configuration) { c.Messages.BlockDuration = -time.Second },
			wantErr: "cannot be negative",
		},
		{
			name:    "zero retry attempts",
			modify:  func(c *Configuration) { c.Network.Retry.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name:    "half a key pair",
			modify:  func(c *Configuration) { c.Storage.S3.AccessKeyID = "AKIA" },
			wantErr: "secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(strings.ToLower(err.Error()), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
			if !stderr.Is(err, errors.NewError(errors.ErrCodeConfigValidation, "")) {
				t.Errorf("Expected CONFIG_VALIDATION error, got %v", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
global:
  log_level: DEBUG
  metrics_port: 9191
cache:
  cache_size: 8MB
  block_size: 256KB
messages:
  block_duration: 2s
  cache_limit_blocks: 10
storage:
  s3:
    region: eu-west-1
    endpoint: http://localhost:9000
    force_path_style: true
mount:
  allow_other: true
`
	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9191 {
		t.Errorf("Expected MetricsPort to be 9191, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Cache.CacheSize != TestCacheSize {
		t.Errorf("Expected CacheSize to be %s, got %s", TestCacheSize, cfg.Cache.CacheSize)
	}
	if cfg.Messages.BlockDuration != 2*time.Second {
		t.Errorf("Expected BlockDuration to be 2s, got %v", cfg.Messages.BlockDuration)
	}
	if cfg.Storage.S3.Region != "eu-west-1" || !cfg.Storage.S3.ForcePathStyle {
		t.Errorf("Unexpected S3 settings: %+v", cfg.Storage.S3)
	}
	if !cfg.Mount.AllowOther {
		t.Error("Expected AllowOther to be true")
	}

	// Unset keys keep their defaults.
	if cfg.Cache.ChunkSize != "64KB" {
		t.Errorf("Expected ChunkSize default to survive, got %s", cfg.Cache.ChunkSize)
	}
	if !cfg.Storage.S3.PinETag {
		t.Error("Expected PinETag default to survive")
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Expected error when loading non-existent file")
	}
	if !stderr.Is(err, errors.NewError(errors.ErrCodeConfigLoad, "")) {
		t.Errorf("Expected CONFIG_LOAD error, got %v", err)
	}
	if !stderr.Is(err, os.ErrNotExist) {
		t.Errorf("Expected cause to be os.ErrNotExist, got %v", err)
	}
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(configFile, []byte("global: [unclosed"), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := NewDefault()
	err := cfg.LoadFromFile(configFile)
	if err == nil {
		t.Fatal("Expected error when parsing invalid YAML")
	}
	if !stderr.Is(err, errors.NewError(errors.ErrCodeConfigLoad, "")) {
		t.Errorf("Expected CONFIG_LOAD error, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"STREAMCACHE_LOG_LEVEL":           "debug",
		"STREAMCACHE_LOG_FORMAT":          "json",
		"STREAMCACHE_METRICS_PORT":        "9292",
		"STREAMCACHE_METRICS_ENABLED":     "false",
		"STREAMCACHE_CACHE_SIZE":          TestCacheSize,
		"STREAMCACHE_BLOCK_DURATION":      "500ms",
		"STREAMCACHE_RETRY_MAX_ATTEMPTS":  "5",
		"STREAMCACHE_S3_REGION":           "ap-south-1",
		"STREAMCACHE_S3_FORCE_PATH_STYLE": "TRUE",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("Failed to load from env: %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Monitoring.Logging.Format != "json" {
		t.Errorf("Expected log format json, got %s", cfg.Monitoring.Logging.Format)
	}
	if cfg.Global.MetricsPort != 9292 {
		t.Errorf("Expected MetricsPort to be 9292, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected metrics to be disabled")
	}
	if cfg.Cache.CacheSize != TestCacheSize {
		t.Errorf("Expected CacheSize to be %s, got %s", TestCacheSize, cfg.Cache.CacheSize)
	}
	if cfg.Messages.BlockDuration != 500*time.Millisecond {
		t.Errorf("Expected BlockDuration to be 500ms, got %v", cfg.Messages.BlockDuration)
	}
	if cfg.Network.Retry.MaxAttempts != 5 {
		t.Errorf("Expected MaxAttempts to be 5, got %d", cfg.Network.Retry.MaxAttempts)
	}
	if cfg.Storage.S3.Region != "ap-south-1" || !cfg.Storage.S3.ForcePathStyle {
		t.Errorf("Unexpected S3 settings: %+v", cfg.Storage.S3)
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	tests := map[string]string{
		"STREAMCACHE_METRICS_PORT":       "ninety",
		"STREAMCACHE_BLOCK_DURATION":     "soon",
		"STREAMCACHE_RETRY_MAX_ATTEMPTS": "many",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			cfg := NewDefault()
			err := cfg.LoadFromEnv()
			if err == nil {
				t.Fatalf("Expected error for %s=%s", key, value)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("Expected error to name %s, got %v", key, err)
			}
		})
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "nested", "dir", "config.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = TestDebugLevel
	cfg.Cache.CacheSize = TestCacheSize
	cfg.Messages.BlockDuration = 3 * time.Second

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(configFile)
	if err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected file mode 0600, got %v", info.Mode().Perm())
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", loaded.Global.LogLevel)
	}
	if loaded.Cache.CacheSize != TestCacheSize {
		t.Errorf("Expected CacheSize to be %s, got %s", TestCacheSize, loaded.Cache.CacheSize)
	}
	if loaded.Messages.BlockDuration != 3*time.Second {
		t.Errorf("Expected BlockDuration to be 3s, got %v", loaded.Messages.BlockDuration)
	}
}

func TestFileOptions(t *testing.T) {
	cfg := NewDefault()
	cfg.Cache.CacheSize = TestCacheSize
	cfg.Cache.BlockSize = "128KB"

	opts, err := cfg.FileOptions("video", nil, types.NoopMetrics{})
	if err != nil {
		t.Fatalf("FileOptions failed: %v", err)
	}
	if opts.Name != "video" {
		t.Errorf("Expected name video, got %s", opts.Name)
	}
	if opts.CacheSize != 8*1024*1024 {
		t.Errorf("Expected CacheSize 8MiB, got %d", opts.CacheSize)
	}
	if opts.BlockSize != 128*1024 {
		t.Errorf("Expected BlockSize 128KiB, got %d", opts.BlockSize)
	}
	if opts.ChunkSize != cache.DefaultChunkSize {
		t.Errorf("Expected ChunkSize %d, got %d", cache.DefaultChunkSize, opts.ChunkSize)
	}
	if opts.ContinueThreshold != cache.DefaultContinueThreshold {
		t.Errorf("Expected ContinueThreshold %d, got %d", cache.DefaultContinueThreshold, opts.ContinueThreshold)
	}
	if opts.Retry.MaxAttempts != 3 {
		t.Errorf("Expected 3 retry attempts, got %d", opts.Retry.MaxAttempts)
	}

	cfg.Cache.ChunkSize = "bad"
	if _, err := cfg.FileOptions("video", nil, nil); err == nil {
		t.Error("Expected error for invalid chunk size")
	}
}

func TestMessageOptions(t *testing.T) {
	cfg := NewDefault()
	cfg.Messages.BlockDuration = time.Second
	cfg.Messages.MaxCacheSize = "2MB"

	opts, err := cfg.MessageOptions("events", nil, nil)
	if err != nil {
		t.Fatalf("MessageOptions failed: %v", err)
	}
	if opts.BlockDuration != time.Second {
		t.Errorf("Expected BlockDuration 1s, got %v", opts.BlockDuration)
	}
	if opts.MaxCacheBytes != 2*1024*1024 {
		t.Errorf("Expected MaxCacheBytes 2MiB, got %d", opts.MaxCacheBytes)
	}
	if opts.MinimumBlocksToKeep == nil || *opts.MinimumBlocksToKeep != cache.DefaultMinimumBlocksToKeep {
		t.Errorf("Expected MinimumBlocksToKeep %d, got %v", cache.DefaultMinimumBlocksToKeep, opts.MinimumBlocksToKeep)
	}

	cfg.Messages.MinimumBlocksToKeep = 0
	opts, err = cfg.MessageOptions("events", nil, nil)
	if err != nil {
		t.Fatalf("MessageOptions failed: %v", err)
	}
	if opts.MinimumBlocksToKeep == nil || *opts.MinimumBlocksToKeep != 0 {
		t.Errorf("Expected explicit MinimumBlocksToKeep 0, got %v", opts.MinimumBlocksToKeep)
	}
}

func TestConverters(t *testing.T) {
	cfg := NewDefault()
	cfg.Network.Retry = RetryConfig{MaxAttempts: 7, BaseDelay: 10 * time.Millisecond}
	cfg.Storage.S3.Endpoint = "http://localhost:9000"
	cfg.Storage.S3.PinETag = false
	cfg.Network.Timeouts.Request = 5 * time.Second
	cfg.Mount.Debug = true

	retryCfg := cfg.RetryConfig()
	if retryCfg.MaxAttempts != 7 || retryCfg.InitialDelay != 10*time.Millisecond {
		t.Errorf("Unexpected retry config: %+v", retryCfg)
	}
	if retryCfg.MaxDelay != 5*time.Second {
		t.Errorf("Expected MaxDelay to keep its default, got %v", retryCfg.MaxDelay)
	}

	s3Cfg := cfg.S3Config()
	if s3Cfg.Endpoint != "http://localhost:9000" || s3Cfg.PinETag {
		t.Errorf("Unexpected S3 config: %+v", s3Cfg)
	}
	if s3Cfg.RequestTimeout != 5*time.Second {
		t.Errorf("Expected RequestTimeout 5s, got %v", s3Cfg.RequestTimeout)
	}

	metricsCfg := cfg.MetricsConfig()
	if metricsCfg.Port != 9090 || metricsCfg.Namespace != "streamcache" {
		t.Errorf("Unexpected metrics config: %+v", metricsCfg)
	}

	cfg.Global.LogFile = "/var/log/streamcache.log"
	rotation := cfg.LogRotation()
	if rotation.Filename != "/var/log/streamcache.log" || rotation.MaxSize != 100*1024*1024 || rotation.MaxBackups != 5 {
		t.Errorf("Unexpected log rotation: %+v", rotation)
	}

	fuseCfg := cfg.FuseConfig("/mnt/stream")
	if fuseCfg.MountPoint != "/mnt/stream" || !fuseCfg.Debug || fuseCfg.AttrTimeout != time.Minute {
		t.Errorf("Unexpected fuse config: %+v", fuseCfg)
	}
}
