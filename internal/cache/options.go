package cache

import (
	"log/slog"
	"math"
	"time"

	"github.com/objectfs/streamcache/pkg/retry"
	"github.com/objectfs/streamcache/pkg/types"
)

// Byte variant defaults.
const (
	DefaultContinueThreshold = 5 * 1024 * 1024
	DefaultChunkSize         = 64 * 1024
)

// Block variant defaults.
const (
	DefaultMaxBlocks               = 400
	DefaultMinBlockDuration        = 100 * time.Millisecond
	DefaultCacheLimitBlocks        = 100
	DefaultContinueThresholdBlocks = 1
	DefaultMaxCacheBytes           = 1024 * 1024 * 1024
	DefaultMinimumBlocksToKeep     = 2
)

// FileOptions configures a FileCache.
type FileOptions struct {
	// Name labels metrics and logs. Defaults to "file".
	Name string

	// CacheSize is the byte budget. Zero means the whole object may be held.
	CacheSize uint64

	// BlockSize is the store allocation unit in bytes.
	BlockSize uint64

	// ChunkSize is the read size used on transport streams.
	ChunkSize int

	// ContinueThreshold is how many bytes an active connection may still
	// have to download before reaching needed data without being replaced.
	ContinueThreshold uint64

	// ErrorWindow is the interval in which a second transport error closes
	// the cache.
	ErrorWindow time.Duration

	// Retry controls retries of Transport.Open.
	Retry retry.Config

	Logger     *slog.Logger
	Metrics    types.MetricsCollector
	OnProgress func(types.Progress)
	Clock      Clock
}

func (o FileOptions) withDefaults() FileOptions {
	if o.Name == "" {
		o.Name = "file"
	}
	if o.CacheSize == 0 {
		o.CacheSize = math.MaxUint64
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ContinueThreshold == 0 {
		o.ContinueThreshold = DefaultContinueThreshold
	}
	if o.ErrorWindow <= 0 {
		o.ErrorWindow = DefaultErrorWindow
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.DefaultConfig()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = types.NoopMetrics{}
	}
	if o.Clock == nil {
		o.Clock = systemClock{}
	}
	return o
}

// MessageOptions configures a MessageCache.
type MessageOptions struct {
	// Name labels metrics and logs. Defaults to "message".
	Name string

	// BlockDuration fixes the time span of a block. When zero it is derived
	// from the provider's span, MaxBlocks and MinBlockDuration.
	BlockDuration    time.Duration
	MaxBlocks        int
	MinBlockDuration time.Duration

	// CacheLimitBlocks bounds the width of a read and of read-ahead.
	CacheLimitBlocks uint64

	// ContinueThresholdBlocks is the block variant of FileOptions.ContinueThreshold.
	ContinueThresholdBlocks uint64

	// MaxCacheBytes and MinimumBlocksToKeep drive eviction. A nil
	// MinimumBlocksToKeep means DefaultMinimumBlocksToKeep; point it at 0
	// to let eviction drop everything over budget.
	MaxCacheBytes       uint64
	MinimumBlocksToKeep *uint64

	ErrorWindow time.Duration

	// Retry controls retries of DataProvider.Initialize.
	Retry retry.Config

	Logger     *slog.Logger
	Metrics    types.MetricsCollector
	OnProgress func(types.Progress)
	Clock      Clock
}

func (o MessageOptions) withDefaults() MessageOptions {
	if o.Name == "" {
		o.Name = "message"
	}
	if o.MaxBlocks <= 0 {
		o.MaxBlocks = DefaultMaxBlocks
	}
	if o.MinBlockDuration <= 0 {
		o.MinBlockDuration = DefaultMinBlockDuration
	}
	if o.CacheLimitBlocks == 0 {
		o.CacheLimitBlocks = DefaultCacheLimitBlocks
	}
	if o.ContinueThresholdBlocks == 0 {
		o.ContinueThresholdBlocks = DefaultContinueThresholdBlocks
	}
	if o.MaxCacheBytes == 0 {
		o.MaxCacheBytes = DefaultMaxCacheBytes
	}
	if o.MinimumBlocksToKeep == nil {
		keep := uint64(DefaultMinimumBlocksToKeep)
		o.MinimumBlocksToKeep = &keep
	}
	if o.ErrorWindow <= 0 {
		o.ErrorWindow = DefaultErrorWindow
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.DefaultConfig()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = types.NoopMetrics{}
	}
	if o.Clock == nil {
		o.Clock = systemClock{}
	}
	return o
}
