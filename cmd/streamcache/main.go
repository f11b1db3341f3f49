// Command streamcache reads remote objects through the streaming file cache.
//
//	streamcache cat   [flags] <source>
//	streamcache mount [flags] <source> <mountpoint>
//
// A source is either s3://bucket/key or a local file path.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/objectfs/streamcache/internal/cache"
	"github.com/objectfs/streamcache/internal/config"
	"github.com/objectfs/streamcache/internal/fuse"
	"github.com/objectfs/streamcache/internal/metrics"
	"github.com/objectfs/streamcache/internal/storage/local"
	"github.com/objectfs/streamcache/internal/storage/s3"
	"github.com/objectfs/streamcache/pkg/types"
	"github.com/objectfs/streamcache/pkg/utils"
)

const usage = `usage:
  streamcache cat   [flags] <source>
  streamcache mount [flags] <source> <mountpoint>

A source is s3://bucket/key or a local file path.
Run "streamcache <command> -h" for the flags of a command.
`

var errUsage = stderrors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	if err != nil {
		if !stderrors.Is(err, errUsage) && !stderrors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "streamcache: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}

	switch args[0] {
	case "cat":
		return runCat(ctx, args[1:], stdout, stderr)
	case "mount":
		return runMount(ctx, args[1:], stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return errUsage
	}
}

// commonFlags are shared by every command.
type commonFlags struct {
	configFile string
	logLevel   string
	cacheSize  string
	blockSize  string
}

func (f *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configFile, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: DEBUG, INFO, WARN or ERROR")
	fs.StringVar(&f.cacheSize, "cache-size", "", "Byte budget of the cache, e.g. 256MB (0 = unlimited)")
	fs.StringVar(&f.blockSize, "block-size", "", "Cache block size, e.g. 1MB")
}

// loadConfig layers defaults, the config file, the environment and flags.
func (f *commonFlags) loadConfig() (*config.Configuration, error) {
	cfg := config.NewDefault()
	if f.configFile != "" {
		if err := cfg.LoadFromFile(f.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Global.LogLevel = strings.ToUpper(f.logLevel)
	}
	if f.cacheSize != "" {
		cfg.Cache.CacheSize = f.cacheSize
	}
	if f.blockSize != "" {
		cfg.Cache.BlockSize = f.blockSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// source is a parsed command-line object location.
type source struct {
	bucket string
	key    string
	path   string
}

func (s source) isS3() bool { return s.bucket != "" }

// name is the file name the object is exposed under.
func (s source) name() string {
	if s.isS3() {
		return path.Base(s.key)
	}
	return path.Base(s.path)
}

func parseSource(raw string) (source, error) {
	if raw == "" {
		return source{}, fmt.Errorf("source cannot be empty")
	}
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return source{path: raw}, nil
	}
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return source{}, fmt.Errorf("invalid S3 source %q: expected s3://bucket/key", raw)
	}
	return source{bucket: bucket, key: key}, nil
}

func newTransport(ctx context.Context, src source, cfg *config.Configuration) (types.Transport, error) {
	if src.isS3() {
		t, err := s3.NewTransport(ctx, src.bucket, src.key, cfg.S3Config())
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	t, err := local.NewTransport(src.path)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// env holds what every command sets up before touching the object.
type env struct {
	cfg       *config.Configuration
	logger    *slog.Logger
	collector *metrics.Collector
	cache     *cache.FileCache
}

func setup(ctx context.Context, flags *commonFlags, rawSource string) (*env, source, error) {
	cfg, err := flags.loadConfig()
	if err != nil {
		return nil, source{}, err
	}
	logger, err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Monitoring.Logging.Format, cfg.LogRotation())
	if err != nil {
		return nil, source{}, err
	}
	src, err := parseSource(rawSource)
	if err != nil {
		return nil, source{}, err
	}

	collector, err := metrics.NewCollector(cfg.MetricsConfig())
	if err != nil {
		return nil, source{}, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	transport, err := newTransport(ctx, src, cfg)
	if err != nil {
		return nil, source{}, err
	}
	if r, ok := transport.(types.TransportStatsReporter); ok {
		collector.RegisterTransport(src.name(), r)
	}
	opts, err := cfg.FileOptions(src.name(), logger, collector)
	if err != nil {
		return nil, source{}, err
	}

	return &env{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		cache:     cache.NewFileCache(transport, opts),
	}, src, nil
}

func runCat(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("cat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		common commonFlags
		offset int64
		length int64
	)
	common.register(fs)
	fs.Int64Var(&offset, "offset", 0, "First byte to copy")
	fs.Int64Var(&length, "length", -1, "Number of bytes to copy (-1 = to the end)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}
	if offset < 0 {
		return fmt.Errorf("offset cannot be negative: %d", offset)
	}

	e, src, err := setup(ctx, &common, fs.Arg(0))
	if err != nil {
		return err
	}
	defer e.cache.Close()

	size, err := e.cache.Open(ctx)
	if err != nil {
		return err
	}
	if offset > size {
		return fmt.Errorf("offset %d is beyond the end of the object (%d bytes)", offset, size)
	}
	if length < 0 || offset+length > size {
		length = size - offset
	}

	start := time.Now()
	n, err := io.Copy(stdout, io.NewSectionReader(e.cache, offset, length))
	if err != nil {
		return fmt.Errorf("copy failed after %d bytes: %w", n, err)
	}

	stats := e.cache.Stats()
	e.logger.Info("Copied range",
		"offset", offset,
		"bytes", utils.FormatBytes(n),
		"duration", time.Since(start),
		"connections", stats.ConnectionsOpened,
		"fetched", utils.FormatBytes(int64(stats.BytesFetched)))
	e.logTransportStats(src)
	return nil
}

// logTransportStats reports the transport's own counters when it keeps any.
func (e *env) logTransportStats(src source) {
	ts, ok := e.collector.TransportStats()[src.name()]
	if !ok {
		return
	}
	e.logger.Info("Transport summary",
		"requests", ts.Requests,
		"errors", ts.Errors,
		"error_rate", ts.ErrorRate,
		"downloaded", utils.FormatBytes(ts.BytesDownloaded),
		"avg_latency", ts.AverageLatency)
}

func runMount(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("mount", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		common     commonFlags
		allowOther bool
	)
	common.register(fs)
	fs.BoolVar(&allowOther, "allow-other", false, "Allow other users to access the mount")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}

	e, src, err := setup(ctx, &common, fs.Arg(0))
	if err != nil {
		return err
	}
	defer e.cache.Close()

	if _, err := e.cache.Open(ctx); err != nil {
		return err
	}
	if err := e.collector.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.collector.Stop(stopCtx); err != nil {
			e.logger.Warn("Failed to stop metrics server", "error", err)
		}
	}()

	mountCfg := e.cfg.FuseConfig(fs.Arg(1))
	mountCfg.AllowOther = mountCfg.AllowOther || allowOther
	filesystem := fuse.NewFileSystem(e.cache, src.name(), time.Now(), e.logger)
	manager := fuse.NewMountManager(filesystem, mountCfg, e.logger)
	if err := manager.Mount(); err != nil {
		return err
	}

	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		manager.Wait()
		close(done)
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return manager.Unmount()
		case <-done:
			return nil
		}
	})
	err = g.Wait()

	stats := filesystem.GetStats()
	e.logger.Info("Unmounted",
		"reads", stats.Reads,
		"bytes_read", utils.FormatBytes(stats.BytesRead),
		"errors", stats.Errors)
	e.logTransportStats(src)
	return err
}
