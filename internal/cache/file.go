package cache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/objectfs/streamcache/internal/buffer"
	"github.com/objectfs/streamcache/internal/scheduler"
	"github.com/objectfs/streamcache/internal/store"
	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/retry"
	"github.com/objectfs/streamcache/pkg/types"
)

type fileRequest = request[struct{}, []byte]

// fileConnection is the single in-flight fetch of a FileCache.
type fileConnection struct {
	gen       uint64
	remaining types.Range
	cancel    context.CancelFunc
	startedAt time.Time
	received  uint64
}

// FileCache serves byte ranges of one remote object through a bounded
// in-memory cache, keeping at most one transport stream open at a time.
type FileCache struct {
	transport types.Transport
	opts      FileOptions
	logger    *slog.Logger
	retryer   *retry.Retryer
	pool      *buffer.ChunkPool

	openMu sync.Mutex

	mu               sync.Mutex
	info             *types.ObjectInfo
	size             uint64
	store            *store.ByteStore
	queue            requestQueue[struct{}, []byte]
	conn             *fileConnection
	gen              uint64
	lastSatisfiedEnd *uint64
	failures         failureWindow
	closed           bool
	closeErr         error
	stats            types.CacheStats
}

// NewFileCache creates a cache over t. Nothing is fetched until Open or Read.
func NewFileCache(t types.Transport, opts FileOptions) *FileCache {
	opts = opts.withDefaults()
	return &FileCache{
		transport: t,
		opts:      opts,
		logger:    opts.Logger.With("component", "file-cache", "cache", opts.Name),
		retryer:   retry.New(opts.Retry),
		pool:      buffer.NewChunkPool(opts.ChunkSize),
		failures:  failureWindow{window: opts.ErrorWindow},
	}
}

// Open fetches the object metadata and returns its size. Once it has
// succeeded, later calls return the cached size.
func (c *FileCache) Open(ctx context.Context) (int64, error) {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return 0, err
	}
	if c.info != nil {
		size := c.info.Size
		c.mu.Unlock()
		return size, nil
	}
	c.mu.Unlock()

	var info types.ObjectInfo
	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		info, err = c.transport.Open(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if info.Size < 0 {
		return 0, errors.NewError(errors.ErrCodeInternalError, "transport reported a negative size").
			WithComponent("file-cache").
			WithOperation("open").
			WithDetail("size", info.Size)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, c.closeErr
	}
	c.info = &info
	c.size = uint64(info.Size)
	c.store = store.NewByteStore(c.size, c.opts.CacheSize, c.opts.BlockSize)
	c.stats.ResourceSize = c.size

	c.logger.Info("Opened object",
		"key", info.Key,
		"size", info.Size,
		"max_blocks", c.store.MaxBlocks())
	return info.Size, nil
}

// Size returns the object size. It fails with ErrNotInitialized until Open
// has succeeded.
func (c *FileCache) Size() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil {
		return 0, errors.ErrNotInitialized
	}
	return c.info.Size, nil
}

// Read returns length bytes starting at offset. Invalid or oversized
// requests fail immediately. Otherwise the read is queued and Read blocks
// until it is resolved, rejected, or ctx is done. Cancelling ctx only stops
// the wait.
func (c *FileCache) Read(ctx context.Context, offset, length int64) ([]byte, error) {
	if offset < 0 || length <= 0 {
		return nil, c.invalidRange(offset, length, "offset must be non-negative and length positive")
	}
	if uint64(length) > c.opts.CacheSize {
		return nil, errors.NewError(errors.ErrCodeRequestTooLarge, "read is larger than the cache").
			WithComponent("file-cache").
			WithOperation("read").
			WithDetail("length", length).
			WithDetail("cache_size", c.opts.CacheSize)
	}
	if err := c.closedError(); err != nil {
		return nil, err
	}

	size, err := c.Open(ctx)
	if err != nil {
		return nil, err
	}
	if length > size-offset {
		return nil, c.invalidRange(offset, length, "read extends beyond end of object").
			WithDetail("size", size)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.closeErr
	}
	req := newRequest[struct{}, []byte](types.Range{
		Start: uint64(offset),
		End:   uint64(offset + length),
	}, struct{}{}, c.opts.Clock.Now())
	c.queue.push(req)
	c.logger.Debug("Queued read", "request_id", req.id, "range", req.rng.String())
	c.update()
	c.mu.Unlock()

	return req.wait(ctx, "file-cache")
}

// ReadAt implements io.ReaderAt. Reads wider than the cache are split.
func (c *FileCache) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, c.invalidRange(off, int64(len(p)), "negative offset")
	}
	size, err := c.Open(context.Background())
	if err != nil {
		return 0, err
	}
	if off >= size {
		return 0, io.EOF
	}

	want := int64(len(p))
	if want > size-off {
		want = size - off
	}

	n := 0
	for int64(n) < want {
		step := want - int64(n)
		if uint64(step) > c.opts.CacheSize {
			step = int64(c.opts.CacheSize)
		}
		data, err := c.Read(context.Background(), off+int64(n), step)
		if err != nil {
			return n, err
		}
		n += copy(p[n:], data)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close rejects every queued read and closes the cache permanently.
func (c *FileCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.shutdown(errors.ErrClosed, "closed")
	return nil
}

// ResidentRanges returns the byte ranges currently held.
func (c *FileCache) ResidentRanges() []types.Range {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	return c.store.Ranges()
}

// Stats returns a snapshot of the cache counters.
func (c *FileCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.PendingRequests = c.queue.len()
	stats.ActiveConnection = c.conn != nil
	stats.Closed = c.closed
	if c.store != nil {
		stats.ResidentBytes = c.store.ResidentBytes()
		stats.ResidentRanges = len(c.store.Ranges())
		stats.UnitsEvicted = c.store.EvictedBlocks()
	}
	return stats
}

// closedError returns the error the cache was closed with, or nil.
func (c *FileCache) closedError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		return nil
	}
	return c.closeErr
}

func (c *FileCache) invalidRange(offset, length int64, msg string) *errors.CacheError {
	return errors.NewError(errors.ErrCodeInvalidRange, msg).
		WithComponent("file-cache").
		WithOperation("read").
		WithDetail("offset", offset).
		WithDetail("length", length)
}

// update resolves satisfied reads and starts a new connection when the
// scheduler asks for one. Callers hold c.mu.
func (c *FileCache) update() {
	for !c.closed {
		c.resolveSatisfied()

		in := scheduler.Input{
			Resident:          c.store.Ranges(),
			LastSatisfiedEnd:  c.lastSatisfiedEnd,
			CacheLimit:        c.opts.CacheSize,
			ResourceSize:      c.size,
			ContinueThreshold: c.opts.ContinueThreshold,
		}
		if c.conn != nil {
			current := c.conn.remaining
			in.Current = &current
		}
		if oldest := c.queue.oldest(); oldest != nil {
			pending := oldest.rng
			in.PendingRead = &pending
		}

		next, create, err := scheduler.DecideNextFetch(in)
		if err != nil {
			c.queue.rejectOldest(err)
			c.stats.RequestsRejected++
			c.opts.Metrics.RequestRejected(c.opts.Name)
			continue
		}
		if create {
			c.startConnection(next)
		}
		return
	}
}

func (c *FileCache) resolveSatisfied() {
	now := c.opts.Clock.Now()
	resolved := c.queue.resolveSatisfied(func(r *fileRequest) ([]byte, bool) {
		return c.store.Slice(r.rng)
	})
	for _, r := range resolved {
		end := r.rng.End
		c.lastSatisfiedEnd = &end
		c.stats.RequestsResolved++
		c.opts.Metrics.RequestResolved(c.opts.Name, now.Sub(r.requestedAt))
	}
}

func (c *FileCache) startConnection(r types.Range) {
	c.stopConnection("superseded")

	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	c.conn = &fileConnection{
		gen:       c.gen,
		remaining: r,
		cancel:    cancel,
		startedAt: c.opts.Clock.Now(),
	}
	c.stats.ConnectionsOpened++
	c.opts.Metrics.ConnectionOpened(c.opts.Name)
	c.logger.Debug("Opening connection", "range", r.String(), "generation", c.gen)

	go c.stream(ctx, c.gen, r)
}

// stopConnection tears down the active connection, if any, and reports
// its throughput.
func (c *FileCache) stopConnection(reason string) {
	conn := c.conn
	if conn == nil {
		return
	}
	c.conn = nil
	conn.cancel()

	c.opts.Metrics.ConnectionClosed(c.opts.Name, reason)
	if bps, ok := throughput(conn.received, c.opts.Clock.Now().Sub(conn.startedAt)); ok {
		c.opts.Metrics.Throughput(c.opts.Name, bps)
		if rec, ok := c.transport.(types.ThroughputRecorder); ok {
			rec.RecordThroughput(bps)
		}
	}
}

// stream drains one transport stream and delivers its events. It holds no
// controller state of its own.
func (c *FileCache) stream(ctx context.Context, gen uint64, r types.Range) {
	body, err := c.transport.Fetch(ctx, int64(r.Start), int64(r.Width()))
	if err != nil {
		c.onError(gen, err)
		return
	}
	defer body.Close()

	buf := c.pool.Get()
	defer c.pool.Put(buf)

	for {
		n, err := body.Read(*buf)
		if n > 0 && !c.onData(gen, (*buf)[:n]) {
			return
		}
		if err == io.EOF {
			c.onEnd(gen)
			return
		}
		if err != nil {
			c.onError(gen, err)
			return
		}
	}
}

// onData writes a chunk at the connection position. It returns false once
// the stream is no longer wanted.
func (c *FileCache) onData(gen uint64, chunk []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn == nil || c.conn.gen != gen {
		return false
	}
	conn := c.conn
	if w := conn.remaining.Width(); uint64(len(chunk)) > w {
		chunk = chunk[:w]
	}

	var protect types.Range
	if oldest := c.queue.oldest(); oldest != nil {
		protect = oldest.rng
	}
	evicted := c.store.Write(conn.remaining.Start, chunk, protect)
	conn.remaining.Start += uint64(len(chunk))
	conn.received += uint64(len(chunk))

	c.stats.BytesFetched += uint64(len(chunk))
	c.opts.Metrics.BytesFetched(c.opts.Name, int64(len(chunk)))
	if evicted > 0 {
		c.opts.Metrics.UnitsEvicted(c.opts.Name, evicted)
	}
	c.opts.Metrics.ResidentBytes(c.opts.Name, c.store.ResidentBytes())
	c.reportProgress()

	// Stop once everything left to download is already held.
	if conn.remaining.IsEmpty() || c.store.HasData(conn.remaining) {
		c.stopConnection("completed")
	}
	c.update()
	return c.conn != nil && c.conn.gen == gen
}

func (c *FileCache) onEnd(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn == nil || c.conn.gen != gen {
		return
	}
	if !c.conn.remaining.IsEmpty() {
		c.handleTransportError(io.ErrUnexpectedEOF)
		return
	}
	c.stopConnection("completed")
	c.update()
}

func (c *FileCache) onError(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn == nil || c.conn.gen != gen {
		return
	}
	c.handleTransportError(err)
}

// handleTransportError discards the connection and either reschedules or,
// on a second error inside the window, closes the cache.
func (c *FileCache) handleTransportError(err error) {
	c.stats.TransportErrors++
	c.opts.Metrics.TransportError(c.opts.Name, err)
	c.stopConnection("error")

	if c.failures.record(c.opts.Clock.Now()) {
		c.logger.Error("Repeated transport errors, closing cache", "error", err)
		c.shutdown(errors.Wrap(errors.ErrCodeStorageRead, "repeated transport errors", err).
			WithComponent("file-cache").
			WithOperation("fetch"), "failed")
		return
	}

	c.logger.Warn("Transport error, reconnecting", "error", err)
	c.update()
}

// shutdown closes the cache for good and rejects every queued read with err.
func (c *FileCache) shutdown(err error, reason string) {
	c.closed = true
	c.closeErr = err
	c.stopConnection(reason)

	rejected := c.queue.rejectAll(err)
	c.stats.RequestsRejected += uint64(rejected)
	for i := 0; i < rejected; i++ {
		c.opts.Metrics.RequestRejected(c.opts.Name)
	}
}

func (c *FileCache) reportProgress() {
	if c.opts.OnProgress == nil {
		return
	}
	c.opts.OnProgress(progressOf(c.store.Ranges(), c.size))
}
