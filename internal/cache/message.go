package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/objectfs/streamcache/internal/eviction"
	"github.com/objectfs/streamcache/internal/interval"
	"github.com/objectfs/streamcache/internal/scheduler"
	"github.com/objectfs/streamcache/internal/store"
	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/retry"
	"github.com/objectfs/streamcache/pkg/types"
)

type messageQuery struct {
	partitions []string
	start, end time.Time
}

type messageRequest = request[messageQuery, []types.Record]

type connState int

const (
	stateFetching connState = iota
	stateWriting
)

func (s connState) String() string {
	switch s {
	case stateFetching:
		return "fetching"
	case stateWriting:
		return "writing"
	default:
		return "unknown"
	}
}

// messageConnection loads one block at a time for a fixed partition set.
type messageConnection struct {
	gen        uint64
	remaining  types.Range
	partitions []string
	state      connState
	block      uint64
	cancel     context.CancelFunc
	startedAt  time.Time
	received   uint64
}

// MessageCache serves records of a DataProvider from time blocks held in
// memory, loading at most one block at a time.
type MessageCache struct {
	provider types.DataProvider
	opts     MessageOptions
	logger   *slog.Logger
	retryer  *retry.Retryer

	initMu sync.Mutex

	mu             sync.Mutex
	info           *types.ProviderInfo
	blockDuration  time.Duration
	blockCount     uint64
	store          *store.BlockStore
	queue          requestQueue[messageQuery, []types.Record]
	conn           *messageConnection
	gen            uint64
	history        []types.Range
	lastPartitions []string
	lastSatisfied  *uint64
	failures       failureWindow
	closed         bool
	closeErr       error
	stats          types.CacheStats
}

// NewMessageCache creates a cache over p. Nothing is loaded until
// Initialize or GetMessages.
func NewMessageCache(p types.DataProvider, opts MessageOptions) *MessageCache {
	opts = opts.withDefaults()
	return &MessageCache{
		provider: p,
		opts:     opts,
		logger:   opts.Logger.With("component", "message-cache", "cache", opts.Name),
		retryer:  retry.New(opts.Retry),
		failures: failureWindow{window: opts.ErrorWindow},
	}
}

// Initialize asks the provider for its span and partitions and lays out the
// blocks. Once it has succeeded, later calls return the cached info.
func (c *MessageCache) Initialize(ctx context.Context) (types.ProviderInfo, error) {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return types.ProviderInfo{}, err
	}
	if c.info != nil {
		info := *c.info
		c.mu.Unlock()
		return info, nil
	}
	c.mu.Unlock()

	var info types.ProviderInfo
	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		info, err = c.provider.Initialize(ctx)
		return err
	})
	if err != nil {
		return types.ProviderInfo{}, err
	}
	if info.End.Before(info.Start) {
		return types.ProviderInfo{}, errors.NewError(errors.ErrCodeInternalError, "provider end precedes start").
			WithComponent("message-cache").
			WithOperation("initialize")
	}

	bd := blockDurationFor(info.End.Sub(info.Start), c.opts)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return types.ProviderInfo{}, c.closeErr
	}
	c.info = &info
	c.blockDuration = bd
	c.blockCount = uint64(info.End.Sub(info.Start)/bd) + 1
	c.store = store.NewBlockStore(int(c.blockCount))
	c.stats.ResourceSize = c.blockCount

	c.logger.Info("Initialized provider",
		"start", info.Start,
		"end", info.End,
		"partitions", len(info.Partitions),
		"block_duration", bd,
		"blocks", c.blockCount)
	return info, nil
}

// blockDurationFor picks the configured duration, or the shortest one that
// keeps the span within MaxBlocks but no shorter than MinBlockDuration.
func blockDurationFor(span time.Duration, opts MessageOptions) time.Duration {
	if opts.BlockDuration > 0 {
		return opts.BlockDuration
	}
	bd := (span + time.Duration(opts.MaxBlocks) - 1) / time.Duration(opts.MaxBlocks)
	if bd < opts.MinBlockDuration {
		bd = opts.MinBlockDuration
	}
	return bd
}

// BlockDuration returns the time span of one block, or zero before Initialize.
func (c *MessageCache) BlockDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockDuration
}

// GetMessages returns the records of partitions with timestamps in
// [start, end], ordered by timestamp. Reversed or out-of-bounds spans, an
// empty partition list, and spans wider than CacheLimitBlocks fail
// immediately. Otherwise the call blocks until the blocks are loaded, the
// cache is closed, or ctx is done.
func (c *MessageCache) GetMessages(ctx context.Context, start, end time.Time, partitions []string) ([]types.Record, error) {
	if err := c.closedError(); err != nil {
		return nil, err
	}
	info, err := c.Initialize(ctx)
	if err != nil {
		return nil, err
	}

	if end.Before(start) || start.Before(info.Start) || end.After(info.End) {
		return nil, errors.NewError(errors.ErrCodeInvalidRange, "time span is reversed or outside the provider span").
			WithComponent("message-cache").
			WithOperation("get_messages").
			WithContext("start", start.String()).
			WithContext("end", end.String())
	}
	if len(partitions) == 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidRange, "no partitions requested").
			WithComponent("message-cache").
			WithOperation("get_messages")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.closeErr
	}
	blocks := types.Range{Start: c.blockIndex(start), End: c.blockIndex(end) + 1}
	if blocks.Width() > c.opts.CacheLimitBlocks {
		c.mu.Unlock()
		return nil, errors.NewError(errors.ErrCodeRequestTooLarge, "time span covers more blocks than the cache holds").
			WithComponent("message-cache").
			WithOperation("get_messages").
			WithDetail("blocks", blocks.Width()).
			WithDetail("cache_limit_blocks", c.opts.CacheLimitBlocks)
	}

	query := messageQuery{partitions: normalizePartitions(partitions), start: start, end: end}
	req := newRequest[messageQuery, []types.Record](blocks, query, c.opts.Clock.Now())
	c.queue.push(req)
	c.logger.Debug("Queued read", "request_id", req.id, "blocks", blocks.String(), "partitions", query.partitions)
	c.update()
	c.mu.Unlock()

	return req.wait(ctx, "message-cache")
}

// Close rejects every queued read, closes the cache permanently and closes
// the provider.
func (c *MessageCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.shutdown(errors.ErrClosed, "closed")
	c.mu.Unlock()

	return c.provider.Close()
}

// Stats returns a snapshot of the cache counters. Units are blocks.
func (c *MessageCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.PendingRequests = c.queue.len()
	stats.ActiveConnection = c.conn != nil
	stats.Closed = c.closed
	if c.store != nil {
		stats.ResidentBytes = c.store.ResidentBytes()
		stats.ResidentRanges = len(c.store.ResidentRanges(c.lastPartitions))
	}
	return stats
}

// ResidentBlocks returns the runs of blocks loaded for partitions.
func (c *MessageCache) ResidentBlocks(partitions []string) []types.Range {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	return c.store.ResidentRanges(normalizePartitions(partitions))
}

func (c *MessageCache) closedError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		return nil
	}
	return c.closeErr
}

func (c *MessageCache) blockIndex(t time.Time) uint64 {
	return uint64(t.Sub(c.info.Start) / c.blockDuration)
}

// blockSpan returns the inclusive time bounds of block.
func (c *MessageCache) blockSpan(block uint64) (time.Time, time.Time) {
	start := c.info.Start.Add(time.Duration(block) * c.blockDuration)
	end := start.Add(c.blockDuration - time.Nanosecond)
	if end.After(c.info.End) {
		end = c.info.End
	}
	return start, end
}

// wantedPartitions is the union of partitions of every queued read, or the
// last such set when the queue is empty.
func (c *MessageCache) wantedPartitions() []string {
	if c.queue.len() == 0 {
		return c.lastPartitions
	}
	var all []string
	for _, r := range c.queue.items {
		all = append(all, r.query.partitions...)
	}
	c.lastPartitions = normalizePartitions(all)
	return c.lastPartitions
}

// update resolves satisfied reads, drops a connection loading the wrong
// partitions, and starts a new connection when the scheduler asks for one.
// Callers hold c.mu.
func (c *MessageCache) update() {
	for !c.closed {
		c.resolveSatisfied()

		partitions := c.wantedPartitions()
		if c.conn != nil && !equalPartitions(c.conn.partitions, partitions) {
			c.logger.Debug("Partition set changed, dropping connection",
				"had", c.conn.partitions, "want", partitions)
			c.stopConnection("partitions changed")
		}
		if len(partitions) == 0 {
			return
		}

		in := scheduler.Input{
			Resident:          c.store.ResidentRanges(partitions),
			LastSatisfiedEnd:  c.lastSatisfied,
			CacheLimit:        c.opts.CacheLimitBlocks,
			ResourceSize:      c.blockCount,
			ContinueThreshold: c.opts.ContinueThresholdBlocks,
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
			c.startConnection(next, partitions)
		}
		return
	}
}

func (c *MessageCache) resolveSatisfied() {
	now := c.opts.Clock.Now()
	resolved := c.queue.resolveSatisfied(func(r *messageRequest) ([]types.Record, bool) {
		if !interval.Contains(c.store.ResidentRanges(r.query.partitions), r.rng) {
			return nil, false
		}
		return c.store.Records(r.rng, r.query.partitions, r.query.start, r.query.end), true
	})
	for _, r := range resolved {
		end := r.rng.End
		c.lastSatisfied = &end
		c.stats.RequestsResolved++
		c.opts.Metrics.RequestResolved(c.opts.Name, now.Sub(r.requestedAt))
	}
}

func (c *MessageCache) startConnection(r types.Range, partitions []string) {
	c.stopConnection("superseded")

	c.gen++
	c.conn = &messageConnection{
		gen:        c.gen,
		remaining:  r,
		partitions: partitions,
		startedAt:  c.opts.Clock.Now(),
	}
	c.history = interval.MergeIntoDisjoint(r, c.history)
	c.stats.ConnectionsOpened++
	c.opts.Metrics.ConnectionOpened(c.opts.Name)
	c.logger.Debug("Opening connection", "blocks", r.String(), "generation", c.gen)

	c.fetchNext()
}

// fetchNext moves the connection to its next block still missing a
// partition, or finishes it. Callers hold c.mu.
func (c *MessageCache) fetchNext() {
	conn := c.conn
	for !conn.remaining.IsEmpty() {
		block := conn.remaining.Start
		missing := c.store.MissingPartitions(block, conn.partitions)
		if len(missing) == 0 {
			conn.remaining.Start++
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		conn.cancel = cancel
		conn.state = stateFetching
		conn.block = block
		start, end := c.blockSpan(block)
		go c.fetchBlock(ctx, conn.gen, block, start, end, missing)
		return
	}

	c.stopConnection("completed")
	c.update()
}

// fetchBlock loads one block from the provider and delivers the result.
func (c *MessageCache) fetchBlock(ctx context.Context, gen, block uint64, start, end time.Time, partitions []string) {
	records, err := c.provider.GetMessages(ctx, start, end, partitions)
	c.onBlock(gen, block, partitions, records, err)
}

func (c *MessageCache) onBlock(gen, block uint64, partitions []string, records []types.Record, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn == nil || c.conn.gen != gen || c.conn.block != block {
		return
	}
	if err != nil {
		c.handleTransportError(err)
		return
	}

	conn := c.conn
	conn.state = stateWriting
	c.store.Write(block, partitions, records)

	var bytes uint64
	for _, rec := range records {
		bytes += rec.Size()
	}
	conn.received += bytes
	c.stats.BytesFetched += bytes
	c.opts.Metrics.BytesFetched(c.opts.Name, int64(bytes))

	c.evict()
	c.opts.Metrics.ResidentBytes(c.opts.Name, c.store.ResidentBytes())
	c.reportProgress()

	conn.remaining.Start = block + 1
	if conn.remaining.IsEmpty() {
		c.stopConnection("completed")
	}
	c.update()

	if c.conn == conn && conn.state == stateWriting {
		c.fetchNext()
	}
}

// evict trims the store to the byte budget, keeping the oldest pending
// read's blocks regardless.
func (c *MessageCache) evict() {
	retain, trimmed := eviction.SelectUnitsToRetain(c.history, c.store.UnitSizes(),
		*c.opts.MinimumBlocksToKeep, c.opts.MaxCacheBytes)
	if oldest := c.queue.oldest(); oldest != nil {
		for b := oldest.rng.Start; b < oldest.rng.End; b++ {
			retain[b] = struct{}{}
		}
	}
	c.history = trimmed

	if dropped := c.store.RetainOnly(retain); dropped > 0 {
		c.stats.UnitsEvicted += uint64(dropped)
		c.opts.Metrics.UnitsEvicted(c.opts.Name, dropped)
		c.logger.Debug("Evicted blocks", "count", dropped, "resident_bytes", c.store.ResidentBytes())
	}
}

func (c *MessageCache) stopConnection(reason string) {
	conn := c.conn
	if conn == nil {
		return
	}
	c.conn = nil
	if conn.cancel != nil {
		conn.cancel()
	}

	c.opts.Metrics.ConnectionClosed(c.opts.Name, reason)
	if bps, ok := throughput(conn.received, c.opts.Clock.Now().Sub(conn.startedAt)); ok {
		c.opts.Metrics.Throughput(c.opts.Name, bps)
	}
}

func (c *MessageCache) handleTransportError(err error) {
	c.stats.TransportErrors++
	c.opts.Metrics.TransportError(c.opts.Name, err)
	c.stopConnection("error")

	if c.failures.record(c.opts.Clock.Now()) {
		c.logger.Error("Repeated provider errors, closing cache", "error", err)
		c.shutdown(errors.Wrap(errors.ErrCodeStorageRead, "repeated provider errors", err).
			WithComponent("message-cache").
			WithOperation("get_messages"), "failed")
		return
	}

	c.logger.Warn("Provider error, reconnecting", "error", err)
	c.update()
}

func (c *MessageCache) shutdown(err error, reason string) {
	c.closed = true
	c.closeErr = err
	c.stopConnection(reason)

	rejected := c.queue.rejectAll(err)
	c.stats.RequestsRejected += uint64(rejected)
	for i := 0; i < rejected; i++ {
		c.opts.Metrics.RequestRejected(c.opts.Name)
	}
}

func (c *MessageCache) reportProgress() {
	if c.opts.OnProgress == nil {
		return
	}
	c.opts.OnProgress(progressOf(c.store.ResidentRanges(c.lastPartitions), c.blockCount))
}

// normalizePartitions returns a sorted copy without duplicates.
func normalizePartitions(partitions []string) []string {
	out := append([]string(nil), partitions...)
	sort.Strings(out)
	uniq := out[:0]
	for _, p := range out {
		if n := len(uniq); n > 0 && uniq[n-1] == p {
			continue
		}
		uniq = append(uniq, p)
	}
	return uniq
}

func equalPartitions(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
