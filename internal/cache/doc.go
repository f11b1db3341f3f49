/*
Package cache provides streaming read caches over slow remote sources.

Two caches share one controller model. FileCache serves byte ranges of a
single remote object through a types.Transport. MessageCache serves
timestamped records of a types.DataProvider, grouped into fixed time blocks
and partitions.

# Request Flow

Every read is validated synchronously and then queued:

	┌────────────────────────────────────┐
	│            Read / GetMessages      │
	└────────────────────────────────────┘
	                  │  invalid, too large, closed → error
	┌────────────────────────────────────┐
	│          pending request queue     │  oldest first
	└────────────────────────────────────┘
	                  │
	┌────────────────────────────────────┐
	│      scheduler.DecideNextFetch     │  continue, replace or idle
	└────────────────────────────────────┘
	                  │
	┌────────────────────────────────────┐
	│    single background connection    │  bytes or one block at a time
	└────────────────────────────────────┘
	                  │
	┌────────────────────────────────────┐
	│   store write, eviction, resolve   │
	└────────────────────────────────────┘

A request resolves once every unit of its range is resident. Requests may
resolve in any order; the scheduler always works for the oldest one.

# Connections

At most one connection is active per cache. Each connection carries a
generation number and events from an older generation are discarded, so a
replaced or cancelled stream can never write into the store. A connection
keeps running when the data it is about to download overlaps what the oldest
request still misses, or when that data starts within ContinueThreshold of
the connection's position. Otherwise it is replaced.

When no request is pending the cache reads ahead from the end of the last
satisfied request, bounded by the cache limit.

# Failures

A transport or provider error drops the connection and the scheduler runs
again. A second error within ErrorWindow of the previous one closes the cache:
every queued request is rejected with an errors.ErrCodeStorageRead error
wrapping the cause and later calls fail with the same error. A byte stream
that ends before its range is complete counts as an error
(io.ErrUnexpectedEOF).

Cancelling the context passed to Read or GetMessages only abandons the wait.
The request stays queued and its data is still downloaded.

# Eviction

FileCache stores bytes in LRU-managed blocks and never evicts a block that
overlaps the oldest pending request or the range being written. MessageCache
runs eviction.SelectUnitsToRetain over its connection history after every
block write, and also keeps the blocks of the oldest pending request.

# Usage

	c := cache.NewFileCache(transport, cache.FileOptions{
		CacheSize: 64 << 20,
		Logger:    logger,
		Metrics:   collector,
	})
	defer c.Close()

	data, err := c.Read(ctx, 0, 4096)

Both caches are safe for concurrent use.
*/
package cache
