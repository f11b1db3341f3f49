package buffer

import (
	"sync"
	"sync/atomic"
)

// DefaultChunkSize is the read size used when draining a transport stream.
const DefaultChunkSize = 64 * 1024

// ChunkPool recycles fixed-size read buffers for stream goroutines to
// reduce GC pressure while downloading.
type ChunkPool struct {
	pool      sync.Pool
	chunkSize int

	gets   atomic.Uint64
	misses atomic.Uint64
}

// NewChunkPool creates a pool handing out buffers of chunkSize bytes.
func NewChunkPool(chunkSize int) *ChunkPool {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	p := &ChunkPool{chunkSize: chunkSize}
	p.pool.New = func() interface{} {
		p.misses.Add(1)
		buf := make([]byte, chunkSize)
		return &buf
	}
	return p
}

// ChunkSize returns the length of the buffers handed out.
func (p *ChunkPool) ChunkSize() int { return p.chunkSize }

// Get retrieves a buffer of ChunkSize bytes
func (p *ChunkPool) Get() *[]byte {
	p.gets.Add(1)
	buf := p.pool.Get().(*[]byte)
	*buf = (*buf)[:p.chunkSize]
	return buf
}

// Put returns a buffer to the pool. Buffers of another capacity are left
// to the GC.
func (p *ChunkPool) Put(buf *[]byte) {
	if buf == nil || cap(*buf) != p.chunkSize {
		return
	}
	p.pool.Put(buf)
}

// PoolStats reports how often the pool had to allocate
type PoolStats struct {
	ChunkSize   int    `json:"chunk_size"`
	Gets        uint64 `json:"gets"`
	Allocations uint64 `json:"allocations"`
}

// GetStats returns current pool statistics
func (p *ChunkPool) GetStats() PoolStats {
	return PoolStats{
		ChunkSize:   p.chunkSize,
		Gets:        p.gets.Load(),
		Allocations: p.misses.Load(),
	}
}
