// Package memory provides in-process implementations of the cache
// collaborators. They record every call and can inject failures, which makes
// them the backbone of the cache tests and of local experiments.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/types"
)

// Transport serves byte ranges of an in-memory object.
type Transport struct {
	mu         sync.Mutex
	key        string
	data       []byte
	modified   time.Time
	chunkSize  int
	delay      time.Duration
	openErr    error
	streamErrs []error
	opens      int
	fetches    []types.Range
	throughput []float64
}

// NewTransport creates a transport serving data under key.
func NewTransport(key string, data []byte) *Transport {
	return &Transport{
		key:      key,
		data:     data,
		modified: time.Now(),
	}
}

// SetChunkSize limits how many bytes a single stream Read returns.
func (t *Transport) SetChunkSize(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunkSize = n
}

// SetDelay makes every stream Read wait d before returning data.
func (t *Transport) SetDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delay = d
}

// FailOpen makes Open return err until cleared with nil.
func (t *Transport) FailOpen(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErr = err
}

// FailStreams makes the next len(errs) streams fail with the given errors
// on their first Read.
func (t *Transport) FailStreams(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streamErrs = append(t.streamErrs, errs...)
}

// Opens returns how many times Open was called.
func (t *Transport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

// Fetches returns the ranges requested so far.
func (t *Transport) Fetches() []types.Range {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]types.Range(nil), t.fetches...)
}

// Throughput returns the values passed to RecordThroughput.
func (t *Transport) Throughput() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float64(nil), t.throughput...)
}

// Open returns the object metadata.
func (t *Transport) Open(ctx context.Context) (types.ObjectInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	if t.openErr != nil {
		return types.ObjectInfo{}, t.openErr
	}
	return types.ObjectInfo{
		Key:          t.key,
		Size:         int64(len(t.data)),
		LastModified: t.modified,
	}, nil
}

// Fetch returns a stream over [offset, offset+length).
func (t *Transport) Fetch(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if offset < 0 || length < 0 || offset+length > int64(len(t.data)) {
		return nil, errors.NewError(errors.ErrCodeInvalidRange, "fetch outside object").
			WithComponent("memory-transport").
			WithDetail("offset", offset).
			WithDetail("length", length)
	}
	t.fetches = append(t.fetches, types.Range{Start: uint64(offset), End: uint64(offset + length)})

	s := &stream{
		ctx:       ctx,
		reader:    bytes.NewReader(t.data[offset : offset+length]),
		chunkSize: t.chunkSize,
		delay:     t.delay,
	}
	if len(t.streamErrs) > 0 {
		s.err = t.streamErrs[0]
		t.streamErrs = t.streamErrs[1:]
	}
	return s, nil
}

// RecordThroughput implements types.ThroughputRecorder.
func (t *Transport) RecordThroughput(bytesPerSecond float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.throughput = append(t.throughput, bytesPerSecond)
}

type stream struct {
	ctx       context.Context
	reader    *bytes.Reader
	chunkSize int
	delay     time.Duration
	err       error
	closed    bool
}

func (s *stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return 0, s.ctx.Err()
		case <-timer.C:
		}
	}
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	if s.err != nil {
		return 0, s.err
	}
	if s.chunkSize > 0 && len(p) > s.chunkSize {
		p = p[:s.chunkSize]
	}
	return s.reader.Read(p)
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}

var (
	_ types.Transport          = (*Transport)(nil)
	_ types.ThroughputRecorder = (*Transport)(nil)
)
