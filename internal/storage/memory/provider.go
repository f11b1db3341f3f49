package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/objectfs/streamcache/pkg/types"
)

// ProviderCall records one GetMessages invocation.
type ProviderCall struct {
	Start      time.Time
	End        time.Time
	Partitions []string
}

// Provider serves records held in memory.
type Provider struct {
	mu      sync.Mutex
	info    types.ProviderInfo
	records []types.Record
	errs    []error
	delay   time.Duration
	calls   []ProviderCall
	closed  bool
}

// NewProvider creates a provider for the span [start, end]. Partitions are
// taken from the records.
func NewProvider(start, end time.Time, records []types.Record) *Provider {
	sorted := append([]types.Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	seen := make(map[string]bool)
	var partitions []string
	for _, r := range sorted {
		if !seen[r.Partition] {
			seen[r.Partition] = true
			partitions = append(partitions, r.Partition)
		}
	}
	sort.Strings(partitions)

	return &Provider{
		info:    types.ProviderInfo{Start: start, End: end, Partitions: partitions},
		records: sorted,
	}
}

// FailCalls makes the next len(errs) GetMessages calls fail.
func (p *Provider) FailCalls(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, errs...)
}

// SetDelay makes every GetMessages call wait d.
func (p *Provider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// Calls returns the GetMessages invocations so far.
func (p *Provider) Calls() []ProviderCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ProviderCall(nil), p.calls...)
}

// Closed reports whether Close was called.
func (p *Provider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Initialize returns the provider span and partitions.
func (p *Provider) Initialize(ctx context.Context) (types.ProviderInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info, nil
}

// GetMessages returns records of partitions in [start, end].
func (p *Provider) GetMessages(ctx context.Context, start, end time.Time, partitions []string) ([]types.Record, error) {
	p.mu.Lock()
	p.calls = append(p.calls, ProviderCall{
		Start:      start,
		End:        end,
		Partitions: append([]string(nil), partitions...),
	})
	delay := p.delay
	var err error
	if len(p.errs) > 0 {
		err = p.errs[0]
		p.errs = p.errs[1:]
	}
	p.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(partitions))
	for _, name := range partitions {
		wanted[name] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.Record
	for _, r := range p.records {
		if !wanted[r.Partition] || r.Timestamp.Before(start) || r.Timestamp.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Close marks the provider closed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ types.DataProvider = (*Provider)(nil)
