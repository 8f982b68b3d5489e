package perf

import (
	"context"
	"sync"
	"time"
)

// RequestPerf records timed blocks for a single request. Blocks may be
// started from the database tracer on other goroutines, so access is locked.
type RequestPerf struct {
	Route  string
	Path   string // the path actually matched
	Method string
	Start  time.Time
	End    time.Time
	Blocks []PerfBlock

	mu sync.Mutex
}

func MakeNewRequestPerf(route string, method string, path string) *RequestPerf {
	return &RequestPerf{
		Start:  time.Now(),
		Route:  route,
		Path:   path,
		Method: method,
	}
}

func (rp *RequestPerf) EndRequest() {
	if rp == nil {
		return
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	now := time.Now()
	for i := range rp.Blocks {
		if rp.Blocks[i].End.IsZero() {
			rp.Blocks[i].End = now
		}
	}
	rp.End = now
}

func (rp *RequestPerf) Checkpoint(category, description string) {
	if rp == nil {
		return
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	now := time.Now()
	rp.Blocks = append(rp.Blocks, PerfBlock{
		Start:       now,
		End:         now,
		Category:    category,
		Description: description,
	})
}

type BlockHandle struct {
	rp    *RequestPerf
	index int
}

// StartBlock opens a timed block. Safe to call on a nil RequestPerf, in which
// case the returned handle does nothing.
func (rp *RequestPerf) StartBlock(category, description string) *BlockHandle {
	if rp == nil {
		return &BlockHandle{}
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.Blocks = append(rp.Blocks, PerfBlock{
		Start:       time.Now(),
		Category:    category,
		Description: description,
	})
	return &BlockHandle{rp: rp, index: len(rp.Blocks) - 1}
}

func (b *BlockHandle) End() {
	if b == nil || b.rp == nil {
		return
	}
	b.rp.mu.Lock()
	defer b.rp.mu.Unlock()
	if b.rp.Blocks[b.index].End.IsZero() {
		b.rp.Blocks[b.index].End = time.Now()
	}
}

// Elapsed is the time since the request started, or the full duration once it has ended.
func (rp *RequestPerf) Elapsed() time.Duration {
	if rp == nil {
		return 0
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.End.IsZero() {
		return time.Since(rp.Start)
	}
	return rp.End.Sub(rp.Start)
}

// Snapshot returns a copy of the blocks recorded so far.
func (rp *RequestPerf) Snapshot() []PerfBlock {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return append([]PerfBlock(nil), rp.Blocks...)
}

func (rp *RequestPerf) MsFromStart(block *PerfBlock) float64 {
	return float64(block.Start.Sub(rp.Start).Nanoseconds()) / 1000 / 1000
}

type PerfBlock struct {
	Start       time.Time
	End         time.Time
	Category    string
	Description string
}

func (pb *PerfBlock) Duration() time.Duration {
	return pb.End.Sub(pb.Start)
}

func (pb *PerfBlock) DurationMs() float64 {
	return float64(pb.Duration().Nanoseconds()) / 1000 / 1000
}

type perfContextKey struct{}

var PerfContextKey = perfContextKey{}

func ExtractPerf(ctx context.Context) *RequestPerf {
	iperf := ctx.Value(PerfContextKey)
	if iperf == nil {
		return nil
	}
	return iperf.(*RequestPerf)
}

func AttachPerfToContext(ctx context.Context, rp *RequestPerf) context.Context {
	return context.WithValue(ctx, PerfContextKey, rp)
}
