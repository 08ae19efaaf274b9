// Package poller runs a fetch operation on a fixed interval and keeps only the latest result.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is used when a Poller is created with a non-positive interval.
const DefaultInterval = 2 * time.Second

// FetchFunc performs one poll. It must honor ctx cancellation.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Result is the latest applied outcome of a Poller. There is no history.
type Result[T any] struct {
	Data      T
	Err       error
	Loading   bool
	Seq       uint64
	Attempts  int
	UpdatedAt time.Time
}

// Poller invokes a FetchFunc once on Start and then every interval until Stop.
//
// Fetches may overlap. Each one is tagged with a sequence number when it is issued and its
// response is applied only if that number is newer than the last applied one, so a slow
// response can never overwrite a newer one. Stop cancels the in-flight fetch and discards any
// response that still arrives.
type Poller[T any] struct {
	interval time.Duration
	fetch    atomic.Pointer[FetchFunc[T]]
	onResult func(Result[T])

	mu      sync.Mutex
	running bool
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
	issued  uint64
	applied uint64
	result  Result[T]

	// applyMu serializes onResult callbacks so they observe results in sequence order.
	applyMu sync.Mutex
}

// New creates a stopped Poller. onResult may be nil.
func New[T any](interval time.Duration, fetch FetchFunc[T], onResult func(Result[T])) *Poller[T] {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Poller[T]{interval: interval, onResult: onResult}
	p.fetch.Store(&fetch)
	return p
}

// SetFetch replaces the fetch operation. A running schedule keeps its timing and uses fn from
// the next tick on.
func (p *Poller[T]) SetFetch(fn FetchFunc[T]) {
	p.fetch.Store(&fn)
}

// Start performs one immediate fetch and then one per interval. Starting a running Poller is a
// no-op. The schedule also ends when ctx is done.
func (p *Poller[T]) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.gen++
	gen := p.gen
	pctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	done := make(chan struct{})
	p.done = done
	p.mu.Unlock()

	go p.loop(pctx, gen, done)
}

// Stop cancels the schedule and any in-flight fetch. It is safe to call from onResult and
// safe to call more than once.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.gen++
	p.cancel()
	done := p.done
	p.result.Loading = false
	p.mu.Unlock()

	<-done
}

// Running reports whether the schedule is active.
func (p *Poller[T]) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Result returns the latest applied result.
func (p *Poller[T]) Result() Result[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

func (p *Poller[T]) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	p.tick(ctx, gen)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, gen)
		}
	}
}

func (p *Poller[T]) tick(ctx context.Context, gen uint64) {
	p.mu.Lock()
	if gen != p.gen || ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.issued++
	seq := p.issued
	p.result.Attempts++
	p.result.Loading = true
	p.mu.Unlock()

	fn := *p.fetch.Load()
	go func() {
		data, err := fn(ctx)
		p.apply(ctx, gen, seq, data, err)
	}()
}

func (p *Poller[T]) apply(ctx context.Context, gen, seq uint64, data T, err error) {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()

	p.mu.Lock()
	if gen != p.gen || ctx.Err() != nil || seq <= p.applied {
		p.mu.Unlock()
		return
	}
	p.applied = seq
	if err != nil {
		p.result.Err = err
	} else {
		p.result.Data = data
		p.result.Err = nil
	}
	p.result.Seq = seq
	p.result.Loading = seq < p.issued
	p.result.UpdatedAt = time.Now()
	res := p.result
	p.mu.Unlock()

	if p.onResult != nil {
		p.onResult(res)
	}
}
