package watch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"suits/internal/metrics"
)

const defaultMinGap = 100 * time.Millisecond

// FetchFunc produces a fresh value for a poller.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Snapshot is the last successful value and the outcome of the latest poll.
type Snapshot[T any] struct {
	Value     T
	Valid     bool
	FetchedAt time.Time
	Seq       uint64
	LastErr   error
}

// Poller re-runs a fetch every interval, and on demand via Refresh, keeping
// the latest successful result. A failed poll keeps the previous value.
type Poller[T any] struct {
	kind     Kind
	interval time.Duration
	fetch    FetchFunc[T]
	limiter  *rate.Limiter
	onUpdate func(Snapshot[T])
	metrics  *metrics.Metrics
	log      *slog.Logger

	snap    atomic.Pointer[Snapshot[T]]
	refresh chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// PollerOption configures a Poller.
type PollerOption[T any] func(*Poller[T])

// WithMinGap bounds how often fetches may run, including forced refreshes.
func WithMinGap[T any](d time.Duration) PollerOption[T] {
	return func(p *Poller[T]) { p.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// OnUpdate is called from the poller goroutine after every poll.
func OnUpdate[T any](fn func(Snapshot[T])) PollerOption[T] {
	return func(p *Poller[T]) { p.onUpdate = fn }
}

// WithMetrics records poll outcomes.
func WithMetrics[T any](m *metrics.Metrics) PollerOption[T] {
	return func(p *Poller[T]) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger[T any](l *slog.Logger) PollerOption[T] {
	return func(p *Poller[T]) { p.log = l }
}

// NewPoller creates a stopped poller.
func NewPoller[T any](kind Kind, interval time.Duration, fetch FetchFunc[T], opts ...PollerOption[T]) *Poller[T] {
	p := &Poller[T]{
		kind:     kind,
		interval: interval,
		fetch:    fetch,
		limiter:  rate.NewLimiter(rate.Every(defaultMinGap), 1),
		refresh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = slog.Default().With("component", "watch")
	}
	p.log = p.log.With("kind", kind)
	p.snap.Store(&Snapshot[T]{})
	return p
}

// Start polls immediately and then every interval until ctx is done or Stop
// is called. Calling Start more than once has no effect.
func (p *Poller[T]) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.loop(ctx)
	})
}

// Stop cancels the poller and waits for its goroutine to exit.
func (p *Poller[T]) Stop() {
	p.stopOnce.Do(func() {
		started := false
		p.startOnce.Do(func() { close(p.done) })
		if p.cancel != nil {
			started = true
			p.cancel()
		}
		if started {
			<-p.done
		}
	})
}

// Refresh requests an out-of-cycle poll. It never blocks.
func (p *Poller[T]) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Current returns the latest successful value.
func (p *Poller[T]) Current() (T, bool) {
	s := p.snap.Load()
	return s.Value, s.Valid
}

// Snapshot returns the latest snapshot.
func (p *Poller[T]) Snapshot() Snapshot[T] {
	return *p.snap.Load()
}

func (p *Poller[T]) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.refresh:
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		p.poll(ctx)
	}
}

func (p *Poller[T]) poll(ctx context.Context) {
	value, err := p.fetch(ctx)
	if ctx.Err() != nil {
		return
	}
	p.metrics.Poll(string(p.kind), err)

	prev := p.snap.Load()
	next := *prev
	next.Seq = prev.Seq + 1
	next.LastErr = err
	if err != nil {
		p.log.Warn("poll failed", "err", err)
	} else {
		next.Value, next.Valid, next.FetchedAt = value, true, time.Now()
	}
	p.snap.Store(&next)
	if p.onUpdate != nil {
		p.onUpdate(next)
	}
}
