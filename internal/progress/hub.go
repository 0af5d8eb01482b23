package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub. Zero values pick the
// defaults below.
type Config struct {
	// BufferSize is the capacity of the intake channel.
	BufferSize int
	// MaxBatchEvents flushes a batch once it reaches this size.
	MaxBatchEvents int
	// MaxBatchWait flushes a non-empty batch after this much quiet time.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each sink call during a flush.
	SinkTimeout time.Duration
	// BaseContext is the parent context for sink calls.
	BaseContext context.Context
	// Logger receives drop and sink-failure warnings.
	Logger *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub collects progress events from crawl workers and fans them out to sinks
// in batches. Emitting never blocks: under backpressure events are dropped
// and counted rather than stalling a worker. A nil *Hub is a valid no-op.
type Hub struct {
	cfg     Config
	sinks   []Sink
	in      chan Event
	quit    chan struct{}
	done    chan struct{}
	logger  *zap.Logger
	dropLog rateLimiter
	dropped atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine over the given sinks and returns a hub
// ready to accept events.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		in:      make(chan Event, cfg.BufferSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
		dropLog: rateLimiter{interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit queues an event for delivery. Invalid events are discarded; when the
// intake buffer is full the event is dropped and a rate-limited warning
// carries the drop count.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.in <- evt:
	default:
		h.dropped.Add(1)
		if h.dropLog.Allow(time.Now()) {
			count := h.dropped.Swap(0)
			h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// Close drains buffered events, flushes and closes the sinks, and waits for
// the batching goroutine, bounded by ctx. Later calls just wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	b := newBatcher(h.cfg.MaxBatchEvents, h.cfg.MaxBatchWait)
	for {
		select {
		case evt := <-h.in:
			if full := b.add(evt); full != nil {
				h.flush(full)
			}
		case <-b.timer.C:
			b.armed = false
			h.flush(b.take())
		case <-h.quit:
			h.drain(b)
			return
		}
	}
}

// drain empties the intake channel and flushes whatever remains before
// closing the sinks.
func (h *Hub) drain(b *batcher) {
	b.disarm()
	for {
		select {
		case evt := <-h.in:
			b.pending = append(b.pending, evt)
			if len(b.pending) >= b.maxEvents {
				h.flush(b.take())
			}
		default:
			h.flush(b.take())
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx := h.cfg.BaseContext
		cancel := func() {}
		if h.cfg.SinkTimeout > 0 {
			ctx, cancel = context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		}
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// batcher accumulates events until a size or quiet-time bound trips.
type batcher struct {
	pending   []Event
	maxEvents int
	maxWait   time.Duration
	timer     *time.Timer
	armed     bool
}

func newBatcher(maxEvents int, maxWait time.Duration) *batcher {
	t := time.NewTimer(maxWait)
	t.Stop()
	return &batcher{
		pending:   make([]Event, 0, maxEvents),
		maxEvents: maxEvents,
		maxWait:   maxWait,
		timer:     t,
	}
}

// add appends evt and returns a full batch to flush, or nil. A first event in
// an empty batch arms the quiet-time timer.
func (b *batcher) add(evt Event) []Event {
	b.pending = append(b.pending, evt)
	if len(b.pending) >= b.maxEvents {
		b.disarm()
		return b.take()
	}
	if b.maxWait > 0 {
		b.rearm()
	}
	return nil
}

// take hands over the current batch as an owned copy and resets pending.
func (b *batcher) take() []Event {
	if len(b.pending) == 0 {
		return nil
	}
	out := append([]Event(nil), b.pending...)
	b.pending = b.pending[:0]
	return out
}

func (b *batcher) rearm() {
	b.disarm()
	b.timer.Reset(b.maxWait)
	b.armed = true
}

func (b *batcher) disarm() {
	if !b.armed {
		return
	}
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.armed = false
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
