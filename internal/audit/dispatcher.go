package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Config controls buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit discard and count events instead of blocking
	// when the buffer is full.
	DropIfFull bool
	// Logger receives sink panics and the first drop. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// Dispatcher forwards events to a sink from a single goroutine, so the
// sink never sees concurrent calls.
type Dispatcher struct {
	sink       Sink
	logger     *slog.Logger
	dropIfFull bool

	// mu guards closed and sends on ch; Close holds it exclusively while
	// closing the channel.
	mu     sync.RWMutex
	closed bool
	ch     chan Event
	wg     sync.WaitGroup

	dropped   atomic.Uint64
	warnedOne atomic.Bool
}

// NewDispatcher starts a dispatcher. It returns nil when auditing is
// disabled; a nil *Dispatcher accepts and ignores events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Dispatcher{
		sink:       sink,
		logger:     cfg.Logger,
		dropIfFull: cfg.DropIfFull,
		ch:         make(chan Event, cfg.BufferSize),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// run exits once ch is closed and drained.
func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.ch {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("authcore: audit sink panicked", "event", event.Type, "panic", r)
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event. After Close it is a no-op. In blocking mode a
// cancelled ctx counts the event as dropped.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.ch <- event:
		default:
			d.drop(event)
		}
		return
	}
	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.drop(event)
	}
}

func (d *Dispatcher) drop(event Event) {
	d.dropped.Add(1)
	if d.warnedOne.CompareAndSwap(false, true) {
		d.logger.Warn("authcore: audit buffer full, dropping events", "event", event.Type)
	}
}

// Close stops accepting events, delivers the buffered ones and waits for
// the sink. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Dropped returns how many events were discarded.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
