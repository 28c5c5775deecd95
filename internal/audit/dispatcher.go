package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/accountcore/store"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// OnDrop is called for every item dropped because the buffer was full.
	OnDrop func(store.ActivityItem)
}

// Dispatcher hands items to a sink from a single worker goroutine, so a slow
// sink only ever delays other sink deliveries.
type Dispatcher struct {
	sink    Sink
	drop    bool
	onDrop  func(store.ActivityItem)
	dropped atomic.Uint64

	// mu guards queue against sends racing Close.
	mu     sync.RWMutex
	closed bool
	queue  chan store.ActivityItem
	idle   chan struct{}
}

// NewDispatcher starts a dispatcher. It returns nil when cfg is disabled; a
// nil *Dispatcher accepts and discards items.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:   sink,
		drop:   cfg.DropIfFull,
		onDrop: cfg.OnDrop,
		queue:  make(chan store.ActivityItem, max(cfg.BufferSize, 1)),
		idle:   make(chan struct{}),
	}
	go d.worker()
	return d
}

func (d *Dispatcher) worker() {
	defer close(d.idle)
	ctx := context.Background()
	for item := range d.queue {
		d.sink.Emit(ctx, item)
	}
}

// Emit queues item. With DropIfFull it never blocks; otherwise it waits for
// buffer space or ctx cancellation. Items emitted after Close are discarded.
func (d *Dispatcher) Emit(ctx context.Context, item store.ActivityItem) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.drop {
		select {
		case d.queue <- item:
		default:
			d.dropped.Add(1)
			if d.onDrop != nil {
				d.onDrop(item)
			}
		}
		return
	}

	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}
	select {
	case d.queue <- item:
	case <-done:
	}
}

// Close delivers everything already queued and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.idle
}

// Dropped returns the number of items dropped so far.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
