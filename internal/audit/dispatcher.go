package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultMaxBatch = 64

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// Retain lists event types that are never dropped for backpressure, even
	// with DropIfFull. Emitting one of them waits for queue space like a
	// blocking dispatcher does.
	Retain []string
	// MaxBatch caps how many queued events a [BatchSink] receives at once.
	MaxBatch int
}

// Stats is a point-in-time view of dispatcher counters.
type Stats struct {
	Queued    int
	Dropped   uint64
	Delivered uint64
	Failed    uint64
}

// Dispatcher forwards audit events to a sink on its own goroutine so that
// verdict paths never wait on audit I/O.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	batch  BatchSink
	retain map[string]struct{}
	queue  chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled; every method is safe on a nil Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		retain: make(map[string]struct{}, len(cfg.Retain)),
		queue:  make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	d.batch, _ = sink.(BatchSink)
	for _, t := range cfg.Retain {
		d.retain[t] = struct{}{}
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.flush(event)
		case <-d.done:
			for {
				select {
				case event := <-d.queue:
					d.flush(event)
				default:
					return
				}
			}
		}
	}
}

// flush delivers first, plus whatever is already queued when the sink
// accepts batches.
func (d *Dispatcher) flush(first Event) {
	if d.batch == nil {
		d.deliver(1, func() { d.sink.Emit(context.Background(), first) })
		return
	}

	events := []Event{first}
collect:
	for len(events) < d.cfg.MaxBatch {
		select {
		case e := <-d.queue:
			events = append(events, e)
		default:
			break collect
		}
	}
	d.deliver(len(events), func() { d.batch.EmitBatch(context.Background(), events) })
}

// deliver isolates the dispatcher from a panicking sink.
func (d *Dispatcher) deliver(n int, emit func()) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(uint64(n))
		}
	}()
	emit()
	d.delivered.Add(uint64(n))
}

// Emit queues event. With DropIfFull it never blocks for ordinary events and
// counts the drop; retained event types and non-dropping dispatchers wait for
// space, ctx cancellation or Close.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, keep := d.retain[event.EventType]; d.cfg.DropIfFull && !keep {
		select {
		case d.queue <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close stops accepting events and drains the queue. It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped counts events lost to backpressure or cancelled emits.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		Queued:    len(d.queue),
		Dropped:   d.dropped.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
	}
}
