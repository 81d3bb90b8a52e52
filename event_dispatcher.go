package authfetch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// eventKinds fixes the order of the per-type drop counters.
var eventKinds = [...]EventType{
	EventRequestRetry,
	EventRefreshStarted,
	EventRefreshRenewed,
	EventRefreshDenied,
	EventSessionExpired,
}

func eventKindIndex(t EventType) int {
	for i, k := range eventKinds {
		if k == t {
			return i
		}
	}
	return len(eventKinds)
}

// eventDispatcher delivers events to the sink from a single worker so a slow
// sink never holds up a request or the shared refresh.
type eventDispatcher struct {
	sink       EventSink
	dropIfFull bool
	logger     *zap.Logger

	// mu guards sends on queue against Close closing it.
	mu       sync.RWMutex
	closed   bool
	queue    chan Event
	stop     chan struct{}
	stopOnce sync.Once
	drained  chan struct{}

	// One slot per known kind plus one for anything else.
	drops [len(eventKinds) + 1]atomic.Uint64
}

func newEventDispatcher(cfg EventsConfig, sink EventSink, logger *zap.Logger) *eventDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &eventDispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		logger:     logger.With(zap.String("component", "events")),
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
		drained:    make(chan struct{}),
	}
	go d.deliver()
	return d
}

// deliver runs until Close closes the queue, then exits once it is empty.
func (d *eventDispatcher) deliver() {
	defer close(d.drained)
	for event := range d.queue {
		d.hand(event)
	}
}

func (d *eventDispatcher) hand(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event sink panicked",
				zap.String("type", string(event.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event. With DropIfFull a full queue drops the event and counts
// it under its type; otherwise Emit waits for room, ctx, or Close.
func (d *eventDispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
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
		case d.queue <- event:
		default:
			d.drops[eventKindIndex(event.Type)].Add(1)
		}
		return
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// Close delivers what is already queued and stops the worker. Emit calls
// blocked on a full queue return. It is idempotent.
func (d *eventDispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		close(d.stop)
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	<-d.drained
}

// Dropped is the total across all event types.
func (d *eventDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	var n uint64
	for i := range d.drops {
		n += d.drops[i].Load()
	}
	return n
}

// DroppedByType reports drops per event type. Types never dropped are
// omitted; unknown types are folded under "other".
func (d *eventDispatcher) DroppedByType() map[EventType]uint64 {
	out := make(map[EventType]uint64)
	if d == nil {
		return out
	}
	for i := range d.drops {
		n := d.drops[i].Load()
		if n == 0 {
			continue
		}
		if i < len(eventKinds) {
			out[eventKinds[i]] = n
		} else {
			out["other"] = n
		}
	}
	return out
}
