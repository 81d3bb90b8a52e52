package authfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// gatedSink blocks every Emit until the gate opens.
type gatedSink struct {
	entered chan struct{}
	gate    chan struct{}
	mu      sync.Mutex
	got     []Event
}

func newGatedSink() *gatedSink {
	return &gatedSink{entered: make(chan struct{}, 64), gate: make(chan struct{})}
}

func (s *gatedSink) Emit(_ context.Context, ev Event) {
	s.entered <- struct{}{}
	<-s.gate
	s.mu.Lock()
	s.got = append(s.got, ev)
	s.mu.Unlock()
}

func (s *gatedSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.got...)
}

func TestEventDispatcherDisabledIsNil(t *testing.T) {
	d := newEventDispatcher(EventsConfig{Enabled: false}, NoOpSink{}, nil)
	require.Nil(t, d)

	// nil dispatcher methods are no-ops
	d.Emit(context.Background(), Event{Type: EventRequestRetry})
	d.Close()
	require.Zero(t, d.Dropped())
	require.Empty(t, d.DroppedByType())
}

func TestEventDispatcherDropsWhenFull(t *testing.T) {
	sink := newGatedSink()
	d := newEventDispatcher(EventsConfig{Enabled: true, BufferSize: 4, DropIfFull: true}, sink, nil)

	d.Emit(context.Background(), Event{Type: EventRefreshStarted})
	select {
	case <-sink.entered:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up the first event")
	}

	for i := 0; i < 6; i++ {
		d.Emit(context.Background(), Event{Type: EventRequestRetry})
	}
	d.Emit(context.Background(), Event{Type: "custom.kind"})
	require.Equal(t, uint64(3), d.Dropped())
	require.Equal(t, map[EventType]uint64{EventRequestRetry: 2, "other": 1}, d.DroppedByType())

	close(sink.gate)
	d.Close()

	got := sink.events()
	require.Len(t, got, 5)
	require.Equal(t, EventRefreshStarted, got[0].Type)
	for _, ev := range got {
		require.False(t, ev.Timestamp.IsZero())
	}

	d.Emit(context.Background(), Event{Type: EventSessionExpired})
	require.Len(t, sink.events(), 5, "emit after close is ignored")
}

func TestEventDispatcherBlockingModeHonoursContext(t *testing.T) {
	sink := newGatedSink()
	d := newEventDispatcher(EventsConfig{Enabled: true, BufferSize: 1, DropIfFull: false}, sink, nil)
	t.Cleanup(func() {
		close(sink.gate)
		d.Close()
	})

	d.Emit(context.Background(), Event{Type: EventRefreshStarted})
	<-sink.entered
	d.Emit(context.Background(), Event{Type: EventRefreshRenewed})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Emit(ctx, Event{Type: EventRequestRetry})
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	require.Zero(t, d.Dropped())
}

func TestEventDispatcherCloseReleasesBlockedEmit(t *testing.T) {
	sink := newGatedSink()
	d := newEventDispatcher(EventsConfig{Enabled: true, BufferSize: 1}, sink, nil)

	d.Emit(context.Background(), Event{Type: EventRefreshStarted})
	<-sink.entered
	d.Emit(context.Background(), Event{Type: EventRefreshRenewed})

	returned := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{Type: EventRequestRetry})
		close(returned)
	}()

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("blocked Emit survived Close")
	}

	close(sink.gate)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close never finished draining")
	}
	require.Len(t, sink.events(), 2, "queued events are still delivered")
}

type panickingSink struct{ calls atomic.Int32 }

func (s *panickingSink) Emit(context.Context, Event) {
	s.calls.Add(1)
	panic("sink exploded")
}

func TestEventDispatcherSurvivesSinkPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	sink := &panickingSink{}
	d := newEventDispatcher(EventsConfig{Enabled: true, BufferSize: 4}, sink, zap.New(core))

	d.Emit(context.Background(), Event{Type: EventRefreshDenied})
	d.Emit(context.Background(), Event{Type: EventSessionExpired})
	d.Close()

	require.Equal(t, int32(2), sink.calls.Load())
	require.Equal(t, 2, logs.FilterMessage("event sink panicked").Len())
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sink.Emit(context.Background(), Event{
		Timestamp: at,
		Type:      EventSessionExpired,
		RequestID: "req-1",
		Path:      "/api/orders",
		Status:    401,
		Metadata:  map[string]string{"classification": "invalid"},
	})
	sink.Emit(context.Background(), Event{Timestamp: at, Type: EventRefreshRenewed, Success: true, Generation: 3})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, EventSessionExpired, first.Type)
	require.Equal(t, "invalid", first.Metadata["classification"])
	require.NotContains(t, lines[0], "generation")
	require.Contains(t, lines[1], `"generation":3`)

	var nilSink *JSONWriterSink
	nilSink.Emit(context.Background(), Event{})
}

func TestChannelSinkRespectsContext(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Emit(context.Background(), Event{Type: EventRequestRetry})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Emit(ctx, Event{Type: EventRequestRetry})

	require.Len(t, sink.Events(), 1)
}
