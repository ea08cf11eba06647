package exporters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/foveanode/internal/events"
	"github.com/smazurov/foveanode/internal/metrics"
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.SessionMetricsEvent
	signal chan struct{}
}

func newRecordingBus() *recordingBus {
	return &recordingBus{signal: make(chan struct{}, 100)}
}

func (b *recordingBus) Publish(ev events.Event) {
	sme, ok := ev.(events.SessionMetricsEvent)
	if !ok {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, sme)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// forSession returns the events published for id.
func (b *recordingBus) forSession(id string) []events.SessionMetricsEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.SessionMetricsEvent
	for _, ev := range b.events {
		if ev.SessionID == id {
			out = append(out, ev)
		}
	}
	return out
}

func TestSSEExporterPublishesChanges(t *testing.T) {
	const id = "sse-changes"
	metrics.DeleteSessionMetrics(id)
	defer metrics.DeleteSessionMetrics(id)

	metrics.SetBitrateLevel(id, 3, 5000)
	metrics.RecordFrameProcessed(id, 266)
	metrics.SetQueueDepth(id, 2)
	metrics.SetPacketLoss(id, 0.125)

	bus := newRecordingBus()
	exp := NewSSEExporter(bus)
	exp.refreshTicks = 100

	exp.publish()
	got := bus.forSession(id)
	if len(got) != 1 {
		t.Fatalf("first tick published %d events, want 1", len(got))
	}
	if ev := got[0]; ev.Level != 3 || ev.Kbps != 5000 || ev.QueueDepth != 2 || ev.EncodedBytes != 266 || ev.FramesProcessed != 1 || ev.PacketLoss != 0.125 {
		t.Errorf("event = %+v", ev)
	}

	exp.publish()
	if n := len(bus.forSession(id)); n != 1 {
		t.Errorf("unchanged session republished, %d events", n)
	}

	metrics.SetQueueDepth(id, 5)
	exp.publish()
	got = bus.forSession(id)
	if len(got) != 2 || got[1].QueueDepth != 5 {
		t.Errorf("change not published: %+v", got)
	}
}

func TestSSEExporterRefreshesAndForgets(t *testing.T) {
	const id = "sse-refresh"
	metrics.DeleteSessionMetrics(id)
	metrics.SetQuality(id, 0.5)

	bus := newRecordingBus()
	exp := NewSSEExporter(bus)
	exp.refreshTicks = 2

	for range 4 {
		exp.publish()
	}
	// Ticks 0 and 2 refresh everything.
	if n := len(bus.forSession(id)); n != 2 {
		t.Errorf("published %d events over 4 ticks, want 2", n)
	}

	metrics.DeleteSessionMetrics(id)
	exp.publish()
	if _, ok := exp.last[id]; ok {
		t.Error("deleted session still tracked")
	}
}

func TestSSEExporterLoop(t *testing.T) {
	const id = "sse-loop"
	metrics.SetQuality(id, 0.45)
	defer metrics.DeleteSessionMetrics(id)

	bus := newRecordingBus()
	exp := NewSSEExporter(bus)
	exp.interval = 10 * time.Millisecond

	// Stop before Start is a no-op.
	exp.Stop()

	exp.Start(context.Background())
	select {
	case <-bus.signal:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for metrics publish")
	}
	exp.Stop()
	exp.Stop()

	before := len(bus.forSession(id))
	metrics.SetQuality(id, 0.9)
	time.Sleep(30 * time.Millisecond)
	if after := len(bus.forSession(id)); after != before {
		t.Errorf("events published after Stop: %d -> %d", before, after)
	}
}

func TestGetEventTypes(t *testing.T) {
	if _, ok := GetEventTypes()["session-metrics"]; !ok {
		t.Error("expected session-metrics event type")
	}
}
