package exporters

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/foveanode/internal/events"
	"github.com/smazurov/foveanode/internal/metrics"
)

// EventPublisher is the part of the event bus the exporter needs.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter turns the per-session gauges into SessionMetricsEvents. A
// session is published when its numbers change, and every session is
// republished every refreshTicks so new stream clients catch up.
type SSEExporter struct {
	bus          EventPublisher
	interval     time.Duration
	refreshTicks int

	last map[string]metrics.SessionMetrics
	tick int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSSEExporter creates an exporter publishing to bus once a second.
func NewSSEExporter(bus EventPublisher) *SSEExporter {
	return &SSEExporter{
		bus:          bus,
		interval:     time.Second,
		refreshTicks: 10,
		last:         make(map[string]metrics.SessionMetrics),
	}
}

// Start runs the export loop until ctx is cancelled or Stop is called.
func (s *SSEExporter) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.publish()
			}
		}
	}()
}

// Stop ends the loop and waits for it. It is safe to call more than once.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) publish() {
	refresh := s.tick%s.refreshTicks == 0
	s.tick++

	current := metrics.GetAllSessionMetrics()
	for id := range s.last {
		if _, ok := current[id]; !ok {
			delete(s.last, id)
		}
	}
	for id, m := range current {
		if prev, seen := s.last[id]; seen && prev == *m && !refresh {
			continue
		}
		s.last[id] = *m
		s.bus.Publish(metricsEvent(id, m))
	}
}

func metricsEvent(id string, m *metrics.SessionMetrics) events.SessionMetricsEvent {
	return events.SessionMetricsEvent{
		EventType:       "session_metrics",
		SessionID:       id,
		FramesProcessed: m.FramesProcessed,
		FramesInvalid:   m.FramesInvalid,
		FramesEmitted:   m.FramesEmitted,
		Overflows:       m.Overflows,
		EncodedBytes:    m.EncodedBytes,
		QueueDepth:      m.QueueDepth,
		Level:           m.Level,
		Kbps:            m.Kbps,
		BandwidthKbps:   m.Bandwidth,
		PacketLoss:      m.PacketLoss,
		Quality:         m.Quality,
	}
}

// GetEventTypes returns event types for SSE endpoint registration.
func GetEventTypes() map[string]any {
	return map[string]any{
		"session-metrics": events.SessionMetricsEvent{},
	}
}
