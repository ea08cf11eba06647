// Package metrics provides Prometheus metrics for streaming sessions.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "foveanode"

var (
	framesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "frames_processed_total",
		Help:      "Frames encoded and enqueued",
	}, []string{"session_id"})

	framesInvalid = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "frames_invalid_total",
		Help:      "Frames dropped as invalid input",
	}, []string{"session_id"})

	framesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "frames_emitted_total",
		Help:      "Frames written to the session sink",
	}, []string{"session_id"})

	queueOverflows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "overflows_total",
		Help:      "Frames evicted from a full queue",
	}, []string{"session_id"})

	encodedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "bytes_total",
		Help:      "Encoded bytes including trailers",
	}, []string{"session_id"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Frames waiting for emission",
	}, []string{"session_id"})

	bitrateLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bitrate",
		Name:      "level",
		Help:      "Current bitrate ladder index",
	}, []string{"session_id"})

	bitrateKbps = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bitrate",
		Name:      "kbps",
		Help:      "Bitrate of the current ladder level",
	}, []string{"session_id"})

	bandwidthKbps = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bitrate",
		Name:      "bandwidth_kbps",
		Help:      "Last reported network bandwidth",
	}, []string{"session_id"})

	packetLoss = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "feedback",
		Name:      "packet_loss_ratio",
		Help:      "Fraction of packets lost in the last receiver report",
	}, []string{"session_id"})

	qualityOverall = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "quality",
		Name:      "overall",
		Help:      "Overall quality of the last processed frame",
	}, []string{"session_id"})

	// Local cache for SSE exporter access.
	sessionCache   = make(map[string]*SessionMetrics)
	sessionCacheMu sync.RWMutex
)

// SessionMetrics holds current metric values for a session.
type SessionMetrics struct {
	FramesProcessed uint64
	FramesInvalid   uint64
	FramesEmitted   uint64
	Overflows       uint64
	EncodedBytes    uint64
	QueueDepth      int
	Level           int
	Kbps            int
	Bandwidth       float64
	PacketLoss      float64
	Quality         float64
}

// RecordFrameProcessed counts an encoded frame and its size.
func RecordFrameProcessed(sessionID string, bytes int) {
	framesProcessed.WithLabelValues(sessionID).Inc()
	encodedBytes.WithLabelValues(sessionID).Add(float64(bytes))
	updateCache(sessionID, func(m *SessionMetrics) {
		m.FramesProcessed++
		m.EncodedBytes += uint64(bytes)
	})
}

// RecordFrameInvalid counts a rejected input frame.
func RecordFrameInvalid(sessionID string) {
	framesInvalid.WithLabelValues(sessionID).Inc()
	updateCache(sessionID, func(m *SessionMetrics) { m.FramesInvalid++ })
}

// RecordFrameEmitted counts a frame written to the sink.
func RecordFrameEmitted(sessionID string) {
	framesEmitted.WithLabelValues(sessionID).Inc()
	updateCache(sessionID, func(m *SessionMetrics) { m.FramesEmitted++ })
}

// RecordOverflow counts an evicted frame.
func RecordOverflow(sessionID string) {
	queueOverflows.WithLabelValues(sessionID).Inc()
	updateCache(sessionID, func(m *SessionMetrics) { m.Overflows++ })
}

// SetQueueDepth sets the scheduler queue length.
func SetQueueDepth(sessionID string, depth int) {
	queueDepth.WithLabelValues(sessionID).Set(float64(depth))
	updateCache(sessionID, func(m *SessionMetrics) { m.QueueDepth = depth })
}

// SetBitrateLevel sets the current ladder level and its bitrate.
func SetBitrateLevel(sessionID string, level, kbps int) {
	bitrateLevel.WithLabelValues(sessionID).Set(float64(level))
	bitrateKbps.WithLabelValues(sessionID).Set(float64(kbps))
	updateCache(sessionID, func(m *SessionMetrics) {
		m.Level = level
		m.Kbps = kbps
	})
}

// SetBandwidth sets the last reported bandwidth.
func SetBandwidth(sessionID string, kbps float64) {
	bandwidthKbps.WithLabelValues(sessionID).Set(kbps)
	updateCache(sessionID, func(m *SessionMetrics) { m.Bandwidth = kbps })
}

// SetPacketLoss sets the loss fraction from the last receiver report.
func SetPacketLoss(sessionID string, loss float64) {
	packetLoss.WithLabelValues(sessionID).Set(loss)
	updateCache(sessionID, func(m *SessionMetrics) { m.PacketLoss = loss })
}

// SetQuality sets the overall quality of the last frame.
func SetQuality(sessionID string, overall float64) {
	qualityOverall.WithLabelValues(sessionID).Set(overall)
	updateCache(sessionID, func(m *SessionMetrics) { m.Quality = overall })
}

// DeleteSessionMetrics removes all metrics for a session.
func DeleteSessionMetrics(sessionID string) {
	framesProcessed.DeleteLabelValues(sessionID)
	framesInvalid.DeleteLabelValues(sessionID)
	framesEmitted.DeleteLabelValues(sessionID)
	queueOverflows.DeleteLabelValues(sessionID)
	encodedBytes.DeleteLabelValues(sessionID)
	queueDepth.DeleteLabelValues(sessionID)
	bitrateLevel.DeleteLabelValues(sessionID)
	bitrateKbps.DeleteLabelValues(sessionID)
	bandwidthKbps.DeleteLabelValues(sessionID)
	packetLoss.DeleteLabelValues(sessionID)
	qualityOverall.DeleteLabelValues(sessionID)

	sessionCacheMu.Lock()
	delete(sessionCache, sessionID)
	sessionCacheMu.Unlock()
}

// GetSessionMetrics returns current metric values for a session.
func GetSessionMetrics(sessionID string) *SessionMetrics {
	sessionCacheMu.RLock()
	defer sessionCacheMu.RUnlock()
	if m, ok := sessionCache[sessionID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllSessionMetrics returns metrics for all active sessions.
func GetAllSessionMetrics() map[string]*SessionMetrics {
	sessionCacheMu.RLock()
	defer sessionCacheMu.RUnlock()
	result := make(map[string]*SessionMetrics, len(sessionCache))
	for id, m := range sessionCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func updateCache(sessionID string, update func(*SessionMetrics)) {
	sessionCacheMu.Lock()
	defer sessionCacheMu.Unlock()
	m, ok := sessionCache[sessionID]
	if !ok {
		m = &SessionMetrics{}
		sessionCache[sessionID] = m
	}
	update(m)
}
