package events

// Event type constants for kelindar/event.
const (
	TypeSessionStarted uint32 = iota + 1
	TypeSessionStopped
	TypeLevelChanged
	TypeFrameRejected
	TypeQueueOverflow
	TypeSessionMetrics
	TypeConfigReloaded
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionStartedEvent is published when a session begins accepting frames.
type SessionStartedEvent struct {
	SessionID string `json:"session_id" example:"5b0c1f9e-7a43-4f7e-9a1d-2f0d8c3e6b11" doc:"Session identifier"`
	Width     int    `json:"width" example:"640" doc:"Frame width in pixels"`
	Height    int    `json:"height" example:"360" doc:"Frame height in pixels"`
	Level     int    `json:"level" example:"2" doc:"Initial bitrate level"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStartedEvent.
func (e SessionStartedEvent) Type() uint32 { return TypeSessionStarted }

// SessionStoppedEvent is published once when a session stops, either on
// request or because its sink failed.
type SessionStoppedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	Reason    string `json:"reason" example:"stopped" doc:"Why the session stopped"`
	Fatal     bool   `json:"fatal" example:"false" doc:"Whether the session stopped on an unrecoverable error"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStoppedEvent.
func (e SessionStoppedEvent) Type() uint32 { return TypeSessionStopped }

// LevelChangedEvent is published when the bitrate controller moves a session
// to another ladder level. It precedes the encoding of the next frame.
type LevelChangedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	From      int    `json:"from" example:"2" doc:"Previous level"`
	To        int    `json:"to" example:"1" doc:"New level"`
	Kbps      int    `json:"kbps" example:"1500" doc:"Bitrate of the new level"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for LevelChangedEvent.
func (e LevelChangedEvent) Type() uint32 { return TypeLevelChanged }

// FrameRejectedEvent is published when an input frame is dropped as invalid.
type FrameRejectedEvent struct {
	SessionID      string `json:"session_id" doc:"Session identifier"`
	FrameTimestamp uint64 `json:"frame_timestamp" example:"42" doc:"Ordinal timestamp of the rejected frame"`
	Error          string `json:"error" doc:"Rejection reason"`
	Timestamp      string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FrameRejectedEvent.
func (e FrameRejectedEvent) Type() uint32 { return TypeFrameRejected }

// QueueOverflowEvent is published when the scheduler evicts a frame.
type QueueOverflowEvent struct {
	SessionID      string  `json:"session_id" doc:"Session identifier"`
	FrameTimestamp uint64  `json:"frame_timestamp" doc:"Ordinal timestamp of the evicted frame"`
	Quality        float64 `json:"quality" doc:"Overall quality of the evicted frame"`
	Timestamp      string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for QueueOverflowEvent.
func (e QueueOverflowEvent) Type() uint32 { return TypeQueueOverflow }

// SessionMetricsEvent carries periodic per-session counters for SSE clients.
type SessionMetricsEvent struct {
	EventType       string  `json:"type"`
	SessionID       string  `json:"session_id"`
	FramesProcessed uint64  `json:"frames_processed"`
	FramesInvalid   uint64  `json:"frames_invalid"`
	FramesEmitted   uint64  `json:"frames_emitted"`
	Overflows       uint64  `json:"overflows"`
	EncodedBytes    uint64  `json:"encoded_bytes"`
	QueueDepth      int     `json:"queue_depth"`
	Level           int     `json:"level"`
	Kbps            int     `json:"kbps"`
	BandwidthKbps   float64 `json:"bandwidth_kbps"`
	PacketLoss      float64 `json:"packet_loss"`
	Quality         float64 `json:"quality"`
}

// Type returns the event type identifier for SessionMetricsEvent.
func (e SessionMetricsEvent) Type() uint32 { return TypeSessionMetrics }

// ConfigReloadedEvent is published after pipeline.toml changes are applied.
type ConfigReloadedEvent struct {
	Path      string `json:"path" example:"pipeline.toml" doc:"Reloaded file"`
	Sessions  int    `json:"sessions" example:"3" doc:"Number of sessions updated"`
	Error     string `json:"error,omitempty" doc:"Reload failure, if any"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ConfigReloadedEvent.
func (e ConfigReloadedEvent) Type() uint32 { return TypeConfigReloaded }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
