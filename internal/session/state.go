package session

import (
	"time"

	"github.com/smazurov/foveanode/internal/types"
)

// State is the lifecycle state of a session.
type State string

// Session states.
const (
	StateRunning State = "running" // Accepting frames
	StateStopped State = "stopped" // Stopped on request
	StateFailed  State = "failed"  // Stopped by a sink failure
)

// Stats are the per-session counters.
type Stats struct {
	FramesProcessed uint64 `json:"frames_processed" doc:"Frames encoded and enqueued"`
	FramesInvalid   uint64 `json:"frames_invalid" doc:"Frames dropped as invalid input"`
	FramesEmitted   uint64 `json:"frames_emitted" doc:"Frames written to the sink"`
	Overflows       uint64 `json:"overflows" doc:"Frames evicted from a full queue"`
	BytesEncoded    uint64 `json:"bytes_encoded" doc:"Encoded bytes including trailers"`
	BytesEmitted    uint64 `json:"bytes_emitted" doc:"Bytes written to the sink"`
	LevelChanges    uint64 `json:"level_changes" doc:"Bitrate level transitions"`
}

// Status is a snapshot of a session.
type Status struct {
	ID            string              `json:"id" doc:"Session identifier"`
	State         State               `json:"state" enum:"running,stopped,failed" doc:"Lifecycle state"`
	Reason        string              `json:"reason,omitempty" doc:"Why the session stopped"`
	Width         int                 `json:"width" doc:"Frame width in pixels"`
	Height        int                 `json:"height" doc:"Frame height in pixels"`
	Sink          string              `json:"sink,omitempty" doc:"Output target"`
	SSRC          uint32              `json:"ssrc,omitempty" doc:"RTP synchronization source of the sink"`
	Discipline    types.Discipline    `json:"discipline" doc:"Active scheduling discipline"`
	Level         int                 `json:"level" doc:"Current bitrate ladder index"`
	Kbps          int                 `json:"kbps" doc:"Bitrate of the current level"`
	BandwidthKbps float64             `json:"bandwidth_kbps" doc:"Last reported bandwidth, 0 when unknown"`
	QueueDepth    int                 `json:"queue_depth" doc:"Frames waiting for emission"`
	LastQuality   types.QualityVector `json:"last_quality" doc:"Quality of the last processed frame"`
	Stats         Stats               `json:"stats"`
	CreatedAt     time.Time           `json:"created_at" doc:"Session start time"`
}
