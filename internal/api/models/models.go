package models

import (
	"github.com/smazurov/foveanode/internal/config"
	"github.com/smazurov/foveanode/internal/logging"
	"github.com/smazurov/foveanode/internal/session"
	"github.com/smazurov/foveanode/internal/types"
)

// Health check models
type HealthData struct {
	Status        string `json:"status" example:"ok" doc:"Service status"`
	Message       string `json:"message" example:"API is healthy" doc:"Status message"`
	Sessions      int    `json:"sessions" example:"2" doc:"Number of known sessions"`
	EventsDropped uint64 `json:"events_dropped" example:"0" doc:"Events missed by slow stream clients"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2026-10-01T12:00:00Z" doc:"Build or commit time"`
	Dirty     bool   `json:"dirty" doc:"Built from a modified working tree"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Session models
type SessionListData struct {
	Sessions []session.Status `json:"sessions" doc:"Known sessions ordered by id"`
	Count    int              `json:"count" example:"2" doc:"Number of sessions"`
}

type SessionListResponse struct {
	Body SessionListData
}

type SessionCreateData struct {
	ID        string            `json:"id,omitempty" pattern:"^[a-zA-Z0-9_-]+$" maxLength:"64" example:"cam-front" doc:"Session identifier, generated when empty"`
	Width     int               `json:"width" minimum:"3" example:"640" doc:"Frame width in pixels"`
	Height    int               `json:"height" minimum:"3" example:"360" doc:"Frame height in pixels"`
	Sink      string            `json:"sink,omitempty" example:"rtp://127.0.0.1:5004?pt=96" doc:"Output target: file://, rtp://, udp:// or empty to discard"`
	Overrides *config.Overrides `json:"overrides,omitempty" doc:"Pipeline options overriding the service defaults"`
}

type SessionCreateRequest struct {
	Body SessionCreateData
}

type SessionResponse struct {
	Body session.Status
}

type SessionPathInput struct {
	ID string `path:"id" example:"cam-front" doc:"Session identifier"`
}

// Frame models
type FrameInput struct {
	ID        string `path:"id" example:"cam-front" doc:"Session identifier"`
	Timestamp uint64 `query:"timestamp" example:"42" doc:"Ordinal frame timestamp"`
	RawBody   []byte `contentType:"application/octet-stream"`
}

type FrameData struct {
	Timestamp uint64              `json:"timestamp" example:"42" doc:"Frame timestamp"`
	Bytes     int                 `json:"bytes" example:"266" doc:"Encoded frame size including the trailer"`
	Level     int                 `json:"level" example:"2" doc:"Level the frame was encoded at"`
	NextLevel int                 `json:"next_level" example:"2" doc:"Level the next frame will be encoded at"`
	Evicted   bool                `json:"evicted" doc:"Whether a queued frame was evicted"`
	Quality   types.QualityVector `json:"quality"`
}

type FrameResponse struct {
	Body FrameData
}

type EmitResponse struct {
	Status      int
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// Network feedback models
type NetworkRequest struct {
	ID   string `path:"id" example:"cam-front" doc:"Session identifier"`
	Body struct {
		BandwidthKbps float64 `json:"bandwidth_kbps" minimum:"0" example:"2500" doc:"Measured bandwidth in kbps, 0 when unknown"`
	}
}

type DecisionData struct {
	Level      int      `json:"level" example:"2" doc:"Current ladder index"`
	Kbps       int      `json:"kbps" example:"3000" doc:"Bitrate of the current level"`
	Condition  string   `json:"condition" enum:"hold,down,up" doc:"Rule outcome for the current history and bandwidth"`
	QualityAvg float64  `json:"quality_avg" example:"0.62" doc:"Mean overall quality over the adaptation window"`
	Headroom   *float64 `json:"headroom,omitempty" example:"1.2" doc:"Bandwidth over level bitrate, absent when bandwidth is unknown"`
}

type DecisionResponse struct {
	Body DecisionData
}

// Configuration models
type SessionConfigRequest struct {
	ID   string `path:"id" example:"cam-front" doc:"Session identifier"`
	Body config.Overrides
}

type DisciplineRequest struct {
	ID   string `path:"id" example:"cam-front" doc:"Session identifier"`
	Body struct {
		Discipline string `json:"discipline" enum:"fifo,priority,biological,adaptive" example:"adaptive" doc:"Scheduling discipline"`
	}
}

type PipelineResponse struct {
	Body config.Pipeline
}

type PipelineRequest struct {
	Body config.Pipeline
}

type PipelineUpdateResponse struct {
	Body struct {
		Message  string `json:"message" doc:"Operation result message"`
		Sessions int    `json:"sessions" doc:"Number of sessions updated"`
	}
}

// Log models
type LogListRequest struct {
	Module string `query:"module" example:"session" doc:"Only lines from this logger module"`
	Limit  int    `query:"limit" minimum:"0" example:"100" doc:"Newest lines to return, 0 for all"`
}

type LogListResponse struct {
	Body struct {
		Entries []logging.LogEntry `json:"entries" doc:"Buffered log lines, oldest first"`
		Count   int                `json:"count" doc:"Number of entries"`
	}
}

type LogLevelRequest struct {
	Module string `path:"module" example:"encoder" doc:"Logger module"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
	}
}

// ConnectedEvent is the first message of every SSE stream.
type ConnectedEvent struct {
	Message   string `json:"message" example:"SSE connection established"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z"`
}
