package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/foveanode/internal/api/models"
	"github.com/smazurov/foveanode/internal/events"
	"github.com/smazurov/foveanode/internal/session"
	"github.com/smazurov/foveanode/internal/types"
)

// registerSessionRoutes registers all session-related endpoints
func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/sessions",
		Summary:     "List Sessions",
		Description: "Get the status of every known session, including stopped ones",
		Tags:        []string{"sessions"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.SessionListResponse, error) {
		list := s.manager.List()
		return &models.SessionListResponse{
			Body: models.SessionListData{Sessions: list, Count: len(list)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/api/sessions",
		Summary:       "Start Session",
		Description:   "Start a streaming session with the service pipeline and optional overrides",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 422},
		Security:      withAuth(),
	}, func(_ context.Context, input *models.SessionCreateRequest) (*models.SessionResponse, error) {
		req := session.StartRequest{
			ID:     input.Body.ID,
			Width:  input.Body.Width,
			Height: input.Body.Height,
			Sink:   input.Body.Sink,
		}
		if input.Body.Overrides != nil {
			req.Overrides = *input.Body.Overrides
		}
		sess, err := s.manager.Start(req)
		if err != nil {
			return nil, mapSessionError(err)
		}
		return &models.SessionResponse{Body: sess.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{id}",
		Summary:     "Get Session",
		Description: "Get the status and counters of a session",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.SessionPathInput) (*models.SessionResponse, error) {
		sess, err := s.manager.Get(input.ID)
		if err != nil {
			return nil, mapSessionError(err)
		}
		return &models.SessionResponse{Body: sess.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-session",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/stop",
		Summary:     "Stop Session",
		Description: "Drain submitted frames, discard the queue and close the sink. Stopping twice has no effect.",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.SessionPathInput) (*models.SessionResponse, error) {
		if err := s.manager.Stop(ctx, input.ID); err != nil {
			return nil, mapSessionError(err)
		}
		sess, err := s.manager.Get(input.ID)
		if err != nil {
			return nil, mapSessionError(err)
		}
		return &models.SessionResponse{Body: sess.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/api/sessions/{id}",
		Summary:       "Delete Session",
		Description:   "Stop a session and forget it, including its stored descriptor",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404},
		Security:      withAuth(),
	}, func(ctx context.Context, input *models.SessionPathInput) (*struct{}, error) {
		if err := s.manager.Remove(ctx, input.ID); err != nil {
			return nil, mapSessionError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "push-frame",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/frames",
		Summary:     "Push Frame",
		Description: "Process one 8-bit grayscale frame, row-major, width*height bytes",
		Tags:        []string{"frames"},
		Errors:      []int{400, 401, 404, 409, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.FrameInput) (*models.FrameResponse, error) {
		sess, err := s.manager.Get(input.ID)
		if err != nil {
			return nil, mapSessionError(err)
		}
		st := sess.Status()
		frame, err := types.FrameFromBytes(st.Width, st.Height, input.Timestamp, input.RawBody)
		if err != nil {
			return nil, mapSessionError(err)
		}
		res, err := s.manager.ProcessFrame(ctx, input.ID, frame)
		if err != nil {
			return nil, mapSessionError(err)
		}
		return &models.FrameResponse{
			Body: models.FrameData{
				Timestamp: input.Timestamp,
				Bytes:     res.Bytes,
				Level:     res.Level,
				NextLevel: res.Decision.Level,
				Evicted:   res.Evicted,
				Quality:   res.Quality,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "emit-frame",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/emit",
		Summary:     "Emit Next Frame",
		Description: "Dequeue the next scheduled frame, write it to the sink and return its bytes. Responds 204 when the queue is empty.",
		Tags:        []string{"frames"},
		Errors:      []int{401, 404, 409, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.SessionPathInput) (*models.EmitResponse, error) {
		data, err := s.manager.EmitNext(ctx, input.ID)
		if err != nil {
			return nil, mapSessionError(err)
		}
		if len(data) == 0 {
			return &models.EmitResponse{Status: http.StatusNoContent}, nil
		}
		return &models.EmitResponse{
			Status:      http.StatusOK,
			ContentType: "application/octet-stream",
			Body:        data,
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "report-network",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{id}/network",
		Summary:     "Report Bandwidth",
		Description: "Record measured bandwidth; the level adapts as frames are processed",
		Tags:        []string{"adaptation"},
		Errors:      []int{400, 401, 404, 409},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.NetworkRequest) (*models.DecisionResponse, error) {
		d, err := s.manager.AdaptQuality(ctx, input.ID, input.Body.BandwidthKbps)
		if err != nil {
			return nil, mapSessionError(err)
		}
		body := models.DecisionData{
			Level:      d.Level,
			Kbps:       d.Kbps,
			Condition:  d.Condition.String(),
			QualityAvg: d.QualityAvg,
		}
		if !math.IsInf(d.Headroom, 1) {
			body.Headroom = &d.Headroom
		}
		return &models.DecisionResponse{Body: body}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-session-config",
		Method:      http.MethodPut,
		Path:        "/api/sessions/{id}/config",
		Summary:     "Update Session Config",
		Description: "Replace the session's pipeline overrides. Identical settings are a no-op.",
		Tags:        []string{"configuration"},
		Errors:      []int{401, 404, 409, 422},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.SessionConfigRequest) (*models.SessionResponse, error) {
		if err := s.manager.UpdateSession(ctx, input.ID, input.Body); err != nil {
			return nil, mapSessionError(err)
		}
		sess, err := s.manager.Get(input.ID)
		if err != nil {
			return nil, mapSessionError(err)
		}
		return &models.SessionResponse{Body: sess.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-discipline",
		Method:      http.MethodPut,
		Path:        "/api/sessions/{id}/discipline",
		Summary:     "Set Scheduling Discipline",
		Description: "Switch the ordering of queued frames",
		Tags:        []string{"configuration"},
		Errors:      []int{401, 404, 409, 422},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.DisciplineRequest) (*models.SessionResponse, error) {
		if err := s.manager.SetDiscipline(ctx, input.ID, input.Body.Discipline); err != nil {
			return nil, mapSessionError(err)
		}
		sess, err := s.manager.Get(input.ID)
		if err != nil {
			return nil, mapSessionError(err)
		}
		return &models.SessionResponse{Body: sess.Status()}, nil
	})
}

// registerConfigRoutes registers the service pipeline endpoints
func (s *Server) registerConfigRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-pipeline",
		Method:      http.MethodGet,
		Path:        "/api/config",
		Summary:     "Get Pipeline",
		Description: "Get the pipeline options new sessions start from",
		Tags:        []string{"configuration"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.PipelineResponse, error) {
		return &models.PipelineResponse{Body: s.manager.Pipeline()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-pipeline",
		Method:      http.MethodPut,
		Path:        "/api/config",
		Summary:     "Update Pipeline",
		Description: "Replace the service pipeline and apply it, with per-session overrides, to every running session",
		Tags:        []string{"configuration"},
		Errors:      []int{401, 422, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.PipelineRequest) (*models.PipelineUpdateResponse, error) {
		if err := input.Body.Normalize().Validate(); err != nil {
			return nil, mapSessionError(err)
		}
		n, err := s.manager.UpdatePipeline(ctx, input.Body)
		resp := &models.PipelineUpdateResponse{}
		resp.Body.Message = "pipeline updated"
		resp.Body.Sessions = n
		if err != nil {
			resp.Body.Message = "pipeline updated with errors: " + err.Error()
		}
		s.eventBus.Publish(events.ConfigReloadedEvent{
			Path:      "api",
			Sessions:  n,
			Error:     errString(err),
			Timestamp: time.Now().Format(time.RFC3339),
		})
		return resp, nil
	})
}

// mapSessionError maps domain errors to HTTP errors
func mapSessionError(err error) error {
	if errors.Is(err, session.ErrStopped) {
		return huma.Error409Conflict("session stopped", err)
	}
	if errors.Is(err, session.ErrPoolClosed) {
		return huma.Error503ServiceUnavailable("service shutting down", err)
	}
	msg := err.Error()
	switch types.CodeOf(err) {
	case types.CodeInvalidInput:
		return huma.Error400BadRequest(msg, err)
	case types.CodeInvalidConfig:
		return huma.Error422UnprocessableEntity(msg, err)
	case types.CodeNotFound:
		return huma.Error404NotFound(msg, err)
	case types.CodeOverflow:
		return huma.Error409Conflict(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
