package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/smazurov/foveanode/internal/logging"
)

const requestIDHeader = "X-Request-Id"

// HTTPLoggingMiddleware tags each request with an id and logs it once it
// completes, at a level chosen by its outcome.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("api")

	id := ctx.Header(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	ctx.SetHeader(requestIDHeader, id)

	next(ctx)

	method := ctx.Method()
	status := ctx.Status()
	attrs := []slog.Attr{
		slog.String("request_id", id),
		slog.String("method", method),
		slog.String("path", ctx.URL().Path),
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if q := ctx.URL().RawQuery; q != "" {
		attrs = append(attrs, slog.String("query", q))
	}
	if sid := ctx.Param("id"); sid != "" {
		attrs = append(attrs, slog.String("session_id", sid))
	}

	logger.LogAttrs(ctx.Context(), requestLevel(method, status), "HTTP request completed", attrs...)
}

// requestLevel keeps preflights quiet and raises failures.
func requestLevel(method string, status int) slog.Level {
	switch {
	case method == http.MethodOptions:
		return slog.LevelDebug
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
