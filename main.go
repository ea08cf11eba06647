package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/foveanode/cmd"
	"github.com/smazurov/foveanode/internal/api"
	"github.com/smazurov/foveanode/internal/config"
	"github.com/smazurov/foveanode/internal/events"
	"github.com/smazurov/foveanode/internal/feedback"
	"github.com/smazurov/foveanode/internal/logging"
	"github.com/smazurov/foveanode/internal/metrics"
	"github.com/smazurov/foveanode/internal/metrics/exporters"
	"github.com/smazurov/foveanode/internal/session"
	"github.com/smazurov/foveanode/internal/store"
	"github.com/smazurov/foveanode/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Pipeline settings
	PipelineFile string `help:"Pipeline options file, watched for changes" default:"pipeline.toml" toml:"pipeline.config_file" env:"PIPELINE_CONFIG_FILE"`
	SessionsFile string `help:"Session descriptors file" default:"sessions.toml" toml:"sessions.config_file" env:"SESSIONS_CONFIG_FILE"`
	Workers      int    `help:"Session worker count (0 = one per CPU)" default:"0" toml:"sessions.workers" env:"SESSIONS_WORKERS"`

	// Feedback settings
	FeedbackAddr string `help:"UDP address for RTCP feedback (empty disables)" default:":5005" toml:"feedback.addr" env:"FEEDBACK_ADDR"`

	// Metrics settings
	MetricsPrometheusEnabled bool `help:"Enable Prometheus" default:"true" toml:"metrics.prometheus_enabled" env:"METRICS_PROMETHEUS_ENABLED"`
	MetricsSSEEnabled        bool `help:"Enable SSE metrics" default:"true" toml:"metrics.sse_enabled" env:"METRICS_SSE_ENABLED"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
}

func main() {
	var cli humacli.CLI

	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system; per-module levels come from [logging] in the config file
		loggingConfig := config.LoadLoggingConfig(opts.Config)
		loggingConfig.Level = opts.LoggingLevel
		loggingConfig.Format = opts.LoggingFormat
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()

		var logSeq atomic.Uint64
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(api.LogEvent(logSeq.Add(1), entry))
		})

		pipeline, err := config.LoadPipeline(opts.PipelineFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Info("Pipeline file not found, using defaults", "path", opts.PipelineFile)
			pipeline = config.DefaultPipeline()
		case err != nil:
			logger.Error("Invalid pipeline configuration", "path", opts.PipelineFile, "error", err)
			os.Exit(1)
		}

		sessionStore := store.NewTOML(opts.SessionsFile)
		if loadErr := sessionStore.Load(); loadErr != nil {
			logger.Warn("Failed to load session descriptors", "error", loadErr)
		}

		manager, err := session.NewManager(session.ManagerOptions{
			Pipeline: pipeline,
			Workers:  opts.Workers,
			Store:    sessionStore,
			Bus:      eventBus,
			Logger:   logging.GetLogger("session"),
		})
		if err != nil {
			logger.Error("Failed to create session manager", "error", err)
			os.Exit(1)
		}

		// Restore sessions from the descriptor file at startup
		// Runtime session management should use the CRUD APIs
		if n := manager.Restore(); n > 0 {
			logger.Info("Restored sessions", "count", n)
		}

		// Receiver feedback adapts the session whose RTP sink owns the SSRC
		var listener *feedback.Listener
		var unrouteFeedback func()
		if opts.FeedbackAddr != "" {
			listener, err = feedback.Listen(opts.FeedbackAddr, logging.GetLogger("feedback"))
			if err != nil {
				logger.Warn("Failed to start feedback listener", "addr", opts.FeedbackAddr, "error", err)
			} else {
				unrouteFeedback = routeFeedback(listener, manager, eventBus, logging.GetLogger("feedback"))
			}
		}

		// Pipeline hot reload
		watcher := config.NewConfigWatcher(opts.PipelineFile, config.LoadPipeline, logging.GetLogger("config"),
			config.WithErrorHandler[config.Pipeline](func(reloadErr error) {
				eventBus.Publish(events.ConfigReloadedEvent{
					Path:      opts.PipelineFile,
					Error:     reloadErr.Error(),
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}),
		)
		watcher.OnReload(func(p config.Pipeline) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			n, updateErr := manager.UpdatePipeline(ctx, p)
			ev := events.ConfigReloadedEvent{
				Path:      watcher.Path(),
				Sessions:  n,
				Timestamp: time.Now().Format(time.RFC3339),
			}
			if updateErr != nil {
				logger.Warn("Pipeline reload applied with errors", "error", updateErr)
				ev.Error = updateErr.Error()
			}
			eventBus.Publish(ev)
		})

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Manager:      manager,
			EventBus:     eventBus,
		}
		if opts.MetricsPrometheusEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
		}

		server := api.NewServer(apiOpts)

		var sseExporter *exporters.SSEExporter
		if opts.MetricsSSEEnabled {
			sseExporter = exporters.NewSSEExporter(eventBus)
		}

		runCtx, stopRun := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			if sseExporter != nil {
				sseExporter.Start(context.Background())
			}

			if startErr := watcher.Start(); startErr != nil {
				logger.Warn("Failed to watch pipeline file", "path", opts.PipelineFile, "error", startErr)
			}

			if listener != nil {
				go func() {
					if serveErr := listener.Serve(runCtx); serveErr != nil {
						logger.Error("Feedback listener stopped", "error", serveErr)
					}
				}()
			}

			if sent, notifyErr := systemd.Ready(); notifyErr != nil {
				logger.Warn("Failed to notify systemd", "error", notifyErr)
			} else if sent {
				logger.Debug("Notified systemd of readiness")
			}
			systemd.Watchdog(runCtx, logger)

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			_, _ = systemd.Stopping()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if stopErr := server.Stop(ctx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping pipeline watcher", "error", stopErr)
			}

			stopRun()
			if listener != nil {
				unrouteFeedback()
				if closeErr := listener.Close(); closeErr != nil {
					logger.Warn("Error closing feedback listener", "error", closeErr)
				}
			}

			// Stop sessions after the HTTP server stops accepting new requests
			manager.Shutdown()

			if sseExporter != nil {
				sseExporter.Stop()
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateEncodeCmd())
	cli.Root().AddCommand(cmd.CreateInspectCmd())
	cli.Root().AddCommand(cmd.CreateValidateConfigCmd())

	// Run the CLI
	cli.Run()
}

// routeFeedback resolves unknown SSRCs to the session whose sink sends them
// and routes later reports straight to it. Routes are dropped when the
// session stops. The returned function unsubscribes.
func routeFeedback(l *feedback.Listener, m *session.Manager, bus *events.Bus, logger *slog.Logger) func() {
	var mu sync.Mutex
	routes := make(map[string]func())

	adapt := func(id string) feedback.Handler {
		return func(rep feedback.Report) {
			if err := applyFeedback(m, id, rep); err != nil {
				logger.Debug("Feedback not applied", "session_id", id, "ssrc", rep.SSRC, "error", err)
			}
		}
	}

	l.SetFallback(func(rep feedback.Report) {
		for _, st := range m.List() {
			if st.SSRC != rep.SSRC || st.State != session.StateRunning {
				continue
			}
			h := adapt(st.ID)
			mu.Lock()
			if _, ok := routes[st.ID]; !ok {
				routes[st.ID] = l.Route(rep.SSRC, h)
			}
			mu.Unlock()
			h(rep)
			return
		}
		logger.Debug("Feedback for unknown source", "ssrc", rep.SSRC)
	})

	return bus.Subscribe(func(ev events.SessionStoppedEvent) {
		mu.Lock()
		defer mu.Unlock()
		if unroute, ok := routes[ev.SessionID]; ok {
			unroute()
			delete(routes, ev.SessionID)
		}
	})
}

// applyFeedback records the report's loss and hands its bandwidth estimate to
// the session's bitrate controller.
func applyFeedback(m *session.Manager, id string, rep feedback.Report) error {
	if rep.HasLoss() {
		metrics.SetPacketLoss(id, rep.Loss)
	}
	if !rep.HasBandwidth() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := m.AdaptQuality(ctx, id, rep.BandwidthKbps)
	return err
}
