package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/foveanode/internal/bitrate"
	"github.com/smazurov/foveanode/internal/config"
	"github.com/smazurov/foveanode/internal/events"
	"github.com/smazurov/foveanode/internal/metrics"
	"github.com/smazurov/foveanode/internal/sink"
	"github.com/smazurov/foveanode/internal/store"
	"github.com/smazurov/foveanode/internal/types"
)

// SinkOpener opens the sink named by a target URL.
type SinkOpener func(target string) (sink.Sink, error)

// ManagerOptions configures a new Manager.
type ManagerOptions struct {
	// Pipeline is the base configuration every session starts from.
	Pipeline config.Pipeline

	// Workers is the size of the worker pool shared by all sessions.
	Workers int

	// Store persists session descriptors (optional).
	Store store.Store

	// Bus receives session events (optional).
	Bus *events.Bus

	// OpenSink opens session sinks. Defaults to sink.Open.
	OpenSink SinkOpener

	// Logger for manager operations. If nil, uses slog.Default().
	Logger *slog.Logger
}

// StartRequest describes a session to start.
type StartRequest struct {
	ID        string
	Width     int
	Height    int
	Sink      string
	Overrides config.Overrides
	// CreatedAt is kept from a restored descriptor; zero means now.
	CreatedAt time.Time
}

type managed struct {
	session   *Session
	slot      int
	overrides config.Overrides
}

// Manager owns the live sessions and the worker pool they run on.
type Manager struct {
	mu       sync.RWMutex
	base     config.Pipeline
	sessions map[string]*managed
	nextSlot int
	pool     *Pool
	store    store.Store
	bus      *events.Bus
	openSink SinkOpener
	logger   *slog.Logger
}

// NewManager creates a manager and starts its worker pool.
func NewManager(opts ManagerOptions) (*Manager, error) {
	base := opts.Pipeline.Normalize()
	if err := base.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	open := opts.OpenSink
	if open == nil {
		open = sink.Open
	}
	return &Manager{
		base:     base,
		sessions: make(map[string]*managed),
		pool:     NewPool(&PoolOptions{Workers: opts.Workers, Logger: logger}),
		store:    opts.Store,
		bus:      opts.Bus,
		openSink: open,
		logger:   logger,
	}, nil
}

// Pipeline returns the base pipeline.
func (m *Manager) Pipeline() config.Pipeline {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.base
}

// Start creates a session. An invalid pipeline after overrides is refused
// with INVALID_CONFIG.
func (m *Manager) Start(req StartRequest) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := m.sessions[id]; exists {
		return nil, types.InvalidInput("session %s already exists", id)
	}

	p := m.base.Apply(req.Overrides)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out, err := m.openSink(req.Sink)
	if err != nil {
		return nil, types.NewError(types.CodeInvalidConfig, "cannot open sink", err)
	}

	s, err := New(Options{
		ID:         id,
		Width:      req.Width,
		Height:     req.Height,
		Pipeline:   p,
		Sink:       out,
		SinkTarget: req.Sink,
		Logger:     m.logger,
		Bus:        m.bus,
	})
	if err != nil {
		_ = out.Close()
		return nil, err
	}

	m.sessions[id] = &managed{session: s, slot: m.nextSlot, overrides: req.Overrides}
	m.nextSlot++

	if m.store != nil {
		created := req.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		d := store.Descriptor{
			ID:        id,
			Width:     req.Width,
			Height:    req.Height,
			Sink:      req.Sink,
			Overrides: req.Overrides,
			CreatedAt: created,
		}
		if err := m.store.Put(d); err != nil {
			m.logger.Warn("Failed to persist session", "session_id", id, "error", err)
		}
	}
	return s, nil
}

// Restore starts a session for every stored descriptor. Failures are logged
// and skipped.
func (m *Manager) Restore() int {
	if m.store == nil {
		return 0
	}
	descriptors := m.store.All()
	ids := make([]string, 0, len(descriptors))
	for id := range descriptors {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	restored := 0
	for _, id := range ids {
		d := descriptors[id]
		if _, err := m.Start(StartRequest{
			ID:        d.ID,
			Width:     d.Width,
			Height:    d.Height,
			Sink:      d.Sink,
			Overrides: d.Overrides,
			CreatedAt: d.CreatedAt,
		}); err != nil {
			m.logger.Warn("Failed to restore session", "session_id", id, "error", err)
			continue
		}
		restored++
	}
	return restored
}

func (m *Manager) get(id string) (*managed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, types.NotFound("session %s not found", id)
	}
	return ms, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	ms, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return ms.session, nil
}

// List returns the status of every session ordered by id.
func (m *Manager) List() []Status {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, ms := range m.sessions {
		sessions = append(sessions, ms.session)
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	slices.SortFunc(out, func(a, b Status) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// ProcessFrame runs a frame on the session's worker.
func (m *Manager) ProcessFrame(ctx context.Context, id string, f *types.Frame) (Result, error) {
	ms, err := m.get(id)
	if err != nil {
		return Result{}, err
	}
	var res Result
	var procErr error
	if err := m.pool.Do(ctx, ms.slot, func() {
		res, procErr = ms.session.ProcessFrame(f)
	}); err != nil {
		return Result{}, err
	}
	return res, procErr
}

// EmitNext emits the session's next frame on its worker.
func (m *Manager) EmitNext(ctx context.Context, id string) ([]byte, error) {
	ms, err := m.get(id)
	if err != nil {
		return nil, err
	}
	var data []byte
	var emitErr error
	if err := m.pool.Do(ctx, ms.slot, func() {
		data, emitErr = ms.session.EmitNext()
	}); err != nil {
		return nil, err
	}
	return data, emitErr
}

// AdaptQuality records a bandwidth report for a session.
func (m *Manager) AdaptQuality(ctx context.Context, id string, bandwidthKbps float64) (bitrate.Decision, error) {
	ms, err := m.get(id)
	if err != nil {
		return bitrate.Decision{}, err
	}
	var d bitrate.Decision
	var adaptErr error
	if err := m.pool.Do(ctx, ms.slot, func() {
		d, adaptErr = ms.session.AdaptQuality(bandwidthKbps)
	}); err != nil {
		return bitrate.Decision{}, err
	}
	return d, adaptErr
}

// SetDiscipline switches a session's scheduling discipline.
func (m *Manager) SetDiscipline(ctx context.Context, id, name string) error {
	ms, err := m.get(id)
	if err != nil {
		return err
	}
	var setErr error
	if err := m.pool.Do(ctx, ms.slot, func() {
		setErr = ms.session.SetDiscipline(name)
	}); err != nil {
		return err
	}
	return setErr
}

// UpdateSession replaces a session's overrides on top of the base pipeline.
func (m *Manager) UpdateSession(ctx context.Context, id string, o config.Overrides) error {
	ms, err := m.get(id)
	if err != nil {
		return err
	}
	p := m.Pipeline().Apply(o)
	var updErr error
	if err := m.pool.Do(ctx, ms.slot, func() {
		updErr = ms.session.UpdateConfig(p)
	}); err != nil {
		return err
	}
	if updErr != nil {
		return updErr
	}

	m.mu.Lock()
	ms.overrides = o
	m.mu.Unlock()
	if m.store != nil {
		if d, ok := m.store.Get(id); ok {
			d.Overrides = o
			if err := m.store.Put(d); err != nil {
				m.logger.Warn("Failed to persist session", "session_id", id, "error", err)
			}
		}
	}
	return nil
}

// UpdatePipeline replaces the base pipeline and applies it, with each
// session's overrides, to every running session. It returns the number of
// sessions updated.
func (m *Manager) UpdatePipeline(ctx context.Context, p config.Pipeline) (int, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.base = p
	targets := make([]*managed, 0, len(m.sessions))
	for _, ms := range m.sessions {
		targets = append(targets, ms)
	}
	m.mu.Unlock()

	updated := 0
	var errs []error
	for _, ms := range targets {
		if ms.session.State() != StateRunning {
			continue
		}
		cfg := p.Apply(ms.overrides)
		var updErr error
		if err := m.pool.Do(ctx, ms.slot, func() {
			updErr = ms.session.UpdateConfig(cfg)
		}); err != nil {
			return updated, err
		}
		if updErr != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", ms.session.ID(), updErr))
			continue
		}
		updated++
	}
	return updated, errors.Join(errs...)
}

// Stop stops a session after the frames already submitted to it have been
// processed. Stopping a stopped session has no effect.
func (m *Manager) Stop(ctx context.Context, id string) error {
	ms, err := m.get(id)
	if err != nil {
		return err
	}
	var stopErr error
	if err := m.pool.Do(ctx, ms.slot, func() {
		stopErr = ms.session.Stop()
	}); err != nil {
		return err
	}
	return stopErr
}

// Remove stops a session and forgets it, including its stored descriptor
// and metrics.
func (m *Manager) Remove(ctx context.Context, id string) error {
	if err := m.Stop(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	metrics.DeleteSessionMetrics(id)
	if m.store != nil {
		if err := m.store.Remove(id); err != nil {
			return fmt.Errorf("failed to remove session descriptor: %w", err)
		}
	}
	return nil
}

// Shutdown stops every session and the worker pool. Stored descriptors are
// kept so sessions can be restored.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	targets := make([]*managed, 0, len(m.sessions))
	for _, ms := range m.sessions {
		targets = append(targets, ms)
	}
	m.mu.RUnlock()

	ctx := context.Background()
	for _, ms := range targets {
		if err := m.pool.Do(ctx, ms.slot, func() { _ = ms.session.Stop() }); err != nil {
			m.logger.Warn("Failed to stop session", "session_id", ms.session.ID(), "error", err)
		}
	}
	m.pool.StopAll()
	m.logger.Info("All sessions stopped", "count", len(targets))
}
