// Package session runs the estimate, encode, schedule and adapt pipeline for
// independent streams and manages their lifecycle.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/foveanode/internal/bitrate"
	"github.com/smazurov/foveanode/internal/config"
	"github.com/smazurov/foveanode/internal/encoder"
	"github.com/smazurov/foveanode/internal/events"
	"github.com/smazurov/foveanode/internal/metrics"
	"github.com/smazurov/foveanode/internal/quality"
	"github.com/smazurov/foveanode/internal/scheduler"
	"github.com/smazurov/foveanode/internal/sink"
	"github.com/smazurov/foveanode/internal/transform"
	"github.com/smazurov/foveanode/internal/types"
)

// ErrStopped is returned for operations on a session that has stopped.
var ErrStopped = errors.New("session stopped")

// Options configures a new Session.
type Options struct {
	ID       string
	Width    int
	Height   int
	Pipeline config.Pipeline
	Sink     sink.Sink
	// SinkTarget is the sink URL, reported in status only.
	SinkTarget string
	Logger     *slog.Logger
	Bus        *events.Bus
}

// Result describes one processed frame.
type Result struct {
	Quality  types.QualityVector `json:"quality"`
	Bytes    int                 `json:"bytes" doc:"Encoded frame size"`
	Level    int                 `json:"level" doc:"Level the frame was encoded at"`
	Evicted  bool                `json:"evicted" doc:"Whether a queued frame was evicted"`
	Decision bitrate.Decision    `json:"-"`
}

// Session owns one stream's pipeline. Calls are serialized by a mutex; the
// manager additionally runs them on the session's worker.
type Session struct {
	mu         sync.Mutex
	id         string
	width      int
	height     int
	pipeline   config.Pipeline
	encCfg     encoder.Config
	estimator  *quality.Estimator
	transforms *transform.Chain
	sched      *scheduler.Scheduler
	ctrl       *bitrate.Controller
	sink       sink.Sink
	sinkTarget string
	state      State
	reason     string
	stats      Stats
	last       types.QualityVector
	createdAt  time.Time
	logger     *slog.Logger
	bus        *events.Bus
}

// New starts a session. An invalid pipeline is refused with INVALID_CONFIG.
func New(opts Options) (*Session, error) {
	if opts.Width < quality.MinDimension || opts.Height < quality.MinDimension {
		return nil, types.InvalidConfig("session frame size %dx%d smaller than %dx%d",
			opts.Width, opts.Height, quality.MinDimension, quality.MinDimension)
	}
	p := opts.Pipeline.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	chain, err := transform.Parse(p.Transforms)
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(p.Scheduler())
	if err != nil {
		return nil, err
	}
	ctrl, err := bitrate.New(p.Bitrate(), p.BaseProfile())
	if err != nil {
		return nil, err
	}

	out := opts.Sink
	if out == nil {
		out = sink.Discard{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		id:         opts.ID,
		width:      opts.Width,
		height:     opts.Height,
		pipeline:   p,
		encCfg:     p.Encoder(),
		estimator:  quality.NewEstimator(p.QualityWeights),
		transforms: chain,
		sched:      sched,
		ctrl:       ctrl,
		sink:       out,
		sinkTarget: opts.SinkTarget,
		state:      StateRunning,
		createdAt:  time.Now(),
		logger:     logger.With("session_id", opts.ID),
		bus:        opts.Bus,
	}

	metrics.SetBitrateLevel(s.id, ctrl.Level(), ctrl.Kbps())
	s.bus.Publish(events.SessionStartedEvent{
		SessionID: s.id,
		Width:     s.width,
		Height:    s.height,
		Level:     ctrl.Level(),
		Timestamp: now(),
	})
	s.logger.Info("Session started", "width", s.width, "height", s.height,
		"level", ctrl.Level(), "discipline", sched.Discipline())
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Pipeline returns the active pipeline options.
func (s *Session) Pipeline() config.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline
}

// ProcessFrame runs one frame through transforms, the estimator, the encoder
// at the current level, the scheduler and the bitrate controller. Invalid
// frames are dropped and counted; the session keeps running.
func (s *Session) ProcessFrame(f *types.Frame) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return Result{}, ErrStopped
	}

	if err := s.checkFrame(f); err != nil {
		return Result{}, s.reject(f, err)
	}
	if !s.transforms.Empty() {
		f = cloneFrame(f)
		s.transforms.Apply(f)
	}

	q, err := s.estimator.Estimate(f, s.sched.History())
	if err != nil {
		return Result{}, s.reject(f, err)
	}

	level := s.ctrl.Level()
	enc, err := encoder.Encode(f, q, s.encCfg.WithProfile(s.ctrl.Profile()))
	if err != nil {
		return Result{}, s.reject(f, err)
	}

	it := scheduler.NewItem(enc, q, s.sched.BiologicalOptimization())
	evicted := s.sched.Enqueue(it)
	if evicted != nil {
		s.overflowed(evicted)
	}

	d := s.ctrl.Step(s.sched.History())
	if d.Changed {
		s.levelChanged(d)
	}

	s.stats.FramesProcessed++
	s.stats.BytesEncoded += uint64(enc.Len())
	s.last = q

	metrics.RecordFrameProcessed(s.id, enc.Len())
	metrics.SetQueueDepth(s.id, s.sched.Len())
	metrics.SetQuality(s.id, q.Overall)

	return Result{
		Quality:  q,
		Bytes:    enc.Len(),
		Level:    level,
		Evicted:  evicted != nil,
		Decision: d,
	}, nil
}

func (s *Session) checkFrame(f *types.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Width != s.width || f.Height != s.height {
		return types.InvalidInput("frame is %dx%d, session expects %dx%d", f.Width, f.Height, s.width, s.height)
	}
	return nil
}

func (s *Session) reject(f *types.Frame, err error) error {
	s.stats.FramesInvalid++
	metrics.RecordFrameInvalid(s.id)

	var ts uint64
	if f != nil {
		ts = f.Timestamp
	}
	s.logger.Debug("Dropping invalid frame", "frame_timestamp", ts, "error", err)
	s.bus.Publish(events.FrameRejectedEvent{
		SessionID:      s.id,
		FrameTimestamp: ts,
		Error:          err.Error(),
		Timestamp:      now(),
	})
	return err
}

func (s *Session) overflowed(it *scheduler.Item) {
	s.stats.Overflows++
	metrics.RecordOverflow(s.id)
	s.logger.Debug("Queue overflow", "frame_timestamp", it.Timestamp, "quality", it.Quality,
		"queue_size", s.sched.MaxQueueSize())
	s.bus.Publish(events.QueueOverflowEvent{
		SessionID:      s.id,
		FrameTimestamp: it.Timestamp,
		Quality:        it.Quality,
		Timestamp:      now(),
	})
}

func (s *Session) levelChanged(d bitrate.Decision) {
	s.stats.LevelChanges++
	metrics.SetBitrateLevel(s.id, d.Level, d.Kbps)
	s.logger.Info("Bitrate level changed", "from", d.Previous, "to", d.Level, "kbps", d.Kbps,
		"condition", d.Condition.String(), "q_avg", d.QualityAvg)
	s.bus.Publish(events.LevelChangedEvent{
		SessionID: s.id,
		From:      d.Previous,
		To:        d.Level,
		Kbps:      d.Kbps,
		Timestamp: now(),
	})
}

// EmitNext writes the next scheduled frame to the sink and returns its bytes.
// An empty queue returns an empty slice without blocking. A sink failure is
// FATAL and stops the session.
func (s *Session) EmitNext() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return nil, ErrStopped
	}
	it := s.sched.Dequeue()
	if it == nil {
		return []byte{}, nil
	}
	metrics.SetQueueDepth(s.id, s.sched.Len())

	if err := s.sink.WriteFrame(it.Frame); err != nil {
		fatal := types.NewError(types.CodeFatal, "sink write failed", err)
		s.stop(StateFailed, fatal.Error())
		return nil, fatal
	}

	s.stats.FramesEmitted++
	s.stats.BytesEmitted += uint64(it.Frame.Len())
	metrics.RecordFrameEmitted(s.id)
	return it.Frame.Data, nil
}

// AdaptQuality records a bandwidth measurement in kbps. The controller acts
// on it when the next frame is processed; the returned decision previews
// that evaluation.
func (s *Session) AdaptQuality(bandwidthKbps float64) (bitrate.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return bitrate.Decision{}, ErrStopped
	}
	if err := s.ctrl.SetBandwidth(bandwidthKbps); err != nil {
		return bitrate.Decision{}, err
	}
	metrics.SetBandwidth(s.id, bandwidthKbps)
	return s.ctrl.Preview(s.sched.History()), nil
}

// SetDiscipline switches the scheduling discipline between frames.
func (s *Session) SetDiscipline(name string) error {
	d, err := types.ParseDiscipline(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return ErrStopped
	}
	if err := s.sched.SetDiscipline(d); err != nil {
		return err
	}
	s.pipeline.SchedulingAlgorithm = string(d)
	s.logger.Info("Scheduling discipline changed", "discipline", d)
	return nil
}

// UpdateConfig applies new pipeline options. Options equal to the current
// ones leave every piece of state untouched. Shrinking max_queue_size evicts
// by the overflow rules.
func (s *Session) UpdateConfig(p config.Pipeline) error {
	p = p.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return ErrStopped
	}
	if p.Equal(s.pipeline) {
		return nil
	}
	if err := p.Validate(); err != nil {
		return err
	}
	chain, err := transform.Parse(p.Transforms)
	if err != nil {
		return err
	}
	if err := s.ctrl.Reconfigure(p.Bitrate(), p.BaseProfile()); err != nil {
		return err
	}
	if err := s.sched.SetDiscipline(types.Discipline(p.SchedulingAlgorithm)); err != nil {
		return err
	}
	evicted, err := s.sched.SetMaxQueueSize(p.MaxQueueSize)
	if err != nil {
		return err
	}
	for _, it := range evicted {
		s.overflowed(it)
	}
	s.sched.SetBiologicalOptimization(p.BiologicalOptimization)
	s.sched.History().Resize(p.HistorySize)

	s.encCfg = p.Encoder()
	s.estimator = quality.NewEstimator(p.QualityWeights)
	s.transforms = chain
	s.pipeline = p

	metrics.SetBitrateLevel(s.id, s.ctrl.Level(), s.ctrl.Kbps())
	metrics.SetQueueDepth(s.id, s.sched.Len())
	s.logger.Info("Session configuration updated", "level", s.ctrl.Level(),
		"discipline", s.sched.Discipline(), "max_queue_size", p.MaxQueueSize)
	return nil
}

// Stop discards queued frames, closes the sink and marks the session
// stopped. Stopping a stopped session has no effect.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return nil
	}
	return s.stop(StateStopped, "stopped")
}

func (s *Session) stop(state State, reason string) error {
	dropped := s.sched.Clear()
	s.state = state
	s.reason = reason
	err := s.sink.Close()
	metrics.SetQueueDepth(s.id, 0)

	fatal := state == StateFailed
	if fatal {
		s.logger.Error("Session failed", "reason", reason, "dropped", dropped)
	} else {
		s.logger.Info("Session stopped", "dropped", dropped)
	}
	s.bus.Publish(events.SessionStoppedEvent{
		SessionID: s.id,
		Reason:    reason,
		Fatal:     fatal,
		Timestamp: now(),
	})
	return err
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ID:            s.id,
		State:         s.state,
		Reason:        s.reason,
		Width:         s.width,
		Height:        s.height,
		Sink:          s.sinkTarget,
		Discipline:    s.sched.Discipline(),
		Level:         s.ctrl.Level(),
		Kbps:          s.ctrl.Kbps(),
		BandwidthKbps: s.ctrl.Bandwidth(),
		QueueDepth:    s.sched.Len(),
		LastQuality:   s.last,
		Stats:         s.stats,
		CreatedAt:     s.createdAt,
	}
	if src, ok := s.sink.(interface{ SSRC() uint32 }); ok {
		st.SSRC = src.SSRC()
	}
	return st
}

// Decoders returns one encoder configuration per bitrate level, in ladder
// order, for decoding this session's output.
func (s *Session) Decoders() []encoder.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles := s.ctrl.Profiles()
	out := make([]encoder.Config, len(profiles))
	for i, p := range profiles {
		out[i] = s.encCfg.WithProfile(p)
	}
	return out
}

func cloneFrame(f *types.Frame) *types.Frame {
	c := *f
	c.Pix = append([]float64(nil), f.Pix...)
	return &c
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
