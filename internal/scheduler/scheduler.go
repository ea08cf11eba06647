// Package scheduler implements the bounded frame queue that orders encoded
// frames for emission.
package scheduler

import (
	"github.com/smazurov/foveanode/internal/encoder"
	"github.com/smazurov/foveanode/internal/quality"
	"github.com/smazurov/foveanode/internal/types"
)

const (
	// DefaultMaxQueueSize is the default queue bound.
	DefaultMaxQueueSize = 100
	// adaptiveThreshold switches the adaptive discipline between quality and
	// biological ordering.
	adaptiveThreshold = 0.6
)

// Config controls queue bounds and ordering.
type Config struct {
	MaxQueueSize           int
	Discipline             types.Discipline
	BiologicalOptimization bool
	HistorySize            int
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:           DefaultMaxQueueSize,
		Discipline:             types.DisciplineBiological,
		BiologicalOptimization: true,
		HistorySize:            quality.DefaultHistorySize,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxQueueSize <= 0 {
		return types.InvalidConfig("max_queue_size must be at least 1, got %d", c.MaxQueueSize)
	}
	if _, err := types.ParseDiscipline(string(c.Discipline)); err != nil {
		return err
	}
	if c.HistorySize < 0 {
		return types.InvalidConfig("history_size must not be negative, got %d", c.HistorySize)
	}
	return nil
}

// Item is an encoded frame waiting for emission.
type Item struct {
	Frame            *encoder.EncodedFrame
	Priority         types.Priority
	Quality          float64
	Timestamp        uint64
	BiologicalWeight float64

	seq uint64
}

// NewItem classifies an encoded frame. The biological weight is the clamped
// quality sum under the default weights, whatever quality_weights the
// estimator uses for overall, or 1 when biological optimization is off.
func NewItem(frame *encoder.EncodedFrame, q types.QualityVector, biological bool) *Item {
	bw := 1.0
	if biological {
		bw = types.DefaultWeights().Apply(q)
	}
	overall := types.Clamp01(q.Overall)
	var ts uint64
	if frame != nil {
		ts = frame.Timestamp
	}
	return &Item{
		Frame:            frame,
		Priority:         types.ClassifyPriority(overall),
		Quality:          overall,
		Timestamp:        ts,
		BiologicalWeight: bw,
	}
}

// Seq returns the insertion index assigned by the scheduler.
func (it *Item) Seq() uint64 {
	return it.seq
}

// Scheduler is a bounded queue ordered by the active discipline. It is owned
// by a single session worker and is not safe for concurrent use.
type Scheduler struct {
	cfg       Config
	items     []*Item
	history   *quality.History
	nextSeq   uint64
	overflows uint64
}

// New creates a scheduler.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		cfg:     cfg,
		items:   make([]*Item, 0, min(cfg.MaxQueueSize, DefaultMaxQueueSize)),
		history: quality.NewHistory(cfg.HistorySize),
	}, nil
}

// Enqueue adds it to the queue and records its quality in the history. When
// the queue is over its bound the lowest keyed frame, possibly it, is evicted
// and returned.
func (s *Scheduler) Enqueue(it *Item) *Item {
	it.seq = s.nextSeq
	s.nextSeq++
	s.items = append(s.items, it)
	s.history.Push(it.Quality)

	if len(s.items) <= s.cfg.MaxQueueSize {
		return nil
	}
	s.overflows++
	return s.evict()
}

// Dequeue removes and returns the highest keyed frame, or nil when empty.
func (s *Scheduler) Dequeue() *Item {
	if len(s.items) == 0 {
		return nil
	}
	key := s.keyer()
	best := 0
	for i := 1; i < len(s.items); i++ {
		if emitsBefore(key, s.items[i], s.items[best]) {
			best = i
		}
	}
	return s.removeAt(best)
}

// Peek returns the frame Dequeue would return without removing it.
func (s *Scheduler) Peek() *Item {
	if len(s.items) == 0 {
		return nil
	}
	key := s.keyer()
	best := s.items[0]
	for _, it := range s.items[1:] {
		if emitsBefore(key, it, best) {
			best = it
		}
	}
	return best
}

// Len returns the queue length.
func (s *Scheduler) Len() int {
	return len(s.items)
}

// MaxQueueSize returns the queue bound.
func (s *Scheduler) MaxQueueSize() int {
	return s.cfg.MaxQueueSize
}

// Discipline returns the active discipline.
func (s *Scheduler) Discipline() types.Discipline {
	return s.cfg.Discipline
}

// SetDiscipline switches the ordering for subsequent operations.
func (s *Scheduler) SetDiscipline(d types.Discipline) error {
	d, err := types.ParseDiscipline(string(d))
	if err != nil {
		return err
	}
	s.cfg.Discipline = d
	return nil
}

// SetBiologicalOptimization toggles the biological weighting of new items.
func (s *Scheduler) SetBiologicalOptimization(on bool) {
	s.cfg.BiologicalOptimization = on
}

// BiologicalOptimization reports whether new items are biologically weighted.
func (s *Scheduler) BiologicalOptimization() bool {
	return s.cfg.BiologicalOptimization
}

// SetMaxQueueSize changes the bound. Shrinking evicts frames by the overflow
// rules; the evicted frames are returned.
func (s *Scheduler) SetMaxQueueSize(n int) ([]*Item, error) {
	if n <= 0 {
		return nil, types.InvalidConfig("max_queue_size must be at least 1, got %d", n)
	}
	s.cfg.MaxQueueSize = n
	var evicted []*Item
	for len(s.items) > n {
		s.overflows++
		evicted = append(evicted, s.evict())
	}
	return evicted, nil
}

// Clear discards every queued frame and returns how many were dropped.
// The history is kept.
func (s *Scheduler) Clear() int {
	n := len(s.items)
	clear(s.items)
	s.items = s.items[:0]
	return n
}

// History returns the rolling quality history.
func (s *Scheduler) History() *quality.History {
	return s.history
}

// Overflows returns the number of frames evicted for exceeding the bound.
func (s *Scheduler) Overflows() uint64 {
	return s.overflows
}

// Key returns the ordering key of it under the active discipline.
func (s *Scheduler) Key(it *Item) float64 {
	return s.keyer()(it)
}

// keyer resolves the discipline, and the Adaptive history mean, once per
// queue scan.
func (s *Scheduler) keyer() func(*Item) float64 {
	switch s.cfg.Discipline {
	case types.DisciplineFIFO:
		return func(*Item) float64 { return 0 }
	case types.DisciplinePriority:
		return func(it *Item) float64 { return it.Priority.Weight() }
	case types.DisciplineAdaptive:
		if s.history.Mean(0, 0.5) < adaptiveThreshold {
			return func(it *Item) float64 { return it.Quality * it.BiologicalWeight }
		}
	}
	return func(it *Item) float64 { return it.BiologicalWeight * it.Priority.Weight() }
}

// emitsBefore orders by key descending, then timestamp, then insertion.
func emitsBefore(key func(*Item) float64, a, b *Item) bool {
	ka, kb := key(a), key(b)
	if ka != kb {
		return ka > kb
	}
	return older(a, b)
}

// evict removes the lowest keyed frame, the oldest among equals.
func (s *Scheduler) evict() *Item {
	key := s.keyer()
	worst := 0
	for i := 1; i < len(s.items); i++ {
		a, b := s.items[i], s.items[worst]
		ka, kb := key(a), key(b)
		if ka < kb || (ka == kb && older(a, b)) {
			worst = i
		}
	}
	return s.removeAt(worst)
}

func older(a, b *Item) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.seq < b.seq
}

func (s *Scheduler) removeAt(i int) *Item {
	it := s.items[i]
	copy(s.items[i:], s.items[i+1:])
	s.items[len(s.items)-1] = nil
	s.items = s.items[:len(s.items)-1]
	return it
}
