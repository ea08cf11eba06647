// Package bitrate selects the encoding level from quality history and
// measured network bandwidth.
package bitrate

import (
	"fmt"
	"math"
	"slices"

	"github.com/smazurov/foveanode/internal/encoder"
	"github.com/smazurov/foveanode/internal/quality"
	"github.com/smazurov/foveanode/internal/types"
)

// Thresholds of the level selection rule.
const (
	downQuality  = 0.5
	downHeadroom = 1.1
	upQuality    = 0.8
	upHeadroom   = 1.5

	// emptyHistoryQuality is assumed when no frame has been scored yet.
	emptyHistoryQuality = 0.5
)

// Condition is the outcome of evaluating one frame.
type Condition int

// Conditions.
const (
	Hold Condition = iota
	Down
	Up
)

func (c Condition) String() string {
	switch c {
	case Down:
		return "down"
	case Up:
		return "up"
	default:
		return "hold"
	}
}

// Config describes the ladder and adaptation behavior.
type Config struct {
	Ladder        []int                  `toml:"bitrate_ladder" json:"bitrate_ladder"`
	Window        int                    `toml:"adaptation_window" json:"adaptation_window"`
	InitialLevel  int                    `toml:"initial_level" json:"initial_level"`
	DampingFrames int                    `toml:"damping_frames" json:"damping_frames"`
	Profiles      []encoder.LevelProfile `toml:"level_profiles" json:"level_profiles,omitempty"`
}

// DefaultLadder returns the default kbps ladder.
func DefaultLadder() []int {
	return []int{500, 1500, 3000, 5000, 8000}
}

// DefaultConfig returns the controller defaults. InitialLevel -1 selects the
// middle of the ladder.
func DefaultConfig() Config {
	return Config{
		Ladder:        DefaultLadder(),
		Window:        10,
		InitialLevel:  -1,
		DampingFrames: 3,
	}
}

// Start returns the level a new controller begins at.
func (c Config) Start() int {
	if c.InitialLevel < 0 {
		return len(c.Ladder) / 2
	}
	return c.InitialLevel
}

// Validate checks the ladder and window settings.
func (c Config) Validate() error {
	if err := ValidateLadder(c.Ladder); err != nil {
		return err
	}
	if c.Window <= 0 {
		return types.InvalidConfig("adaptation_window must be at least 1, got %d", c.Window)
	}
	if c.DampingFrames <= 0 {
		return types.InvalidConfig("damping_frames must be at least 1, got %d", c.DampingFrames)
	}
	if c.InitialLevel >= len(c.Ladder) {
		return types.InvalidConfig("initial_level %d outside ladder of %d levels", c.InitialLevel, len(c.Ladder))
	}
	if len(c.Profiles) != 0 && len(c.Profiles) != len(c.Ladder) {
		return types.InvalidConfig("level_profiles has %d entries for %d ladder levels", len(c.Profiles), len(c.Ladder))
	}
	for i, p := range c.Profiles {
		if err := p.Validate(); err != nil {
			return types.NewError(types.CodeInvalidConfig, fmt.Sprintf("level_profiles[%d]", i), err)
		}
	}
	return nil
}

// ValidateLadder requires a non-empty, strictly increasing, positive ladder.
func ValidateLadder(ladder []int) error {
	if len(ladder) == 0 {
		return types.InvalidConfig("bitrate_ladder must not be empty")
	}
	if len(ladder) > 255 {
		return types.InvalidConfig("bitrate_ladder has %d levels, at most 255 allowed", len(ladder))
	}
	for i, kbps := range ladder {
		if kbps <= 0 {
			return types.InvalidConfig("bitrate_ladder[%d] must be positive, got %d", i, kbps)
		}
		if i > 0 && kbps <= ladder[i-1] {
			return types.InvalidConfig("bitrate_ladder must be strictly increasing, %d follows %d", kbps, ladder[i-1])
		}
	}
	return nil
}

// DeriveProfiles builds a profile per level around base, which applies at the
// initial level. Lower levels compress harder and fall off faster.
func DeriveProfiles(base encoder.LevelProfile, levels, initial int) []encoder.LevelProfile {
	out := make([]encoder.LevelProfile, levels)
	for i := range out {
		if i == initial {
			out[i] = base
			continue
		}
		steps := float64(initial - i)
		out[i] = encoder.LevelProfile{
			PeripheralCompression: clamp(base.PeripheralCompression+steps*0.1, 0, 0.95),
			QualityFalloff:        clamp(base.QualityFalloff-steps*0.05, 0.05, 0.95),
		}
	}
	return out
}

// Decision reports the outcome of one controller step.
type Decision struct {
	Previous   int
	Level      int
	Kbps       int
	Changed    bool
	Condition  Condition
	QualityAvg float64
	Headroom   float64
}

// Controller walks the ladder one level at a time. Like the scheduler it is
// owned by a single session worker.
type Controller struct {
	cfg       Config
	profiles  []encoder.LevelProfile
	level     int
	bandwidth float64
	pending   Condition
	streak    int
}

// New creates a controller. Empty cfg.Profiles are derived from base.
func New(cfg Config, base encoder.LevelProfile) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{level: cfg.Start()}
	c.apply(cfg, base)
	return c, nil
}

// Reconfigure replaces the ladder and profiles, keeping the current level
// when it still exists.
func (c *Controller) Reconfigure(cfg Config, base encoder.LevelProfile) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.apply(cfg, base)
	if c.level >= len(cfg.Ladder) {
		c.level = len(cfg.Ladder) - 1
	}
	c.pending, c.streak = Hold, 0
	return nil
}

func (c *Controller) apply(cfg Config, base encoder.LevelProfile) {
	cfg.Ladder = slices.Clone(cfg.Ladder)
	c.cfg = cfg
	if len(cfg.Profiles) == len(cfg.Ladder) {
		c.profiles = slices.Clone(cfg.Profiles)
	} else {
		c.profiles = DeriveProfiles(base, len(cfg.Ladder), cfg.Start())
	}
}

// SetBandwidth records the latest measured bandwidth in kbps. Zero means
// unknown.
func (c *Controller) SetBandwidth(kbps float64) error {
	if !types.IsFinite(kbps) || kbps < 0 {
		return types.InvalidInput("bandwidth must be a finite non-negative number, got %v", kbps)
	}
	c.bandwidth = kbps
	return nil
}

// Bandwidth returns the last recorded bandwidth in kbps.
func (c *Controller) Bandwidth() float64 {
	return c.bandwidth
}

// Level returns the current ladder index.
func (c *Controller) Level() int {
	return c.level
}

// Kbps returns the bitrate of the current level.
func (c *Controller) Kbps() int {
	return c.cfg.Ladder[c.level]
}

// Levels returns the number of ladder levels.
func (c *Controller) Levels() int {
	return len(c.cfg.Ladder)
}

// Profile returns the encoder profile of the current level.
func (c *Controller) Profile() encoder.LevelProfile {
	return c.profiles[c.level]
}

// Profiles returns a copy of the per-level profile table.
func (c *Controller) Profiles() []encoder.LevelProfile {
	return slices.Clone(c.profiles)
}

// Headroom returns bandwidth over the current level bitrate, or +Inf when
// the bandwidth is unknown.
func (c *Controller) Headroom() float64 {
	if c.bandwidth <= 0 {
		return math.Inf(1)
	}
	return c.bandwidth / float64(c.Kbps())
}

// Evaluate applies the selection rule to an average quality and headroom.
func Evaluate(qAvg, headroom float64) Condition {
	switch {
	case qAvg < downQuality || headroom < downHeadroom:
		return Down
	case qAvg > upQuality && headroom > upHeadroom:
		return Up
	default:
		return Hold
	}
}

// Preview evaluates the rule against history without advancing damping.
func (c *Controller) Preview(history *quality.History) Decision {
	d := Decision{
		Previous:   c.level,
		Level:      c.level,
		Kbps:       c.Kbps(),
		QualityAvg: history.Mean(c.cfg.Window, emptyHistoryQuality),
		Headroom:   c.Headroom(),
	}
	d.Condition = Evaluate(d.QualityAvg, d.Headroom)
	return d
}

// Step evaluates one frame against the history and moves at most one level
// once the same condition has held for the damping period.
func (c *Controller) Step(history *quality.History) Decision {
	d := Decision{
		Previous:   c.level,
		QualityAvg: history.Mean(c.cfg.Window, emptyHistoryQuality),
		Headroom:   c.Headroom(),
	}
	d.Condition = Evaluate(d.QualityAvg, d.Headroom)

	if d.Condition == Hold || d.Condition != c.pending {
		c.pending = d.Condition
		c.streak = 0
	}
	if d.Condition != Hold {
		c.streak++
	}

	if c.streak >= c.cfg.DampingFrames {
		next := c.level
		if d.Condition == Down {
			next = max(0, c.level-1)
		} else {
			next = min(len(c.cfg.Ladder)-1, c.level+1)
		}
		c.streak = 0
		if next != c.level {
			c.level = next
			d.Changed = true
		}
	}

	d.Level = c.level
	d.Kbps = c.Kbps()
	return d
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
