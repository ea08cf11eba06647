package types

import (
	"fmt"
	"strings"
)

// QualityVector holds per-frame perceptual scores, each in [0,1].
type QualityVector struct {
	Foveal             float64 `json:"foveal" doc:"Mean intensity over the central disc"`
	Peripheral         float64 `json:"peripheral" doc:"Mean intensity outside half the half-diagonal"`
	Motion             float64 `json:"motion" doc:"One minus mean 3x3 local variance"`
	Color              float64 `json:"color" doc:"Mid-range richness, mean of v(1-v)"`
	Temporal           float64 `json:"temporal" doc:"Consistency with the previous overall score"`
	BiologicalAccuracy float64 `json:"biological_accuracy" doc:"Reported only, not weighted"`
	Overall            float64 `json:"overall" doc:"Clamped weighted sum"`
}

// Weights are the coefficients of the overall quality score.
type Weights struct {
	Foveal     float64 `toml:"foveal" json:"foveal"`
	Peripheral float64 `toml:"peripheral" json:"peripheral"`
	Motion     float64 `toml:"motion" json:"motion"`
	Color      float64 `toml:"color" json:"color"`
	Temporal   float64 `toml:"temporal" json:"temporal"`
}

// DefaultWeights returns 0.4/0.2/0.2/0.1/0.1.
func DefaultWeights() Weights {
	return Weights{
		Foveal:     0.4,
		Peripheral: 0.2,
		Motion:     0.2,
		Color:      0.1,
		Temporal:   0.1,
	}
}

// Apply returns the clamped weighted sum of the weighted components of q.
func (w Weights) Apply(q QualityVector) float64 {
	return Clamp01(w.Foveal*q.Foveal +
		w.Peripheral*q.Peripheral +
		w.Motion*q.Motion +
		w.Color*q.Color +
		w.Temporal*q.Temporal)
}

// Validate rejects negative or non-finite weights.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"foveal":     w.Foveal,
		"peripheral": w.Peripheral,
		"motion":     w.Motion,
		"color":      w.Color,
		"temporal":   w.Temporal,
	} {
		if !IsFinite(v) || v < 0 {
			return InvalidConfig("quality weight %s must be a finite non-negative number, got %v", name, v)
		}
	}
	return nil
}

// Clamp returns q with every component clamped to [0,1].
func (q QualityVector) Clamp() QualityVector {
	return QualityVector{
		Foveal:             Clamp01(q.Foveal),
		Peripheral:         Clamp01(q.Peripheral),
		Motion:             Clamp01(q.Motion),
		Color:              Clamp01(q.Color),
		Temporal:           Clamp01(q.Temporal),
		BiologicalAccuracy: Clamp01(q.BiologicalAccuracy),
		Overall:            Clamp01(q.Overall),
	}
}

// Priority is the scheduling class derived from overall quality.
type Priority int

// Priorities, lowest first.
const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// ClassifyPriority maps an overall quality score to a priority class.
func ClassifyPriority(overall float64) Priority {
	switch {
	case overall >= 0.9:
		return PriorityCritical
	case overall >= 0.7:
		return PriorityHigh
	case overall >= 0.5:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Weight returns the scheduling weight of the priority class.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityCritical:
		return 1.0
	case PriorityHigh:
		return 0.8
	case PriorityMedium:
		return 0.6
	default:
		return 0.4
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Discipline selects how the scheduler orders frames.
type Discipline string

// Scheduling disciplines.
const (
	DisciplineFIFO       Discipline = "fifo"
	DisciplinePriority   Discipline = "priority"
	DisciplineBiological Discipline = "biological"
	DisciplineAdaptive   Discipline = "adaptive"
)

// ParseDiscipline parses a discipline name, case-insensitively.
func ParseDiscipline(s string) (Discipline, error) {
	switch d := Discipline(strings.ToLower(strings.TrimSpace(s))); d {
	case DisciplineFIFO, DisciplinePriority, DisciplineBiological, DisciplineAdaptive:
		return d, nil
	default:
		return "", InvalidConfig("unknown scheduling algorithm %q", s)
	}
}

// Region is one disc of the foveated region table.
type Region struct {
	CenterX          float64 `json:"center_x"`
	CenterY          float64 `json:"center_y"`
	Radius           float64 `json:"radius"`
	Quality          float64 `json:"quality"`
	CompressionRatio float64 `json:"compression_ratio"`
}

func (r Region) String() string {
	return fmt.Sprintf("center=(%.2f,%.2f) r=%.2f q=%.3f ratio=%.3f",
		r.CenterX, r.CenterY, r.Radius, r.Quality, r.CompressionRatio)
}
