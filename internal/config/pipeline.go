package config

import (
	"bytes"
	"fmt"
	"os"
	"reflect"
	"slices"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/foveanode/internal/bitrate"
	"github.com/smazurov/foveanode/internal/encoder"
	"github.com/smazurov/foveanode/internal/quality"
	"github.com/smazurov/foveanode/internal/scheduler"
	"github.com/smazurov/foveanode/internal/transform"
	"github.com/smazurov/foveanode/internal/types"
)

// Pipeline holds every per-session processing option. It is read from
// pipeline.toml and may be overridden per session.
type Pipeline struct {
	FovealRadius           float64                `toml:"foveal_radius" json:"foveal_radius"`
	PeripheralCompression  float64                `toml:"peripheral_compression" json:"peripheral_compression"`
	QualityFalloff         float64                `toml:"quality_falloff" json:"quality_falloff"`
	EncodingRegions        int                    `toml:"encoding_regions" json:"encoding_regions"`
	RadiusScale            float64                `toml:"radius_scale" json:"radius_scale"`
	StrideRule             string                 `toml:"stride_rule" json:"stride_rule"`
	MaxQueueSize           int                    `toml:"max_queue_size" json:"max_queue_size"`
	SchedulingAlgorithm    string                 `toml:"scheduling_algorithm" json:"scheduling_algorithm"`
	BiologicalOptimization bool                   `toml:"biological_optimization" json:"biological_optimization"`
	HistorySize            int                    `toml:"history_size" json:"history_size"`
	BitrateLadder          []int                  `toml:"bitrate_ladder" json:"bitrate_ladder"`
	AdaptationWindow       int                    `toml:"adaptation_window" json:"adaptation_window"`
	InitialLevel           int                    `toml:"initial_level" json:"initial_level"`
	DampingFrames          int                    `toml:"damping_frames" json:"damping_frames"`
	LevelProfiles          []encoder.LevelProfile `toml:"level_profiles,omitempty" json:"level_profiles,omitempty"`
	QualityWeights         types.Weights          `toml:"quality_weights" json:"quality_weights"`
	Transforms             []string               `toml:"transforms" json:"transforms"`
}

// DefaultPipeline returns the built-in pipeline options.
func DefaultPipeline() Pipeline {
	enc := encoder.DefaultConfig()
	sched := scheduler.DefaultConfig()
	br := bitrate.DefaultConfig()
	return Pipeline{
		FovealRadius:           enc.FovealRadius,
		PeripheralCompression:  enc.PeripheralCompression,
		QualityFalloff:         enc.QualityFalloff,
		EncodingRegions:        enc.Regions,
		RadiusScale:            enc.RadiusScale,
		StrideRule:             string(enc.StrideRule),
		MaxQueueSize:           sched.MaxQueueSize,
		SchedulingAlgorithm:    string(sched.Discipline),
		BiologicalOptimization: sched.BiologicalOptimization,
		HistorySize:            quality.DefaultHistorySize,
		BitrateLadder:          br.Ladder,
		AdaptationWindow:       br.Window,
		InitialLevel:           br.InitialLevel,
		DampingFrames:          br.DampingFrames,
		QualityWeights:         types.DefaultWeights(),
	}
}

// Encoder returns the encoder configuration.
func (p Pipeline) Encoder() encoder.Config {
	return encoder.Config{
		FovealRadius:          p.FovealRadius,
		PeripheralCompression: p.PeripheralCompression,
		QualityFalloff:        p.QualityFalloff,
		Regions:               p.EncodingRegions,
		RadiusScale:           p.RadiusScale,
		StrideRule:            encoder.StrideRule(p.StrideRule),
	}
}

// BaseProfile returns the compression parameters of the initial level.
func (p Pipeline) BaseProfile() encoder.LevelProfile {
	return encoder.LevelProfile{
		PeripheralCompression: p.PeripheralCompression,
		QualityFalloff:        p.QualityFalloff,
	}
}

// Scheduler returns the scheduler configuration.
func (p Pipeline) Scheduler() scheduler.Config {
	return scheduler.Config{
		MaxQueueSize:           p.MaxQueueSize,
		Discipline:             types.Discipline(p.SchedulingAlgorithm),
		BiologicalOptimization: p.BiologicalOptimization,
		HistorySize:            p.HistorySize,
	}
}

// Bitrate returns the bitrate controller configuration.
func (p Pipeline) Bitrate() bitrate.Config {
	return bitrate.Config{
		Ladder:        slices.Clone(p.BitrateLadder),
		Window:        p.AdaptationWindow,
		InitialLevel:  p.InitialLevel,
		DampingFrames: p.DampingFrames,
		Profiles:      slices.Clone(p.LevelProfiles),
	}
}

// Validate checks every option. All failures are INVALID_CONFIG.
func (p Pipeline) Validate() error {
	if err := p.Encoder().Validate(); err != nil {
		return err
	}
	d, err := types.ParseDiscipline(p.SchedulingAlgorithm)
	if err != nil {
		return err
	}
	sched := p.Scheduler()
	sched.Discipline = d
	if err := sched.Validate(); err != nil {
		return err
	}
	if err := p.Bitrate().Validate(); err != nil {
		return err
	}
	if err := p.QualityWeights.Validate(); err != nil {
		return err
	}
	if _, err := transform.Parse(p.Transforms); err != nil {
		return err
	}
	return nil
}

// Normalize canonicalizes names so equal configurations compare equal.
func (p Pipeline) Normalize() Pipeline {
	if d, err := types.ParseDiscipline(p.SchedulingAlgorithm); err == nil {
		p.SchedulingAlgorithm = string(d)
	}
	if len(p.Transforms) == 0 {
		p.Transforms = nil
	}
	if len(p.BitrateLadder) == 0 {
		p.BitrateLadder = nil
	}
	if len(p.LevelProfiles) == 0 {
		p.LevelProfiles = nil
	}
	return p
}

// Equal reports whether two pipelines configure identical behavior.
func (p Pipeline) Equal(o Pipeline) bool {
	return reflect.DeepEqual(p.Normalize(), o.Normalize())
}

// Overrides replaces selected pipeline options for one session.
type Overrides struct {
	FovealRadius           *float64 `toml:"foveal_radius,omitempty" json:"foveal_radius,omitempty"`
	PeripheralCompression  *float64 `toml:"peripheral_compression,omitempty" json:"peripheral_compression,omitempty"`
	QualityFalloff         *float64 `toml:"quality_falloff,omitempty" json:"quality_falloff,omitempty"`
	EncodingRegions        *int     `toml:"encoding_regions,omitempty" json:"encoding_regions,omitempty"`
	StrideRule             *string  `toml:"stride_rule,omitempty" json:"stride_rule,omitempty"`
	MaxQueueSize           *int     `toml:"max_queue_size,omitempty" json:"max_queue_size,omitempty"`
	SchedulingAlgorithm    *string  `toml:"scheduling_algorithm,omitempty" json:"scheduling_algorithm,omitempty"`
	BiologicalOptimization *bool    `toml:"biological_optimization,omitempty" json:"biological_optimization,omitempty"`
	BitrateLadder          []int    `toml:"bitrate_ladder,omitempty" json:"bitrate_ladder,omitempty"`
	AdaptationWindow       *int     `toml:"adaptation_window,omitempty" json:"adaptation_window,omitempty"`
	Transforms             []string `toml:"transforms,omitempty" json:"transforms,omitempty"`
}

// Apply returns p with every set override applied.
func (p Pipeline) Apply(o Overrides) Pipeline {
	if o.FovealRadius != nil {
		p.FovealRadius = *o.FovealRadius
	}
	if o.PeripheralCompression != nil {
		p.PeripheralCompression = *o.PeripheralCompression
	}
	if o.QualityFalloff != nil {
		p.QualityFalloff = *o.QualityFalloff
	}
	if o.EncodingRegions != nil {
		p.EncodingRegions = *o.EncodingRegions
	}
	if o.StrideRule != nil {
		p.StrideRule = *o.StrideRule
	}
	if o.MaxQueueSize != nil {
		p.MaxQueueSize = *o.MaxQueueSize
	}
	if o.SchedulingAlgorithm != nil {
		p.SchedulingAlgorithm = *o.SchedulingAlgorithm
	}
	if o.BiologicalOptimization != nil {
		p.BiologicalOptimization = *o.BiologicalOptimization
	}
	if o.BitrateLadder != nil {
		p.BitrateLadder = slices.Clone(o.BitrateLadder)
	}
	if o.AdaptationWindow != nil {
		p.AdaptationWindow = *o.AdaptationWindow
	}
	if o.Transforms != nil {
		p.Transforms = slices.Clone(o.Transforms)
	}
	return p
}

// LoadPipeline reads a pipeline file on top of the defaults and validates it.
func LoadPipeline(path string) (Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("failed to read pipeline config: %w", err)
	}
	return ParsePipeline(data)
}

// ParsePipeline decodes TOML on top of the defaults and validates the result.
func ParsePipeline(data []byte) (Pipeline, error) {
	p := DefaultPipeline()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, types.NewError(types.CodeInvalidConfig, "failed to parse pipeline config", err)
	}
	if err := p.Validate(); err != nil {
		return Pipeline{}, err
	}
	return p.Normalize(), nil
}

// MarshalPipeline encodes p as TOML.
func MarshalPipeline(p Pipeline) ([]byte, error) {
	return toml.Marshal(p)
}
