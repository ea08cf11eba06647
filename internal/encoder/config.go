// Package encoder implements the foveated region encoder and its stream format.
package encoder

import (
	"github.com/smazurov/foveanode/internal/types"
)

// StrideRule selects which samples a compressed region retains.
type StrideRule string

// Stride rules. Both retain exactly ceil(pixels*ratio) samples; they differ in
// which positions survive.
const (
	// StrideCeilInverseDrop discards samples at an even stride of about
	// 1/(1-ratio), ending each stride with a dropped sample.
	StrideCeilInverseDrop StrideRule = "ceil_inverse_drop"
	// StrideFloorInverseKeep keeps samples at an even stride of about 1/ratio,
	// starting with the first.
	StrideFloorInverseKeep StrideRule = "floor_inverse_keep"
)

// Config controls region derivation and compression.
type Config struct {
	FovealRadius          float64    `toml:"foveal_radius" json:"foveal_radius"`
	PeripheralCompression float64    `toml:"peripheral_compression" json:"peripheral_compression"`
	QualityFalloff        float64    `toml:"quality_falloff" json:"quality_falloff"`
	Regions               int        `toml:"encoding_regions" json:"encoding_regions"`
	RadiusScale           float64    `toml:"radius_scale" json:"radius_scale"`
	StrideRule            StrideRule `toml:"stride_rule" json:"stride_rule"`
}

// LevelProfile overrides compression parameters for one bitrate level.
type LevelProfile struct {
	PeripheralCompression float64 `toml:"peripheral_compression" json:"peripheral_compression"`
	QualityFalloff        float64 `toml:"quality_falloff" json:"quality_falloff"`
}

// DefaultConfig returns the encoder defaults.
func DefaultConfig() Config {
	return Config{
		FovealRadius:          2.0,
		PeripheralCompression: 0.5,
		QualityFalloff:        0.8,
		Regions:               3,
		StrideRule:            StrideCeilInverseDrop,
	}
}

// WithProfile returns a copy of c using the profile's compression parameters.
func (c Config) WithProfile(p LevelProfile) Config {
	c.PeripheralCompression = p.PeripheralCompression
	c.QualityFalloff = p.QualityFalloff
	return c
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.Regions <= 0 {
		return types.InvalidConfig("encoding_regions must be at least 1, got %d", c.Regions)
	}
	if c.Regions > 255 {
		return types.InvalidConfig("encoding_regions must fit in a byte, got %d", c.Regions)
	}
	if !types.IsFinite(c.FovealRadius) || c.FovealRadius <= 0 {
		return types.InvalidConfig("foveal_radius must be positive, got %v", c.FovealRadius)
	}
	if !types.IsFinite(c.RadiusScale) || c.RadiusScale < 0 {
		return types.InvalidConfig("radius_scale must be non-negative, got %v", c.RadiusScale)
	}
	if err := (LevelProfile{
		PeripheralCompression: c.PeripheralCompression,
		QualityFalloff:        c.QualityFalloff,
	}).Validate(); err != nil {
		return err
	}
	switch c.StrideRule {
	case StrideCeilInverseDrop, StrideFloorInverseKeep:
	default:
		return types.InvalidConfig("unknown stride_rule %q", c.StrideRule)
	}
	return nil
}

// Validate checks the profile ranges. Falloff must lie strictly inside (0,1)
// so every region's quality is positive and below the previous one.
func (p LevelProfile) Validate() error {
	if !types.IsFinite(p.PeripheralCompression) || p.PeripheralCompression < 0 || p.PeripheralCompression > 1 {
		return types.InvalidConfig("peripheral_compression must be in [0,1], got %v", p.PeripheralCompression)
	}
	if !types.IsFinite(p.QualityFalloff) || p.QualityFalloff <= 0 || p.QualityFalloff >= 1 {
		return types.InvalidConfig("quality_falloff must be in (0,1), got %v", p.QualityFalloff)
	}
	return nil
}
