// Package transform provides per-pixel transforms applied to frames before
// quality estimation.
package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/smazurov/foveanode/internal/types"
)

// Func maps the sample v at column x, row y to a new value.
type Func func(x, y int, v float64) float64

// Factory builds a transform for a frame of the given size from its argument.
type Factory func(width, height int, arg float64) Func

type builtin struct {
	factory    Factory
	defaultArg float64
	validate   func(float64) error
}

var builtins = map[string]builtin{
	"identity": {
		factory: func(_, _ int, _ float64) Func {
			return func(_, _ int, v float64) float64 { return v }
		},
	},
	"gamma": {
		factory: func(_, _ int, g float64) Func {
			return func(_, _ int, v float64) float64 {
				return math.Pow(types.Clamp01(v), g)
			}
		},
		defaultArg: 1,
		validate:   positive,
	},
	"contrast": {
		factory: func(_, _ int, k float64) Func {
			return func(_, _ int, v float64) float64 {
				return types.Clamp01((v-0.5)*k + 0.5)
			}
		},
		defaultArg: 1,
		validate:   nonNegative,
	},
	"vignette": {
		factory: func(width, height int, s float64) Func {
			cx, cy := float64(width)/2, float64(height)/2
			halfDiag := math.Hypot(float64(width), float64(height)) / 2
			return func(x, y int, v float64) float64 {
				e := types.PixelDistance(x, y, cx, cy) / halfDiag
				return v * (1 - s*e*e)
			}
		},
		defaultArg: 0.3,
		validate:   unit,
	},
}

// Names returns the built-in transform names.
func Names() []string {
	return []string{"identity", "gamma", "contrast", "vignette"}
}

// Step is one parsed chain entry.
type Step struct {
	Name string
	Arg  float64
}

func (s Step) String() string {
	return fmt.Sprintf("%s:%g", s.Name, s.Arg)
}

// Chain is an ordered list of transforms.
type Chain struct {
	steps []Step
}

// Parse parses entries of the form "name" or "name:arg".
func Parse(entries []string) (*Chain, error) {
	c := &Chain{}
	for _, entry := range entries {
		name, argStr, hasArg := strings.Cut(strings.TrimSpace(entry), ":")
		name = strings.ToLower(name)
		b, ok := builtins[name]
		if !ok {
			return nil, types.InvalidConfig("unknown transform %q", name)
		}
		arg := b.defaultArg
		if hasArg {
			v, err := strconv.ParseFloat(argStr, 64)
			if err != nil || !types.IsFinite(v) {
				return nil, types.InvalidConfig("transform %s: invalid argument %q", name, argStr)
			}
			arg = v
		}
		if b.validate != nil {
			if err := b.validate(arg); err != nil {
				return nil, types.NewError(types.CodeInvalidConfig, "transform "+name, err)
			}
		}
		c.steps = append(c.steps, Step{Name: name, Arg: arg})
	}
	return c, nil
}

// Steps returns the parsed chain.
func (c *Chain) Steps() []Step {
	if c == nil {
		return nil
	}
	return append([]Step(nil), c.steps...)
}

// Empty reports whether the chain has no steps.
func (c *Chain) Empty() bool {
	return c == nil || len(c.steps) == 0
}

// Apply runs every step over f in place.
func (c *Chain) Apply(f *types.Frame) {
	if c.Empty() || f == nil {
		return
	}
	for _, s := range c.steps {
		fn := builtins[s.Name].factory(f.Width, f.Height, s.Arg)
		for y := range f.Height {
			for x := range f.Width {
				i := y*f.Width + x
				f.Pix[i] = fn(x, y, f.Pix[i])
			}
		}
	}
}

func positive(v float64) error {
	if v <= 0 {
		return fmt.Errorf("argument must be positive, got %v", v)
	}
	return nil
}

func nonNegative(v float64) error {
	if v < 0 {
		return fmt.Errorf("argument must not be negative, got %v", v)
	}
	return nil
}

func unit(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("argument must be in [0,1], got %v", v)
	}
	return nil
}
