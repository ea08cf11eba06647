// Package quality estimates perceptual frame quality from simple image statistics.
package quality

import (
	"math"

	"github.com/smazurov/foveanode/internal/types"
)

// MinDimension is the smallest accepted frame width and height.
const MinDimension = 3

// Estimator computes a QualityVector for a frame. It holds no mutable state.
type Estimator struct {
	weights types.Weights
}

// NewEstimator creates an estimator using the given overall-score weights.
func NewEstimator(weights types.Weights) *Estimator {
	return &Estimator{weights: weights}
}

// Estimate scores the frame. history is only read, for the temporal component.
func (e *Estimator) Estimate(f *types.Frame, history *History) (types.QualityVector, error) {
	if f == nil {
		return types.QualityVector{}, types.InvalidInput("nil frame")
	}
	if f.Width < MinDimension || f.Height < MinDimension {
		return types.QualityVector{}, types.InvalidInput("frame %dx%d smaller than %dx%d",
			f.Width, f.Height, MinDimension, MinDimension)
	}
	if err := f.Validate(); err != nil {
		return types.QualityVector{}, err
	}

	q := types.QualityVector{
		Foveal:             fovealScore(f),
		Peripheral:         peripheralScore(f),
		Motion:             motionScore(f),
		Color:              colorScore(f),
		Temporal:           temporalScore(history),
		BiologicalAccuracy: biologicalAccuracy(f),
	}
	q = q.Clamp()
	q.Overall = e.weights.Apply(q)
	return q, nil
}

// fovealScore is the mean over the central disc of radius min(H,W)/4.
func fovealScore(f *types.Frame) float64 {
	cx, cy := f.Center()
	radius := float64(min(f.Width, f.Height)) / 4
	var sum float64
	var n int
	for y := range f.Height {
		for x := range f.Width {
			if types.PixelDistance(x, y, cx, cy) <= radius {
				sum += f.At(x, y)
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return types.Clamp01(sum / float64(n))
}

// peripheralScore is the mean over pixels farther than a quarter of the diagonal.
func peripheralScore(f *types.Frame) float64 {
	cx, cy := f.Center()
	threshold := f.HalfDiagonal() * 0.5
	var sum float64
	var n int
	for y := range f.Height {
		for x := range f.Width {
			if types.PixelDistance(x, y, cx, cy) > threshold {
				sum += f.At(x, y)
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return types.Clamp01(sum / float64(n))
}

// motionScore is one minus the mean 3x3 neighborhood variance over interior pixels.
func motionScore(f *types.Frame) float64 {
	var total float64
	var n int
	for y := 1; y < f.Height-1; y++ {
		for x := 1; x < f.Width-1; x++ {
			var sum, sumSq float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					v := f.At(x+dx, y+dy)
					sum += v
					sumSq += v * v
				}
			}
			mean := sum / 9
			total += math.Abs(sumSq/9 - mean*mean)
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return types.Clamp01(1 - total/float64(n))
}

// colorScore rewards mid-range intensities.
func colorScore(f *types.Frame) float64 {
	var sum float64
	for _, v := range f.Pix {
		sum += v * (1 - v)
	}
	return types.Clamp01(sum / float64(len(f.Pix)))
}

func temporalScore(history *History) float64 {
	last, ok := history.Last()
	if !ok {
		return 0.5
	}
	return types.Clamp01(1 - 2*math.Abs(last-0.5))
}

func biologicalAccuracy(f *types.Frame) float64 {
	var sum float64
	for _, v := range f.Pix {
		switch {
		case v > 0.1 && v < 0.9:
			sum += 1.0
		case v > 0.05 && v < 0.95:
			sum += 0.8
		default:
			sum += 0.5
		}
	}
	return sum / float64(len(f.Pix))
}
