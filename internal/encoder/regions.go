package encoder

import (
	"math"

	"github.com/smazurov/foveanode/internal/types"
)

const (
	// minRatio keeps derived compression ratios inside (0,1].
	minRatio = 0.01
	epsilon  = 1e-9
)

// DeriveRegions builds the nested region table for a width x height frame.
func DeriveRegions(width, height int, q types.QualityVector, cfg Config) ([]types.Region, error) {
	if cfg.Regions <= 0 {
		return nil, types.InvalidConfig("encoding_regions must be at least 1, got %d", cfg.Regions)
	}
	if !types.IsFinite(q.Foveal) || q.Foveal < 0 {
		return nil, types.InvalidInput("foveal quality must be finite and non-negative, got %v", q.Foveal)
	}
	if width <= 0 || height <= 0 {
		return nil, types.InvalidInput("frame dimensions must be positive, got %dx%d", width, height)
	}

	cx, cy := float64(width)/2, float64(height)/2
	halfDiag := math.Hypot(float64(width), float64(height)) / 2
	r0 := cfg.FovealRadius * pixelsPerUnit(width, height, cfg)
	foveal := types.Clamp01(q.Foveal)

	if float64(width) < r0 && float64(height) < r0 {
		return []types.Region{{
			CenterX:          cx,
			CenterY:          cy,
			Radius:           math.Max(r0, halfDiag),
			Quality:          foveal,
			CompressionRatio: 1.0,
		}}, nil
	}

	regions := make([]types.Region, cfg.Regions)
	for i := range regions {
		regions[i] = types.Region{
			CenterX:          cx,
			CenterY:          cy,
			Radius:           r0 * float64(i+1),
			Quality:          foveal * math.Pow(cfg.QualityFalloff, float64(i)),
			CompressionRatio: compressionRatio(i, cfg.Regions, cfg.PeripheralCompression),
		}
	}
	last := &regions[len(regions)-1]
	last.Radius = math.Max(last.Radius, halfDiag)
	return regions, nil
}

// pixelsPerUnit converts normalized radius units to pixels.
func pixelsPerUnit(width, height int, cfg Config) float64 {
	if cfg.RadiusScale > 0 {
		return cfg.RadiusScale
	}
	return float64(min(width, height)) / 2
}

// compressionRatio returns 1 - i*compression/n clamped to (0,1].
func compressionRatio(i, n int, compression float64) float64 {
	if i == 0 {
		return 1.0
	}
	r := 1 - float64(i)*compression/float64(n)
	switch {
	case r > 1:
		return 1
	case r < minRatio:
		return minRatio
	default:
		return r
	}
}

// RegionIndices returns the row-major sample indices inside the region disc.
func RegionIndices(width, height int, r types.Region) []int {
	var idx []int
	for y := range height {
		for x := range width {
			if types.PixelDistance(x, y, r.CenterX, r.CenterY) <= r.Radius {
				idx = append(idx, y*width+x)
			}
		}
	}
	return idx
}

// RegionPixelCount returns the number of samples inside the region disc.
func RegionPixelCount(width, height int, r types.Region) int {
	n := 0
	for y := range height {
		for x := range width {
			if types.PixelDistance(x, y, r.CenterX, r.CenterY) <= r.Radius {
				n++
			}
		}
	}
	return n
}

// RetainedCount returns ceil(n*ratio), or n when ratio is 1.
func RetainedCount(n int, ratio float64) int {
	if ratio >= 1 {
		return n
	}
	m := int(math.Ceil(float64(n)*ratio - epsilon))
	return max(0, min(m, n))
}

// retainedPositions returns the RetainedCount(n, ratio) positions within a
// region of length n that survive compression, in ascending order and spread
// over the whole region. StrideFloorInverseKeep places the kept samples
// evenly starting at 0. StrideCeilInverseDrop places the discarded samples
// evenly, each at the end of its block, so the last sample is dropped first.
func retainedPositions(n int, ratio float64, rule StrideRule) []int {
	m := RetainedCount(n, ratio)
	out := make([]int, 0, m)
	if m == n {
		for i := range n {
			out = append(out, i)
		}
		return out
	}

	switch rule {
	case StrideFloorInverseKeep:
		for j := range m {
			out = append(out, j*n/m)
		}
	default:
		d := n - m
		next := 0
		for i := range n {
			if next < d && i == (next+1)*n/d-1 {
				next++
				continue
			}
			out = append(out, i)
		}
	}
	return out
}

// Quantize maps a sample to 8 bits, truncating toward zero.
func Quantize(v float64) byte {
	return byte(types.Clamp01(v)*255 + epsilon)
}
