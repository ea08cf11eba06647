package types

import "math"

// Frame is a grid of intensity samples normalized to [0,1], stored row-major.
type Frame struct {
	Width     int
	Height    int
	Timestamp uint64
	Pix       []float64
}

// NewFrame allocates a zeroed frame.
func NewFrame(width, height int, timestamp uint64) *Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Frame{
		Width:     width,
		Height:    height,
		Timestamp: timestamp,
		Pix:       make([]float64, width*height),
	}
}

// UniformFrame returns a frame with every sample set to v.
func UniformFrame(width, height int, timestamp uint64, v float64) *Frame {
	f := NewFrame(width, height, timestamp)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

// FrameFromBytes converts an 8-bit grayscale buffer using v = byte/255.
func FrameFromBytes(width, height int, timestamp uint64, data []byte) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, InvalidInput("frame dimensions must be positive, got %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, InvalidInput("expected %d bytes for %dx%d frame, got %d", width*height, width, height, len(data))
	}
	f := NewFrame(width, height, timestamp)
	for i, b := range data {
		f.Pix[i] = float64(b) / 255.0
	}
	return f, nil
}

// At returns the sample at column x, row y.
func (f *Frame) At(x, y int) float64 {
	return f.Pix[y*f.Width+x]
}

// Set stores v at column x, row y.
func (f *Frame) Set(x, y int, v float64) {
	f.Pix[y*f.Width+x] = v
}

// Center returns the frame center in frame coordinates.
func (f *Frame) Center() (cx, cy float64) {
	return float64(f.Width) / 2, float64(f.Height) / 2
}

// HalfDiagonal returns half the length of the frame diagonal.
func (f *Frame) HalfDiagonal() float64 {
	return math.Hypot(float64(f.Width), float64(f.Height)) / 2
}

// Validate checks the sample buffer matches the dimensions and holds only finite values.
func (f *Frame) Validate() error {
	if f == nil {
		return InvalidInput("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return InvalidInput("frame dimensions must be positive, got %dx%d", f.Width, f.Height)
	}
	if len(f.Pix) != f.Width*f.Height {
		return InvalidInput("frame buffer holds %d samples, want %d", len(f.Pix), f.Width*f.Height)
	}
	for i, v := range f.Pix {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return InvalidInput("non-finite sample at x=%d y=%d", i%f.Width, i/f.Width)
		}
	}
	return nil
}

// PixelDistance returns the distance from the center of pixel (x, y) to (cx, cy).
// Pixel centers sit at half-integer coordinates.
func PixelDistance(x, y int, cx, cy float64) float64 {
	return math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
}

// Clamp01 clamps v to [0,1]. NaN clamps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
