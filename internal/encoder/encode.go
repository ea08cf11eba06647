package encoder

import (
	"encoding/binary"
	"math"

	"github.com/smazurov/foveanode/internal/types"
)

// regionRecordSize is the trailer size of one region: cx, cy, r, quality.
const regionRecordSize = 4 * 8

// TrailerSize returns the metadata trailer size for n regions.
func TrailerSize(n int) int {
	return 8 + 1 + n*regionRecordSize
}

// EncodedFrame is one encoded frame: region payloads followed by the trailer.
type EncodedFrame struct {
	Timestamp    uint64
	Width        int
	Height       int
	Overall      float64
	Regions      []types.Region
	PayloadSizes []int
	Data         []byte
}

// PayloadLen returns the number of payload bytes preceding the trailer.
func (e *EncodedFrame) PayloadLen() int {
	n := 0
	for _, s := range e.PayloadSizes {
		n += s
	}
	return n
}

// Len returns the total encoded size.
func (e *EncodedFrame) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Data)
}

// Encode foveates the frame. It reads f without modifying it.
func Encode(f *types.Frame, q types.QualityVector, cfg Config) (*EncodedFrame, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, types.InvalidInput("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) != f.Width*f.Height {
		return nil, types.InvalidInput("malformed %dx%d frame with %d samples", f.Width, f.Height, len(f.Pix))
	}

	regions, err := DeriveRegions(f.Width, f.Height, q, cfg)
	if err != nil {
		return nil, err
	}

	out := &EncodedFrame{
		Timestamp:    f.Timestamp,
		Width:        f.Width,
		Height:       f.Height,
		Overall:      types.Clamp01(q.Overall),
		Regions:      regions,
		PayloadSizes: make([]int, len(regions)),
	}

	for i, r := range regions {
		idx := RegionIndices(f.Width, f.Height, r)
		positions := retainedPositions(len(idx), r.CompressionRatio, cfg.StrideRule)
		for _, p := range positions {
			out.Data = append(out.Data, Quantize(f.Pix[idx[p]]))
		}
		out.PayloadSizes[i] = len(positions)
	}

	out.Data = appendTrailer(out.Data, out.Overall, regions)
	return out, nil
}

func appendTrailer(b []byte, overall float64, regions []types.Region) []byte {
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(overall))
	b = append(b, byte(len(regions)))
	for _, r := range regions {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(r.CenterX))
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(r.CenterY))
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(r.Radius))
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(r.Quality))
	}
	return b
}
