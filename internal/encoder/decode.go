package encoder

import (
	"encoding/binary"
	"math"

	"github.com/smazurov/foveanode/internal/types"
)

// Trailer is the parsed metadata trailer of an encoded frame.
// Compression ratios are not part of the wire format and stay zero.
type Trailer struct {
	Overall float64
	Regions []types.Region
}

// Decoded is an encoded frame split back into its region payloads.
type Decoded struct {
	Width    int
	Height   int
	Trailer  Trailer
	Payloads [][]byte
	rule     StrideRule
}

// ParseTrailer locates and parses the trailer at the end of data, returning it
// together with the payload bytes in front of it. The smallest region count
// producing a well-formed trailer wins.
func ParseTrailer(data []byte) (Trailer, []byte, error) {
	for n := 1; n <= 255; n++ {
		t, payload, ok := trailerAt(data, n)
		if ok {
			return t, payload, nil
		}
		if TrailerSize(n) > len(data) {
			break
		}
	}
	return Trailer{}, nil, types.InvalidInput("no valid trailer in %d bytes", len(data))
}

// Decode splits data into region payloads by replaying the region pixel counts
// for a width x height frame encoded with cfg.
func Decode(data []byte, width, height int, cfg Config) (*Decoded, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for n := 1; n <= 255 && TrailerSize(n) <= len(data); n++ {
		t, payload, ok := trailerAt(data, n)
		if !ok {
			continue
		}
		sizes, ok := replaySizes(width, height, cfg, t.Regions)
		if !ok {
			continue
		}
		total := 0
		for _, s := range sizes {
			total += s
		}
		if total != len(payload) {
			continue
		}

		d := &Decoded{
			Width:    width,
			Height:   height,
			Trailer:  t,
			Payloads: make([][]byte, len(sizes)),
			rule:     cfg.StrideRule,
		}
		off := 0
		for i, s := range sizes {
			d.Payloads[i] = payload[off : off+s]
			off += s
		}
		return d, nil
	}
	return nil, types.InvalidInput("payload does not match %dx%d frame under the given encoder config", width, height)
}

// DecodeAny tries each config in order and returns the first that matches.
func DecodeAny(data []byte, width, height int, cfgs []Config) (*Decoded, int, error) {
	var lastErr error = types.InvalidInput("no encoder config supplied")
	for i, cfg := range cfgs {
		d, err := Decode(data, width, height, cfg)
		if err == nil {
			return d, i, nil
		}
		lastErr = err
	}
	return nil, -1, lastErr
}

// replaySizes recomputes payload sizes and fills in compression ratios.
func replaySizes(width, height int, cfg Config, regions []types.Region) ([]int, bool) {
	if len(regions) != cfg.Regions && len(regions) != 1 {
		return nil, false
	}
	sizes := make([]int, len(regions))
	for i := range regions {
		ratio := 1.0
		if len(regions) == cfg.Regions {
			ratio = compressionRatio(i, cfg.Regions, cfg.PeripheralCompression)
		}
		regions[i].CompressionRatio = ratio
		sizes[i] = RetainedCount(RegionPixelCount(width, height, regions[i]), ratio)
	}
	return sizes, true
}

func trailerAt(data []byte, n int) (Trailer, []byte, bool) {
	size := TrailerSize(n)
	if size > len(data) {
		return Trailer{}, nil, false
	}
	start := len(data) - size
	tr := data[start:]
	if int(tr[8]) != n {
		return Trailer{}, nil, false
	}

	t := Trailer{
		Overall: readFloat(tr[0:]),
		Regions: make([]types.Region, n),
	}
	if !inUnit(t.Overall) {
		return Trailer{}, nil, false
	}
	prevRadius := 0.0
	prevQuality := math.Inf(1)
	for i := range n {
		rec := tr[9+i*regionRecordSize:]
		r := types.Region{
			CenterX: readFloat(rec[0:]),
			CenterY: readFloat(rec[8:]),
			Radius:  readFloat(rec[16:]),
			Quality: readFloat(rec[24:]),
		}
		if !types.IsFinite(r.CenterX) || !types.IsFinite(r.CenterY) ||
			!types.IsFinite(r.Radius) || r.Radius <= prevRadius ||
			!inUnit(r.Quality) || r.Quality > prevQuality {
			return Trailer{}, nil, false
		}
		prevRadius, prevQuality = r.Radius, r.Quality
		t.Regions[i] = r
	}
	return t, data[:start], true
}

func readFloat(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func inUnit(v float64) bool {
	return types.IsFinite(v) && v >= 0 && v <= 1
}

// Reconstruct rebuilds an approximate frame. Discarded samples repeat the
// nearest preceding retained sample; inner regions overwrite outer ones.
func (d *Decoded) Reconstruct() *types.Frame {
	f := types.NewFrame(d.Width, d.Height, 0)
	for i := len(d.Trailer.Regions) - 1; i >= 0; i-- {
		r := d.Trailer.Regions[i]
		payload := d.Payloads[i]
		if len(payload) == 0 {
			continue
		}
		idx := RegionIndices(d.Width, d.Height, r)
		positions := retainedPositions(len(idx), r.CompressionRatio, d.rule)

		k := 0
		for j, pix := range idx {
			for k+1 < len(positions) && positions[k+1] <= j {
				k++
			}
			f.Pix[pix] = float64(payload[k]) / 255.0
		}
	}
	return f
}
