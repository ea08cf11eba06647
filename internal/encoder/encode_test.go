package encoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/smazurov/foveanode/internal/types"
)

func gradientFrame(w, h int) *types.Frame {
	f := types.NewFrame(w, h, 1)
	for y := range h {
		for x := range w {
			f.Set(x, y, float64((x*7+y*13)%17)/16)
		}
	}
	return f
}

func midGrayQuality() types.QualityVector {
	return types.QualityVector{Foveal: 0.5, Peripheral: 0.5, Motion: 1, Color: 0.25, Temporal: 0.5, Overall: 0.575}
}

func TestEncodeUniformMidGray(t *testing.T) {
	enc, err := Encode(types.UniformFrame(8, 8, 0, 0.5), midGrayQuality(), DefaultConfig())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	wantSizes := []int{64, 54, 43}
	for i, want := range wantSizes {
		if enc.PayloadSizes[i] != want {
			t.Errorf("region %d payload = %d, want %d", i, enc.PayloadSizes[i], want)
		}
	}
	for i, b := range enc.Data[:64] {
		if b != 127 && b != 128 {
			t.Fatalf("region 0 byte %d = %d, want 127 or 128", i, b)
		}
	}
	if want := 64 + 54 + 43 + TrailerSize(3); enc.Len() != want {
		t.Errorf("stream length = %d, want %d", enc.Len(), want)
	}
}

func TestPayloadLengthMatchesRetainedCounts(t *testing.T) {
	dims := [][2]int{{3, 3}, {8, 8}, {17, 9}, {32, 18}, {5, 40}}
	configs := []Config{
		DefaultConfig(),
		{FovealRadius: 0.5, PeripheralCompression: 0.9, QualityFalloff: 0.5, Regions: 5, StrideRule: StrideCeilInverseDrop},
		{FovealRadius: 0.3, PeripheralCompression: 1.0, QualityFalloff: 0.7, Regions: 4, StrideRule: StrideFloorInverseKeep},
		{FovealRadius: 1, PeripheralCompression: 0.25, QualityFalloff: 0.9, Regions: 2, RadiusScale: 2, StrideRule: StrideCeilInverseDrop},
	}

	for _, d := range dims {
		for ci, cfg := range configs {
			t.Run(fmt.Sprintf("%dx%d/cfg%d", d[0], d[1], ci), func(t *testing.T) {
				f := gradientFrame(d[0], d[1])
				enc, err := Encode(f, midGrayQuality(), cfg)
				if err != nil {
					t.Fatalf("Encode: %v", err)
				}

				want := 0
				for _, r := range enc.Regions {
					want += RetainedCount(RegionPixelCount(d[0], d[1], r), r.CompressionRatio)
				}
				if enc.PayloadLen() != want {
					t.Errorf("payload = %d, want %d", enc.PayloadLen(), want)
				}
				if enc.Len() != want+TrailerSize(len(enc.Regions)) {
					t.Errorf("total = %d, want %d", enc.Len(), want+TrailerSize(len(enc.Regions)))
				}
			})
		}
	}
}

func TestRegionsNestedAndCovering(t *testing.T) {
	cfg := Config{FovealRadius: 0.4, PeripheralCompression: 0.6, QualityFalloff: 0.8, Regions: 4, StrideRule: StrideCeilInverseDrop}
	q := types.QualityVector{Foveal: 0.9}

	for _, d := range [][2]int{{64, 36}, {20, 20}, {7, 50}} {
		regions, err := DeriveRegions(d[0], d[1], q, cfg)
		if err != nil {
			t.Fatalf("DeriveRegions: %v", err)
		}
		for i := 1; i < len(regions); i++ {
			if regions[i].Radius <= regions[i-1].Radius {
				t.Errorf("%v: radius %d (%v) not greater than %v", d, i, regions[i].Radius, regions[i-1].Radius)
			}
			if regions[i].Quality >= regions[i-1].Quality {
				t.Errorf("%v: quality %d (%v) not lower than %v", d, i, regions[i].Quality, regions[i-1].Quality)
			}
		}
		halfDiag := math.Hypot(float64(d[0]), float64(d[1])) / 2
		if last := regions[len(regions)-1]; last.Radius < halfDiag {
			t.Errorf("%v: outer radius %v below half diagonal %v", d, last.Radius, halfDiag)
		}
		if regions[0].CompressionRatio != 1 {
			t.Errorf("foveal ratio = %v, want 1", regions[0].CompressionRatio)
		}
	}
}

func TestUncompressedUniformFrameQuantizesExactly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PeripheralCompression = 0

	for _, k := range []int{0, 1, 51, 128, 200, 255} {
		v := float64(k) / 255
		enc, err := Encode(types.UniformFrame(6, 5, 0, v), types.QualityVector{Foveal: v}, cfg)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		want := byte(math.Round(v * 255))
		for i, b := range enc.Data[:enc.PayloadLen()] {
			if b != want {
				t.Fatalf("v=%v: byte %d = %d, want %d", v, i, b, want)
			}
		}
	}
}

func TestThreeByThreeSingleRegion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Regions = 1

	enc, err := Encode(types.UniformFrame(3, 3, 0, 0.2), types.QualityVector{Foveal: 0.2}, cfg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if enc.PayloadLen() != 9 {
		t.Errorf("payload = %d, want 9", enc.PayloadLen())
	}
	if enc.Len() != 9+TrailerSize(1) {
		t.Errorf("total = %d, want %d", enc.Len(), 9+TrailerSize(1))
	}
}

func TestFrameSmallerThanFovealRadius(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RadiusScale = 1
	cfg.FovealRadius = 5

	enc, err := Encode(gradientFrame(4, 3), types.QualityVector{Foveal: 0.7}, cfg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(enc.Regions) != 1 {
		t.Fatalf("regions = %d, want 1", len(enc.Regions))
	}
	if enc.PayloadLen() != 12 {
		t.Errorf("payload = %d, want 12", enc.PayloadLen())
	}
}

func TestTrailerLayout(t *testing.T) {
	q := types.QualityVector{Foveal: 0.6, Overall: 0.42}
	enc, err := Encode(gradientFrame(10, 6), q, DefaultConfig())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tr := enc.Data[enc.PayloadLen():]
	if got := math.Float64frombits(binary.LittleEndian.Uint64(tr)); got != 0.42 {
		t.Errorf("overall = %v, want 0.42", got)
	}
	if tr[8] != 3 {
		t.Fatalf("region count = %d, want 3", tr[8])
	}
	for i, r := range enc.Regions {
		rec := tr[9+i*32:]
		fields := []float64{r.CenterX, r.CenterY, r.Radius, r.Quality}
		for j, want := range fields {
			got := math.Float64frombits(binary.LittleEndian.Uint64(rec[j*8:]))
			if got != want {
				t.Errorf("region %d field %d = %v, want %v", i, j, got, want)
			}
		}
	}
	if enc.Regions[0].CenterX != 5 || enc.Regions[0].CenterY != 3 {
		t.Errorf("center = (%v,%v), want (5,3)", enc.Regions[0].CenterX, enc.Regions[0].CenterY)
	}
}

func TestEncodeErrors(t *testing.T) {
	f := types.UniformFrame(4, 4, 0, 0.5)

	if _, err := Encode(f, types.QualityVector{Foveal: -0.1}, DefaultConfig()); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("negative foveal: expected InvalidInput, got %v", err)
	}
	if _, err := Encode(f, types.QualityVector{Foveal: math.NaN()}, DefaultConfig()); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("NaN foveal: expected InvalidInput, got %v", err)
	}

	cfg := DefaultConfig()
	cfg.Regions = 0
	if _, err := Encode(f, midGrayQuality(), cfg); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("zero regions: expected InvalidConfig, got %v", err)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	f := gradientFrame(23, 11)
	a, err := Encode(f, midGrayQuality(), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(f, midGrayQuality(), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Error("identical input produced different bytes")
	}
}

func TestRetainedPositions(t *testing.T) {
	tests := []struct {
		n     int
		ratio float64
		rule  StrideRule
		want  []int
	}{
		{6, 0.5, StrideCeilInverseDrop, []int{0, 2, 4}},
		{6, 0.5, StrideFloorInverseKeep, []int{0, 2, 4}},
		{6, 2.0 / 3, StrideCeilInverseDrop, []int{0, 1, 3, 4}},
		{5, 1, StrideCeilInverseDrop, []int{0, 1, 2, 3, 4}},
		{0, 0.5, StrideCeilInverseDrop, []int{}},
	}
	for _, tt := range tests {
		got := retainedPositions(tt.n, tt.ratio, tt.rule)
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Errorf("retainedPositions(%d, %v, %s) = %v, want %v", tt.n, tt.ratio, tt.rule, got, tt.want)
		}
	}
}

func TestRetainedPositionsSpanRegion(t *testing.T) {
	const n = 100
	for _, rule := range []StrideRule{StrideCeilInverseDrop, StrideFloorInverseKeep} {
		for _, ratio := range []float64{0.533, 0.667, 0.767, 0.833} {
			t.Run(fmt.Sprintf("%s/%v", rule, ratio), func(t *testing.T) {
				got := retainedPositions(n, ratio, rule)
				if len(got) != RetainedCount(n, ratio) {
					t.Fatalf("kept %d samples, want %d", len(got), RetainedCount(n, ratio))
				}
				if got[0] != 0 && rule == StrideFloorInverseKeep {
					t.Errorf("first kept = %d, want 0", got[0])
				}
				for i := 1; i < len(got); i++ {
					if got[i] <= got[i-1] {
						t.Fatalf("positions not ascending at %d: %v", i, got)
					}
					if gap := got[i] - got[i-1]; gap > 2 {
						t.Errorf("gap %d between %d and %d", gap, got[i-1], got[i])
					}
				}
				if last := got[len(got)-1]; last < n-2 {
					t.Errorf("last kept = %d, want at least %d", last, n-2)
				}
			})
		}
	}
}

func TestStrideRulesKeepDifferentSamples(t *testing.T) {
	keep := retainedPositions(100, 0.667, StrideFloorInverseKeep)
	drop := retainedPositions(100, 0.667, StrideCeilInverseDrop)
	if len(keep) != len(drop) {
		t.Fatalf("counts differ: %d vs %d", len(keep), len(drop))
	}
	if fmt.Sprint(keep) == fmt.Sprint(drop) {
		t.Error("both rules kept the same positions")
	}
	if fmt.Sprint(keep[:4]) != "[0 1 2 4]" {
		t.Errorf("keep prefix = %v, want [0 1 2 4]", keep[:4])
	}
	if fmt.Sprint(drop[:4]) != "[0 1 3 4]" {
		t.Errorf("drop prefix = %v, want [0 1 3 4]", drop[:4])
	}
}
