package cmd

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smazurov/foveanode/internal/config"
	"github.com/smazurov/foveanode/internal/store"
	"github.com/smazurov/foveanode/internal/types"
)

const (
	testWidth  = 16
	testHeight = 12
)

// writeFrames writes n gradient frames and returns the file path.
func writeFrames(t *testing.T, dir string, n int) string {
	t.Helper()
	buf := make([]byte, 0, n*testWidth*testHeight)
	for i := range n {
		for y := range testHeight {
			for x := range testWidth {
				buf = append(buf, byte((x*13+y*7+i*29)%256))
			}
		}
	}
	path := filepath.Join(dir, "frames.raw")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEncodeInspectRoundTrip(t *testing.T) {
	dir := t.TempDir()
	input := writeFrames(t, dir, 4)
	output := filepath.Join(dir, "out.fov")

	summary, err := RunEncode(EncodeOptions{
		Input:  input,
		Output: output,
		Width:  testWidth,
		Height: testHeight,
		ID:     "cam",
	}, io.Discard)
	if err != nil {
		t.Fatalf("RunEncode: %v", err)
	}
	if summary.Frames != 4 {
		t.Errorf("frames = %d, want 4", summary.Frames)
	}

	info, err := os.Stat(output)
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(summary.Bytes) + 4*4; info.Size() != want {
		t.Errorf("stream size = %d, want %d", info.Size(), want)
	}

	st := store.NewTOML(summary.Descriptor)
	if err := st.Load(); err != nil {
		t.Fatal(err)
	}
	desc, ok := st.Get("cam")
	if !ok {
		t.Fatal("descriptor not written")
	}
	if desc.Width != testWidth || desc.Height != testHeight || !strings.HasPrefix(desc.Sink, "file://") {
		t.Errorf("descriptor = %+v", desc)
	}

	dump := filepath.Join(dir, "dump.raw")
	var report bytes.Buffer
	got, err := RunInspect(InspectOptions{Input: output, Regions: true, Dump: dump}, &report)
	if err != nil {
		t.Fatalf("RunInspect: %v\n%s", err, report.String())
	}
	if got.Frames != 4 || len(got.Levels) != 4 {
		t.Errorf("inspected %d frames (%v), want 4", got.Frames, got.Levels)
	}
	for _, want := range []string{"session cam: 16x12", "frame 3:", "4 frames"} {
		if !strings.Contains(report.String(), want) {
			t.Errorf("report missing %q:\n%s", want, report.String())
		}
	}

	raw, err := os.ReadFile(dump)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 4*testWidth*testHeight {
		t.Errorf("dump = %d bytes, want %d", len(raw), 4*testWidth*testHeight)
	}
}

func TestEncodeRejectsPartialFrame(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "short.raw")
	if err := os.WriteFile(input, make([]byte, testWidth*testHeight+5), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := RunEncode(EncodeOptions{
		Input:  input,
		Output: filepath.Join(dir, "out.fov"),
		Width:  testWidth,
		Height: testHeight,
		ID:     "cam",
	}, io.Discard)
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("expected InvalidInput, got %v", err)
	}
}

func TestEncodeRejectsInvalidPipeline(t *testing.T) {
	dir := t.TempDir()
	pipeline := filepath.Join(dir, "pipeline.toml")
	if err := os.WriteFile(pipeline, []byte("encoding_regions = 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := RunEncode(EncodeOptions{
		Input:    writeFrames(t, dir, 1),
		Output:   filepath.Join(dir, "out.fov"),
		Width:    testWidth,
		Height:   testHeight,
		Pipeline: pipeline,
		ID:       "cam",
	}, io.Discard)
	if !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("expected InvalidConfig, got %v", err)
	}
}

func TestInspectNeedsDescriptor(t *testing.T) {
	dir := t.TempDir()
	stream := filepath.Join(dir, "orphan.fov")
	if err := os.WriteFile(stream, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := RunInspect(InspectOptions{Input: stream}, io.Discard); err == nil {
		t.Error("expected error without a descriptor")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"empty uses defaults", "", false},
		{"overrides", "max_queue_size = 5\nscheduling_algorithm = \"ADAPTIVE\"\n", false},
		{"zero regions", "encoding_regions = 0\n", true},
		{"unknown key", "frame_rate = 30\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "pipeline.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			var out bytes.Buffer
			err := RunValidateConfig(path, false, &out)
			if tt.wantErr {
				if !errors.Is(err, types.ErrInvalidConfig) {
					t.Errorf("expected InvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("RunValidateConfig: %v", err)
			}
			if !strings.HasSuffix(out.String(), ": ok\n") {
				t.Errorf("output = %q", out.String())
			}
		})
	}
}

func TestValidateConfigPrintsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.toml")
	if err := os.WriteFile(path, []byte("scheduling_algorithm = \"Priority\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := RunValidateConfig(path, true, &out); err != nil {
		t.Fatalf("RunValidateConfig: %v", err)
	}
	p, err := config.ParsePipeline(out.Bytes())
	if err != nil {
		t.Fatalf("printed config does not parse: %v\n%s", err, out.String())
	}
	if p.SchedulingAlgorithm != "priority" {
		t.Errorf("scheduling_algorithm = %q, want priority", p.SchedulingAlgorithm)
	}
}
