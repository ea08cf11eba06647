package session

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/smazurov/foveanode/internal/config"
	"github.com/smazurov/foveanode/internal/encoder"
	"github.com/smazurov/foveanode/internal/events"
	"github.com/smazurov/foveanode/internal/sink"
	"github.com/smazurov/foveanode/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSession(t *testing.T, id string, p config.Pipeline, out sink.Sink) *Session {
	t.Helper()
	s, err := New(Options{ID: id, Width: 8, Height: 8, Pipeline: p, Sink: out, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func testFrame(ts uint64) *types.Frame {
	f := types.NewFrame(8, 8, ts)
	for y := range 8 {
		for x := range 8 {
			f.Set(x, y, float64((x*5+y*3+int(ts))%11)/10)
		}
	}
	return f
}

func TestEmitOnEmptyQueue(t *testing.T) {
	s := newSession(t, "empty-emit", config.DefaultPipeline(), nil)
	data, err := s.EmitNext()
	if err != nil {
		t.Fatalf("EmitNext: %v", err)
	}
	if data == nil || len(data) != 0 {
		t.Errorf("expected empty slice, got %v", data)
	}
}

func TestUniformFrameThroughSession(t *testing.T) {
	var buf bytes.Buffer
	s := newSession(t, "uniform", config.DefaultPipeline(), sink.NewStreamWriter(&buf))

	res, err := s.ProcessFrame(types.UniformFrame(8, 8, 0, 0.5))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if res.Quality.Foveal != 0.5 || res.Bytes != 266 {
		t.Errorf("result = %+v", res)
	}
	data, err := s.EmitNext()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 266 || buf.Len() != 4+266 {
		t.Errorf("emitted %d bytes, sink holds %d", len(data), buf.Len())
	}
	for i, b := range data[:64] {
		if b != 127 && b != 128 {
			t.Fatalf("foveal byte %d = %d", i, b)
		}
	}
}

func runFIFO(t *testing.T, id string) []byte {
	t.Helper()
	p := config.DefaultPipeline()
	p.SchedulingAlgorithm = "fifo"
	p.MaxQueueSize = 4

	var buf bytes.Buffer
	s := newSession(t, id, p, sink.NewStreamWriter(&buf))
	for i := range uint64(10) {
		if _, err := s.ProcessFrame(testFrame(i)); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if i%3 == 2 {
			if _, err := s.EmitNext(); err != nil {
				t.Fatal(err)
			}
		}
	}
	for s.Status().QueueDepth > 0 {
		if _, err := s.EmitNext(); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func TestFIFODeterministicOutput(t *testing.T) {
	first := runFIFO(t, "fifo-a")
	second := runFIFO(t, "fifo-b")
	if len(first) == 0 {
		t.Fatal("no output")
	}
	if !bytes.Equal(first, second) {
		t.Error("identical FIFO runs produced different streams")
	}
}

func TestNonFiniteFrameRejected(t *testing.T) {
	s := newSession(t, "nan", config.DefaultPipeline(), nil)

	bad := types.UniformFrame(8, 8, 0, 0.5)
	bad.Set(3, 4, math.NaN())
	if _, err := s.ProcessFrame(bad); !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
	if st := s.Status(); st.Stats.FramesInvalid != 1 || st.QueueDepth != 0 {
		t.Errorf("stats = %+v depth=%d", st.Stats, st.QueueDepth)
	}

	if _, err := s.ProcessFrame(types.UniformFrame(8, 8, 1, 0.5)); err != nil {
		t.Fatalf("valid frame after NaN: %v", err)
	}
	if st := s.Status(); st.Stats.FramesProcessed != 1 || st.State != StateRunning {
		t.Errorf("status = %+v", st)
	}
}

func TestFrameSizeMismatchRejected(t *testing.T) {
	s := newSession(t, "size", config.DefaultPipeline(), nil)
	if _, err := s.ProcessFrame(types.UniformFrame(9, 8, 0, 0.5)); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("expected InvalidInput, got %v", err)
	}
}

func TestLevelChangeAppliesToNextFrame(t *testing.T) {
	s := newSession(t, "level", config.DefaultPipeline(), nil)

	var levels []int
	for i := range uint64(4) {
		res, err := s.ProcessFrame(types.UniformFrame(8, 8, i, 0))
		if err != nil {
			t.Fatal(err)
		}
		levels = append(levels, res.Level)
		if i == 2 && !res.Decision.Changed {
			t.Fatalf("third dark frame should step down, decision %+v", res.Decision)
		}
	}
	want := []int{2, 2, 2, 1}
	for i := range want {
		if levels[i] != want[i] {
			t.Fatalf("encode levels = %v, want %v", levels, want)
		}
	}
	if st := s.Status(); st.Level != 1 || st.Kbps != 1500 || st.Stats.LevelChanges != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	bus := events.New()
	stopped := make(chan events.SessionStoppedEvent, 4)
	unsub := bus.Subscribe(func(e events.SessionStoppedEvent) { stopped <- e })
	defer unsub()

	s, err := New(Options{ID: "stop-twice", Width: 8, Height: 8, Pipeline: config.DefaultPipeline(), Bus: bus, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	for i := range uint64(3) {
		if _, err := s.ProcessFrame(testFrame(i)); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	first := s.Status()
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if second := s.Status(); second != first {
		t.Errorf("second stop changed status:\n%+v\n%+v", first, second)
	}
	if first.State != StateStopped || first.QueueDepth != 0 || first.Stats.FramesProcessed != 3 {
		t.Errorf("status = %+v", first)
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("no stop event")
	}
	select {
	case e := <-stopped:
		t.Errorf("unexpected second stop event %+v", e)
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := s.ProcessFrame(testFrame(9)); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestUpdateConfigUnchangedIsNoop(t *testing.T) {
	s := newSession(t, "noop-update", config.DefaultPipeline(), nil)
	for i := range uint64(5) {
		if _, err := s.ProcessFrame(testFrame(i)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.AdaptQuality(2500); err != nil {
		t.Fatal(err)
	}
	before := s.Status()
	history := s.sched.History().Values()

	same := config.DefaultPipeline()
	same.SchedulingAlgorithm = "BIOLOGICAL"
	same.Transforms = []string{}
	if err := s.UpdateConfig(same); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	if after := s.Status(); after != before {
		t.Errorf("status changed:\n%+v\n%+v", before, after)
	}
	after := s.sched.History().Values()
	if len(after) != len(history) {
		t.Fatalf("history length %d, want %d", len(after), len(history))
	}
	for i := range history {
		if after[i] != history[i] {
			t.Errorf("history[%d] changed", i)
		}
	}
}

func TestUpdateConfigShrinksQueue(t *testing.T) {
	s := newSession(t, "shrink", config.DefaultPipeline(), nil)
	for i := range uint64(6) {
		if _, err := s.ProcessFrame(testFrame(i)); err != nil {
			t.Fatal(err)
		}
	}

	p := config.DefaultPipeline()
	p.MaxQueueSize = 2
	p.SchedulingAlgorithm = "fifo"
	if err := s.UpdateConfig(p); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	st := s.Status()
	if st.QueueDepth != 2 || st.Stats.Overflows != 4 || st.Discipline != types.DisciplineFIFO {
		t.Errorf("status = %+v", st)
	}

	bad := config.DefaultPipeline()
	bad.EncodingRegions = 0
	if err := s.UpdateConfig(bad); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("expected InvalidConfig, got %v", err)
	}
	if s.Pipeline().MaxQueueSize != 2 {
		t.Error("rejected update modified the pipeline")
	}
}

type failingSink struct{ closed bool }

func (f *failingSink) WriteFrame(*encoder.EncodedFrame) error { return errors.New("broken pipe") }
func (f *failingSink) Close() error                           { f.closed = true; return nil }

func TestSinkFailureIsFatal(t *testing.T) {
	out := &failingSink{}
	s := newSession(t, "fatal", config.DefaultPipeline(), out)
	if _, err := s.ProcessFrame(testFrame(0)); err != nil {
		t.Fatal(err)
	}

	_, err := s.EmitNext()
	if !errors.Is(err, types.ErrFatal) {
		t.Fatalf("expected Fatal, got %v", err)
	}
	st := s.Status()
	if st.State != StateFailed || st.Reason == "" {
		t.Errorf("status = %+v", st)
	}
	if !out.closed {
		t.Error("sink not closed")
	}
	if _, err := s.EmitNext(); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after failure, got %v", err)
	}
}

func TestAdaptQuality(t *testing.T) {
	s := newSession(t, "adapt", config.DefaultPipeline(), nil)
	if _, err := s.AdaptQuality(math.Inf(1)); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("expected InvalidInput, got %v", err)
	}

	d, err := s.AdaptQuality(3000)
	if err != nil {
		t.Fatal(err)
	}
	if d.Headroom != 1 || d.Level != 2 || d.Changed {
		t.Errorf("decision = %+v", d)
	}
	if s.Status().BandwidthKbps != 3000 {
		t.Errorf("bandwidth not recorded")
	}
}

func TestTransformsDoNotModifyInput(t *testing.T) {
	p := config.DefaultPipeline()
	p.Transforms = []string{"gamma:2"}
	s := newSession(t, "transforms", p, nil)

	f := types.UniformFrame(8, 8, 0, 0.5)
	res, err := s.ProcessFrame(f)
	if err != nil {
		t.Fatal(err)
	}
	if f.Pix[0] != 0.5 {
		t.Errorf("input frame modified: %v", f.Pix[0])
	}
	if res.Quality.Foveal != 0.25 {
		t.Errorf("foveal = %v, want 0.25 after gamma", res.Quality.Foveal)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	p := config.DefaultPipeline()
	p.BitrateLadder = []int{1000, 500}
	if _, err := New(Options{ID: "bad", Width: 8, Height: 8, Pipeline: p}); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("expected InvalidConfig, got %v", err)
	}
	if _, err := New(Options{ID: "tiny", Width: 2, Height: 8, Pipeline: config.DefaultPipeline()}); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("expected InvalidConfig for tiny frame, got %v", err)
	}
}

func TestDecodersMatchOutput(t *testing.T) {
	s := newSession(t, "decoders", config.DefaultPipeline(), nil)
	for i := range uint64(4) {
		if _, err := s.ProcessFrame(types.UniformFrame(8, 8, i, 0)); err != nil {
			t.Fatal(err)
		}
	}
	cfgs := s.Decoders()
	if len(cfgs) != 5 {
		t.Fatalf("decoders = %d, want 5", len(cfgs))
	}
	for {
		data, err := s.EmitNext()
		if err != nil {
			t.Fatal(err)
		}
		if len(data) == 0 {
			break
		}
		if _, _, err := encoder.DecodeAny(data, 8, 8, cfgs); err != nil {
			t.Errorf("DecodeAny: %v", err)
		}
	}
}

func TestStatusReportsRTPSource(t *testing.T) {
	s := newSession(t, "rtp", config.DefaultPipeline(), sink.NewPacketizer(io.Discard, sink.WithSSRC(77)))
	if got := s.Status().SSRC; got != 77 {
		t.Errorf("ssrc = %d, want 77", got)
	}

	plain := newSession(t, "plain", config.DefaultPipeline(), sink.Discard{})
	if got := plain.Status().SSRC; got != 0 {
		t.Errorf("ssrc = %d, want 0 for a non-RTP sink", got)
	}
}
