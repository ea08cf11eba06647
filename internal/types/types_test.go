package types

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestErrorIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", InvalidInput("bad sample"))

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("expected wrapped error to match ErrInvalidInput")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("did not expect match with ErrNotFound")
	}
	if got := CodeOf(err); got != CodeInvalidInput {
		t.Errorf("CodeOf = %q, want %q", got, CodeInvalidInput)
	}
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(CodeFatal, "sink write failed", cause)
	if got := err.Error(); got != "FATAL: sink write failed: disk full" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose cause")
	}
}

func TestFrameFromBytes(t *testing.T) {
	f, err := FrameFromBytes(2, 2, 7, []byte{0, 255, 51, 102})
	if err != nil {
		t.Fatalf("FrameFromBytes: %v", err)
	}
	want := []float64{0, 1, 0.2, 0.4}
	for i, v := range want {
		if math.Abs(f.Pix[i]-v) > 1e-12 {
			t.Errorf("Pix[%d] = %v, want %v", i, f.Pix[i], v)
		}
	}
	if f.Timestamp != 7 {
		t.Errorf("Timestamp = %d, want 7", f.Timestamp)
	}

	if _, err := FrameFromBytes(3, 3, 0, make([]byte, 8)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected InvalidInput for short buffer, got %v", err)
	}
}

func TestFrameValidate(t *testing.T) {
	f := UniformFrame(4, 4, 0, 0.5)
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	f.Set(1, 2, math.Inf(1))
	if err := f.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected InvalidInput for Inf sample, got %v", err)
	}
}

func TestClassifyPriority(t *testing.T) {
	tests := []struct {
		overall float64
		want    Priority
		weight  float64
	}{
		{0.95, PriorityCritical, 1.0},
		{0.9, PriorityCritical, 1.0},
		{0.75, PriorityHigh, 0.8},
		{0.55, PriorityMedium, 0.6},
		{0.5, PriorityMedium, 0.6},
		{0.1, PriorityLow, 0.4},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.overall), func(t *testing.T) {
			got := ClassifyPriority(tt.overall)
			if got != tt.want {
				t.Errorf("ClassifyPriority(%v) = %v, want %v", tt.overall, got, tt.want)
			}
			if got.Weight() != tt.weight {
				t.Errorf("Weight() = %v, want %v", got.Weight(), tt.weight)
			}
		})
	}
}

func TestParseDiscipline(t *testing.T) {
	d, err := ParseDiscipline(" Biological ")
	if err != nil || d != DisciplineBiological {
		t.Errorf("ParseDiscipline = %v, %v", d, err)
	}
	if _, err := ParseDiscipline("round-robin"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected InvalidConfig, got %v", err)
	}
}

func TestWeightsApplyClamps(t *testing.T) {
	w := Weights{Foveal: 2, Peripheral: 2}
	q := QualityVector{Foveal: 1, Peripheral: 1}
	if got := w.Apply(q); got != 1 {
		t.Errorf("Apply = %v, want 1", got)
	}
}
