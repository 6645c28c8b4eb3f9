package pharma

import (
	"errors"
	"math"
	"testing"

	"github.com/trialforge-ai/platform/pkg/criteria"
)

func testPatient() criteria.Patient {
	return criteria.Patient{ID: "P0001", Attributes: map[string]criteria.Value{
		"age":         criteria.NumberValue(40),
		"lab_glucose": criteria.NumberValue(110),
	}}
}

func TestNewSelectsVariantByName(t *testing.T) {
	for _, name := range []string{"linear", "saturating", "threshold", "zero-effect"} {
		model, err := New(name, Params{})
		if err != nil {
			t.Fatalf("failed to build %s model: %v", name, err)
		}
		if model.Name() != name {
			t.Fatalf("expected model name %q, got %q", name, model.Name())
		}
	}
	if _, err := New("homeopathic", Params{}); err == nil {
		t.Fatal("expected error for unknown model name")
	}
}

func TestLinearModelGrowsWithExposure(t *testing.T) {
	model, err := New("linear", Params{Slope: 0.1})
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	series, err := model.Respond(testPatient(), DefaultSchedule())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series) != len(DefaultSchedule()) {
		t.Fatalf("expected %d points, got %d", len(DefaultSchedule()), len(series))
	}
	for i := 1; i < len(series); i++ {
		if series[i].Value <= series[i-1].Value {
			t.Fatalf("linear response not increasing at point %d: %v", i, series)
		}
	}
}

func TestSaturatingModelPlateausBelowEmax(t *testing.T) {
	emax := 25.0
	model, err := New("saturating", Params{Emax: emax, EC50: 100})
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	patient := testPatient()
	baseline := model.Baseline(patient)

	series, err := model.Respond(patient, DefaultSchedule())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, point := range series {
		if point.Value-baseline >= emax {
			t.Fatalf("saturating effect %v reached Emax %v", point.Value-baseline, emax)
		}
	}
	first := series[0].Value - baseline
	last := series[len(series)-1].Value - baseline
	if last <= first {
		t.Fatalf("expected effect to grow with exposure, got %v -> %v", first, last)
	}
}

func TestThresholdModelFlatBelowThreshold(t *testing.T) {
	model, err := New("threshold", Params{Threshold: 200, Effect: 15})
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	patient := testPatient()
	baseline := model.Baseline(patient)

	series, err := model.Respond(patient, DefaultSchedule())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// cumulative exposure at week 0..2 is 50, 100, 150: all below the threshold
	for _, point := range series[:3] {
		if point.Value != baseline {
			t.Fatalf("expected baseline below threshold, got %v at %v", point.Value, point.Timepoint)
		}
	}
	lastPoint := series[len(series)-1]
	if lastPoint.Value != baseline+15 {
		t.Fatalf("expected full effect after threshold, got %v", lastPoint.Value)
	}
}

func TestZeroEffectModelReturnsBaselineEverywhere(t *testing.T) {
	model, err := New("zero-effect", Params{})
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	patient := testPatient()
	baseline := model.Baseline(patient)

	series, err := model.Respond(patient, DefaultSchedule())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, point := range series {
		if point.Value != baseline {
			t.Fatalf("zero-effect model moved the endpoint: %v", point)
		}
	}
}

func TestRespondReportsDivergenceTimepoint(t *testing.T) {
	model, err := New("linear", Params{Slope: math.Inf(1)})
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}

	_, err = model.Respond(testPatient(), DefaultSchedule())
	var diverged *DivergenceError
	if !errors.As(err, &diverged) {
		t.Fatalf("expected DivergenceError, got %v", err)
	}
	// the first dose already pushes the response to infinity
	if diverged.Timepoint != DefaultSchedule()[0].TimeOffset {
		t.Fatalf("expected divergence at the first timepoint, got %v", diverged.Timepoint)
	}
}

func TestBaselineIsStablePerPatient(t *testing.T) {
	model, err := New("linear", Params{})
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	patient := testPatient()
	if model.Baseline(patient) != model.Baseline(patient) {
		t.Fatal("baseline not stable for the same patient")
	}
	if model.Baseline(patient) != 110 {
		t.Fatalf("expected lab-derived baseline 110, got %v", model.Baseline(patient))
	}
}
