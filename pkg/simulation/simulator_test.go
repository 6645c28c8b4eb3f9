package simulation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/trialforge-ai/platform/pkg/criteria"
	"github.com/trialforge-ai/platform/pkg/pharma"
	"github.com/trialforge-ai/platform/pkg/population"
	"github.com/trialforge-ai/platform/pkg/schema"
)

func newTestSimulator(t *testing.T, modelName string) *Simulator {
	t.Helper()
	model, err := pharma.New(modelName, pharma.Params{})
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	generator := population.NewGenerator(schema.Default(), population.DefaultBudgetFactor)
	return NewSimulator(generator, model, nil)
}

func adultConstraint(t *testing.T) *criteria.AST {
	t.Helper()
	node, err := criteria.NewComparison(schema.Default(), "age", criteria.OpGE, 18.0)
	if err != nil {
		t.Fatalf("failed to build criterion: %v", err)
	}
	ast, err := criteria.Finalize(node)
	if err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	return ast
}

func defaultConfig() Config {
	return Config{
		EnrollmentTarget:  20,
		Seed:              42,
		ResponseThreshold: 10,
		AdverseThreshold:  -15,
		Schedule:          pharma.DefaultSchedule(),
	}
}

func TestRunReachesAggregated(t *testing.T) {
	simulator := newTestSimulator(t, "saturating")

	run, err := simulator.Run(context.Background(), uuid.New(), adultConstraint(t), defaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.State != StateAggregated {
		t.Fatalf("expected aggregated state, got %s", run.State)
	}
	if len(run.Cohort) != 20 {
		t.Fatalf("expected 20 enrolled patients, got %d", len(run.Cohort))
	}
	if len(run.Outcomes) != 20 {
		t.Fatalf("expected 20 outcomes, got %d", len(run.Outcomes))
	}

	wantStates := []State{StateConfigured, StateEnrolling, StateDosing, StateMeasuring, StateAggregated}
	if len(run.History) != len(wantStates) {
		t.Fatalf("unexpected history %v", run.History)
	}
	for i, transition := range run.History {
		if transition.State != wantStates[i] {
			t.Fatalf("transition %d is %s, want %s", i, transition.State, wantStates[i])
		}
	}
}

func TestRunZeroEffectModelYieldsZeroResponseRate(t *testing.T) {
	simulator := newTestSimulator(t, "zero-effect")

	run, err := simulator.Run(context.Background(), uuid.New(), adultConstraint(t), defaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Aggregate.ResponseRate != 0 {
		t.Fatalf("expected response rate 0 under zero-effect model, got %v", run.Aggregate.ResponseRate)
	}
	if run.Aggregate.Responders != 0 {
		t.Fatalf("expected no responders, got %d", run.Aggregate.Responders)
	}
}

func TestRunOutcomesSortedByPatientID(t *testing.T) {
	simulator := newTestSimulator(t, "linear")
	cfg := defaultConfig()
	cfg.Workers = 4

	run, err := simulator.Run(context.Background(), uuid.New(), adultConstraint(t), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sorted := sort.SliceIsSorted(run.Outcomes, func(i, j int) bool {
		return run.Outcomes[i].PatientID < run.Outcomes[j].PatientID
	})
	if !sorted {
		t.Fatal("outcomes not sorted by patient id")
	}
}

func TestRunEnrollmentInfeasible(t *testing.T) {
	simulator := newTestSimulator(t, "linear")

	cfg := defaultConfig()
	cfg.EnrollmentTarget = 50
	run, err := simulator.Run(context.Background(), uuid.New(), rareGlucoseConstraint(t), cfg)

	var infeasible *EnrollmentInfeasibleError
	if !errors.As(err, &infeasible) {
		t.Fatalf("expected EnrollmentInfeasibleError, got %v", err)
	}
	if run.State != StateFailed {
		t.Fatalf("expected failed state, got %s", run.State)
	}
	if infeasible.Draws != population.DefaultBudgetFactor*50 {
		t.Fatalf("expected the full draw budget attempted, got %d", infeasible.Draws)
	}
}

func rareGlucoseConstraint(t *testing.T) *criteria.AST {
	t.Helper()
	// satisfied by well under 1% of the population
	node, err := criteria.NewComparison(schema.Default(), "lab_glucose", criteria.OpGE, 399.0)
	if err != nil {
		t.Fatalf("failed to build criterion: %v", err)
	}
	ast, err := criteria.Finalize(node)
	if err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	return ast
}

func TestRunEnrollmentBudgetFollowsGeneratorFactor(t *testing.T) {
	model, err := pharma.New("linear", pharma.Params{})
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	generator := population.NewGenerator(schema.Default(), 5)
	simulator := NewSimulator(generator, model, nil)

	cfg := defaultConfig()
	cfg.EnrollmentTarget = 40
	_, err = simulator.Run(context.Background(), uuid.New(), rareGlucoseConstraint(t), cfg)

	var infeasible *EnrollmentInfeasibleError
	if !errors.As(err, &infeasible) {
		t.Fatalf("expected EnrollmentInfeasibleError, got %v", err)
	}
	if infeasible.Draws != 5*40 {
		t.Fatalf("expected screening to honor the configured budget factor, got %d draws", infeasible.Draws)
	}
}

func TestScreenFailureIdentitiesAreUniquePerRun(t *testing.T) {
	simulator := newTestSimulator(t, "linear")

	cfg := defaultConfig()
	cfg.EnrollmentTarget = 50
	run, _ := simulator.Run(context.Background(), uuid.New(), rareGlucoseConstraint(t), cfg)

	if len(run.Eligibility) != 100 {
		t.Fatalf("expected eligibility detail capped at 100 entries, got %d", len(run.Eligibility))
	}
	seen := make(map[string]bool, len(run.Eligibility))
	for _, result := range run.Eligibility {
		if !strings.HasPrefix(result.PatientID, "S") {
			t.Fatalf("expected screen-failure identity, got %q", result.PatientID)
		}
		if seen[result.PatientID] {
			t.Fatalf("duplicate screen-failure id %q", result.PatientID)
		}
		seen[result.PatientID] = true
	}
}

type divergingModel struct{}

func (divergingModel) Name() string { return "diverging" }

func (divergingModel) Baseline(criteria.Patient) float64 { return 100 }

func (divergingModel) Respond(patient criteria.Patient, schedule pharma.DosingSchedule) (pharma.ResponseSeries, error) {
	return nil, &pharma.DivergenceError{Timepoint: schedule[2].TimeOffset}
}

func TestRunDivergenceSurfacesPatientAndTimepoint(t *testing.T) {
	generator := population.NewGenerator(schema.Default(), population.DefaultBudgetFactor)
	simulator := NewSimulator(generator, divergingModel{}, nil)

	cfg := defaultConfig()
	run, err := simulator.Run(context.Background(), uuid.New(), adultConstraint(t), cfg)

	var diverged *SimulationDivergedError
	if !errors.As(err, &diverged) {
		t.Fatalf("expected SimulationDivergedError, got %v", err)
	}
	if diverged.PatientID == "" {
		t.Fatal("expected offending patient id in divergence error")
	}
	if diverged.Timepoint != cfg.Schedule[2].TimeOffset {
		t.Fatalf("expected divergence at timepoint %v, got %v", cfg.Schedule[2].TimeOffset, diverged.Timepoint)
	}
	if run.State != StateFailed {
		t.Fatalf("expected failed state, got %s", run.State)
	}
}

type opaqueFailingModel struct{}

func (opaqueFailingModel) Name() string { return "opaque" }

func (opaqueFailingModel) Baseline(criteria.Patient) float64 { return 100 }

func (opaqueFailingModel) Respond(criteria.Patient, pharma.DosingSchedule) (pharma.ResponseSeries, error) {
	return nil, fmt.Errorf("model backend unavailable")
}

func TestRunDivergenceFallsBackToLastTimepoint(t *testing.T) {
	generator := population.NewGenerator(schema.Default(), population.DefaultBudgetFactor)
	simulator := NewSimulator(generator, opaqueFailingModel{}, nil)

	cfg := defaultConfig()
	_, err := simulator.Run(context.Background(), uuid.New(), adultConstraint(t), cfg)

	var diverged *SimulationDivergedError
	if !errors.As(err, &diverged) {
		t.Fatalf("expected SimulationDivergedError, got %v", err)
	}
	last := cfg.Schedule[len(cfg.Schedule)-1].TimeOffset
	if diverged.Timepoint != last {
		t.Fatalf("expected fallback timepoint %v, got %v", last, diverged.Timepoint)
	}
}

func TestExportCSVOneRowPerPatient(t *testing.T) {
	simulator := newTestSimulator(t, "saturating")
	run, err := simulator.Run(context.Background(), uuid.New(), adultConstraint(t), defaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf strings.Builder
	if err := ExportCSV(&buf, run, schema.Default()); err != nil {
		t.Fatalf("unexpected export error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(run.Cohort)+1 {
		t.Fatalf("expected header plus %d rows, got %d lines", len(run.Cohort), len(lines))
	}
	if !strings.HasPrefix(lines[0], "patient_id,") {
		t.Fatalf("unexpected header %q", lines[0])
	}
}
