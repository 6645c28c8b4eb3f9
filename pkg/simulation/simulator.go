package simulation

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/trialforge-ai/platform/pkg/common/logger"
	"github.com/trialforge-ai/platform/pkg/criteria"
	"github.com/trialforge-ai/platform/pkg/observability/metrics"
	"github.com/trialforge-ai/platform/pkg/pharma"
	"github.com/trialforge-ai/platform/pkg/population"
	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateConfigured State = "configured"
	StateEnrolling  State = "enrolling"
	StateDosing     State = "dosing"
	StateMeasuring  State = "measuring"
	StateAggregated State = "aggregated"
	StateFailed     State = "failed"
)

type OutcomeClass string

const (
	Responder    OutcomeClass = "responder"
	NonResponder OutcomeClass = "non_responder"
	AdverseEvent OutcomeClass = "adverse_event"
)

// EnrollmentInfeasibleError is raised when screening exhausts the draw budget
// before reaching the enrollment target.
type EnrollmentInfeasibleError struct {
	Target   int
	Enrolled int
	Draws    int
}

func (e *EnrollmentInfeasibleError) Error() string {
	return fmt.Sprintf("enrollment infeasible: %d of %d enrolled after %d draws", e.Enrolled, e.Target, e.Draws)
}

// SimulationDivergedError is raised when a drug model produces a non-finite
// value; it names the offending patient and timepoint for diagnosis.
type SimulationDivergedError struct {
	PatientID string
	Timepoint float64
	Cause     error
}

func (e *SimulationDivergedError) Error() string {
	return fmt.Sprintf("simulation diverged for patient %s at timepoint %v: %v", e.PatientID, e.Timepoint, e.Cause)
}

func (e *SimulationDivergedError) Unwrap() error { return e.Cause }

// Config is the immutable per-run configuration.
type Config struct {
	EnrollmentTarget  int                   `json:"enrollment_target"`
	Seed              int64                 `json:"seed"`
	ResponseThreshold float64               `json:"response_threshold"`
	AdverseThreshold  float64               `json:"adverse_threshold"`
	Workers           int                   `json:"workers,omitempty"`
	Schedule          pharma.DosingSchedule `json:"schedule"`
}

// PatientOutcome holds one enrolled patient's dosing and measurement results.
type PatientOutcome struct {
	PatientID string                `json:"patient_id"`
	Baseline  float64               `json:"baseline"`
	Series    pharma.ResponseSeries `json:"series"`
	Delta     float64               `json:"delta"`
	Class     OutcomeClass          `json:"class"`
}

// Aggregate summarizes the cohort once every patient is measured.
type Aggregate struct {
	Enrolled       int     `json:"enrolled"`
	Screened       int     `json:"screened"`
	ScreenFailures int     `json:"screen_failures"`
	Responders     int     `json:"responders"`
	NonResponders  int     `json:"non_responders"`
	AdverseEvents  int     `json:"adverse_events"`
	DropoutCount   int     `json:"dropout_count"`
	ResponseRate   float64 `json:"response_rate"`
	MeanEffectSize float64 `json:"mean_effect_size"`
}

type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Run is the full record of one simulation. It is mutated only by the
// simulator that created it and is immutable once returned.
type Run struct {
	ID            uuid.UUID                    `json:"run_id"`
	ProtocolID    uuid.UUID                    `json:"protocol_id"`
	State         State                        `json:"state"`
	DrugModel     string                       `json:"drug_model"`
	Config        Config                       `json:"config"`
	Cohort        []criteria.Patient           `json:"cohort"`
	Eligibility   []criteria.EligibilityResult `json:"eligibility"`
	Outcomes      []PatientOutcome             `json:"outcomes"`
	Aggregate     Aggregate                    `json:"aggregate"`
	FailureReason string                       `json:"failure_reason,omitempty"`
	History       []Transition                 `json:"history"`
	StartedAt     time.Time                    `json:"started_at"`
	CompletedAt   time.Time                    `json:"completed_at"`
}

func (r *Run) transition(state State) {
	r.State = state
	r.History = append(r.History, Transition{State: state, At: time.Now().UTC()})
}

// EventPublisher matches the kafka producer used across services. A nil
// publisher disables events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Simulator struct {
	generator *population.Generator
	model     pharma.Model
	publisher EventPublisher
}

func NewSimulator(generator *population.Generator, model pharma.Model, publisher EventPublisher) *Simulator {
	return &Simulator{generator: generator, model: model, publisher: publisher}
}

// Run drives one simulation through the state machine:
// Configured -> Enrolling -> Dosing -> Measuring -> Aggregated, with Failed
// reachable from any non-terminal state. The returned Run always reflects the
// terminal state, also when an error is returned.
func (s *Simulator) Run(ctx context.Context, protocolID uuid.UUID, eligibility *criteria.AST, cfg Config) (*Run, error) {
	run := &Run{
		ID:         uuid.New(),
		ProtocolID: protocolID,
		DrugModel:  s.model.Name(),
		Config:     cfg,
		StartedAt:  time.Now().UTC(),
	}
	run.transition(StateConfigured)
	s.publish(ctx, "simulation.run_started", run, nil)

	if cfg.EnrollmentTarget <= 0 {
		return s.fail(ctx, run, fmt.Errorf("enrollment target must be positive"))
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = pharma.DefaultSchedule()
		run.Config.Schedule = cfg.Schedule
	}

	run.transition(StateEnrolling)
	if err := s.enroll(run, eligibility, cfg); err != nil {
		return s.fail(ctx, run, err)
	}

	run.transition(StateDosing)
	outcomes, err := s.doseAndMeasure(ctx, run, cfg)
	if err != nil {
		return s.fail(ctx, run, err)
	}

	run.transition(StateMeasuring)
	run.Outcomes = outcomes

	run.transition(StateAggregated)
	run.Aggregate = aggregate(run)
	run.CompletedAt = time.Now().UTC()

	metrics.ObserveRunCompleted()
	s.publish(ctx, "simulation.run_completed", run, map[string]interface{}{
		"response_rate": run.Aggregate.ResponseRate,
		"enrolled":      run.Aggregate.Enrolled,
	})
	logger.Log.WithFields(map[string]interface{}{
		"run_id":        run.ID.String(),
		"enrolled":      run.Aggregate.Enrolled,
		"response_rate": run.Aggregate.ResponseRate,
	}).Info("simulation run aggregated")
	return run, nil
}

// enroll screens unconstrained candidates through the evaluator until the
// target is met, re-requesting in deterministic batches. The overall draw
// budget mirrors the generator's: budget factor x target.
func (s *Simulator) enroll(run *Run, eligibility *criteria.AST, cfg Config) error {
	target := cfg.EnrollmentTarget
	budget := s.generator.BudgetFactor() * target

	draws := 0
	batch := 0
	for len(run.Cohort) < target && draws < budget {
		candidates, err := s.generator.Generate(population.GenerationSpec{
			Count: target,
			Seed:  cfg.Seed + int64(batch),
			Mode:  population.ModeUnconstrained,
		})
		if err != nil {
			return err
		}
		batch++

		for _, candidate := range candidates {
			if draws >= budget || len(run.Cohort) >= target {
				break
			}
			draws++
			if eligibility == nil {
				run.Cohort = append(run.Cohort, enrolledCopy(candidate, len(run.Cohort)+1))
				continue
			}
			result := criteria.Evaluate(eligibility, candidate)
			if !result.Passed {
				run.Aggregate.ScreenFailures++
				// generator IDs restart every batch; screen failures carry a
				// run-wide ordinal instead
				result.PatientID = fmt.Sprintf("S%04d", run.Aggregate.ScreenFailures)
				if len(run.Eligibility) < 100 {
					run.Eligibility = append(run.Eligibility, result)
				}
				continue
			}
			enrolled := enrolledCopy(candidate, len(run.Cohort)+1)
			result.PatientID = enrolled.ID
			run.Cohort = append(run.Cohort, enrolled)
			run.Eligibility = append(run.Eligibility, result)
		}
	}

	run.Aggregate.Screened = draws
	if len(run.Cohort) < target {
		return &EnrollmentInfeasibleError{Target: target, Enrolled: len(run.Cohort), Draws: draws}
	}
	return nil
}

// enrolledCopy re-identifies a screened candidate with its cohort ordinal.
// The candidate record itself is never mutated.
func enrolledCopy(candidate criteria.Patient, ordinal int) criteria.Patient {
	return criteria.Patient{ID: fmt.Sprintf("P%04d", ordinal), Attributes: candidate.Attributes}
}

// doseAndMeasure fans patients out over a worker pool. Workers write to
// pre-allocated slots, and the final slice is re-sorted by patient ID so the
// output never depends on completion order. Cancellation is cooperative:
// workers check the context between patients, never mid-patient.
func (s *Simulator) doseAndMeasure(ctx context.Context, run *Run, cfg Config) ([]PatientOutcome, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(run.Cohort) {
		workers = len(run.Cohort)
	}

	outcomes := make([]PatientOutcome, len(run.Cohort))
	indexes := make(chan int)

	group, groupCtx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		group.Go(func() error {
			for idx := range indexes {
				if err := groupCtx.Err(); err != nil {
					return err
				}
				outcome, err := s.measurePatient(run.Cohort[idx], cfg)
				if err != nil {
					return err
				}
				outcomes[idx] = outcome
			}
			return nil
		})
	}

	group.Go(func() error {
		defer close(indexes)
		for idx := range run.Cohort {
			select {
			case indexes <- idx:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].PatientID < outcomes[j].PatientID })
	return outcomes, nil
}

func (s *Simulator) measurePatient(patient criteria.Patient, cfg Config) (PatientOutcome, error) {
	series, err := s.model.Respond(patient, cfg.Schedule)
	if err != nil {
		timepoint := lastTimepoint(cfg.Schedule)
		var diverged *pharma.DivergenceError
		if errors.As(err, &diverged) {
			timepoint = diverged.Timepoint
		}
		return PatientOutcome{}, &SimulationDivergedError{PatientID: patient.ID, Timepoint: timepoint, Cause: err}
	}

	baseline := s.model.Baseline(patient)
	delta := series[len(series)-1].Value - baseline

	outcome := PatientOutcome{
		PatientID: patient.ID,
		Baseline:  baseline,
		Series:    series,
		Delta:     delta,
	}
	switch {
	case delta <= cfg.AdverseThreshold:
		outcome.Class = AdverseEvent
	case delta >= cfg.ResponseThreshold:
		outcome.Class = Responder
	default:
		outcome.Class = NonResponder
	}
	return outcome, nil
}

func lastTimepoint(schedule pharma.DosingSchedule) float64 {
	if len(schedule) == 0 {
		return 0
	}
	return schedule[len(schedule)-1].TimeOffset
}

func aggregate(run *Run) Aggregate {
	agg := run.Aggregate
	agg.Enrolled = len(run.Cohort)

	var totalDelta float64
	for _, outcome := range run.Outcomes {
		totalDelta += outcome.Delta
		switch outcome.Class {
		case Responder:
			agg.Responders++
		case AdverseEvent:
			agg.AdverseEvents++
		default:
			agg.NonResponders++
		}
	}
	// adverse events drop out of the trial
	agg.DropoutCount = agg.AdverseEvents
	if agg.Enrolled > 0 {
		agg.ResponseRate = float64(agg.Responders) / float64(agg.Enrolled)
		agg.MeanEffectSize = totalDelta / float64(agg.Enrolled)
	}
	return agg
}

func (s *Simulator) fail(ctx context.Context, run *Run, cause error) (*Run, error) {
	run.transition(StateFailed)
	run.FailureReason = cause.Error()
	run.CompletedAt = time.Now().UTC()

	metrics.ObserveRunFailed()
	s.publish(ctx, "simulation.run_failed", run, map[string]interface{}{"reason": cause.Error()})
	logger.Log.WithError(cause).WithField("run_id", run.ID.String()).Error("simulation run failed")
	return run, cause
}

func (s *Simulator) publish(ctx context.Context, eventType string, run *Run, extra map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	data := map[string]interface{}{
		"run_id":      run.ID.String(),
		"protocol_id": run.ProtocolID.String(),
		"state":       string(run.State),
		"drug_model":  run.DrugModel,
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := s.publisher.PublishEvent(ctx, eventType, "simulator-service", data); err != nil {
		logger.Log.WithError(err).Warn("failed to publish simulation event")
	}
}
