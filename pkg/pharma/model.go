package pharma

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/trialforge-ai/platform/pkg/criteria"
	"gopkg.in/yaml.v3"
)

// Dose is one administration in a dosing schedule: an offset in days from
// enrollment and an amount in schedule units.
type Dose struct {
	TimeOffset float64 `yaml:"time_offset" json:"time_offset"`
	Amount     float64 `yaml:"amount" json:"amount"`
}

type DosingSchedule []Dose

// LoadSchedule reads a dosing schedule from YAML. An empty path returns the
// default weekly schedule.
func LoadSchedule(path string) (DosingSchedule, error) {
	if path == "" {
		return DefaultSchedule(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultSchedule(), err
	}
	var cfg struct {
		Doses DosingSchedule `yaml:"doses"`
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Doses) == 0 {
		return nil, fmt.Errorf("dosing schedule is empty")
	}
	return cfg.Doses, nil
}

func DefaultSchedule() DosingSchedule {
	schedule := make(DosingSchedule, 0, 12)
	for week := 0; week < 12; week++ {
		schedule = append(schedule, Dose{TimeOffset: float64(week * 7), Amount: 50})
	}
	return schedule
}

// DivergenceError reports a non-finite model output and the timepoint that
// produced it.
type DivergenceError struct {
	Timepoint float64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("non-finite response at timepoint %v", e.Timepoint)
}

type ResponsePoint struct {
	Timepoint float64 `json:"timepoint"`
	Value     float64 `json:"value"`
}

// ResponseSeries is one patient's measured endpoint over simulated time.
type ResponseSeries []ResponsePoint

// Model maps a patient and a dosing schedule to a response series. Variants
// differ only in their pharmacodynamic curve; the simulator selects one by
// name and is otherwise agnostic.
type Model interface {
	Name() string
	Baseline(patient criteria.Patient) float64
	Respond(patient criteria.Patient, schedule DosingSchedule) (ResponseSeries, error)
}

// Params configures a model variant. Zero values fall back to workable
// defaults inside New.
type Params struct {
	Slope     float64 `yaml:"slope" json:"slope"`
	Emax      float64 `yaml:"emax" json:"emax"`
	EC50      float64 `yaml:"ec50" json:"ec50"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Effect    float64 `yaml:"effect" json:"effect"`
}

func New(name string, params Params) (Model, error) {
	switch name {
	case "linear":
		if params.Slope == 0 {
			params.Slope = 0.05
		}
		return &LinearModel{slope: params.Slope}, nil
	case "saturating":
		if params.Emax == 0 {
			params.Emax = 30
		}
		if params.EC50 == 0 {
			params.EC50 = 200
		}
		return &SaturatingModel{emax: params.Emax, ec50: params.EC50}, nil
	case "threshold":
		if params.Threshold == 0 {
			params.Threshold = 150
		}
		if params.Effect == 0 {
			params.Effect = 20
		}
		return &ThresholdModel{threshold: params.Threshold, effect: params.Effect}, nil
	case "zero-effect":
		return &ZeroEffectModel{}, nil
	}
	return nil, fmt.Errorf("unknown drug model %q", name)
}

// baselineFor derives a per-patient baseline endpoint from the record so the
// same patient always normalizes the same way. Prefers a glucose lab when the
// schema provides one.
func baselineFor(patient criteria.Patient) float64 {
	if lab, ok := patient.Attribute("lab_glucose"); ok {
		return lab.Number
	}
	if age, ok := patient.Attribute("age"); ok {
		return 100 + (age.Number-50)*0.5
	}
	return 100
}

// cumulativeExposure sums dose amounts administered at or before t.
func cumulativeExposure(schedule DosingSchedule, t float64) float64 {
	var total float64
	for _, dose := range schedule {
		if dose.TimeOffset <= t {
			total += dose.Amount
		}
	}
	return total
}

// LinearModel raises the endpoint proportionally to cumulative exposure.
type LinearModel struct {
	slope float64
}

func (m *LinearModel) Name() string { return "linear" }

func (m *LinearModel) Baseline(patient criteria.Patient) float64 { return baselineFor(patient) }

func (m *LinearModel) Respond(patient criteria.Patient, schedule DosingSchedule) (ResponseSeries, error) {
	return respondOver(patient, schedule, func(baseline, exposure float64) float64 {
		return baseline + m.slope*exposure
	})
}

// SaturatingModel follows a Michaelis-Menten style curve: effect approaches
// Emax as exposure grows.
type SaturatingModel struct {
	emax float64
	ec50 float64
}

func (m *SaturatingModel) Name() string { return "saturating" }

func (m *SaturatingModel) Baseline(patient criteria.Patient) float64 { return baselineFor(patient) }

func (m *SaturatingModel) Respond(patient criteria.Patient, schedule DosingSchedule) (ResponseSeries, error) {
	return respondOver(patient, schedule, func(baseline, exposure float64) float64 {
		return baseline + m.emax*exposure/(m.ec50+exposure)
	})
}

// ThresholdModel shows no effect until cumulative exposure crosses the
// threshold, then a fixed effect.
type ThresholdModel struct {
	threshold float64
	effect    float64
}

func (m *ThresholdModel) Name() string { return "threshold" }

func (m *ThresholdModel) Baseline(patient criteria.Patient) float64 { return baselineFor(patient) }

func (m *ThresholdModel) Respond(patient criteria.Patient, schedule DosingSchedule) (ResponseSeries, error) {
	return respondOver(patient, schedule, func(baseline, exposure float64) float64 {
		if exposure < m.threshold {
			return baseline
		}
		return baseline + m.effect
	})
}

// ZeroEffectModel returns the baseline at every timepoint. Used to calibrate
// outcome thresholds: a cohort under it must show a zero response rate.
type ZeroEffectModel struct{}

func (m *ZeroEffectModel) Name() string { return "zero-effect" }

func (m *ZeroEffectModel) Baseline(patient criteria.Patient) float64 { return baselineFor(patient) }

func (m *ZeroEffectModel) Respond(patient criteria.Patient, schedule DosingSchedule) (ResponseSeries, error) {
	return respondOver(patient, schedule, func(baseline, _ float64) float64 {
		return baseline
	})
}

func respondOver(patient criteria.Patient, schedule DosingSchedule, curve func(baseline, exposure float64) float64) (ResponseSeries, error) {
	if len(schedule) == 0 {
		return nil, fmt.Errorf("empty dosing schedule")
	}
	baseline := baselineFor(patient)
	series := make(ResponseSeries, 0, len(schedule))
	for _, dose := range schedule {
		value := curve(baseline, cumulativeExposure(schedule, dose.TimeOffset))
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, &DivergenceError{Timepoint: dose.TimeOffset}
		}
		series = append(series, ResponsePoint{Timepoint: dose.TimeOffset, Value: value})
	}
	return series, nil
}
