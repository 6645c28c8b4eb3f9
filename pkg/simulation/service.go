package simulation

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/trialforge-ai/platform/pkg/common/logger"
	"github.com/trialforge-ai/platform/pkg/common/models"
	"github.com/trialforge-ai/platform/pkg/pharma"
	"github.com/trialforge-ai/platform/pkg/population"
	"github.com/trialforge-ai/platform/pkg/protocol"
	"github.com/trialforge-ai/platform/pkg/schema"
)

// Defaults fill request fields the caller left unset.
type Defaults struct {
	DrugModel         string
	ResponseThreshold float64
	AdverseThreshold  float64
	Workers           int
	Schedule          pharma.DosingSchedule
}

// Service ties protocol parsing, cohort simulation and run persistence
// together behind one API surface.
type Service struct {
	parser    *protocol.Parser
	generator *population.Generator
	schema    schema.Schema
	publisher EventPublisher
	store     RunStore
	defaults  Defaults
}

func NewService(parser *protocol.Parser, generator *population.Generator, sch schema.Schema, publisher EventPublisher, store RunStore, defaults Defaults) *Service {
	if defaults.DrugModel == "" {
		defaults.DrugModel = "saturating"
	}
	if len(defaults.Schedule) == 0 {
		defaults.Schedule = pharma.DefaultSchedule()
	}
	return &Service{
		parser:    parser,
		generator: generator,
		schema:    sch,
		publisher: publisher,
		store:     store,
		defaults:  defaults,
	}
}

// StartRun parses the protocol text, runs one simulation against the
// extracted eligibility tree, and persists the terminal run. Failed runs are
// persisted too so infeasible protocols stay inspectable.
func (s *Service) StartRun(ctx context.Context, req models.SimulationRequest) (*Run, *protocol.ParsedProtocol, error) {
	if strings.TrimSpace(req.ProtocolText) == "" {
		return nil, nil, fmt.Errorf("protocol text is empty")
	}
	if req.EnrollmentTarget <= 0 {
		return nil, nil, fmt.Errorf("enrollment target must be positive")
	}

	parsed, err := s.parser.Parse(ctx, req.ProtocolText)
	if err != nil {
		return nil, nil, err
	}

	modelName := req.DrugModel
	if modelName == "" {
		modelName = s.defaults.DrugModel
	}
	model, err := pharma.New(modelName, pharma.Params{})
	if err != nil {
		return nil, parsed, err
	}

	cfg := Config{
		EnrollmentTarget:  req.EnrollmentTarget,
		Seed:              req.Seed,
		ResponseThreshold: s.defaults.ResponseThreshold,
		AdverseThreshold:  s.defaults.AdverseThreshold,
		Workers:           s.defaults.Workers,
		Schedule:          s.defaults.Schedule,
	}
	if req.ResponseThreshold != nil {
		cfg.ResponseThreshold = *req.ResponseThreshold
	}
	if req.AdverseThreshold != nil {
		cfg.AdverseThreshold = *req.AdverseThreshold
	}

	simulator := NewSimulator(s.generator, model, s.publisher)
	run, runErr := simulator.Run(ctx, parsed.ID, parsed.Criteria, cfg)
	if run != nil && s.store != nil {
		if saveErr := s.store.SaveRun(ctx, run); saveErr != nil {
			logger.Log.WithError(saveErr).WithField("run_id", run.ID.String()).Warn("failed to persist run")
		}
	}
	return run, parsed, runErr
}

func (s *Service) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	if s.store == nil {
		return nil, fmt.Errorf("run persistence is disabled")
	}
	return s.store.GetRun(ctx, runID)
}

func (s *Service) ListRuns(ctx context.Context, protocolID *uuid.UUID, limit int) ([]RunSummary, error) {
	if s.store == nil {
		return nil, fmt.Errorf("run persistence is disabled")
	}
	return s.store.ListRuns(ctx, protocolID, limit)
}

// ExportRun streams a persisted run's cohort as CSV.
func (s *Service) ExportRun(ctx context.Context, w io.Writer, runID uuid.UUID) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return ExportCSV(w, run, s.schema)
}
