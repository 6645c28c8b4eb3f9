package simulation

import (
	"context"
	"testing"
	"time"

	"github.com/trialforge-ai/platform/pkg/common/models"
	"github.com/trialforge-ai/platform/pkg/population"
	"github.com/trialforge-ai/platform/pkg/protocol"
	"github.com/trialforge-ai/platform/pkg/schema"
)

const serviceProtocol = `Phase II Glucose Study
Inclusion Criteria:
- Age between 18 and 65 years.
`

func newTestService(t *testing.T) *Service {
	t.Helper()
	sch := schema.Default()
	parser := protocol.NewParser(sch, protocol.NewHeuristicExtractor(), time.Second)
	generator := population.NewGenerator(sch, population.DefaultBudgetFactor)
	return NewService(parser, generator, sch, nil, nil, Defaults{
		DrugModel:         "zero-effect",
		ResponseThreshold: 10,
		AdverseThreshold:  -15,
	})
}

func TestStartRunAppliesDefaultThresholds(t *testing.T) {
	service := newTestService(t)

	run, _, err := service.StartRun(context.Background(), models.SimulationRequest{
		ProtocolText:     serviceProtocol,
		EnrollmentTarget: 10,
		Seed:             42,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Config.ResponseThreshold != 10 {
		t.Fatalf("expected default response threshold 10, got %v", run.Config.ResponseThreshold)
	}
	if run.Config.AdverseThreshold != -15 {
		t.Fatalf("expected default adverse threshold -15, got %v", run.Config.AdverseThreshold)
	}
}

func TestStartRunHonorsExplicitZeroThreshold(t *testing.T) {
	service := newTestService(t)

	zero := 0.0
	run, _, err := service.StartRun(context.Background(), models.SimulationRequest{
		ProtocolText:      serviceProtocol,
		EnrollmentTarget:  10,
		Seed:              42,
		ResponseThreshold: &zero,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Config.ResponseThreshold != 0 {
		t.Fatalf("expected requested zero threshold, got %v", run.Config.ResponseThreshold)
	}
	// under the zero-effect model every delta is 0, so a zero response
	// threshold classifies the whole cohort as responders
	if run.Aggregate.ResponseRate != 1 {
		t.Fatalf("expected response rate 1 with zero threshold, got %v", run.Aggregate.ResponseRate)
	}
}

func TestStartRunRejectsEmptyProtocolText(t *testing.T) {
	service := newTestService(t)

	if _, _, err := service.StartRun(context.Background(), models.SimulationRequest{
		ProtocolText:     "   ",
		EnrollmentTarget: 10,
	}); err == nil {
		t.Fatal("expected error for empty protocol text")
	}
	if _, _, err := service.StartRun(context.Background(), models.SimulationRequest{
		ProtocolText: serviceProtocol,
	}); err == nil {
		t.Fatal("expected error for missing enrollment target")
	}
}
