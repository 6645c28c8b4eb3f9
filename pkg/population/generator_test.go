package population

import (
	"errors"
	"testing"

	"github.com/trialforge-ai/platform/pkg/criteria"
	"github.com/trialforge-ai/platform/pkg/schema"
)

func adultDiabeticConstraint(t *testing.T) *criteria.AST {
	t.Helper()
	sch := schema.Default()
	age, err := criteria.NewComparison(sch, "age", criteria.OpGE, 18.0)
	if err != nil {
		t.Fatalf("failed to build criterion: %v", err)
	}
	diabetic, err := criteria.NewComparison(sch, "diabetic", criteria.OpEQ, true)
	if err != nil {
		t.Fatalf("failed to build criterion: %v", err)
	}
	root, err := criteria.NewAnd(age, diabetic)
	if err != nil {
		t.Fatalf("failed to build AND: %v", err)
	}
	ast, err := criteria.Finalize(root)
	if err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	return ast
}

func TestGenerateSatisfyingReturnsExactlyNPassingPatients(t *testing.T) {
	generator := NewGenerator(schema.Default(), DefaultBudgetFactor)
	constraint := adultDiabeticConstraint(t)

	cohort, err := generator.Generate(GenerationSpec{
		Count:      100,
		Seed:       42,
		Mode:       ModeSatisfying,
		Constraint: constraint,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cohort) != 100 {
		t.Fatalf("expected 100 patients, got %d", len(cohort))
	}
	for _, patient := range cohort {
		result := criteria.Evaluate(constraint, patient)
		if !result.Passed {
			t.Fatalf("patient %s fails the constraint: %v", patient.ID, result.FailingCriteria)
		}
		if patient.Attributes["age"].Number < 18 {
			t.Fatalf("patient %s has age %v below 18", patient.ID, patient.Attributes["age"].Number)
		}
		if !patient.Attributes["diabetic"].Flag {
			t.Fatalf("patient %s is not diabetic", patient.ID)
		}
	}
}

func TestGenerateIsDeterministicPerSeed(t *testing.T) {
	generator := NewGenerator(schema.Default(), DefaultBudgetFactor)
	spec := GenerationSpec{Count: 25, Seed: 7, Mode: ModeUnconstrained}

	first, err := generator.Generate(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := generator.Generate(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("cohort sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("patient %d id differs: %s vs %s", i, first[i].ID, second[i].ID)
		}
		for name, value := range first[i].Attributes {
			if second[i].Attributes[name] != value {
				t.Fatalf("patient %s attribute %s differs: %v vs %v", first[i].ID, name, value, second[i].Attributes[name])
			}
		}
	}
}

func TestGenerateDifferentSeedsDiffer(t *testing.T) {
	generator := NewGenerator(schema.Default(), DefaultBudgetFactor)
	first, err := generator.Generate(GenerationSpec{Count: 25, Seed: 1, Mode: ModeUnconstrained})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := generator.Generate(GenerationSpec{Count: 25, Seed: 2, Mode: ModeUnconstrained})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	identical := true
	for i := range first {
		for name, value := range first[i].Attributes {
			if second[i].Attributes[name] != value {
				identical = false
			}
		}
	}
	if identical {
		t.Fatal("different seeds produced identical cohorts")
	}
}

func TestGenerateInfeasibleConstraintFailsInsteadOfHanging(t *testing.T) {
	sch := schema.Default()
	// satisfied by well under 1% of the unconstrained population
	impossible, err := criteria.NewComparison(sch, "lab_glucose", criteria.OpGE, 399.0)
	if err != nil {
		t.Fatalf("failed to build criterion: %v", err)
	}
	ast, err := criteria.Finalize(impossible)
	if err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}

	generator := NewGenerator(sch, DefaultBudgetFactor)
	_, err = generator.Generate(GenerationSpec{Count: 50, Seed: 3, Mode: ModeSatisfying, Constraint: ast})

	var infeasible *InfeasibleConstraintError
	if !errors.As(err, &infeasible) {
		t.Fatalf("expected InfeasibleConstraintError, got %v", err)
	}
	if infeasible.Draws != DefaultBudgetFactor*50 {
		t.Fatalf("expected budget of %d draws attempted, got %d", DefaultBudgetFactor*50, infeasible.Draws)
	}
}

func TestGenerateViolatingBreaksExactlyOneLeaf(t *testing.T) {
	constraint := adultDiabeticConstraint(t)
	generator := NewGenerator(schema.Default(), 200)

	cohort, err := generator.Generate(GenerationSpec{
		Count:      20,
		Seed:       11,
		Mode:       ModeViolating,
		Constraint: constraint,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	polarity := leafPolarity(constraint)
	for _, patient := range cohort {
		if criteria.Evaluate(constraint, patient).Passed {
			t.Fatalf("violating patient %s passes the constraint", patient.ID)
		}
		wrong := wrongLeaves(constraint, polarity, patient)
		if len(wrong) != 1 {
			t.Fatalf("patient %s breaks %d criteria, want exactly 1", patient.ID, len(wrong))
		}
	}
}

func TestGenerateViolatingHonorsTarget(t *testing.T) {
	constraint := adultDiabeticConstraint(t)
	leaves := constraint.Leaves()
	target := leaves[1].Ref() // the diabetic criterion

	generator := NewGenerator(schema.Default(), 500)
	cohort, err := generator.Generate(GenerationSpec{
		Count:      10,
		Seed:       13,
		Mode:       ModeViolating,
		Constraint: constraint,
		TargetRef:  &target,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, patient := range cohort {
		if patient.Attributes["diabetic"].Flag {
			t.Fatalf("patient %s satisfies the targeted criterion", patient.ID)
		}
		if patient.Attributes["age"].Number < 18 {
			t.Fatalf("patient %s breaks a non-targeted criterion", patient.ID)
		}
	}
}

func TestGenerateRejectsBadSpecs(t *testing.T) {
	generator := NewGenerator(schema.Default(), DefaultBudgetFactor)
	if _, err := generator.Generate(GenerationSpec{Count: 0}); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec for zero count, got %v", err)
	}
	if _, err := generator.Generate(GenerationSpec{Count: 5, Mode: ModeSatisfying}); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec for satisfying mode without constraint, got %v", err)
	}
}
