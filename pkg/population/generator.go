package population

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/trialforge-ai/platform/pkg/criteria"
	"github.com/trialforge-ai/platform/pkg/observability/metrics"
	"github.com/trialforge-ai/platform/pkg/schema"
)

type Mode string

const (
	ModeUnconstrained Mode = "unconstrained"
	ModeSatisfying    Mode = "satisfying"
	ModeViolating     Mode = "violating"
)

const DefaultBudgetFactor = 50

var ErrInvalidSpec = errors.New("invalid generation spec")

// InfeasibleConstraintError is returned when the rejection-sampling budget is
// exhausted before the requested cohort size is reached.
type InfeasibleConstraintError struct {
	Mode  Mode
	Draws int
	Kept  int
	Want  int
}

func (e *InfeasibleConstraintError) Error() string {
	return fmt.Sprintf("constraint infeasible in %s mode: kept %d of %d patients after %d draws", e.Mode, e.Kept, e.Want, e.Draws)
}

// GenerationSpec fully determines a cohort: identical specs (seed included)
// yield identical patients.
type GenerationSpec struct {
	Count      int               `json:"count"`
	Seed       int64             `json:"seed"`
	Mode       Mode              `json:"mode"`
	Constraint *criteria.AST     `json:"-"`
	TargetRef  *criteria.NodeRef `json:"target_ref,omitempty"`
}

type Generator struct {
	schema       schema.Schema
	budgetFactor int
}

func NewGenerator(sch schema.Schema, budgetFactor int) *Generator {
	if budgetFactor <= 0 {
		budgetFactor = DefaultBudgetFactor
	}
	return &Generator{schema: sch, budgetFactor: budgetFactor}
}

// BudgetFactor is the rejection-sampling budget multiplier this generator was
// configured with.
func (g *Generator) BudgetFactor() int { return g.budgetFactor }

// Generate samples a synthetic cohort. In satisfying mode candidates are
// rejection-sampled against the constraint; in violating mode candidates must
// break exactly one leaf criterion (the targeted one when TargetRef is set).
// The draw budget is budgetFactor x count; exhausting it returns
// InfeasibleConstraintError instead of looping.
func (g *Generator) Generate(spec GenerationSpec) ([]criteria.Patient, error) {
	if spec.Count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive", ErrInvalidSpec)
	}
	if spec.Mode == "" {
		spec.Mode = ModeUnconstrained
	}
	if spec.Mode != ModeUnconstrained && spec.Constraint == nil {
		return nil, fmt.Errorf("%w: %s mode requires a constraint", ErrInvalidSpec, spec.Mode)
	}

	rng := rand.New(rand.NewSource(spec.Seed))
	names := g.schema.Names()

	if spec.Mode == ModeUnconstrained || spec.Constraint == nil {
		cohort := make([]criteria.Patient, 0, spec.Count)
		for i := 0; i < spec.Count; i++ {
			cohort = append(cohort, g.draw(rng, names, len(cohort)+1))
		}
		metrics.ObserveGeneration(len(cohort), 0)
		return cohort, nil
	}

	var polarity map[int]bool
	if spec.Mode == ModeViolating {
		polarity = leafPolarity(spec.Constraint)
	}

	budget := g.budgetFactor * spec.Count
	cohort := make([]criteria.Patient, 0, spec.Count)
	draws := 0
	for len(cohort) < spec.Count && draws < budget {
		candidate := g.draw(rng, names, len(cohort)+1)
		draws++
		if g.keep(spec, polarity, candidate) {
			cohort = append(cohort, candidate)
		}
	}

	metrics.ObserveGeneration(len(cohort), draws-len(cohort))
	if len(cohort) < spec.Count {
		return nil, &InfeasibleConstraintError{Mode: spec.Mode, Draws: draws, Kept: len(cohort), Want: spec.Count}
	}
	return cohort, nil
}

func (g *Generator) keep(spec GenerationSpec, polarity map[int]bool, candidate criteria.Patient) bool {
	result := criteria.Evaluate(spec.Constraint, candidate)
	if spec.Mode == ModeSatisfying {
		return result.Passed
	}

	// violating: overall ineligible with exactly one leaf deviating from the
	// passing configuration
	if result.Passed {
		return false
	}
	wrong := wrongLeaves(spec.Constraint, polarity, candidate)
	if len(wrong) != 1 {
		return false
	}
	if spec.TargetRef != nil && wrong[0].Index != spec.TargetRef.Index {
		return false
	}
	return true
}

func (g *Generator) draw(rng *rand.Rand, names []string, ordinal int) criteria.Patient {
	attrs := make(map[string]criteria.Value, len(names))
	for _, name := range names {
		attrs[name] = sampleAttribute(rng, g.schema.Attributes[name])
	}
	return criteria.Patient{ID: fmt.Sprintf("P%04d", ordinal), Attributes: attrs}
}

func sampleAttribute(rng *rand.Rand, attr schema.Attribute) criteria.Value {
	switch attr.Type {
	case schema.Numeric:
		if attr.Distribution == schema.Normal {
			value := rng.NormFloat64()*attr.StdDev + attr.Mean
			return criteria.NumberValue(clamp(value, attr.Min, attr.Max))
		}
		return criteria.NumberValue(attr.Min + rng.Float64()*(attr.Max-attr.Min))
	case schema.Boolean:
		return criteria.FlagValue(rng.Float64() < attr.TrueProbability)
	default:
		return criteria.TextValue(weightedChoice(rng, attr.Categories, attr.Weights))
	}
}

func weightedChoice(rng *rand.Rand, categories []string, weights []float64) string {
	if len(weights) != len(categories) {
		return categories[rng.Intn(len(categories))]
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	target := rng.Float64() * total
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if target < cumulative {
			return categories[i]
		}
	}
	return categories[len(categories)-1]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// leafPolarity records, per leaf index, whether the leaf must be satisfied
// for the tree to pass (true under an even number of enclosing NOTs).
func leafPolarity(ast *criteria.AST) map[int]bool {
	polarity := make(map[int]bool)
	var walk func(node *criteria.Node, negated bool)
	walk = func(node *criteria.Node, negated bool) {
		if node.IsLeaf() {
			polarity[node.Ref().Index] = !negated
			return
		}
		childNegated := negated
		if node.Op == criteria.OpNot {
			childNegated = !negated
		}
		for _, child := range node.Children {
			walk(child, childNegated)
		}
	}
	walk(ast.Root, false)
	return polarity
}

func wrongLeaves(ast *criteria.AST, polarity map[int]bool, patient criteria.Patient) []criteria.NodeRef {
	var wrong []criteria.NodeRef
	for _, leaf := range ast.Leaves() {
		satisfied := leaf.SatisfiedBy(patient)
		if satisfied != polarity[leaf.Ref().Index] {
			wrong = append(wrong, leaf.Ref())
		}
	}
	return wrong
}
