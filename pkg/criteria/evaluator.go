package criteria

import "github.com/trialforge-ai/platform/pkg/schema"

const ReasonMissingAttribute = "missing_attribute"

// EligibilityResult reports whether a patient satisfies an eligibility tree
// and, when it does not, which criteria failed in pre-order.
type EligibilityResult struct {
	PatientID       string    `json:"patient_id"`
	Passed          bool      `json:"passed"`
	FailingCriteria []NodeRef `json:"failing_criteria,omitempty"`
}

// Evaluate walks the tree with short-circuit semantics. AND stops at the first
// failing child and keeps it; OR stops at the first passing child. A missing
// patient attribute fails the referencing criterion rather than aborting the
// evaluation. Evaluate is pure and safe for concurrent use.
func Evaluate(ast *AST, patient Patient) EligibilityResult {
	passed, failures := evalNode(ast.Root, patient)
	return EligibilityResult{
		PatientID:       patient.ID,
		Passed:          passed,
		FailingCriteria: failures,
	}
}

// SatisfiedBy reports whether the subtree rooted at n holds for the patient.
// A missing attribute counts as unsatisfied.
func (n *Node) SatisfiedBy(patient Patient) bool {
	ok, _ := evalNode(n, patient)
	return ok
}

func evalNode(node *Node, patient Patient) (bool, []NodeRef) {
	switch node.Kind {
	case KindBooleanOp:
		return evalBool(node, patient)
	default:
		return evalLeaf(node, patient)
	}
}

func evalBool(node *Node, patient Patient) (bool, []NodeRef) {
	switch node.Op {
	case OpAnd:
		for _, child := range node.Children {
			if ok, failures := evalNode(child, patient); !ok {
				return false, failures
			}
		}
		return true, nil
	case OpOr:
		var failures []NodeRef
		for _, child := range node.Children {
			ok, childFailures := evalNode(child, patient)
			if ok {
				return true, nil
			}
			failures = append(failures, childFailures...)
		}
		return false, failures
	default: // OpNot
		ok, _ := evalNode(node.Children[0], patient)
		if ok {
			ref := node.ref
			ref.Reason = "exclusion matched"
			return false, []NodeRef{ref}
		}
		return true, nil
	}
}

func evalLeaf(node *Node, patient Patient) (bool, []NodeRef) {
	value, ok := patient.Attribute(node.Attribute)
	if !ok {
		ref := node.ref
		ref.Reason = ReasonMissingAttribute
		return false, []NodeRef{ref}
	}

	if satisfiesLeaf(node, value) {
		return true, nil
	}
	return false, []NodeRef{node.ref}
}

func satisfiesLeaf(node *Node, value Value) bool {
	if node.Kind == KindMembership {
		return containsString(node.Set, value.Text)
	}

	switch node.ValueType {
	case schema.Numeric:
		if value.Kind != schema.Numeric {
			return false
		}
		return compareNumeric(node, value.Number)
	case schema.Boolean:
		if value.Kind != schema.Boolean {
			return false
		}
		if node.Operator == OpNE {
			return value.Flag != node.Flag
		}
		return value.Flag == node.Flag
	default:
		if value.Kind != schema.Categorical {
			return false
		}
		if node.Operator == OpNE {
			return value.Text != node.Text
		}
		return value.Text == node.Text
	}
}

func compareNumeric(node *Node, v float64) bool {
	switch node.Operator {
	case OpLT:
		return v < node.Number
	case OpLE:
		return v <= node.Number
	case OpGT:
		return v > node.Number
	case OpGE:
		return v >= node.Number
	case OpEQ:
		return v == node.Number
	case OpNE:
		return v != node.Number
	case OpBetween:
		// inclusive on both ends
		return v >= node.Bounds[0] && v <= node.Bounds[1]
	}
	return false
}
