package criteria

import (
	"errors"
	"testing"

	"github.com/trialforge-ai/platform/pkg/schema"
)

func TestNewComparisonRejectsUnknownAttribute(t *testing.T) {
	_, err := NewComparison(schema.Default(), "karnofsky_score", OpGE, 70.0)
	if !errors.Is(err, ErrUnknownAttribute) {
		t.Fatalf("expected ErrUnknownAttribute, got %v", err)
	}
}

func TestNewComparisonRejectsTypeMismatch(t *testing.T) {
	sch := schema.Default()
	if _, err := NewComparison(sch, "sex", OpGE, 2.0); !errors.Is(err, ErrIncompatibleType) {
		t.Fatalf("expected ErrIncompatibleType for numeric operator on categorical attribute, got %v", err)
	}
	if _, err := NewComparison(sch, "age", OpEQ, "thirty"); !errors.Is(err, ErrIncompatibleType) {
		t.Fatalf("expected ErrIncompatibleType for string value on numeric attribute, got %v", err)
	}
}

func TestNewMembershipRejectsOutOfCategoryValue(t *testing.T) {
	_, err := NewMembership(schema.Default(), "ebv_status", []string{"indeterminate"})
	if !errors.Is(err, ErrValueOutOfCategory) {
		t.Fatalf("expected ErrValueOutOfCategory, got %v", err)
	}
}

func TestFinalizeRejectsMalformedBooleanOps(t *testing.T) {
	if _, err := NewAnd(); !errors.Is(err, ErrMalformedNode) {
		t.Fatalf("expected ErrMalformedNode for childless AND, got %v", err)
	}
	if _, err := NewNot(nil); !errors.Is(err, ErrMalformedNode) {
		t.Fatalf("expected ErrMalformedNode for NOT without child, got %v", err)
	}

	manual := &Node{Kind: KindBooleanOp, Op: OpNot}
	if _, err := Finalize(manual); !errors.Is(err, ErrMalformedNode) {
		t.Fatalf("expected Finalize to reject childless NOT, got %v", err)
	}
}

func TestFinalizeAssignsPreOrderRefs(t *testing.T) {
	ast := buildTrialTree(t)
	nodes := ast.Nodes()
	for i, node := range nodes {
		if node.Ref().Index != i {
			t.Fatalf("node %d carries ref index %d", i, node.Ref().Index)
		}
	}
	if nodes[0] != ast.Root {
		t.Fatal("expected root first in pre-order")
	}
	if len(ast.Leaves()) != 4 {
		t.Fatalf("expected 4 leaves, got %d", len(ast.Leaves()))
	}
}

func TestPatientCloneDoesNotMutateOriginal(t *testing.T) {
	original := eligiblePatient()
	clone := original.Clone("age", NumberValue(99))
	if original.Attributes["age"].Number != 30 {
		t.Fatal("Clone mutated the original patient")
	}
	if clone.Attributes["age"].Number != 99 {
		t.Fatal("Clone did not apply the replacement value")
	}
}
