package criteria

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/trialforge-ai/platform/pkg/schema"
)

type NodeKind string

const (
	KindComparison NodeKind = "comparison"
	KindMembership NodeKind = "membership"
	KindBooleanOp  NodeKind = "boolean"
)

type Operator string

const (
	OpLT      Operator = "<"
	OpLE      Operator = "<="
	OpGT      Operator = ">"
	OpGE      Operator = ">="
	OpEQ      Operator = "=="
	OpNE      Operator = "!="
	OpBetween Operator = "between"
)

type BoolOp string

const (
	OpAnd BoolOp = "and"
	OpOr  BoolOp = "or"
	OpNot BoolOp = "not"
)

var (
	ErrUnknownAttribute   = errors.New("attribute not in schema")
	ErrIncompatibleType   = errors.New("operator incompatible with attribute type")
	ErrMalformedNode      = errors.New("malformed criteria node")
	ErrUnknownOperator    = errors.New("unknown operator")
	ErrValueOutOfCategory = errors.New("value not in category set")
)

// NodeRef identifies a node inside a finalized tree. Index is the node's
// pre-order position, which is stable across runs for the same tree.
type NodeRef struct {
	Index  int    `json:"index"`
	Label  string `json:"label"`
	Reason string `json:"reason,omitempty"`
}

// Node is the tagged variant behind the eligibility tree: a Comparison, a
// Membership test or a BooleanOp combining children. Trees are immutable once
// finalized into an AST.
type Node struct {
	Kind NodeKind `json:"kind"`
	ref  NodeRef

	// Comparison / Membership
	Attribute string               `json:"attribute,omitempty"`
	Operator  Operator             `json:"operator,omitempty"`
	Number    float64              `json:"number,omitempty"`
	Bounds    [2]float64           `json:"bounds,omitempty"`
	Text      string               `json:"text,omitempty"`
	Flag      bool                 `json:"flag,omitempty"`
	ValueType schema.AttributeType `json:"value_type,omitempty"`
	Set       []string             `json:"set,omitempty"`

	// BooleanOp
	Op       BoolOp  `json:"op,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

func (n *Node) Ref() NodeRef { return n.ref }

func (n *Node) IsLeaf() bool { return n.Kind != KindBooleanOp }

func (n *Node) Label() string {
	switch n.Kind {
	case KindComparison:
		switch n.ValueType {
		case schema.Numeric:
			if n.Operator == OpBetween {
				return fmt.Sprintf("%s between [%v, %v]", n.Attribute, n.Bounds[0], n.Bounds[1])
			}
			return fmt.Sprintf("%s %s %v", n.Attribute, n.Operator, n.Number)
		case schema.Boolean:
			return fmt.Sprintf("%s %s %v", n.Attribute, n.Operator, n.Flag)
		default:
			return fmt.Sprintf("%s %s %q", n.Attribute, n.Operator, n.Text)
		}
	case KindMembership:
		return fmt.Sprintf("%s in {%s}", n.Attribute, strings.Join(n.Set, ", "))
	default:
		return strings.ToUpper(string(n.Op))
	}
}

// NewComparison validates the attribute against the schema and coerces value
// to the attribute's declared type. Ill-typed clauses are rejected here so the
// evaluator never sees them.
func NewComparison(sch schema.Schema, attribute string, op Operator, value interface{}) (*Node, error) {
	attr, ok := sch.Lookup(attribute)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAttribute, attribute)
	}

	node := &Node{Kind: KindComparison, Attribute: attr.Name, Operator: op, ValueType: attr.Type}
	switch attr.Type {
	case schema.Numeric:
		switch op {
		case OpLT, OpLE, OpGT, OpGE, OpEQ, OpNE:
			num, ok := toFloat(value)
			if !ok {
				return nil, fmt.Errorf("%w: %s expects a numeric value", ErrIncompatibleType, attribute)
			}
			node.Number = num
		case OpBetween:
			bounds, ok := toBounds(value)
			if !ok {
				return nil, fmt.Errorf("%w: between expects two numeric bounds", ErrIncompatibleType)
			}
			node.Bounds = bounds
		default:
			return nil, fmt.Errorf("%w: %s on numeric attribute %s", ErrUnknownOperator, op, attribute)
		}
	case schema.Categorical:
		if op != OpEQ && op != OpNE {
			return nil, fmt.Errorf("%w: %s on categorical attribute %s", ErrIncompatibleType, op, attribute)
		}
		text, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a string value", ErrIncompatibleType, attribute)
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if !containsString(attr.Categories, text) {
			return nil, fmt.Errorf("%w: %q for %s", ErrValueOutOfCategory, text, attribute)
		}
		node.Text = text
	case schema.Boolean:
		if op != OpEQ && op != OpNE {
			return nil, fmt.Errorf("%w: %s on boolean attribute %s", ErrIncompatibleType, op, attribute)
		}
		flag, ok := toBool(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a boolean value", ErrIncompatibleType, attribute)
		}
		node.Flag = flag
	}
	return node, nil
}

// NewMembership builds an attribute-in-set test against a categorical attribute.
func NewMembership(sch schema.Schema, attribute string, set []string) (*Node, error) {
	attr, ok := sch.Lookup(attribute)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAttribute, attribute)
	}
	if attr.Type != schema.Categorical {
		return nil, fmt.Errorf("%w: membership on %s attribute %s", ErrIncompatibleType, attr.Type, attribute)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: empty membership set for %s", ErrMalformedNode, attribute)
	}
	normalized := make([]string, 0, len(set))
	for _, member := range set {
		member = strings.ToLower(strings.TrimSpace(member))
		if !containsString(attr.Categories, member) {
			return nil, fmt.Errorf("%w: %q for %s", ErrValueOutOfCategory, member, attribute)
		}
		normalized = append(normalized, member)
	}
	sort.Strings(normalized)
	return &Node{Kind: KindMembership, Attribute: attr.Name, ValueType: attr.Type, Set: normalized}, nil
}

func NewAnd(children ...*Node) (*Node, error) {
	return newBool(OpAnd, children)
}

func NewOr(children ...*Node) (*Node, error) {
	return newBool(OpOr, children)
}

func NewNot(child *Node) (*Node, error) {
	if child == nil {
		return nil, fmt.Errorf("%w: NOT requires exactly one child", ErrMalformedNode)
	}
	return &Node{Kind: KindBooleanOp, Op: OpNot, Children: []*Node{child}}, nil
}

func newBool(op BoolOp, children []*Node) (*Node, error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: %s requires at least one child", ErrMalformedNode, strings.ToUpper(string(op)))
	}
	for _, child := range children {
		if child == nil {
			return nil, fmt.Errorf("%w: nil child under %s", ErrMalformedNode, strings.ToUpper(string(op)))
		}
	}
	return &Node{Kind: KindBooleanOp, Op: op, Children: children}, nil
}

// AST is a finalized eligibility tree. Finalize assigns pre-order refs; after
// that the tree is read-only and safe to share across goroutines.
type AST struct {
	Root  *Node
	nodes []*Node
}

func Finalize(root *Node) (*AST, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: empty tree", ErrMalformedNode)
	}
	ast := &AST{Root: root}
	if err := ast.index(root); err != nil {
		return nil, err
	}
	return ast, nil
}

func (a *AST) index(node *Node) error {
	if node.Kind == KindBooleanOp {
		if len(node.Children) == 0 {
			return fmt.Errorf("%w: %s with no children", ErrMalformedNode, node.Op)
		}
		if node.Op == OpNot && len(node.Children) != 1 {
			return fmt.Errorf("%w: NOT with %d children", ErrMalformedNode, len(node.Children))
		}
	}
	node.ref = NodeRef{Index: len(a.nodes), Label: node.Label()}
	a.nodes = append(a.nodes, node)
	for _, child := range node.Children {
		if err := a.index(child); err != nil {
			return err
		}
	}
	return nil
}

// Nodes returns every node in pre-order.
func (a *AST) Nodes() []*Node { return a.nodes }

// Leaves returns Comparison and Membership nodes in pre-order.
func (a *AST) Leaves() []*Node {
	leaves := make([]*Node, 0, len(a.nodes))
	for _, node := range a.nodes {
		if node.IsLeaf() {
			leaves = append(leaves, node)
		}
	}
	return leaves
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func toBounds(value interface{}) ([2]float64, bool) {
	switch v := value.(type) {
	case [2]float64:
		if v[1] < v[0] {
			return [2]float64{}, false
		}
		return v, true
	case []float64:
		if len(v) == 2 && v[1] >= v[0] {
			return [2]float64{v[0], v[1]}, true
		}
	case []interface{}:
		if len(v) == 2 {
			lo, okLo := toFloat(v[0])
			hi, okHi := toFloat(v[1])
			if okLo && okHi && hi >= lo {
				return [2]float64{lo, hi}, true
			}
		}
	}
	return [2]float64{}, false
}

func toBool(value interface{}) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "positive":
			return true, true
		case "false", "no", "negative":
			return false, true
		}
	}
	return false, false
}

func containsString(haystack []string, needle string) bool {
	for _, candidate := range haystack {
		if strings.EqualFold(candidate, needle) {
			return true
		}
	}
	return false
}
