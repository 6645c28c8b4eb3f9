package protocol

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/trialforge-ai/platform/pkg/common/logger"
	"github.com/trialforge-ai/platform/pkg/criteria"
	"github.com/trialforge-ai/platform/pkg/observability/metrics"
	"github.com/trialforge-ai/platform/pkg/schema"
)

var ErrExtractionTimeout = errors.New("extraction service timed out")

var (
	sampleSizeRegex = regexp.MustCompile(`(?i)(?:sample size|n\s*=\s*)(\d{2,6})`)
	endpointRegex   = regexp.MustCompile(`(?i)primary (?:endpoint|outcome)s?[:\-]\s*(.+)`)
)

// UnparsedClause records a clause the parser dropped and why. Dropping is
// non-fatal: the parse still returns a usable tree built from the clauses
// that validated.
type UnparsedClause struct {
	ClauseText string     `json:"clause_text"`
	Attribute  string     `json:"attribute,omitempty"`
	Operator   string     `json:"operator,omitempty"`
	Kind       ClauseKind `json:"clause_kind,omitempty"`
	Reason     string     `json:"reason"`
}

// ParsedProtocol is the structured form of one protocol text: prescanned
// metadata, the eligibility tree and the diagnostics for whatever could not
// be mapped onto the attribute schema.
type ParsedProtocol struct {
	ID              uuid.UUID        `json:"protocol_id"`
	Title           string           `json:"title"`
	Synopsis        string           `json:"synopsis"`
	SampleSize      int              `json:"sample_size,omitempty"`
	PrimaryEndpoint string           `json:"primary_endpoint,omitempty"`
	Criteria        *criteria.AST    `json:"-"`
	CriteriaCount   int              `json:"criteria_count"`
	Diagnostics     []UnparsedClause `json:"diagnostics,omitempty"`
}

type Parser struct {
	schema    schema.Schema
	extractor Extractor
	timeout   time.Duration
	cache     *ClauseCache
}

type ParserOption func(*Parser)

// WithClauseCache reuses extraction output for previously seen protocol text.
func WithClauseCache(cache *ClauseCache) ParserOption {
	return func(p *Parser) { p.cache = cache }
}

func NewParser(sch schema.Schema, extractor Extractor, timeout time.Duration, opts ...ParserOption) *Parser {
	parser := &Parser{schema: sch, extractor: extractor, timeout: timeout}
	for _, opt := range opts {
		opt(parser)
	}
	return parser
}

// Parse turns raw protocol text into a ParsedProtocol. The extraction service
// is invoked at most once; a deadline hit fails the parse with
// ErrExtractionTimeout and no internal retry.
func (p *Parser) Parse(ctx context.Context, protocolText string) (*ParsedProtocol, error) {
	parsed := &ParsedProtocol{ID: uuid.New()}
	p.prescan(protocolText, parsed)

	clauses, cached := p.cachedClauses(ctx, protocolText)
	if !cached {
		var err error
		clauses, err = CallWithTimeout(ctx, p.timeout, p.extractor, protocolText, p.schema)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrExtractionTimeout
			}
			return nil, fmt.Errorf("protocol extraction failed: %w", err)
		}
		p.storeClauses(ctx, protocolText, clauses)
	}

	ast, diagnostics := BuildTree(p.schema, clauses)
	parsed.Criteria = ast
	parsed.Diagnostics = diagnostics
	parsed.CriteriaCount = len(clauses) - len(diagnostics)

	metrics.ObserveParse(len(clauses), len(diagnostics))
	logger.Log.WithFields(map[string]interface{}{
		"protocol_id": parsed.ID.String(),
		"clauses":     len(clauses),
		"dropped":     len(diagnostics),
	}).Info("protocol parsed")
	return parsed, nil
}

func (p *Parser) cachedClauses(ctx context.Context, text string) ([]Clause, bool) {
	if p.cache == nil {
		return nil, false
	}
	clauses, ok := p.cache.Get(ctx, text)
	return clauses, ok
}

func (p *Parser) storeClauses(ctx context.Context, text string, clauses []Clause) {
	if p.cache == nil {
		return
	}
	p.cache.Put(ctx, text, clauses)
}

func (p *Parser) prescan(text string, parsed *ParsedProtocol) {
	lines := nonEmptyLines(text)
	if len(lines) > 0 {
		if len(strings.Fields(lines[0])) <= 10 {
			parsed.Title = lines[0]
			parsed.Synopsis = strings.Join(lines[1:min(len(lines), 5)], "\n")
		} else {
			parsed.Synopsis = strings.Join(lines[:min(len(lines), 4)], "\n")
		}
	}
	if parsed.Title == "" {
		parsed.Title = "Protocol (unspecified title)"
	}

	if match := sampleSizeRegex.FindStringSubmatch(text); len(match) == 2 {
		if n, err := strconv.Atoi(match[1]); err == nil {
			parsed.SampleSize = n
		}
	}
	if match := endpointRegex.FindStringSubmatch(text); len(match) == 2 {
		parsed.PrimaryEndpoint = strings.TrimSpace(strings.SplitN(match[1], "\n", 2)[0])
	}
}

// BuildTree maps validated clauses onto an eligibility tree: inclusions under
// an AND root, exclusions under NOT(OR(...)) ANDed with the inclusion group.
// Clauses that fail schema validation become diagnostics, never errors.
// The result is deterministic for identical clause input.
func BuildTree(sch schema.Schema, clauses []Clause) (*criteria.AST, []UnparsedClause) {
	var inclusions, exclusions []*criteria.Node
	var diagnostics []UnparsedClause

	for _, clause := range clauses {
		node, err := clauseToNode(sch, clause)
		if err != nil {
			diagnostics = append(diagnostics, UnparsedClause{
				ClauseText: clause.Text,
				Attribute:  clause.Attribute,
				Operator:   clause.Operator,
				Kind:       clause.Kind,
				Reason:     err.Error(),
			})
			continue
		}
		if clause.Kind == KindExclusion {
			exclusions = append(exclusions, node)
		} else {
			inclusions = append(inclusions, node)
		}
	}

	root, err := groupNodes(inclusions, exclusions)
	if err != nil || root == nil {
		return nil, diagnostics
	}
	ast, err := criteria.Finalize(root)
	if err != nil {
		// grouping guarantees well-formed boolean nodes; treat as empty parse
		return nil, diagnostics
	}
	return ast, diagnostics
}

func groupNodes(inclusions, exclusions []*criteria.Node) (*criteria.Node, error) {
	var notExcluded *criteria.Node
	if len(exclusions) > 0 {
		or, err := criteria.NewOr(exclusions...)
		if err != nil {
			return nil, err
		}
		notExcluded, err = criteria.NewNot(or)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case len(inclusions) > 0 && notExcluded != nil:
		return criteria.NewAnd(append(inclusions, notExcluded)...)
	case len(inclusions) > 0:
		return criteria.NewAnd(inclusions...)
	case notExcluded != nil:
		return notExcluded, nil
	default:
		return nil, nil
	}
}

func clauseToNode(sch schema.Schema, clause Clause) (*criteria.Node, error) {
	if strings.TrimSpace(clause.Attribute) == "" {
		return nil, errors.New("no attribute proposed")
	}

	if strings.EqualFold(clause.Operator, "in") {
		set, err := toStringSet(clause.Value)
		if err != nil {
			return nil, err
		}
		return criteria.NewMembership(sch, clause.Attribute, set)
	}

	op, err := mapOperator(clause.Operator)
	if err != nil {
		return nil, err
	}
	return criteria.NewComparison(sch, clause.Attribute, op, clause.Value)
}

func mapOperator(raw string) (criteria.Operator, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "<":
		return criteria.OpLT, nil
	case "<=":
		return criteria.OpLE, nil
	case ">":
		return criteria.OpGT, nil
	case ">=":
		return criteria.OpGE, nil
	case "==", "=":
		return criteria.OpEQ, nil
	case "!=":
		return criteria.OpNE, nil
	case "between":
		return criteria.OpBetween, nil
	}
	return "", fmt.Errorf("unsupported operator %q", raw)
}

func toStringSet(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []interface{}:
		set := make([]string, 0, len(v))
		for _, member := range v {
			text, ok := member.(string)
			if !ok {
				return nil, fmt.Errorf("membership set contains non-string value %v", member)
			}
			set = append(set, text)
		}
		return set, nil
	case string:
		return []string{v}, nil
	}
	return nil, fmt.Errorf("membership value %v is not a set", value)
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}
