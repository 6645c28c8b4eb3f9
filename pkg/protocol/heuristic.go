package protocol

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/trialforge-ai/platform/pkg/schema"
)

var (
	ageRangeRegex  = regexp.MustCompile(`(?i)age\s*(?:between|from)?\s*(\d{1,3})\s*(?:and|to|-)\s*(\d{1,3})`)
	inclusionRegex = regexp.MustCompile(`(?is)inclusions?(?:\s+criteria)?[:\s]*(.+?)(?:exclusions?|sample size|primary endpoint|$)`)
	exclusionRegex = regexp.MustCompile(`(?is)exclusions?(?:\s+criteria)?[:\s]*(.+?)(?:inclusions?|sample size|primary endpoint|$)`)
	clauseRegex    = regexp.MustCompile(`([a-zA-Z0-9_]+)\s*(<=|>=|==|!=|<|>|=)\s*([^,\r\n]+)`)
)

// HeuristicExtractor is a deterministic, offline fallback for the LLM
// extraction service. It only understands simple "attribute op value" phrases
// plus a few protocol conventions (age ranges, inclusion/exclusion blocks).
type HeuristicExtractor struct{}

func NewHeuristicExtractor() *HeuristicExtractor { return &HeuristicExtractor{} }

func (e *HeuristicExtractor) Extract(_ context.Context, protocolText string, sch schema.Schema) ([]Clause, error) {
	var clauses []Clause

	if match := ageRangeRegex.FindStringSubmatch(protocolText); len(match) == 3 {
		low, errLow := strconv.ParseFloat(match[1], 64)
		high, errHigh := strconv.ParseFloat(match[2], 64)
		if errLow == nil && errHigh == nil {
			clauses = append(clauses, Clause{
				Text:      match[0],
				Attribute: "age",
				Operator:  "between",
				Value:     []interface{}{low, high},
				Kind:      KindInclusion,
			})
		}
	}

	if match := inclusionRegex.FindStringSubmatch(protocolText); len(match) == 2 {
		clauses = append(clauses, linesToClauses(match[1], KindInclusion, sch)...)
	}
	if match := exclusionRegex.FindStringSubmatch(protocolText); len(match) == 2 {
		clauses = append(clauses, linesToClauses(match[1], KindExclusion, sch)...)
	}

	if len(clauses) == 0 {
		return nil, ErrNoExtraction
	}
	return clauses, nil
}

func linesToClauses(block string, kind ClauseKind, sch schema.Schema) []Clause {
	var clauses []Clause
	for _, line := range strings.FieldsFunc(block, func(r rune) bool { return r == '\n' || r == '\r' || r == ';' }) {
		line = strings.Trim(line, "-•* \t")
		if line == "" {
			continue
		}
		for _, phrase := range strings.Split(line, ",") {
			phrase = strings.TrimSpace(phrase)
			if phrase == "" {
				continue
			}
			if clause, ok := phraseToClause(phrase, kind, sch); ok {
				clauses = append(clauses, clause)
			} else {
				// surfaces in parser diagnostics as an unparsed clause
				clauses = append(clauses, Clause{Text: phrase, Kind: kind})
			}
		}
	}
	return clauses
}

func phraseToClause(phrase string, kind ClauseKind, sch schema.Schema) (Clause, bool) {
	if ageRangeRegex.MatchString(phrase) {
		// already captured by the whole-text age scan
		return Clause{}, false
	}

	if match := clauseRegex.FindStringSubmatch(phrase); len(match) == 4 {
		op := match[2]
		if op == "=" {
			op = "=="
		}
		rawValue := strings.Trim(strings.TrimSpace(match[3]), `"'`)
		clause := Clause{Text: phrase, Attribute: strings.ToLower(match[1]), Operator: op, Kind: kind}
		if number, err := strconv.ParseFloat(rawValue, 64); err == nil {
			clause.Value = number
		} else {
			clause.Value = strings.ToLower(rawValue)
		}
		return clause, true
	}

	// "<category> <attribute>" phrasing, e.g. "EBV negative" or "diabetic"
	lower := strings.ToLower(phrase)
	for _, name := range sch.Names() {
		attr := sch.Attributes[name]
		bare := strings.TrimSuffix(name, "_status")
		if !strings.Contains(lower, bare) {
			continue
		}
		switch attr.Type {
		case schema.Categorical:
			for _, category := range attr.Categories {
				if strings.Contains(lower, strings.ToLower(category)) {
					return Clause{Text: phrase, Attribute: name, Operator: "==", Value: category, Kind: kind}, true
				}
			}
		case schema.Boolean:
			value := !strings.Contains(lower, "no ") && !strings.Contains(lower, "non-")
			return Clause{Text: phrase, Attribute: name, Operator: "==", Value: value, Kind: kind}, true
		}
	}
	return Clause{}, false
}
