package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/trialforge-ai/platform/pkg/common/logger"
	"github.com/trialforge-ai/platform/pkg/registry"
	"github.com/trialforge-ai/platform/pkg/schema"
)

type ClauseKind string

const (
	KindInclusion ClauseKind = "inclusion"
	KindExclusion ClauseKind = "exclusion"
)

// Clause is one candidate eligibility rule proposed by the extraction
// collaborator. Attribute, Operator and Value are proposals: the parser
// validates them against the attribute schema and may reject the clause.
type Clause struct {
	Text      string      `json:"clause_text"`
	Attribute string      `json:"attribute"`
	Operator  string      `json:"operator"`
	Value     interface{} `json:"value"`
	Kind      ClauseKind  `json:"clause_kind"`
}

// Extractor is the external text-to-structure capability. Implementations own
// their retry policy; the parser invokes Extract at most once per protocol.
type Extractor interface {
	Extract(ctx context.Context, protocolText string, sch schema.Schema) ([]Clause, error)
}

var ErrNoExtraction = errors.New("extraction service returned no clauses")

// OpenAIExtractor asks an OpenAI-compatible chat endpoint to segment protocol
// text into eligibility clauses grounded on the attribute schema.
type OpenAIExtractor struct {
	client   *openai.Client
	model    string
	registry *registry.Client
	examples int
}

type OpenAIOption func(*OpenAIExtractor)

// WithRegistry grounds the prompt with similar trials fetched from the public
// registry. Lookups are best effort.
func WithRegistry(client *registry.Client, maxExamples int) OpenAIOption {
	return func(e *OpenAIExtractor) {
		e.registry = client
		e.examples = maxExamples
	}
}

func NewOpenAIExtractor(apiKey, baseURL, model string, opts ...OpenAIOption) *OpenAIExtractor {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	extractor := &OpenAIExtractor{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
	for _, opt := range opts {
		opt(extractor)
	}
	return extractor
}

func (e *OpenAIExtractor) Extract(ctx context.Context, protocolText string, sch schema.Schema) ([]Clause, error) {
	prompt := e.buildPrompt(ctx, protocolText, sch)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You are an expert clinical trial eligibility annotator. " +
					"Produce ONLY valid JSON that conforms to the requested schema. " +
					"Do not include any surrounding commentary.",
			},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoExtraction
	}

	clauses, err := decodeClauses(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return clauses, nil
}

func (e *OpenAIExtractor) buildPrompt(ctx context.Context, protocolText string, sch schema.Schema) string {
	var b strings.Builder
	b.WriteString("Segment the following clinical trial protocol into eligibility clauses.\n\n")
	b.WriteString("Protocol text:\n\"\"\"\n")
	b.WriteString(protocolText)
	b.WriteString("\n\"\"\"\n\n")
	b.WriteString("Known patient attributes (only propose these):\n")
	for _, name := range sch.Names() {
		attr := sch.Attributes[name]
		switch attr.Type {
		case schema.Categorical:
			fmt.Fprintf(&b, "- %s (%s: %s)\n", name, attr.Type, strings.Join(attr.Categories, "|"))
		default:
			fmt.Fprintf(&b, "- %s (%s)\n", name, attr.Type)
		}
	}
	b.WriteString("\nOperators: <, <=, >, >=, ==, !=, between (value = [low, high]), in (value = list of categories).\n")

	if e.registry != nil {
		condition := firstWords(protocolText, 6)
		if trials := e.registry.FetchByCondition(ctx, condition, e.examples); len(trials) > 0 {
			b.WriteString("\nSimilar registered trials for reference:\n")
			for _, trial := range trials {
				if encoded, err := json.Marshal(trial); err == nil {
					b.Write(encoded)
					b.WriteByte('\n')
				}
			}
		}
	}

	b.WriteString("\nOUTPUT FORMAT: a JSON array of objects with keys " +
		"clause_text, attribute, operator, value, clause_kind (inclusion|exclusion). " +
		"Return ONLY the JSON array.")
	return b.String()
}

// decodeClauses tolerates markdown fences and commentary around the JSON by
// slicing from the first '[' to the last ']'.
func decodeClauses(raw string) ([]Clause, error) {
	raw = strings.TrimSpace(raw)
	first := strings.Index(raw, "[")
	last := strings.LastIndex(raw, "]")
	if first >= 0 && last > first {
		raw = raw[first : last+1]
	}

	var clauses []Clause
	if err := json.Unmarshal([]byte(raw), &clauses); err != nil {
		return nil, fmt.Errorf("extraction output is not valid JSON: %w", err)
	}
	if len(clauses) == 0 {
		return nil, ErrNoExtraction
	}
	return clauses, nil
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

// CallWithTimeout bounds a single extraction call. The parser never retries;
// a deadline hit surfaces as the caller's timeout error.
func CallWithTimeout(ctx context.Context, timeout time.Duration, extractor Extractor, text string, sch schema.Schema) ([]Clause, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	clauses, err := extractor.Extract(ctx, text, sch)
	logger.Log.WithFields(map[string]interface{}{
		"clauses":  len(clauses),
		"duration": time.Since(start).String(),
	}).Debug("extraction service call finished")
	return clauses, err
}
