package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/datatales/storyteller/config"
	"github.com/datatales/storyteller/internal/dataset"
	"github.com/datatales/storyteller/internal/search"
	"github.com/datatales/storyteller/internal/story"
	"github.com/datatales/storyteller/internal/telemetry"
	"github.com/datatales/storyteller/provider"
)

// Proposer asks the language model for candidate next actions given a
// partial story. Freeform model output is mapped into the closed set of
// action variants; anything malformed is discarded rather than propagated.
type Proposer struct {
	cfg       *config.Config
	llm       provider.LLMProvider
	dc        *dataset.Context
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewProposer creates a proposer bound to one dataset context.
func NewProposer(cfg *config.Config, llm provider.LLMProvider, dc *dataset.Context, tele *telemetry.Telemetry) *Proposer {
	return &Proposer{
		cfg:       cfg,
		llm:       llm,
		dc:        dc,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[PROPOSER] ", log.LstdFlags),
	}
}

// Propose issues one language-model call and returns zero or more
// syntactically valid actions, at most budget of them. An error means the
// model was unreachable or its response unusable after the retry policy.
func (p *Proposer) Propose(ctx context.Context, state story.State, budget int) ([]story.Action, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("%w: non-positive budget %d", search.ErrProposalFailure, budget)
	}
	prompt := p.buildPrompt(state, budget)
	model := p.cfg.LLM.Routing.Proposal

	start := time.Now()
	response, in, out, err := p.llm.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.7,
	})
	if p.telemetry != nil {
		p.telemetry.RecordLLMCall(model, "proposal", in, out, p.llm.CalculateCost(in, out, model), time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", search.ErrProposalFailure, err)
	}

	candidates, err := parseProposals(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", search.ErrProposalFailure, err)
	}

	var actions []story.Action
	for _, a := range candidates {
		if err := a.Validate(p.dc); err != nil {
			// malformed action: discard, never surface
			p.logger.Printf("discarding candidate: %v", err)
			continue
		}
		actions = append(actions, a)
		if len(actions) == budget {
			break
		}
	}
	return actions, nil
}

func (p *Proposer) buildPrompt(state story.State, budget int) string {
	unused := unusedColumns(p.dc, state)
	return fmt.Sprintf(`You are a data storytelling agent. You extend a data story about a tabular dataset one analytical step at a time.

%s
STORY SO FAR:
%s

UNUSED COLUMNS: %s

ACTION KINDS:
- chart: add a visualization. Fields: chart_type (bar|line|scatter|pie|box|heatmap), x_column, y_column, group_by (optional), aggregate (sum|mean|count|min|max, optional).
- comparison: contrast groups on a measure. Fields: measure, group_by, groups (two or more values of group_by).
- insight: state a finding grounded in the data. Fields: statement, columns (referenced columns).
- conclude: close the story with a takeaway. Fields: statement, columns. Use only when the story is complete.

RULES:
1. Propose up to %d candidate next steps that each add new analytical value.
2. Only reference columns that exist in the dataset.
3. Prefer unused columns and chart types not yet in the story.
4. Each candidate carries a one-sentence rationale.

OUTPUT FORMAT (JSON only, no other text):
{
  "actions": [
    {"kind": "chart", "chart_type": "line", "x_column": "...", "y_column": "...", "aggregate": "mean", "rationale": "..."}
  ]
}`, p.dc.PromptBlock(), state.Summary(), strings.Join(unused, ", "), budget)
}

func unusedColumns(dc *dataset.Context, state story.State) []string {
	used := map[string]bool{}
	for _, c := range state.UsedColumns() {
		used[c] = true
	}
	var out []string
	for _, name := range dc.ColumnNames() {
		if !used[name] {
			out = append(out, name)
		}
	}
	return out
}

// parseProposals extracts the first balanced JSON object from the response
// and decodes its actions, with a lenient fallback pass for responses that
// do not match the typed shape exactly.
func parseProposals(response string) ([]story.Action, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}

	var typed struct {
		Actions []story.Action `json:"actions"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &typed); err == nil && len(typed.Actions) > 0 {
		return typed.Actions, nil
	}

	// lenient fallback: coerce what we can from a generic decode
	var generic map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &generic); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	raw, ok := generic["actions"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("response has no actions array")
	}
	var actions []story.Action
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		a := story.Action{
			Kind:      story.ActionKind(str(m, "kind")),
			ChartType: story.ChartType(str(m, "chart_type")),
			XColumn:   str(m, "x_column"),
			YColumn:   str(m, "y_column"),
			GroupBy:   str(m, "group_by"),
			Aggregate: story.Aggregation(str(m, "aggregate")),
			Measure:   str(m, "measure"),
			Statement: str(m, "statement"),
			Rationale: str(m, "rationale"),
		}
		if gs, ok := m["groups"].([]interface{}); ok {
			for _, g := range gs {
				if s, ok := g.(string); ok {
					a.Groups = append(a.Groups, s)
				}
			}
		}
		if cs, ok := m["columns"].([]interface{}); ok {
			for _, c := range cs {
				if s, ok := c.(string); ok {
					a.Columns = append(a.Columns, s)
				}
			}
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func str(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// extractJSON scans for the first balanced brace block.
func extractJSON(response string) string {
	start := -1
	depth := 0
	for i, ch := range response {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return response[start : i+1]
			}
		}
	}
	return ""
}
