package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/datatales/storyteller/config"
	"github.com/datatales/storyteller/internal/dataset"
	"github.com/datatales/storyteller/internal/search"
	"github.com/datatales/storyteller/internal/story"
	"github.com/datatales/storyteller/provider"
)

type fakeLLM struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt, model string, options map[string]interface{}) (string, error) {
	out, _, _, err := f.GenerateWithTokens(ctx, prompt, model, options)
	return out, err
}

func (f *fakeLLM) GenerateWithTokens(_ context.Context, prompt, _ string, _ map[string]interface{}) (string, int64, int64, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", 0, 0, f.err
	}
	return f.response, 100, 50, nil
}

func (f *fakeLLM) CalculateCost(int64, int64, string) float64 { return 0 }

func (f *fakeLLM) GetModelInfo(model string) (provider.ModelInfo, error) {
	return provider.ModelInfo{Name: model}, nil
}

func testContext() *dataset.Context {
	return dataset.NewContext("sales", "retail sales", 1000, []dataset.Column{
		{Name: "region", Type: dataset.TypeCategorical},
		{Name: "revenue", Type: dataset.TypeNumeric},
		{Name: "month", Type: dataset.TypeTemporal},
		{Name: "product", Type: dataset.TypeCategorical},
	})
}

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{
			Routing: config.LLMRoutingConfig{Proposal: "gpt-4o", Evaluation: "gpt-4o-mini"},
		},
		Search: config.SearchConfig{
			MaxIterations:       10,
			MaxDepth:            5,
			ExplorationConstant: 1.414,
			ProposalBudget:      3,
			Evaluator: config.EvaluatorConfig{
				JudgeWeight:      0.7,
				StructuralWeight: 0.3,
				CoverageWeight:   0.4,
				DiversityWeight:  0.4,
				DepthWeight:      0.2,
			},
		},
	}
}

func TestProposeParsesValidActions(t *testing.T) {
	llm := &fakeLLM{response: `Here are my suggestions:
{"actions": [
  {"kind": "chart", "chart_type": "bar", "x_column": "region", "y_column": "revenue", "aggregate": "sum", "rationale": "revenue by region"},
  {"kind": "insight", "statement": "the west region dominates", "columns": ["region"], "rationale": "sets up the narrative"}
]}`}
	p := NewProposer(testConfig(), llm, testContext(), nil)

	actions, err := p.Propose(context.Background(), story.EmptyState(), 3)
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	if actions[0].Kind != story.KindChart || actions[0].XColumn != "region" {
		t.Errorf("unexpected first action: %+v", actions[0])
	}
	if actions[1].Kind != story.KindInsight {
		t.Errorf("unexpected second action: %+v", actions[1])
	}
}

func TestProposeDiscardsMalformedActions(t *testing.T) {
	// One bad column reference and one unknown kind among a valid action.
	llm := &fakeLLM{response: `{"actions": [
  {"kind": "chart", "chart_type": "bar", "x_column": "no_such_column", "y_column": "revenue", "aggregate": "sum"},
  {"kind": "interpretive_dance", "statement": "spin"},
  {"kind": "insight", "statement": "revenue is seasonal", "columns": ["month", "revenue"]}
]}`}
	p := NewProposer(testConfig(), llm, testContext(), nil)

	actions, err := p.Propose(context.Background(), story.EmptyState(), 5)
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected only the valid action to survive, got %d", len(actions))
	}
	if actions[0].Statement != "revenue is seasonal" {
		t.Errorf("wrong surviving action: %+v", actions[0])
	}
}

func TestProposeRespectsBudget(t *testing.T) {
	llm := &fakeLLM{response: `{"actions": [
  {"kind": "insight", "statement": "one", "columns": ["region"]},
  {"kind": "insight", "statement": "two", "columns": ["revenue"]},
  {"kind": "insight", "statement": "three", "columns": ["month"]}
]}`}
	p := NewProposer(testConfig(), llm, testContext(), nil)

	actions, err := p.Propose(context.Background(), story.EmptyState(), 2)
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("expected budget cap of 2, got %d", len(actions))
	}
}

func TestProposeWrapsProviderError(t *testing.T) {
	llm := &fakeLLM{err: fmt.Errorf("connection refused")}
	p := NewProposer(testConfig(), llm, testContext(), nil)

	_, err := p.Propose(context.Background(), story.EmptyState(), 3)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, search.ErrProposalFailure) {
		t.Errorf("expected proposal failure, got %v", err)
	}
}

func TestParseProposalsFallback(t *testing.T) {
	// Numbers where strings belong defeat the typed decode; the lenient
	// pass still recovers the string fields.
	response := `{"actions": [
  {"kind": "insight", "statement": "  padded  ", "confidence": 0.9, "columns": ["region", 42]}
]}`
	actions, err := parseProposals(response)
	if err != nil {
		t.Fatalf("parseProposals failed: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(actions))
	}
	if actions[0].Statement != "padded" {
		t.Errorf("expected trimmed statement, got %q", actions[0].Statement)
	}
	if len(actions[0].Columns) != 1 || actions[0].Columns[0] != "region" {
		t.Errorf("expected non-string column dropped, got %v", actions[0].Columns)
	}
}

func TestParseProposalsNoJSON(t *testing.T) {
	if _, err := parseProposals("I could not think of anything."); err == nil {
		t.Fatal("expected error for response without JSON")
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`prefix {"a": 1} suffix`, `{"a": 1}`},
		{`{"outer": {"inner": 2}}`, `{"outer": {"inner": 2}}`},
		{`no braces here`, ``},
		{`}{`, `{`},
	}
	for _, tc := range cases {
		if got := extractJSON(tc.in); got != tc.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStructuralDeterminism(t *testing.T) {
	e := NewEvaluator(testConfig(), &fakeLLM{}, testContext(), nil)
	state := story.EmptyState().
		With(story.Action{Kind: story.KindChart, ChartType: story.ChartBar, XColumn: "region", YColumn: "revenue"}).
		With(story.Action{Kind: story.KindInsight, Statement: "west leads", Columns: []string{"region"}})

	first := e.Structural(state)
	for i := 0; i < 10; i++ {
		if got := e.Structural(state); got != first {
			t.Fatalf("structural score changed between calls: %v != %v", got, first)
		}
	}
	if first <= 0 || first > 1 {
		t.Errorf("structural score out of range: %v", first)
	}
}

func TestStructuralEmptyStory(t *testing.T) {
	e := NewEvaluator(testConfig(), &fakeLLM{}, testContext(), nil)
	if got := e.Structural(story.EmptyState()); got != 0 {
		t.Errorf("empty story must score 0, got %v", got)
	}
}

func TestStructuralRewardsCoverageAndDiversity(t *testing.T) {
	e := NewEvaluator(testConfig(), &fakeLLM{}, testContext(), nil)

	narrow := story.EmptyState().
		With(story.Action{Kind: story.KindChart, ChartType: story.ChartBar, XColumn: "region", YColumn: "region"})
	broad := story.EmptyState().
		With(story.Action{Kind: story.KindChart, ChartType: story.ChartBar, XColumn: "region", YColumn: "revenue"}).
		With(story.Action{Kind: story.KindInsight, Statement: "s", Columns: []string{"month", "product"}})

	if e.Structural(broad) <= e.Structural(narrow) {
		t.Errorf("broader story should outscore narrow one: %v vs %v",
			e.Structural(broad), e.Structural(narrow))
	}
}

func TestEvaluateCombinesScores(t *testing.T) {
	llm := &fakeLLM{response: `{"score": 0.8, "reason": "coherent"}`}
	e := NewEvaluator(testConfig(), llm, testContext(), nil)
	state := story.EmptyState().
		With(story.Action{Kind: story.KindChart, ChartType: story.ChartBar, XColumn: "region", YColumn: "revenue"})

	score, err := e.Evaluate(context.Background(), state)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if score.Judge != 0.8 {
		t.Errorf("judge score = %v, want 0.8", score.Judge)
	}
	structural := e.Structural(state)
	want := (0.7*0.8 + 0.3*structural) / 1.0
	if math.Abs(score.Combined-want) > 1e-9 {
		t.Errorf("combined = %v, want %v", score.Combined, want)
	}
}

func TestEvaluateClampsJudgeScore(t *testing.T) {
	llm := &fakeLLM{response: `{"score": 7.5, "reason": "overexcited"}`}
	e := NewEvaluator(testConfig(), llm, testContext(), nil)

	score, err := e.Evaluate(context.Background(), story.EmptyState())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if score.Judge != 1 {
		t.Errorf("judge score should clamp to 1, got %v", score.Judge)
	}
}

func TestEvaluateWrapsJudgeErrors(t *testing.T) {
	cases := []struct {
		name string
		llm  *fakeLLM
	}{
		{"provider error", &fakeLLM{err: fmt.Errorf("status 500")}},
		{"no JSON", &fakeLLM{response: "sorry, I cannot score this"}},
		{"bad JSON", &fakeLLM{response: `{"score": "high"}`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEvaluator(testConfig(), tc.llm, testContext(), nil)
			_, err := e.Evaluate(context.Background(), story.EmptyState())
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, search.ErrEvaluationFailure) {
				t.Errorf("expected evaluation failure, got %v", err)
			}
		})
	}
}

func TestBuildPromptMentionsUnusedColumns(t *testing.T) {
	p := NewProposer(testConfig(), &fakeLLM{}, testContext(), nil)
	state := story.EmptyState().
		With(story.Action{Kind: story.KindChart, ChartType: story.ChartBar, XColumn: "region", YColumn: "revenue"})

	prompt := p.buildPrompt(state, 3)
	for _, col := range []string{"month", "product"} {
		if !strings.Contains(prompt, col) {
			t.Errorf("prompt should offer unused column %q", col)
		}
	}
}
