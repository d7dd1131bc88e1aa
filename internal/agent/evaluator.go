package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/datatales/storyteller/config"
	"github.com/datatales/storyteller/internal/dataset"
	"github.com/datatales/storyteller/internal/search"
	"github.com/datatales/storyteller/internal/story"
	"github.com/datatales/storyteller/internal/telemetry"
	"github.com/datatales/storyteller/provider"
)

// Evaluator scores story states by combining a language-model-judged
// sub-score with deterministic structural heuristics. The judged half is a
// noisy oracle: two calls on the same state may disagree, and no caching is
// done across nodes so the tree policy can average the noise out.
type Evaluator struct {
	cfg       *config.Config
	llm       provider.LLMProvider
	dc        *dataset.Context
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewEvaluator creates an evaluator bound to one dataset context.
func NewEvaluator(cfg *config.Config, llm provider.LLMProvider, dc *dataset.Context, tele *telemetry.Telemetry) *Evaluator {
	return &Evaluator{
		cfg:       cfg,
		llm:       llm,
		dc:        dc,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[EVALUATOR] ", log.LstdFlags),
	}
}

// Evaluate scores a state in [0,1]. An error means the judge was unreachable
// or unusable after retries; the caller assigns the minimum-bound score.
func (e *Evaluator) Evaluate(ctx context.Context, state story.State) (search.Score, error) {
	structural := e.Structural(state)

	judge, err := e.judge(ctx, state)
	if err != nil {
		return search.Score{}, fmt.Errorf("%w: %v", search.ErrEvaluationFailure, err)
	}

	ev := e.cfg.Search.Evaluator
	wj, ws := ev.JudgeWeight, ev.StructuralWeight
	combined := (wj*judge + ws*structural) / (wj + ws)
	return search.Score{Judge: judge, Structural: structural, Combined: combined}, nil
}

// Structural computes the deterministic half of the score: column coverage,
// action-kind diversity, and a depth-efficiency term penalizing stories that
// are long relative to the columns they cover. Calling it twice on an
// identical state yields an identical value.
func (e *Evaluator) Structural(state story.State) float64 {
	depth := state.Depth()
	if depth == 0 {
		return 0
	}

	used := len(state.UsedColumns())
	coverage := float64(used) / float64(len(e.dc.Columns))
	if coverage > 1 {
		coverage = 1
	}
	diversity := float64(state.DistinctKinds()) / float64(len(story.Kinds()))
	efficiency := float64(used) / float64(depth)
	if efficiency > 1 {
		efficiency = 1
	}

	ev := e.cfg.Search.Evaluator
	wc, wd, we := ev.CoverageWeight, ev.DiversityWeight, ev.DepthWeight
	return (wc*coverage + wd*diversity + we*efficiency) / (wc + wd + we)
}

func (e *Evaluator) judge(ctx context.Context, state story.State) (float64, error) {
	prompt := fmt.Sprintf(`You are a strict evaluator of data stories. Score the narrative below for coherence, insight value, and how well it uses the dataset.

%s
STORY:
%s

Return ONLY valid JSON: {"score": <number between 0 and 1>, "reason": "<one sentence>"}`,
		e.dc.PromptBlock(), state.Summary())

	model := e.cfg.LLM.Routing.Evaluation
	start := time.Now()
	response, in, out, err := e.llm.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.2,
	})
	if e.telemetry != nil {
		e.telemetry.RecordLLMCall(model, "evaluation", in, out, e.llm.CalculateCost(in, out, model), time.Since(start), err)
	}
	if err != nil {
		return 0, err
	}

	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return 0, fmt.Errorf("no JSON found in judge response")
	}
	var verdict struct {
		Score  float64 `json:"score"`
		Reason string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &verdict); err != nil {
		return 0, fmt.Errorf("parse judge response: %w", err)
	}
	return clamp01(verdict.Score), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
