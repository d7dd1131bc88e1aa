package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datatales/storyteller/config"
	"github.com/datatales/storyteller/internal/story"
)

// stubProposer scripts proposals by story depth and the label of the last
// action taken.
type stubProposer struct {
	fn    func(state story.State, budget int) ([]story.Action, error)
	calls int
}

func (p *stubProposer) Propose(_ context.Context, state story.State, budget int) ([]story.Action, error) {
	p.calls++
	return p.fn(state, budget)
}

type stubEvaluator struct {
	fn    func(state story.State) (Score, error)
	calls int
}

func (e *stubEvaluator) Evaluate(_ context.Context, state story.State) (Score, error) {
	e.calls++
	return e.fn(state)
}

func chartAction(column string) story.Action {
	return story.Action{Kind: story.KindChart, ChartType: story.ChartBar, XColumn: column}
}

func insightAction(statement string) story.Action {
	return story.Action{Kind: story.KindInsight, Statement: statement}
}

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		MaxIterations:          20,
		MaxDepth:               2,
		ExplorationConstant:    1.414,
		ProposalBudget:         4,
		TerminalBonus:          0,
		MaxConsecutiveFailures: 5,
	}
}

func TestSolverFindsDeeperStory(t *testing.T) {
	// Root proposes two openings. The "region" opening can be extended once
	// and that two-step story scores highest; the "price" opening dead-ends.
	proposer := &stubProposer{fn: func(state story.State, _ int) ([]story.Action, error) {
		switch state.Depth() {
		case 0:
			return []story.Action{chartAction("region"), chartAction("price")}, nil
		case 1:
			if state.Actions()[0].XColumn == "region" {
				return []story.Action{insightAction("sales concentrate in the west")}, nil
			}
			return nil, nil
		default:
			return nil, nil
		}
	}}
	evaluator := &stubEvaluator{fn: func(state story.State) (Score, error) {
		switch {
		case state.Depth() == 2:
			return Score{Combined: 0.9}, nil
		case state.Depth() == 1 && state.Actions()[0].XColumn == "region":
			return Score{Combined: 0.5}, nil
		default:
			return Score{Combined: 0.3}, nil
		}
	}}

	s, err := NewSolver(testSearchConfig(), "sales", proposer, evaluator)
	require.NoError(t, err)

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	require.True(t, result.BottomedOut, "small scripted tree should be fully explored")
	require.LessOrEqual(t, result.NodesCreated, 5)
	require.Len(t, result.Actions, 2)
	require.Equal(t, "region", result.Actions[0].XColumn)
	require.Equal(t, story.KindInsight, result.Actions[1].Kind)
	require.InDelta(t, 0.9, result.Score.Combined, 1e-9)
}

func TestSolverTwoFixedActionsWithinNodeBudget(t *testing.T) {
	// The proposer always offers the same two actions; the evaluator scores
	// by the last action taken. Four iterations on a depth-2 tree create at
	// most six nodes and settle on the higher-scored depth-2 path.
	proposer := &stubProposer{fn: func(story.State, int) ([]story.Action, error) {
		return []story.Action{chartAction("a"), chartAction("b")}, nil
	}}
	evaluator := &stubEvaluator{fn: func(state story.State) (Score, error) {
		actions := state.Actions()
		if actions[len(actions)-1].XColumn == "a" {
			return Score{Combined: 0.8}, nil
		}
		return Score{Combined: 0.4}, nil
	}}

	cfg := testSearchConfig()
	cfg.MaxIterations = 4
	s, err := NewSolver(cfg, "sales", proposer, evaluator)
	require.NoError(t, err)

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 4, result.Iterations)
	require.LessOrEqual(t, result.NodesCreated, 6)
	require.Len(t, result.Actions, 2)
	require.Equal(t, "a", result.Actions[0].XColumn)
	require.Equal(t, "a", result.Actions[1].XColumn)
	require.InDelta(t, 0.8, result.Score.Combined, 1e-9)
}

func TestSolverRootVisitsMatchEvaluationEvents(t *testing.T) {
	proposer := &stubProposer{fn: func(state story.State, _ int) ([]story.Action, error) {
		if state.Depth() == 0 {
			return []story.Action{chartAction("a"), chartAction("b")}, nil
		}
		return nil, nil
	}}
	evaluator := &stubEvaluator{fn: func(state story.State) (Score, error) {
		return Score{Combined: 0.4}, nil
	}}

	s, err := NewSolver(testSearchConfig(), "sales", proposer, evaluator)
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, evaluator.calls, s.tree.root().visits,
		"every evaluation event backpropagates exactly once through the root")
}

func TestSolverEmptyProposals(t *testing.T) {
	// A proposer that finds nothing to say makes the root terminal: one
	// iteration, an empty story, and a clean bottom-out.
	proposer := &stubProposer{fn: func(story.State, int) ([]story.Action, error) {
		return nil, nil
	}}
	evaluator := &stubEvaluator{fn: func(story.State) (Score, error) {
		return Score{Combined: 0.1}, nil
	}}

	s, err := NewSolver(testSearchConfig(), "sales", proposer, evaluator)
	require.NoError(t, err)

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, result.Iterations)
	require.Empty(t, result.Actions)
	require.Zero(t, result.NodesCreated)
	require.True(t, result.BottomedOut)
	require.Equal(t, 1, proposer.calls)
}

func TestSolverEveryCallFailing(t *testing.T) {
	// Total provider failure on a tree that immediately bottoms out must
	// finish normally with the minimum-bound score, not abort.
	proposer := &stubProposer{fn: func(story.State, int) ([]story.Action, error) {
		return nil, fmt.Errorf("connection refused")
	}}
	evaluator := &stubEvaluator{fn: func(story.State) (Score, error) {
		return Score{}, fmt.Errorf("connection refused")
	}}

	s, err := NewSolver(testSearchConfig(), "sales", proposer, evaluator)
	require.NoError(t, err)

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, result.Iterations)
	require.Empty(t, result.Actions)
	require.True(t, result.BottomedOut)
	require.Zero(t, result.Score.Combined)
}

func TestSolverAbortsOnSustainedOutage(t *testing.T) {
	// When the tree keeps growing but every language-model call fails, the
	// run aborts after the configured number of fully-failed iterations.
	proposer := &stubProposer{fn: func(state story.State, _ int) ([]story.Action, error) {
		return []story.Action{
			chartAction(fmt.Sprintf("col%d", state.Depth())),
			chartAction(fmt.Sprintf("alt%d", state.Depth())),
		}, nil
	}}
	evaluator := &stubEvaluator{fn: func(story.State) (Score, error) {
		return Score{}, fmt.Errorf("status 500")
	}}

	cfg := testSearchConfig()
	cfg.MaxDepth = 8
	cfg.MaxConsecutiveFailures = 3
	s, err := NewSolver(cfg, "sales", proposer, evaluator)
	require.NoError(t, err)

	result, err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrProviderUnavailable)
	require.Equal(t, 3, result.Iterations)
}

func TestSolverCancellation(t *testing.T) {
	proposer := &stubProposer{fn: func(story.State, int) ([]story.Action, error) {
		return []story.Action{chartAction("a")}, nil
	}}
	evaluator := &stubEvaluator{fn: func(story.State) (Score, error) {
		return Score{Combined: 0.5}, nil
	}}

	s, err := NewSolver(testSearchConfig(), "sales", proposer, evaluator)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := s.Run(ctx)
	require.NoError(t, err)

	require.True(t, result.Cancelled)
	require.Zero(t, result.Iterations)
	require.Empty(t, result.Actions)
}

func TestSolverStopsAtIterationBudget(t *testing.T) {
	// A wide, deep scripted tree is never exhausted within the budget.
	proposer := &stubProposer{fn: func(state story.State, _ int) ([]story.Action, error) {
		return []story.Action{
			chartAction(fmt.Sprintf("x%d", state.Depth())),
			chartAction(fmt.Sprintf("y%d", state.Depth())),
		}, nil
	}}
	evaluator := &stubEvaluator{fn: func(state story.State) (Score, error) {
		return Score{Combined: 0.5}, nil
	}}

	cfg := testSearchConfig()
	cfg.MaxIterations = 7
	cfg.MaxDepth = 10
	s, err := NewSolver(cfg, "sales", proposer, evaluator)
	require.NoError(t, err)

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 7, result.Iterations)
	require.False(t, result.BottomedOut)
	require.NotEmpty(t, result.Actions)
}

func TestNewSolverRejectsBadConfig(t *testing.T) {
	proposer := &stubProposer{fn: func(story.State, int) ([]story.Action, error) { return nil, nil }}
	evaluator := &stubEvaluator{fn: func(story.State) (Score, error) { return Score{}, nil }}

	cases := []struct {
		name   string
		mutate func(*config.SearchConfig)
	}{
		{"zero iterations", func(c *config.SearchConfig) { c.MaxIterations = 0 }},
		{"zero depth", func(c *config.SearchConfig) { c.MaxDepth = 0 }},
		{"zero exploration", func(c *config.SearchConfig) { c.ExplorationConstant = 0 }},
		{"zero budget", func(c *config.SearchConfig) { c.ProposalBudget = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testSearchConfig()
			tc.mutate(&cfg)
			_, err := NewSolver(cfg, "sales", proposer, evaluator)
			require.Error(t, err)
		})
	}

	_, err := NewSolver(testSearchConfig(), "sales", nil, evaluator)
	require.Error(t, err)
	_, err = NewSolver(testSearchConfig(), "sales", proposer, nil)
	require.Error(t, err)
}

func TestSolverDegradesNodeOnProposalFailure(t *testing.T) {
	// The first proposal succeeds; proposals below the root fail. Failed
	// nodes turn terminal and the search still extracts a one-step story.
	proposer := &stubProposer{fn: func(state story.State, _ int) ([]story.Action, error) {
		if state.Depth() == 0 {
			return []story.Action{chartAction("region")}, nil
		}
		return nil, errors.New("rate limited")
	}}
	evaluator := &stubEvaluator{fn: func(state story.State) (Score, error) {
		return Score{Combined: 0.6}, nil
	}}

	cfg := testSearchConfig()
	cfg.MaxDepth = 4
	s, err := NewSolver(cfg, "sales", proposer, evaluator)
	require.NoError(t, err)

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	require.True(t, result.BottomedOut)
	require.Len(t, result.Actions, 1)
	require.Equal(t, "region", result.Actions[0].XColumn)
}
