package search

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/datatales/storyteller/config"
	"github.com/datatales/storyteller/internal/history"
	"github.com/datatales/storyteller/internal/story"
)

// Proposer produces candidate next actions for a story state. It is never
// called on a state at the depth limit. An error means the language model
// was unreachable or unusable after retries; the node degrades to terminal.
type Proposer interface {
	Propose(ctx context.Context, state story.State, budget int) ([]story.Action, error)
}

// Evaluator scores a story state. Its structural half is deterministic; the
// judged half is a noisy oracle, which UCB1's visit-count-weighted averaging
// is designed to tolerate. Scores are never memoized across calls.
type Evaluator interface {
	Evaluate(ctx context.Context, state story.State) (Score, error)
}

// Result is the solver's answer: the best action sequence found, its
// evaluator score, and run statistics.
type Result struct {
	RunID        string         `json:"run_id"`
	Actions      []story.Action `json:"actions"`
	Score        Score          `json:"score"`
	Iterations   int            `json:"iterations"`
	NodesCreated int            `json:"nodes_created"`
	BottomedOut  bool           `json:"bottomed_out"`
	Cancelled    bool           `json:"cancelled"`
	Elapsed      time.Duration  `json:"elapsed"`
}

// Option configures a Solver.
type Option func(*Solver)

// WithRecorder sets the history recorder receiving per-iteration snapshots.
func WithRecorder(r history.Recorder) Option {
	return func(s *Solver) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithCollector sets the metrics collector.
func WithCollector(c Collector) Option {
	return func(s *Solver) {
		if c != nil {
			s.collector = c
		}
	}
}

// WithLogger sets the solver's logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Solver) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(s *Solver) {
		if id != "" {
			s.runID = id
		}
	}
}

// Solver drives the selection, expansion, evaluation, and backpropagation
// cycle over a single exclusively-owned tree. One logical thread of control
// runs the iteration loop; backpropagation for iteration i completes before
// selection for iteration i+1 begins.
type Solver struct {
	cfg       config.SearchConfig
	dataset   string
	proposer  Proposer
	evaluator Evaluator
	recorder  history.Recorder
	collector Collector
	logger    *log.Logger
	runID     string

	tree *Tree
}

// NewSolver validates the search configuration and builds a solver.
// Configuration errors are fatal before any iteration begins.
func NewSolver(cfg config.SearchConfig, datasetName string, p Proposer, e Evaluator, opts ...Option) (*Solver, error) {
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("max_iterations must be positive, got %d", cfg.MaxIterations)
	}
	if cfg.MaxDepth <= 0 {
		return nil, fmt.Errorf("max_depth must be positive, got %d", cfg.MaxDepth)
	}
	if cfg.ExplorationConstant <= 0 {
		return nil, fmt.Errorf("exploration_constant must be positive, got %g", cfg.ExplorationConstant)
	}
	if cfg.ProposalBudget <= 0 {
		return nil, fmt.Errorf("proposal_budget must be positive, got %d", cfg.ProposalBudget)
	}
	if p == nil || e == nil {
		return nil, fmt.Errorf("proposer and evaluator are required")
	}
	s := &Solver{
		cfg:       cfg,
		dataset:   datasetName,
		proposer:  p,
		evaluator: e,
		recorder:  history.NopRecorder{},
		collector: NopCollector{},
		logger:    log.New(log.Writer(), "[SOLVER] ", log.LstdFlags),
		runID:     uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunID returns the identifier for this solver's run.
func (s *Solver) RunID() string { return s.runID }

// Run executes the search and extracts the best story. The tree is rebuilt
// from scratch; nothing persists across runs except recorder snapshots.
// Cancellation stops before starting a new iteration and still extracts a
// valid answer from whatever tree exists.
func (s *Solver) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	s.tree = NewTree(story.EmptyState(), s.cfg.MaxDepth)

	result := Result{RunID: s.runID}
	consecutiveOutages := 0
	var runErr error

	for iter := 0; iter < s.cfg.MaxIterations; iter++ {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		if s.tree.root().exhausted {
			result.BottomedOut = true
			break
		}

		outage := s.iterate(ctx, iter)
		result.Iterations++
		s.collector.RecordIteration()

		if outage {
			consecutiveOutages++
		} else {
			consecutiveOutages = 0
		}

		snap := s.snapshot(result.Iterations)
		if err := s.recorder.Record(ctx, snap); err != nil {
			s.logger.Printf("history record failed at iteration %d: %v", result.Iterations, err)
		}

		if s.cfg.MaxConsecutiveFailures > 0 &&
			consecutiveOutages >= s.cfg.MaxConsecutiveFailures &&
			!s.tree.root().exhausted {
			runErr = fmt.Errorf("%w after %d consecutive failed iterations", ErrProviderUnavailable, consecutiveOutages)
			break
		}
	}

	actions, leaf := s.tree.bestPath()
	result.Actions = actions
	result.Score = s.tree.at(leaf).score
	result.NodesCreated = s.tree.Len() - 1
	result.Elapsed = time.Since(start)

	s.logger.Printf("run %s done: %d iterations, %d nodes, best story %d steps (score %.3f)",
		s.runID, result.Iterations, result.NodesCreated, len(result.Actions), result.Score.Combined)
	return result, runErr
}

// iterate performs one full selection/expansion/evaluation/backpropagation
// cycle. It reports whether every language-model call in the cycle failed.
func (s *Solver) iterate(ctx context.Context, iter int) (outage bool) {
	id := s.selectPath()
	n := s.tree.at(id)

	if n.terminal || n.depth >= s.tree.MaxDepth() {
		// Terminal leaf: re-evaluate the node itself so its reward estimate
		// keeps averaging over the noisy oracle.
		if !n.terminal {
			n.terminal = true
		}
		failed := s.evaluateAndBackup(ctx, id)
		s.tree.refreshExhausted(id)
		return failed
	}

	// Expansion: one proposer call populates the candidate set; each valid
	// action becomes a child.
	actions, err := s.proposer.Propose(ctx, n.state, s.cfg.ProposalBudget)
	if err != nil {
		s.logger.Printf("iteration %d: %v: %v (node %d degraded to terminal)", iter, ErrProposalFailure, err, id)
		s.collector.RecordProposalFailure()
		n.terminal = true
		failed := s.evaluateAndBackup(ctx, id)
		s.tree.refreshExhausted(id)
		return failed
	}
	n.proposed = true

	if len(actions) == 0 {
		n.terminal = true
		failed := s.evaluateAndBackup(ctx, id)
		s.tree.refreshExhausted(id)
		return failed
	}

	allFailed := true
	created := 0
	for _, a := range actions {
		child, err := s.tree.addChild(id, a)
		if err != nil {
			// depth bound; cannot happen given the selection precondition
			s.logger.Printf("iteration %d: %v", iter, err)
			continue
		}
		created++
		if !s.evaluateAndBackup(ctx, child) {
			allFailed = false
		}
	}
	s.collector.RecordNodesCreated(created)
	s.tree.refreshExhausted(id)
	if created == 0 {
		return false
	}
	return allFailed
}

// selectPath applies the tree policy from the root: follow the UCB1-best
// child until reaching a node that has not been expanded, is terminal, or is
// at the depth limit.
func (s *Solver) selectPath() nodeID {
	cur := nodeID(0)
	for {
		n := s.tree.at(cur)
		if n.terminal || !n.proposed || len(n.children) == 0 || n.depth >= s.tree.MaxDepth() {
			return cur
		}
		next := s.tree.selectChild(cur, s.cfg.ExplorationConstant)
		if next == noNode {
			return cur
		}
		cur = next
	}
}

// evaluateAndBackup scores one node, converts the score to a reward, and
// backpropagates it to the root. Evaluation failures assign the
// minimum-bound score instead of aborting. Reports whether the evaluator
// call failed.
func (s *Solver) evaluateAndBackup(ctx context.Context, id nodeID) (failed bool) {
	n := s.tree.at(id)
	score, err := s.evaluator.Evaluate(ctx, n.state)
	if err != nil {
		s.logger.Printf("%v on node %d: %v (scored at lower bound)", ErrEvaluationFailure, id, err)
		s.collector.RecordEvaluationFailure()
		score = Score{}
		failed = true
	}
	n = s.tree.at(id) // evaluator cannot grow the arena, but stay index-based
	n.score = score
	n.scored = true
	s.tree.backpropagate(id, reward(score.Combined, n.terminal, s.cfg.TerminalBonus))
	return failed
}

// snapshot builds a consistent read-only view of the tree after a completed
// iteration.
func (s *Solver) snapshot(iteration int) history.Snapshot {
	nodes := make([]history.NodeSummary, s.tree.Len())
	for i := range s.tree.nodes {
		n := s.tree.at(nodeID(i))
		nodes[i] = history.NodeSummary{
			ID:       int(n.id),
			Parent:   int(n.parent),
			Depth:    n.depth,
			Action:   actionLabel(n),
			Visits:   n.visits,
			Rewards:  n.rewards,
			Mean:     n.mean(),
			Terminal: n.terminal,
		}
	}
	actions, leaf := s.tree.bestPath()
	return history.Snapshot{
		RunID:     s.runID,
		Dataset:   s.dataset,
		Iteration: iteration,
		BestPath:  actions,
		BestScore: s.tree.at(leaf).score.Combined,
		Nodes:     nodes,
		CreatedAt: time.Now().UTC(),
	}
}

func actionLabel(n *node) string {
	if n.parent == noNode {
		return ""
	}
	return n.action.Label()
}
