package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry tracks LLM usage, search progress, and cost for a storyteller
// process. Metrics are registered on the default prometheus registry and
// exposed by the server's /metrics endpoint.
type Telemetry struct {
	logger      *log.Logger
	costTracker *CostTracker

	llmRequests      *prometheus.CounterVec
	llmFailures      *prometheus.CounterVec
	llmTokens        *prometheus.CounterVec
	llmLatency       *prometheus.HistogramVec
	iterations       prometheus.Counter
	nodesCreated     prometheus.Counter
	proposalFailures prometheus.Counter
	evalFailures     prometheus.Counter
}

// CostTracker accumulates dollar costs across models and operations.
type CostTracker struct {
	mu          sync.RWMutex
	ModelCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

var (
	newOnce sync.Once
	shared  *Telemetry
)

// New returns the process-wide telemetry instance. Prometheus collectors can
// only be registered once, so repeated calls return the same instance.
func New() *Telemetry {
	newOnce.Do(func() {
		shared = &Telemetry{
			logger:      log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
			costTracker: &CostTracker{ModelCosts: make(map[string]float64)},
			llmRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "storyteller_llm_requests_total",
				Help: "LLM requests by model and role.",
			}, []string{"model", "role"}),
			llmFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "storyteller_llm_failures_total",
				Help: "LLM request failures by model and role.",
			}, []string{"model", "role"}),
			llmTokens: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "storyteller_llm_tokens_total",
				Help: "LLM tokens by model and direction.",
			}, []string{"model", "direction"}),
			llmLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "storyteller_llm_latency_seconds",
				Help:    "LLM request latency.",
				Buckets: prometheus.DefBuckets,
			}, []string{"model"}),
			iterations: promauto.NewCounter(prometheus.CounterOpts{
				Name: "storyteller_search_iterations_total",
				Help: "Completed MCTS iterations.",
			}),
			nodesCreated: promauto.NewCounter(prometheus.CounterOpts{
				Name: "storyteller_search_nodes_created_total",
				Help: "Tree nodes created during search.",
			}),
			proposalFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "storyteller_proposal_failures_total",
				Help: "Expansions degraded to terminal by proposal failure.",
			}),
			evalFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "storyteller_evaluation_failures_total",
				Help: "Evaluations that fell back to the minimum-bound score.",
			}),
		}
	})
	return shared
}

// RecordLLMCall records one LLM request outcome.
func (t *Telemetry) RecordLLMCall(model, role string, inTokens, outTokens int64, cost float64, latency time.Duration, err error) {
	t.llmRequests.WithLabelValues(model, role).Inc()
	t.llmLatency.WithLabelValues(model).Observe(latency.Seconds())
	if err != nil {
		t.llmFailures.WithLabelValues(model, role).Inc()
		return
	}
	t.llmTokens.WithLabelValues(model, "input").Add(float64(inTokens))
	t.llmTokens.WithLabelValues(model, "output").Add(float64(outTokens))

	t.costTracker.mu.Lock()
	t.costTracker.ModelCosts[model] += cost
	t.costTracker.TotalCost += cost
	t.costTracker.TotalTokens += inTokens + outTokens
	t.costTracker.mu.Unlock()
}

// RecordIteration records one completed search iteration.
func (t *Telemetry) RecordIteration() { t.iterations.Inc() }

// RecordNodesCreated records newly materialized tree nodes.
func (t *Telemetry) RecordNodesCreated(n int) { t.nodesCreated.Add(float64(n)) }

// RecordProposalFailure records a node degraded to terminal.
func (t *Telemetry) RecordProposalFailure() { t.proposalFailures.Inc() }

// RecordEvaluationFailure records an evaluation that fell back to zero.
func (t *Telemetry) RecordEvaluationFailure() { t.evalFailures.Inc() }

// TotalCost returns the accumulated dollar cost so far.
func (t *Telemetry) TotalCost() float64 {
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()
	return t.costTracker.TotalCost
}

// TotalTokens returns the accumulated token usage so far.
func (t *Telemetry) TotalTokens() int64 {
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()
	return t.costTracker.TotalTokens
}

// LogSummary logs a one-line cost summary.
func (t *Telemetry) LogSummary() {
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()
	t.logger.Printf("total cost $%.4f across %d tokens", t.costTracker.TotalCost, t.costTracker.TotalTokens)
}
