package history

import (
	"context"
	"time"

	"github.com/datatales/storyteller/internal/story"
)

// NodeSummary is the per-node slice of a snapshot: enough to reconstruct the
// tree shape and its statistics, without the full story states.
type NodeSummary struct {
	ID       int     `json:"id"`
	Parent   int     `json:"parent"` // -1 for the root
	Depth    int     `json:"depth"`
	Action   string  `json:"action,omitempty"`
	Visits   int     `json:"visits"`
	Rewards  float64 `json:"rewards"`
	Mean     float64 `json:"mean"`
	Terminal bool    `json:"terminal"`
}

// Snapshot is the read-only view of a search run after one completed
// iteration. The solver only hands out snapshots that reflect fully
// completed backpropagation.
type Snapshot struct {
	RunID     string         `json:"run_id"`
	Dataset   string         `json:"dataset"`
	Iteration int            `json:"iteration"`
	BestPath  []story.Action `json:"best_path"`
	BestScore float64        `json:"best_score"`
	Nodes     []NodeSummary  `json:"nodes"`
	CreatedAt time.Time      `json:"created_at"`
}

// Recorder persists per-iteration snapshots. Recorder errors are reported to
// the caller but never abort a search; the solver logs and continues.
type Recorder interface {
	Record(ctx context.Context, snap Snapshot) error
	Close() error
}

// NopRecorder discards snapshots.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Snapshot) error { return nil }
func (NopRecorder) Close() error                           { return nil }

// MultiRecorder fans a snapshot out to several recorders, returning the
// first error encountered after trying all of them.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(ctx context.Context, snap Snapshot) error {
	var first error
	for _, r := range m {
		if err := r.Record(ctx, snap); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiRecorder) Close() error {
	var first error
	for _, r := range m {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
