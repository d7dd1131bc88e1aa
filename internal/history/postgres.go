package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store wraps the Postgres connection used for durable run history. It both
// records snapshots during a run and serves them to the inspection server.
type Store struct {
	DB *sql.DB
}

// NewStore opens a Postgres connection with the given DSN and verifies it.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// RunRecord summarizes one search run for listing endpoints.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	Dataset    string    `json:"dataset"`
	Iterations int       `json:"iterations"`
	BestScore  float64   `json:"best_score"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Record upserts the run row and appends the iteration snapshot.
func (s *Store) Record(ctx context.Context, snap Snapshot) error {
	bestPath, err := json.Marshal(snap.BestPath)
	if err != nil {
		return fmt.Errorf("marshal best path: %w", err)
	}
	nodes, err := json.Marshal(snap.Nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}

	if _, err := s.DB.ExecContext(ctx, `
INSERT INTO runs (run_id, dataset, iterations, best_score, best_path, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
ON CONFLICT (run_id) DO UPDATE SET
  iterations = EXCLUDED.iterations,
  best_score = EXCLUDED.best_score,
  best_path = EXCLUDED.best_path,
  updated_at = NOW();
`, snap.RunID, snap.Dataset, snap.Iteration, snap.BestScore, bestPath); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if _, err := s.DB.ExecContext(ctx, `
INSERT INTO run_snapshots (run_id, iteration, best_score, best_path, nodes, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (run_id, iteration) DO UPDATE SET
  best_score = EXCLUDED.best_score,
  best_path = EXCLUDED.best_path,
  nodes = EXCLUDED.nodes;
`, snap.RunID, snap.Iteration, snap.BestScore, bestPath, nodes, snap.CreatedAt); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.DB.Close() }

// ListRuns returns the most recently updated runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id, dataset, iterations, best_score, updated_at
FROM runs ORDER BY updated_at DESC LIMIT $1;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.Dataset, &r.Iterations, &r.BestScore, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSnapshots returns every recorded snapshot for a run in iteration order.
func (s *Store) GetSnapshots(ctx context.Context, runID string) ([]Snapshot, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id, iteration, best_score, best_path, nodes, created_at
FROM run_snapshots WHERE run_id = $1 ORDER BY iteration ASC;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("get snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var bestPath, nodes []byte
		if err := rows.Scan(&snap.RunID, &snap.Iteration, &snap.BestScore, &bestPath, &nodes, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal(bestPath, &snap.BestPath); err != nil {
			return nil, fmt.Errorf("unmarshal best path: %w", err)
		}
		if err := json.Unmarshal(nodes, &snap.Nodes); err != nil {
			return nil, fmt.Errorf("unmarshal nodes: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// GetLatest returns the most recent snapshot for a run.
func (s *Store) GetLatest(ctx context.Context, runID string) (Snapshot, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT run_id, iteration, best_score, best_path, nodes, created_at
FROM run_snapshots WHERE run_id = $1 ORDER BY iteration DESC LIMIT 1;
`, runID)

	var snap Snapshot
	var bestPath, nodes []byte
	err := row.Scan(&snap.RunID, &snap.Iteration, &snap.BestScore, &bestPath, &nodes, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("scan snapshot: %w", err)
	}
	if err := json.Unmarshal(bestPath, &snap.BestPath); err != nil {
		return Snapshot{}, false, fmt.Errorf("unmarshal best path: %w", err)
	}
	if err := json.Unmarshal(nodes, &snap.Nodes); err != nil {
		return Snapshot{}, false, fmt.Errorf("unmarshal nodes: %w", err)
	}
	return snap, true, nil
}
