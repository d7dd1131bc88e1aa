package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileRecorder writes one JSON document per iteration under
// <dir>/<run_id>/iteration_NNNN.json, for offline inspection and replay.
type FileRecorder struct {
	dir string
}

// NewFileRecorder ensures the base directory exists.
func NewFileRecorder(dir string) (*FileRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileRecorder{dir: dir}, nil
}

func (f *FileRecorder) Record(_ context.Context, snap Snapshot) error {
	runDir := filepath.Join(f.dir, snap.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	path := filepath.Join(runDir, fmt.Sprintf("iteration_%04d.json", snap.Iteration))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (f *FileRecorder) Close() error { return nil }
