package history

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileRecorderWritesIterationFiles(t *testing.T) {
	dir := t.TempDir()
	fr, err := NewFileRecorder(dir)
	if err != nil {
		t.Fatalf("NewFileRecorder: %v", err)
	}

	snap := testSnapshot()
	if err := fr.Record(context.Background(), snap); err != nil {
		t.Fatalf("Record: %v", err)
	}
	snap.Iteration = 4
	if err := fr.Record(context.Background(), snap); err != nil {
		t.Fatalf("Record: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "run-1", "iteration_0003.json"))
	if err != nil {
		t.Fatalf("read snapshot file: %v", err)
	}
	var got Snapshot
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if got.RunID != "run-1" || got.Iteration != 3 || got.BestScore != 0.72 {
		t.Fatalf("unexpected snapshot content: %#v", got)
	}
	if len(got.Nodes) != 2 {
		t.Fatalf("expected 2 node summaries, got %d", len(got.Nodes))
	}

	if _, err := os.Stat(filepath.Join(dir, "run-1", "iteration_0004.json")); err != nil {
		t.Fatalf("second iteration file missing: %v", err)
	}
}

type countingRecorder struct {
	records int
	closed  bool
	err     error
}

func (c *countingRecorder) Record(context.Context, Snapshot) error {
	c.records++
	return c.err
}

func (c *countingRecorder) Close() error {
	c.closed = true
	return nil
}

func TestMultiRecorderFansOut(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	m := MultiRecorder{a, b}

	if err := m.Record(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if a.records != 1 || b.records != 1 {
		t.Fatalf("fan-out counts: %d, %d", a.records, b.records)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatal("Close did not reach all recorders")
	}
}

func TestMultiRecorderContinuesPastFailures(t *testing.T) {
	failing := &countingRecorder{err: errors.New("disk full")}
	healthy := &countingRecorder{}
	m := MultiRecorder{failing, healthy}

	err := m.Record(context.Background(), testSnapshot())
	if err == nil {
		t.Fatal("expected the failure to surface")
	}
	if healthy.records != 1 {
		t.Fatal("healthy recorder should still receive the snapshot")
	}
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	if err := r.Record(context.Background(), Snapshot{}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
