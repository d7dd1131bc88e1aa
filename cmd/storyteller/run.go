package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/datatales/storyteller/config"
	"github.com/datatales/storyteller/internal/agent"
	"github.com/datatales/storyteller/internal/dataset"
	"github.com/datatales/storyteller/internal/history"
	"github.com/datatales/storyteller/internal/render"
	"github.com/datatales/storyteller/internal/report"
	"github.com/datatales/storyteller/internal/search"
	"github.com/datatales/storyteller/internal/story"
	"github.com/datatales/storyteller/internal/telemetry"
	"github.com/datatales/storyteller/provider"
)

func runCMD() *cobra.Command {
	var cfgPath string
	var csvPath string
	var annotationPath string
	var noReport bool

	var run = &cobra.Command{
		Use:   "run",
		Short: "Search for the best data story over a dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			if csvPath == "" {
				return fmt.Errorf("--data is required")
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			logger := log.New(log.Writer(), "[RUN] ", log.LstdFlags)

			dc, err := dataset.Load(csvPath, annotationPath)
			if err != nil {
				return fmt.Errorf("load dataset: %w", err)
			}
			logger.Printf("dataset %s: %d rows, %d columns", dc.Name, dc.Rows, len(dc.Columns))

			llm, err := provider.New(cfg.LLM)
			if err != nil {
				return err
			}
			tele := telemetry.New()

			proposer := agent.NewProposer(cfg, llm, dc, tele)
			evaluator := agent.NewEvaluator(cfg, llm, dc, tele)

			recorder, closeRecorders, err := buildRecorders(cfg, logger)
			if err != nil {
				return err
			}
			defer closeRecorders()

			solver, err := search.NewSolver(cfg.Search, dc.Name, proposer, evaluator,
				search.WithRecorder(recorder),
				search.WithCollector(tele),
				search.WithLogger(log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)),
			)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if cfg.General.DefaultTimeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, cfg.General.DefaultTimeout)
				defer cancel()
			}

			result, err := solver.Run(ctx)
			tele.LogSummary()
			if err != nil {
				return err
			}

			logger.Printf("run %s finished: %d iterations, %d nodes, score %.3f",
				result.RunID, result.Iterations, result.NodesCreated, result.Score.Combined)
			for i, a := range result.Actions {
				logger.Printf("  step %d: %s", i+1, a.Label())
			}

			if noReport {
				return nil
			}
			return writeReport(ctx, cfg, dc, csvPath, result, logger)
		},
	}
	run.Flags().StringVar(&csvPath, "data", "", "dataset CSV file")
	run.Flags().StringVar(&annotationPath, "context", "", "dataset annotation JSON (data_context.json)")
	run.Flags().BoolVar(&noReport, "no-report", false, "skip chart rendering and report output")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./storyteller.yaml)")

	return run
}

// buildRecorders wires every configured history sink into one fan-out
// recorder. Postgres and Redis are optional; the file recorder is on
// whenever a history dir is set.
func buildRecorders(cfg *config.Config, logger *log.Logger) (history.Recorder, func(), error) {
	var recorders []history.Recorder

	if cfg.Storage.HistoryDir != "" {
		fr, err := history.NewFileRecorder(cfg.Storage.HistoryDir)
		if err != nil {
			return nil, nil, fmt.Errorf("history dir: %w", err)
		}
		recorders = append(recorders, fr)
	}
	if cfg.Storage.Postgres.URL != "" || cfg.Storage.Postgres.Host != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		st, err := history.NewStore(ctx, cfg.Storage.Postgres.DSN())
		cancel()
		if err != nil {
			logger.Printf("postgres unavailable, skipping run store: %v", err)
		} else {
			recorders = append(recorders, st)
		}
	}
	if cfg.Storage.Redis.Addr != "" {
		rr, err := history.NewRedisRecorder(context.Background(), cfg.Storage.Redis)
		if err != nil {
			logger.Printf("redis unavailable, skipping live snapshots: %v", err)
		} else {
			recorders = append(recorders, rr)
		}
	}

	if len(recorders) == 0 {
		return history.NopRecorder{}, func() {}, nil
	}
	multi := history.MultiRecorder(recorders)
	return multi, func() { _ = multi.Close() }, nil
}

// writeReport renders chart images for the winning story and emits the
// Markdown and HTML report into <output_dir>/<run_id>/.
func writeReport(ctx context.Context, cfg *config.Config, dc *dataset.Context, csvPath string, result search.Result, logger *log.Logger) error {
	dir := filepath.Join(cfg.General.OutputDir, result.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	chartFiles := map[int]string{}
	if cfg.Render.Enabled {
		renderer, err := render.NewChartRenderer(cfg.Render, dc, csvPath)
		if err != nil {
			return fmt.Errorf("chart renderer: %w", err)
		}
		for i, a := range result.Actions {
			if a.Kind != story.KindChart && a.Kind != story.KindComparison {
				continue
			}
			name := fmt.Sprintf("chart_%02d.png", i+1)
			if err := renderer.Render(ctx, a, filepath.Join(dir, name)); err != nil {
				logger.Printf("render step %d failed: %v", i+1, err)
				continue
			}
			chartFiles[i] = name
		}
	}

	rep := report.Build(result, dc, chartFiles)
	if err := report.Write(dir, rep); err != nil {
		return err
	}
	logger.Printf("report written to %s", dir)
	return nil
}
