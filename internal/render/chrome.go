package render

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/datatales/storyteller/config"
	"github.com/datatales/storyteller/internal/dataset"
	"github.com/datatales/storyteller/internal/story"
)

const chartPage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <script src="https://cdn.jsdelivr.net/npm/vega@5"></script>
  <script src="https://cdn.jsdelivr.net/npm/vega-lite@5"></script>
  <script src="https://cdn.jsdelivr.net/npm/vega-embed@6"></script>
  <style>body { margin: 16px; background: white; }</style>
</head>
<body>
  <div id="vis"></div>
  <script>
    vegaEmbed("#vis", %s, {actions: false}).then(function() {
      document.body.setAttribute("data-rendered", "true");
    });
  </script>
</body>
</html>`

// ChartRenderer turns chart specifications into PNG artifacts by embedding
// the Vega-Lite spec in a self-contained HTML page and screenshotting it in
// headless Chrome.
type ChartRenderer struct {
	cfg    config.RenderConfig
	dc     *dataset.Context
	values []map[string]interface{}
	logger *log.Logger
}

// NewChartRenderer loads the dataset values once for all charts of a run.
func NewChartRenderer(cfg config.RenderConfig, dc *dataset.Context, csvPath string) (*ChartRenderer, error) {
	values, err := LoadValues(csvPath)
	if err != nil {
		return nil, err
	}
	return &ChartRenderer{
		cfg:    cfg,
		dc:     dc,
		values: values,
		logger: log.New(log.Writer(), "[RENDER] ", log.LstdFlags),
	}, nil
}

// Render produces a PNG for one visual action and writes it to outPath.
// The search core only ever carries the chart specification; pixels are
// produced here, after the search.
func (r *ChartRenderer) Render(ctx context.Context, a story.Action, outPath string) error {
	spec, err := VegaSpec(a, r.dc, r.values, r.cfg.Width, r.cfg.Height)
	if err != nil {
		return err
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}

	tmp, err := os.CreateTemp("", "storyteller-chart-*.html")
	if err != nil {
		return fmt.Errorf("temp page: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := fmt.Fprintf(tmp, chartPage, specJSON); err != nil {
		tmp.Close()
		return fmt.Errorf("write page: %w", err)
	}
	tmp.Close()

	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var png []byte
	err = chromedp.Run(bctx,
		chromedp.Navigate("file://"+tmp.Name()),
		chromedp.WaitReady(`body[data-rendered="true"]`, chromedp.ByQuery),
		chromedp.Screenshot("#vis", &png, chromedp.NodeVisible),
	)
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create chart dir: %w", err)
	}
	if err := os.WriteFile(outPath, png, 0o644); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}
	r.logger.Printf("rendered %s -> %s", a.Label(), outPath)
	return nil
}
