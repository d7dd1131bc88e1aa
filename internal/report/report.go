package report

import (
	"fmt"
	htmltemplate "html/template"
	"os"
	"path/filepath"
	texttemplate "text/template"
	"time"

	"github.com/datatales/storyteller/internal/dataset"
	"github.com/datatales/storyteller/internal/search"
	"github.com/datatales/storyteller/internal/story"
)

// Step is one rendered story beat: the action, its rationale, and the chart
// artifact path when the action has a visual form.
type Step struct {
	Index     int
	Action    story.Action
	Title     string
	ChartFile string
}

// Report is the assembled document model handed to the templates.
type Report struct {
	RunID      string
	Dataset    string
	Generated  time.Time
	Score      search.Score
	Iterations int
	Steps      []Step
	Conclusion string
}

// Build assembles the report model from a solver result. chartFiles maps
// step index to a chart image file name relative to the report directory.
func Build(result search.Result, dc *dataset.Context, chartFiles map[int]string) Report {
	rep := Report{
		RunID:      result.RunID,
		Dataset:    dc.Name,
		Generated:  time.Now(),
		Score:      result.Score,
		Iterations: result.Iterations,
	}
	for i, a := range result.Actions {
		step := Step{Index: i + 1, Action: a, Title: a.Label()}
		if f, ok := chartFiles[i]; ok {
			step.ChartFile = f
		}
		if a.Kind == story.KindConclude {
			rep.Conclusion = a.Statement
			continue
		}
		rep.Steps = append(rep.Steps, step)
	}
	return rep
}

var markdownTmpl = texttemplate.Must(texttemplate.New("markdown").Parse(`# Data Story: {{.Dataset}}

_Run {{.RunID}} | generated {{.Generated.Format "2006-01-02 15:04"}} | score {{printf "%.3f" .Score.Combined}} over {{.Iterations}} iterations_

{{range .Steps}}## {{.Index}}. {{.Title}}

{{if .ChartFile}}![{{.Title}}]({{.ChartFile}})

{{end}}{{if .Action.Statement}}{{.Action.Statement}}

{{end}}{{if .Action.Rationale}}_{{.Action.Rationale}}_

{{end}}{{end}}{{if .Conclusion}}## Conclusion

{{.Conclusion}}
{{end}}`))

var htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Data Story: {{.Dataset}}</title>
  <style>
    body { font-family: -apple-system, sans-serif; max-width: 860px; margin: 2em auto; color: #222; }
    img { max-width: 100%; border: 1px solid #ddd; }
    .meta { color: #888; font-size: 0.85em; }
    .rationale { color: #555; font-style: italic; }
  </style>
</head>
<body>
  <h1>Data Story: {{.Dataset}}</h1>
  <p class="meta">Run {{.RunID}} | generated {{.Generated.Format "2006-01-02 15:04"}} | score {{printf "%.3f" .Score.Combined}} over {{.Iterations}} iterations</p>
  {{range .Steps}}
  <h2>{{.Index}}. {{.Title}}</h2>
  {{if .ChartFile}}<img src="{{.ChartFile}}" alt="{{.Title}}">{{end}}
  {{if .Action.Statement}}<p>{{.Action.Statement}}</p>{{end}}
  {{if .Action.Rationale}}<p class="rationale">{{.Action.Rationale}}</p>{{end}}
  {{end}}
  {{if .Conclusion}}<h2>Conclusion</h2><p>{{.Conclusion}}</p>{{end}}
</body>
</html>`))

// Write renders the Markdown and HTML documents into dir as report.md and
// report.html.
func Write(dir string, rep Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	md, err := os.Create(filepath.Join(dir, "report.md"))
	if err != nil {
		return fmt.Errorf("create report.md: %w", err)
	}
	defer md.Close()
	if err := markdownTmpl.Execute(md, rep); err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}

	html, err := os.Create(filepath.Join(dir, "report.html"))
	if err != nil {
		return fmt.Errorf("create report.html: %w", err)
	}
	defer html.Close()
	if err := htmlTmpl.Execute(html, rep); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}
