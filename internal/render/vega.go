package render

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/datatales/storyteller/internal/dataset"
	"github.com/datatales/storyteller/internal/story"
)

const maxInlineRows = 5000

// VegaSpec builds a Vega-Lite specification for a chart or comparison
// action, with the dataset inlined as values. Aggregation is expressed at
// the encoding level.
func VegaSpec(a story.Action, dc *dataset.Context, values []map[string]interface{}, width, height int) (map[string]interface{}, error) {
	spec := map[string]interface{}{
		"$schema":     "https://vega.github.io/schema/vega-lite/v5.json",
		"width":       width,
		"height":      height,
		"data":        map[string]interface{}{"values": values},
		"title":       a.Label(),
		"description": a.Rationale,
	}

	switch a.Kind {
	case story.KindChart:
		return chartSpec(spec, a, dc)
	case story.KindComparison:
		return comparisonSpec(spec, a, dc)
	default:
		return nil, fmt.Errorf("action kind %s has no visual form", a.Kind)
	}
}

func chartSpec(spec map[string]interface{}, a story.Action, dc *dataset.Context) (map[string]interface{}, error) {
	x := encoding(a.XColumn, dc)
	y := encoding(a.YColumn, dc)
	if a.Aggregate != story.AggNone && y != nil {
		y["aggregate"] = string(a.Aggregate)
	}

	switch a.ChartType {
	case story.ChartBar:
		spec["mark"] = "bar"
	case story.ChartLine:
		spec["mark"] = map[string]interface{}{"type": "line", "point": true}
	case story.ChartScatter:
		spec["mark"] = "point"
	case story.ChartBox:
		spec["mark"] = map[string]interface{}{"type": "boxplot", "extent": "min-max"}
	case story.ChartHeatmap:
		spec["mark"] = "rect"
	case story.ChartPie:
		theta := map[string]interface{}{"aggregate": "count", "type": "quantitative"}
		if a.YColumn != "" {
			theta = map[string]interface{}{"field": a.YColumn, "aggregate": aggregateOr(a.Aggregate, story.AggSum), "type": "quantitative"}
		}
		spec["mark"] = map[string]interface{}{"type": "arc", "tooltip": true}
		spec["encoding"] = map[string]interface{}{
			"theta": theta,
			"color": map[string]interface{}{"field": a.XColumn, "type": "nominal"},
		}
		return spec, nil
	default:
		return nil, fmt.Errorf("unsupported chart type %q", a.ChartType)
	}

	enc := map[string]interface{}{}
	if x != nil {
		enc["x"] = x
	}
	if y != nil {
		enc["y"] = y
	} else if a.Aggregate == story.AggCount {
		enc["y"] = map[string]interface{}{"aggregate": "count", "type": "quantitative"}
	}
	if a.ChartType == story.ChartHeatmap {
		enc["color"] = map[string]interface{}{"aggregate": "count", "type": "quantitative"}
	} else if a.GroupBy != "" {
		enc["color"] = map[string]interface{}{"field": a.GroupBy, "type": "nominal"}
	}
	spec["encoding"] = enc
	return spec, nil
}

func comparisonSpec(spec map[string]interface{}, a story.Action, dc *dataset.Context) (map[string]interface{}, error) {
	spec["mark"] = "bar"
	spec["transform"] = []map[string]interface{}{
		{"filter": map[string]interface{}{"field": a.GroupBy, "oneOf": a.Groups}},
	}
	spec["encoding"] = map[string]interface{}{
		"x": map[string]interface{}{"field": a.GroupBy, "type": "nominal"},
		"y": map[string]interface{}{"field": a.Measure, "aggregate": "mean", "type": "quantitative"},
		"color": map[string]interface{}{"field": a.GroupBy, "type": "nominal"},
	}
	return spec, nil
}

func aggregateOr(agg, fallback story.Aggregation) string {
	if agg == story.AggNone {
		return string(fallback)
	}
	return string(agg)
}

// encoding maps a column to a Vega-Lite field encoding using the dataset's
// type tags.
func encoding(column string, dc *dataset.Context) map[string]interface{} {
	if column == "" {
		return nil
	}
	fieldType := "nominal"
	if col, ok := dc.Column(column); ok {
		switch col.Type {
		case dataset.TypeNumeric:
			fieldType = "quantitative"
		case dataset.TypeTemporal:
			fieldType = "temporal"
		}
	}
	return map[string]interface{}{"field": column, "type": fieldType}
}

// LoadValues reads the dataset CSV into inline Vega values, coercing numeric
// cells and capping the row count so specs stay renderable.
func LoadValues(csvPath string) ([]map[string]interface{}, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var values []map[string]interface{}
	for len(values) < maxInlineRows {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]interface{}, len(header))
		for i, name := range header {
			if i >= len(rec) {
				continue
			}
			cell := strings.TrimSpace(rec[i])
			if n, err := strconv.ParseFloat(cell, 64); err == nil && cell != "" {
				row[name] = n
			} else {
				row[name] = cell
			}
		}
		values = append(values, row)
	}
	return values, nil
}
