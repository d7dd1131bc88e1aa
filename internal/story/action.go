package story

import (
	"fmt"
	"sort"
	"strings"

	"github.com/datatales/storyteller/internal/dataset"
)

// ActionKind identifies one of the closed set of analytical step types.
type ActionKind string

const (
	KindChart      ActionKind = "chart"
	KindInsight    ActionKind = "insight"
	KindComparison ActionKind = "comparison"
	KindConclude   ActionKind = "conclude"
)

// Kinds lists every supported action kind, in a fixed order.
func Kinds() []ActionKind {
	return []ActionKind{KindChart, KindInsight, KindComparison, KindConclude}
}

// ChartType identifies a supported visualization type.
type ChartType string

const (
	ChartBar     ChartType = "bar"
	ChartLine    ChartType = "line"
	ChartScatter ChartType = "scatter"
	ChartPie     ChartType = "pie"
	ChartBox     ChartType = "box"
	ChartHeatmap ChartType = "heatmap"
)

// Aggregation identifies an encoding-level aggregate operation.
type Aggregation string

const (
	AggNone  Aggregation = ""
	AggSum   Aggregation = "sum"
	AggMean  Aggregation = "mean"
	AggCount Aggregation = "count"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
)

// Action is one committed analytical step in a data story. Actions are
// immutable value objects; equality is structural.
type Action struct {
	Kind      ActionKind  `json:"kind"`
	ChartType ChartType   `json:"chart_type,omitempty"`
	XColumn   string      `json:"x_column,omitempty"`
	YColumn   string      `json:"y_column,omitempty"`
	GroupBy   string      `json:"group_by,omitempty"`
	Aggregate Aggregation `json:"aggregate,omitempty"`
	// Comparison parameters
	Measure string   `json:"measure,omitempty"`
	Groups  []string `json:"groups,omitempty"`
	// Insight / conclusion text
	Statement string `json:"statement,omitempty"`
	// Columns the statement refers to
	Columns []string `json:"columns,omitempty"`

	Rationale string `json:"rationale"`
}

// ColumnsUsed returns every dataset column the action references.
func (a Action) ColumnsUsed() []string {
	seen := map[string]bool{}
	var out []string
	add := func(c string) {
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	add(a.XColumn)
	add(a.YColumn)
	add(a.GroupBy)
	add(a.Measure)
	for _, c := range a.Columns {
		add(c)
	}
	sort.Strings(out)
	return out
}

// Label returns a short human-readable description used in snapshots and
// reports.
func (a Action) Label() string {
	switch a.Kind {
	case KindChart:
		if a.YColumn != "" {
			return fmt.Sprintf("%s chart of %s by %s", a.ChartType, a.YColumn, a.XColumn)
		}
		return fmt.Sprintf("%s chart of %s", a.ChartType, a.XColumn)
	case KindComparison:
		return fmt.Sprintf("compare %s across %s", a.Measure, a.GroupBy)
	case KindInsight:
		return "insight: " + truncate(a.Statement, 60)
	case KindConclude:
		return "conclusion: " + truncate(a.Statement, 60)
	}
	return string(a.Kind)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var validChartTypes = map[ChartType]bool{
	ChartBar: true, ChartLine: true, ChartScatter: true,
	ChartPie: true, ChartBox: true, ChartHeatmap: true,
}

var validAggregations = map[Aggregation]bool{
	AggNone: true, AggSum: true, AggMean: true,
	AggCount: true, AggMin: true, AggMax: true,
}

// Validate checks an action against the dataset context. Actions that fail
// validation are discarded by the proposer, never surfaced to the tree.
func (a Action) Validate(dc *dataset.Context) error {
	switch a.Kind {
	case KindChart:
		if !validChartTypes[a.ChartType] {
			return fmt.Errorf("unknown chart type %q", a.ChartType)
		}
		if !validAggregations[a.Aggregate] {
			return fmt.Errorf("unknown aggregation %q", a.Aggregate)
		}
		if a.XColumn == "" {
			return fmt.Errorf("chart action missing x column")
		}
		if a.YColumn == "" && a.ChartType != ChartPie && a.Aggregate != AggCount {
			return fmt.Errorf("%s chart missing y column", a.ChartType)
		}
	case KindComparison:
		if a.Measure == "" || a.GroupBy == "" {
			return fmt.Errorf("comparison missing measure or group column")
		}
		if len(a.Groups) < 2 {
			return fmt.Errorf("comparison needs at least two groups")
		}
	case KindInsight, KindConclude:
		if strings.TrimSpace(a.Statement) == "" {
			return fmt.Errorf("%s action has empty statement", a.Kind)
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}

	for _, col := range a.ColumnsUsed() {
		if !dc.HasColumn(col) {
			return fmt.Errorf("unknown column %q", col)
		}
	}
	return nil
}
