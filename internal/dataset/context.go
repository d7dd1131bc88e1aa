package dataset

import (
	"fmt"
	"strings"
)

// TypeTag classifies a column for proposal and validation purposes.
type TypeTag string

const (
	TypeNumeric     TypeTag = "numeric"
	TypeCategorical TypeTag = "categorical"
	TypeTemporal    TypeTag = "temporal"
	TypeText        TypeTag = "text"
)

// ColumnStats holds cheap summary statistics computed at load time.
type ColumnStats struct {
	Count    int      `json:"count"`
	Distinct int      `json:"distinct"`
	Missing  int      `json:"missing"`
	Min      float64  `json:"min,omitempty"`
	Max      float64  `json:"max,omitempty"`
	Mean     float64  `json:"mean,omitempty"`
	MinDate  string   `json:"min_date,omitempty"`
	MaxDate  string   `json:"max_date,omitempty"`
	Top      []string `json:"top_values,omitempty"`
}

// Column describes a single dataset column.
type Column struct {
	Name       string      `json:"name"`
	Type       TypeTag     `json:"type"`
	Stats      ColumnStats `json:"stats"`
	Annotation string      `json:"annotation,omitempty"`
}

// Context is the immutable dataset description shared read-only by every
// search component. It is loaded once at run start and never mutated.
type Context struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Rows        int      `json:"rows"`
	Columns     []Column `json:"columns"`

	index map[string]int
}

// NewContext builds a Context and its column index.
func NewContext(name, description string, rows int, columns []Column) *Context {
	dc := &Context{
		Name:        name,
		Description: description,
		Rows:        rows,
		Columns:     columns,
		index:       make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		dc.index[c.Name] = i
	}
	return dc
}

// HasColumn reports whether the dataset contains a column with the given name.
func (dc *Context) HasColumn(name string) bool {
	_, ok := dc.index[name]
	return ok
}

// Column returns the named column.
func (dc *Context) Column(name string) (Column, bool) {
	i, ok := dc.index[name]
	if !ok {
		return Column{}, false
	}
	return dc.Columns[i], true
}

// ColumnNames returns every column name in dataset order.
func (dc *Context) ColumnNames() []string {
	names := make([]string, len(dc.Columns))
	for i, c := range dc.Columns {
		names[i] = c.Name
	}
	return names
}

// PromptBlock renders the context as a compact block suitable for inclusion
// in LLM prompts.
func (dc *Context) PromptBlock() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %s (%d rows, %d columns)\n", dc.Name, dc.Rows, len(dc.Columns))
	if dc.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", dc.Description)
	}
	b.WriteString("Columns:\n")
	for _, c := range dc.Columns {
		fmt.Fprintf(&b, "- %s (%s)", c.Name, c.Type)
		switch c.Type {
		case TypeNumeric:
			fmt.Fprintf(&b, " min=%.4g max=%.4g mean=%.4g", c.Stats.Min, c.Stats.Max, c.Stats.Mean)
		case TypeCategorical:
			if len(c.Stats.Top) > 0 {
				fmt.Fprintf(&b, " values: %s", strings.Join(c.Stats.Top, ", "))
			}
		case TypeTemporal:
			if c.Stats.MinDate != "" {
				fmt.Fprintf(&b, " range: %s to %s", c.Stats.MinDate, c.Stats.MaxDate)
			}
		}
		if c.Annotation != "" {
			fmt.Fprintf(&b, " | %s", c.Annotation)
		}
		b.WriteString("\n")
	}
	return b.String()
}
