package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const topValueLimit = 8

// annotationDoc mirrors the data_context.json format produced by the dataset
// context generator: a dataset description plus per-field semantic notes.
type annotationDoc struct {
	DatasetName        string `json:"dataset_name"`
	DatasetDescription string `json:"dataset_description"`
	FieldsInfo         map[string]struct {
		DType        string `json:"dtype"`
		SemanticType string `json:"semantic_type"`
		Description  string `json:"description"`
	} `json:"fields_info"`
}

// Load profiles a CSV file and merges the optional annotation document into
// an immutable Context. annotationPath may be empty.
func Load(csvPath, annotationPath string) (*Context, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	header, records, err := readCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", csvPath, err)
	}

	var ann annotationDoc
	if annotationPath != "" {
		raw, err := os.ReadFile(annotationPath)
		if err != nil {
			return nil, fmt.Errorf("read annotations: %w", err)
		}
		if err := json.Unmarshal(raw, &ann); err != nil {
			return nil, fmt.Errorf("parse annotations %s: %w", annotationPath, err)
		}
	}

	columns := make([]Column, len(header))
	for i, name := range header {
		values := make([]string, 0, len(records))
		for _, rec := range records {
			if i < len(rec) {
				values = append(values, rec[i])
			}
		}
		col := profileColumn(name, values)
		if info, ok := ann.FieldsInfo[name]; ok {
			parts := make([]string, 0, 2)
			if info.SemanticType != "" {
				parts = append(parts, info.SemanticType)
			}
			if info.Description != "" {
				parts = append(parts, info.Description)
			}
			col.Annotation = strings.Join(parts, ": ")
		}
		columns[i] = col
	}

	name := ann.DatasetName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(csvPath), filepath.Ext(csvPath))
	}
	return NewContext(name, ann.DatasetDescription, len(records), columns), nil
}

func readCSV(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	var records [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("no data rows")
	}
	return header, records, nil
}

var dateLayouts = []string{
	"2006-01-02", "2006/01/02", "01/02/2006", "2006-01-02 15:04:05",
	time.RFC3339, "2006-01", "Jan 2006",
}

func profileColumn(name string, values []string) Column {
	stats := ColumnStats{Count: len(values)}
	distinct := map[string]int{}
	numeric, temporal := 0, 0
	var sum, min, max float64
	var minDate, maxDate time.Time
	nonEmpty := 0

	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			stats.Missing++
			continue
		}
		nonEmpty++
		distinct[v]++
		if f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64); err == nil {
			if numeric == 0 {
				min, max = f, f
			}
			numeric++
			sum += f
			if f < min {
				min = f
			}
			if f > max {
				max = f
			}
			continue
		}
		if t, ok := parseDate(v); ok {
			if temporal == 0 {
				minDate, maxDate = t, t
			}
			temporal++
			if t.Before(minDate) {
				minDate = t
			}
			if t.After(maxDate) {
				maxDate = t
			}
		}
	}
	stats.Distinct = len(distinct)

	col := Column{Name: name, Stats: stats}
	switch {
	case nonEmpty > 0 && numeric >= nonEmpty*9/10:
		col.Type = TypeNumeric
		col.Stats.Min = min
		col.Stats.Max = max
		col.Stats.Mean = sum / float64(numeric)
	case nonEmpty > 0 && temporal >= nonEmpty*9/10:
		col.Type = TypeTemporal
		col.Stats.MinDate = minDate.Format("2006-01-02")
		col.Stats.MaxDate = maxDate.Format("2006-01-02")
	case len(distinct) > 0 && len(distinct) <= 20:
		col.Type = TypeCategorical
		col.Stats.Top = topValues(distinct)
	default:
		col.Type = TypeText
	}
	return col
}

func parseDate(v string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func topValues(counts map[string]int) []string {
	type kv struct {
		v string
		n int
	}
	pairs := make([]kv, 0, len(counts))
	for v, n := range counts {
		pairs = append(pairs, kv{v, n})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].n != pairs[j].n {
			return pairs[i].n > pairs[j].n
		}
		return pairs[i].v < pairs[j].v
	})
	if len(pairs) > topValueLimit {
		pairs = pairs[:topValueLimit]
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.v
	}
	return out
}
