// Package ingest loads uploaded files: tables for the code-execution path,
// plain text for documents, and raw bytes for images.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ColumnKind is the inferred scalar type of a column.
type ColumnKind string

const (
	KindNumeric ColumnKind = "numeric"
	KindText    ColumnKind = "text"
)

// missingTokens are cell values treated as absent, matching the defaults of
// common dataframe readers.
var missingTokens = map[string]bool{
	"": true, "NA": true, "N/A": true, "n/a": true, "NaN": true, "nan": true,
	"null": true, "NULL": true, "None": true, "-": true, "#N/A": true,
}

// IsMissing reports whether a raw cell value counts as missing.
func IsMissing(raw string) bool {
	return missingTokens[strings.TrimSpace(raw)]
}

// Column is one named, typed column of a Table.
type Column struct {
	Name string
	Kind ColumnKind

	// Values holds the trimmed cell text used for inference, one entry per row.
	Values []string

	// Raw holds the cell text exactly as read. It is what gets staged.
	Raw []string

	// Numbers holds parsed values for numeric columns (NaN where missing).
	// Nil for text columns.
	Numbers []float64

	// Missing marks absent cells.
	Missing []bool
}

// MissingCount returns the number of absent cells.
func (c *Column) MissingCount() int {
	n := 0
	for _, m := range c.Missing {
		if m {
			n++
		}
	}
	return n
}

// Present returns the non-missing numeric values in row order.
func (c *Column) Present() []float64 {
	out := make([]float64, 0, len(c.Numbers))
	for i, v := range c.Numbers {
		if !c.Missing[i] {
			out = append(out, v)
		}
	}
	return out
}

// Table is an in-memory two-dimensional dataset with unique column names.
// It is read-only once built.
type Table struct {
	// Source is the base name of the file the table was loaded from.
	Source  string
	Columns []*Column
	rows    int
}

// NewTable builds a Table from a header row and data rows. Short rows are
// padded with missing cells and long rows are cut to the header width.
func NewTable(source string, header []string, rows [][]string) (*Table, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("no columns found")
	}

	names := uniqueNames(header)
	t := &Table{Source: source, rows: len(rows)}
	t.Columns = make([]*Column, len(names))
	for i, name := range names {
		col := &Column{
			Name:    name,
			Values:  make([]string, len(rows)),
			Raw:     make([]string, len(rows)),
			Missing: make([]bool, len(rows)),
		}
		for r, row := range rows {
			if i < len(row) {
				col.Raw[r] = row[i]
				col.Values[r] = strings.TrimSpace(row[i])
			}
			col.Missing[r] = IsMissing(col.Values[r])
		}
		inferKind(col)
		t.Columns[i] = col
	}
	return t, nil
}

// NumRows returns the number of data rows.
func (t *Table) NumRows() int { return t.rows }

// Names returns the column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// NumericColumns returns the numeric columns in table order.
func (t *Table) NumericColumns() []*Column {
	var out []*Column
	for _, c := range t.Columns {
		if c.Kind == KindNumeric {
			out = append(out, c)
		}
	}
	return out
}

// WriteCSV serializes the table as RFC 4180 CSV with a header row. Cells are
// written as read; missing-value tokens and padding are left for the reader
// of the staged file to interpret.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Names()); err != nil {
		return err
	}
	record := make([]string, len(t.Columns))
	for r := 0; r < t.rows; r++ {
		for i, c := range t.Columns {
			record[i] = c.Raw[r]
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// inferKind marks a column numeric when every present cell parses as a float
// and at least one cell is present.
func inferKind(col *Column) {
	nums := make([]float64, len(col.Values))
	present := 0
	for i, raw := range col.Values {
		if col.Missing[i] {
			nums[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsInf(v, 0) {
			col.Kind = KindText
			return
		}
		nums[i] = v
		present++
	}
	if present == 0 {
		col.Kind = KindText
		return
	}
	col.Kind = KindNumeric
	col.Numbers = nums
}

// uniqueNames fills blank headers and suffixes duplicates with .1, .2, ...
func uniqueNames(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		candidate := name
		for n := 1; seen[candidate]; n++ {
			candidate = fmt.Sprintf("%s.%d", name, n)
		}
		seen[candidate] = true
		out[i] = candidate
	}
	return out
}
