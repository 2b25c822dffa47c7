// Package summary renders a deterministic text profile of a table. The profile
// grounds the code-generation prompt, so identical tables must always produce
// byte-identical text.
package summary

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"dataanalyst/internal/ingest"
	"dataanalyst/internal/logging"
)

// precision is the number of decimals used for every float in the profile.
const precision = 4

// Build returns the profile of t: columns, row count, column types,
// descriptive statistics, missing values and, when more than one numeric
// column exists, the Pearson correlation matrix.
func Build(t *ingest.Table) string {
	var sb strings.Builder

	sb.WriteString("Columns: ")
	sb.WriteString(strings.Join(t.Names(), ", "))
	sb.WriteString("\n")
	sb.WriteString("Rows: ")
	sb.WriteString(strconv.Itoa(t.NumRows()))
	sb.WriteString("\n\n")

	sb.WriteString("Column types:\n")
	for _, c := range t.Columns {
		sb.WriteString("  " + c.Name + ": " + dtype(c.Kind) + "\n")
	}

	numeric := t.NumericColumns()
	sb.WriteString("\nDescriptive statistics (numeric columns):\n")
	if len(numeric) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, c := range numeric {
		s := Describe(c.Present())
		sb.WriteString("  " + c.Name + ":")
		writeStat(&sb, "count", float64(s.Count), 0)
		writeStat(&sb, "mean", s.Mean, precision)
		writeStat(&sb, "std", s.Std, precision)
		writeStat(&sb, "min", s.Min, precision)
		writeStat(&sb, "25%", s.Q1, precision)
		writeStat(&sb, "50%", s.Median, precision)
		writeStat(&sb, "75%", s.Q3, precision)
		writeStat(&sb, "max", s.Max, precision)
		sb.WriteString("\n")
	}

	sb.WriteString("\nMissing values:\n")
	for _, c := range t.Columns {
		sb.WriteString("  " + c.Name + ": " + strconv.Itoa(c.MissingCount()) + "\n")
	}

	if len(numeric) > 1 {
		sb.WriteString("\nCorrelation matrix (Pearson, numeric columns):\n")
		for _, row := range numeric {
			sb.WriteString("  " + row.Name + ":")
			for _, col := range numeric {
				writeStat(&sb, col.Name, Pearson(row, col), precision)
			}
			sb.WriteString("\n")
		}
	}

	out := sb.String()
	logging.SummaryDebug("built summary for %s: %d bytes", t.Source, len(out))
	return out
}

func dtype(k ingest.ColumnKind) string {
	if k == ingest.KindNumeric {
		return "float64"
	}
	return "object"
}

func writeStat(sb *strings.Builder, label string, v float64, prec int) {
	sb.WriteString(" ")
	sb.WriteString(label)
	sb.WriteString("=")
	sb.WriteString(strconv.FormatFloat(v, 'f', prec, 64))
}

// Stats are the descriptive statistics of one numeric column.
type Stats struct {
	Count                    int
	Mean, Std                float64
	Min, Q1, Median, Q3, Max float64
}

// Describe computes Stats over values. Std is the sample standard deviation
// and is NaN for fewer than two values. Quantiles use linear interpolation.
func Describe(values []float64) Stats {
	n := len(values)
	if n == 0 {
		nan := math.NaN()
		return Stats{Mean: nan, Std: nan, Min: nan, Q1: nan, Median: nan, Q3: nan, Max: nan}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	std := math.NaN()
	if n > 1 {
		var ss float64
		for _, v := range sorted {
			d := v - mean
			ss += d * d
		}
		std = math.Sqrt(ss / float64(n-1))
	}

	return Stats{
		Count:  n,
		Mean:   mean,
		Std:    std,
		Min:    sorted[0],
		Q1:     quantile(sorted, 0.25),
		Median: quantile(sorted, 0.5),
		Q3:     quantile(sorted, 0.75),
		Max:    sorted[n-1],
	}
}

// quantile expects sorted input.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Pearson returns the correlation of a and b over rows where both are
// present. It is NaN when fewer than two such rows exist or either side has
// zero variance.
func Pearson(a, b *ingest.Column) float64 {
	var xs, ys []float64
	for i := range a.Numbers {
		if a.Missing[i] || b.Missing[i] {
			continue
		}
		xs = append(xs, a.Numbers[i])
		ys = append(ys, b.Numbers[i])
	}
	n := len(xs)
	if n < 2 {
		return math.NaN()
	}

	var mx, my float64
	for i := 0; i < n; i++ {
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(n)
	my /= float64(n)

	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	return sxy / math.Sqrt(sxx*syy)
}
