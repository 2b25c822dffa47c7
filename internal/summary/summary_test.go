package summary

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataanalyst/internal/ingest"
)

func table(t *testing.T, csv string) *ingest.Table {
	t.Helper()
	tbl, err := ingest.ReadCSV("test.csv", strings.NewReader(csv))
	require.NoError(t, err)
	return tbl
}

func TestBuild_Sections(t *testing.T) {
	tbl := table(t, "A,B,label\n1,2,x\n2,4,y\n3,6,\n4,,z\n")

	got := Build(tbl)
	want := `Columns: A, B, label
Rows: 4

Column types:
  A: float64
  B: float64
  label: object

Descriptive statistics (numeric columns):
  A: count=4 mean=2.5000 std=1.2910 min=1.0000 25%=1.7500 50%=2.5000 75%=3.2500 max=4.0000
  B: count=3 mean=4.0000 std=2.0000 min=2.0000 25%=3.0000 50%=4.0000 75%=5.0000 max=6.0000

Missing values:
  A: 0
  B: 1
  label: 1

Correlation matrix (Pearson, numeric columns):
  A: A=1.0000 B=1.0000
  B: A=1.0000 B=1.0000
`
	assert.Equal(t, want, got)
}

func TestBuild_Deterministic(t *testing.T) {
	tbl := table(t, "x,y,z\n0.1,9,a\n0.7,3,b\n0.3,NA,c\n1e3,-2,d\n")
	first := Build(tbl)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Build(tbl))
	}
}

func TestBuild_SingleNumericColumnHasNoCorrelation(t *testing.T) {
	got := Build(table(t, "v,name\n1,a\n2,b\n"))
	assert.NotContains(t, got, "Correlation matrix")
	assert.Contains(t, got, "v: count=2")
}

func TestBuild_NoNumericColumns(t *testing.T) {
	got := Build(table(t, "name\nann\nbob\n"))
	assert.Contains(t, got, "(none)")
	assert.NotContains(t, got, "Correlation")
}

func TestDescribe_SingleValue(t *testing.T) {
	s := Describe([]float64{5})
	assert.Equal(t, 1, s.Count)
	assert.Equal(t, 5.0, s.Median)
	assert.True(t, math.IsNaN(s.Std))
}

func TestPearson_Undefined(t *testing.T) {
	tbl := table(t, "a,b\n1,5\n2,5\n3,5\n")
	a, _ := tbl.Column("a")
	b, _ := tbl.Column("b")
	assert.True(t, math.IsNaN(Pearson(a, b)))
	assert.Contains(t, Build(tbl), "b=NaN")
}

func TestPearson_Negative(t *testing.T) {
	tbl := table(t, "a,b\n1,3\n2,2\n3,1\n")
	a, _ := tbl.Column("a")
	b, _ := tbl.Column("b")
	assert.InDelta(t, -1.0, Pearson(a, b), 1e-12)
}
