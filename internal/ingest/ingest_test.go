package ingest

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestKindOf(t *testing.T) {
	cases := map[string]FileKind{
		"sales.csv":     FileTabular,
		"Book1.XLSX":    FileTabular,
		"notes.txt":     FileDocument,
		"report.docx":   FileDocument,
		"legacy.doc":    FileDocument,
		"paper.PDF":     FileDocument,
		"chart.png":     FileImage,
		"photo.JPG":     FileImage,
		"photo.jpeg":    FileImage,
		"archive.zip":   FileUnsupported,
		"no-extension":  FileUnsupported,
		"data.csv.gz":   FileUnsupported,
		"/tmp/a.b/c.py": FileUnsupported,
	}
	for path, want := range cases {
		assert.Equal(t, want, KindOf(path), path)
	}
}

func TestLoadTable_CSV(t *testing.T) {
	path := writeFile(t, "people.csv", "\xef\xbb\xbfname,age,score\nann,31,4.5\nbob,,3\ncid,27,NA\n")

	res := LoadTable(path)
	require.False(t, res.Failed(), "%v", res.Err)
	tbl := res.Table

	assert.Equal(t, "people.csv", tbl.Source)
	assert.Equal(t, []string{"name", "age", "score"}, tbl.Names())
	assert.Equal(t, 3, tbl.NumRows())

	name, _ := tbl.Column("name")
	assert.Equal(t, KindText, name.Kind)

	age, ok := tbl.Column("age")
	require.True(t, ok)
	assert.Equal(t, KindNumeric, age.Kind)
	assert.Equal(t, 1, age.MissingCount())
	assert.Equal(t, []float64{31, 27}, age.Present())

	score, _ := tbl.Column("score")
	assert.Equal(t, KindNumeric, score.Kind)
	assert.Equal(t, []float64{4.5, 3}, score.Present())
}

func TestLoadTable_RaggedRowsAndDuplicateHeaders(t *testing.T) {
	path := writeFile(t, "ragged.csv", "a,a,,b\n1,2,3\n4,5,6,7,8\n\n")

	res := LoadTable(path)
	require.False(t, res.Failed(), "%v", res.Err)

	assert.Equal(t, []string{"a", "a.1", "Unnamed: 2", "b"}, res.Table.Names())
	assert.Equal(t, 2, res.Table.NumRows())

	b, _ := res.Table.Column("b")
	assert.Equal(t, []bool{true, false}, b.Missing)
}

func TestLoadTable_Failures(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		res := LoadTable(writeFile(t, "empty.csv", ""))
		require.True(t, res.Failed())
		assert.True(t, strings.HasPrefix(res.Err.Error(), "Error parsing file:"))
	})

	t.Run("missing file", func(t *testing.T) {
		res := LoadTable(filepath.Join(t.TempDir(), "gone.csv"))
		require.True(t, res.Failed())
		var pe *ParseError
		assert.True(t, errors.As(res.Err, &pe))
		assert.True(t, errors.Is(res.Err, os.ErrNotExist))
	})

	t.Run("corrupt xlsx", func(t *testing.T) {
		res := LoadTable(writeFile(t, "bad.xlsx", "this is not a workbook"))
		require.True(t, res.Failed())
		assert.Contains(t, res.Err.Error(), "bad.xlsx")
	})
}

func TestLoadTable_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"region", "revenue"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"north", 120.5}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"south", 98}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	res := LoadTable(path)
	require.False(t, res.Failed(), "%v", res.Err)
	assert.Equal(t, []string{"region", "revenue"}, res.Table.Names())

	rev, _ := res.Table.Column("revenue")
	assert.Equal(t, KindNumeric, rev.Kind)
	assert.Equal(t, []float64{120.5, 98}, rev.Present())
}

func TestTable_WriteCSV(t *testing.T) {
	tbl, err := ReadCSV("in.csv", strings.NewReader("x,label\n1,\"a, b\"\nNA,c\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))
	assert.Equal(t, "x,label\n1,\"a, b\"\nNA,c\n", buf.String())
}

func TestTable_WriteCSVKeepsCellsAsRead(t *testing.T) {
	tbl, err := ReadCSV("in.csv", strings.NewReader("sign,city,note\n-,  New York,None\n+,Paris ,ok\n"))
	require.NoError(t, err)

	sign, _ := tbl.Column("sign")
	assert.Equal(t, []bool{true, false}, sign.Missing)
	city, _ := tbl.Column("city")
	assert.Equal(t, "New York", city.Values[0])

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))
	// encoding/csv quotes fields with leading space; readers unquote them.
	assert.Equal(t, "sign,city,note\n-,\"  New York\",None\n+,Paris ,ok\n", buf.String())

	again, err := ReadCSV("staged.csv", &buf)
	require.NoError(t, err)
	againCity, _ := again.Column("city")
	assert.Equal(t, city.Raw, againCity.Raw)
	againSign, _ := again.Column("sign")
	assert.Equal(t, sign.Raw, againSign.Raw)
}

func TestReadDocument_Text(t *testing.T) {
	path := writeFile(t, "q3.txt", "Revenue grew 12% in Q3")
	text, err := ReadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew 12% in Q3", text)
}

func TestReadDocument_DOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Quarterly report</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Revenue grew </w:t></w:r><w:r><w:t>12%</w:t></w:r></w:p>
</w:body>
</w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "report.docx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	text, err := ReadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report\nRevenue grew 12%", text)
}

func TestReadDocument_Failures(t *testing.T) {
	for _, name := range []string{"legacy.doc", "broken.pdf"} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadDocument(writeFile(t, name, "\xd0\xcf\x11\xe0 binary junk"))
			require.Error(t, err)
			var pe *ParseError
			assert.True(t, errors.As(err, &pe))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Equal(t, "héé", Truncate("héééé", 3))
	assert.Equal(t, "anything", Truncate("anything", 0))
}

func TestReadImage(t *testing.T) {
	path := writeFile(t, "chart.PNG", "\x89PNG\r\n\x1a\nfake")
	img, err := ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, "chart.PNG", img.Name)

	_, err = ReadImage(writeFile(t, "empty.jpg", ""))
	assert.Error(t, err)
}
