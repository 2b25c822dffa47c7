package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"dataanalyst/internal/logging"
)

// FileKind classifies an upload by extension.
type FileKind string

const (
	FileTabular     FileKind = "tabular"
	FileDocument    FileKind = "document"
	FileImage       FileKind = "image"
	FileUnsupported FileKind = "unsupported"
)

var extensionKinds = map[string]FileKind{
	".csv":  FileTabular,
	".xlsx": FileTabular,
	".txt":  FileDocument,
	".doc":  FileDocument,
	".docx": FileDocument,
	".pdf":  FileDocument,
	".png":  FileImage,
	".jpg":  FileImage,
	".jpeg": FileImage,
}

// KindOf returns the kind of file at path based on its lower-cased extension.
func KindOf(path string) FileKind {
	if k, ok := extensionKinds[strings.ToLower(filepath.Ext(path))]; ok {
		return k
	}
	return FileUnsupported
}

// ParseError reports a file that could not be read or decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("Error parsing file: %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TableResult carries either a Table or the reason it could not be loaded.
// Load failures are data, not panics, so callers can turn them into a reply.
type TableResult struct {
	Table *Table
	Err   error
}

// Failed reports whether loading failed.
func (r TableResult) Failed() bool { return r.Err != nil || r.Table == nil }

// LoadTable parses a .csv or .xlsx file into a Table.
func LoadTable(path string) TableResult {
	timer := logging.StartTimer(logging.CategoryIngest, "LoadTable "+filepath.Base(path))
	defer timer.Stop()

	var (
		t   *Table
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		t, err = loadCSV(path)
	case ".xlsx":
		t, err = loadXLSX(path)
	default:
		err = fmt.Errorf("unsupported tabular extension %q", ext)
	}
	if err != nil {
		logging.IngestWarn("table load failed: %s: %v", path, err)
		return TableResult{Err: &ParseError{Path: path, Err: err}}
	}

	logging.Ingest("loaded %s: %d rows x %d columns", filepath.Base(path), t.NumRows(), len(t.Columns))
	return TableResult{Table: t}
}

func loadCSV(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return ReadCSV(filepath.Base(path), bytes.NewReader(data))
}

// ReadCSV parses CSV data whose first record is the header.
func ReadCSV(source string, r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("file is empty")
	}
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlankRecord(rec) {
			continue
		}
		rows = append(rows, rec)
	}
	return NewTable(source, header, rows)
}

func loadXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheets[0], err)
	}

	var records [][]string
	for _, rec := range all {
		if !isBlankRecord(rec) {
			records = append(records, rec)
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheets[0])
	}
	return NewTable(filepath.Base(path), records[0], records[1:])
}

func isBlankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
