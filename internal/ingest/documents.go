package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"dataanalyst/internal/logging"
)

// ReadDocument extracts plain text from a .txt, .doc/.docx or .pdf file.
// Failures are returned as *ParseError.
func ReadDocument(path string) (string, error) {
	var (
		text string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt":
		text, err = readText(path)
	case ".doc", ".docx":
		text, err = readWordXML(path)
	case ".pdf":
		text, err = readPDF(path)
	default:
		err = fmt.Errorf("unsupported document extension %q", ext)
	}
	if err != nil {
		logging.IngestWarn("document read failed: %s: %v", path, err)
		return "", &ParseError{Path: path, Err: err}
	}
	logging.IngestDebug("read document %s: %d chars", filepath.Base(path), utf8.RuneCountInString(text))
	return text, nil
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file is not valid UTF-8 text")
	}
	return string(data), nil
}

// readWordXML pulls paragraph text out of an Office Open XML document.
// Legacy binary .doc files are not zip archives and are reported as errors.
func readWordXML(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return "", fmt.Errorf("not an Office Open XML document (legacy binary .doc is not supported)")
		}
		return "", err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return paragraphsFromXML(rc)
	}
	return "", fmt.Errorf("word/document.xml not found")
}

func paragraphsFromXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		paras  []string
		cur    strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("malformed document xml: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				paras = append(paras, cur.String())
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(el)
			}
		}
	}
	if cur.Len() > 0 {
		paras = append(paras, cur.String())
	}
	return strings.Join(paras, "\n"), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Image is an uploaded image ready to be sent to a vision model.
type Image struct {
	Name     string
	MIMEType string
	Data     []byte
}

var imageMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// ReadImage loads an image file and resolves its MIME type from the extension.
func ReadImage(path string) (*Image, error) {
	mime, ok := imageMIME[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("unsupported image extension")}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if len(data) == 0 {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("image is empty")}
	}
	return &Image{Name: filepath.Base(path), MIMEType: mime, Data: data}, nil
}
