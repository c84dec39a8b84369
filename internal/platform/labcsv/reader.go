// Package labcsv reads lab report CSV exports of unknown dialect and
// extracts raw records from them.
package labcsv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/labtrend/labtrend/internal/platform/vocab"
)

// Encodings reported by Decode.
const (
	EncodingUTF8    = "utf-8"
	EncodingGB18030 = "gb18030"
)

// ErrNoHeader is returned for files without a header row.
var ErrNoHeader = errors.New("csv has no header row")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// candidateDelimiters are tried when sniffing, in tie-break order.
var candidateDelimiters = []rune{',', '\t', ';', '|'}

// File is a fully read CSV export.
type File struct {
	Name      string
	Encoding  string
	Delimiter rune
	Headers   []string
	// Rows maps header to cell text; Lines holds each row's 1-based line
	// number in the file.
	Rows  []map[string]string
	Lines []int
}

// ReadFile reads and decodes the CSV file at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	f.Name = filepath.Base(path)
	return f, nil
}

// Read consumes r and parses it as a CSV export.
func Read(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return Parse(data)
}

// Parse decodes data, sniffs its delimiter and splits it into rows.
func Parse(data []byte) (*File, error) {
	text, enc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	delim := SniffDelimiter(firstLine(text))

	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	headers, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !hasContent(headers) {
		return nil, ErrNoHeader
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	f := &File{Encoding: enc, Delimiter: delim, Headers: headers}
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		line, _ := cr.FieldPos(0)
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(fields) {
				row[h] = fields[i]
			} else {
				row[h] = ""
			}
		}
		f.Rows = append(f.Rows, row)
		f.Lines = append(f.Lines, line)
	}
	return f, nil
}

// Decode returns data as UTF-8 text. Valid UTF-8 (with or without BOM) is
// used as is; anything else is decoded as GB18030, which covers GBK.
func Decode(data []byte) (string, string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), EncodingUTF8, nil
	}
	out, _, err := transform.Bytes(simplifiedchinese.GB18030.NewDecoder(), data)
	if err != nil {
		return "", "", fmt.Errorf("decode gb18030: %w", err)
	}
	return string(out), EncodingGB18030, nil
}

// SniffDelimiter picks the candidate delimiter occurring most often in the
// header line, defaulting to a comma.
func SniffDelimiter(line string) rune {
	best, bestCount := ',', 0
	for _, d := range candidateDelimiters {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

func hasContent(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return true
		}
	}
	return false
}

// Records resolves the file's columns against candidates and extracts one
// RawRecord per row. The returned Columns tell the caller which fields
// were found.
func (f *File) Records(candidates vocab.Headers) ([]RawRecord, Columns) {
	cols := ResolveColumns(f.Headers, candidates)
	out := make([]RawRecord, 0, len(f.Rows))
	for i, row := range f.Rows {
		rec := cols.Extract(row)
		rec.Source = fmt.Sprintf("%s:%d", f.Name, f.Lines[i])
		out = append(out, rec)
	}
	return out, cols
}
