package labcsv

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/labtrend/labtrend/internal/platform/vocab"
)

// RawRecord is one report row reduced to the fields reconciliation needs.
// All fields are trimmed text exactly as found in the export.
type RawRecord struct {
	Name   string
	Date   string
	Value  string
	Status string
	Unit   string
	Ref    string
	// Source identifies where the row came from, e.g. "file.csv:12".
	Source string
}

// Columns maps each semantic field to the header that carries it. An empty
// string means the field is missing from the file.
type Columns struct {
	Date   string
	Name   string
	Value  string
	Status string
	Ref    string
	Unit   string
}

// ResolveColumns picks, for every field, the first header (in file order)
// that contains one of the field's candidate substrings, trying candidates
// in rank order for each header.
func ResolveColumns(headers []string, candidates vocab.Headers) Columns {
	return Columns{
		Date:   findHeader(headers, candidates.Date),
		Name:   findHeader(headers, candidates.Name),
		Value:  findHeader(headers, candidates.Value),
		Status: findHeader(headers, candidates.Status),
		Ref:    findHeader(headers, candidates.Reference),
		Unit:   findHeader(headers, candidates.Unit),
	}
}

func findHeader(headers, candidates []string) string {
	for _, h := range headers {
		hs := strings.TrimSpace(h)
		if hs == "" {
			continue
		}
		for _, c := range candidates {
			if c != "" && strings.Contains(hs, c) {
				return h
			}
		}
	}
	return ""
}

// Complete reports whether the columns needed to place a record in the
// dataset (name and date) were found.
func (c Columns) Complete() bool {
	return c.Name != "" && c.Date != ""
}

// Extract pulls a RawRecord out of a header→text row.
func (c Columns) Extract(row map[string]string) RawRecord {
	get := func(key string) string {
		if key == "" {
			return ""
		}
		return strings.TrimSpace(row[key])
	}
	return RawRecord{
		Name:   get(c.Name),
		Date:   get(c.Date),
		Value:  get(c.Value),
		Status: get(c.Status),
		Unit:   get(c.Unit),
		Ref:    get(c.Ref),
	}
}

var embeddedNumber = regexp.MustCompile(`[-+]?\d*\.\d+|[-+]?\d+`)

// ParseValue reads a result cell as a number. It tries a direct parse,
// then the first signed decimal or integer embedded in the text
// ("<0.5", "12.3 H"), and returns nil when neither yields a finite number.
func ParseValue(text string) *float64 {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && finite(f) {
		return &f
	}
	if tok := embeddedNumber.FindString(s); tok != "" {
		if f, err := strconv.ParseFloat(tok, 64); err == nil && finite(f) {
			return &f
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
