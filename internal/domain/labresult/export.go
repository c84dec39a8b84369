package labresult

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
)

// Column headings of the CSV exports.
const (
	colIndicator = "indicator"
	colLower     = "ref_lower"
	colUpper     = "ref_upper"
	colUnit      = "unit"
)

func sortedNames(p *Payload) []string {
	names := make([]string, 0, len(p.Indicators))
	for name := range p.Indicators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// WritePivotCSV writes one row per indicator and one column per date,
// holding the observed values.
func WritePivotCSV(w io.Writer, p *Payload) error {
	return writePivot(w, p, func(o *Observation) string { return formatFloat(o.Value) })
}

// WriteFlagsCSV has the layout of WritePivotCSV with flags in the cells.
func WriteFlagsCSV(w io.Writer, p *Payload) error {
	return writePivot(w, p, func(o *Observation) string { return strVal(o.Flag) })
}

func writePivot(w io.Writer, p *Payload, cell func(*Observation) string) error {
	cw := csv.NewWriter(w)
	header := append([]string{colIndicator}, p.Dates...)
	if err := cw.Write(header); err != nil {
		return err
	}
	col := make(map[string]int, len(p.Dates))
	for i, d := range p.Dates {
		col[d] = i + 1
	}
	for _, name := range sortedNames(p) {
		row := make([]string, len(header))
		row[0] = name
		series := p.Indicators[name].Series
		for i := range series {
			if j, ok := col[series[i].Date]; ok {
				row[j] = cell(&series[i])
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRangesCSV writes each indicator's unit and reference range.
func WriteRangesCSV(w io.Writer, p *Payload) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{colIndicator, colLower, colUpper, colUnit}); err != nil {
		return err
	}
	for _, name := range sortedNames(p) {
		s := p.Indicators[name]
		if err := cw.Write([]string{name, formatFloat(s.Ref.Lower), formatFloat(s.Ref.Upper), s.Unit}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
