package labresult

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/labtrend/labtrend/internal/platform/refrange"
)

// ErrNotFound is returned by repositories when a row does not exist.
var ErrNotFound = errors.New("not found")

// Indicator maps to the lab_indicator table.
type Indicator struct {
	ID       uuid.UUID `db:"id" json:"id"`
	Name     string    `db:"name" json:"name"`
	Unit     string    `db:"unit" json:"unit"`
	RefLower *float64  `db:"ref_lower" json:"ref_lower"`
	RefUpper *float64  `db:"ref_upper" json:"ref_upper"`
}

// Range returns the indicator's reference range.
func (i *Indicator) Range() refrange.Range {
	return refrange.Range{Lower: i.RefLower, Upper: i.RefUpper}
}

// ObservationDate maps to the lab_date table.
type ObservationDate struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Date string    `db:"date" json:"date"`
}

// Observation is one (indicator, date) data point. It doubles as the
// series entry of the payload.
type Observation struct {
	Date   string   `json:"date"`
	Value  *float64 `json:"value"`
	Status *string  `json:"status"`
	Flag   *string  `json:"flag"`
	Phase  *string  `json:"phase"`
}

// Clone returns a deep copy of o.
func (o *Observation) Clone() *Observation {
	if o == nil {
		return nil
	}
	return &Observation{
		Date:   o.Date,
		Value:  cloneFloat(o.Value),
		Status: cloneString(o.Status),
		Flag:   cloneString(o.Flag),
		Phase:  cloneString(o.Phase),
	}
}

// StoredObservation is an observation together with its date row id.
type StoredObservation struct {
	DateID uuid.UUID
	Observation
}

// Meta is the treatment schedule persisted alongside the data.
type Meta struct {
	StartDate       *string `json:"start_date"`
	CycleLengthDays *int    `json:"cycle_length_days"`
}

// Ref is the reference range as serialized in the payload.
type Ref struct {
	Lower *float64 `json:"lower"`
	Upper *float64 `json:"upper"`
}

// IndicatorSeries is one indicator entry of the payload.
type IndicatorSeries struct {
	Unit   string        `json:"unit"`
	Ref    Ref           `json:"ref"`
	Series []Observation `json:"series"`
}

// Range returns the series' reference range.
func (s *IndicatorSeries) Range() refrange.Range {
	return refrange.Range{Lower: s.Ref.Lower, Upper: s.Ref.Upper}
}

// Payload is the canonical dataset handed to exporters and the HTTP API.
type Payload struct {
	StartDate       *string                     `json:"start_date"`
	CycleLengthDays *int                        `json:"cycle_length_days"`
	Dates           []string                    `json:"dates"`
	Indicators      map[string]*IndicatorSeries `json:"indicators"`
}

// NewPayload returns an empty payload whose collections encode as [] and {}.
func NewPayload() *Payload {
	return &Payload{
		Dates:      []string{},
		Indicators: map[string]*IndicatorSeries{},
	}
}

// Encode writes p as indented JSON. Map keys are sorted by encoding/json,
// so equal payloads encode to identical bytes.
func (p *Payload) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// DecodePayload reads a payload previously written by Encode.
func DecodePayload(r io.Reader) (*Payload, error) {
	p := NewPayload()
	if err := json.NewDecoder(r).Decode(p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.Dates == nil {
		p.Dates = []string{}
	}
	if p.Indicators == nil {
		p.Indicators = map[string]*IndicatorSeries{}
	}
	for _, name := range sortedNames(p) {
		s := p.Indicators[name]
		if s == nil {
			return nil, fmt.Errorf("decode payload: indicator %q: null entry", name)
		}
		if s.Series == nil {
			s.Series = []Observation{}
		}
	}
	return p, nil
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// optString returns nil for empty text.
func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
