package labresult

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/labtrend/labtrend/internal/platform/labcsv"
	"github.com/labtrend/labtrend/internal/platform/labdate"
	"github.com/labtrend/labtrend/internal/platform/refrange"
	"github.com/labtrend/labtrend/internal/platform/vocab"
)

// Options configures an Engine. Zero values fall back to the built-in
// vocabulary, the default date layouts and a no-op logger.
type Options struct {
	Vocabulary *vocab.Vocabulary
	Dates      *labdate.Normalizer
	// StartDate (YYYY-MM-DD) and CycleLengthDays enable phase labels.
	StartDate       string
	CycleLengthDays int
	Logger          *zerolog.Logger
}

// Engine turns raw report rows into a canonical Payload. It holds no
// per-run state and may be shared.
type Engine struct {
	vocab  *vocab.Vocabulary
	dates  *labdate.Normalizer
	start  string
	cycle  int
	logger zerolog.Logger
}

// NewEngine creates an Engine.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		vocab:  opts.Vocabulary,
		dates:  opts.Dates,
		start:  opts.StartDate,
		cycle:  opts.CycleLengthDays,
		logger: zerolog.Nop(),
	}
	if e.vocab == nil {
		e.vocab = vocab.Default()
	}
	if e.dates == nil {
		e.dates = labdate.NewNormalizer()
	}
	if opts.Logger != nil {
		e.logger = *opts.Logger
	}
	return e
}

// Vocabulary returns the vocabulary the engine canonicalizes with.
func (e *Engine) Vocabulary() *vocab.Vocabulary { return e.vocab }

// Canonicalize maps a raw indicator name to its canonical form.
func (e *Engine) Canonicalize(raw string) string { return e.vocab.Canonicalize(raw) }

// Entry is a raw record after canonicalization.
type Entry struct {
	Name        string
	Unit        string
	Range       refrange.Range
	Observation *Observation
	Source      string
}

// Prepare canonicalizes rec. ok is false when the record has no usable
// name or date and must be dropped.
func (e *Engine) Prepare(rec labcsv.RawRecord) (Entry, bool) {
	name := e.vocab.Canonicalize(rec.Name)
	date := e.dates.Normalize(rec.Date)
	if name == "" || date == "" {
		return Entry{}, false
	}
	return Entry{
		Name:  name,
		Unit:  rec.Unit,
		Range: refrange.Parse(rec.Ref),
		Observation: &Observation{
			Date:   date,
			Value:  labcsv.ParseValue(rec.Value),
			Status: optString(rec.Status),
			Flag:   optString(e.vocab.FlagOf(rec.Status)),
		},
		Source: rec.Source,
	}, true
}

// Resolved is the winning observation of one (indicator, date) slot.
type Resolved struct {
	Indicator   string
	Observation *Observation
}

// IndicatorDraft is the unit and repaired range consolidated for one
// indicator over a batch.
type IndicatorDraft struct {
	Name  string
	Unit  string
	Range refrange.Range
}

// Batch is a set of records grouped by (indicator, date) with conflicts
// resolved. Slices keep first-seen order.
type Batch struct {
	Indicators   []IndicatorDraft
	Observations []Resolved
	Total        int
	Dropped      int
}

type slot struct {
	name string
	date string
}

// Group canonicalizes records, drops unusable ones, resolves conflicts
// within each (indicator, date) slot in input order and consolidates each
// indicator's unit and reference range.
func (e *Engine) Group(records []labcsv.RawRecord) *Batch {
	b := &Batch{Total: len(records)}
	slots := make(map[slot]int)
	drafts := make(map[string]int)

	for _, rec := range records {
		entry, ok := e.Prepare(rec)
		if !ok {
			b.Dropped++
			e.logger.Debug().Str("source", rec.Source).Str("name", rec.Name).Str("date", rec.Date).Msg("dropping record without name or date")
			continue
		}

		k := slot{name: entry.Name, date: entry.Observation.Date}
		if i, seen := slots[k]; seen {
			b.Observations[i].Observation = Resolve(b.Observations[i].Observation, entry.Observation)
		} else {
			slots[k] = len(b.Observations)
			b.Observations = append(b.Observations, Resolved{Indicator: entry.Name, Observation: entry.Observation})
		}

		i, seen := drafts[entry.Name]
		if !seen {
			i = len(b.Indicators)
			drafts[entry.Name] = i
			b.Indicators = append(b.Indicators, IndicatorDraft{Name: entry.Name})
		}
		d := &b.Indicators[i]
		if d.Unit == "" {
			d.Unit = entry.Unit
		}
		d.Range = refrange.Consolidate(d.Range, entry.Range)
	}

	for i := range b.Indicators {
		b.Indicators[i].Range = b.Indicators[i].Range.Repair()
	}
	return b
}

// Payload assembles the batch into a payload with sorted dates and series.
// Flags and phases are not derived; see Engine.Finish.
func (b *Batch) Payload() *Payload {
	p := NewPayload()
	seenDates := make(map[string]struct{})
	for _, d := range b.Indicators {
		p.Indicators[d.Name] = &IndicatorSeries{
			Unit:   d.Unit,
			Ref:    Ref{Lower: d.Range.Lower, Upper: d.Range.Upper},
			Series: []Observation{},
		}
	}
	for _, r := range b.Observations {
		s := p.Indicators[r.Indicator]
		s.Series = append(s.Series, *r.Observation.Clone())
		if _, ok := seenDates[r.Observation.Date]; !ok {
			seenDates[r.Observation.Date] = struct{}{}
			p.Dates = append(p.Dates, r.Observation.Date)
		}
	}
	SortPayload(p)
	return p
}

// SortPayload orders the payload dates and every series chronologically.
func SortPayload(p *Payload) {
	sort.SliceStable(p.Dates, func(i, j int) bool { return labdate.Less(p.Dates[i], p.Dates[j]) })
	for _, s := range p.Indicators {
		series := s.Series
		sort.SliceStable(series, func(i, j int) bool { return labdate.Less(series[i].Date, series[j].Date) })
	}
}

// Reconcile runs the whole pipeline over records: canonicalize, group,
// resolve conflicts, consolidate ranges, sort, then derive flags and
// phase labels.
func (e *Engine) Reconcile(records []labcsv.RawRecord) *Payload {
	b := e.Group(records)
	p := b.Payload()
	if e.start != "" {
		start := e.start
		p.StartDate = &start
	}
	if e.cycle > 0 {
		cycle := e.cycle
		p.CycleLengthDays = &cycle
	}
	e.Finish(p)
	e.logger.Info().
		Int("records", b.Total).
		Int("dropped", b.Dropped).
		Int("indicators", len(p.Indicators)).
		Int("dates", len(p.Dates)).
		Msg("reconciled lab records")
	return p
}

// Finish derives flags from reference ranges and fills phase labels from
// the payload's own schedule. It is applied to every payload before it
// leaves the package.
func (e *Engine) Finish(p *Payload) {
	DeriveFlags(p, e.vocab.StatusLabels())
	if p.StartDate != nil && p.CycleLengthDays != nil {
		if ph, err := NewPhaser(e.vocab.Phase(), *p.StartDate, *p.CycleLengthDays); err == nil {
			ph.Apply(p)
		} else {
			e.logger.Warn().Err(err).Msg("skipping phase labels")
		}
	}
}
