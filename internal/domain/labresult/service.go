package labresult

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labtrend/labtrend/internal/platform/labcsv"
	"github.com/labtrend/labtrend/internal/platform/labdate"
)

var _ Repository = (*MemoryRepo)(nil)

// Recorder receives a summary of every committed import.
type Recorder interface {
	RecordImport(records, dropped, observations int)
}

// Service coordinates the engine with a Repository.
type Service struct {
	repo     Repository
	engine   *Engine
	logger   zerolog.Logger
	recorder Recorder
}

func NewService(repo Repository, engine *Engine, logger zerolog.Logger) *Service {
	return &Service{repo: repo, engine: engine, logger: logger}
}

// WithRecorder sets the recorder notified after each committed import.
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

func (s *Service) record(b *Batch) {
	if s.recorder != nil {
		s.recorder.RecordImport(b.Total, b.Dropped, len(b.Observations))
	}
}

// Engine returns the engine the service reconciles with.
func (s *Service) Engine() *Engine { return s.engine }

// ImportReport summarizes one import run.
type ImportReport struct {
	RunID        uuid.UUID `json:"run_id"`
	Files        int       `json:"files"`
	SkippedFiles []string  `json:"skipped_files,omitempty"`
	Records      int       `json:"records"`
	Dropped      int       `json:"dropped"`
	Indicators   int       `json:"indicators"`
	Observations int       `json:"observations"`
}

func (r *ImportReport) add(b *Batch) {
	r.Records += b.Total
	r.Dropped += b.Dropped
	r.Indicators += len(b.Indicators)
	r.Observations += len(b.Observations)
}

// ImportRecords reconciles records into the store in a single transaction.
// Each slot is resolved against what is already stored, so importing the
// same records twice leaves the store unchanged.
func (s *Service) ImportRecords(ctx context.Context, records []labcsv.RawRecord) (*ImportReport, error) {
	report := &ImportReport{RunID: uuid.New()}
	b := s.engine.Group(records)
	if err := s.repo.WithinTx(ctx, func(ctx context.Context) error { return s.writeBatch(ctx, b) }); err != nil {
		return nil, err
	}
	report.add(b)
	s.record(b)
	return report, nil
}

// ImportFiles reads and imports each CSV file in its own transaction.
// With keepGoing, files that cannot be read or stored are logged and
// skipped; otherwise the first failure aborts the run.
func (s *Service) ImportFiles(ctx context.Context, paths []string, keepGoing bool) (*ImportReport, error) {
	report := &ImportReport{RunID: uuid.New()}
	log := s.logger.With().Str("run_id", report.RunID.String()).Logger()

	for _, path := range paths {
		b, err := s.importFile(ctx, path)
		if err != nil {
			if !keepGoing {
				return report, err
			}
			log.Warn().Err(err).Str("file", path).Msg("skipping file")
			report.SkippedFiles = append(report.SkippedFiles, path)
			continue
		}
		if b == nil {
			report.SkippedFiles = append(report.SkippedFiles, path)
			continue
		}
		report.Files++
		report.add(b)
		log.Info().
			Str("file", path).
			Int("records", b.Total).
			Int("dropped", b.Dropped).
			Int("observations", len(b.Observations)).
			Msg("imported file")
	}
	return report, nil
}

// importFile returns a nil batch for files lacking a name or date column.
func (s *Service) importFile(ctx context.Context, path string) (*Batch, error) {
	f, err := labcsv.ReadFile(path)
	if err != nil {
		return nil, err
	}
	records, cols := f.Records(s.engine.Vocabulary().Headers())
	if !cols.Complete() {
		s.logger.Warn().Str("file", path).Strs("headers", f.Headers).Msg("no indicator name or date column")
		return nil, nil
	}
	b := s.engine.Group(records)
	err = s.repo.WithinTx(ctx, func(ctx context.Context) error { return s.writeBatch(ctx, b) })
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", path, err)
	}
	s.record(b)
	return b, nil
}

func (s *Service) writeBatch(ctx context.Context, b *Batch) error {
	ids := make(map[string]uuid.UUID, len(b.Indicators))
	for _, d := range b.Indicators {
		id, err := s.repo.UpsertIndicator(ctx, d.Name, d.Unit, d.Range.Lower, d.Range.Upper)
		if err != nil {
			return err
		}
		ids[d.Name] = id
	}
	for _, r := range b.Observations {
		dateID, err := s.repo.UpsertDate(ctx, r.Observation.Date)
		if err != nil {
			return err
		}
		if err := s.resolveInto(ctx, ids[r.Indicator], dateID, r.Observation); err != nil {
			return err
		}
	}
	return nil
}

// resolveInto writes the winner of the stored observation and candidate.
func (s *Service) resolveInto(ctx context.Context, indicatorID, dateID uuid.UUID, candidate *Observation) error {
	existing, err := s.repo.GetObservation(ctx, indicatorID, dateID)
	if errors.Is(err, ErrNotFound) {
		existing = nil
	} else if err != nil {
		return err
	}
	return s.repo.UpsertObservation(ctx, indicatorID, dateID, Resolve(existing, candidate))
}

// LoadPayload restores a previously exported payload. Observations replace
// stored ones; indicators only gain units and ranges.
func (s *Service) LoadPayload(ctx context.Context, p *Payload) error {
	return s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SetMeta(ctx, &Meta{StartDate: p.StartDate, CycleLengthDays: p.CycleLengthDays}); err != nil {
			return err
		}
		for _, name := range sortedNames(p) {
			series := p.Indicators[name]
			id, err := s.repo.UpsertIndicator(ctx, name, series.Unit, series.Ref.Lower, series.Ref.Upper)
			if err != nil {
				return err
			}
			for i := range series.Series {
				obs := &series.Series[i]
				dateID, err := s.repo.UpsertDate(ctx, obs.Date)
				if err != nil {
					return err
				}
				if err := s.repo.UpsertObservation(ctx, id, dateID, obs); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// MergeReport lists the alias indicators folded into canonical ones.
type MergeReport struct {
	Merged       map[string]string `json:"merged"`
	Observations int               `json:"observations"`
}

// MergeAliases folds every stored indicator whose name is not canonical
// into its canonical indicator, resolving colliding observations. Each
// alias is merged in its own transaction.
func (s *Service) MergeAliases(ctx context.Context) (*MergeReport, error) {
	report := &MergeReport{Merged: map[string]string{}}
	indicators, _, err := s.repo.ListIndicators(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	for _, ind := range indicators {
		canonical := s.engine.Canonicalize(ind.Name)
		if canonical == "" || canonical == ind.Name {
			continue
		}
		var moved int
		err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
			n, err := s.mergeAlias(ctx, ind, canonical)
			moved = n
			return err
		})
		if err != nil {
			return report, fmt.Errorf("merge %q into %q: %w", ind.Name, canonical, err)
		}
		report.Merged[ind.Name] = canonical
		report.Observations += moved
		s.logger.Info().Str("alias", ind.Name).Str("canonical", canonical).Int("observations", moved).Msg("merged alias indicator")
	}
	return report, nil
}

func (s *Service) mergeAlias(ctx context.Context, alias *Indicator, canonical string) (int, error) {
	targetID, err := s.repo.UpsertIndicator(ctx, canonical, alias.Unit, alias.RefLower, alias.RefUpper)
	if err != nil {
		return 0, err
	}
	observations, err := s.repo.ListObservations(ctx, alias.ID)
	if err != nil {
		return 0, err
	}
	for _, so := range observations {
		obs := so.Observation
		if err := s.resolveInto(ctx, targetID, so.DateID, &obs); err != nil {
			return 0, err
		}
		if err := s.repo.DeleteObservation(ctx, alias.ID, so.DateID); err != nil {
			return 0, err
		}
	}
	if err := s.repo.DeleteIndicator(ctx, alias.ID); err != nil {
		return 0, err
	}
	return len(observations), nil
}

// Payload reads the store and derives flags and phases. A schedule missing
// from the store falls back to the engine's configured one.
func (s *Service) Payload(ctx context.Context) (*Payload, error) {
	p, err := s.repo.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if p.StartDate == nil && s.engine.start != "" {
		start := s.engine.start
		p.StartDate = &start
	}
	if p.CycleLengthDays == nil && s.engine.cycle > 0 {
		cycle := s.engine.cycle
		p.CycleLengthDays = &cycle
	}
	s.engine.Finish(p)
	return p, nil
}

// SetSchedule stores the treatment start date and cycle length.
func (s *Service) SetSchedule(ctx context.Context, startDate string, cycleLengthDays int) error {
	canonical := labdate.Normalize(startDate)
	if !labdate.IsCanonical(canonical) {
		return fmt.Errorf("invalid start date %q", startDate)
	}
	if cycleLengthDays <= 0 {
		return fmt.Errorf("cycle length must be positive, got %d", cycleLengthDays)
	}
	return s.repo.SetMeta(ctx, &Meta{StartDate: &canonical, CycleLengthDays: &cycleLengthDays})
}

func (s *Service) ListIndicators(ctx context.Context, limit, offset int) ([]*Indicator, int, error) {
	return s.repo.ListIndicators(ctx, limit, offset)
}
