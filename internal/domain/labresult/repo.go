package labresult

import (
	"context"

	"github.com/google/uuid"
)

// Meta keys in the lab_meta table.
const (
	MetaStartDate       = "start_date"
	MetaCycleLengthDays = "cycle_length_days"
)

// Repository persists reconciled lab data. Writes made inside WithinTx are
// applied together or not at all.
type Repository interface {
	// UpsertDate returns the id of date, creating the row if needed.
	UpsertDate(ctx context.Context, date string) (uuid.UUID, error)
	// UpsertIndicator returns the id of name, creating the row if needed.
	// An existing row only gains data: an empty unit is filled and the
	// stored range is consolidated with (lower, upper).
	UpsertIndicator(ctx context.Context, name, unit string, lower, upper *float64) (uuid.UUID, error)
	// UpsertObservation writes obs into the (indicator, date) slot,
	// replacing whatever was there.
	UpsertObservation(ctx context.Context, indicatorID, dateID uuid.UUID, obs *Observation) error
	// GetObservation returns ErrNotFound for an empty slot.
	GetObservation(ctx context.Context, indicatorID, dateID uuid.UUID) (*Observation, error)
	// ReadAll returns the stored data as a sorted payload without derived
	// flags or phases.
	ReadAll(ctx context.Context) (*Payload, error)

	GetIndicatorByName(ctx context.Context, name string) (*Indicator, error)
	// ListIndicators orders by name. limit <= 0 returns every row.
	ListIndicators(ctx context.Context, limit, offset int) ([]*Indicator, int, error)
	ListObservations(ctx context.Context, indicatorID uuid.UUID) ([]*StoredObservation, error)
	DeleteObservation(ctx context.Context, indicatorID, dateID uuid.UUID) error
	DeleteIndicator(ctx context.Context, id uuid.UUID) error

	GetMeta(ctx context.Context) (*Meta, error)
	SetMeta(ctx context.Context, m *Meta) error

	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
