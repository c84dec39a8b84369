package labresult

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labtrend/labtrend/internal/platform/db"
	"github.com/labtrend/labtrend/internal/platform/refrange"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a PostgreSQL-backed Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, r.pool, fn)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) UpsertDate(ctx context.Context, date string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_date (id, date) VALUES ($1, $2)
		ON CONFLICT (date) DO UPDATE SET date = EXCLUDED.date
		RETURNING id`, uuid.New(), date).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert date %q: %w", date, err)
	}
	return id, nil
}

const indCols = `id, name, unit, ref_lower, ref_upper`

func (r *repoPG) scanIndicator(row pgx.Row) (*Indicator, error) {
	var ind Indicator
	err := row.Scan(&ind.ID, &ind.Name, &ind.Unit, &ind.RefLower, &ind.RefUpper)
	if err != nil {
		return nil, notFound(err)
	}
	return &ind, nil
}

func (r *repoPG) GetIndicatorByName(ctx context.Context, name string) (*Indicator, error) {
	return r.scanIndicator(r.conn(ctx).QueryRow(ctx, `SELECT `+indCols+` FROM lab_indicator WHERE name = $1`, name))
}

func (r *repoPG) UpsertIndicator(ctx context.Context, name, unit string, lower, upper *float64) (uuid.UUID, error) {
	existing, err := r.scanIndicator(r.conn(ctx).QueryRow(ctx,
		`SELECT `+indCols+` FROM lab_indicator WHERE name = $1 FOR UPDATE`, name))
	if errors.Is(err, ErrNotFound) {
		id := uuid.New()
		rng := refrange.Range{Lower: lower, Upper: upper}.Repair()
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO lab_indicator (id, name, unit, ref_lower, ref_upper)
			VALUES ($1, $2, $3, $4, $5)`,
			id, name, unit, rng.Lower, rng.Upper)
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert indicator %q: %w", name, err)
		}
		return id, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("get indicator %q: %w", name, err)
	}

	merged := mergeIndicator(existing, unit, refrange.Range{Lower: lower, Upper: upper})
	if merged == nil {
		return existing.ID, nil
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE lab_indicator SET unit = $2, ref_lower = $3, ref_upper = $4, updated_at = NOW()
		WHERE id = $1`,
		existing.ID, merged.Unit, merged.RefLower, merged.RefUpper)
	if err != nil {
		return uuid.Nil, fmt.Errorf("update indicator %q: %w", name, err)
	}
	return existing.ID, nil
}

// mergeIndicator applies fill-only semantics to a stored indicator and
// returns the updated copy, or nil when nothing changes.
func mergeIndicator(existing *Indicator, unit string, candidate refrange.Range) *Indicator {
	out := *existing
	changed := false
	if out.Unit == "" && unit != "" {
		out.Unit = unit
		changed = true
	}
	current := existing.Range()
	next := refrange.Consolidate(current, candidate.Repair())
	if next.Lower != current.Lower || next.Upper != current.Upper {
		out.RefLower, out.RefUpper = cloneFloat(next.Lower), cloneFloat(next.Upper)
		changed = true
	}
	if !changed {
		return nil
	}
	return &out
}

func (r *repoPG) UpsertObservation(ctx context.Context, indicatorID, dateID uuid.UUID, obs *Observation) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_observation (indicator_id, date_id, value, status, flag, phase)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (indicator_id, date_id) DO UPDATE SET
			value = EXCLUDED.value, status = EXCLUDED.status,
			flag = EXCLUDED.flag, phase = EXCLUDED.phase, updated_at = NOW()`,
		indicatorID, dateID, obs.Value, obs.Status, obs.Flag, obs.Phase)
	return err
}

func (r *repoPG) GetObservation(ctx context.Context, indicatorID, dateID uuid.UUID) (*Observation, error) {
	var obs Observation
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT d.date, o.value, o.status, o.flag, o.phase
		FROM lab_observation o JOIN lab_date d ON d.id = o.date_id
		WHERE o.indicator_id = $1 AND o.date_id = $2`,
		indicatorID, dateID).Scan(&obs.Date, &obs.Value, &obs.Status, &obs.Flag, &obs.Phase)
	if err != nil {
		return nil, notFound(err)
	}
	return &obs, nil
}

func (r *repoPG) ListIndicators(ctx context.Context, limit, offset int) ([]*Indicator, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_indicator`).Scan(&total); err != nil {
		return nil, 0, err
	}
	var limitArg interface{}
	if limit > 0 {
		limitArg = limit
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+indCols+` FROM lab_indicator ORDER BY name LIMIT $1 OFFSET $2`, limitArg, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Indicator
	for rows.Next() {
		ind, err := r.scanIndicator(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ind)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListObservations(ctx context.Context, indicatorID uuid.UUID) ([]*StoredObservation, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT o.date_id, d.date, o.value, o.status, o.flag, o.phase
		FROM lab_observation o JOIN lab_date d ON d.id = o.date_id
		WHERE o.indicator_id = $1
		ORDER BY d.date`, indicatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StoredObservation
	for rows.Next() {
		var so StoredObservation
		if err := rows.Scan(&so.DateID, &so.Date, &so.Value, &so.Status, &so.Flag, &so.Phase); err != nil {
			return nil, err
		}
		items = append(items, &so)
	}
	return items, rows.Err()
}

func (r *repoPG) DeleteObservation(ctx context.Context, indicatorID, dateID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM lab_observation WHERE indicator_id = $1 AND date_id = $2`, indicatorID, dateID)
	return err
}

func (r *repoPG) DeleteIndicator(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM lab_indicator WHERE id = $1`, id)
	return err
}

func (r *repoPG) GetMeta(ctx context.Context) (*Meta, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT key, value FROM lab_meta`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var m Meta
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch key {
		case MetaStartDate:
			v := value
			m.StartDate = &v
		case MetaCycleLengthDays:
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("meta %s: %w", key, err)
			}
			m.CycleLengthDays = &n
		}
	}
	return &m, rows.Err()
}

func (r *repoPG) SetMeta(ctx context.Context, m *Meta) error {
	set := func(key, value string) error {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO lab_meta (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
		return err
	}
	if m.StartDate != nil {
		if err := set(MetaStartDate, *m.StartDate); err != nil {
			return err
		}
	}
	if m.CycleLengthDays != nil {
		if err := set(MetaCycleLengthDays, strconv.Itoa(*m.CycleLengthDays)); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) ReadAll(ctx context.Context) (*Payload, error) {
	p := NewPayload()

	meta, err := r.GetMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	p.StartDate, p.CycleLengthDays = meta.StartDate, meta.CycleLengthDays

	indicators, _, err := r.ListIndicators(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("read indicators: %w", err)
	}
	for _, ind := range indicators {
		p.Indicators[ind.Name] = &IndicatorSeries{
			Unit:   ind.Unit,
			Ref:    Ref{Lower: ind.RefLower, Upper: ind.RefUpper},
			Series: []Observation{},
		}
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT i.name, d.date, o.value, o.status, o.flag, o.phase
		FROM lab_observation o
		JOIN lab_indicator i ON i.id = o.indicator_id
		JOIN lab_date d ON d.id = o.date_id`)
	if err != nil {
		return nil, fmt.Errorf("read observations: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var name string
		var obs Observation
		if err := rows.Scan(&name, &obs.Date, &obs.Value, &obs.Status, &obs.Flag, &obs.Phase); err != nil {
			return nil, err
		}
		s, ok := p.Indicators[name]
		if !ok {
			continue
		}
		s.Series = append(s.Series, obs)
		if _, ok := seen[obs.Date]; !ok {
			seen[obs.Date] = struct{}{}
			p.Dates = append(p.Dates, obs.Date)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	SortPayload(p)
	return p, nil
}
