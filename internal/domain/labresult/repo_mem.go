package labresult

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/labtrend/labtrend/internal/platform/refrange"
)

type obsKey struct {
	indicator uuid.UUID
	date      uuid.UUID
}

type memState struct {
	indicators   map[uuid.UUID]*Indicator
	byName       map[string]uuid.UUID
	dates        map[uuid.UUID]string
	dateIDs      map[string]uuid.UUID
	observations map[obsKey]*Observation
	meta         Meta
}

func (s *memState) clone() *memState {
	out := &memState{
		indicators:   make(map[uuid.UUID]*Indicator, len(s.indicators)),
		byName:       make(map[string]uuid.UUID, len(s.byName)),
		dates:        make(map[uuid.UUID]string, len(s.dates)),
		dateIDs:      make(map[string]uuid.UUID, len(s.dateIDs)),
		observations: make(map[obsKey]*Observation, len(s.observations)),
		meta:         Meta{StartDate: cloneString(s.meta.StartDate), CycleLengthDays: cloneInt(s.meta.CycleLengthDays)},
	}
	for id, ind := range s.indicators {
		c := *ind
		c.RefLower, c.RefUpper = cloneFloat(ind.RefLower), cloneFloat(ind.RefUpper)
		out.indicators[id] = &c
	}
	for k, v := range s.byName {
		out.byName[k] = v
	}
	for k, v := range s.dates {
		out.dates[k] = v
	}
	for k, v := range s.dateIDs {
		out.dateIDs[k] = v
	}
	for k, v := range s.observations {
		out.observations[k] = v.Clone()
	}
	return out
}

// MemoryRepo is an in-process Repository used by offline runs and tests.
// Transactions are serialized; a reader outside a transaction may see its
// writes before it commits.
type MemoryRepo struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *memState
}

type memTxKey struct{}

// NewMemoryRepo returns an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{state: &memState{
		indicators:   make(map[uuid.UUID]*Indicator),
		byName:       make(map[string]uuid.UUID),
		dates:        make(map[uuid.UUID]string),
		dateIDs:      make(map[string]uuid.UUID),
		observations: make(map[obsKey]*Observation),
	}}
}

// WithinTx snapshots the state and restores it when fn fails. Nested
// calls join the outer transaction.
func (r *MemoryRepo) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, _ := ctx.Value(memTxKey{}).(*MemoryRepo); owner == r {
		return fn(ctx)
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	snapshot := r.state.clone()
	r.mu.RUnlock()

	err := fn(context.WithValue(ctx, memTxKey{}, r))
	if err != nil {
		r.mu.Lock()
		r.state = snapshot
		r.mu.Unlock()
	}
	return err
}

func (r *MemoryRepo) UpsertDate(ctx context.Context, date string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.state.dateIDs[date]; ok {
		return id, nil
	}
	id := uuid.New()
	r.state.dateIDs[date] = id
	r.state.dates[id] = date
	return id, nil
}

func (r *MemoryRepo) UpsertIndicator(ctx context.Context, name, unit string, lower, upper *float64) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.state.byName[name]; ok {
		if merged := mergeIndicator(r.state.indicators[id], unit, refrange.Range{Lower: lower, Upper: upper}); merged != nil {
			r.state.indicators[id] = merged
		}
		return id, nil
	}
	id := uuid.New()
	rng := refrange.Range{Lower: lower, Upper: upper}.Repair()
	r.state.indicators[id] = &Indicator{ID: id, Name: name, Unit: unit, RefLower: rng.Lower, RefUpper: rng.Upper}
	r.state.byName[name] = id
	return id, nil
}

func (r *MemoryRepo) UpsertObservation(ctx context.Context, indicatorID, dateID uuid.UUID, obs *Observation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := obs.Clone()
	c.Date = r.state.dates[dateID]
	r.state.observations[obsKey{indicatorID, dateID}] = c
	return nil
}

func (r *MemoryRepo) GetObservation(ctx context.Context, indicatorID, dateID uuid.UUID) (*Observation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obs, ok := r.state.observations[obsKey{indicatorID, dateID}]
	if !ok {
		return nil, ErrNotFound
	}
	return obs.Clone(), nil
}

func (r *MemoryRepo) GetIndicatorByName(ctx context.Context, name string) (*Indicator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.state.byName[name]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r.state.indicators[id]
	return &c, nil
}

func (r *MemoryRepo) ListIndicators(ctx context.Context, limit, offset int) ([]*Indicator, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Indicator, 0, len(r.state.indicators))
	for _, ind := range r.state.indicators {
		c := *ind
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	if offset > total {
		offset = total
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *MemoryRepo) ListObservations(ctx context.Context, indicatorID uuid.UUID) ([]*StoredObservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []*StoredObservation
	for k, obs := range r.state.observations {
		if k.indicator != indicatorID {
			continue
		}
		items = append(items, &StoredObservation{DateID: k.date, Observation: *obs.Clone()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Date < items[j].Date })
	return items, nil
}

func (r *MemoryRepo) DeleteObservation(ctx context.Context, indicatorID, dateID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state.observations, obsKey{indicatorID, dateID})
	return nil
}

func (r *MemoryRepo) DeleteIndicator(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ind, ok := r.state.indicators[id]
	if !ok {
		return nil
	}
	for k := range r.state.observations {
		if k.indicator == id {
			delete(r.state.observations, k)
		}
	}
	delete(r.state.byName, ind.Name)
	delete(r.state.indicators, id)
	return nil
}

func (r *MemoryRepo) GetMeta(ctx context.Context) (*Meta, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Meta{StartDate: cloneString(r.state.meta.StartDate), CycleLengthDays: cloneInt(r.state.meta.CycleLengthDays)}, nil
}

func (r *MemoryRepo) SetMeta(ctx context.Context, m *Meta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.StartDate != nil {
		r.state.meta.StartDate = cloneString(m.StartDate)
	}
	if m.CycleLengthDays != nil {
		r.state.meta.CycleLengthDays = cloneInt(m.CycleLengthDays)
	}
	return nil
}

func (r *MemoryRepo) ReadAll(ctx context.Context) (*Payload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := NewPayload()
	p.StartDate = cloneString(r.state.meta.StartDate)
	p.CycleLengthDays = cloneInt(r.state.meta.CycleLengthDays)

	for _, ind := range r.state.indicators {
		p.Indicators[ind.Name] = &IndicatorSeries{
			Unit:   ind.Unit,
			Ref:    Ref{Lower: cloneFloat(ind.RefLower), Upper: cloneFloat(ind.RefUpper)},
			Series: []Observation{},
		}
	}
	seen := make(map[string]struct{})
	for k, obs := range r.state.observations {
		ind := r.state.indicators[k.indicator]
		s := p.Indicators[ind.Name]
		s.Series = append(s.Series, *obs.Clone())
		if _, ok := seen[obs.Date]; !ok {
			seen[obs.Date] = struct{}{}
			p.Dates = append(p.Dates, obs.Date)
		}
	}
	SortPayload(p)
	return p, nil
}

func cloneInt(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}
