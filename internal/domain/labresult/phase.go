package labresult

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/labtrend/labtrend/internal/platform/labdate"
	"github.com/labtrend/labtrend/internal/platform/vocab"
)

// Phaser labels dates with their position in a fixed-length treatment
// cycle counted from a start date.
type Phaser struct {
	labels vocab.PhaseLabels
	start  time.Time
	cycle  int
}

// NewPhaser validates the schedule and returns a Phaser.
func NewPhaser(labels vocab.PhaseLabels, startDate string, cycleLengthDays int) (*Phaser, error) {
	start, err := labdate.Parse(startDate)
	if err != nil {
		return nil, fmt.Errorf("start date %q: %w", startDate, err)
	}
	if cycleLengthDays <= 0 {
		return nil, fmt.Errorf("cycle length must be positive, got %d", cycleLengthDays)
	}
	return &Phaser{labels: labels, start: start, cycle: cycleLengthDays}, nil
}

// Label returns the phase of a canonical date. ok is false for dates that
// cannot be parsed.
func (ph *Phaser) Label(date string) (string, bool) {
	t, err := labdate.Parse(date)
	if err != nil {
		return "", false
	}
	delta := int(t.Sub(ph.start).Hours() / 24)
	if delta < 0 {
		return ph.labels.Before, true
	}
	r := strings.NewReplacer(
		"{cycle}", strconv.Itoa(delta/ph.cycle+1),
		"{day}", strconv.Itoa(delta%ph.cycle+1),
	)
	return r.Replace(ph.labels.Cycle), true
}

// Apply fills the phase of every observation that has none.
func (ph *Phaser) Apply(p *Payload) {
	for _, s := range p.Indicators {
		for i := range s.Series {
			obs := &s.Series[i]
			if strVal(obs.Phase) != "" {
				continue
			}
			if label, ok := ph.Label(obs.Date); ok {
				obs.Phase = optString(label)
			}
		}
	}
}
