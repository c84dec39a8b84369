package labresult

import (
	"errors"
	"fmt"

	"github.com/labtrend/labtrend/internal/platform/labdate"
	"github.com/labtrend/labtrend/internal/platform/vocab"
)

// ErrNonCanonicalDate marks a date kept verbatim because no layout parsed
// it. Reconciliation produces such dates, so a payload holding them can
// still be loaded.
var ErrNonCanonicalDate = errors.New("not YYYY-MM-DD")

// Check verifies the structural guarantees of a payload and returns every
// violation joined into one error, or nil.
func Check(p *Payload) error {
	warnings, problems := inspect(p)
	return errors.Join(append(warnings, problems...)...)
}

// CheckLoadable is Check for payloads about to be loaded into the store:
// non-canonical dates are returned as warnings and only the remaining
// violations make up err.
func CheckLoadable(p *Payload) (warnings []error, err error) {
	warnings, problems := inspect(p)
	return warnings, errors.Join(problems...)
}

func inspect(p *Payload) (warnings, problems []error) {
	known := make(map[string]struct{}, len(p.Dates))
	for i, d := range p.Dates {
		if !labdate.IsCanonical(d) {
			warnings = append(warnings, fmt.Errorf("date %q is %w", d, ErrNonCanonicalDate))
		}
		if _, dup := known[d]; dup {
			problems = append(problems, fmt.Errorf("date %q listed twice", d))
		}
		known[d] = struct{}{}
		if i > 0 && labdate.Compare(p.Dates[i-1], d) >= 0 {
			problems = append(problems, fmt.Errorf("dates out of order at %q", d))
		}
	}

	for _, name := range sortedNames(p) {
		s := p.Indicators[name]
		if s.Ref.Lower != nil && s.Ref.Upper != nil && *s.Ref.Lower > *s.Ref.Upper {
			problems = append(problems, fmt.Errorf("%s: lower bound %v above upper bound %v", name, *s.Ref.Lower, *s.Ref.Upper))
		}
		for i, obs := range s.Series {
			if _, ok := known[obs.Date]; !ok {
				problems = append(problems, fmt.Errorf("%s: series date %q missing from dates", name, obs.Date))
			}
			if i > 0 && labdate.Compare(s.Series[i-1].Date, obs.Date) >= 0 {
				problems = append(problems, fmt.Errorf("%s: series out of order or duplicated at %q", name, obs.Date))
			}
			switch strVal(obs.Flag) {
			case "", vocab.FlagHigh, vocab.FlagLow, vocab.FlagNormal:
			default:
				problems = append(problems, fmt.Errorf("%s %s: unknown flag %q", name, obs.Date, *obs.Flag))
			}
		}
	}
	return warnings, problems
}
