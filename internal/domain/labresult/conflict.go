package labresult

import "github.com/labtrend/labtrend/internal/platform/vocab"

// Resolve picks the observation that keeps an (indicator, date) slot when
// two compete. Rules, in order:
//   - a numeric value beats a missing one;
//   - between two numeric values, an explicit ↑/↓ flag beats no flag;
//   - otherwise the candidate wins, later input being treated as fresher.
//
// existing may be nil. The winner is returned as is, not copied.
func Resolve(existing, candidate *Observation) *Observation {
	if candidate == nil {
		return existing
	}
	if existing == nil {
		return candidate
	}
	existingNum := existing.Value != nil
	candidateNum := candidate.Value != nil
	switch {
	case candidateNum && !existingNum:
		return candidate
	case existingNum && !candidateNum:
		return existing
	case existingNum && candidateNum:
		if isAbnormal(existing.Flag) && !isAbnormal(candidate.Flag) {
			return existing
		}
	}
	return candidate
}

func isAbnormal(flag *string) bool {
	if flag == nil {
		return false
	}
	return *flag == vocab.FlagHigh || *flag == vocab.FlagLow
}
