package labresult

import "github.com/labtrend/labtrend/internal/platform/vocab"

// DeriveFlags sets the flag of every numeric observation that has none,
// comparing its value with the indicator's reference range. An observation
// whose status is empty also receives the matching label. Explicit flags
// are left as found.
func DeriveFlags(p *Payload, labels vocab.StatusLabels) {
	for _, s := range p.Indicators {
		r := s.Range()
		if r.Empty() {
			continue
		}
		for i := range s.Series {
			obs := &s.Series[i]
			if strVal(obs.Flag) != "" || obs.Value == nil {
				continue
			}
			pos, ok := r.Classify(*obs.Value)
			if !ok {
				continue
			}
			flag, label := vocab.FlagNormal, labels.Normal
			switch pos {
			case -1:
				flag, label = vocab.FlagLow, labels.Low
			case 1:
				flag, label = vocab.FlagHigh, labels.High
			}
			obs.Flag = &flag
			if strVal(obs.Status) == "" {
				obs.Status = optString(label)
			}
		}
	}
}
