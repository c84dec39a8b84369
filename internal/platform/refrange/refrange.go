// Package refrange parses free-text reference ranges such as "3.5~9.5"
// into numeric bounds.
package refrange

import (
	"math"
	"regexp"
	"strconv"
)

var numberPattern = regexp.MustCompile(`[-+]?\d*\.\d+|[-+]?\d+`)

// Range is a reference interval. Either bound may be absent.
type Range struct {
	Lower *float64
	Upper *float64
}

// Complete reports whether both bounds are present.
func (r Range) Complete() bool { return r.Lower != nil && r.Upper != nil }

// Empty reports whether neither bound is present.
func (r Range) Empty() bool { return r.Lower == nil && r.Upper == nil }

// Parse extracts the numeric tokens of text. Two or more tokens give
// (first, second); a single token is read as an upper bound.
func Parse(text string) Range {
	nums := Numbers(text)
	switch {
	case len(nums) >= 2:
		return Range{Lower: ptr(nums[0]), Upper: ptr(nums[1])}
	case len(nums) == 1:
		return Range{Upper: ptr(nums[0])}
	}
	return Range{}
}

// Numbers returns every signed decimal or integer token in text.
func Numbers(text string) []float64 {
	var out []float64
	for _, tok := range numberPattern.FindAllString(text, -1) {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsInf(f, 0) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Repair fixes extraction artifacts: a negative upper bound comes from
// reading the separator of "12-4" as a sign and is made positive, and
// inverted bounds are swapped.
func (r Range) Repair() Range {
	out := Range{Lower: copyPtr(r.Lower), Upper: copyPtr(r.Upper)}
	if out.Upper != nil && *out.Upper < 0 {
		*out.Upper = math.Abs(*out.Upper)
	}
	if out.Complete() && *out.Lower > *out.Upper {
		out.Lower, out.Upper = out.Upper, out.Lower
	}
	return out
}

// Resolve parses and repairs text.
func Resolve(text string) Range {
	return Parse(text).Repair()
}

// Consolidate merges a newly seen range into the current one. The first
// complete range is kept; an incomplete range only replaces an empty one
// and is itself replaced by the first complete candidate.
func Consolidate(current, candidate Range) Range {
	switch {
	case current.Complete():
		return current
	case candidate.Complete():
		return candidate
	case current.Empty() && !candidate.Empty():
		return candidate
	}
	return current
}

// Classify places value relative to r: -1 below the lower bound, +1 above
// the upper bound, 0 otherwise. ok is false when r has no bounds.
func (r Range) Classify(value float64) (pos int, ok bool) {
	if r.Empty() {
		return 0, false
	}
	if r.Lower != nil && value < *r.Lower {
		return -1, true
	}
	if r.Upper != nil && value > *r.Upper {
		return 1, true
	}
	return 0, true
}

func ptr(f float64) *float64 { return &f }

func copyPtr(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
