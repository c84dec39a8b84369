// Package labdate normalizes the date strings found in lab report exports
// to YYYY-MM-DD and orders them.
package labdate

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the canonical date layout.
const Layout = "2006-01-02"

// DefaultLayouts are tried in order before the M/D/Y fallback.
var DefaultLayouts = []string{
	"2006-1-2", "2006/1/2", "2006.1.2",
	"2006-1-2 15:04", "2006/1/2 15:04", "2006.1.2 15:04",
	"2006-1-2 15:04:05", "2006/1/2 15:04:05", "2006.1.2 15:04:05",
	"2006-1-2T15:04:05", "2006-1-2T15:04:05Z07:00",
	"20060102",
}

var usDatePattern = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{2,4})`)

// Normalizer converts raw date text to the canonical layout.
type Normalizer struct {
	layouts []string
}

// NewNormalizer returns a Normalizer trying layouts in order. With no
// layouts, DefaultLayouts is used.
func NewNormalizer(layouts ...string) *Normalizer {
	if len(layouts) == 0 {
		layouts = DefaultLayouts
	}
	return &Normalizer{layouts: append([]string(nil), layouts...)}
}

var defaultNormalizer = NewNormalizer()

// Normalize uses the default layouts.
func Normalize(raw string) string { return defaultNormalizer.Normalize(raw) }

// Normalize returns raw as YYYY-MM-DD. Text that matches no layout and
// holds no M/D/Y date is returned trimmed but otherwise unchanged.
func (n *Normalizer) Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	for _, layout := range n.layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(Layout)
		}
	}
	if m := usDatePattern.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if year < 100 {
			year += 2000
		}
		if t, ok := validDate(year, month, day); ok {
			return t.Format(Layout)
		}
	}
	return s
}

func validDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// Parse parses a canonical date.
func Parse(canonical string) (time.Time, error) {
	return time.Parse(Layout, canonical)
}

// IsCanonical reports whether s is a valid YYYY-MM-DD date.
func IsCanonical(s string) bool {
	if len(s) != len(Layout) {
		return false
	}
	_, err := Parse(s)
	return err == nil
}

// Key orders canonical dates. Unparseable strings sort after every valid
// date and among themselves by byte order.
type Key struct {
	t     time.Time
	raw   string
	valid bool
}

// SortKey builds the ordering key of a canonical date string.
func SortKey(canonical string) Key {
	t, err := Parse(canonical)
	return Key{t: t, raw: canonical, valid: err == nil}
}

// Valid reports whether the key came from a parseable date.
func (k Key) Valid() bool { return k.valid }

// Compare returns -1, 0 or +1.
func (k Key) Compare(o Key) int {
	switch {
	case k.valid && !o.valid:
		return -1
	case !k.valid && o.valid:
		return 1
	case k.valid && o.valid:
		if c := k.t.Compare(o.t); c != 0 {
			return c
		}
	}
	return strings.Compare(k.raw, o.raw)
}

// Compare orders two canonical date strings.
func Compare(a, b string) int {
	return SortKey(a).Compare(SortKey(b))
}

// Less reports whether a sorts before b.
func Less(a, b string) bool { return Compare(a, b) < 0 }
