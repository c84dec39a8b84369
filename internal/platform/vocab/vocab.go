// Package vocab canonicalizes lab indicator names and carries the static
// vocabulary (synonyms, lab codes, flag words, header names) the import
// pipeline is configured with.
package vocab

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"golang.org/x/text/unicode/norm"
)

// Flag values carried by an observation.
const (
	FlagHigh   = "↑"
	FlagLow    = "↓"
	FlagNormal = "-"
)

// Vocabulary is an immutable, compiled set of Tables.
type Vocabulary struct {
	synonyms    map[string]string
	codes       []string
	markers     map[rune]bool
	annotations []*regexp.Regexp
	flags       map[string]string
	labels      StatusLabels
	phase       PhaseLabels
	headers     Headers
}

var defaultVocabulary = New(DefaultTables())

// Default returns the built-in vocabulary.
func Default() *Vocabulary { return defaultVocabulary }

// New compiles a Vocabulary from t.
func New(t Tables) *Vocabulary {
	v := &Vocabulary{
		synonyms: make(map[string]string, len(t.Synonyms)),
		markers:  make(map[rune]bool),
		flags:    make(map[string]string),
		labels:   t.StatusLabels,
		phase:    t.Phase,
		headers:  copyHeaders(t.Headers),
	}
	for _, alias := range sortedAliases(t.Synonyms) {
		v.synonyms[synonymKey(alias)] = t.Synonyms[alias]
	}
	for _, code := range t.Codes {
		code = strings.ToUpper(strings.ReplaceAll(code, " ", ""))
		if code != "" {
			v.codes = append(v.codes, code)
		}
	}
	for _, r := range t.Markers {
		v.markers[r] = true
	}
	if len(t.AnnotationKeywords) > 0 {
		quoted := make([]string, len(t.AnnotationKeywords))
		for i, kw := range t.AnnotationKeywords {
			quoted[i] = regexp.QuoteMeta(kw)
		}
		alt := strings.Join(quoted, "|")
		v.annotations = []*regexp.Regexp{
			regexp.MustCompile(`（[^）]*?(?:` + alt + `)[^）]*）`),
			regexp.MustCompile(`\([^)]*?(?:` + alt + `)[^)]*\)`),
		}
	}
	addFlags := func(words []string, flag string) {
		for _, w := range words {
			v.flags[strings.ToUpper(strings.TrimSpace(w))] = flag
		}
	}
	addFlags(t.Flags.Up, FlagHigh)
	addFlags(t.Flags.Down, FlagLow)
	addFlags(t.Flags.Normal, FlagNormal)
	return v
}

// LoadFile reads a YAML vocabulary file and merges it over the defaults.
// Synonyms are added to (or override) the built-in table; any other
// non-empty section replaces its default.
func LoadFile(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	var override Tables
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse vocabulary %s: %w", path, err)
	}
	return New(Merge(DefaultTables(), override)), nil
}

// synonymKey is the lookup form of an alias.
func synonymKey(alias string) string {
	return strings.ToLower(norm.NFKC.String(alias))
}

// sortedAliases fixes the order in which aliases that share a synonymKey
// are applied; the last one in byte order wins.
func sortedAliases(m map[string]string) []string {
	aliases := make([]string, 0, len(m))
	for alias := range m {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// Merge overlays o onto base and returns the result. Synonym keys are
// normalized first, so an override replaces a built-in alias that differs
// only in case or width.
func Merge(base, o Tables) Tables {
	synonyms := make(map[string]string, len(base.Synonyms)+len(o.Synonyms))
	for _, alias := range sortedAliases(base.Synonyms) {
		synonyms[synonymKey(alias)] = base.Synonyms[alias]
	}
	for _, alias := range sortedAliases(o.Synonyms) {
		synonyms[synonymKey(alias)] = o.Synonyms[alias]
	}
	base.Synonyms = synonyms
	if len(o.Codes) > 0 {
		base.Codes = o.Codes
	}
	if o.Markers != "" {
		base.Markers = o.Markers
	}
	if len(o.AnnotationKeywords) > 0 {
		base.AnnotationKeywords = o.AnnotationKeywords
	}
	base.Flags.Up = pick(o.Flags.Up, base.Flags.Up)
	base.Flags.Down = pick(o.Flags.Down, base.Flags.Down)
	base.Flags.Normal = pick(o.Flags.Normal, base.Flags.Normal)
	if o.StatusLabels.Low != "" {
		base.StatusLabels.Low = o.StatusLabels.Low
	}
	if o.StatusLabels.High != "" {
		base.StatusLabels.High = o.StatusLabels.High
	}
	if o.StatusLabels.Normal != "" {
		base.StatusLabels.Normal = o.StatusLabels.Normal
	}
	if o.Phase.Before != "" {
		base.Phase.Before = o.Phase.Before
	}
	if o.Phase.Cycle != "" {
		base.Phase.Cycle = o.Phase.Cycle
	}
	base.Headers.Date = pick(o.Headers.Date, base.Headers.Date)
	base.Headers.Name = pick(o.Headers.Name, base.Headers.Name)
	base.Headers.Value = pick(o.Headers.Value, base.Headers.Value)
	base.Headers.Status = pick(o.Headers.Status, base.Headers.Status)
	base.Headers.Reference = pick(o.Headers.Reference, base.Headers.Reference)
	base.Headers.Unit = pick(o.Headers.Unit, base.Headers.Unit)
	return base
}

func pick(override, fallback []string) []string {
	if len(override) > 0 {
		return override
	}
	return fallback
}

// Clean applies NFKC normalization, strips marker glyphs and versioning
// annotations, and trims the result.
func (v *Vocabulary) Clean(raw string) string {
	s := strings.TrimSpace(norm.NFKC.String(raw))
	if len(v.markers) > 0 {
		s = strings.Map(func(r rune) rune {
			if v.markers[r] {
				return -1
			}
			return r
		}, s)
	}
	for _, re := range v.annotations {
		s = re.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

// Canonicalize maps a raw indicator label to its canonical name. Labels
// the vocabulary does not know are returned cleaned but otherwise
// unchanged, so the first raw spelling becomes its own canonical name.
func (v *Vocabulary) Canonicalize(raw string) string {
	s := v.Clean(raw)
	if s == "" {
		return ""
	}
	token := strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	for _, code := range v.codes {
		if strings.Contains(token, code) {
			if canonical, ok := v.synonyms[strings.ToLower(code)]; ok {
				return canonical
			}
			return s
		}
	}
	if canonical, ok := v.synonyms[strings.ToLower(s)]; ok {
		return canonical
	}
	return s
}

// IsAlias reports whether name canonicalizes to something else.
func (v *Vocabulary) IsAlias(name string) bool {
	c := v.Canonicalize(name)
	return c != "" && c != name
}

// FlagOf reads a status text as a flag. It returns "" when the text is
// not one of the configured flag words.
func (v *Vocabulary) FlagOf(status string) string {
	return v.flags[strings.ToUpper(strings.TrimSpace(status))]
}

// StatusLabels returns the labels used for derived statuses.
func (v *Vocabulary) StatusLabels() StatusLabels { return v.labels }

// Phase returns the treatment-cycle label templates.
func (v *Vocabulary) Phase() PhaseLabels { return v.phase }

// Headers returns a copy of the header candidates.
func (v *Vocabulary) Headers() Headers { return copyHeaders(v.headers) }

func copyHeaders(h Headers) Headers {
	return Headers{
		Date:      append([]string(nil), h.Date...),
		Name:      append([]string(nil), h.Name...),
		Value:     append([]string(nil), h.Value...),
		Status:    append([]string(nil), h.Status...),
		Reference: append([]string(nil), h.Reference...),
		Unit:      append([]string(nil), h.Unit...),
	}
}
