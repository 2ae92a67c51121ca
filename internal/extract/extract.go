// Package extract turns the text of an expanded option contract into a
// Quote. Structured DOM label lookups are preferred; ordered regular
// expressions over visible text and raw HTML fill whatever is left.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMinFields is the minimum populated field count for acceptance.
const DefaultMinFields = 3

// DefaultMaxPremium bounds plausible high/low values for a sub-dollar
// contract; anything above it is taken to be the underlying's price.
const DefaultMaxPremium = 50.0

var numberPattern = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)

var datePattern = regexp.MustCompile(`\d{1,2}/\d{1,2}(?:/\d{2,4})?`)

// Extractor holds compiled patterns and acceptance rules.
type Extractor struct {
	patterns   map[string][]*regexp.Regexp
	labels     map[string][]string
	minFields  int
	maxPremium float64
}

// Options configures New. Zero values select defaults; Patterns and Labels
// replace the defaults per field rather than appending to them.
type Options struct {
	Patterns   map[string][]string
	Labels     map[string][]string
	MinFields  int
	MaxPremium float64
}

// New compiles the pattern set.
func New(opts Options) (*Extractor, error) {
	raw := DefaultPatterns()
	for field, list := range opts.Patterns {
		if !knownField(field) {
			return nil, fmt.Errorf("extract: unknown field %q", field)
		}
		if len(list) > 0 {
			raw[field] = list
		}
	}
	labels := DefaultLabels()
	for field, list := range opts.Labels {
		if !knownField(field) {
			return nil, fmt.Errorf("extract: unknown field %q", field)
		}
		if len(list) > 0 {
			labels[field] = list
		}
	}

	e := &Extractor{
		patterns:   make(map[string][]*regexp.Regexp, len(raw)),
		labels:     labels,
		minFields:  opts.MinFields,
		maxPremium: opts.MaxPremium,
	}
	if e.minFields <= 0 {
		e.minFields = DefaultMinFields
	}
	if e.maxPremium <= 0 {
		e.maxPremium = DefaultMaxPremium
	}
	for field, list := range raw {
		for i, p := range list {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("extract: %s pattern %d: %w", field, i, err)
			}
			if re.NumSubexp() < 1 {
				return nil, fmt.Errorf("extract: %s pattern %d has no capture group", field, i)
			}
			e.patterns[field] = append(e.patterns[field], re)
		}
	}
	return e, nil
}

// MustNew is New for static configurations.
func MustNew(opts Options) *Extractor {
	e, err := New(opts)
	if err != nil {
		panic(err)
	}
	return e
}

// Labels returns every DOM label the extractor looks up, deduplicated.
func (e *Extractor) Labels() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range Fields {
		for _, l := range e.labels[f] {
			if !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	return out
}

// FromText applies the ordered regex alternatives per field and keeps the
// first non-empty match.
func (e *Extractor) FromText(text string) Quote {
	var q Quote
	for _, f := range Fields {
		for _, re := range e.patterns[f] {
			m := re.FindStringSubmatch(text)
			if len(m) < 2 || m[1] == "" {
				continue
			}
			if f == FieldExpiration {
				q.Expiration = m[1]
				break
			}
			if v, ok := parseNumber(m[1]); ok {
				q.Set(f, v)
				break
			}
		}
	}
	return q
}

// FromLabels reads values returned by a DOM label query, keyed by the label
// text shown on the page.
func (e *Extractor) FromLabels(values map[string]string) Quote {
	var q Quote
	if len(values) == 0 {
		return q
	}
	lowered := make(map[string]string, len(values))
	for k, v := range values {
		lowered[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for _, f := range Fields {
		for _, label := range e.labels[f] {
			raw, ok := lowered[strings.ToLower(label)]
			if !ok || strings.TrimSpace(raw) == "" {
				continue
			}
			if f == FieldExpiration {
				if d := datePattern.FindString(raw); d != "" {
					q.Expiration = d
					break
				}
				continue
			}
			if v, ok := parseNumber(numberPattern.FindString(raw)); ok {
				q.Set(f, v)
				break
			}
		}
	}
	return q
}

// Source names the input an Outcome's fields mostly came from.
type Source string

const (
	SourceDOM  Source = "dom"
	SourceText Source = "text"
	SourceHTML Source = "html"
)

// Outcome is the result of Run.
type Outcome struct {
	Quote    Quote    `json:"quote"`
	Source   Source   `json:"source"`
	Dropped  []string `json:"dropped,omitempty"`
	Accepted bool     `json:"accepted"`
}

// Run combines the three inputs, DOM first. Visible text and then raw HTML
// fill whatever fields the earlier inputs left empty. The merged quote is
// sanitised and the acceptance threshold applied.
func (e *Extractor) Run(labels map[string]string, text, html string) Outcome {
	q := e.FromLabels(labels)
	src, best := SourceDOM, q.Count()
	if text != "" && q.Count() < len(Fields) {
		before := q.Count()
		q = Merge(q, e.FromText(text))
		if added := q.Count() - before; added > best {
			src, best = SourceText, added
		}
	}
	if html != "" && q.Count() < len(Fields) {
		before := q.Count()
		q = Merge(q, e.FromText(html))
		if added := q.Count() - before; added > best {
			src = SourceHTML
		}
	}

	clean, dropped := Sanitize(q, e.maxPremium)
	return Outcome{
		Quote:    clean,
		Source:   src,
		Dropped:  dropped,
		Accepted: clean.Count() >= e.minFields,
	}
}

// MinFields returns the acceptance threshold.
func (e *Extractor) MinFields() int { return e.minFields }

func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func knownField(f string) bool {
	for _, k := range Fields {
		if k == f {
			return true
		}
	}
	return false
}
