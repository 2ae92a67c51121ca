// Package expansion decides whether clicking a contract row revealed its
// detail panel.
package expansion

import "strings"

// DefaultThreshold is the number of distinct keywords that must appear.
const DefaultThreshold = 3

// DefaultKeywords are the labels the detail panel shows.
func DefaultKeywords() []string {
	return []string{
		"theta", "gamma", "delta", "vega",
		"bid", "ask", "volume", "open interest",
		"high", "low", "implied volatility",
	}
}

// Verifier counts keyword indicators in page content.
type Verifier struct {
	Keywords  []string
	Threshold int
}

// New returns a Verifier, substituting defaults for empty arguments.
func New(keywords []string, threshold int) Verifier {
	if len(keywords) == 0 {
		keywords = DefaultKeywords()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	lowered := make([]string, 0, len(keywords))
	seen := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		lowered = append(lowered, k)
	}
	return Verifier{Keywords: lowered, Threshold: threshold}
}

// Result describes one verification.
type Result struct {
	Matched  []string `json:"matched"`
	Count    int      `json:"count"`
	Grew     bool     `json:"grew"`
	Expanded bool     `json:"expanded"`
}

// Verify compares page content captured before and after a click. The
// click counts as an expansion when enough keywords are present afterwards,
// or when the page grew by more than a tenth and at least one keyword shows.
func (v Verifier) Verify(before, after string) Result {
	lower := strings.ToLower(after)
	var res Result
	for _, k := range v.Keywords {
		if strings.Contains(lower, k) {
			res.Matched = append(res.Matched, k)
		}
	}
	res.Count = len(res.Matched)
	res.Grew = len(before) > 0 && float64(len(after)) > float64(len(before))*1.1
	res.Expanded = res.Count >= v.Threshold || (res.Grew && res.Count > 0)
	return res
}
