// Package locator finds option contracts priced inside a target cent range
// and decides where on their row a click should land.
package locator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var pricePattern = regexp.MustCompile(`\$0\.(\d{2})`)

var hundred = decimal.NewFromInt(100)

// InCentRange reports whether lo <= cents <= hi.
func InCentRange(cents, lo, hi int) bool {
	return cents >= lo && cents <= hi
}

// ParseCents converts a sub-dollar price such as "$0.08" or "0.12" into
// whole cents. Prices of a dollar or more, or with fractional cents, are
// rejected.
func ParseCents(price string) (int, bool) {
	s := strings.TrimSpace(price)
	s = strings.TrimPrefix(s, "$")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return 0, false
	}
	c := d.Mul(hundred)
	if !c.Equal(c.Truncate(0)) {
		return 0, false
	}
	return int(c.IntPart()), true
}

// ScanCents returns the distinct cent values of every "$0.NN" price in text
// that falls inside [lo, hi], sorted ascending.
func ScanCents(text string, lo, hi int) []int {
	seen := make(map[int]struct{})
	for _, m := range pricePattern.FindAllStringSubmatch(text, -1) {
		cents, ok := ParseCents("0." + m[1])
		if !ok || !InCentRange(cents, lo, hi) {
			continue
		}
		seen[cents] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// PriceText renders cents the way the chain displays them, e.g. "$0.08".
func PriceText(cents int) string {
	return fmt.Sprintf("$0.%02d", cents)
}

// SelectorFamilies are the element families searched, in order, for a node
// whose text contains the price.
func SelectorFamilies() []string {
	return []string{
		`tr`,
		`[role="row"]`,
		`[role="button"]`,
		`div`,
		`span`,
	}
}
