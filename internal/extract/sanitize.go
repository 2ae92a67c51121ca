package extract

import "fmt"

// Sanitize applies the post-hoc consistency checks and reports what it
// removed or changed. The returned Quote always satisfies bid <= ask and
// low <= current_price <= high for whichever of those fields remain.
func Sanitize(q Quote, maxPremium float64) (Quote, []string) {
	var notes []string

	if maxPremium > 0 {
		for _, f := range []string{FieldHigh, FieldLow} {
			if v, ok := q.Get(f); ok && v > maxPremium {
				q.clear(f)
				notes = append(notes, fmt.Sprintf("%s %.2f looks like the underlying price", f, v))
			}
		}
	}

	if hi, ok := q.Get(FieldHigh); ok {
		if lo, ok := q.Get(FieldLow); ok && lo > hi {
			q.Set(FieldHigh, lo)
			q.Set(FieldLow, hi)
			notes = append(notes, "swapped high and low")
		}
	}

	if bid, ok := q.Get(FieldBid); ok {
		if ask, ok := q.Get(FieldAsk); ok && bid > ask {
			q.clear(FieldBid)
			q.clear(FieldAsk)
			notes = append(notes, fmt.Sprintf("bid %.4f above ask %.4f", bid, ask))
		}
	}

	if cur, ok := q.Get(FieldCurrentPrice); ok {
		lo, hasLo := q.Get(FieldLow)
		hi, hasHi := q.Get(FieldHigh)
		if hasLo && hasHi && (cur < lo || cur > hi) {
			q.clear(FieldLow)
			q.clear(FieldHigh)
			notes = append(notes, fmt.Sprintf("current %.4f outside day range", cur))
		} else {
			if hasLo && lo > cur {
				q.clear(FieldLow)
				notes = append(notes, fmt.Sprintf("low %.4f above current", lo))
			}
			if hasHi && hi < cur {
				q.clear(FieldHigh)
				notes = append(notes, fmt.Sprintf("high %.4f below current", hi))
			}
		}
	}

	return q, notes
}
