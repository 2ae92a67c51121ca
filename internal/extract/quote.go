package extract

// Field names, in the order they are reported.
const (
	FieldCurrentPrice = "current_price"
	FieldBid          = "bid"
	FieldAsk          = "ask"
	FieldVolume       = "volume"
	FieldOpenInterest = "open_interest"
	FieldStrike       = "strike"
	FieldExpiration   = "expiration"
	FieldTheta        = "theta"
	FieldGamma        = "gamma"
	FieldDelta        = "delta"
	FieldVega         = "vega"
	FieldHigh         = "high"
	FieldLow          = "low"
	FieldIV           = "iv"
)

// Fields lists every extracted field.
var Fields = []string{
	FieldCurrentPrice, FieldBid, FieldAsk, FieldVolume, FieldOpenInterest,
	FieldStrike, FieldExpiration, FieldTheta, FieldGamma, FieldDelta,
	FieldVega, FieldHigh, FieldLow, FieldIV,
}

// Quote is one extraction. Nil means the field was not found.
type Quote struct {
	CurrentPrice *float64 `json:"current_price,omitempty"`
	Bid          *float64 `json:"bid,omitempty"`
	Ask          *float64 `json:"ask,omitempty"`
	Volume       *float64 `json:"volume,omitempty"`
	OpenInterest *float64 `json:"open_interest,omitempty"`
	Strike       *float64 `json:"strike,omitempty"`
	Expiration   string   `json:"expiration,omitempty"`
	Theta        *float64 `json:"theta,omitempty"`
	Gamma        *float64 `json:"gamma,omitempty"`
	Delta        *float64 `json:"delta,omitempty"`
	Vega         *float64 `json:"vega,omitempty"`
	High         *float64 `json:"high,omitempty"`
	Low          *float64 `json:"low,omitempty"`
	IV           *float64 `json:"iv,omitempty"`
}

func (q *Quote) slot(field string) **float64 {
	switch field {
	case FieldCurrentPrice:
		return &q.CurrentPrice
	case FieldBid:
		return &q.Bid
	case FieldAsk:
		return &q.Ask
	case FieldVolume:
		return &q.Volume
	case FieldOpenInterest:
		return &q.OpenInterest
	case FieldStrike:
		return &q.Strike
	case FieldTheta:
		return &q.Theta
	case FieldGamma:
		return &q.Gamma
	case FieldDelta:
		return &q.Delta
	case FieldVega:
		return &q.Vega
	case FieldHigh:
		return &q.High
	case FieldLow:
		return &q.Low
	case FieldIV:
		return &q.IV
	}
	return nil
}

// Get returns a numeric field.
func (q Quote) Get(field string) (float64, bool) {
	p := q.slot(field)
	if p == nil || *p == nil {
		return 0, false
	}
	return **p, true
}

// Set stores a numeric field. Unknown and non-numeric fields are ignored.
func (q *Quote) Set(field string, v float64) {
	if p := q.slot(field); p != nil {
		*p = &v
	}
}

func (q *Quote) clear(field string) {
	if field == FieldExpiration {
		q.Expiration = ""
		return
	}
	if p := q.slot(field); p != nil {
		*p = nil
	}
}

func (q Quote) has(field string) bool {
	if field == FieldExpiration {
		return q.Expiration != ""
	}
	_, ok := q.Get(field)
	return ok
}

// Count returns how many fields were populated.
func (q Quote) Count() int {
	n := 0
	for _, f := range Fields {
		if q.has(f) {
			n++
		}
	}
	return n
}

// Present lists populated field names.
func (q Quote) Present() []string {
	var out []string
	for _, f := range Fields {
		if q.has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Merge fills fields missing from primary with values from fallback.
func Merge(primary, fallback Quote) Quote {
	out := primary
	for _, f := range Fields {
		if out.has(f) || !fallback.has(f) {
			continue
		}
		if f == FieldExpiration {
			out.Expiration = fallback.Expiration
			continue
		}
		v, _ := fallback.Get(f)
		out.Set(f, v)
	}
	return out
}

// Premium returns the best available option price: the current price, then
// the bid/ask midpoint.
func (q Quote) Premium() (float64, bool) {
	if q.CurrentPrice != nil {
		return *q.CurrentPrice, true
	}
	if q.Bid != nil && q.Ask != nil {
		return (*q.Bid + *q.Ask) / 2, true
	}
	return 0, false
}

// Clone returns a copy that shares no pointers with q.
func (q Quote) Clone() Quote {
	out := Quote{Expiration: q.Expiration}
	for _, f := range Fields {
		if v, ok := q.Get(f); ok {
			out.Set(f, v)
		}
	}
	return out
}
