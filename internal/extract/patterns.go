package extract

// DefaultPatterns returns the ordered regex alternatives per field. Each
// pattern must capture the value in group 1; matching is case-insensitive.
func DefaultPatterns() map[string][]string {
	return map[string][]string{
		FieldCurrentPrice: {
			`\b(?:Last|Price|Mark|Current)[:\s]+\$?(\d+\.\d{2,4})`,
			`\bMark[:\s]*\$?(\d+\.\d{2,4})`,
			`\bPremium[:\s]+\$?(\d+\.\d{2,4})`,
			`\$(\d+\.\d{2,4})\s*(?:Last|Current)\b`,
		},
		FieldBid: {
			`\bBid[:\s]+\$?(\d+\.\d{2,4})`,
			`\bBid\s*\$?(\d+\.\d{2,4})`,
			`\bBid\b.*?\$(\d+\.\d{2,4})`,
		},
		FieldAsk: {
			`\bAsk[:\s]+\$?(\d+\.\d{2,4})`,
			`\bAsk\s*\$?(\d+\.\d{2,4})`,
			`\bAsk\b.*?\$(\d+\.\d{2,4})`,
		},
		FieldVolume: {
			`\bVolume[:\s]+(\d+(?:,\d+)*)`,
			`\bVol[:\s]+(\d+(?:,\d+)*)`,
			`\bVolume\b.*?(\d{1,3}(?:,\d{3})*)`,
		},
		FieldOpenInterest: {
			`\bOpen\s+Interest[:\s]+(\d+(?:,\d+)*)`,
			`\bOI[:\s]+(\d+(?:,\d+)*)`,
			`\bOpen\s+interest\b.*?(\d{1,3}(?:,\d{3})*)`,
		},
		FieldStrike: {
			`\bStrike[:\s]+\$?(\d+(?:\.\d+)?)`,
			`\$(\d{2,4}(?:\.\d{1,2})?)\s+(?:Call|Put)\b`,
		},
		FieldExpiration: {
			`\b(?:Expiration|Expires?|Exp)[:\s]+(\d{1,2}/\d{1,2}(?:/\d{2,4})?)`,
		},
		FieldTheta: {
			`\bTheta[:\s]+(-?\d+\.\d{2,4})`,
			`θ[:\s]+(-?\d+\.\d{2,4})`,
			`\bTheta[:\s]*(-?\d+\.\d+)`,
			`\bTheta\b.*?(-?\d+\.\d{4})`,
		},
		FieldGamma: {
			`\bGamma[:\s]+(-?\d+\.\d{2,4})`,
			`Γ[:\s]+(-?\d+\.\d{2,4})`,
			`\bGamma[:\s]*(-?\d+\.\d+)`,
			`\bGamma\b.*?(-?\d+\.\d{4})`,
		},
		FieldDelta: {
			`\bDelta[:\s]+(-?\d+\.\d{2,4})`,
			`Δ[:\s]+(-?\d+\.\d{2,4})`,
			`\bDelta[:\s]*(-?\d+\.\d+)`,
			`\bDelta\b.*?(-?\d+\.\d{4})`,
		},
		FieldVega: {
			`\bVega[:\s]+(-?\d+\.\d{2,4})`,
			`\bVega[:\s]*(-?\d+\.\d+)`,
			`\bVega\b.*?(-?\d+\.\d{4})`,
		},
		FieldHigh: {
			`\b(?:Day\s+)?High[:\s]+\$?(\d+\.\d{2,4})`,
			`\bHigh\b.*?\$(\d+\.\d{2,4})`,
		},
		FieldLow: {
			`\b(?:Day\s+)?Low[:\s]+\$?(\d+\.\d{2,4})`,
			`\bLow\b.*?\$(\d+\.\d{2,4})`,
		},
		FieldIV: {
			`\bImplied\s+Vol(?:atility)?[:\s]+(\d+(?:\.\d+)?)%?`,
			`\bIV[:\s]+(\d+(?:\.\d+)?)%?`,
			`\bVolatility[:\s]+(\d+(?:\.\d+)?)%?`,
		},
	}
}

// DefaultLabels returns the on-page labels searched, in order, by the DOM
// query path for each field.
func DefaultLabels() map[string][]string {
	return map[string][]string{
		FieldCurrentPrice: {"Mark", "Last trade", "Last", "Price"},
		FieldBid:          {"Bid"},
		FieldAsk:          {"Ask"},
		FieldVolume:       {"Volume"},
		FieldOpenInterest: {"Open interest", "OI"},
		FieldStrike:       {"Strike", "Strike price"},
		FieldExpiration:   {"Expiration", "Expiration date", "Exp"},
		FieldTheta:        {"Theta"},
		FieldGamma:        {"Gamma"},
		FieldDelta:        {"Delta"},
		FieldVega:         {"Vega"},
		FieldHigh:         {"High", "Day high"},
		FieldLow:          {"Low", "Day low"},
		FieldIV:           {"Implied volatility", "IV"},
	}
}
