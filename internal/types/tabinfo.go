package types

// TabInfo holds metadata about an observed brokerage tab, used to route
// captured traffic to a writer.
type TabInfo struct {
	TargetID    string
	URL         string
	PathSegment string // Transformed URL path, e.g. "options_chains_SPY"
	BrowserID   string // Short ID from target ID, e.g. "B0D5A8E8"
}

// TabInfoProvider looks up tab information by ID. It breaks the import
// cycle between capture and cdp.
type TabInfoProvider interface {
	GetByStringID(tabID string) (*TabInfo, bool)
}
