package domain

// SymbolInfo is the resolved description of an instrument as served by the
// symbols endpoint.
type SymbolInfo struct {
	Ticker               string       `json:"ticker"`
	Name                 string       `json:"name"`
	Description          string       `json:"description"`
	Type                 string       `json:"type"`
	Exchange             string       `json:"exchange"`
	ListedExchange       string       `json:"listed_exchange"`
	Timezone             string       `json:"timezone"`
	Session              string       `json:"session"`
	MinMov               float64      `json:"minmov"`
	PriceScale           float64      `json:"pricescale"`
	HasIntraday          bool         `json:"has_intraday"`
	HasDaily             bool         `json:"has_daily"`
	SupportedResolutions []Resolution `json:"supported_resolutions"`
}

// SearchResult is one entry of the symbol search response.
type SearchResult struct {
	Symbol      string `json:"symbol"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Exchange    string `json:"exchange"`
	Ticker      string `json:"ticker"`
	Type        string `json:"type"`
}
