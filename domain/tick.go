package domain

// Tick is a single trade decoded from the upstream stream.
type Tick struct {
	InstrumentID string  `json:"id"`
	Price        float64 `json:"p"`
	Timestamp    int64   `json:"t"` // unix seconds, exchange time
}
