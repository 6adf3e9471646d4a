package domain

import "github.com/pkg/errors"

// Bar is an OHLC aggregate of the ticks of one period.
type Bar struct {
	PeriodStart int64   `json:"time"` // unix seconds
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
}

func (b Bar) IsZero() bool {
	return b == Bar{}
}

// Chart is the column-oriented history response.
type Chart struct {
	Status  string    `json:"s"`
	Message string    `json:"errmsg,omitempty"`
	T       []int64   `json:"t"`
	O       []float64 `json:"o"`
	H       []float64 `json:"h"`
	L       []float64 `json:"l"`
	C       []float64 `json:"c"`
	V       []float64 `json:"v,omitempty"`
}

const (
	ChartStatusOK     = "ok"
	ChartStatusNoData = "no_data"
	ChartStatusError  = "error"
)

func (c *Chart) Len() int {
	if c == nil {
		return 0
	}
	return len(c.T)
}

// Bars converts the columns into rows. Every price column must have the same
// length as T.
func (c *Chart) Bars() ([]Bar, error) {
	n := c.Len()
	if n == 0 {
		return nil, nil
	}
	if len(c.O) != n || len(c.H) != n || len(c.L) != n || len(c.C) != n {
		return nil, errors.Errorf(
			"unexpected len of chart columns: t=%d o=%d h=%d l=%d c=%d",
			n, len(c.O), len(c.H), len(c.L), len(c.C),
		)
	}
	bars := make([]Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = Bar{
			PeriodStart: c.T[i],
			Open:        c.O[i],
			High:        c.H[i],
			Low:         c.L[i],
			Close:       c.C[i],
		}
	}
	return bars, nil
}

// LastBar returns the most recent bar of the chart.
func (c *Chart) LastBar() (Bar, bool) {
	bars, err := c.Bars()
	if err != nil || len(bars) == 0 {
		return Bar{}, false
	}
	return bars[len(bars)-1], true
}

// NewChart lays bars out in columns. No bars make a no_data chart.
func NewChart(bars []Bar) *Chart {
	if len(bars) == 0 {
		return &Chart{Status: ChartStatusNoData, T: []int64{}, O: []float64{}, H: []float64{}, L: []float64{}, C: []float64{}}
	}
	c := &Chart{
		Status: ChartStatusOK,
		T:      make([]int64, len(bars)),
		O:      make([]float64, len(bars)),
		H:      make([]float64, len(bars)),
		L:      make([]float64, len(bars)),
		C:      make([]float64, len(bars)),
	}
	for i, b := range bars {
		c.T[i], c.O[i], c.H[i], c.L[i], c.C[i] = b.PeriodStart, b.Open, b.High, b.Low, b.Close
	}
	return c
}
