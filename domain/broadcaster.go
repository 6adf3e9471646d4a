package domain

import "fmt"

const CandleChartChannelPrefix = "candle_chart"

// ChartChannel is a Centrifugo channel carrying live bars of one instrument
// and resolution.
type ChartChannel struct {
	Name       string
	Market     string
	Resolution Resolution
}

func NewChartChannel(instrumentID string, resolution Resolution) ChartChannel {
	market := NormalizeMarketName(instrumentID)
	return ChartChannel{
		Name:       fmt.Sprintf("%s_%s_%s", CandleChartChannelPrefix, market, resolution),
		Market:     market,
		Resolution: resolution,
	}
}

// BarUpdate is a bar waiting to be published into its channel.
type BarUpdate struct {
	Channel ChartChannel
	Bar     Bar
}
