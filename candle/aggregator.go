package candle

import (
	"bitbucket.org/novatechnologies/datafeed/domain"
)

type Aggregator struct{}

// NextBar folds tick into prev. A tick at or after the boundary following
// prev opens exactly one new bar at that boundary, however far ahead the tick
// is; gaps are not backfilled. Earlier ticks update prev in place.
//
// A zero prev means no bar is known yet and the tick opens the period that
// contains it.
func (s Aggregator) NextBar(prev domain.Bar, tick domain.Tick, period domain.Period) domain.Bar {
	if prev.IsZero() {
		return openBar(period.Start(tick.Timestamp), tick.Price)
	}

	periodStart := period.Next(prev.PeriodStart)
	if tick.Timestamp >= periodStart {
		return openBar(periodStart, tick.Price)
	}

	bar := prev
	if tick.Price > bar.High {
		bar.High = tick.Price
	}
	if tick.Price < bar.Low {
		bar.Low = tick.Price
	}
	bar.Close = tick.Price
	return bar
}

func openBar(periodStart int64, price float64) domain.Bar {
	return domain.Bar{
		PeriodStart: periodStart,
		Open:        price,
		High:        price,
		Low:         price,
		Close:       price,
	}
}
