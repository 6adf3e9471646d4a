package domain

import "time"

const (
	Day = 24 * time.Hour
)

type Resolution string

const (
	Candle1MResolution  Resolution = "1"
	Candle3MResolution  Resolution = "3"
	Candle5MResolution  Resolution = "5"
	Candle15MResolution Resolution = "15"
	Candle30MResolution Resolution = "30"
	Candle1HResolution  Resolution = "60"
	Candle2HResolution  Resolution = "120"
	Candle4HResolution  Resolution = "240"
	Candle6HResolution  Resolution = "360"
	Candle12HResolution Resolution = "720"
	Candle1MHResolution Resolution = "1MH"
	Candle1DResolution  Resolution = "1D"

	// Aliases sent by charting widgets.

	Candle1H2Resolution  Resolution = "1H"
	Candle2H2Resolution  Resolution = "2H"
	Candle4H2Resolution  Resolution = "4H"
	Candle6H2Resolution  Resolution = "6H"
	Candle12H2Resolution Resolution = "12H"
	Candle1D2Resolution  Resolution = "D"
	Candle1WResolution   Resolution = "1W"
	Candle1W2Resolution  Resolution = "W"
	Candle1MH2Resolution Resolution = "1M"
)

type calendarUnit int

const (
	unitFixed calendarUnit = iota
	unitDay
	unitWeek
	unitMonth
)

type resolutionSpec struct {
	unit     calendarUnit
	duration time.Duration
}

var resolutions = map[Resolution]resolutionSpec{
	Candle1MResolution:  {unitFixed, time.Minute},
	Candle3MResolution:  {unitFixed, 3 * time.Minute},
	Candle5MResolution:  {unitFixed, 5 * time.Minute},
	Candle15MResolution: {unitFixed, 15 * time.Minute},
	Candle30MResolution: {unitFixed, 30 * time.Minute},
	Candle1HResolution:  {unitFixed, 60 * time.Minute},
	Candle2HResolution:  {unitFixed, 120 * time.Minute},
	Candle4HResolution:  {unitFixed, 240 * time.Minute},
	Candle6HResolution:  {unitFixed, 360 * time.Minute},
	Candle12HResolution: {unitFixed, 720 * time.Minute},
	Candle1DResolution:  {unitDay, Day},
	Candle1MHResolution: {unitMonth, 0},

	Candle1H2Resolution:  {unitFixed, 60 * time.Minute},
	Candle2H2Resolution:  {unitFixed, 120 * time.Minute},
	Candle4H2Resolution:  {unitFixed, 240 * time.Minute},
	Candle6H2Resolution:  {unitFixed, 360 * time.Minute},
	Candle12H2Resolution: {unitFixed, 720 * time.Minute},
	Candle1D2Resolution:  {unitDay, Day},
	Candle1WResolution:   {unitWeek, 7 * Day},
	Candle1W2Resolution:  {unitWeek, 7 * Day},
	Candle1MH2Resolution: {unitMonth, 0},
}

// GetAvailableResolutions lists every resolution in its canonical spelling,
// shortest first.
func GetAvailableResolutions() []Resolution {
	return []Resolution{
		Candle1MResolution,
		Candle3MResolution,
		Candle5MResolution,
		Candle15MResolution,
		Candle30MResolution,
		Candle1HResolution,
		Candle2HResolution,
		Candle4HResolution,
		Candle6HResolution,
		Candle12HResolution,
		Candle1DResolution,
		Candle1WResolution,
		Candle1MHResolution,
	}
}

func (resolution Resolution) IsNotExist() bool {
	_, ok := resolutions[resolution]
	return !ok
}

// ToDuration returns the nominal length of one period. Monthly periods depend
// on the month they start in.
func (resolution Resolution) ToDuration(month time.Month, year int) time.Duration {
	spec, ok := resolutions[resolution]
	if !ok {
		return 0
	}
	if spec.unit == unitMonth {
		return monthDuration(month, year)
	}
	return spec.duration
}

// Period returns the boundary rule of the resolution. Unknown resolutions fall
// back to one UTC day, the period of the upstream daily bars.
func (resolution Resolution) Period() Period {
	spec, ok := resolutions[resolution]
	if !ok {
		spec = resolutions[Candle1DResolution]
	}
	return calendarPeriod(spec)
}

// Period describes how bar boundaries are laid out on the time axis. All
// values are unix seconds.
type Period interface {
	// Start aligns ts down to the beginning of the period containing it.
	Start(ts int64) int64
	// Next returns the boundary strictly after the period beginning at start.
	Next(start int64) int64
}

// FixedPeriod is a period of constant length aligned to the unix epoch.
type FixedPeriod time.Duration

func (p FixedPeriod) seconds() int64 {
	s := int64(time.Duration(p) / time.Second)
	if s <= 0 {
		return 1
	}
	return s
}

func (p FixedPeriod) Start(ts int64) int64 {
	s := p.seconds()
	start := ts - ts%s
	if ts < 0 && ts%s != 0 {
		start -= s
	}
	return start
}

func (p FixedPeriod) Next(start int64) int64 {
	return start + p.seconds()
}

type calendarPeriod resolutionSpec

func (p calendarPeriod) Start(ts int64) int64 {
	t := time.Unix(ts, 0).UTC()
	switch p.unit {
	case unitDay:
		return startOfDay(t).Unix()
	case unitWeek:
		day := startOfDay(t)
		offset := (int(day.Weekday()) + 6) % 7 // weeks start on Monday
		return day.AddDate(0, 0, -offset).Unix()
	case unitMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).Unix()
	default:
		return FixedPeriod(p.duration).Start(ts)
	}
}

func (p calendarPeriod) Next(start int64) int64 {
	t := time.Unix(start, 0).UTC()
	switch p.unit {
	case unitDay:
		return t.AddDate(0, 0, 1).Unix()
	case unitWeek:
		return t.AddDate(0, 0, 7).Unix()
	case unitMonth:
		return t.AddDate(0, 1, 0).Unix()
	default:
		return FixedPeriod(p.duration).Next(start)
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthDuration(month time.Month, year int) time.Duration {
	switch month {
	case time.February:
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29 * Day
		}
		return 28 * Day
	case time.April, time.June, time.September, time.November:
		return 30 * Day
	default:
		return 31 * Day
	}
}
