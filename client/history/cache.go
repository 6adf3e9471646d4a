package history

import (
	"sync"

	"bitbucket.org/novatechnologies/datafeed/domain"
)

type lastBarKey struct {
	instrumentID string
	resolution   domain.Resolution
}

// LastBars remembers the most recent history bar of every instrument and
// resolution. It is the seed handed to new stream subscriptions.
type LastBars struct {
	sync.RWMutex
	bars map[lastBarKey]domain.Bar
}

func NewLastBars() *LastBars {
	return &LastBars{bars: map[lastBarKey]domain.Bar{}}
}

func (c *LastBars) Get(instrumentID string, resolution domain.Resolution) (domain.Bar, bool) {
	c.RLock()
	defer c.RUnlock()
	bar, ok := c.bars[lastBarKey{instrumentID, resolution}]
	return bar, ok
}

func (c *LastBars) Set(instrumentID string, resolution domain.Resolution, bar domain.Bar) {
	c.Lock()
	defer c.Unlock()
	c.bars[lastBarKey{instrumentID, resolution}] = bar
}
