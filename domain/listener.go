package domain

type BarHandler func(bar Bar)

type StreamStateHandler func(state StreamState)

// Listener is a subscriber registered for the bars of one instrument.
type Listener struct {
	ID         string
	Resolution Resolution
	OnBar      BarHandler
	// OnStreamState is optional. It is called when the upstream connection
	// changes state, e.g. to tell a chart that updates have stalled.
	OnStreamState StreamStateHandler
}
