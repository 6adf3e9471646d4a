package candle

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"bitbucket.org/novatechnologies/datafeed/domain"
	"bitbucket.org/novatechnologies/datafeed/infra/logger"
	"bitbucket.org/novatechnologies/datafeed/infra/metrics"
)

var (
	ErrEmptyListenerID   = errors.New("listener id is empty")
	ErrNilBarHandler     = errors.New("listener has no bar handler")
	ErrEmptyInstrument   = errors.New("instrument id is empty")
	ErrUnknownResolution = errors.New("unknown resolution")
)

type subscription struct {
	lastBar   domain.Bar
	listeners []domain.Listener
}

// Registry binds instruments to their listeners and keeps the current bar of
// every subscribed instrument and resolution. Subscriptions are only removed
// by Unsubscribe, so ones abandoned by their listeners live until the
// registry is dropped.
type Registry struct {
	dispatchMu sync.Mutex
	mu         sync.Mutex
	// instrument-resolution-subscription
	subscriptions map[string]map[domain.Resolution]*subscription
	// listener id -> instrument
	owners     map[string]string
	aggregator Aggregator
}

func NewRegistry() *Registry {
	return &Registry{
		subscriptions: map[string]map[domain.Resolution]*subscription{},
		owners:        map[string]string{},
	}
}

// Subscribe adds listener to the bars of instrumentID. The first listener of
// an instrument and resolution creates the subscription with seed as the
// current bar; later listeners join it and keep the current bar unless seed
// is more recent. A listener id that is already registered is moved to the
// new registration.
func (r *Registry) Subscribe(instrumentID string, listener domain.Listener, seed domain.Bar) error {
	switch {
	case instrumentID == "":
		return ErrEmptyInstrument
	case listener.ID == "":
		return ErrEmptyListenerID
	case listener.OnBar == nil:
		return ErrNilBarHandler
	case listener.Resolution.IsNotExist():
		return errors.Wrapf(ErrUnknownResolution, "resolution %q", listener.Resolution)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(listener.ID)

	if r.subscriptions[instrumentID] == nil {
		r.subscriptions[instrumentID] = map[domain.Resolution]*subscription{}
	}
	sub := r.subscriptions[instrumentID][listener.Resolution]
	if sub == nil {
		sub = &subscription{lastBar: seed}
		r.subscriptions[instrumentID][listener.Resolution] = sub
	} else if sub.lastBar.IsZero() || seed.PeriodStart > sub.lastBar.PeriodStart {
		sub.lastBar = seed
	}
	sub.listeners = append(sub.listeners, listener)
	r.owners[listener.ID] = instrumentID
	metrics.Subscriptions.Set(float64(r.countLocked()))

	return nil
}

// Unsubscribe removes the listener with the given id. The subscription is
// dropped together with its last listener. It reports whether the listener
// was found.
func (r *Registry) Unsubscribe(listenerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := r.removeLocked(listenerID)
	metrics.Subscriptions.Set(float64(r.countLocked()))
	return found
}

func (r *Registry) removeLocked(listenerID string) bool {
	instrumentID, ok := r.owners[listenerID]
	if !ok {
		return false
	}
	delete(r.owners, listenerID)

	byResolution := r.subscriptions[instrumentID]
	for resolution, sub := range byResolution {
		for i, l := range sub.listeners {
			if l.ID != listenerID {
				continue
			}
			// copy so snapshots taken by a running dispatch stay intact
			listeners := make([]domain.Listener, 0, len(sub.listeners)-1)
			listeners = append(listeners, sub.listeners[:i]...)
			sub.listeners = append(listeners, sub.listeners[i+1:]...)
			if len(sub.listeners) == 0 {
				delete(byResolution, resolution)
			}
			break
		}
	}
	if len(byResolution) == 0 {
		delete(r.subscriptions, instrumentID)
	}
	return true
}

type delivery struct {
	bar       domain.Bar
	listeners []domain.Listener
}

// Dispatch folds tick into every subscription of its instrument and hands the
// new bars to the listeners in registration order. Ticks of unknown
// instruments are dropped. Dispatches never interleave; listeners run outside
// the registry lock and may subscribe or unsubscribe.
func (r *Registry) Dispatch(ctx context.Context, tick domain.Tick) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	deliveries := r.apply(tick)
	if deliveries == nil {
		metrics.TicksUnrouted.Inc()
		return
	}

	log := logger.FromContext(ctx).WithField("instrument", tick.InstrumentID)
	for _, d := range deliveries {
		for _, l := range d.listeners {
			r.deliver(log, l, d.bar)
		}
	}
}

func (r *Registry) apply(tick domain.Tick) []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	byResolution := r.subscriptions[tick.InstrumentID]
	if len(byResolution) == 0 {
		return nil
	}

	resolutions := make([]domain.Resolution, 0, len(byResolution))
	for resolution := range byResolution {
		resolutions = append(resolutions, resolution)
	}
	sort.Slice(resolutions, func(i, j int) bool { return resolutions[i] < resolutions[j] })

	deliveries := make([]delivery, 0, len(resolutions))
	for _, resolution := range resolutions {
		sub := byResolution[resolution]
		sub.lastBar = r.aggregator.NextBar(sub.lastBar, tick, resolution.Period())
		deliveries = append(deliveries, delivery{bar: sub.lastBar, listeners: sub.listeners})
	}
	return deliveries
}

func (r *Registry) deliver(log logger.Logger, l domain.Listener, bar domain.Bar) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ListenerPanics.Inc()
			log.WithField("listener", l.ID).Errorf("[Registry.Dispatch] Listener panicked: %v", rec)
		}
	}()
	l.OnBar(bar)
	metrics.BarsDelivered.Inc()
}

// NotifyStreamState passes a stream state change to the listeners that asked
// for it.
func (r *Registry) NotifyStreamState(ctx context.Context, state domain.StreamState) {
	r.mu.Lock()
	var listeners []domain.Listener
	for _, byResolution := range r.subscriptions {
		for _, sub := range byResolution {
			for _, l := range sub.listeners {
				if l.OnStreamState != nil {
					listeners = append(listeners, l)
				}
			}
		}
	}
	r.mu.Unlock()

	log := logger.FromContext(ctx)
	for _, l := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					metrics.ListenerPanics.Inc()
					log.WithField("listener", l.ID).Errorf("[Registry.NotifyStreamState] Listener panicked: %v", rec)
				}
			}()
			l.OnStreamState(state)
		}()
	}
}

// SubscribeForStreamState forwards stream state events of the broker to the
// listeners.
func (r *Registry) SubscribeForStreamState(eventsBroker domain.EventsBroker) {
	eventsBroker.Subscribe(domain.EvTypeStreamState, func(e *domain.Event) error {
		state := e.MustGetStreamState()
		logger.FromContext(e.Ctx).
			WithField("from", e.GetMeta(domain.MetaKeyPrevState)).
			WithField("to", state.String()).
			Infof("[Registry] Stream state changed.")
		r.NotifyStreamState(e.Ctx, state)
		return nil
	})
}

// LastBar returns the current bar of the instrument at the resolution.
func (r *Registry) LastBar(instrumentID string, resolution domain.Resolution) (domain.Bar, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := r.subscriptions[instrumentID][resolution]
	if sub == nil {
		return domain.Bar{}, false
	}
	return sub.lastBar, true
}

// Instruments returns the subscribed instruments in lexical order.
func (r *Registry) Instruments() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	instruments := make([]string, 0, len(r.subscriptions))
	for instrumentID := range r.subscriptions {
		instruments = append(instruments, instrumentID)
	}
	sort.Strings(instruments)
	return instruments
}

// Len returns the number of listeners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}

func (r *Registry) countLocked() int {
	n := 0
	for _, byResolution := range r.subscriptions {
		n += len(byResolution)
	}
	return n
}
