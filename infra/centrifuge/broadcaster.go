package centrifuge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"bitbucket.org/novatechnologies/datafeed/domain"
	"bitbucket.org/novatechnologies/datafeed/infra/logger"
)

// Subscriber is the part of the datafeed the broadcaster listens to.
type Subscriber interface {
	SubscribeListener(ctx context.Context, instrumentID string, listener domain.Listener, seed *domain.Bar) (string, error)
	Unsubscribe(ctx context.Context, subscriberID string)
}

// ChartMessage is a one-bar chart in the column layout of the history API
// with prices as decimal strings.
type ChartMessage struct {
	O []string `json:"o"`
	H []string `json:"h"`
	L []string `json:"l"`
	C []string `json:"c"`
	T []int64  `json:"t"`
}

func NewChartMessage(bar domain.Bar) ChartMessage {
	price := func(v float64) []string {
		return []string{decimal.NewFromFloat(v).String()}
	}
	return ChartMessage{
		O: price(bar.Open),
		H: price(bar.High),
		L: price(bar.Low),
		C: price(bar.Close),
		T: []int64{bar.PeriodStart},
	}
}

// Broadcaster republishes live bars of watched instruments into their chart
// channels. Listeners only queue bars and signal the events broker; the
// Centrifugo calls run on the broker so a slow server does not stall the
// stream. Bars queued while a publish is in flight, e.g. every resolution of
// one tick, go out together in one batch.
type Broadcaster struct {
	centrifuge   Centrifuge
	subscriber   Subscriber
	eventsBroker domain.EventsBroker

	mu       sync.Mutex
	channels map[string]domain.ChartChannel

	pendingMu sync.Mutex
	pending   []domain.BarUpdate
}

func NewBroadcaster(publisher Centrifuge, subscriber Subscriber, eventsBroker domain.EventsBroker) *Broadcaster {
	return &Broadcaster{
		centrifuge:   publisher,
		subscriber:   subscriber,
		eventsBroker: eventsBroker,
		channels:     map[string]domain.ChartChannel{},
	}
}

func (b *Broadcaster) SubscribeForBars() {
	b.eventsBroker.Subscribe(domain.EvTypeBar, func(e *domain.Event) error {
		return b.Flush(e.Ctx)
	})
}

// Watch subscribes the chart channel of instrumentID to live bars. It returns
// the subscription id for Unwatch.
func (b *Broadcaster) Watch(
	ctx context.Context,
	instrumentID string,
	resolution domain.Resolution,
) (string, domain.ChartChannel, error) {
	channel := domain.NewChartChannel(instrumentID, resolution)
	// bars outlive the request that started watching
	evCtx := context.WithoutCancel(ctx)
	listener := domain.Listener{
		Resolution: resolution,
		OnBar: func(bar domain.Bar) {
			b.enqueue(evCtx, domain.BarUpdate{Channel: channel, Bar: bar})
		},
	}
	id, err := b.subscriber.SubscribeListener(ctx, instrumentID, listener, nil)
	if err != nil {
		return "", domain.ChartChannel{}, errors.Wrapf(err, "can't watch %s", channel.Name)
	}

	b.mu.Lock()
	b.channels[id] = channel
	b.mu.Unlock()

	logger.FromContext(ctx).
		WithField("channel", channel.Name).
		WithField("subscriber", id).
		Infof("[Broadcaster.Watch] Watching.")
	return id, channel, nil
}

// Unwatch stops publishing for the subscription id. It reports whether the id
// was watched.
func (b *Broadcaster) Unwatch(ctx context.Context, id string) bool {
	b.mu.Lock()
	_, ok := b.channels[id]
	delete(b.channels, id)
	b.mu.Unlock()

	if ok {
		b.subscriber.Unsubscribe(ctx, id)
	}
	return ok
}

// Channels returns watched channels by subscription id.
func (b *Broadcaster) Channels() map[string]domain.ChartChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	channels := make(map[string]domain.ChartChannel, len(b.channels))
	for id, ch := range b.channels {
		channels[id] = ch
	}
	return channels
}

// enqueue queues update and signals the broker unless a signal is already
// waiting for the queue.
func (b *Broadcaster) enqueue(ctx context.Context, update domain.BarUpdate) {
	b.pendingMu.Lock()
	first := len(b.pending) == 0
	b.pending = append(b.pending, update)
	b.pendingMu.Unlock()

	if first {
		b.eventsBroker.Publish(domain.EvTypeBar, domain.NewEvent(ctx, nil))
	}
}

// Flush publishes every queued bar, one request for all of them.
func (b *Broadcaster) Flush(ctx context.Context) error {
	b.pendingMu.Lock()
	updates := b.pending
	b.pending = nil
	b.pendingMu.Unlock()

	if len(updates) == 0 {
		return nil
	}
	messages := make([]MessageData, 0, len(updates))
	for _, update := range updates {
		payload, err := json.Marshal(NewChartMessage(update.Bar))
		if err != nil {
			return errors.Wrap(err, "can't marshal chart")
		}
		messages = append(messages, MessageData{Channel: update.Channel.Name, Data: string(payload)})
	}

	var err error
	if len(messages) == 1 {
		err = b.centrifuge.Publish(ctx, messages[0])
	} else {
		err = b.centrifuge.BatchPublish(ctx, messages)
	}
	if err != nil {
		logger.FromContext(ctx).
			WithField("messageCount", len(messages)).
			WithError(err).
			Errorf("[Broadcaster.Flush] Push bars to Centrifugo failed.")
		return err
	}
	return nil
}

// Close unwatches every channel.
func (b *Broadcaster) Close(ctx context.Context) {
	for id := range b.Channels() {
		b.Unwatch(ctx, id)
	}
}
