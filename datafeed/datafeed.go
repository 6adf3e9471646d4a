// Package datafeed is the API the charting UI talks to: symbol lookup,
// history and live bar subscriptions.
package datafeed

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"bitbucket.org/novatechnologies/datafeed/candle"
	"bitbucket.org/novatechnologies/datafeed/client/history"
	"bitbucket.org/novatechnologies/datafeed/domain"
	"bitbucket.org/novatechnologies/datafeed/infra/logger"
)

// Streamer is the live connection the datafeed starts on subscription.
type Streamer interface {
	Start(ctx context.Context) bool
	Stop()
	State() domain.StreamState
}

// PeriodParams selects the history window of GetBars.
type PeriodParams struct {
	From             int64
	To               int64
	CountBack        int
	FirstDataRequest bool
}

type Datafeed struct {
	history  history.Client
	registry *candle.Registry
	streamer Streamer
	lastBars *history.LastBars
	// the lifetime of streaming, independent of subscribe calls
	ctx context.Context
}

func New(
	ctx context.Context,
	historyClient history.Client,
	registry *candle.Registry,
	streamer Streamer,
) *Datafeed {
	return &Datafeed{
		history:  historyClient,
		registry: registry,
		streamer: streamer,
		lastBars: history.NewLastBars(),
		ctx:      ctx,
	}
}

// OnReady returns the datafeed configuration of the upstream provider.
func (d *Datafeed) OnReady(ctx context.Context) (json.RawMessage, error) {
	logger.FromContext(ctx).Debugf("[Datafeed.OnReady] Method call.")
	return d.history.Config(ctx)
}

func (d *Datafeed) SearchSymbols(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	logger.FromContext(ctx).WithField("query", query).Debugf("[Datafeed.SearchSymbols] Method call.")
	return d.history.Search(ctx, query, limit)
}

func (d *Datafeed) ResolveSymbol(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	logger.FromContext(ctx).WithField("symbol", symbol).Debugf("[Datafeed.ResolveSymbol] Method call.")
	info, err := d.history.ResolveSymbol(ctx, symbol)
	if err != nil {
		return domain.SymbolInfo{}, errors.Wrapf(err, "cannot resolve symbol %s", symbol)
	}
	return info, nil
}

// GetBars loads history bars. The last bar of a first data request is kept as
// the seed of later subscriptions to the symbol at the same resolution.
// noData is set when the window holds no bars.
func (d *Datafeed) GetBars(
	ctx context.Context,
	symbol string,
	resolution domain.Resolution,
	params PeriodParams,
) (bars []domain.Bar, noData bool, err error) {
	log := logger.FromContext(ctx).
		WithField("symbol", symbol).
		WithField("resolution", resolution)
	log.Debugf("[Datafeed.GetBars] Method call from %d to %d.", params.From, params.To)

	chart, err := d.history.History(ctx, history.Request{
		Symbol:     symbol,
		Resolution: resolution,
		From:       params.From,
		To:         params.To,
		CountBack:  params.CountBack,
	})
	if err != nil {
		log.WithError(err).Errorf("[Datafeed.GetBars] Get error.")
		return nil, false, err
	}

	bars, err = chart.Bars()
	if err != nil {
		return nil, false, err
	}
	if len(bars) == 0 {
		return nil, true, nil
	}
	if params.FirstDataRequest {
		d.lastBars.Set(symbol, resolution, bars[len(bars)-1])
	}
	return bars, false, nil
}

// Subscribe registers onBar for live bars of instrumentID and starts the
// stream if it is not running. The current bar starts from seed, or from the
// last history bar of the same resolution when seed is nil. An empty
// subscriberID is generated. It returns the subscriber id to unsubscribe with.
func (d *Datafeed) Subscribe(
	ctx context.Context,
	instrumentID string,
	resolution domain.Resolution,
	onBar domain.BarHandler,
	subscriberID string,
	seed *domain.Bar,
) (string, error) {
	return d.SubscribeListener(ctx, instrumentID, domain.Listener{
		ID:         subscriberID,
		Resolution: resolution,
		OnBar:      onBar,
	}, seed)
}

// SubscribeListener is Subscribe for listeners that also want stream state
// changes.
func (d *Datafeed) SubscribeListener(
	ctx context.Context,
	instrumentID string,
	listener domain.Listener,
	seed *domain.Bar,
) (string, error) {
	if listener.ID == "" {
		listener.ID = uuid.New().String()
	}
	var seedBar domain.Bar
	if seed != nil {
		seedBar = *seed
	} else if bar, ok := d.lastBars.Get(instrumentID, listener.Resolution); ok {
		seedBar = bar
	}

	if err := d.registry.Subscribe(instrumentID, listener, seedBar); err != nil {
		return "", errors.Wrapf(err, "can't subscribe %s to %s", listener.ID, instrumentID)
	}
	logger.FromContext(ctx).
		WithField("instrument", instrumentID).
		WithField("subscriber", listener.ID).
		Infof("[Datafeed.Subscribe] Subscribe to streaming.")

	if d.streamer.Start(d.ctx) {
		logger.FromContext(ctx).Infof("[Datafeed.Subscribe] Streaming started.")
	}
	return listener.ID, nil
}

// Unsubscribe removes the subscriber. Unknown ids are ignored.
func (d *Datafeed) Unsubscribe(ctx context.Context, subscriberID string) {
	if d.registry.Unsubscribe(subscriberID) {
		logger.FromContext(ctx).
			WithField("subscriber", subscriberID).
			Infof("[Datafeed.Unsubscribe] Unsubscribe from streaming.")
	}
}

// LastBar returns the live bar of a subscribed instrument.
func (d *Datafeed) LastBar(instrumentID string, resolution domain.Resolution) (domain.Bar, bool) {
	return d.registry.LastBar(instrumentID, resolution)
}

type Health struct {
	Stream      domain.StreamState `json:"stream"`
	Instruments []string           `json:"instruments"`
	Listeners   int                `json:"listeners"`
}

func (d *Datafeed) Health() Health {
	return Health{
		Stream:      d.streamer.State(),
		Instruments: d.registry.Instruments(),
		Listeners:   d.registry.Len(),
	}
}

// Close stops streaming. Subscriptions stay registered and resume on the
// next Subscribe.
func (d *Datafeed) Close() {
	d.streamer.Stop()
}
