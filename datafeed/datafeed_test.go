package datafeed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/novatechnologies/datafeed/candle"
	"bitbucket.org/novatechnologies/datafeed/client/feed"
	"bitbucket.org/novatechnologies/datafeed/client/history"
	"bitbucket.org/novatechnologies/datafeed/domain"
)

const btc = "Crypto.BTC/USD"

type upstream struct {
	t     *testing.T
	lines chan string
}

func newUpstream(t *testing.T) (*httptest.Server, *upstream) {
	u := &upstream{t: t, lines: make(chan string, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/tv/history", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("from") == "0" {
			_, _ = io.WriteString(w, `{"s":"no_data","t":[],"o":[],"h":[],"l":[],"c":[]}`)
			return
		}
		_, _ = io.WriteString(w, `{"s":"ok","t":[13600,100000],"o":[9,10],"h":[11,10],"l":[8,10],"c":[10,10]}`)
	})
	mux.HandleFunc("/tv/streaming", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case line := <-u.lines:
				_, _ = io.WriteString(w, line)
				flusher.Flush()
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, u
}

type barSink struct {
	mu   sync.Mutex
	bars []domain.Bar
}

func (s *barSink) OnBar(bar domain.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = append(s.bars, bar)
}

func (s *barSink) Bars() []domain.Bar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Bar(nil), s.bars...)
}

func newDatafeed(t *testing.T, srv *httptest.Server) (*Datafeed, *feed.Supervisor) {
	hist, err := history.New(history.Config{ServerURL: srv.URL + "/tv"})
	require.NoError(t, err)
	conn, err := feed.New(feed.Config{StreamURL: srv.URL + "/tv/streaming"})
	require.NoError(t, err)

	registry := candle.NewRegistry()
	supervisor := feed.NewSupervisor(conn, registry, feed.SupervisorConfig{Retries: 3, RetryDelay: 10 * time.Millisecond})
	df := New(context.Background(), hist, registry, supervisor)
	t.Cleanup(df.Close)
	return df, supervisor
}

func TestDatafeed_EndToEnd(t *testing.T) {
	srv, up := newUpstream(t)
	df, supervisor := newDatafeed(t, srv)
	ctx := context.Background()

	bars, noData, err := df.GetBars(ctx, btc, domain.Candle1DResolution, PeriodParams{From: 1, To: 200000, FirstDataRequest: true})
	require.NoError(t, err)
	assert.False(t, noData)
	assert.Len(t, bars, 2)

	assert.Equal(t, domain.StreamIdle, supervisor.State())
	sink := &barSink{}
	id, err := df.Subscribe(ctx, btc, domain.Candle1DResolution, sink.OnBar, "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Eventually(t, func() bool {
		return supervisor.State() == domain.StreamStreaming
	}, 2*time.Second, 5*time.Millisecond)

	up.lines <- `{"id":"Crypto.ETH/USD","p":3000,"t":100400}` + "\n"
	up.lines <- `{"id":"Crypto.BTC/USD","p":12,"t":100500}` + "\n" + `{"id":"Crypto.BTC/USD",`
	up.lines <- `"p":8,"t":186500}` + "\n"

	require.Eventually(t, func() bool { return len(sink.Bars()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.Bar{
		{PeriodStart: 100000, Open: 10, High: 12, Low: 10, Close: 12},
		{PeriodStart: 186400, Open: 8, High: 8, Low: 8, Close: 8},
	}, sink.Bars())

	last, ok := df.LastBar(btc, domain.Candle1DResolution)
	assert.True(t, ok)
	assert.Equal(t, 186400, int(last.PeriodStart))

	health := df.Health()
	assert.Equal(t, domain.StreamStreaming, health.Stream)
	assert.Equal(t, []string{btc}, health.Instruments)
	assert.Equal(t, 1, health.Listeners)

	df.Unsubscribe(ctx, id)
	assert.Equal(t, 0, df.Health().Listeners)
}

func TestDatafeed_GetBarsNoData(t *testing.T) {
	srv, _ := newUpstream(t)
	df, _ := newDatafeed(t, srv)

	bars, noData, err := df.GetBars(context.Background(), btc, domain.Candle1DResolution, PeriodParams{From: 0, To: 10})
	require.NoError(t, err)
	assert.True(t, noData)
	assert.Empty(t, bars)
}

func TestDatafeed_SubscribeExplicitSeed(t *testing.T) {
	srv, up := newUpstream(t)
	df, supervisor := newDatafeed(t, srv)
	ctx := context.Background()

	sinkA, sinkB := &barSink{}, &barSink{}
	seed := &domain.Bar{PeriodStart: 100000, Open: 10, High: 10, Low: 10, Close: 10}
	_, err := df.Subscribe(ctx, btc, domain.Candle1DResolution, sinkA.OnBar, "a", seed)
	require.NoError(t, err)
	_, err = df.Subscribe(ctx, btc, domain.Candle1DResolution, sinkB.OnBar, "b", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return supervisor.State() == domain.StreamStreaming
	}, 2*time.Second, 5*time.Millisecond)

	up.lines <- `{"id":"Crypto.BTC/USD","p":4,"t":100500}` + "\n"
	require.Eventually(t, func() bool { return len(sinkB.Bars()) == 1 }, 2*time.Second, 5*time.Millisecond)
	want := []domain.Bar{{PeriodStart: 100000, Open: 10, High: 10, Low: 4, Close: 4}}
	assert.Equal(t, want, sinkA.Bars())
	assert.Equal(t, want, sinkB.Bars())
}

func TestDatafeed_SubscribeRejectsBadResolution(t *testing.T) {
	srv, _ := newUpstream(t)
	df, supervisor := newDatafeed(t, srv)

	_, err := df.Subscribe(context.Background(), btc, "7X", func(domain.Bar) {}, "", nil)
	assert.ErrorIs(t, err, candle.ErrUnknownResolution)
	assert.Equal(t, domain.StreamIdle, supervisor.State(), "stream is not started for rejected subscriptions")
}

func TestDatafeed_SeedFollowsResolution(t *testing.T) {
	srv, up := newUpstream(t)
	df, supervisor := newDatafeed(t, srv)
	ctx := context.Background()

	_, _, err := df.GetBars(ctx, btc, domain.Candle1DResolution, PeriodParams{From: 1, To: 200000, FirstDataRequest: true})
	require.NoError(t, err)

	hourly, daily := &barSink{}, &barSink{}
	_, err = df.Subscribe(ctx, btc, domain.Candle1HResolution, hourly.OnBar, "hourly", nil)
	require.NoError(t, err)
	_, err = df.Subscribe(ctx, btc, domain.Candle1DResolution, daily.OnBar, "daily", nil)
	require.NoError(t, err)

	last, ok := df.LastBar(btc, domain.Candle1HResolution)
	require.True(t, ok)
	assert.True(t, last.IsZero(), "daily history does not seed hourly bars")
	last, ok = df.LastBar(btc, domain.Candle1DResolution)
	require.True(t, ok)
	assert.Equal(t, int64(100000), last.PeriodStart)

	require.Eventually(t, func() bool {
		return supervisor.State() == domain.StreamStreaming
	}, 2*time.Second, 5*time.Millisecond)
	up.lines <- `{"id":"Crypto.BTC/USD","p":12,"t":100500}` + "\n"

	require.Eventually(t, func() bool {
		return len(hourly.Bars()) == 1 && len(daily.Bars()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.Bar{{PeriodStart: 97200, Open: 12, High: 12, Low: 12, Close: 12}}, hourly.Bars())
	assert.Equal(t, []domain.Bar{{PeriodStart: 100000, Open: 10, High: 12, Low: 10, Close: 12}}, daily.Bars())
}
