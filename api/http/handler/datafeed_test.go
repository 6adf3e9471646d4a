package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/novatechnologies/datafeed/candle"
	"bitbucket.org/novatechnologies/datafeed/client/history"
	"bitbucket.org/novatechnologies/datafeed/datafeed"
	"bitbucket.org/novatechnologies/datafeed/domain"
)

type fakeDatafeed struct {
	config     json.RawMessage
	found      []domain.SearchResult
	info       domain.SymbolInfo
	bars       []domain.Bar
	err        error
	health     datafeed.Health
	lastQuery  string
	lastLimit  int
	lastParams datafeed.PeriodParams
	lastRes    domain.Resolution
}

func (f *fakeDatafeed) OnReady(context.Context) (json.RawMessage, error) {
	return f.config, f.err
}

func (f *fakeDatafeed) SearchSymbols(_ context.Context, query string, limit int) ([]domain.SearchResult, error) {
	f.lastQuery, f.lastLimit = query, limit
	return f.found, f.err
}

func (f *fakeDatafeed) ResolveSymbol(context.Context, string) (domain.SymbolInfo, error) {
	return f.info, f.err
}

func (f *fakeDatafeed) GetBars(
	_ context.Context,
	_ string,
	resolution domain.Resolution,
	params datafeed.PeriodParams,
) ([]domain.Bar, bool, error) {
	f.lastRes, f.lastParams = resolution, params
	return f.bars, len(f.bars) == 0, f.err
}

func (f *fakeDatafeed) Health() datafeed.Health {
	return f.health
}

type fakeWatcher struct {
	channels map[string]domain.ChartChannel
	err      error
}

func (f *fakeWatcher) Watch(_ context.Context, instrumentID string, resolution domain.Resolution) (string, domain.ChartChannel, error) {
	if f.err != nil {
		return "", domain.ChartChannel{}, f.err
	}
	if f.channels == nil {
		f.channels = map[string]domain.ChartChannel{}
	}
	ch := domain.NewChartChannel(instrumentID, resolution)
	f.channels["w1"] = ch
	return "w1", ch, nil
}

func (f *fakeWatcher) Unwatch(_ context.Context, id string) bool {
	_, ok := f.channels[id]
	delete(f.channels, id)
	return ok
}

func (f *fakeWatcher) Channels() map[string]domain.ChartChannel {
	return f.channels
}

func newTestRouter(df *fakeDatafeed, w *fakeWatcher, issuer TokenIssuer) (*mux.Router, *DatafeedHandler) {
	h := NewDatafeedHandler(df, w, issuer)
	h.now = func() time.Time { return time.Unix(1_000_000, 0) }
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r, h
}

func do(r http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestDatafeedHandler_Config(t *testing.T) {
	df := &fakeDatafeed{config: json.RawMessage(`{"supports_search":true}`)}
	r, _ := newTestRouter(df, &fakeWatcher{}, nil)

	rec := do(r, http.MethodGet, "/api/config")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"supports_search":true}`, rec.Body.String())

	df.err = errors.New("connection refused")
	rec = do(r, http.MethodGet, "/api/config")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDatafeedHandler_Search(t *testing.T) {
	df := &fakeDatafeed{found: []domain.SearchResult{{Symbol: "BTC/USD", Ticker: "Crypto.BTC/USD"}}}
	r, _ := newTestRouter(df, &fakeWatcher{}, nil)

	rec := do(r, http.MethodGet, "/api/search?query=btc&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "btc", df.lastQuery)
	assert.Equal(t, 5, df.lastLimit)
	assert.Contains(t, rec.Body.String(), `"ticker":"Crypto.BTC/USD"`)

	do(r, http.MethodGet, "/api/search?query=eth")
	assert.Equal(t, defaultSearchLimit, df.lastLimit)

	rec = do(r, http.MethodGet, "/api/search?query=eth&limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	df.found = nil
	rec = do(r, http.MethodGet, "/api/search?query=none")
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestDatafeedHandler_ResolveSymbol(t *testing.T) {
	df := &fakeDatafeed{info: domain.SymbolInfo{Ticker: "Crypto.BTC/USD", PriceScale: 100}}
	r, _ := newTestRouter(df, &fakeWatcher{}, nil)

	rec := do(r, http.MethodGet, "/api/symbols?symbol=Crypto.BTC/USD")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pricescale":100`)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/symbols").Code)

	df.err = errors.Wrap(&history.ResponseError{Path: "/symbols", StatusCode: http.StatusNotFound}, "cannot resolve")
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/symbols?symbol=NOPE").Code)
}

func TestDatafeedHandler_History(t *testing.T) {
	df := &fakeDatafeed{bars: []domain.Bar{{PeriodStart: 86400, Open: 1, High: 2, Low: 0.5, Close: 1.5}}}
	r, _ := newTestRouter(df, &fakeWatcher{}, nil)

	t.Run("window", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/api/history?symbol=BTC&resolution=60&from=0&to=90000&countback=2&firstDataRequest=true")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"s":"ok","t":[86400],"o":[1],"h":[2],"l":[0.5],"c":[1.5]}`, rec.Body.String())
		assert.Equal(t, domain.Candle1HResolution, df.lastRes)
		assert.Equal(t, datafeed.PeriodParams{From: 0, To: 90000, CountBack: 2, FirstDataRequest: true}, df.lastParams)
	})
	t.Run("default window", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/api/history?symbol=BTC&resolution=1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(1_000_000), df.lastParams.To)
		assert.Equal(t, int64(1_000_000-defaultBarsCount*60), df.lastParams.From)
	})
	t.Run("bad params", func(t *testing.T) {
		for _, target := range []string{
			"/api/history?resolution=1",
			"/api/history?symbol=BTC&resolution=7X",
			"/api/history?symbol=BTC&from=abc&to=10",
			"/api/history?symbol=BTC&from=10&to=1",
			"/api/history?symbol=BTC&from=1&to=10&countback=x",
		} {
			assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, target).Code, target)
		}
	})
	t.Run("no data", func(t *testing.T) {
		df.bars = nil
		rec := do(r, http.MethodGet, "/api/history?symbol=BTC&from=0&to=10")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"s":"no_data"`)
	})
}

func TestDatafeedHandler_Streams(t *testing.T) {
	w := &fakeWatcher{}
	r, _ := newTestRouter(&fakeDatafeed{}, w, nil)

	rec := do(r, http.MethodPost, "/api/streams?symbol=Crypto.BTC/USD&resolution=1D")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":"w1","channel":"candle_chart_Crypto_BTC_USD_1D","market":"Crypto_BTC_USD","resolution":"1D"}`, rec.Body.String())

	rec = do(r, http.MethodGet, "/api/streams")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"w1"`)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/api/streams/w1").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/api/streams/w1").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/streams").Code)

	w.err = errors.Wrap(candle.ErrUnknownResolution, "resolution \"7X\"")
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/streams?symbol=BTC&resolution=7X").Code)
	w.err = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodPost, "/api/streams?symbol=BTC").Code)
}

func TestDatafeedHandler_Token(t *testing.T) {
	var issuedFor string
	issuer := func(user string) (string, error) {
		issuedFor = user
		if user == "blocked" {
			return "", errors.New("no secret")
		}
		return "signed." + user, nil
	}
	r, _ := newTestRouter(&fakeDatafeed{}, &fakeWatcher{}, issuer)

	rec := do(r, http.MethodGet, "/api/token?user=alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"alice","token":"signed.alice"}`, rec.Body.String())

	rec = do(r, http.MethodGet, "/api/token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, issuedFor)
	assert.True(t, strings.Contains(rec.Body.String(), issuedFor))

	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/api/token?user=blocked").Code)
}

func TestDatafeedHandler_Health(t *testing.T) {
	df := &fakeDatafeed{health: datafeed.Health{Stream: domain.StreamStreaming, Instruments: []string{"BTC"}, Listeners: 2}}
	r, _ := newTestRouter(df, &fakeWatcher{}, nil)

	rec := do(r, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stream":"streaming","instruments":["BTC"],"listeners":2}`, rec.Body.String())

	df.health = datafeed.Health{Stream: domain.StreamExhausted}
	rec = do(r, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"stream":"exhausted","instruments":[],"listeners":0}`, rec.Body.String())
}
