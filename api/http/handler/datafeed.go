package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-http-utils/headers"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"bitbucket.org/novatechnologies/datafeed/candle"
	"bitbucket.org/novatechnologies/datafeed/client/history"
	"bitbucket.org/novatechnologies/datafeed/datafeed"
	"bitbucket.org/novatechnologies/datafeed/domain"
	"bitbucket.org/novatechnologies/datafeed/infra/logger"
)

const (
	defaultBarsCount   = 300
	defaultSearchLimit = 30
	maxHistorySpan     = 24 * 364 * 5 * time.Hour
)

type Datafeed interface {
	OnReady(ctx context.Context) (json.RawMessage, error)
	SearchSymbols(ctx context.Context, query string, limit int) ([]domain.SearchResult, error)
	ResolveSymbol(ctx context.Context, symbol string) (domain.SymbolInfo, error)
	GetBars(
		ctx context.Context,
		symbol string,
		resolution domain.Resolution,
		params datafeed.PeriodParams,
	) ([]domain.Bar, bool, error)
	Health() datafeed.Health
}

// Watcher publishes live bars into Centrifugo channels.
type Watcher interface {
	Watch(ctx context.Context, instrumentID string, resolution domain.Resolution) (string, domain.ChartChannel, error)
	Unwatch(ctx context.Context, id string) bool
	Channels() map[string]domain.ChartChannel
}

// TokenIssuer signs a Centrifugo connection token for user.
type TokenIssuer func(user string) (string, error)

type DatafeedHandler struct {
	datafeed Datafeed
	watcher  Watcher
	issuer   TokenIssuer
	now      func() time.Time
}

func NewDatafeedHandler(df Datafeed, watcher Watcher, issuer TokenIssuer) *DatafeedHandler {
	return &DatafeedHandler{
		datafeed: df,
		watcher:  watcher,
		issuer:   issuer,
		now:      time.Now,
	}
}

func (h *DatafeedHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/config", h.GetConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/search", h.SearchSymbols).Methods(http.MethodGet)
	r.HandleFunc("/api/symbols", h.ResolveSymbol).Methods(http.MethodGet)
	r.HandleFunc("/api/history", h.GetHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/streams", h.ListStreams).Methods(http.MethodGet)
	r.HandleFunc("/api/streams", h.CreateStream).Methods(http.MethodPost)
	r.HandleFunc("/api/streams/{id}", h.DeleteStream).Methods(http.MethodDelete)
	r.HandleFunc("/api/token", h.GetToken).Methods(http.MethodGet)
	r.HandleFunc("/api/health", h.Health).Methods(http.MethodGet)
}

func (h *DatafeedHandler) GetConfig(res http.ResponseWriter, req *http.Request) {
	cfg, err := h.datafeed.OnReady(req.Context())
	if err != nil {
		upstreamError(req.Context(), res, err)
		return
	}
	res.Header().Set(headers.ContentType, "application/json")
	_, _ = res.Write(cfg)
}

func (h *DatafeedHandler) SearchSymbols(res http.ResponseWriter, req *http.Request) {
	limit := defaultSearchLimit
	if s := req.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(res, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	found, err := h.datafeed.SearchSymbols(req.Context(), req.URL.Query().Get("query"), limit)
	if err != nil {
		upstreamError(req.Context(), res, err)
		return
	}
	if found == nil {
		found = []domain.SearchResult{}
	}
	writeJSON(req.Context(), res, http.StatusOK, found)
}

func (h *DatafeedHandler) ResolveSymbol(res http.ResponseWriter, req *http.Request) {
	symbol := req.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(res, "symbol is required", http.StatusBadRequest)
		return
	}
	info, err := h.datafeed.ResolveSymbol(req.Context(), symbol)
	if err != nil {
		upstreamError(req.Context(), res, err)
		return
	}
	writeJSON(req.Context(), res, http.StatusOK, info)
}

// GetHistory serves bars in the column layout. Without from and to it
// returns the latest defaultBarsCount periods.
func (h *DatafeedHandler) GetHistory(res http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	symbol := query.Get("symbol")
	if symbol == "" {
		http.Error(res, "symbol is required", http.StatusBadRequest)
		return
	}

	resolution := domain.Resolution(query.Get("resolution"))
	if resolution == "" {
		resolution = domain.Candle1DResolution
	}
	if resolution.IsNotExist() {
		http.Error(res, fmt.Sprintf("unknown resolution %q", resolution), http.StatusBadRequest)
		return
	}

	params := datafeed.PeriodParams{FirstDataRequest: query.Get("firstDataRequest") == "true"}
	if query.Get("from") == "" || query.Get("to") == "" {
		now := h.now().UTC()
		params.To = now.Unix()
		params.From = now.Add(-resolution.ToDuration(now.Month(), now.Year()) * defaultBarsCount).Unix()
	} else {
		from, err := strconv.ParseInt(query.Get("from"), 10, 64)
		if err != nil {
			illegalUnixTimestamp(err, res)
			return
		}
		to, err := strconv.ParseInt(query.Get("to"), 10, 64)
		if err != nil {
			illegalUnixTimestamp(err, res)
			return
		}
		if to < from || time.Duration(to-from)*time.Second > maxHistorySpan {
			illegalUnixTimestamp(errors.New("requested interval is incorrect or too big"), res)
			return
		}
		params.From, params.To = from, to
	}
	if s := query.Get("countback"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(res, "countback must be a non-negative integer", http.StatusBadRequest)
			return
		}
		params.CountBack = n
	}

	bars, _, err := h.datafeed.GetBars(req.Context(), symbol, resolution, params)
	if err != nil {
		upstreamError(req.Context(), res, err)
		return
	}
	writeJSON(req.Context(), res, http.StatusOK, domain.NewChart(bars))
}

type streamResponse struct {
	ID         string            `json:"id"`
	Channel    string            `json:"channel"`
	Market     string            `json:"market"`
	Resolution domain.Resolution `json:"resolution"`
}

func newStreamResponse(id string, ch domain.ChartChannel) streamResponse {
	return streamResponse{ID: id, Channel: ch.Name, Market: ch.Market, Resolution: ch.Resolution}
}

func (h *DatafeedHandler) ListStreams(res http.ResponseWriter, req *http.Request) {
	channels := h.watcher.Channels()
	streams := make([]streamResponse, 0, len(channels))
	for id, ch := range channels {
		streams = append(streams, newStreamResponse(id, ch))
	}
	writeJSON(req.Context(), res, http.StatusOK, streams)
}

// CreateStream starts publishing live bars of a symbol into its chart
// channel.
func (h *DatafeedHandler) CreateStream(res http.ResponseWriter, req *http.Request) {
	symbol := req.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(res, "symbol is required", http.StatusBadRequest)
		return
	}
	resolution := domain.Resolution(req.URL.Query().Get("resolution"))
	if resolution == "" {
		resolution = domain.Candle1DResolution
	}

	id, channel, err := h.watcher.Watch(req.Context(), symbol, resolution)
	if err != nil {
		if errors.Is(err, candle.ErrUnknownResolution) {
			http.Error(res, err.Error(), http.StatusBadRequest)
			return
		}
		logger.FromContext(req.Context()).WithError(err).Errorf("[DatafeedHandler.CreateStream] Watch failed.")
		http.Error(res, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(req.Context(), res, http.StatusCreated, newStreamResponse(id, channel))
}

func (h *DatafeedHandler) DeleteStream(res http.ResponseWriter, req *http.Request) {
	if !h.watcher.Unwatch(req.Context(), mux.Vars(req)["id"]) {
		http.Error(res, "stream not found", http.StatusNotFound)
		return
	}
	res.WriteHeader(http.StatusNoContent)
}

type tokenResponse struct {
	User  string `json:"user"`
	Token string `json:"token"`
}

// GetToken issues a Centrifugo connection token. A missing user gets a
// random id.
func (h *DatafeedHandler) GetToken(res http.ResponseWriter, req *http.Request) {
	user := req.URL.Query().Get("user")
	if user == "" {
		user = uuid.New().String()
	}
	token, err := h.issuer(user)
	if err != nil {
		logger.FromContext(req.Context()).WithError(err).Warnf("[DatafeedHandler.GetToken] Can't issue token.")
		http.Error(res, "token is unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(req.Context(), res, http.StatusOK, tokenResponse{User: user, Token: token})
}

// Health reports the upstream stream state. Exhausted streams answer 503.
func (h *DatafeedHandler) Health(res http.ResponseWriter, req *http.Request) {
	health := h.datafeed.Health()
	if health.Instruments == nil {
		health.Instruments = []string{}
	}
	status := http.StatusOK
	if health.Stream == domain.StreamExhausted {
		status = http.StatusServiceUnavailable
	}
	writeJSON(req.Context(), res, status, health)
}

func writeJSON(ctx context.Context, res http.ResponseWriter, status int, v interface{}) {
	res.Header().Set(headers.ContentType, "application/json")
	res.WriteHeader(status)
	if err := json.NewEncoder(res).Encode(v); err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("[handler.writeJSON] Encode failed.")
	}
}

func upstreamError(ctx context.Context, res http.ResponseWriter, err error) {
	logger.FromContext(ctx).WithError(err).Errorf("[handler] Upstream request failed.")

	status := http.StatusBadGateway
	var respErr *history.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		status = http.StatusNotFound
	}
	http.Error(res, strings.TrimSpace(err.Error()), status)
}

func illegalUnixTimestamp(err error, w http.ResponseWriter) {
	w.WriteHeader(http.StatusBadRequest)
	msg := fmt.Sprintf(
		"illegal timestamp parameter %v: must be Unix seconds", err,
	)
	_, _ = w.Write([]byte(msg))
}
