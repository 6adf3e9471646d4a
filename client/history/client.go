package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-http-utils/headers"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"bitbucket.org/novatechnologies/datafeed/domain"
)

const (
	uriPathConfig  = "/config"
	uriPathSearch  = "/search"
	uriPathSymbols = "/symbols"
	uriPathHistory = "/history"

	defaultAPITimeout = 10 * time.Second
)

// Client reads the charting endpoints of the upstream provider.
type Client interface {
	Config(ctx context.Context) (json.RawMessage, error)
	Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error)
	ResolveSymbol(ctx context.Context, symbol string) (domain.SymbolInfo, error)
	History(ctx context.Context, req Request) (*domain.Chart, error)
}

// Request selects bars of one symbol in [From, To].
type Request struct {
	Symbol     string
	Resolution domain.Resolution
	From       int64
	To         int64
	CountBack  int
}

// ResponseError is returned for non-200 responses.
type ResponseError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return "history api " + e.Path + " responded with status " + strconv.Itoa(e.StatusCode) + ": " + e.Body
}

type Config struct {
	ServerURL  string
	Timeout    *time.Duration
	RetryCount *int
}

type client struct {
	cli *resty.Client
}

func New(config Config) (Client, error) {
	parsed, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse server url")
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.Errorf("server url %q must be absolute", config.ServerURL)
	}

	cli := resty.New()
	cli.SetBaseURL(strings.TrimRight(parsed.String(), "/"))
	cli.SetTimeout(defaultAPITimeout)
	if config.Timeout != nil {
		cli.SetTimeout(*config.Timeout)
	}
	if config.RetryCount != nil {
		cli.SetRetryCount(*config.RetryCount)
	}
	cli.SetHeader(headers.Accept, "application/json")

	return &client{cli: cli}, nil
}

func (c *client) Config(ctx context.Context) (json.RawMessage, error) {
	var cfg json.RawMessage
	if err := c.get(ctx, uriPathConfig, nil, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *client) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	params := map[string]string{"query": query}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	var results []domain.SearchResult
	if err := c.get(ctx, uriPathSearch, params, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *client) ResolveSymbol(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	var info domain.SymbolInfo
	if err := c.get(ctx, uriPathSymbols, map[string]string{"symbol": symbol}, &info); err != nil {
		return domain.SymbolInfo{}, err
	}
	if info.Ticker == "" {
		info.Ticker = symbol
	}
	if len(info.SupportedResolutions) == 0 {
		info.SupportedResolutions = domain.GetAvailableResolutions()
	}
	return info, nil
}

func (c *client) History(ctx context.Context, req Request) (*domain.Chart, error) {
	params := map[string]string{
		"symbol":     req.Symbol,
		"resolution": string(req.Resolution),
		"from":       strconv.FormatInt(req.From, 10),
		"to":         strconv.FormatInt(req.To, 10),
	}
	if req.CountBack > 0 {
		params["countback"] = strconv.Itoa(req.CountBack)
	}
	chart := new(domain.Chart)
	if err := c.get(ctx, uriPathHistory, params, chart); err != nil {
		return nil, err
	}
	if chart.Status == domain.ChartStatusError {
		return nil, errors.Errorf("history for %s: %s", req.Symbol, chart.Message)
	}
	return chart, nil
}

func (c *client) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	resp, err := c.cli.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return errors.Wrap(err, "can't do GET request for "+path)
	}
	if resp.StatusCode() != http.StatusOK {
		return &ResponseError{Path: path, StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrap(err, "can't decode response of "+path)
	}
	return nil
}
