package feed

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-http-utils/headers"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Connector opens the upstream tick stream.
type Connector interface {
	Connect(ctx context.Context) (io.ReadCloser, error)
}

type Config struct {
	StreamURL string
	// DialTimeout bounds establishing the connection only; the stream itself
	// has no deadline.
	DialTimeout *time.Duration
	UserAgent   *string
}

type client struct {
	cli       *resty.Client
	streamURL string
}

func New(config Config) (Connector, error) {
	parsed, err := url.Parse(config.StreamURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse stream url")
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.Errorf("stream url %q must be absolute", config.StreamURL)
	}

	cli := resty.New()
	cli.SetHeader(headers.Accept, "application/x-ndjson, application/json, text/plain")
	if config.UserAgent != nil {
		cli.SetHeader(headers.UserAgent, *config.UserAgent)
	}
	if config.DialTimeout != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = *config.DialTimeout
		transport.TLSHandshakeTimeout = *config.DialTimeout
		cli.SetTransport(transport)
	}

	return &client{cli: cli, streamURL: parsed.String()}, nil
}

// Connect issues the streaming GET and hands over the raw body. The caller
// owns the body and must close it.
func (c *client) Connect(ctx context.Context) (io.ReadCloser, error) {
	resp, err := c.cli.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(c.streamURL)
	if err != nil {
		return nil, errors.Wrap(err, "can't do GET request for "+c.streamURL)
	}

	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		if body != nil {
			_ = body.Close()
		}
		return nil, errors.Errorf("stream %s responded with status %d", c.streamURL, resp.StatusCode())
	}
	if body == nil {
		return nil, errors.Errorf("stream %s responded without body", c.streamURL)
	}

	return body, nil
}
