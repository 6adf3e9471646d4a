package infra

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"bitbucket.org/novatechnologies/datafeed/infra/logger"
)

type FeedConfig struct {
	StreamURL      string        `envconfig:"FEED_STREAM_URL" default:"https://benchmarks.pyth.network/v1/shims/tradingview/streaming"`
	HistoryURL     string        `envconfig:"FEED_HISTORY_URL" default:"https://benchmarks.pyth.network/v1/shims/tradingview"`
	Retries        int           `envconfig:"FEED_RETRIES" default:"3"`
	RetryDelay     time.Duration `envconfig:"FEED_RETRY_DELAY" default:"3s"`
	ReadBufferSize int           `envconfig:"FEED_READ_BUFFER_SIZE" default:"32768"`
	DialTimeout    time.Duration `envconfig:"FEED_DIAL_TIMEOUT" default:"10s"`
	HistoryTimeout time.Duration `envconfig:"FEED_HISTORY_TIMEOUT" default:"10s"`
	HistoryRetries int           `envconfig:"FEED_HISTORY_RETRIES" default:"2"`
	// Instruments published to Centrifugo from the start.
	Watch           []string `envconfig:"FEED_WATCH"`
	WatchResolution string   `envconfig:"FEED_WATCH_RESOLUTION" default:"1D"`
}

type CentrifugeConfig struct {
	Host        string        `envconfig:"CENTRIFUGE_HOST" default:"localhost:8000"`
	Token       string        `envconfig:"CENTRIFUGE_API_KEY"`
	TokenSecret string        `envconfig:"CENTRIFUGE_TOKEN_SECRET"`
	TokenTTL    time.Duration `envconfig:"CENTRIFUGE_TOKEN_TTL" default:"1h"`
}

type HttpConfig struct {
	Port int `envconfig:"HTTP_PORT" default:"8082"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"text"`
}

type Config struct {
	FeedConfig       FeedConfig
	CentrifugeConfig CentrifugeConfig
	HttpConfig       HttpConfig
	LogConfig        LogConfig
}

// LoadConfig reads the optional dotenv file at configPath and then the
// process environment.
func LoadConfig(configPath string) (Config, error) {
	var cfg Config

	if configPath != "" {
		if err := godotenv.Load(configPath); err != nil && !os.IsNotExist(err) {
			return cfg, errors.Wrapf(err, "can't load %s", configPath)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to load configuration")
	}
	if cfg.FeedConfig.Retries < 0 {
		return cfg, errors.Errorf("FEED_RETRIES must not be negative, got %d", cfg.FeedConfig.Retries)
	}

	return cfg, nil
}

func SetConfig(configPath string) Config {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		panic(err)
	}

	redacted := cfg
	redacted.CentrifugeConfig.Token = ""
	redacted.CentrifugeConfig.TokenSecret = ""
	bs, _ := json.Marshal(redacted)
	logger.DefaultLogger.Infof("CONFIG: %s", string(bs))

	return cfg
}

func GetContext() context.Context {
	return context.Background()
}
