package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"bitbucket.org/novatechnologies/datafeed/api/http"
	"bitbucket.org/novatechnologies/datafeed/api/http/handler"
	"bitbucket.org/novatechnologies/datafeed/candle"
	"bitbucket.org/novatechnologies/datafeed/client/feed"
	"bitbucket.org/novatechnologies/datafeed/client/history"
	"bitbucket.org/novatechnologies/datafeed/datafeed"
	"bitbucket.org/novatechnologies/datafeed/domain"
	"bitbucket.org/novatechnologies/datafeed/infra"
	"bitbucket.org/novatechnologies/datafeed/infra/broker"
	"bitbucket.org/novatechnologies/datafeed/infra/centrifuge"
	"bitbucket.org/novatechnologies/datafeed/infra/logger"
	"bitbucket.org/novatechnologies/datafeed/infra/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	conf := infra.SetConfig("./config/.env")
	logger.Configure(conf.LogConfig.Level, conf.LogConfig.Format)

	ctx, stop := signal.NotifyContext(infra.GetContext(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.ToContext(ctx, logger.DefaultLogger.WithField("service", "datafeed"))
	log := logger.FromContext(ctx)

	metrics.InitMetrics(prometheus.DefaultRegisterer)

	eventsBroker := broker.NewInMemory(ctx).WithLogger(log)

	registry := candle.NewRegistry()
	registry.SubscribeForStreamState(eventsBroker)

	connector, err := feed.New(feed.Config{
		StreamURL:   conf.FeedConfig.StreamURL,
		DialTimeout: pointer.ToDuration(conf.FeedConfig.DialTimeout),
		UserAgent:   pointer.ToString("datafeed/1.0"),
	})
	if err != nil {
		log.WithError(err).Fatal("can't feed.New")
	}
	supervisor := feed.NewSupervisor(connector, registry, feed.SupervisorConfig{
		Retries:        conf.FeedConfig.Retries,
		RetryDelay:     conf.FeedConfig.RetryDelay,
		ReadBufferSize: conf.FeedConfig.ReadBufferSize,
	}).WithEventsBroker(eventsBroker)

	historyClient, err := history.New(history.Config{
		ServerURL:  conf.FeedConfig.HistoryURL,
		Timeout:    pointer.ToDuration(conf.FeedConfig.HistoryTimeout),
		RetryCount: pointer.ToInt(conf.FeedConfig.HistoryRetries),
	})
	if err != nil {
		log.WithError(err).Fatal("can't history.New")
	}

	df := datafeed.New(ctx, historyClient, registry, supervisor)

	broadcaster := centrifuge.NewBroadcaster(centrifuge.New(conf.CentrifugeConfig), df, eventsBroker)
	broadcaster.SubscribeForBars()
	for _, instrument := range conf.FeedConfig.Watch {
		if _, _, err := broadcaster.Watch(ctx, instrument, domain.Resolution(conf.FeedConfig.WatchResolution)); err != nil {
			log.WithError(err).Fatalf("can't watch %s", instrument)
		}
	}

	issuer := func(user string) (string, error) {
		return centrifuge.ConnectionToken(
			conf.CentrifugeConfig.TokenSecret, user, conf.CentrifugeConfig.TokenTTL, time.Now(),
		)
	}
	server := http.NewServer(
		handler.NewDatafeedHandler(df, broadcaster, issuer),
		prometheus.DefaultGatherer,
		conf.HttpConfig,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		server.Start(groupCtx)
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(logger.ToContext(context.Background(), log), shutdownTimeout)
		defer cancel()
		server.Stop(shutdownCtx)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		broadcaster.Close(context.Background())
		df.Close()
		return nil
	})

	if err := group.Wait(); err != nil {
		log.WithError(err).Error("shutdown with error")
	}
	log.Info("stopped")
}
