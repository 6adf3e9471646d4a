package http

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bitbucket.org/novatechnologies/datafeed/api/http/handler"
	"bitbucket.org/novatechnologies/datafeed/infra"
	"bitbucket.org/novatechnologies/datafeed/infra/logger"
)

type Server struct {
	srv http.Server
}

func NewRouter(datafeedHandler *handler.DatafeedHandler, gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()
	datafeedHandler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return router
}

func NewServer(datafeedHandler *handler.DatafeedHandler, gatherer prometheus.Gatherer, conf infra.HttpConfig) *Server {
	return &Server{
		srv: http.Server{
			Addr:    fmt.Sprintf(":%d", conf.Port),
			Handler: NewRouter(datafeedHandler, gatherer),
		},
	}
}

// Start serves in the background. Requests inherit ctx, including its logger.
func (s *Server) Start(ctx context.Context) {
	s.srv.BaseContext = func(listener net.Listener) context.Context {
		return ctx
	}
	go func() {
		logger.FromContext(ctx).Infof("[*] Http server is started on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FromContext(ctx).WithError(err).Errorf("[Server.Start] Http server failed.")
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("[Server.Stop] Shutdown failed.")
	}
}
