package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/disputeflow/verifier/internal/config"
	handlers "github.com/disputeflow/verifier/internal/handlers/v1"
	"github.com/disputeflow/verifier/internal/events"
	"github.com/disputeflow/verifier/internal/ratelimit"
	"github.com/disputeflow/verifier/internal/results"
	"github.com/disputeflow/verifier/internal/service"
	"github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/workers"
	"github.com/disputeflow/verifier/pkg/metrics"
	"github.com/disputeflow/verifier/pkg/middleware"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg      *config.Config
	store    store.Store
	listener net.Listener

	limiter    *ratelimit.Limiter
	producer   *events.EventProducer
	aggregator *results.Aggregator
	registry   *workers.Registry
}

// New returns a new instance of the verifier API server.
func New(
	cfg *config.Config,
	store store.Store,
	listener net.Listener,
	limiter *ratelimit.Limiter,
	producer *events.EventProducer,
	aggregator *results.Aggregator,
	registry *workers.Registry,
) *Server {
	return &Server{
		cfg:        cfg,
		store:      store,
		listener:   listener,
		limiter:    limiter,
		producer:   producer,
		aggregator: aggregator,
		registry:   registry,
	}
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	metricMiddleware.MustRegisterDefault()

	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "PUT", "POST", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	router.Get("/healthz", healthHandler)
	router.Handle("/metrics", promhttp.Handler())

	h := handlers.NewHandler(
		service.NewSubmissionService(s.store, s.limiter, s.producer, s.cfg),
		service.NewStatusService(s.store, s.registry),
		service.NewResultsService(s.store),
		service.NewCancelService(s.store, s.aggregator),
		service.NewDeadLetterService(s.store),
		service.NewExportService(s.store),
	)
	h.Routes(router)

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: router}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
