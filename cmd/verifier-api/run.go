package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/disputeflow/verifier/internal/aiclient"
	apiserver "github.com/disputeflow/verifier/internal/api_server"
	"github.com/disputeflow/verifier/internal/config"
	"github.com/disputeflow/verifier/internal/events"
	"github.com/disputeflow/verifier/internal/objstore"
	"github.com/disputeflow/verifier/internal/ocrclient"
	"github.com/disputeflow/verifier/internal/pipeline"
	"github.com/disputeflow/verifier/internal/ratelimit"
	"github.com/disputeflow/verifier/internal/results"
	"github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/util"
	"github.com/disputeflow/verifier/internal/workers"
	"github.com/disputeflow/verifier/pkg/log"
	"github.com/disputeflow/verifier/pkg/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the verifier api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		logLvl, err := zap.ParseAtomicLevel(cfg.Service.LogLevel)
		if err != nil {
			logLvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}

		logger := log.InitLog(logLvl)
		defer func() { _ = logger.Sync() }()

		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("starting api service")
		defer zap.S().Info("api service stopped")

		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalw("initializing data store", "error", err)
		}

		s := store.NewStore(db, cfg.Queue.VisibilityTimeout)
		defer s.Close()

		if err := s.InitialMigration(context.Background()); err != nil {
			zap.S().Fatalw("running initial migration", "error", err)
		}

		if util.GetEnv("VERIFIER_SEED_DEV_DATA", "false") == "true" {
			if err := s.Seed(); err != nil {
				zap.S().Fatalw("seeding development data", "error", err)
			}
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		writer, err := newEventWriter(cfg)
		if err != nil {
			zap.S().Fatalw("creating event writer", "error", err)
		}
		producer := events.NewEventProducer(writer, events.WithOutputTopic(cfg.Service.Kafka.Topic))
		defer func() { _ = producer.Close() }()

		objects, err := newObjectStore(cfg)
		if err != nil {
			zap.S().Fatalw("creating object store", "error", err)
		}

		limiter := newLimiter(cfg, s)

		aggregator := results.NewAggregator(s, results.ScoringPolicy{
			OCRWeight:          cfg.Scoring.OCRWeight,
			ComparisonWeight:   cfg.Scoring.ComparisonWeight,
			AuthenticityWeight: cfg.Scoring.AuthenticityWeight,
			RejectBelow:        cfg.Scoring.RejectBelow,
			ApproveAt:          cfg.Scoring.ApproveAt,
		})

		handlers := pipeline.NewHandlers(
			pipeline.NewValidationHandler(s),
			pipeline.NewUploadHandler(s, objects, cfg.ObjectStore.SignedURLTTL),
			pipeline.NewOCRHandler(s, objects, ocrclient.NewClient(ocrclient.Config{
				Endpoint: cfg.OCR.Endpoint,
				APIKey:   cfg.OCR.APIKey,
				Preset:   cfg.OCR.Preset,
				Timeout:  cfg.OCR.Timeout,
			})),
			pipeline.NewComparisonHandler(s),
			pipeline.NewAIHandler(s, aiclient.NewClient(aiclient.Config{
				Endpoint: cfg.AI.Endpoint,
				APIKey:   cfg.AI.APIKey,
				Model:    cfg.AI.Model,
				Timeout:  cfg.AI.Timeout,
			})),
		)

		pool := workers.NewPool(cfg, s, handlers, aggregator, producer)
		pool.Start(ctx)
		defer func() { _ = pool.Stop() }()

		metrics.RegisterQueueStatsCollector(s)

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				zap.S().Fatalw("creating listener", "error", err)
			}

			server := apiserver.New(cfg, s, listener, limiter, producer, aggregator, pool.Registry())
			if err := server.Run(ctx); err != nil {
				zap.S().Fatalw("running api server", "error", err)
			}
		}()

		if cfg.Service.MetricsAddress != "" {
			go func() {
				defer cancel()
				listener, err := newListener(cfg.Service.MetricsAddress)
				if err != nil {
					zap.S().Fatalw("creating metrics listener", "error", err)
				}

				metricServer := apiserver.NewMetricServer(cfg.Service.MetricsAddress, listener)
				if err := metricServer.Run(ctx); err != nil {
					zap.S().Fatalw("running metrics server", "error", err)
				}
			}()
		}

		<-ctx.Done()
		return nil
	},
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}

// newEventWriter picks kafka when brokers are configured, stdout otherwise.
func newEventWriter(cfg *config.Config) (events.Writer, error) {
	if len(cfg.Service.Kafka.Brokers) > 0 {
		return events.NewKafkaWriter(cfg.Service.Kafka.Brokers, cfg.Service.Kafka.ClientID)
	}
	zap.S().Warn("no kafka brokers configured, events go to stdout")
	return &events.StdoutWriter{}, nil
}

// newObjectStore picks minio when credentials are configured. The memory
// store keeps single-node development working without an S3 endpoint.
func newObjectStore(cfg *config.Config) (objstore.Store, error) {
	if cfg.ObjectStore.AccessKey == "" {
		zap.S().Warn("no object store credentials configured, documents stay in memory")
		return objstore.NewMemoryStore(cfg.ObjectStore.Bucket), nil
	}

	return objstore.NewMinioStore(
		objstore.WithEndpoint(cfg.ObjectStore.Endpoint),
		objstore.WithBucket(cfg.ObjectStore.Bucket),
		objstore.WithAccessKey(cfg.ObjectStore.AccessKey),
		objstore.WithSecretKey(cfg.ObjectStore.SecretKey),
		objstore.WithSSL(cfg.ObjectStore.UseSSL),
	)
}

func newLimiter(cfg *config.Config, s store.Store) *ratelimit.Limiter {
	var counters ratelimit.CounterStore
	if cfg.RateLimit.Backend == "redis" {
		counters = ratelimit.NewRedisCounterStore(redis.NewClient(&redis.Options{
			Addr: cfg.RateLimit.RedisAddr,
			DB:   cfg.RateLimit.RedisDB,
		}))
	} else {
		counters = ratelimit.NewMemoryCounterStore(ratelimit.WithCleanupEvery(cfg.RateLimit.JanitorTTL))
	}

	limits := ratelimit.Limits{
		PerMinute: cfg.RateLimit.PerMinute,
		PerHour:   cfg.RateLimit.PerHour,
		PerDay:    cfg.RateLimit.PerDay,
	}

	return ratelimit.New(s.ApiKey(), counters, limits,
		ratelimit.WithBurst(cfg.RateLimit.BurstRPS, cfg.RateLimit.BurstSize))
}
