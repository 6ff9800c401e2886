package workers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/disputeflow/verifier/internal/config"
	"github.com/disputeflow/verifier/internal/events"
	"github.com/disputeflow/verifier/internal/pipeline"
	"github.com/disputeflow/verifier/internal/results"
	"github.com/disputeflow/verifier/internal/store"
)

// Pool runs the configured number of executors plus one supervisor and
// tears them down together.
type Pool struct {
	cfg      *config.Config
	store    store.Store
	handlers *pipeline.Handlers
	agg      *results.Aggregator
	producer *events.EventProducer
	registry *Registry

	cancel context.CancelFunc
	group  *errgroup.Group
	log    *zap.SugaredLogger
}

func NewPool(cfg *config.Config, s store.Store, handlers *pipeline.Handlers, agg *results.Aggregator, producer *events.EventProducer) *Pool {
	return &Pool{
		cfg:      cfg,
		store:    s,
		handlers: handlers,
		agg:      agg,
		producer: producer,
		registry: NewRegistry(),
		log:      zap.S().Named("worker_pool"),
	}
}

// Registry exposes worker state for status queries and the supervisor.
func (p *Pool) Registry() *Registry {
	return p.registry
}

func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	p.group = g

	for i := 0; i < p.cfg.Queue.WorkerCount; i++ {
		executor := NewExecutor(
			fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8]),
			p.store, p.handlers, p.agg, p.registry, p.producer, p.cfg,
		)
		g.Go(func() error {
			return executor.Run(gctx)
		})
	}

	supervisor := NewSupervisor(p.store, p.registry, p.cfg)
	g.Go(func() error {
		return supervisor.Run(gctx)
	})

	p.log.Infof("worker pool started with %d executors", p.cfg.Queue.WorkerCount)
}

// Stop cancels every worker and waits for them to drain. Safe to call
// before Start.
func (p *Pool) Stop() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	err := p.group.Wait()
	p.log.Info("worker pool stopped")
	return err
}
