package workers

import (
	"context"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/disputeflow/verifier/internal/config"
	"github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/pkg/metrics"
)

// Supervisor periodically recovers work lost to dead workers: expired
// claims go back to the queue and silent busy workers are flagged.
type Supervisor struct {
	store    store.Store
	registry *Registry
	cfg      *config.Config
	log      *zap.SugaredLogger
}

func NewSupervisor(s store.Store, registry *Registry, cfg *config.Config) *Supervisor {
	return &Supervisor{
		store:    s,
		registry: registry,
		cfg:      cfg,
		log:      zap.S().Named("supervisor"),
	}
}

func (s *Supervisor) Run(ctx context.Context) error {
	t := jitterbug.New(s.cfg.Queue.ReconcileInterval, &jitterbug.Norm{Stdev: s.cfg.Queue.ReconcileInterval / 10})
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Supervisor) sweep(ctx context.Context) {
	now := time.Now().UTC()

	released, err := s.store.Queue().ReleaseExpired(ctx, now)
	if err != nil {
		s.log.Errorw("failed to release expired claims", "error", err)
	} else if released > 0 {
		s.log.Infow("released expired claims", "count", released)
	}

	stalled := s.registry.MarkStalled(now.Add(-s.cfg.Queue.StallTimeout))
	for _, id := range stalled {
		s.log.Warnw("worker heartbeat stalled", "worker_id", id, "stall_timeout", s.cfg.Queue.StallTimeout)
	}

	for state, count := range s.registry.StateCounts() {
		metrics.UpdateWorkerStateCountMetric(state, count)
	}
}
