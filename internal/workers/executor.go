package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/config"
	"github.com/disputeflow/verifier/internal/events"
	"github.com/disputeflow/verifier/internal/pipeline"
	"github.com/disputeflow/verifier/internal/results"
	"github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
	"github.com/disputeflow/verifier/pkg/metrics"
)

// Executor is one worker: it claims queue messages, runs the matching
// stage handler and drives the message to its next state. All terminal
// transitions happen in one store transaction so a crash can never leave
// a stage half applied.
type Executor struct {
	id       string
	store    store.Store
	handlers *pipeline.Handlers
	agg      *results.Aggregator
	registry *Registry
	producer *events.EventProducer
	cfg      *config.Config
	log      *zap.SugaredLogger
}

func NewExecutor(id string, s store.Store, handlers *pipeline.Handlers, agg *results.Aggregator, registry *Registry, producer *events.EventProducer, cfg *config.Config) *Executor {
	return &Executor{
		id:       id,
		store:    s,
		handlers: handlers,
		agg:      agg,
		registry: registry,
		producer: producer,
		cfg:      cfg,
		log:      zap.S().Named("executor").With("worker_id", id),
	}
}

func (e *Executor) Run(ctx context.Context) error {
	e.registry.Register(e.id)
	defer e.registry.MarkStopped(e.id)

	poll := jitterbug.New(e.cfg.Queue.PollInterval, &jitterbug.Norm{Stdev: e.cfg.Queue.PollInterval / 5})
	defer poll.Stop()

	stages := e.handlers.Stages()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := e.store.Queue().ClaimNext(ctx, e.id, stages, time.Now().UTC())
		if err != nil {
			if errors.Is(err, store.ErrClaimConflict) {
				// lost the race but work exists, try again right away
				continue
			}
			if !errors.Is(err, store.ErrNoMessageAvailable) && !errors.Is(err, context.Canceled) {
				e.log.Errorw("failed to claim message", "error", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-poll.C:
			}
			continue
		}

		metrics.IncreaseQueueClaimsMetric(msg.Stage)
		e.process(ctx, msg)
	}
}

func (e *Executor) process(ctx context.Context, msg *model.QueueMessage) {
	doc, err := e.store.Document().Get(ctx, msg.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			e.log.Warnw("claimed message for missing document", "document_id", msg.DocumentID)
			_ = e.store.Queue().Ack(ctx, msg.ID)
			return
		}
		e.log.Errorw("failed to load document", "document_id", msg.DocumentID, "error", err)
		_ = e.store.Queue().Release(ctx, msg.ID)
		return
	}

	// cancellation is honored at claim boundaries
	if doc.Status == string(api.DocumentStatusCancelled) {
		e.log.Infow("dropping message for cancelled document", "document_id", msg.DocumentID, "stage", msg.Stage)
		_ = e.store.Queue().Ack(ctx, msg.ID)
		e.cleanupStaging(doc)
		return
	}

	handler, ok := e.handlers.For(msg.Stage)
	if !ok {
		e.deadLetter(ctx, msg, doc, "no handler registered for stage", fmt.Sprintf("unknown stage %q", msg.Stage), false)
		return
	}

	e.registry.MarkBusy(e.id, msg.DocumentID, msg.Stage)
	defer e.registry.MarkIdle(e.id)

	stopHeartbeat := e.startHeartbeat(ctx, msg)

	runCtx, cancel := context.WithTimeout(ctx, e.stageTimeout(msg))
	started := time.Now()
	res, runErr := runHandler(runCtx, handler, msg)
	cancel()
	stopHeartbeat()
	elapsed := time.Since(started)

	if runErr == nil {
		e.succeed(ctx, msg, doc, res, elapsed)
		return
	}
	e.fail(ctx, msg, doc, runErr, elapsed)
}

// runHandler shields the executor from panicking handlers: a panic
// becomes a fatal error for this message instead of taking the pool down.
func runHandler(ctx context.Context, h pipeline.Handler, msg *model.QueueMessage) (res *pipeline.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = pipeline.NewFatalError("handler panic: %v", r)
		}
	}()
	return h.Run(ctx, msg)
}

// startHeartbeat extends the claim while the handler runs so the
// supervisor's expiry sweep does not hand the message to another worker.
func (e *Executor) startHeartbeat(ctx context.Context, msg *model.QueueMessage) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		t := jitterbug.New(e.cfg.Queue.HeartbeatInterval, &jitterbug.Norm{Stdev: e.cfg.Queue.HeartbeatInterval / 10})
		defer t.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				until := time.Now().UTC().Add(e.cfg.Queue.VisibilityTimeout)
				if err := e.store.Queue().ExtendClaim(hbCtx, msg.ID, e.id, until); err != nil {
					e.log.Warnw("failed to extend claim", "message_id", msg.ID, "error", err)
				}
				e.registry.Heartbeat(e.id)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (e *Executor) stageTimeout(msg *model.QueueMessage) time.Duration {
	if msg.StageConfig != nil {
		if secs := msg.StageConfig.Data.TimeoutSeconds; secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return e.cfg.Queue.StageTimeout
}

func (e *Executor) succeed(ctx context.Context, msg *model.QueueMessage, doc *model.Document, res *pipeline.Result, elapsed time.Duration) {
	stage := api.Stage(msg.Stage)
	next, hasNext := stage.Next()

	txCtx, err := e.store.NewTransactionContext(ctx)
	if err != nil {
		e.log.Errorw("failed to open transaction", "error", err)
		_ = e.store.Queue().Release(ctx, msg.ID)
		return
	}

	abort := func(op string, err error) {
		e.log.Errorw("failed to apply stage transition", "op", op, "document_id", msg.DocumentID, "error", err)
		_, _ = store.Rollback(txCtx)
		_ = e.store.Queue().Release(ctx, msg.ID)
	}

	// a cancel may have landed while the handler ran; drop instead of
	// resurrecting the document
	fresh, err := e.store.Document().Get(txCtx, msg.DocumentID)
	if err != nil {
		abort("reload document", err)
		return
	}
	if fresh.Status == string(api.DocumentStatusCancelled) {
		_, _ = store.Rollback(txCtx)
		_ = e.store.Queue().Ack(ctx, msg.ID)
		e.cleanupStaging(doc)
		return
	}

	if err := e.agg.RecordStageResult(txCtx, msg.DocumentID, res); err != nil {
		abort("record result", err)
		return
	}

	var sealed *model.DocumentResult
	if hasNext {
		if _, err := e.store.Queue().Enqueue(txCtx, nextStageMessage(msg, next)); err != nil {
			abort("enqueue next stage", err)
			return
		}
		nextStr := string(next)
		if err := e.store.Document().UpdateStatus(txCtx, msg.DocumentID, string(api.DocumentStatusProcessing), &nextStr); err != nil {
			abort("advance document", err)
			return
		}
	} else {
		row, err := e.agg.Seal(txCtx, msg.DocumentID, api.DocumentStatusCompleted)
		if err != nil {
			abort("seal results", err)
			return
		}
		sealed = row
		if err := e.store.Document().UpdateStatus(txCtx, msg.DocumentID, string(api.DocumentStatusCompleted), nil); err != nil {
			abort("complete document", err)
			return
		}
	}

	if err := e.store.Queue().Ack(txCtx, msg.ID); err != nil {
		abort("ack message", err)
		return
	}

	if _, err := store.Commit(txCtx); err != nil {
		e.log.Errorw("failed to commit stage transition", "document_id", msg.DocumentID, "error", err)
		_ = e.store.Queue().Release(ctx, msg.ID)
		return
	}

	metrics.IncreaseStageProcessedMetric(msg.Stage, "success")
	metrics.ObserveStageDurationMetric(msg.Stage, elapsed)
	e.registry.RecordSuccess(e.id, msg.Stage, elapsed)

	e.emit(events.StageCompletedKind, events.StageCompletedEvent{
		DocumentID: msg.DocumentID,
		Stage:      msg.Stage,
		WorkerID:   e.id,
		DurationMs: elapsed.Milliseconds(),
	})

	if !hasNext {
		e.emitSealed(sealed)
		e.cleanupStaging(doc)
	}
}

func (e *Executor) fail(ctx context.Context, msg *model.QueueMessage, doc *model.Document, runErr error, elapsed time.Duration) {
	retryable := pipeline.Retryable(runErr)

	metrics.IncreaseStageProcessedMetric(msg.Stage, "failure")
	metrics.ObserveStageDurationMetric(msg.Stage, elapsed)
	e.registry.RecordFailure(e.id)

	if retryable && msg.RetryCount < msg.MaxRetries {
		delay := backoffDelay(e.cfg.Queue.RetryBackoffBase, e.cfg.Queue.RetryBackoffMax, msg.RetryCount)
		e.log.Infow("stage failed, scheduling retry",
			"document_id", msg.DocumentID, "stage", msg.Stage,
			"retry_count", msg.RetryCount, "delay", delay, "error", runErr)

		if _, err := e.store.Queue().RetryWithDelay(ctx, msg.ID, delay, runErr.Error()); err != nil {
			e.log.Errorw("failed to schedule retry", "message_id", msg.ID, "error", err)
			_ = e.store.Queue().Release(ctx, msg.ID)
		}

		e.emit(events.StageFailedKind, events.StageFailedEvent{
			DocumentID: msg.DocumentID,
			Stage:      msg.Stage,
			WorkerID:   e.id,
			Error:      runErr.Error(),
			RetryCount: msg.RetryCount,
			WillRetry:  true,
		})
		return
	}

	reason := "permanent failure"
	if retryable {
		reason = "retries exhausted"
	}

	e.emit(events.StageFailedKind, events.StageFailedEvent{
		DocumentID: msg.DocumentID,
		Stage:      msg.Stage,
		WorkerID:   e.id,
		Error:      runErr.Error(),
		RetryCount: msg.RetryCount,
		WillRetry:  false,
	})

	e.deadLetter(ctx, msg, doc, reason, runErr.Error(), retryable)
}

// deadLetter moves an unprocessable message aside, seals whatever results
// exist and marks the document, all in one transaction.
func (e *Executor) deadLetter(ctx context.Context, msg *model.QueueMessage, doc *model.Document, reason string, lastErr string, canRetry bool) {
	txCtx, err := e.store.NewTransactionContext(ctx)
	if err != nil {
		e.log.Errorw("failed to open transaction", "error", err)
		_ = e.store.Queue().Release(ctx, msg.ID)
		return
	}

	abort := func(op string, err error) {
		e.log.Errorw("failed to dead letter message", "op", op, "message_id", msg.ID, "error", err)
		_, _ = store.Rollback(txCtx)
		_ = e.store.Queue().Release(ctx, msg.ID)
	}

	fresh, err := e.store.Document().Get(txCtx, msg.DocumentID)
	if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		abort("reload document", err)
		return
	}
	if fresh != nil && fresh.Status == string(api.DocumentStatusCancelled) {
		_, _ = store.Rollback(txCtx)
		_ = e.store.Queue().Ack(ctx, msg.ID)
		e.cleanupStaging(doc)
		return
	}

	if _, err := e.store.DeadLetter().Push(txCtx, msg, reason, lastErr, canRetry); err != nil {
		abort("push entry", err)
		return
	}

	row, err := e.agg.SealFailure(txCtx, msg.DocumentID)
	if err != nil {
		abort("seal results", err)
		return
	}

	if fresh != nil {
		if err := e.store.Document().UpdateStatus(txCtx, msg.DocumentID, row.ProcessingStatus, nil); err != nil {
			abort("mark document", err)
			return
		}
	}

	if _, err := store.Commit(txCtx); err != nil {
		e.log.Errorw("failed to commit dead letter", "message_id", msg.ID, "error", err)
		_ = e.store.Queue().Release(ctx, msg.ID)
		return
	}

	metrics.IncreaseDeadLettersMetric(msg.Stage)
	e.log.Warnw("message dead lettered",
		"document_id", msg.DocumentID, "stage", msg.Stage,
		"reason", reason, "can_retry", canRetry)

	e.emit(events.DocumentDeadLetteredKind, events.DocumentDeadLetteredEvent{
		DocumentID: msg.DocumentID,
		Stage:      msg.Stage,
		Reason:     reason,
		CanRetry:   canRetry,
	})
	e.emitSealed(row)
	e.cleanupStaging(doc)
}

// cleanupStaging removes the local staging copy once the document reached
// a terminal state. Best effort: the staging dir is disposable.
func (e *Executor) cleanupStaging(doc *model.Document) {
	if doc == nil || doc.StagingPath == "" {
		return
	}
	if err := os.Remove(doc.StagingPath); err != nil && !os.IsNotExist(err) {
		e.log.Warnw("failed to remove staging file", "path", doc.StagingPath, "error", err)
	}
}

func (e *Executor) emit(kind string, payload any) {
	if e.producer == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := e.producer.Write(context.TODO(), kind, bytes.NewReader(data)); err != nil {
		e.log.Errorw("failed to write event", "error", err, "event_kind", kind)
	}
}

func (e *Executor) emitSealed(row *model.DocumentResult) {
	if row == nil || row.Final == nil {
		return
	}
	e.emit(events.ResultsSealedKind, events.ResultsSealedEvent{
		DocumentID:     row.DocumentID,
		Status:         row.ProcessingStatus,
		OverallScore:   row.Final.Data.OverallScore,
		Recommendation: string(row.Final.Data.Recommendation),
		RiskLevel:      string(row.Final.Data.RiskLevel),
	})
}

// nextStageMessage carries the document to its next stage with a fresh
// retry budget; identity and stage options travel with it.
func nextStageMessage(msg *model.QueueMessage, next api.Stage) model.QueueMessage {
	return model.QueueMessage{
		DocumentID:       msg.DocumentID,
		Stage:            string(next),
		Priority:         msg.Priority,
		UserID:           msg.UserID,
		TransactionID:    msg.TransactionID,
		DisputeID:        msg.DisputeID,
		OriginalFileName: msg.OriginalFileName,
		FileSize:         msg.FileSize,
		ContentType:      msg.ContentType,
		MaxRetries:       msg.MaxRetries,
		StageConfig:      msg.StageConfig,
	}
}

// backoffDelay doubles per attempt from base, capped at max.
func backoffDelay(base, max time.Duration, retryCount int) time.Duration {
	if retryCount > 30 {
		return max
	}
	d := base << uint(retryCount)
	if d <= 0 || d > max {
		return max
	}
	return d
}
