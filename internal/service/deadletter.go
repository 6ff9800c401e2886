package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/service/mappers"
	"github.com/disputeflow/verifier/internal/store"
)

// DeadLetterService is the operator surface over the dead letter queue:
// inspect what failed, push retryable entries back into the pipeline,
// discard the rest.
type DeadLetterService struct {
	store store.Store
	log   *zap.SugaredLogger
}

func NewDeadLetterService(s store.Store) *DeadLetterService {
	return &DeadLetterService{
		store: s,
		log:   zap.S().Named("deadletter_service"),
	}
}

type DeadLetterFilter struct {
	Stage         string
	DocumentID    string
	OnlyPending   bool
	OnlyRetryable bool
	Limit         int
	Offset        int
}

func (s *DeadLetterService) List(ctx context.Context, filter DeadLetterFilter) ([]api.DeadLetterReply, error) {
	storeFilter := store.NewDeadLetterQueryFilter()
	if filter.Stage != "" {
		storeFilter = storeFilter.ByStage(filter.Stage)
	}
	if filter.DocumentID != "" {
		storeFilter = storeFilter.ByDocumentID(filter.DocumentID)
	}
	if filter.OnlyPending {
		storeFilter = storeFilter.OnlyPending()
	}
	if filter.OnlyRetryable {
		storeFilter = storeFilter.OnlyRetryable()
	}

	opts := store.NewDeadLetterQueryOptions().WithSortOrder(store.SortByFailedTime)
	if filter.Limit > 0 {
		opts = opts.WithLimit(filter.Limit)
	}
	if filter.Offset > 0 {
		opts = opts.WithOffset(filter.Offset)
	}

	entries, err := s.store.DeadLetter().List(ctx, storeFilter, opts)
	if err != nil {
		return nil, err
	}

	return mappers.DeadLettersToApi(entries), nil
}

// Requeue puts a dead-lettered message back on the queue with a fresh
// retry budget and flips its document back to processing at the failed
// stage. Only entries marked retryable are eligible.
func (s *DeadLetterService) Requeue(ctx context.Context, id uuid.UUID, operator string) (*api.DeadLetterReply, error) {
	txCtx, err := s.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := s.store.DeadLetter().Get(txCtx, id)
	if err != nil {
		_, _ = store.Rollback(txCtx)
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrDeadLetterNotFound(id)
		}
		return nil, err
	}
	if entry.RequeuedAt != nil {
		_, _ = store.Rollback(txCtx)
		return nil, NewErrDeadLetterAlreadyRequeued(id)
	}
	if !entry.CanRetry {
		_, _ = store.Rollback(txCtx)
		return nil, NewErrDeadLetterNotRetryable(id)
	}

	msg, err := s.store.DeadLetter().Requeue(txCtx, id, operator)
	if err != nil {
		_, _ = store.Rollback(txCtx)
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, NewErrDeadLetterAlreadyRequeued(id)
		}
		return nil, err
	}

	stage := msg.Stage
	if err := s.store.Document().UpdateStatus(txCtx, entry.DocumentID, string(api.DocumentStatusProcessing), &stage); err != nil {
		_, _ = store.Rollback(txCtx)
		return nil, err
	}

	// The dead-letter transition sealed the results row; reopen it so the
	// resumed pipeline can record sections and seal again.
	if err := s.store.Results().Reopen(txCtx, entry.DocumentID); err != nil {
		_, _ = store.Rollback(txCtx)
		return nil, err
	}

	if _, err := store.Commit(txCtx); err != nil {
		return nil, err
	}

	s.log.Infow("dead letter requeued",
		"entry_id", id,
		"document_id", entry.DocumentID,
		"stage", stage,
		"requeued_by", operator,
	)

	fresh, err := s.store.DeadLetter().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	reply := mappers.DeadLetterToApi(*fresh)
	return &reply, nil
}

func (s *DeadLetterService) Discard(ctx context.Context, id uuid.UUID) error {
	if _, err := s.store.DeadLetter().Get(ctx, id); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrDeadLetterNotFound(id)
		}
		return err
	}

	if err := s.store.DeadLetter().Delete(ctx, id); err != nil {
		return err
	}

	s.log.Infow("dead letter discarded", "entry_id", id)
	return nil
}
