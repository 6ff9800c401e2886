package service

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/results"
	"github.com/disputeflow/verifier/internal/store"
)

// CancelService stops further processing of a document. Queued messages
// are deleted outright; a message already claimed by a worker is dropped
// when that worker re-checks the document, so cancellation never yanks
// work out from under a running stage.
type CancelService struct {
	store store.Store
	agg   *results.Aggregator
	log   *zap.SugaredLogger
}

func NewCancelService(s store.Store, agg *results.Aggregator) *CancelService {
	return &CancelService{
		store: s,
		agg:   agg,
		log:   zap.S().Named("cancel_service"),
	}
}

func (s *CancelService) Cancel(ctx context.Context, id uuid.UUID) (*api.StatusReply, error) {
	txCtx, err := s.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := s.store.Document().Get(txCtx, id)
	if err != nil {
		_, _ = store.Rollback(txCtx)
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrDocumentNotFound(id)
		}
		return nil, err
	}

	// Cancelling twice is a no-op; cancelling a finished document is an error.
	switch doc.Status {
	case string(api.DocumentStatusCancelled):
		_, _ = store.Rollback(txCtx)
		return statusReply(doc.ID, doc.Status, doc.CurrentStage), nil
	case string(api.DocumentStatusProcessing):
	default:
		_, _ = store.Rollback(txCtx)
		return nil, NewErrDocumentFinished(id, doc.Status)
	}

	doc, err = s.store.Document().MarkCancelled(txCtx, id, time.Now().UTC())
	if err != nil {
		_, _ = store.Rollback(txCtx)
		return nil, err
	}

	dropped, err := s.store.Queue().CancelQueued(txCtx, id)
	if err != nil {
		_, _ = store.Rollback(txCtx)
		return nil, err
	}

	if _, err := s.agg.Seal(txCtx, id, api.DocumentStatusCancelled); err != nil {
		_, _ = store.Rollback(txCtx)
		return nil, err
	}

	if _, err := store.Commit(txCtx); err != nil {
		return nil, err
	}

	if doc.StagingPath != "" {
		if err := os.Remove(doc.StagingPath); err != nil && !os.IsNotExist(err) {
			s.log.Warnw("failed to remove staging file", "path", doc.StagingPath, "error", err)
		}
	}

	s.log.Infow("document cancelled", "document_id", id, "dropped_messages", dropped)
	return statusReply(doc.ID, doc.Status, doc.CurrentStage), nil
}

func statusReply(id uuid.UUID, status, stage string) *api.StatusReply {
	return &api.StatusReply{
		DocumentID: id,
		Status:     api.DocumentStatus(status),
		Stage:      api.Stage(stage),
	}
}
