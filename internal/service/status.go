package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/service/mappers"
	"github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
	"github.com/disputeflow/verifier/internal/workers"
)

// StatusService answers document status and queue statistics queries.
// Estimates lean on the worker registry's per-stage rolling averages;
// when no stage has completed yet there is simply no estimate.
type StatusService struct {
	store    store.Store
	registry *workers.Registry
}

func NewStatusService(s store.Store, registry *workers.Registry) *StatusService {
	return &StatusService{store: s, registry: registry}
}

func (s *StatusService) GetStatus(ctx context.Context, id uuid.UUID) (*api.StatusReply, error) {
	doc, err := s.store.Document().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrDocumentNotFound(id)
		}
		return nil, err
	}

	reply := &api.StatusReply{
		DocumentID: doc.ID,
		Status:     api.DocumentStatus(doc.Status),
		Stage:      api.Stage(doc.CurrentStage),
	}

	if doc.Status != string(api.DocumentStatusProcessing) {
		return reply, nil
	}

	msgs, err := s.store.Queue().List(ctx,
		store.NewQueueQueryFilter().ByDocumentID(id.String()),
		store.NewQueueQueryOptions().WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return reply, nil
	}

	msg := msgs[0]
	if msg.LastError != nil {
		reply.LastError = *msg.LastError
	}
	if msg.Status != model.MessageStatusQueued {
		return reply, nil
	}

	ahead, err := s.store.Queue().PositionAhead(ctx, &msg)
	if err != nil {
		return nil, err
	}
	position := ahead + 1
	reply.QueuePosition = &position

	if avg, ok := s.registry.StageAverage(doc.CurrentStage); ok {
		eta := time.Now().UTC().Add(time.Duration(position) * avg)
		reply.EstimatedCompletion = &eta
	}

	return reply, nil
}

func (s *StatusService) QueueStats(ctx context.Context) (*api.QueueStatsReply, error) {
	stats, err := s.store.Queue().Stats(ctx)
	if err != nil {
		return nil, err
	}

	reply := mappers.QueueStatsToApi(stats)
	return &reply, nil
}
