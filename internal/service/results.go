package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/service/mappers"
	"github.com/disputeflow/verifier/internal/store"
)

type ResultsService struct {
	store store.Store
}

func NewResultsService(s store.Store) *ResultsService {
	return &ResultsService{store: s}
}

// GetResults returns whatever the pipeline has produced so far. Before
// the first stage lands there is no results row yet; callers get the
// document status with empty sections instead of a 404.
func (s *ResultsService) GetResults(ctx context.Context, id uuid.UUID) (*api.DocumentResults, error) {
	doc, err := s.store.Document().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrDocumentNotFound(id)
		}
		return nil, err
	}

	row, err := s.store.Results().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return &api.DocumentResults{
				DocumentID:       doc.ID,
				ProcessingStatus: api.DocumentStatus(doc.Status),
				UpdatedAt:        doc.SubmittedAt,
			}, nil
		}
		return nil, err
	}

	results := mappers.ResultsToApi(row)
	return &results, nil
}
