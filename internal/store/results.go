package store

import (
	"context"
	"errors"
	"time"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/store/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Results interface {
	InitialMigration(ctx context.Context) error
	Get(ctx context.Context, documentID uuid.UUID) (*model.DocumentResult, error)
	List(ctx context.Context, filter *ResultsQueryFilter, opts *ResultsQueryOptions) (model.DocumentResultList, error)
	SetValidation(ctx context.Context, documentID uuid.UUID, v api.ValidationSummary) error
	SetUpload(ctx context.Context, documentID uuid.UUID, v api.UploadSummary) error
	SetOCR(ctx context.Context, documentID uuid.UUID, v api.OCRSummary) error
	SetComparison(ctx context.Context, documentID uuid.UUID, v api.ComparisonSummary) error
	SetAuthenticity(ctx context.Context, documentID uuid.UUID, v api.AuthenticityReport) error
	Seal(ctx context.Context, documentID uuid.UUID, final api.FinalAssessment, status string) (*model.DocumentResult, error)
	Reopen(ctx context.Context, documentID uuid.UUID) error
}

type ResultsStore struct {
	db *gorm.DB
}

func NewResultsStore(db *gorm.DB) Results {
	return &ResultsStore{db: db}
}

func (r *ResultsStore) InitialMigration(ctx context.Context) error {
	return r.getDB(ctx).AutoMigrate(&model.DocumentResult{})
}

func (r *ResultsStore) Get(ctx context.Context, documentID uuid.UUID) (*model.DocumentResult, error) {
	result := &model.DocumentResult{}

	if err := r.getDB(ctx).WithContext(ctx).First(result, "document_id = ?", documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	return result, nil
}

func (r *ResultsStore) List(ctx context.Context, filter *ResultsQueryFilter, opts *ResultsQueryOptions) (model.DocumentResultList, error) {
	var results model.DocumentResultList
	tx := r.getDB(ctx)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Model(&results).Find(&results).Error; err != nil {
		return nil, err
	}

	return results, nil
}

func (r *ResultsStore) SetValidation(ctx context.Context, documentID uuid.UUID, v api.ValidationSummary) error {
	return r.setSection(ctx, documentID, "validation", model.MakeJSONField(v))
}

func (r *ResultsStore) SetUpload(ctx context.Context, documentID uuid.UUID, v api.UploadSummary) error {
	return r.setSection(ctx, documentID, "upload", model.MakeJSONField(v))
}

func (r *ResultsStore) SetOCR(ctx context.Context, documentID uuid.UUID, v api.OCRSummary) error {
	return r.setSection(ctx, documentID, "ocr", model.MakeJSONField(v))
}

func (r *ResultsStore) SetComparison(ctx context.Context, documentID uuid.UUID, v api.ComparisonSummary) error {
	return r.setSection(ctx, documentID, "comparison", model.MakeJSONField(v))
}

func (r *ResultsStore) SetAuthenticity(ctx context.Context, documentID uuid.UUID, v api.AuthenticityReport) error {
	return r.setSection(ctx, documentID, "authenticity", model.MakeJSONField(v))
}

// Seal stores the final assessment and freezes the row. Sealing an already
// sealed row is a no-op that returns the stored result, so a retried
// terminal step cannot overwrite the verdict.
func (r *ResultsStore) Seal(ctx context.Context, documentID uuid.UUID, final api.FinalAssessment, status string) (*model.DocumentResult, error) {
	if err := r.ensure(ctx, documentID); err != nil {
		return nil, err
	}

	res := r.getDB(ctx).WithContext(ctx).Model(&model.DocumentResult{}).
		Where("document_id = ? AND sealed = ?", documentID, false).
		Updates(map[string]interface{}{
			"final":             model.MakeJSONField(final),
			"processing_status": status,
			"sealed":            true,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}

	return r.Get(ctx, documentID)
}

// Reopen clears the seal so a requeued document can record new sections
// and be sealed again at its terminal transition. A row that is not
// sealed is left alone.
func (r *ResultsStore) Reopen(ctx context.Context, documentID uuid.UUID) error {
	return r.getDB(ctx).WithContext(ctx).Model(&model.DocumentResult{}).
		Where("document_id = ? AND sealed = ?", documentID, true).
		Updates(map[string]interface{}{
			"final":             nil,
			"processing_status": string(api.DocumentStatusProcessing),
			"sealed":            false,
			"updated_at":        time.Now().UTC(),
		}).Error
}

// setSection writes one stage column, refusing to touch sealed rows.
func (r *ResultsStore) setSection(ctx context.Context, documentID uuid.UUID, column string, value interface{}) error {
	if err := r.ensure(ctx, documentID); err != nil {
		return err
	}

	res := r.getDB(ctx).WithContext(ctx).Model(&model.DocumentResult{}).
		Where("document_id = ? AND sealed = ?", documentID, false).
		Updates(map[string]interface{}{
			column:       value,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrResultSealed
	}
	return nil
}

func (r *ResultsStore) ensure(ctx context.Context, documentID uuid.UUID) error {
	row := model.DocumentResult{
		DocumentID:       documentID,
		ProcessingStatus: string(api.DocumentStatusProcessing),
		UpdatedAt:        time.Now().UTC(),
	}
	return r.getDB(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (r *ResultsStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return r.db
}
