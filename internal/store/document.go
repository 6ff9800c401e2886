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

type Document interface {
	InitialMigration(ctx context.Context) error
	Create(ctx context.Context, doc model.Document) (*model.Document, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Document, error)
	Update(ctx context.Context, doc model.Document) (*model.Document, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, stage *string) error
	MarkCancelled(ctx context.Context, id uuid.UUID, now time.Time) (*model.Document, error)
	List(ctx context.Context, filter *DocumentQueryFilter, opts *DocumentQueryOptions) (model.DocumentList, error)
}

type DocumentStore struct {
	db *gorm.DB
}

func NewDocumentStore(db *gorm.DB) Document {
	return &DocumentStore{db: db}
}

func (d *DocumentStore) InitialMigration(ctx context.Context) error {
	return d.getDB(ctx).AutoMigrate(&model.Document{})
}

func (d *DocumentStore) Create(ctx context.Context, doc model.Document) (*model.Document, error) {
	if err := d.getDB(ctx).WithContext(ctx).Create(&doc).Error; err != nil {
		return nil, err
	}

	return &doc, nil
}

func (d *DocumentStore) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	doc := &model.Document{}

	if err := d.getDB(ctx).WithContext(ctx).First(doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	return doc, nil
}

func (d *DocumentStore) Update(ctx context.Context, doc model.Document) (*model.Document, error) {
	if err := d.getDB(ctx).WithContext(ctx).First(&model.Document{}, "id = ?", doc.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	if tx := d.getDB(ctx).WithContext(ctx).Clauses(clause.Returning{}).Updates(&doc); tx.Error != nil {
		return nil, tx.Error
	}

	return &doc, nil
}

// UpdateStatus moves the document lifecycle forward. Stage is optional:
// nil leaves the current stage untouched.
func (d *DocumentStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string, stage *string) error {
	updates := map[string]interface{}{"status": status}
	if stage != nil {
		updates["current_stage"] = *stage
	}
	if status == string(api.DocumentStatusCompleted) || status == string(api.DocumentStatusFailed) || status == string(api.DocumentStatusPartial) {
		updates["completed_at"] = time.Now().UTC()
	}

	res := d.getDB(ctx).WithContext(ctx).Model(&model.Document{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkCancelled flips a document to cancelled only while it is still
// processing. Finished documents are left alone and the stored row is
// returned so the caller can see what state won.
func (d *DocumentStore) MarkCancelled(ctx context.Context, id uuid.UUID, now time.Time) (*model.Document, error) {
	res := d.getDB(ctx).WithContext(ctx).Model(&model.Document{}).
		Where("id = ? AND status = ?", id, string(api.DocumentStatusProcessing)).
		Updates(map[string]interface{}{
			"status":       string(api.DocumentStatusCancelled),
			"cancelled_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	return d.Get(ctx, id)
}

func (d *DocumentStore) List(ctx context.Context, filter *DocumentQueryFilter, opts *DocumentQueryOptions) (model.DocumentList, error) {
	var docs model.DocumentList
	tx := d.getDB(ctx)

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

	if err := tx.Model(&docs).Find(&docs).Error; err != nil {
		return nil, err
	}

	return docs, nil
}

func (d *DocumentStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return d.db
}
