package store

import (
	"context"
	"errors"
	"time"

	"github.com/disputeflow/verifier/internal/store/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DeadLetter interface {
	InitialMigration(ctx context.Context) error
	Push(ctx context.Context, msg *model.QueueMessage, reason string, lastErr string, canRetry bool) (*model.DeadLetterEntry, error)
	Get(ctx context.Context, id uuid.UUID) (*model.DeadLetterEntry, error)
	List(ctx context.Context, filter *DeadLetterQueryFilter, opts *DeadLetterQueryOptions) (model.DeadLetterEntryList, error)
	Requeue(ctx context.Context, id uuid.UUID, requeuedBy string) (*model.QueueMessage, error)
	Delete(ctx context.Context, id uuid.UUID) error
	PendingCount(ctx context.Context) (int64, error)
}

type DeadLetterStore struct {
	db *gorm.DB
}

func NewDeadLetterStore(db *gorm.DB) DeadLetter {
	return &DeadLetterStore{db: db}
}

func (d *DeadLetterStore) InitialMigration(ctx context.Context) error {
	return d.getDB(ctx).AutoMigrate(&model.DeadLetterEntry{})
}

// Push moves a queue message into the dead letter table. Inserting the
// entry and removing the queue row happen in one transaction so the
// message is never in both places or neither.
func (d *DeadLetterStore) Push(ctx context.Context, msg *model.QueueMessage, reason string, lastErr string, canRetry bool) (*model.DeadLetterEntry, error) {
	entry := model.DeadLetterEntry{
		ID:            uuid.New(),
		MessageID:     msg.ID,
		DocumentID:    msg.DocumentID,
		Stage:         msg.Stage,
		FailureReason: reason,
		LastError:     lastErr,
		RetryAttempts: msg.RetryCount,
		Message:       model.MakeJSONField(*msg),
		FailedAt:      time.Now().UTC(),
		CanRetry:      canRetry,
	}

	err := d.getDB(ctx).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return tx.Delete(&model.QueueMessage{}, "id = ?", msg.ID).Error
	})
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

func (d *DeadLetterStore) Get(ctx context.Context, id uuid.UUID) (*model.DeadLetterEntry, error) {
	entry := &model.DeadLetterEntry{}

	if err := d.getDB(ctx).WithContext(ctx).First(entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	return entry, nil
}

func (d *DeadLetterStore) List(ctx context.Context, filter *DeadLetterQueryFilter, opts *DeadLetterQueryOptions) (model.DeadLetterEntryList, error) {
	var entries model.DeadLetterEntryList
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

	if err := tx.Model(&entries).Find(&entries).Error; err != nil {
		return nil, err
	}

	return entries, nil
}

// Requeue puts the preserved message back on the queue with a fresh retry
// budget and stamps the entry so it cannot be requeued twice. The stamp is
// a conditional update: a concurrent requeue of the same entry loses and
// gets ErrDuplicateKey.
func (d *DeadLetterStore) Requeue(ctx context.Context, id uuid.UUID, requeuedBy string) (*model.QueueMessage, error) {
	entry, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Message == nil {
		return nil, ErrRecordNotFound
	}

	now := time.Now().UTC()
	msg := entry.Message.Data
	msg.ID = uuid.New()
	msg.Status = model.MessageStatusQueued
	msg.EnqueuedAt = now
	msg.ScheduledAt = now
	msg.StartedAt = nil
	msg.ClaimedBy = nil
	msg.ClaimExpiresAt = nil
	msg.RetryCount = 0
	msg.LastError = nil

	err = d.getDB(ctx).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.DeadLetterEntry{}).
			Where("id = ? AND requeued_at IS NULL", id).
			Updates(map[string]interface{}{
				"requeued_at": now,
				"requeued_by": requeuedBy,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDuplicateKey
		}
		return tx.Create(&msg).Error
	})
	if err != nil {
		return nil, err
	}

	return &msg, nil
}

func (d *DeadLetterStore) Delete(ctx context.Context, id uuid.UUID) error {
	return d.getDB(ctx).WithContext(ctx).Delete(&model.DeadLetterEntry{}, "id = ?", id).Error
}

func (d *DeadLetterStore) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := d.getDB(ctx).WithContext(ctx).Model(&model.DeadLetterEntry{}).
		Where("requeued_at IS NULL").
		Count(&count).Error
	return count, err
}

func (d *DeadLetterStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return d.db
}
