package store

import (
	"context"
	"errors"
	"time"

	"github.com/disputeflow/verifier/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Transaction interface {
	InitialMigration(ctx context.Context) error
	Create(ctx context.Context, record model.TransactionRecord) (*model.TransactionRecord, error)
	Get(ctx context.Context, transactionID string) (*model.TransactionRecord, error)
}

type TransactionRecordStore struct {
	db *gorm.DB
}

func NewTransactionRecordStore(db *gorm.DB) Transaction {
	return &TransactionRecordStore{db: db}
}

func (t *TransactionRecordStore) InitialMigration(ctx context.Context) error {
	return t.getDB(ctx).AutoMigrate(&model.TransactionRecord{})
}

// Create upserts by transaction id so record feeds can be replayed.
func (t *TransactionRecordStore) Create(ctx context.Context, record model.TransactionRecord) (*model.TransactionRecord, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if err := t.getDB(ctx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "currency", "merchant_name", "transaction_date", "payment_method", "card_last4", "metadata"}),
	}).Create(&record).Error; err != nil {
		return nil, err
	}

	return &record, nil
}

func (t *TransactionRecordStore) Get(ctx context.Context, transactionID string) (*model.TransactionRecord, error) {
	record := &model.TransactionRecord{}

	if err := t.getDB(ctx).WithContext(ctx).First(record, "transaction_id = ?", transactionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	return record, nil
}

func (t *TransactionRecordStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return t.db
}
