package store

import (
	"context"
	"time"

	"github.com/disputeflow/verifier/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Queue() Queue
	DeadLetter() DeadLetter
	Document() Document
	ApiKey() ApiKey
	Results() Results
	Transaction() Transaction
	InitialMigration(ctx context.Context) error
	Seed() error
	Statistics(ctx context.Context) (model.QueueStats, error)
	Close() error
}

type DataStore struct {
	db          *gorm.DB
	queue       Queue
	deadLetter  DeadLetter
	document    Document
	apiKey      ApiKey
	results     Results
	transaction Transaction
}

func NewStore(db *gorm.DB, claimVisibility time.Duration) Store {
	return &DataStore{
		db:          db,
		queue:       NewQueueStore(db, claimVisibility),
		deadLetter:  NewDeadLetterStore(db),
		document:    NewDocumentStore(db),
		apiKey:      NewCacheApiKeyStore(NewApiKeyStore(db)),
		results:     NewResultsStore(db),
		transaction: NewTransactionRecordStore(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Queue() Queue {
	return s.queue
}

func (s *DataStore) DeadLetter() DeadLetter {
	return s.deadLetter
}

func (s *DataStore) Document() Document {
	return s.document
}

func (s *DataStore) ApiKey() ApiKey {
	return s.apiKey
}

func (s *DataStore) Results() Results {
	return s.results
}

func (s *DataStore) Transaction() Transaction {
	return s.transaction
}

func (s *DataStore) InitialMigration(ctx context.Context) error {
	for _, m := range []interface{ InitialMigration(context.Context) error }{
		s.queue, s.deadLetter, s.document, s.apiKey, s.results, s.transaction,
	} {
		if err := m.InitialMigration(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *DataStore) Statistics(ctx context.Context) (model.QueueStats, error) {
	return s.queue.Stats(ctx)
}

// Seed creates/updates the default development api key and a sample
// transaction record so a fresh instance accepts submissions.
func (s *DataStore) Seed() error {
	tx, err := newTransaction(s.db)
	if err != nil {
		return err
	}

	key := model.ApiKey{
		KeyID:     "dev-key",
		Owner:     "development",
		Tier:      "default",
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled"}),
	}).Create(&key).Error; err != nil {
		_ = tx.Rollback()
		return err
	}

	record := model.TransactionRecord{
		TransactionID:   "txn-sample-0001",
		UserID:          "dev-user",
		Amount:          125.50,
		Currency:        "USD",
		MerchantName:    "Acme Online Store",
		TransactionDate: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		PaymentMethod:   "credit_card",
		CardLast4:       "4242",
		CreatedAt:       time.Now().UTC(),
	}
	if err := tx.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "merchant_name"}),
	}).Create(&record).Error; err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
