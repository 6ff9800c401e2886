package store

import (
	"context"
	"errors"
	"time"

	"github.com/disputeflow/verifier/internal/store/model"
	"gorm.io/gorm"
)

type ApiKey interface {
	InitialMigration(ctx context.Context) error
	Create(ctx context.Context, key model.ApiKey) (*model.ApiKey, error)
	Get(ctx context.Context, keyID string) (*model.ApiKey, error)
	Touch(ctx context.Context, keyID string, seenAt time.Time) error
	Delete(ctx context.Context, keyID string) error
}

type ApiKeyStore struct {
	db *gorm.DB
}

func NewApiKeyStore(db *gorm.DB) ApiKey {
	return &ApiKeyStore{db: db}
}

func (a *ApiKeyStore) InitialMigration(ctx context.Context) error {
	return a.getDB(ctx).AutoMigrate(&model.ApiKey{})
}

func (a *ApiKeyStore) Create(ctx context.Context, key model.ApiKey) (*model.ApiKey, error) {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	if err := a.getDB(ctx).WithContext(ctx).Create(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}

	return &key, nil
}

func (a *ApiKeyStore) Get(ctx context.Context, keyID string) (*model.ApiKey, error) {
	key := &model.ApiKey{}

	if err := a.getDB(ctx).WithContext(ctx).First(key, "key_id = ?", keyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	return key, nil
}

func (a *ApiKeyStore) Touch(ctx context.Context, keyID string, seenAt time.Time) error {
	return a.getDB(ctx).WithContext(ctx).Model(&model.ApiKey{}).
		Where("key_id = ?", keyID).
		Update("last_seen_at", seenAt).Error
}

func (a *ApiKeyStore) Delete(ctx context.Context, keyID string) error {
	return a.getDB(ctx).WithContext(ctx).Delete(&model.ApiKey{}, "key_id = ?", keyID).Error
}

func (a *ApiKeyStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return a.db
}
