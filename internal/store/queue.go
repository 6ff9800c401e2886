package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disputeflow/verifier/internal/store/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// priorityRankExpr orders bands in SQL so a single index scan returns the
// next claimable message. Works on both postgres and sqlite.
const priorityRankExpr = "CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END"

// claimAttempts bounds how many candidates a single ClaimNext call races
// for before giving up and letting the caller poll again.
const claimAttempts = 3

type Queue interface {
	InitialMigration(ctx context.Context) error
	Enqueue(ctx context.Context, msg model.QueueMessage) (*model.QueueMessage, error)
	Get(ctx context.Context, id uuid.UUID) (*model.QueueMessage, error)
	List(ctx context.Context, filter *QueueQueryFilter, opts *QueueQueryOptions) (model.QueueMessageList, error)
	ClaimNext(ctx context.Context, workerID string, stages []string, now time.Time) (*model.QueueMessage, error)
	Ack(ctx context.Context, id uuid.UUID) error
	Release(ctx context.Context, id uuid.UUID) error
	RetryWithDelay(ctx context.Context, id uuid.UUID, delay time.Duration, lastErr string) (*model.QueueMessage, error)
	ExtendClaim(ctx context.Context, id uuid.UUID, workerID string, until time.Time) error
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)
	CancelQueued(ctx context.Context, documentID uuid.UUID) (int64, error)
	Stats(ctx context.Context) (model.QueueStats, error)
	PositionAhead(ctx context.Context, msg *model.QueueMessage) (int64, error)
}

type QueueStore struct {
	db         *gorm.DB
	visibility time.Duration
}

func NewQueueStore(db *gorm.DB, visibility time.Duration) Queue {
	return &QueueStore{db: db, visibility: visibility}
}

func (q *QueueStore) InitialMigration(ctx context.Context) error {
	return q.getDB(ctx).AutoMigrate(&model.QueueMessage{})
}

// Enqueue inserts a new message in the queued state. Zero-valued id and
// timestamps are filled in here so callers only set what they care about.
func (q *QueueStore) Enqueue(ctx context.Context, msg model.QueueMessage) (*model.QueueMessage, error) {
	now := time.Now().UTC()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = now
	}
	if msg.ScheduledAt.IsZero() {
		msg.ScheduledAt = msg.EnqueuedAt
	}
	msg.Status = model.MessageStatusQueued

	if err := q.getDB(ctx).WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, err
	}

	return &msg, nil
}

func (q *QueueStore) Get(ctx context.Context, id uuid.UUID) (*model.QueueMessage, error) {
	msg := &model.QueueMessage{}

	if err := q.getDB(ctx).WithContext(ctx).First(msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	return msg, nil
}

func (q *QueueStore) List(ctx context.Context, filter *QueueQueryFilter, opts *QueueQueryOptions) (model.QueueMessageList, error) {
	var messages model.QueueMessageList
	tx := q.getDB(ctx)

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

	if err := tx.Model(&messages).Find(&messages).Error; err != nil {
		return nil, err
	}

	return messages, nil
}

// ClaimNext atomically claims the highest priority eligible message.
// Eligible means queued, due, and in one of the requested stages. Claim
// safety relies on the conditional update: only one worker flips the row
// from queued to claimed; losers move on to the next candidate.
func (q *QueueStore) ClaimNext(ctx context.Context, workerID string, stages []string, now time.Time) (*model.QueueMessage, error) {
	db := q.getDB(ctx)

	for attempt := 0; attempt < claimAttempts; attempt++ {
		var msg model.QueueMessage

		tx := db.WithContext(ctx).
			Where("status = ?", model.MessageStatusQueued).
			Where("scheduled_at <= ?", now)
		if len(stages) > 0 {
			tx = tx.Where("stage IN ?", stages)
		}

		err := tx.Order(priorityRankExpr + " DESC").Order("enqueued_at ASC").First(&msg).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNoMessageAvailable
			}
			return nil, err
		}

		expiresAt := now.Add(q.visibility)
		res := db.WithContext(ctx).Model(&model.QueueMessage{}).
			Where("id = ? AND status = ?", msg.ID, model.MessageStatusQueued).
			Updates(map[string]interface{}{
				"status":           model.MessageStatusClaimed,
				"claimed_by":       workerID,
				"started_at":       now,
				"claim_expires_at": expiresAt,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			msg.Status = model.MessageStatusClaimed
			msg.ClaimedBy = &workerID
			startedAt := now
			msg.StartedAt = &startedAt
			msg.ClaimExpiresAt = &expiresAt
			return &msg, nil
		}
		// another worker won this candidate; the next select skips it
	}

	return nil, ErrClaimConflict
}

// Ack removes a finished message. Acking an already removed message is a
// no-op so workers can ack without checking first.
func (q *QueueStore) Ack(ctx context.Context, id uuid.UUID) error {
	return q.getDB(ctx).WithContext(ctx).Delete(&model.QueueMessage{}, "id = ?", id).Error
}

// Release puts a claimed message back without touching its retry count.
func (q *QueueStore) Release(ctx context.Context, id uuid.UUID) error {
	return q.getDB(ctx).WithContext(ctx).Model(&model.QueueMessage{}).
		Where("id = ? AND status = ?", id, model.MessageStatusClaimed).
		Updates(map[string]interface{}{
			"status":           model.MessageStatusQueued,
			"claimed_by":       nil,
			"started_at":       nil,
			"claim_expires_at": nil,
		}).Error
}

// RetryWithDelay requeues a failed message with an incremented retry count
// and a future due time. The claim fields are cleared so any worker can
// pick it up once due.
func (q *QueueStore) RetryWithDelay(ctx context.Context, id uuid.UUID, delay time.Duration, lastErr string) (*model.QueueMessage, error) {
	db := q.getDB(ctx)

	res := db.WithContext(ctx).Model(&model.QueueMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           model.MessageStatusQueued,
			"scheduled_at":     time.Now().UTC().Add(delay),
			"retry_count":      gorm.Expr("retry_count + 1"),
			"last_error":       lastErr,
			"claimed_by":       nil,
			"started_at":       nil,
			"claim_expires_at": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}

	return q.Get(ctx, id)
}

// ExtendClaim pushes the claim expiry forward. It only succeeds while the
// message is still claimed by the given worker, so a worker whose claim
// was swept learns about it from the returned error.
func (q *QueueStore) ExtendClaim(ctx context.Context, id uuid.UUID, workerID string, until time.Time) error {
	res := q.getDB(ctx).WithContext(ctx).Model(&model.QueueMessage{}).
		Where("id = ? AND status = ? AND claimed_by = ?", id, model.MessageStatusClaimed, workerID).
		Update("claim_expires_at", until)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ReleaseExpired requeues messages whose claim expired, recovering work
// lost to crashed workers. The retry count is left alone: expiry is not a
// handler failure.
func (q *QueueStore) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	res := q.getDB(ctx).WithContext(ctx).Model(&model.QueueMessage{}).
		Where("status = ? AND claim_expires_at IS NOT NULL AND claim_expires_at <= ?", model.MessageStatusClaimed, now).
		Updates(map[string]interface{}{
			"status":           model.MessageStatusQueued,
			"claimed_by":       nil,
			"started_at":       nil,
			"claim_expires_at": nil,
		})
	return res.RowsAffected, res.Error
}

// CancelQueued drops all still-queued messages of a document. Claimed
// messages are left to finish; the worker drops them on the next claim
// boundary by checking the document status.
func (q *QueueStore) CancelQueued(ctx context.Context, documentID uuid.UUID) (int64, error) {
	res := q.getDB(ctx).WithContext(ctx).
		Where("document_id = ? AND status = ?", documentID, model.MessageStatusQueued).
		Delete(&model.QueueMessage{})
	return res.RowsAffected, res.Error
}

func (q *QueueStore) Stats(ctx context.Context) (model.QueueStats, error) {
	db := q.getDB(ctx).WithContext(ctx)
	stats := model.QueueStats{
		QueuedByPriority: make(map[string]int64),
		QueuedByStage:    make(map[string]int64),
	}

	if err := db.Model(&model.QueueMessage{}).
		Where("status = ?", model.MessageStatusQueued).
		Count(&stats.TotalQueued).Error; err != nil {
		return stats, err
	}

	if err := db.Model(&model.QueueMessage{}).
		Where("status = ?", model.MessageStatusClaimed).
		Count(&stats.TotalClaimed).Error; err != nil {
		return stats, err
	}

	type bucket struct {
		Key   string
		Total int64
	}

	var byPriority []bucket
	if err := db.Model(&model.QueueMessage{}).
		Select("priority as key, count(*) as total").
		Where("status = ?", model.MessageStatusQueued).
		Group("priority").
		Scan(&byPriority).Error; err != nil {
		return stats, err
	}
	for _, b := range byPriority {
		stats.QueuedByPriority[b.Key] = b.Total
	}

	var byStage []bucket
	if err := db.Model(&model.QueueMessage{}).
		Select("stage as key, count(*) as total").
		Where("status = ?", model.MessageStatusQueued).
		Group("stage").
		Scan(&byStage).Error; err != nil {
		return stats, err
	}
	for _, b := range byStage {
		stats.QueuedByStage[b.Key] = b.Total
	}

	var oldest struct{ Oldest *time.Time }
	if err := db.Model(&model.QueueMessage{}).
		Select("min(enqueued_at) as oldest").
		Where("status = ?", model.MessageStatusQueued).
		Scan(&oldest).Error; err != nil {
		return stats, err
	}
	stats.OldestQueuedAt = oldest.Oldest

	if err := db.Model(&model.DeadLetterEntry{}).
		Where("requeued_at IS NULL").
		Count(&stats.DeadLettersPending).Error; err != nil {
		return stats, err
	}

	return stats, nil
}

// PositionAhead counts queued messages that would be claimed before the
// given one, used for queue position estimates in status replies.
func (q *QueueStore) PositionAhead(ctx context.Context, msg *model.QueueMessage) (int64, error) {
	var count int64
	rank := model.PriorityRank(msg.Priority)

	err := q.getDB(ctx).WithContext(ctx).Model(&model.QueueMessage{}).
		Where("status = ?", model.MessageStatusQueued).
		Where(fmt.Sprintf("(%s > ? OR (%s = ? AND enqueued_at < ?))", priorityRankExpr, priorityRankExpr),
			rank, rank, msg.EnqueuedAt).
		Count(&count).Error

	return count, err
}

func (q *QueueStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return q.db
}
