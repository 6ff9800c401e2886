package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeadLetterEntry preserves a queue message that exhausted its retry
// budget or failed permanently. The original message is kept as a full
// snapshot so operators can inspect and requeue it.
type DeadLetterEntry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	MessageID  uuid.UUID `gorm:"type:uuid;index"`
	DocumentID uuid.UUID `gorm:"type:uuid;index"`

	Stage         string
	FailureReason string
	LastError     string
	RetryAttempts int

	Message *JSONField[QueueMessage] `gorm:"type:jsonb"`

	FailedAt time.Time `gorm:"index"`
	CanRetry bool

	RequeuedAt *time.Time
	RequeuedBy *string
}

type DeadLetterEntryList []DeadLetterEntry

func (d *DeadLetterEntry) String() string {
	val, _ := json.Marshal(d)
	return string(val)
}
