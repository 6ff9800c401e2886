package model

import (
	"encoding/json"
	"time"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/google/uuid"
)

// Queue message statuses. A message is either waiting to be claimed or
// claimed by a worker; completion removes the row entirely.
const (
	MessageStatusQueued  = "queued"
	MessageStatusClaimed = "claimed"
)

// StageConfig carries per-stage knobs a submission may override.
type StageConfig struct {
	OCRPreset       string  `json:"ocrPreset,omitempty"`
	AIModel         string  `json:"aiModel,omitempty"`
	MinOCRScore     float64 `json:"minOcrScore,omitempty"`
	SkipComparison  bool    `json:"skipComparison,omitempty"`
	ComparisonLabel string  `json:"comparisonLabel,omitempty"`
	TimeoutSeconds  int     `json:"timeoutSeconds,omitempty"`
}

// QueueMessage is one unit of pipeline work: a document waiting for (or
// undergoing) a processing stage. Rows only exist while work is pending;
// acknowledged messages are deleted and failures beyond the retry budget
// move to the dead letter table.
type QueueMessage struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	DocumentID uuid.UUID `gorm:"type:uuid;index"`

	Stage    string `gorm:"index:queue_claim_idx"`
	Priority string
	Status   string `gorm:"index:queue_claim_idx"`

	EnqueuedAt  time.Time
	ScheduledAt time.Time `gorm:"index"`

	StartedAt      *time.Time
	ClaimedBy      *string
	ClaimExpiresAt *time.Time `gorm:"index"`

	RetryCount int
	MaxRetries int
	LastError  *string

	UserID           string `gorm:"index"`
	TransactionID    string
	DisputeID        *string
	OriginalFileName string
	FileSize         int64
	ContentType      string

	StageConfig *JSONField[StageConfig] `gorm:"type:jsonb"`
}

type QueueMessageList []QueueMessage

func (m *QueueMessage) String() string {
	val, _ := json.Marshal(m)
	return string(val)
}

// PriorityRank orders bands for claim selection; higher wins.
func PriorityRank(priority string) int {
	switch priority {
	case string(api.PriorityHigh):
		return 3
	case string(api.PriorityMedium):
		return 2
	default:
		return 1
	}
}
