package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Document is a dispute evidence file moving through the verification
// pipeline. Status reflects the overall lifecycle; per-stage outcomes
// live in DocumentResult.
type Document struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID string    `gorm:"index"`

	TransactionID string `gorm:"index"`
	DisputeID     *string

	FileName    string
	FileSize    int64
	ContentType string

	Status       string `gorm:"index"`
	CurrentStage string
	Priority     string

	StagingPath string
	ObjectKey   *string

	SubmittedAt time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

type DocumentList []Document

func (d *Document) String() string {
	val, _ := json.Marshal(d)
	return string(val)
}
