package model

import (
	"encoding/json"
	"time"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/google/uuid"
)

// DocumentResult accumulates per-stage outputs for a document. Each
// stage handler merges its summary into this row; the aggregator seals
// it with the final assessment once the pipeline finishes or fails.
type DocumentResult struct {
	DocumentID uuid.UUID `gorm:"type:uuid;primaryKey"`

	Validation   *JSONField[api.ValidationSummary]  `gorm:"type:jsonb"`
	Upload       *JSONField[api.UploadSummary]      `gorm:"type:jsonb"`
	OCR          *JSONField[api.OCRSummary]         `gorm:"type:jsonb"`
	Comparison   *JSONField[api.ComparisonSummary]  `gorm:"type:jsonb"`
	Authenticity *JSONField[api.AuthenticityReport] `gorm:"type:jsonb"`
	Final        *JSONField[api.FinalAssessment]    `gorm:"type:jsonb"`

	ProcessingStatus string
	Sealed           bool

	UpdatedAt time.Time
}

type DocumentResultList []DocumentResult

func (r *DocumentResult) String() string {
	val, _ := json.Marshal(r)
	return string(val)
}
