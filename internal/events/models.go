package events

import (
	"time"

	"github.com/google/uuid"
)

type DocumentSubmittedEvent struct {
	DocumentID    uuid.UUID `json:"document_id"`
	UserID        string    `json:"user_id"`
	TransactionID string    `json:"transaction_id"`
	FileName      string    `json:"file_name"`
	FileSize      int64     `json:"file_size"`
	Priority      string    `json:"priority"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

type StageCompletedEvent struct {
	DocumentID uuid.UUID `json:"document_id"`
	Stage      string    `json:"stage"`
	WorkerID   string    `json:"worker_id"`
	DurationMs int64     `json:"duration_ms"`
}

type StageFailedEvent struct {
	DocumentID uuid.UUID `json:"document_id"`
	Stage      string    `json:"stage"`
	WorkerID   string    `json:"worker_id"`
	Error      string    `json:"error"`
	RetryCount int       `json:"retry_count"`
	WillRetry  bool      `json:"will_retry"`
}

type DocumentDeadLetteredEvent struct {
	DocumentID uuid.UUID `json:"document_id"`
	Stage      string    `json:"stage"`
	Reason     string    `json:"reason"`
	CanRetry   bool      `json:"can_retry"`
}

type ResultsSealedEvent struct {
	DocumentID     uuid.UUID `json:"document_id"`
	Status         string    `json:"status"`
	OverallScore   float64   `json:"overall_score"`
	Recommendation string    `json:"recommendation"`
	RiskLevel      string    `json:"risk_level"`
}
