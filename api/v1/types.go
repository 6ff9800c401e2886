// Package v1 holds the wire types shared by the verification pipeline,
// its stores and the public HTTP surface.
package v1

import (
	"time"

	"github.com/google/uuid"
)

// Stage identifies one unit of pipeline work.
type Stage string

const (
	StageDocumentValidation Stage = "document_validation"
	StageS3Upload           Stage = "s3_upload"
	StageOCRExtraction      Stage = "ocr_extraction"
	StageDataComparison     Stage = "data_comparison"
	StageAIVerification     Stage = "ai_verification"
)

// PipelineStages lists all stages in execution order.
var PipelineStages = []Stage{
	StageDocumentValidation,
	StageS3Upload,
	StageOCRExtraction,
	StageDataComparison,
	StageAIVerification,
}

// Next returns the stage following s, or false when s is terminal.
func (s Stage) Next() (Stage, bool) {
	for i, stage := range PipelineStages {
		if stage == s && i+1 < len(PipelineStages) {
			return PipelineStages[i+1], true
		}
	}
	return "", false
}

// Valid reports whether s names a known pipeline stage.
func (s Stage) Valid() bool {
	for _, stage := range PipelineStages {
		if stage == s {
			return true
		}
	}
	return false
}

// Priority orders queue admission. High precedes medium precedes low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Document processing status reported to clients.
type DocumentStatus string

const (
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
	DocumentStatusPartial    DocumentStatus = "partial"
	DocumentStatusCancelled  DocumentStatus = "cancelled"
)

// Recommendation is the terminal verdict for a document.
type Recommendation string

const (
	RecommendationApprove Recommendation = "approve"
	RecommendationReview  Recommendation = "review"
	RecommendationReject  Recommendation = "reject"
)

// RiskLevel accompanies the recommendation.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// Severity grades discrepancies and authenticity flags.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ComparisonStatus is the per-field outcome of the data comparison stage.
type ComparisonStatus string

const (
	ComparisonMatch       ComparisonStatus = "match"
	ComparisonPartial     ComparisonStatus = "partial_match"
	ComparisonMismatch    ComparisonStatus = "mismatch"
	ComparisonMissingData ComparisonStatus = "missing_data"
)

// OCRConfidence is the confidence breakdown of an extraction. All values in [0,1].
type OCRConfidence struct {
	Overall           float64 `json:"overall"`
	TextClarity       float64 `json:"textClarity"`
	FieldCompleteness float64 `json:"fieldCompleteness"`
	PatternMatching   float64 `json:"patternMatching"`
}

// ValidationSummary is the payload of a completed document_validation stage.
type ValidationSummary struct {
	FileHash  string   `json:"fileHash"`
	PageCount *int     `json:"pageCount,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// UploadSummary is the payload of a completed s3_upload stage.
type UploadSummary struct {
	ObjectKey string `json:"objectKey"`
	ETag      string `json:"etag,omitempty"`
	Location  string `json:"location,omitempty"`
	SignedURL string `json:"signedUrl,omitempty"`
}

// OCRSummary is the payload of a completed ocr_extraction stage.
type OCRSummary struct {
	Fields     map[string]string `json:"fields"`
	RawTextLen int               `json:"rawTextLen"`
	Confidence OCRConfidence     `json:"confidence"`
}

// FieldComparison is one field of the data comparison.
type FieldComparison struct {
	Field      string           `json:"field"`
	Expected   string           `json:"expected"`
	Extracted  string           `json:"extracted"`
	MatchScore float64          `json:"matchScore"`
	Status     ComparisonStatus `json:"status"`
}

// Discrepancy is a divergence the comparison stage flagged.
type Discrepancy struct {
	Field       string   `json:"field"`
	Severity    Severity `json:"severity"`
	Impact      Severity `json:"impact"`
	Description string   `json:"description"`
}

// ComparisonSummary is the payload of a completed data_comparison stage.
type ComparisonSummary struct {
	Fields        []FieldComparison `json:"fields"`
	Discrepancies []Discrepancy     `json:"discrepancies,omitempty"`
	OverallMatch  float64           `json:"overallMatch"`
}

// AuthenticityFlag is one concern raised by the AI verification stage.
type AuthenticityFlag struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail,omitempty"`
}

// AuthenticityReport is the payload of a completed ai_verification stage.
type AuthenticityReport struct {
	Score           float64            `json:"score"`
	Confidence      float64            `json:"confidence"`
	Flags           []AuthenticityFlag `json:"flags,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// FinalAssessment is the sealed verdict for a document.
type FinalAssessment struct {
	OverallScore         float64        `json:"overallScore"`
	Recommendation       Recommendation `json:"recommendation"`
	RiskLevel            RiskLevel      `json:"riskLevel"`
	RequiresManualReview bool           `json:"requiresManualReview"`
}

// DocumentResults aggregates every stage output for one document.
type DocumentResults struct {
	DocumentID       uuid.UUID           `json:"documentId"`
	ProcessingStatus DocumentStatus      `json:"processingStatus"`
	Validation       *ValidationSummary  `json:"validation,omitempty"`
	Upload           *UploadSummary      `json:"upload,omitempty"`
	OCR              *OCRSummary         `json:"ocr,omitempty"`
	Comparison       *ComparisonSummary  `json:"comparison,omitempty"`
	Authenticity     *AuthenticityReport `json:"authenticity,omitempty"`
	FinalAssessment  *FinalAssessment    `json:"finalAssessment,omitempty"`
	Sealed           bool                `json:"sealed"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// StatusReply answers a document status query.
type StatusReply struct {
	DocumentID          uuid.UUID      `json:"documentId"`
	Status              DocumentStatus `json:"status"`
	Stage               Stage          `json:"stage"`
	QueuePosition       *int64         `json:"queuePosition,omitempty"`
	EstimatedCompletion *time.Time     `json:"estimatedCompletion,omitempty"`
	LastError           string         `json:"lastError,omitempty"`
}

// QueueStatsReply answers a queue statistics query.
type QueueStatsReply struct {
	TotalQueued    int64            `json:"totalQueued"`
	ByPriority     map[string]int64 `json:"byPriority"`
	ByStage        map[string]int64 `json:"byStage"`
	OldestQueuedAt *time.Time       `json:"oldestQueuedAt,omitempty"`
}

// SubmitReply answers a successful document submission.
type SubmitReply struct {
	DocumentID uuid.UUID      `json:"documentId"`
	Status     DocumentStatus `json:"status"`
	Stage      Stage          `json:"stage"`
}

// WindowStatus reports one rate-limit window to the caller.
type WindowStatus struct {
	Limit     int       `json:"limit"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// RateLimitReply is the body of a rejected admission.
type RateLimitReply struct {
	RateLimitExceeded bool                    `json:"rateLimitExceeded"`
	ExceededWindows   []string                `json:"exceededWindows"`
	Windows           map[string]WindowStatus `json:"windows"`
}

// DeadLetterReply is the operator view of one dead letter entry.
type DeadLetterReply struct {
	ID            uuid.UUID  `json:"id"`
	DocumentID    uuid.UUID  `json:"documentId"`
	Stage         Stage      `json:"stage"`
	FailureReason string     `json:"failureReason"`
	LastError     string     `json:"lastError,omitempty"`
	RetryAttempts int        `json:"retryAttempts"`
	FailedAt      time.Time  `json:"failedAt"`
	CanRetry      bool       `json:"canRetry"`
	RequeuedAt    *time.Time `json:"requeuedAt,omitempty"`
	RequeuedBy    string     `json:"requeuedBy,omitempty"`
}

// Error is the generic error body returned by the API.
type Error struct {
	Message   string  `json:"message"`
	RequestId *string `json:"requestId,omitempty"`
}
