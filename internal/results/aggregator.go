package results

import (
	"context"
	"errors"

	"github.com/google/uuid"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/pipeline"
	"github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
)

// mandatoryFields must compare cleanly for an assessment to stand on its
// own; a document missing any of them always goes to a human.
var mandatoryFields = map[string]bool{
	"amount":           true,
	"merchant_name":    true,
	"transaction_date": true,
}

// ScoringPolicy holds the weights and thresholds of the final verdict.
type ScoringPolicy struct {
	OCRWeight          float64
	ComparisonWeight   float64
	AuthenticityWeight float64
	RejectBelow        float64
	ApproveAt          float64
}

// Aggregator folds per-stage outputs into the document_results row and
// seals it with a final assessment when the pipeline ends.
type Aggregator struct {
	store  store.Store
	policy ScoringPolicy
}

func NewAggregator(s store.Store, policy ScoringPolicy) *Aggregator {
	return &Aggregator{
		store:  s,
		policy: policy,
	}
}

// RecordStageResult persists the section a stage produced. Stages may
// legitimately produce nothing (a skipped comparison); that records
// nothing and is not an error.
func (a *Aggregator) RecordStageResult(ctx context.Context, documentID uuid.UUID, res *pipeline.Result) error {
	if res == nil {
		return nil
	}

	switch res.Stage {
	case api.StageDocumentValidation:
		if res.Validation == nil {
			return nil
		}
		return a.store.Results().SetValidation(ctx, documentID, *res.Validation)
	case api.StageS3Upload:
		if res.Upload == nil {
			return nil
		}
		return a.store.Results().SetUpload(ctx, documentID, *res.Upload)
	case api.StageOCRExtraction:
		if res.OCR == nil {
			return nil
		}
		return a.store.Results().SetOCR(ctx, documentID, *res.OCR)
	case api.StageDataComparison:
		if res.Comparison == nil {
			return nil
		}
		return a.store.Results().SetComparison(ctx, documentID, *res.Comparison)
	case api.StageAIVerification:
		if res.Authenticity == nil {
			return nil
		}
		return a.store.Results().SetAuthenticity(ctx, documentID, *res.Authenticity)
	default:
		return errors.New("unknown stage " + string(res.Stage))
	}
}

// Seal computes the final assessment from whatever stages recorded and
// freezes the row under the given terminal status.
func (a *Aggregator) Seal(ctx context.Context, documentID uuid.UUID, status api.DocumentStatus) (*model.DocumentResult, error) {
	row, err := a.store.Results().Get(ctx, documentID)
	if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		return nil, err
	}

	final := assess(a.policy, row)
	return a.store.Results().Seal(ctx, documentID, final, string(status))
}

// SealFailure seals a document that did not finish the pipeline: partial
// when at least one stage recorded output, failed when none did.
func (a *Aggregator) SealFailure(ctx context.Context, documentID uuid.UUID) (*model.DocumentResult, error) {
	row, err := a.store.Results().Get(ctx, documentID)
	if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		return nil, err
	}

	status := api.DocumentStatusFailed
	if hasAnySection(row) {
		status = api.DocumentStatusPartial
	}

	final := assess(a.policy, row)
	return a.store.Results().Seal(ctx, documentID, final, string(status))
}

func hasAnySection(row *model.DocumentResult) bool {
	if row == nil {
		return false
	}
	return row.Validation != nil || row.Upload != nil || row.OCR != nil ||
		row.Comparison != nil || row.Authenticity != nil
}

// assess turns recorded stage outputs into the final verdict. The three
// scored components are weighted and normalized over whichever of them
// are present, so a skipped comparison does not drag the score down.
func assess(policy ScoringPolicy, row *model.DocumentResult) api.FinalAssessment {
	var weightSum, scoreSum float64

	var comparison *api.ComparisonSummary
	var authenticity *api.AuthenticityReport

	if row != nil {
		if row.OCR != nil {
			scoreSum += policy.OCRWeight * row.OCR.Data.Confidence.Overall
			weightSum += policy.OCRWeight
		}
		if row.Comparison != nil {
			comparison = &row.Comparison.Data
			scoreSum += policy.ComparisonWeight * comparison.OverallMatch
			weightSum += policy.ComparisonWeight
		}
		if row.Authenticity != nil {
			authenticity = &row.Authenticity.Data
			scoreSum += policy.AuthenticityWeight * authenticity.Score
			weightSum += policy.AuthenticityWeight
		}
	}

	var overall float64
	if weightSum > 0 {
		overall = scoreSum / weightSum
	}

	criticalDiscrepancy := false
	mandatoryMissing := false
	if comparison != nil {
		for _, d := range comparison.Discrepancies {
			if d.Impact == api.SeverityCritical {
				criticalDiscrepancy = true
			}
		}
		for _, fc := range comparison.Fields {
			if mandatoryFields[fc.Field] && fc.Status == api.ComparisonMissingData {
				mandatoryMissing = true
			}
		}
	}

	severeFlag := false
	if authenticity != nil {
		for _, f := range authenticity.Flags {
			if f.Severity == api.SeverityHigh || f.Severity == api.SeverityCritical {
				severeFlag = true
			}
		}
	}

	var recommendation api.Recommendation
	switch {
	case overall < policy.RejectBelow || criticalDiscrepancy:
		recommendation = api.RecommendationReject
	case overall < policy.ApproveAt || severeFlag:
		recommendation = api.RecommendationReview
	default:
		recommendation = api.RecommendationApprove
	}

	var risk api.RiskLevel
	switch {
	case recommendation == api.RecommendationReject && criticalDiscrepancy:
		risk = api.RiskLevelCritical
	case recommendation == api.RecommendationReject:
		risk = api.RiskLevelHigh
	case recommendation == api.RecommendationReview:
		risk = api.RiskLevelMedium
	default:
		risk = api.RiskLevelLow
	}

	return api.FinalAssessment{
		OverallScore:         overall,
		Recommendation:       recommendation,
		RiskLevel:            risk,
		RequiresManualReview: recommendation != api.RecommendationApprove || mandatoryMissing,
	}
}
