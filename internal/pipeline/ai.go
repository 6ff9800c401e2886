package pipeline

import (
	"context"
	"errors"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/aiclient"
	"github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
)

// Evaluator is the slice of the AI client this stage needs.
type Evaluator interface {
	Evaluate(ctx context.Context, req aiclient.EvaluationRequest) (*aiclient.Evaluation, error)
}

// AIHandler asks the authenticity model for a verdict on the document,
// given everything the earlier stages produced.
type AIHandler struct {
	store store.Store
	ai    Evaluator
}

func NewAIHandler(s store.Store, ai Evaluator) *AIHandler {
	return &AIHandler{
		store: s,
		ai:    ai,
	}
}

func (h *AIHandler) Stage() api.Stage { return api.StageAIVerification }

func (h *AIHandler) Run(ctx context.Context, msg *model.QueueMessage) (*Result, error) {
	results, err := h.store.Results().Get(ctx, msg.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewFatalError("document %s reached verification without stage results", msg.DocumentID)
		}
		return nil, NewInfraError("failed to load stage results", err)
	}
	if results.OCR == nil {
		return nil, NewFatalError("document %s reached verification without extraction output", msg.DocumentID)
	}

	req := aiclient.EvaluationRequest{
		DocumentID: msg.DocumentID.String(),
		Fields:     results.OCR.Data.Fields,
	}
	if msg.StageConfig != nil {
		req.Model = msg.StageConfig.Data.AIModel
	}
	if results.Comparison != nil {
		req.Comparison = comparisonFacts(&results.Comparison.Data)
	}
	if txn, err := h.store.Transaction().Get(ctx, msg.TransactionID); err == nil {
		req.Transaction = &aiclient.TransactionFacts{
			Amount:          txn.Amount,
			Currency:        txn.Currency,
			MerchantName:    txn.MerchantName,
			TransactionDate: txn.TransactionDate.UTC().Format("2006-01-02"),
			PaymentMethod:   txn.PaymentMethod,
			CardLast4:       txn.CardLast4,
		}
	}

	eval, err := h.ai.Evaluate(ctx, req)
	if err != nil {
		return nil, NewInfraError("authenticity evaluation failed", err)
	}

	report := &api.AuthenticityReport{
		Score:           eval.Score,
		Confidence:      eval.Confidence,
		Recommendations: eval.Recommendations,
	}
	for _, f := range eval.Flags {
		report.Flags = append(report.Flags, api.AuthenticityFlag{
			Type:     f.Type,
			Severity: api.Severity(f.Severity),
			Detail:   f.Description,
		})
	}

	return &Result{
		Stage:        api.StageAIVerification,
		Authenticity: report,
	}, nil
}

func comparisonFacts(summary *api.ComparisonSummary) *aiclient.ComparisonFacts {
	facts := &aiclient.ComparisonFacts{
		OverallMatch:  summary.OverallMatch,
		FieldOutcomes: make(map[string]string, len(summary.Fields)),
	}
	for _, fc := range summary.Fields {
		facts.FieldOutcomes[fc.Field] = string(fc.Status)
	}
	for _, d := range summary.Discrepancies {
		facts.Discrepancies = append(facts.Discrepancies, aiclient.DiscrepancyFact{
			Field:       d.Field,
			Severity:    string(d.Severity),
			Impact:      string(d.Impact),
			Description: d.Description,
		})
	}
	return facts
}
