package pipeline

import (
	"context"
	"errors"
	"io"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/objstore"
	"github.com/disputeflow/verifier/internal/ocrclient"
	"github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
)

// Extractor is the slice of the OCR client this stage needs.
type Extractor interface {
	Extract(ctx context.Context, req ocrclient.ExtractRequest) (*ocrclient.ExtractResult, error)
}

// OCRHandler fetches the uploaded document and turns it into fields plus
// a confidence breakdown.
type OCRHandler struct {
	store   store.Store
	objects objstore.Store
	ocr     Extractor
}

func NewOCRHandler(s store.Store, objects objstore.Store, ocr Extractor) *OCRHandler {
	return &OCRHandler{
		store:   s,
		objects: objects,
		ocr:     ocr,
	}
}

func (h *OCRHandler) Stage() api.Stage { return api.StageOCRExtraction }

func (h *OCRHandler) Run(ctx context.Context, msg *model.QueueMessage) (*Result, error) {
	results, err := h.store.Results().Get(ctx, msg.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewFatalError("document %s reached extraction without stage results", msg.DocumentID)
		}
		return nil, NewInfraError("failed to load stage results", err)
	}
	if results.Upload == nil || results.Upload.Data.ObjectKey == "" {
		return nil, NewFatalError("document %s reached extraction without an uploaded object", msg.DocumentID)
	}
	objectKey := results.Upload.Data.ObjectKey

	rc, err := h.objects.Get(ctx, objectKey)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, NewFatalError("object %s is gone", objectKey)
		}
		return nil, NewInfraError("failed to fetch document object", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, NewInfraError("failed to read document object", err)
	}

	req := ocrclient.ExtractRequest{
		Document:    data,
		FileName:    msg.OriginalFileName,
		ContentType: msg.ContentType,
	}
	if msg.StageConfig != nil {
		req.Preset = msg.StageConfig.Data.OCRPreset
	}

	extracted, err := h.ocr.Extract(ctx, req)
	if err != nil {
		return nil, NewInfraError("extraction failed", err)
	}

	confidence := scoreExtraction(extracted.Fields, extracted.FieldScores, extracted.RawText)

	if msg.StageConfig != nil {
		if min := msg.StageConfig.Data.MinOCRScore; min > 0 && confidence.Overall < min {
			return nil, NewValidationError("extraction confidence %.2f below required %.2f", confidence.Overall, min)
		}
	}

	return &Result{
		Stage: api.StageOCRExtraction,
		OCR: &api.OCRSummary{
			Fields:     extracted.Fields,
			RawTextLen: len(extracted.RawText),
			Confidence: confidence,
		},
	}, nil
}
