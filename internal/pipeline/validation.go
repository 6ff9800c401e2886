package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
)

// MaxDocumentSize caps accepted uploads.
const MaxDocumentSize = 25 << 20

var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/tiff":      true,
}

// ValidationHandler checks a submitted document before any further work
// is spent on it: metadata, size, content type and, for PDFs, structural
// soundness.
type ValidationHandler struct {
	store store.Store
	log   *zap.SugaredLogger
}

func NewValidationHandler(s store.Store) *ValidationHandler {
	return &ValidationHandler{
		store: s,
		log:   zap.S().Named("validation"),
	}
}

func (h *ValidationHandler) Stage() api.Stage { return api.StageDocumentValidation }

func (h *ValidationHandler) Run(ctx context.Context, msg *model.QueueMessage) (*Result, error) {
	doc, err := h.store.Document().Get(ctx, msg.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewFatalError("document %s has no record", msg.DocumentID)
		}
		return nil, NewInfraError("failed to load document", err)
	}

	if strings.TrimSpace(msg.OriginalFileName) == "" {
		return nil, NewValidationError("document has no file name")
	}
	if strings.TrimSpace(msg.TransactionID) == "" {
		return nil, NewValidationError("document %s has no transaction id", msg.DocumentID)
	}
	if msg.FileSize <= 0 {
		return nil, NewValidationError("document %s is empty", msg.DocumentID)
	}
	if msg.FileSize > MaxDocumentSize {
		return nil, NewValidationError("document %s exceeds the size cap: %d bytes", msg.DocumentID, msg.FileSize)
	}

	contentType := normalizeContentType(msg.ContentType)
	if !allowedContentTypes[contentType] {
		return nil, NewValidationError("unsupported content type %q", msg.ContentType)
	}

	f, err := os.Open(doc.StagingPath)
	if err != nil {
		return nil, NewFatalError("staged file for document %s is gone: %v", msg.DocumentID, err)
	}
	defer f.Close()

	var warnings []string

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, NewInfraError("failed to read staged file", err)
	}
	if sniffed := normalizeContentType(http.DetectContentType(head[:n])); sniffed != contentType && sniffed != "application/octet-stream" {
		warnings = append(warnings, fmt.Sprintf("declared content type %s but content looks like %s", contentType, sniffed))
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, NewInfraError("failed to rewind staged file", err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return nil, NewInfraError("failed to hash staged file", err)
	}

	summary := &api.ValidationSummary{
		FileHash: hex.EncodeToString(hasher.Sum(nil)),
	}

	if contentType == "application/pdf" {
		if err := pdfapi.ValidateFile(doc.StagingPath, nil); err != nil {
			return nil, NewValidationError("document %s is not a valid PDF: %v", msg.DocumentID, err)
		}
		if pages, err := pdfapi.PageCountFile(doc.StagingPath); err != nil {
			h.log.Warnw("failed to count pdf pages", "document_id", msg.DocumentID, "error", err)
			warnings = append(warnings, "page count unavailable")
		} else {
			summary.PageCount = &pages
		}
	}

	summary.Warnings = warnings

	return &Result{
		Stage:      api.StageDocumentValidation,
		Validation: summary,
	}, nil
}

func normalizeContentType(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
