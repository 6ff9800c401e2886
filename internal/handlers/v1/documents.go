package v1

import (
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/disputeflow/verifier/internal/handlers/v1/mappers"
	"github.com/disputeflow/verifier/internal/handlers/validator"
	"github.com/disputeflow/verifier/internal/pipeline"
	"github.com/disputeflow/verifier/internal/ratelimit"
	"github.com/disputeflow/verifier/internal/service"
	srvMappers "github.com/disputeflow/verifier/internal/service/mappers"
)

// maxSubmitRequestSize bounds the whole multipart request. The service
// enforces the per-document cap; this guard only keeps a runaway body
// from spooling to disk first.
const maxSubmitRequestSize = pipeline.MaxDocumentSize + 1<<20

// multipartMemoryLimit is the in-memory threshold before form parts
// spill to temp files.
const multipartMemoryLimit = 8 << 20

// (POST /api/v1/documents)
func (h *Handler) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	logger := zap.S().Named("document_handler")

	keyID := r.Header.Get(ApiKeyHeader)
	if keyID == "" {
		renderError(w, r, http.StatusUnauthorized, fmt.Sprintf("missing %s header", ApiKeyHeader))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitRequestSize)
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		renderError(w, r, http.StatusBadRequest, fmt.Sprintf("failed to parse multipart form: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	form, req, err := mappers.SubmitFormFromMultipart(r)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.submitValidator.Struct(req); err != nil {
		renderError(w, r, http.StatusBadRequest, validator.Message(err))
		return
	}

	reply, err := h.submission.Submit(r.Context(), keyID, form)
	if err != nil {
		var rejected *service.ErrApiKeyRejected
		var limited *service.ErrRateLimited
		var invalid *service.ErrInvalidSubmission
		switch {
		case errors.As(err, &rejected):
			renderError(w, r, http.StatusUnauthorized, err.Error())
		case errors.As(err, &limited):
			h.renderRateLimited(w, r, limited)
		case errors.As(err, &invalid):
			renderError(w, r, http.StatusBadRequest, err.Error())
		default:
			logger.Errorw("failed to submit document", "error", err)
			renderError(w, r, http.StatusInternalServerError, err.Error())
		}
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, reply)
}

// renderRateLimited answers 429 with the per-window remainders in both
// the headers and the body, plus a Retry-After hint.
func (h *Handler) renderRateLimited(w http.ResponseWriter, r *http.Request, limited *service.ErrRateLimited) {
	decision := limited.Decision

	for _, window := range ratelimit.Windows {
		status, ok := decision.Windows[window]
		if !ok {
			continue
		}
		header := fmt.Sprintf("X-RateLimit-Remaining-%s", titleWindow(window))
		w.Header().Set(header, fmt.Sprintf("%d", status.Remaining))
	}
	if decision.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int64(math.Ceil(decision.RetryAfter.Seconds()))))
	}

	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, srvMappers.RateLimitToApi(decision))
}

func titleWindow(w ratelimit.Window) string {
	switch w {
	case ratelimit.WindowMinute:
		return "Minute"
	case ratelimit.WindowHour:
		return "Hour"
	default:
		return "Day"
	}
}

// (GET /api/v1/documents/{id}/status)
func (h *Handler) GetDocumentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		renderError(w, r, http.StatusBadRequest, "invalid document id")
		return
	}

	reply, err := h.status.GetStatus(r.Context(), id)
	if err != nil {
		var notFound *service.ErrResourceNotFound
		if errors.As(err, &notFound) {
			renderError(w, r, http.StatusNotFound, err.Error())
			return
		}
		zap.S().Named("document_handler").Errorw("failed to get document status", "document_id", id, "error", err)
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	render.JSON(w, r, reply)
}

// (GET /api/v1/documents/{id}/results)
func (h *Handler) GetDocumentResults(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		renderError(w, r, http.StatusBadRequest, "invalid document id")
		return
	}

	reply, err := h.results.GetResults(r.Context(), id)
	if err != nil {
		var notFound *service.ErrResourceNotFound
		if errors.As(err, &notFound) {
			renderError(w, r, http.StatusNotFound, err.Error())
			return
		}
		zap.S().Named("document_handler").Errorw("failed to get document results", "document_id", id, "error", err)
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	render.JSON(w, r, reply)
}

// (DELETE /api/v1/documents/{id})
func (h *Handler) CancelDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		renderError(w, r, http.StatusBadRequest, "invalid document id")
		return
	}

	reply, err := h.cancel.Cancel(r.Context(), id)
	if err != nil {
		var notFound *service.ErrResourceNotFound
		var finished *service.ErrDocumentFinished
		switch {
		case errors.As(err, &notFound):
			renderError(w, r, http.StatusNotFound, err.Error())
		case errors.As(err, &finished):
			renderError(w, r, http.StatusConflict, err.Error())
		default:
			zap.S().Named("document_handler").Errorw("failed to cancel document", "document_id", id, "error", err)
			renderError(w, r, http.StatusInternalServerError, err.Error())
		}
		return
	}

	render.JSON(w, r, reply)
}
