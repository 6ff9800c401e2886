package v1

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/disputeflow/verifier/internal/handlers/v1/mappers"
	"github.com/disputeflow/verifier/internal/service"
)

const (
	defaultDeadLetterLimit = 100
	maxDeadLetterLimit     = 1000
)

func (h *Handler) deadLetterFilterFromQuery(r *http.Request) (service.DeadLetterFilter, error) {
	query := r.URL.Query()

	filter := service.DeadLetterFilter{
		Stage:         query.Get("stage"),
		DocumentID:    query.Get("documentId"),
		OnlyPending:   query.Get("pending") == "true",
		OnlyRetryable: query.Get("retryable") == "true",
		Limit:         defaultDeadLetterLimit,
	}

	if filter.Stage != "" {
		if err := h.deadLetterValidator.Var(filter.Stage, "stage_name"); err != nil {
			return filter, errors.New("unknown stage " + strconv.Quote(filter.Stage))
		}
	}
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxDeadLetterLimit {
			return filter, errors.New("limit must be between 1 and " + strconv.Itoa(maxDeadLetterLimit))
		}
		filter.Limit = limit
	}
	if v := query.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, errors.New("offset must not be negative")
		}
		filter.Offset = offset
	}

	return filter, nil
}

// (GET /api/v1/deadletters)
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	filter, err := h.deadLetterFilterFromQuery(r)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	replies, err := h.deadLetters.List(r.Context(), filter)
	if err != nil {
		zap.S().Named("deadletter_handler").Errorw("failed to list dead letters", "error", err)
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	render.JSON(w, r, replies)
}

// (POST /api/v1/deadletters/{id}/requeue)
func (h *Handler) RequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		renderError(w, r, http.StatusBadRequest, "invalid dead letter id")
		return
	}

	// The body is optional; its requeuedBy field overrides the api key
	// as the audit identity.
	var req mappers.RequeueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		renderError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	operator := req.RequeuedBy
	if operator == "" {
		operator = r.Header.Get(ApiKeyHeader)
	}
	if operator == "" {
		operator = "unknown"
	}

	reply, err := h.deadLetters.Requeue(r.Context(), id, operator)
	if err != nil {
		var notFound *service.ErrResourceNotFound
		var notRetryable *service.ErrDeadLetterNotRetryable
		var requeued *service.ErrDeadLetterAlreadyRequeued
		switch {
		case errors.As(err, &notFound):
			renderError(w, r, http.StatusNotFound, err.Error())
		case errors.As(err, &notRetryable):
			renderError(w, r, http.StatusConflict, err.Error())
		case errors.As(err, &requeued):
			renderError(w, r, http.StatusConflict, err.Error())
		default:
			zap.S().Named("deadletter_handler").Errorw("failed to requeue dead letter", "entry_id", id, "error", err)
			renderError(w, r, http.StatusInternalServerError, err.Error())
		}
		return
	}

	render.JSON(w, r, reply)
}

// (DELETE /api/v1/deadletters/{id})
func (h *Handler) DiscardDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		renderError(w, r, http.StatusBadRequest, "invalid dead letter id")
		return
	}

	if err := h.deadLetters.Discard(r.Context(), id); err != nil {
		var notFound *service.ErrResourceNotFound
		if errors.As(err, &notFound) {
			renderError(w, r, http.StatusNotFound, err.Error())
			return
		}
		zap.S().Named("deadletter_handler").Errorw("failed to discard dead letter", "entry_id", id, "error", err)
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	render.NoContent(w, r)
}
