package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/handlers/validator"
	"github.com/disputeflow/verifier/internal/service"
	"github.com/disputeflow/verifier/pkg/requestid"
)

// ApiKeyHeader carries the caller's admission identity. It is an
// identifier, not a credential: admission control and quota accounting
// key off it, authentication is out of scope.
const ApiKeyHeader = "X-API-Key"

type Handler struct {
	submission  *service.SubmissionService
	status      *service.StatusService
	results     *service.ResultsService
	cancel      *service.CancelService
	deadLetters *service.DeadLetterService
	exports     *service.ExportService

	submitValidator     *validator.Validator
	deadLetterValidator *validator.Validator
}

func NewHandler(
	submission *service.SubmissionService,
	status *service.StatusService,
	results *service.ResultsService,
	cancel *service.CancelService,
	deadLetters *service.DeadLetterService,
	exports *service.ExportService,
) *Handler {
	submitValidator := validator.NewValidator()
	submitValidator.Register(validator.NewSubmitValidationRules()...)

	deadLetterValidator := validator.NewValidator()
	deadLetterValidator.Register(validator.NewDeadLetterValidationRules()...)

	return &Handler{
		submission:          submission,
		status:              status,
		results:             results,
		cancel:              cancel,
		deadLetters:         deadLetters,
		exports:             exports,
		submitValidator:     submitValidator,
		deadLetterValidator: deadLetterValidator,
	}
}

func (h *Handler) Routes(router chi.Router) {
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", h.SubmitDocument)
		r.Get("/documents/{id}/status", h.GetDocumentStatus)
		r.Get("/documents/{id}/results", h.GetDocumentResults)
		r.Delete("/documents/{id}", h.CancelDocument)

		r.Get("/queue/stats", h.GetQueueStats)

		r.Get("/deadletters", h.ListDeadLetters)
		r.Post("/deadletters/{id}/requeue", h.RequeueDeadLetter)
		r.Delete("/deadletters/{id}", h.DiscardDeadLetter)

		r.Get("/exports/deadletters", h.ExportDeadLetters)
		r.Get("/exports/assessments", h.ExportAssessments)
	})
}

func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, api.Error{Message: message, RequestId: requestid.FromContextPtr(r.Context())})
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}
