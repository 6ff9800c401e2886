package pipeline

import (
	"context"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/store/model"
)

// Result is the output of one completed stage. The section matching the
// stage is set; all others stay nil. A stage may also complete with no
// section at all (a skipped comparison).
type Result struct {
	Stage        api.Stage
	Validation   *api.ValidationSummary
	Upload       *api.UploadSummary
	OCR          *api.OCRSummary
	Comparison   *api.ComparisonSummary
	Authenticity *api.AuthenticityReport
}

// Handler executes one pipeline stage for a claimed message.
type Handler interface {
	Stage() api.Stage
	Run(ctx context.Context, msg *model.QueueMessage) (*Result, error)
}

// Handlers routes claimed messages to the handler owning their stage.
type Handlers struct {
	byStage map[string]Handler
}

func NewHandlers(handlers ...Handler) *Handlers {
	h := &Handlers{byStage: make(map[string]Handler, len(handlers))}
	for _, handler := range handlers {
		h.byStage[string(handler.Stage())] = handler
	}
	return h
}

func (h *Handlers) For(stage string) (Handler, bool) {
	handler, ok := h.byStage[stage]
	return handler, ok
}

// Stages lists the stages this set of handlers can claim.
func (h *Handlers) Stages() []string {
	stages := make([]string, 0, len(h.byStage))
	for _, stage := range api.PipelineStages {
		if _, ok := h.byStage[string(stage)]; ok {
			stages = append(stages, string(stage))
		}
	}
	return stages
}
