package v1

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// (GET /api/v1/exports/deadletters)
func (h *Handler) ExportDeadLetters(w http.ResponseWriter, r *http.Request) {
	filter, err := h.deadLetterFilterFromQuery(r)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// exports are not paginated
	filter.Limit = 0
	filter.Offset = 0

	workbook, err := h.exports.ExportDeadLetters(r.Context(), filter)
	if err != nil {
		zap.S().Named("export_handler").Errorw("failed to export dead letters", "error", err)
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	serveWorkbook(w, workbook, fmt.Sprintf("dead-letters-%s.xlsx", time.Now().UTC().Format("2006-01-02")))
}

// (GET /api/v1/exports/assessments)
func (h *Handler) ExportAssessments(w http.ResponseWriter, r *http.Request) {
	workbook, err := h.exports.ExportAssessments(r.Context())
	if err != nil {
		zap.S().Named("export_handler").Errorw("failed to export assessments", "error", err)
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	serveWorkbook(w, workbook, fmt.Sprintf("assessments-%s.xlsx", time.Now().UTC().Format("2006-01-02")))
}

func serveWorkbook(w http.ResponseWriter, workbook []byte, name string) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(workbook)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	_, _ = w.Write(workbook)
}
