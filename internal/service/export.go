package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/disputeflow/verifier/internal/service/mappers"
	"github.com/disputeflow/verifier/internal/store"
)

// ExportService renders operator reports as XLSX workbooks.
type ExportService struct {
	store store.Store
	log   *zap.SugaredLogger
}

func NewExportService(s store.Store) *ExportService {
	return &ExportService{
		store: s,
		log:   zap.S().Named("export_service"),
	}
}

// ExportDeadLetters returns the dead letter queue as a workbook, newest
// failures first.
func (s *ExportService) ExportDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]byte, error) {
	start := time.Now()

	storeFilter := store.NewDeadLetterQueryFilter()
	if filter.Stage != "" {
		storeFilter = storeFilter.ByStage(filter.Stage)
	}
	if filter.OnlyPending {
		storeFilter = storeFilter.OnlyPending()
	}

	entries, err := s.store.DeadLetter().List(ctx, storeFilter,
		store.NewDeadLetterQueryOptions().WithSortOrder(store.SortByFailedTime))
	if err != nil {
		return nil, err
	}

	f, sheet, err := newWorkbook("Dead Letters")
	if err != nil {
		return nil, err
	}

	writeHeader(f, sheet, []string{
		"Entry ID", "Document ID", "Stage", "Failure Reason", "Last Error",
		"Retry Attempts", "Failed At", "Can Retry", "Requeued At", "Requeued By",
	})

	for i, entry := range entries {
		reply := mappers.DeadLetterToApi(entry)
		row := i + 2
		writeCell(f, sheet, 1, row, reply.ID.String())
		writeCell(f, sheet, 2, row, reply.DocumentID.String())
		writeCell(f, sheet, 3, row, string(reply.Stage))
		writeCell(f, sheet, 4, row, reply.FailureReason)
		writeCell(f, sheet, 5, row, reply.LastError)
		writeCell(f, sheet, 6, row, reply.RetryAttempts)
		writeCell(f, sheet, 7, row, reply.FailedAt.Format(time.RFC3339))
		writeCell(f, sheet, 8, row, reply.CanRetry)
		if reply.RequeuedAt != nil {
			writeCell(f, sheet, 9, row, reply.RequeuedAt.Format(time.RFC3339))
		}
		writeCell(f, sheet, 10, row, reply.RequeuedBy)
	}

	_ = f.SetColWidth(sheet, "A", "B", 38)
	_ = f.SetColWidth(sheet, "C", "C", 20)
	_ = f.SetColWidth(sheet, "D", "E", 48)
	_ = f.SetColWidth(sheet, "G", "G", 22)
	_ = f.SetColWidth(sheet, "I", "I", 22)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.log.Infow("dead letters exported",
		"rows", len(entries),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// ExportAssessments returns all sealed verdicts as a workbook.
func (s *ExportService) ExportAssessments(ctx context.Context) ([]byte, error) {
	start := time.Now()

	rows, err := s.store.Results().List(ctx,
		store.NewResultsQueryFilter().OnlySealed(),
		store.NewResultsQueryOptions().WithSortOrder(store.SortByUpdatedTime))
	if err != nil {
		return nil, err
	}

	f, sheet, err := newWorkbook("Assessments")
	if err != nil {
		return nil, err
	}

	writeHeader(f, sheet, []string{
		"Document ID", "Status", "Overall Score", "Recommendation",
		"Risk Level", "Manual Review", "Discrepancies", "Sealed At",
	})

	for i, result := range rows {
		row := i + 2
		writeCell(f, sheet, 1, row, result.DocumentID.String())
		writeCell(f, sheet, 2, row, result.ProcessingStatus)

		if result.Final != nil {
			final := result.Final.Data
			writeCell(f, sheet, 3, row, final.OverallScore)
			writeCell(f, sheet, 4, row, string(final.Recommendation))
			writeCell(f, sheet, 5, row, string(final.RiskLevel))
			writeCell(f, sheet, 6, row, final.RequiresManualReview)
		}
		if result.Comparison != nil {
			writeCell(f, sheet, 7, row, len(result.Comparison.Data.Discrepancies))
		}
		writeCell(f, sheet, 8, row, result.UpdatedAt.Format(time.RFC3339))
	}

	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "F", 16)
	_ = f.SetColWidth(sheet, "H", "H", 22)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.log.Infow("assessments exported",
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func newWorkbook(sheet string) (*excelize.File, string, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, "", err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, "", err
	}
	return f, sheet, nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		writeCell(f, sheet, i+1, 1, h)
	}
}

func writeCell(f *excelize.File, sheet string, col, row int, v any) {
	cell, _ := excelize.CoordinatesToCellName(col, row)
	_ = f.SetCellValue(sheet, cell, v)
}
