package service_test

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/config"
	"github.com/disputeflow/verifier/internal/service"
	st "github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
)

var _ = Describe("export service", Ordered, func() {
	var (
		cfg    *config.Config
		s      st.Store
		gormDB *gorm.DB
		svc    *service.ExportService
	)

	deadLetter := func(stage api.Stage, canRetry bool) *model.DeadLetterEntry {
		msg, err := s.Queue().Enqueue(context.TODO(), model.QueueMessage{
			DocumentID:    uuid.New(),
			Stage:         string(stage),
			UserID:        "user-1",
			TransactionID: "txn-1001",
			Priority:      string(api.PriorityMedium),
			MaxRetries:    3,
		})
		Expect(err).To(BeNil())
		msg.RetryCount = 3

		entry, err := s.DeadLetter().Push(context.TODO(), msg, "retries exhausted", "ocr upstream timed out", canRetry)
		Expect(err).To(BeNil())
		return entry
	}

	sealedAssessment := func(status api.DocumentStatus, final api.FinalAssessment, discrepancies int) uuid.UUID {
		id := uuid.New()
		comparison := api.ComparisonSummary{OverallMatch: 0.9}
		for i := 0; i < discrepancies; i++ {
			comparison.Discrepancies = append(comparison.Discrepancies, api.Discrepancy{
				Field:  "amount",
				Impact: api.SeverityMedium,
			})
		}
		Expect(s.Results().SetComparison(context.TODO(), id, comparison)).To(Succeed())
		_, err := s.Results().Seal(context.TODO(), id, final, string(status))
		Expect(err).To(BeNil())
		return id
	}

	sheetRows := func(b []byte, sheet string) [][]string {
		f, err := excelize.OpenReader(bytes.NewReader(b))
		Expect(err).To(BeNil())
		defer f.Close()

		rows, err := f.GetRows(sheet)
		Expect(err).To(BeNil())
		return rows
	}

	BeforeAll(func() {
		cfg = config.NewDefault()

		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		s = st.NewStore(db, cfg.Queue.VisibilityTimeout)
		Expect(s.InitialMigration(context.TODO())).To(BeNil())

		svc = service.NewExportService(s)
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormDB.Exec("DELETE from document_results;")
		gormDB.Exec("DELETE from queue_messages;")
		gormDB.Exec("DELETE from dead_letter_entries;")
	})

	It("exports dead letter entries as a workbook", func() {
		entry := deadLetter(api.StageOCRExtraction, true)
		deadLetter(api.StageDocumentValidation, false)

		b, err := svc.ExportDeadLetters(context.TODO(), service.DeadLetterFilter{})
		Expect(err).To(BeNil())

		rows := sheetRows(b, "Dead Letters")
		Expect(rows).To(HaveLen(3))
		Expect(rows[0]).To(Equal([]string{
			"Entry ID", "Document ID", "Stage", "Failure Reason", "Last Error",
			"Retry Attempts", "Failed At", "Can Retry", "Requeued At", "Requeued By",
		}))

		var found []string
		for _, row := range rows[1:] {
			if row[0] == entry.ID.String() {
				found = row
			}
		}
		Expect(found).ToNot(BeNil())
		Expect(found[1]).To(Equal(entry.DocumentID.String()))
		Expect(found[2]).To(Equal(string(api.StageOCRExtraction)))
		Expect(found[3]).To(Equal("retries exhausted"))
		Expect(found[5]).To(Equal("3"))
		Expect(found[7]).To(Equal("TRUE"))
	})

	It("narrows the dead letter export with the filter", func() {
		entry := deadLetter(api.StageOCRExtraction, true)
		deadLetter(api.StageDocumentValidation, false)
		_, err := s.DeadLetter().Requeue(context.TODO(), entry.ID, "ops@example.com")
		Expect(err).To(BeNil())

		b, err := svc.ExportDeadLetters(context.TODO(), service.DeadLetterFilter{OnlyPending: true})
		Expect(err).To(BeNil())

		rows := sheetRows(b, "Dead Letters")
		Expect(rows).To(HaveLen(2))
		Expect(rows[1][2]).To(Equal(string(api.StageDocumentValidation)))
	})

	It("exports only sealed assessments", func() {
		approved := sealedAssessment(api.DocumentStatusCompleted, api.FinalAssessment{
			OverallScore:   0.91,
			Recommendation: api.RecommendationApprove,
			RiskLevel:      api.RiskLevelLow,
		}, 0)
		flagged := sealedAssessment(api.DocumentStatusCompleted, api.FinalAssessment{
			OverallScore:         0.52,
			Recommendation:       api.RecommendationReview,
			RiskLevel:            api.RiskLevelMedium,
			RequiresManualReview: true,
		}, 2)
		Expect(s.Results().SetValidation(context.TODO(), uuid.New(), api.ValidationSummary{FileHash: "ff00aa"})).To(Succeed())

		b, err := svc.ExportAssessments(context.TODO())
		Expect(err).To(BeNil())

		rows := sheetRows(b, "Assessments")
		Expect(rows).To(HaveLen(3))
		Expect(rows[0]).To(Equal([]string{
			"Document ID", "Status", "Overall Score", "Recommendation",
			"Risk Level", "Manual Review", "Discrepancies", "Sealed At",
		}))

		byID := map[string][]string{}
		for _, row := range rows[1:] {
			byID[row[0]] = row
		}
		Expect(byID).To(HaveKey(approved.String()))
		Expect(byID).To(HaveKey(flagged.String()))
		Expect(byID[approved.String()][3]).To(Equal(string(api.RecommendationApprove)))
		Expect(byID[flagged.String()][5]).To(Equal("TRUE"))
		Expect(byID[flagged.String()][6]).To(Equal("2"))
	})
})
