package results_test

import (
	"context"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/config"
	"github.com/disputeflow/verifier/internal/pipeline"
	"github.com/disputeflow/verifier/internal/results"
	st "github.com/disputeflow/verifier/internal/store"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("result aggregation", Ordered, func() {
	var (
		s      st.Store
		gormDB *gorm.DB
		agg    *results.Aggregator
	)

	record := func(id uuid.UUID, res *pipeline.Result) {
		Expect(agg.RecordStageResult(context.TODO(), id, res)).To(Succeed())
	}

	BeforeAll(func() {
		cfg := config.NewDefault()
		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		s = st.NewStore(db, cfg.Queue.VisibilityTimeout)
		Expect(s.InitialMigration(context.TODO())).To(BeNil())

		agg = results.NewAggregator(s, results.ScoringPolicy{
			OCRWeight:          0.35,
			ComparisonWeight:   0.35,
			AuthenticityWeight: 0.30,
			RejectBelow:        0.45,
			ApproveAt:          0.75,
		})
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormDB.Exec("DELETE from document_results;")
	})

	Context("recording stage output", func() {
		It("writes each stage section to the results row", func() {
			id := uuid.New()
			record(id, &pipeline.Result{
				Stage:      api.StageDocumentValidation,
				Validation: &api.ValidationSummary{FileHash: "abc123"},
			})
			record(id, &pipeline.Result{
				Stage: api.StageOCRExtraction,
				OCR:   &api.OCRSummary{Confidence: api.OCRConfidence{Overall: 0.9}},
			})

			row, err := s.Results().Get(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(row.Validation.Data.FileHash).To(Equal("abc123"))
			Expect(row.OCR.Data.Confidence.Overall).To(BeNumerically("~", 0.9))
			Expect(row.Comparison).To(BeNil())
			Expect(row.Sealed).To(BeFalse())
		})

		It("records nothing when a stage produced no output", func() {
			id := uuid.New()
			record(id, &pipeline.Result{Stage: api.StageDataComparison})

			_, err := s.Results().Get(context.TODO(), id)
			Expect(err).To(MatchError(st.ErrRecordNotFound))
		})

		It("rejects an unknown stage", func() {
			err := agg.RecordStageResult(context.TODO(), uuid.New(), &pipeline.Result{Stage: api.Stage("mystery")})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("sealing", func() {
		It("seals a finished document with its verdict", func() {
			id := uuid.New()
			record(id, &pipeline.Result{
				Stage: api.StageOCRExtraction,
				OCR:   &api.OCRSummary{Confidence: api.OCRConfidence{Overall: 0.9}},
			})
			record(id, &pipeline.Result{
				Stage:      api.StageDataComparison,
				Comparison: &api.ComparisonSummary{OverallMatch: 0.95},
			})
			record(id, &pipeline.Result{
				Stage:        api.StageAIVerification,
				Authenticity: &api.AuthenticityReport{Score: 0.92, Confidence: 0.9},
			})

			row, err := agg.Seal(context.TODO(), id, api.DocumentStatusCompleted)
			Expect(err).To(BeNil())
			Expect(row.Sealed).To(BeTrue())
			Expect(row.ProcessingStatus).To(Equal(string(api.DocumentStatusCompleted)))
			Expect(row.Final).ToNot(BeNil())
			Expect(row.Final.Data.OverallScore).To(BeNumerically("~", 0.9235, 1e-9))
			Expect(row.Final.Data.Recommendation).To(Equal(api.RecommendationApprove))
			Expect(row.Final.Data.RiskLevel).To(Equal(api.RiskLevelLow))
		})

		It("seals a document that never produced output as failed", func() {
			row, err := agg.SealFailure(context.TODO(), uuid.New())
			Expect(err).To(BeNil())
			Expect(row.Sealed).To(BeTrue())
			Expect(row.ProcessingStatus).To(Equal(string(api.DocumentStatusFailed)))
			Expect(row.Final.Data.Recommendation).To(Equal(api.RecommendationReject))
			Expect(row.Final.Data.RequiresManualReview).To(BeTrue())
		})

		It("seals a half-processed document as partial", func() {
			id := uuid.New()
			record(id, &pipeline.Result{
				Stage:      api.StageDocumentValidation,
				Validation: &api.ValidationSummary{FileHash: "abc123"},
			})

			row, err := agg.SealFailure(context.TODO(), id)
			Expect(err).To(BeNil())
			Expect(row.ProcessingStatus).To(Equal(string(api.DocumentStatusPartial)))
		})

		It("refuses stage writes after sealing", func() {
			id := uuid.New()
			_, err := agg.Seal(context.TODO(), id, api.DocumentStatusCompleted)
			Expect(err).To(BeNil())

			err = agg.RecordStageResult(context.TODO(), id, &pipeline.Result{
				Stage:      api.StageDocumentValidation,
				Validation: &api.ValidationSummary{FileHash: "late"},
			})
			Expect(err).To(MatchError(st.ErrResultSealed))
		})
	})
})
