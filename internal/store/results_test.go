package store_test

import (
	"context"
	"errors"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/config"
	st "github.com/disputeflow/verifier/internal/store"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("results store", Ordered, func() {
	var (
		s      st.Store
		gormDB *gorm.DB
	)

	BeforeAll(func() {
		cfg := config.NewDefault()
		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		s = st.NewStore(db, cfg.Queue.VisibilityTimeout)
		Expect(s.InitialMigration(context.TODO())).To(BeNil())
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormDB.Exec("DELETE from document_results;")
	})

	Context("stage sections", func() {
		It("creates the row on first write and accumulates sections", func() {
			docID := uuid.New()

			err := s.Results().SetValidation(context.TODO(), docID, api.ValidationSummary{
				FileHash: "sha256:abcd",
				Warnings: []string{"low resolution scan"},
			})
			Expect(err).To(BeNil())

			err = s.Results().SetOCR(context.TODO(), docID, api.OCRSummary{
				Fields:     map[string]string{"amount": "125.50"},
				RawTextLen: 2048,
				Confidence: api.OCRConfidence{Overall: 0.91},
			})
			Expect(err).To(BeNil())

			row, err := s.Results().Get(context.TODO(), docID)
			Expect(err).To(BeNil())
			Expect(row.ProcessingStatus).To(Equal("processing"))
			Expect(row.Sealed).To(BeFalse())
			Expect(row.Validation).ToNot(BeNil())
			Expect(row.Validation.Data.FileHash).To(Equal("sha256:abcd"))
			Expect(row.OCR).ToNot(BeNil())
			Expect(row.OCR.Data.Confidence.Overall).To(BeNumerically("~", 0.91, 0.001))
			Expect(row.Comparison).To(BeNil())
		})

		It("overwrites a section on repeated writes", func() {
			docID := uuid.New()

			Expect(s.Results().SetOCR(context.TODO(), docID, api.OCRSummary{RawTextLen: 10})).To(BeNil())
			Expect(s.Results().SetOCR(context.TODO(), docID, api.OCRSummary{RawTextLen: 20})).To(BeNil())

			row, err := s.Results().Get(context.TODO(), docID)
			Expect(err).To(BeNil())
			Expect(row.OCR.Data.RawTextLen).To(Equal(20))
		})
	})

	Context("seal", func() {
		It("freezes the row against further stage writes", func() {
			docID := uuid.New()

			Expect(s.Results().SetValidation(context.TODO(), docID, api.ValidationSummary{FileHash: "sha256:abcd"})).To(BeNil())

			sealed, err := s.Results().Seal(context.TODO(), docID, api.FinalAssessment{
				OverallScore:   0.88,
				Recommendation: api.RecommendationApprove,
				RiskLevel:      api.RiskLevelLow,
			}, "completed")
			Expect(err).To(BeNil())
			Expect(sealed.Sealed).To(BeTrue())
			Expect(sealed.ProcessingStatus).To(Equal("completed"))

			err = s.Results().SetOCR(context.TODO(), docID, api.OCRSummary{RawTextLen: 5})
			Expect(errors.Is(err, st.ErrResultSealed)).To(BeTrue())
		})

		It("keeps the first verdict on repeated seals", func() {
			docID := uuid.New()

			first, err := s.Results().Seal(context.TODO(), docID, api.FinalAssessment{
				OverallScore:   0.30,
				Recommendation: api.RecommendationReject,
				RiskLevel:      api.RiskLevelHigh,
			}, "failed")
			Expect(err).To(BeNil())
			Expect(first.Sealed).To(BeTrue())

			second, err := s.Results().Seal(context.TODO(), docID, api.FinalAssessment{
				OverallScore:   0.99,
				Recommendation: api.RecommendationApprove,
				RiskLevel:      api.RiskLevelLow,
			}, "completed")
			Expect(err).To(BeNil())
			Expect(second.ProcessingStatus).To(Equal("failed"))
			Expect(second.Final.Data.Recommendation).To(Equal(api.RecommendationReject))
			Expect(second.Final.Data.OverallScore).To(BeNumerically("~", 0.30, 0.001))
		})
	})
})
