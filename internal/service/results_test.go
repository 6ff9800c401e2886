package service_test

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/config"
	"github.com/disputeflow/verifier/internal/service"
	st "github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
)

var _ = Describe("results service", Ordered, func() {
	var (
		cfg    *config.Config
		s      st.Store
		gormDB *gorm.DB
		svc    *service.ResultsService
	)

	seedDoc := func(status api.DocumentStatus) uuid.UUID {
		id := uuid.New()
		_, err := s.Document().Create(context.TODO(), model.Document{
			ID:            id,
			UserID:        "user-1",
			TransactionID: "txn-1001",
			FileName:      "receipt.pdf",
			Status:        string(status),
			CurrentStage:  string(api.StageDocumentValidation),
			Priority:      string(api.PriorityMedium),
			SubmittedAt:   time.Now().UTC(),
		})
		Expect(err).To(BeNil())
		return id
	}

	BeforeAll(func() {
		cfg = config.NewDefault()

		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		s = st.NewStore(db, cfg.Queue.VisibilityTimeout)
		Expect(s.InitialMigration(context.TODO())).To(BeNil())

		svc = service.NewResultsService(s)
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormDB.Exec("DELETE from documents;")
		gormDB.Exec("DELETE from document_results;")
	})

	It("returns a pending view before the first stage lands", func() {
		id := seedDoc(api.DocumentStatusProcessing)

		results, err := svc.GetResults(context.TODO(), id)
		Expect(err).To(BeNil())
		Expect(results.DocumentID).To(Equal(id))
		Expect(results.ProcessingStatus).To(Equal(api.DocumentStatusProcessing))
		Expect(results.Sealed).To(BeFalse())
		Expect(results.Validation).To(BeNil())
		Expect(results.FinalAssessment).To(BeNil())
	})

	It("returns sections recorded so far", func() {
		id := seedDoc(api.DocumentStatusProcessing)
		Expect(s.Results().SetValidation(context.TODO(), id, api.ValidationSummary{FileHash: "ff00aa"})).To(Succeed())

		results, err := svc.GetResults(context.TODO(), id)
		Expect(err).To(BeNil())
		Expect(results.Sealed).To(BeFalse())
		Expect(results.Validation).ToNot(BeNil())
		Expect(results.Validation.FileHash).To(Equal("ff00aa"))
		Expect(results.OCR).To(BeNil())
	})

	It("returns the sealed verdict", func() {
		id := seedDoc(api.DocumentStatusCompleted)
		Expect(s.Results().SetValidation(context.TODO(), id, api.ValidationSummary{FileHash: "ff00aa"})).To(Succeed())
		_, err := s.Results().Seal(context.TODO(), id, api.FinalAssessment{
			OverallScore:   0.91,
			Recommendation: api.RecommendationApprove,
			RiskLevel:      api.RiskLevelLow,
		}, string(api.DocumentStatusCompleted))
		Expect(err).To(BeNil())

		results, err := svc.GetResults(context.TODO(), id)
		Expect(err).To(BeNil())
		Expect(results.Sealed).To(BeTrue())
		Expect(results.ProcessingStatus).To(Equal(api.DocumentStatusCompleted))
		Expect(results.FinalAssessment).ToNot(BeNil())
		Expect(results.FinalAssessment.Recommendation).To(Equal(api.RecommendationApprove))
	})

	It("fails for unknown documents", func() {
		_, err := svc.GetResults(context.TODO(), uuid.New())

		var notFound *service.ErrResourceNotFound
		Expect(errors.As(err, &notFound)).To(BeTrue())
	})
})
