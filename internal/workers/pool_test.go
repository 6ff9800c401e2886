package workers_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/config"
	"github.com/disputeflow/verifier/internal/events"
	"github.com/disputeflow/verifier/internal/pipeline"
	"github.com/disputeflow/verifier/internal/results"
	st "github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
	"github.com/disputeflow/verifier/internal/workers"
)

type stubHandler struct {
	stage api.Stage
	calls atomic.Int32
	run   func(ctx context.Context, msg *model.QueueMessage) (*pipeline.Result, error)
}

func (h *stubHandler) Stage() api.Stage { return h.stage }

func (h *stubHandler) Run(ctx context.Context, msg *model.QueueMessage) (*pipeline.Result, error) {
	h.calls.Add(1)
	return h.run(ctx, msg)
}

func sectionResult(stage api.Stage) *pipeline.Result {
	res := &pipeline.Result{Stage: stage}
	switch stage {
	case api.StageDocumentValidation:
		res.Validation = &api.ValidationSummary{FileHash: "aabbccddee"}
	case api.StageS3Upload:
		res.Upload = &api.UploadSummary{ObjectKey: "disputes/user-1/receipt.pdf"}
	case api.StageOCRExtraction:
		res.OCR = &api.OCRSummary{
			Fields:     map[string]string{"amount": "125.50"},
			Confidence: api.OCRConfidence{Overall: 0.9},
		}
	case api.StageDataComparison:
		res.Comparison = &api.ComparisonSummary{OverallMatch: 0.95}
	case api.StageAIVerification:
		res.Authenticity = &api.AuthenticityReport{Score: 0.92, Confidence: 0.9}
	}
	return res
}

type capturingWriter struct {
	mu    sync.Mutex
	types []string
}

func (w *capturingWriter) Write(_ context.Context, _ string, e cloudevents.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.types = append(w.types, e.Type())
	return nil
}

func (w *capturingWriter) Close(_ context.Context) error { return nil }

func (w *capturingWriter) Types() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.types))
	copy(out, w.types)
	return out
}

var _ = Describe("worker pool", Ordered, func() {
	var (
		cfg    *config.Config
		s      st.Store
		gormDB *gorm.DB
		agg    *results.Aggregator

		stubs map[api.Stage]*stubHandler
		pool  *workers.Pool
	)

	okStub := func(stage api.Stage) *stubHandler {
		return &stubHandler{stage: stage, run: func(_ context.Context, _ *model.QueueMessage) (*pipeline.Result, error) {
			return sectionResult(stage), nil
		}}
	}

	startPool := func(producer *events.EventProducer) {
		hs := make([]pipeline.Handler, 0, len(stubs))
		for _, stage := range api.PipelineStages {
			hs = append(hs, stubs[stage])
		}
		pool = workers.NewPool(cfg, s, pipeline.NewHandlers(hs...), agg, producer)
		pool.Start(context.Background())
	}

	seed := func(status api.DocumentStatus, stagingPath string) uuid.UUID {
		id := uuid.New()
		_, err := s.Document().Create(context.TODO(), model.Document{
			ID:            id,
			UserID:        "user-1",
			TransactionID: "txn-1",
			FileName:      "receipt.pdf",
			FileSize:      1000,
			ContentType:   "application/pdf",
			Status:        string(status),
			CurrentStage:  string(api.StageDocumentValidation),
			Priority:      string(api.PriorityMedium),
			StagingPath:   stagingPath,
			SubmittedAt:   time.Now().UTC(),
		})
		Expect(err).To(BeNil())

		_, err = s.Queue().Enqueue(context.TODO(), model.QueueMessage{
			DocumentID:       id,
			Stage:            string(api.StageDocumentValidation),
			Priority:         string(api.PriorityMedium),
			UserID:           "user-1",
			TransactionID:    "txn-1",
			OriginalFileName: "receipt.pdf",
			FileSize:         1000,
			ContentType:      "application/pdf",
			MaxRetries:       cfg.Queue.MaxRetries,
		})
		Expect(err).To(BeNil())
		return id
	}

	docStatus := func(id uuid.UUID) func() string {
		return func() string {
			doc, err := s.Document().Get(context.TODO(), id)
			if err != nil {
				return ""
			}
			return doc.Status
		}
	}

	stagingFile := func(name string) string {
		path := filepath.Join(GinkgoT().TempDir(), name)
		Expect(os.WriteFile(path, []byte("%PDF-1.7 body"), 0o600)).To(Succeed())
		return path
	}

	BeforeAll(func() {
		cfg = config.NewDefault()
		cfg.Queue.StageTimeout = 250 * time.Millisecond

		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		s = st.NewStore(db, cfg.Queue.VisibilityTimeout)
		Expect(s.InitialMigration(context.TODO())).To(BeNil())

		agg = results.NewAggregator(s, results.ScoringPolicy{
			OCRWeight:          cfg.Scoring.OCRWeight,
			ComparisonWeight:   cfg.Scoring.ComparisonWeight,
			AuthenticityWeight: cfg.Scoring.AuthenticityWeight,
			RejectBelow:        cfg.Scoring.RejectBelow,
			ApproveAt:          cfg.Scoring.ApproveAt,
		})
	})

	AfterAll(func() {
		s.Close()
	})

	BeforeEach(func() {
		stubs = map[api.Stage]*stubHandler{}
		for _, stage := range api.PipelineStages {
			stubs[stage] = okStub(stage)
		}
	})

	AfterEach(func() {
		if pool != nil {
			Expect(pool.Stop()).To(BeNil())
			pool = nil
		}
		gormDB.Exec("DELETE from documents;")
		gormDB.Exec("DELETE from document_results;")
		gormDB.Exec("DELETE from queue_messages;")
		gormDB.Exec("DELETE from dead_letter_entries;")
	})

	It("drives a document through every stage to completion", func() {
		w := &capturingWriter{}
		producer := events.NewEventProducer(w)
		defer producer.Close()

		staging := stagingFile("receipt.pdf")
		id := seed(api.DocumentStatusProcessing, staging)
		startPool(producer)

		Eventually(docStatus(id), "5s", "20ms").Should(Equal(string(api.DocumentStatusCompleted)))

		row, err := s.Results().Get(context.TODO(), id)
		Expect(err).To(BeNil())
		Expect(row.Sealed).To(BeTrue())
		Expect(row.ProcessingStatus).To(Equal(string(api.DocumentStatusCompleted)))
		Expect(row.Validation).ToNot(BeNil())
		Expect(row.Upload).ToNot(BeNil())
		Expect(row.OCR).ToNot(BeNil())
		Expect(row.Comparison).ToNot(BeNil())
		Expect(row.Authenticity).ToNot(BeNil())
		Expect(row.Final).ToNot(BeNil())
		Expect(row.Final.Data.Recommendation).To(Equal(api.RecommendationApprove))

		for _, stage := range api.PipelineStages {
			Expect(stubs[stage].calls.Load()).To(Equal(int32(1)), string(stage))
		}

		doc, err := s.Document().Get(context.TODO(), id)
		Expect(err).To(BeNil())
		Expect(doc.CompletedAt).ToNot(BeNil())

		stats, err := s.Queue().Stats(context.TODO())
		Expect(err).To(BeNil())
		Expect(stats.TotalQueued).To(BeZero())
		Expect(stats.TotalClaimed).To(BeZero())

		Eventually(func() bool {
			_, err := os.Stat(staging)
			return os.IsNotExist(err)
		}, "2s", "20ms").Should(BeTrue())

		Eventually(func() int { return len(w.Types()) }, "2s", "20ms").Should(BeNumerically(">=", 6))
		completed, sealed := 0, 0
		for _, kind := range w.Types() {
			switch kind {
			case events.StageCompletedKind:
				completed++
			case events.ResultsSealedKind:
				sealed++
			}
		}
		Expect(completed).To(Equal(5))
		Expect(sealed).To(Equal(1))
	})

	It("retries transient failures until they pass", func() {
		var remaining atomic.Int32
		remaining.Store(2)
		stubs[api.StageOCRExtraction].run = func(_ context.Context, _ *model.QueueMessage) (*pipeline.Result, error) {
			if remaining.Add(-1) >= 0 {
				return nil, pipeline.NewTransientError("ocr call", errors.New("upstream hiccup"))
			}
			return sectionResult(api.StageOCRExtraction), nil
		}

		id := seed(api.DocumentStatusProcessing, "")
		startPool(nil)

		Eventually(docStatus(id), "5s", "20ms").Should(Equal(string(api.DocumentStatusCompleted)))
		Expect(stubs[api.StageOCRExtraction].calls.Load()).To(Equal(int32(3)))

		pending, err := s.DeadLetter().PendingCount(context.TODO())
		Expect(err).To(BeNil())
		Expect(pending).To(BeZero())
	})

	It("dead letters permanent failures without retrying", func() {
		stubs[api.StageDocumentValidation].run = func(_ context.Context, msg *model.QueueMessage) (*pipeline.Result, error) {
			return nil, pipeline.NewValidationError("file %q is not a supported document", msg.OriginalFileName)
		}

		id := seed(api.DocumentStatusProcessing, "")
		startPool(nil)

		Eventually(docStatus(id), "5s", "20ms").Should(Equal(string(api.DocumentStatusFailed)))
		Expect(stubs[api.StageDocumentValidation].calls.Load()).To(Equal(int32(1)))

		entries, err := s.DeadLetter().List(context.TODO(), nil, nil)
		Expect(err).To(BeNil())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].DocumentID).To(Equal(id))
		Expect(entries[0].Stage).To(Equal(string(api.StageDocumentValidation)))
		Expect(entries[0].CanRetry).To(BeFalse())
		Expect(entries[0].FailureReason).To(Equal("permanent failure"))

		row, err := s.Results().Get(context.TODO(), id)
		Expect(err).To(BeNil())
		Expect(row.Sealed).To(BeTrue())
		Expect(row.ProcessingStatus).To(Equal(string(api.DocumentStatusFailed)))
	})

	It("dead letters retryable failures once the budget is spent", func() {
		stubs[api.StageS3Upload].run = func(_ context.Context, _ *model.QueueMessage) (*pipeline.Result, error) {
			return nil, pipeline.NewInfraError("put object", errors.New("bucket offline"))
		}

		id := seed(api.DocumentStatusProcessing, "")
		startPool(nil)

		Eventually(docStatus(id), "5s", "20ms").Should(Equal(string(api.DocumentStatusPartial)))
		// first attempt plus every retry
		Expect(stubs[api.StageS3Upload].calls.Load()).To(Equal(int32(cfg.Queue.MaxRetries + 1)))

		entries, err := s.DeadLetter().List(context.TODO(), nil, nil)
		Expect(err).To(BeNil())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].CanRetry).To(BeTrue())
		Expect(entries[0].FailureReason).To(Equal("retries exhausted"))
		Expect(entries[0].RetryAttempts).To(Equal(cfg.Queue.MaxRetries))

		row, err := s.Results().Get(context.TODO(), id)
		Expect(err).To(BeNil())
		Expect(row.ProcessingStatus).To(Equal(string(api.DocumentStatusPartial)))
	})

	It("times out a hung handler and treats it as retryable", func() {
		stubs[api.StageDocumentValidation].run = func(ctx context.Context, _ *model.QueueMessage) (*pipeline.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}

		id := seed(api.DocumentStatusProcessing, "")
		startPool(nil)

		Eventually(docStatus(id), "10s", "20ms").Should(Equal(string(api.DocumentStatusFailed)))
		Expect(stubs[api.StageDocumentValidation].calls.Load()).To(Equal(int32(cfg.Queue.MaxRetries + 1)))

		entries, err := s.DeadLetter().List(context.TODO(), nil, nil)
		Expect(err).To(BeNil())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].CanRetry).To(BeTrue())
	})

	It("drops messages for cancelled documents at the claim boundary", func() {
		staging := stagingFile("cancelled.pdf")
		id := seed(api.DocumentStatusCancelled, staging)
		startPool(nil)

		Eventually(func() int64 {
			stats, err := s.Queue().Stats(context.TODO())
			if err != nil {
				return -1
			}
			return stats.TotalQueued + stats.TotalClaimed
		}, "5s", "20ms").Should(BeZero())

		Expect(stubs[api.StageDocumentValidation].calls.Load()).To(BeZero())

		_, err := s.Results().Get(context.TODO(), id)
		Expect(err).To(MatchError(st.ErrRecordNotFound))

		Eventually(func() bool {
			_, err := os.Stat(staging)
			return os.IsNotExist(err)
		}, "2s", "20ms").Should(BeTrue())
	})

	It("recovers from a panicking handler", func() {
		stubs[api.StageDocumentValidation].run = func(_ context.Context, _ *model.QueueMessage) (*pipeline.Result, error) {
			panic("corrupt page table")
		}

		id := seed(api.DocumentStatusProcessing, "")
		startPool(nil)

		Eventually(docStatus(id), "5s", "20ms").Should(Equal(string(api.DocumentStatusFailed)))
		Expect(stubs[api.StageDocumentValidation].calls.Load()).To(Equal(int32(1)))

		entries, err := s.DeadLetter().List(context.TODO(), nil, nil)
		Expect(err).To(BeNil())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].CanRetry).To(BeFalse())
		Expect(entries[0].LastError).To(ContainSubstring("handler panic"))
	})
})
