package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/config"
	"github.com/disputeflow/verifier/internal/events"
	"github.com/disputeflow/verifier/internal/ratelimit"
	"github.com/disputeflow/verifier/internal/service"
	"github.com/disputeflow/verifier/internal/service/mappers"
	st "github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
)

const sampleBody = "%PDF-1.7 receipt body"

type capturingWriter struct {
	mu     sync.Mutex
	events []cloudevents.Event
}

func (w *capturingWriter) Write(_ context.Context, _ string, e cloudevents.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
	return nil
}

func (w *capturingWriter) Close(_ context.Context) error { return nil }

func (w *capturingWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

func (w *capturingWriter) Events() []cloudevents.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]cloudevents.Event, len(w.events))
	copy(out, w.events)
	return out
}

var _ = Describe("submission service", Ordered, func() {
	var (
		cfg    *config.Config
		s      st.Store
		gormDB *gorm.DB
		svc    *service.SubmissionService
		keyID  string
	)

	newLimiter := func(limits ratelimit.Limits) *ratelimit.Limiter {
		return ratelimit.New(s.ApiKey(), ratelimit.NewMemoryCounterStore(), limits)
	}

	form := func() mappers.SubmitForm {
		return mappers.SubmitForm{
			UserID:        "user-1",
			TransactionID: "txn-1001",
			FileName:      "receipt.pdf",
			ContentType:   "application/pdf",
			FileSize:      int64(len(sampleBody)),
			Content:       strings.NewReader(sampleBody),
		}
	}

	BeforeAll(func() {
		cfg = config.NewDefault()

		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		s = st.NewStore(db, cfg.Queue.VisibilityTimeout)
		Expect(s.InitialMigration(context.TODO())).To(BeNil())
	})

	AfterAll(func() {
		s.Close()
	})

	BeforeEach(func() {
		cfg.Service.StagingDir = GinkgoT().TempDir()
		keyID = "key-" + uuid.NewString()[:8]
		_, err := s.ApiKey().Create(context.TODO(), model.ApiKey{KeyID: keyID, Owner: "acme", Tier: "default", Enabled: true})
		Expect(err).To(BeNil())

		svc = service.NewSubmissionService(s, newLimiter(ratelimit.Limits{PerMinute: 100, PerHour: 1000, PerDay: 10000}), nil, cfg)
	})

	AfterEach(func() {
		gormDB.Exec("DELETE from documents;")
		gormDB.Exec("DELETE from queue_messages;")
		gormDB.Exec("DELETE from api_keys;")
	})

	It("stages the file and enqueues validation", func() {
		reply, err := svc.Submit(context.TODO(), keyID, form())
		Expect(err).To(BeNil())
		Expect(reply.Status).To(Equal(api.DocumentStatusProcessing))
		Expect(reply.Stage).To(Equal(api.StageDocumentValidation))

		doc, err := s.Document().Get(context.TODO(), reply.DocumentID)
		Expect(err).To(BeNil())
		Expect(doc.Priority).To(Equal(string(api.PriorityMedium)))
		Expect(doc.FileSize).To(Equal(int64(len(sampleBody))))
		Expect(doc.StagingPath).To(Equal(filepath.Join(cfg.Service.StagingDir, reply.DocumentID.String()+".pdf")))

		content, err := os.ReadFile(doc.StagingPath)
		Expect(err).To(BeNil())
		Expect(string(content)).To(Equal(sampleBody))

		msgs, err := s.Queue().List(context.TODO(), st.NewQueueQueryFilter().ByDocumentID(reply.DocumentID.String()), nil)
		Expect(err).To(BeNil())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Stage).To(Equal(string(api.StageDocumentValidation)))
		Expect(msgs[0].Status).To(Equal(model.MessageStatusQueued))
		Expect(msgs[0].MaxRetries).To(Equal(cfg.Queue.MaxRetries))
	})

	It("raises priority for dispute-linked submissions", func() {
		f := form()
		disputeID := "dsp-77"
		f.DisputeID = &disputeID

		reply, err := svc.Submit(context.TODO(), keyID, f)
		Expect(err).To(BeNil())

		doc, err := s.Document().Get(context.TODO(), reply.DocumentID)
		Expect(err).To(BeNil())
		Expect(doc.Priority).To(Equal(string(api.PriorityHigh)))
	})

	It("keeps an explicit priority over the derived one", func() {
		f := form()
		f.Immediate = true
		f.Priority = api.PriorityLow

		reply, err := svc.Submit(context.TODO(), keyID, f)
		Expect(err).To(BeNil())

		doc, err := s.Document().Get(context.TODO(), reply.DocumentID)
		Expect(err).To(BeNil())
		Expect(doc.Priority).To(Equal(string(api.PriorityLow)))
	})

	It("forwards per-stage configuration to the queue", func() {
		f := form()
		f.StageConfig = &model.StageConfig{OCRPreset: "receipts-v3", TimeoutSeconds: 30}

		reply, err := svc.Submit(context.TODO(), keyID, f)
		Expect(err).To(BeNil())

		msgs, err := s.Queue().List(context.TODO(), st.NewQueueQueryFilter().ByDocumentID(reply.DocumentID.String()), nil)
		Expect(err).To(BeNil())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].StageConfig).ToNot(BeNil())
		Expect(msgs[0].StageConfig.Data.OCRPreset).To(Equal("receipts-v3"))
	})

	It("rejects an unknown api key", func() {
		_, err := svc.Submit(context.TODO(), "missing-key", form())

		var keyErr *service.ErrApiKeyRejected
		Expect(errors.As(err, &keyErr)).To(BeTrue())
	})

	It("rejects a disabled api key", func() {
		disabled := "key-" + uuid.NewString()[:8]
		_, err := s.ApiKey().Create(context.TODO(), model.ApiKey{KeyID: disabled, Owner: "acme", Enabled: false})
		Expect(err).To(BeNil())

		_, err = svc.Submit(context.TODO(), disabled, form())

		var keyErr *service.ErrApiKeyRejected
		Expect(errors.As(err, &keyErr)).To(BeTrue())
	})

	It("denies once a window is exhausted without consuming quota", func() {
		svc = service.NewSubmissionService(s, newLimiter(ratelimit.Limits{PerMinute: 100, PerHour: 100, PerDay: 2}), nil, cfg)

		_, err := svc.Submit(context.TODO(), keyID, form())
		Expect(err).To(BeNil())
		_, err = svc.Submit(context.TODO(), keyID, form())
		Expect(err).To(BeNil())

		_, err = svc.Submit(context.TODO(), keyID, form())
		var limited *service.ErrRateLimited
		Expect(errors.As(err, &limited)).To(BeTrue())
		Expect(limited.Decision.ExceededWindows).To(ContainElement(ratelimit.WindowDay))
		Expect(limited.Decision.Windows[ratelimit.WindowDay].Remaining).To(BeZero())

		docs, err := s.Document().List(context.TODO(), nil, nil)
		Expect(err).To(BeNil())
		Expect(docs).To(HaveLen(2))
	})

	It("rejects an empty upload and writes nothing", func() {
		f := form()
		f.FileSize = 0
		f.Content = bytes.NewReader(nil)

		_, err := svc.Submit(context.TODO(), keyID, f)
		var invalid *service.ErrInvalidSubmission
		Expect(errors.As(err, &invalid)).To(BeTrue())

		docs, err := s.Document().List(context.TODO(), nil, nil)
		Expect(err).To(BeNil())
		Expect(docs).To(BeEmpty())

		files, err := os.ReadDir(cfg.Service.StagingDir)
		Expect(err).To(BeNil())
		Expect(files).To(BeEmpty())
	})

	It("requires transaction metadata", func() {
		f := form()
		f.TransactionID = ""

		_, err := svc.Submit(context.TODO(), keyID, f)
		var invalid *service.ErrInvalidSubmission
		Expect(errors.As(err, &invalid)).To(BeTrue())
	})

	It("emits a submitted event", func() {
		w := &capturingWriter{}
		producer := events.NewEventProducer(w)
		defer producer.Close()

		svc = service.NewSubmissionService(s, newLimiter(ratelimit.Limits{PerMinute: 100, PerHour: 1000, PerDay: 10000}), producer, cfg)

		reply, err := svc.Submit(context.TODO(), keyID, form())
		Expect(err).To(BeNil())

		Eventually(w.Count, "2s", "10ms").Should(Equal(1))
		e := w.Events()[0]
		Expect(e.Type()).To(Equal(events.DocumentSubmittedKind))

		var payload events.DocumentSubmittedEvent
		Expect(json.Unmarshal(e.Data(), &payload)).To(Succeed())
		Expect(payload.DocumentID).To(Equal(reply.DocumentID))
		Expect(payload.TransactionID).To(Equal("txn-1001"))
	})
})
