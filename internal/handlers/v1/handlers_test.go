package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/config"
	handlers "github.com/disputeflow/verifier/internal/handlers/v1"
	"github.com/disputeflow/verifier/internal/ratelimit"
	"github.com/disputeflow/verifier/internal/results"
	"github.com/disputeflow/verifier/internal/service"
	st "github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
	"github.com/disputeflow/verifier/internal/workers"
	"github.com/disputeflow/verifier/pkg/middleware"
)

const documentBody = "%PDF-1.7 receipt body"

var _ = Describe("document handlers", Ordered, func() {
	var (
		cfg      *config.Config
		s        st.Store
		gormDB   *gorm.DB
		registry *workers.Registry
		router   chi.Router
		keyID    string
	)

	newRouter := func(limits ratelimit.Limits) chi.Router {
		limiter := ratelimit.New(s.ApiKey(), ratelimit.NewMemoryCounterStore(), limits)
		agg := results.NewAggregator(s, results.ScoringPolicy{
			OCRWeight:          cfg.Scoring.OCRWeight,
			ComparisonWeight:   cfg.Scoring.ComparisonWeight,
			AuthenticityWeight: cfg.Scoring.AuthenticityWeight,
			RejectBelow:        cfg.Scoring.RejectBelow,
			ApproveAt:          cfg.Scoring.ApproveAt,
		})

		h := handlers.NewHandler(
			service.NewSubmissionService(s, limiter, nil, cfg),
			service.NewStatusService(s, registry),
			service.NewResultsService(s),
			service.NewCancelService(s, agg),
			service.NewDeadLetterService(s),
			service.NewExportService(s),
		)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		h.Routes(r)
		return r
	}

	submitRequest := func(fields map[string]string, fileName, contentType string) *http.Request {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for k, v := range fields {
			Expect(mw.WriteField(k, v)).To(Succeed())
		}

		partHeader := textproto.MIMEHeader{}
		partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
		partHeader.Set("Content-Type", contentType)
		part, err := mw.CreatePart(partHeader)
		Expect(err).To(BeNil())
		_, err = part.Write([]byte(documentBody))
		Expect(err).To(BeNil())
		Expect(mw.Close()).To(Succeed())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set(handlers.ApiKeyHeader, keyID)
		return req
	}

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	decodeError := func(rec *httptest.ResponseRecorder) api.Error {
		var e api.Error
		Expect(json.Unmarshal(rec.Body.Bytes(), &e)).To(Succeed())
		return e
	}

	seedDoc := func(status api.DocumentStatus, stage api.Stage) uuid.UUID {
		id := uuid.New()
		_, err := s.Document().Create(context.TODO(), model.Document{
			ID:            id,
			UserID:        "user-1",
			TransactionID: "txn-1001",
			FileName:      "receipt.pdf",
			ContentType:   "application/pdf",
			Status:        string(status),
			CurrentStage:  string(stage),
			Priority:      string(api.PriorityMedium),
			SubmittedAt:   time.Now().UTC(),
		})
		Expect(err).To(BeNil())
		return id
	}

	seedMsg := func(docID uuid.UUID, stage api.Stage, priority api.Priority) *model.QueueMessage {
		msg, err := s.Queue().Enqueue(context.TODO(), model.QueueMessage{
			DocumentID: docID,
			Stage:      string(stage),
			Priority:   string(priority),
			UserID:     "user-1",
			EnqueuedAt: time.Now().UTC(),
			MaxRetries: 3,
		})
		Expect(err).To(BeNil())
		return msg
	}

	deadLetter := func(stage api.Stage, canRetry bool) *model.DeadLetterEntry {
		docID := seedDoc(api.DocumentStatusPartial, stage)
		msg := seedMsg(docID, stage, api.PriorityMedium)
		msg.RetryCount = 3

		reason := "retries exhausted"
		if !canRetry {
			reason = "permanent failure"
		}
		entry, err := s.DeadLetter().Push(context.TODO(), msg, reason, "ocr upstream timed out", canRetry)
		Expect(err).To(BeNil())
		return entry
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
		registry = workers.NewRegistry()

		keyID = "key-" + uuid.NewString()[:8]
		_, err := s.ApiKey().Create(context.TODO(), model.ApiKey{KeyID: keyID, Owner: "acme", Tier: "default", Enabled: true})
		Expect(err).To(BeNil())

		router = newRouter(ratelimit.Limits{PerMinute: 100, PerHour: 1000, PerDay: 10000})
	})

	AfterEach(func() {
		gormDB.Exec("DELETE from documents;")
		gormDB.Exec("DELETE from document_results;")
		gormDB.Exec("DELETE from queue_messages;")
		gormDB.Exec("DELETE from dead_letter_entries;")
		gormDB.Exec("DELETE from api_keys;")
	})

	Context("submission", func() {
		It("accepts a multipart submission", func() {
			rec := serve(submitRequest(map[string]string{"userId": "user-1", "transactionId": "txn-1001"}, "receipt.pdf", "application/pdf"))
			Expect(rec.Code).To(Equal(http.StatusCreated))

			var reply api.SubmitReply
			Expect(json.Unmarshal(rec.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply.Status).To(Equal(api.DocumentStatusProcessing))
			Expect(reply.Stage).To(Equal(api.StageDocumentValidation))

			doc, err := s.Document().Get(context.TODO(), reply.DocumentID)
			Expect(err).To(BeNil())
			Expect(doc.FileName).To(Equal("receipt.pdf"))
			Expect(doc.FileSize).To(Equal(int64(len(documentBody))))
		})

		It("requires the api key header", func() {
			req := submitRequest(map[string]string{"userId": "user-1", "transactionId": "txn-1001"}, "receipt.pdf", "application/pdf")
			req.Header.Del(handlers.ApiKeyHeader)

			rec := serve(req)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(decodeError(rec).Message).To(ContainSubstring(handlers.ApiKeyHeader))
		})

		It("rejects an unknown api key", func() {
			keyID = "no-such-key"
			rec := serve(submitRequest(map[string]string{"userId": "user-1", "transactionId": "txn-1001"}, "receipt.pdf", "application/pdf"))
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects an invalid transaction reference", func() {
			rec := serve(submitRequest(map[string]string{"userId": "user-1", "transactionId": "!!"}, "receipt.pdf", "application/pdf"))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeError(rec).Message).To(ContainSubstring("transactionID"))
		})

		It("rejects an unsupported document extension", func() {
			rec := serve(submitRequest(map[string]string{"userId": "user-1", "transactionId": "txn-1001"}, "receipt.exe", "application/pdf"))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeError(rec).Message).To(ContainSubstring("fileName"))
		})

		It("answers exhausted quotas with the window remainders", func() {
			router = newRouter(ratelimit.Limits{PerMinute: 100, PerHour: 1000, PerDay: 1})

			rec := serve(submitRequest(map[string]string{"userId": "user-1", "transactionId": "txn-1001"}, "receipt.pdf", "application/pdf"))
			Expect(rec.Code).To(Equal(http.StatusCreated))

			rec = serve(submitRequest(map[string]string{"userId": "user-1", "transactionId": "txn-1002"}, "receipt.pdf", "application/pdf"))
			Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
			Expect(rec.Header().Get("X-RateLimit-Remaining-Day")).To(Equal("0"))
			Expect(rec.Header().Get("Retry-After")).ToNot(BeEmpty())

			var reply api.RateLimitReply
			Expect(json.Unmarshal(rec.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply.RateLimitExceeded).To(BeTrue())
			Expect(reply.ExceededWindows).To(ContainElement("day"))
			Expect(reply.Windows["day"].Remaining).To(BeZero())
		})
	})

	Context("status and results", func() {
		It("reports processing status with the queue position", func() {
			id := seedDoc(api.DocumentStatusProcessing, api.StageDocumentValidation)
			seedMsg(id, api.StageDocumentValidation, api.PriorityMedium)

			rec := serve(httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+id.String()+"/status", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var reply api.StatusReply
			Expect(json.Unmarshal(rec.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply.Status).To(Equal(api.DocumentStatusProcessing))
			Expect(reply.QueuePosition).ToNot(BeNil())
			Expect(*reply.QueuePosition).To(Equal(int64(1)))
		})

		It("rejects a malformed document id", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "/api/v1/documents/not-a-uuid/status", nil))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns the request id with an unknown document error", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+uuid.NewString()+"/status", nil)
			req.Header.Set("x-request-id", "req-123")

			rec := serve(req)
			Expect(rec.Code).To(Equal(http.StatusNotFound))

			e := decodeError(rec)
			Expect(e.RequestId).ToNot(BeNil())
			Expect(*e.RequestId).To(Equal("req-123"))
		})

		It("serves the recorded results", func() {
			id := seedDoc(api.DocumentStatusProcessing, api.StageS3Upload)
			Expect(s.Results().SetValidation(context.TODO(), id, api.ValidationSummary{FileHash: "ff00aa"})).To(Succeed())

			rec := serve(httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+id.String()+"/results", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var reply api.DocumentResults
			Expect(json.Unmarshal(rec.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply.Validation).ToNot(BeNil())
			Expect(reply.Validation.FileHash).To(Equal("ff00aa"))
			Expect(reply.Sealed).To(BeFalse())
		})
	})

	Context("cancellation", func() {
		It("cancels a processing document", func() {
			id := seedDoc(api.DocumentStatusProcessing, api.StageOCRExtraction)
			seedMsg(id, api.StageOCRExtraction, api.PriorityMedium)

			rec := serve(httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+id.String(), nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var reply api.StatusReply
			Expect(json.Unmarshal(rec.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply.Status).To(Equal(api.DocumentStatusCancelled))

			msgs, err := s.Queue().List(context.TODO(), st.NewQueueQueryFilter().ByDocumentID(id.String()), nil)
			Expect(err).To(BeNil())
			Expect(msgs).To(BeEmpty())
		})

		It("refuses to cancel a finished document", func() {
			id := seedDoc(api.DocumentStatusCompleted, api.StageAIVerification)

			rec := serve(httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+id.String(), nil))
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})
	})

	Context("queue statistics", func() {
		It("aggregates the queued backlog", func() {
			a := seedDoc(api.DocumentStatusProcessing, api.StageDocumentValidation)
			seedMsg(a, api.StageDocumentValidation, api.PriorityHigh)
			b := seedDoc(api.DocumentStatusProcessing, api.StageOCRExtraction)
			seedMsg(b, api.StageOCRExtraction, api.PriorityMedium)

			rec := serve(httptest.NewRequest(http.MethodGet, "/api/v1/queue/stats", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var reply api.QueueStatsReply
			Expect(json.Unmarshal(rec.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply.TotalQueued).To(Equal(int64(2)))
			Expect(reply.ByPriority).To(HaveKeyWithValue("high", int64(1)))
		})
	})

	Context("dead letters", func() {
		It("lists entries with the retryable filter", func() {
			deadLetter(api.StageOCRExtraction, true)
			deadLetter(api.StageDocumentValidation, false)

			rec := serve(httptest.NewRequest(http.MethodGet, "/api/v1/deadletters?retryable=true", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var replies []api.DeadLetterReply
			Expect(json.Unmarshal(rec.Body.Bytes(), &replies)).To(Succeed())
			Expect(replies).To(HaveLen(1))
			Expect(replies[0].Stage).To(Equal(api.StageOCRExtraction))
			Expect(replies[0].CanRetry).To(BeTrue())
		})

		It("rejects an unknown stage filter", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "/api/v1/deadletters?stage=teleportation", nil))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("requeues an entry once", func() {
			entry := deadLetter(api.StageOCRExtraction, true)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/deadletters/"+entry.ID.String()+"/requeue", strings.NewReader(`{"requeuedBy":"ops@example.com"}`))
			req.Header.Set("Content-Type", "application/json")

			rec := serve(req)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var reply api.DeadLetterReply
			Expect(json.Unmarshal(rec.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply.RequeuedAt).ToNot(BeNil())
			Expect(reply.RequeuedBy).To(Equal("ops@example.com"))

			doc, err := s.Document().Get(context.TODO(), entry.DocumentID)
			Expect(err).To(BeNil())
			Expect(doc.Status).To(Equal(string(api.DocumentStatusProcessing)))

			msgs, err := s.Queue().List(context.TODO(), st.NewQueueQueryFilter().ByDocumentID(entry.DocumentID.String()), nil)
			Expect(err).To(BeNil())
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Status).To(Equal(model.MessageStatusQueued))

			rec = serve(httptest.NewRequest(http.MethodPost, "/api/v1/deadletters/"+entry.ID.String()+"/requeue", nil))
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("refuses to requeue a permanent failure", func() {
			entry := deadLetter(api.StageDocumentValidation, false)

			rec := serve(httptest.NewRequest(http.MethodPost, "/api/v1/deadletters/"+entry.ID.String()+"/requeue", nil))
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("discards an entry", func() {
			entry := deadLetter(api.StageOCRExtraction, true)

			rec := serve(httptest.NewRequest(http.MethodDelete, "/api/v1/deadletters/"+entry.ID.String(), nil))
			Expect(rec.Code).To(Equal(http.StatusNoContent))

			rec = serve(httptest.NewRequest(http.MethodDelete, "/api/v1/deadletters/"+entry.ID.String(), nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Context("exports", func() {
		It("serves the dead letter workbook", func() {
			deadLetter(api.StageOCRExtraction, true)

			rec := serve(httptest.NewRequest(http.MethodGet, "/api/v1/exports/deadletters", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
			Expect(rec.Header().Get("Content-Disposition")).To(ContainSubstring(`attachment; filename="dead-letters-`))

			f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
			Expect(err).To(BeNil())
			defer f.Close()

			rows, err := f.GetRows("Dead Letters")
			Expect(err).To(BeNil())
			Expect(rows).To(HaveLen(2))
		})
	})
})
