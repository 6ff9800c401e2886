package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/disputeflow/verifier/internal/config"
	st "github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("dead letter store", Ordered, func() {
	var (
		s      st.Store
		gormDB *gorm.DB
	)

	enqueueAndClaim := func() *model.QueueMessage {
		now := time.Now().UTC()
		_, err := s.Queue().Enqueue(context.TODO(), model.QueueMessage{
			DocumentID:    uuid.New(),
			Stage:         "ocr_extraction",
			Priority:      "medium",
			EnqueuedAt:    now,
			RetryCount:    0,
			MaxRetries:    3,
			UserID:        "user-1",
			TransactionID: "txn-1",
		})
		Expect(err).To(BeNil())

		claimed, err := s.Queue().ClaimNext(context.TODO(), "worker-1", nil, now.Add(time.Second))
		Expect(err).To(BeNil())
		return claimed
	}

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
		gormDB.Exec("DELETE from queue_messages;")
		gormDB.Exec("DELETE from dead_letter_entries;")
	})

	Context("push", func() {
		It("moves the message out of the queue in one step", func() {
			msg := enqueueAndClaim()
			msg.RetryCount = 3

			entry, err := s.DeadLetter().Push(context.TODO(), msg, "retry budget exhausted", "ocr provider unavailable", true)
			Expect(err).To(BeNil())
			Expect(entry.MessageID).To(Equal(msg.ID))
			Expect(entry.RetryAttempts).To(Equal(3))
			Expect(entry.CanRetry).To(BeTrue())

			count := 0
			Expect(gormDB.Raw("SELECT COUNT(*) from queue_messages;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(0))

			Expect(gormDB.Raw("SELECT COUNT(*) from dead_letter_entries;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("preserves the full message snapshot", func() {
			msg := enqueueAndClaim()

			entry, err := s.DeadLetter().Push(context.TODO(), msg, "validation failed", "unsupported content type", false)
			Expect(err).To(BeNil())

			stored, err := s.DeadLetter().Get(context.TODO(), entry.ID)
			Expect(err).To(BeNil())
			Expect(stored.Message).ToNot(BeNil())
			Expect(stored.Message.Data.ID).To(Equal(msg.ID))
			Expect(stored.Message.Data.DocumentID).To(Equal(msg.DocumentID))
			Expect(stored.Message.Data.Stage).To(Equal("ocr_extraction"))
			Expect(stored.CanRetry).To(BeFalse())
		})
	})

	Context("requeue", func() {
		It("puts a fresh message back with a reset retry budget", func() {
			msg := enqueueAndClaim()
			msg.RetryCount = 3

			entry, err := s.DeadLetter().Push(context.TODO(), msg, "retry budget exhausted", "timeout", true)
			Expect(err).To(BeNil())

			requeued, err := s.DeadLetter().Requeue(context.TODO(), entry.ID, "operator@disputeflow")
			Expect(err).To(BeNil())
			Expect(requeued.ID).ToNot(Equal(msg.ID))
			Expect(requeued.RetryCount).To(Equal(0))
			Expect(requeued.Status).To(Equal(model.MessageStatusQueued))
			Expect(requeued.DocumentID).To(Equal(msg.DocumentID))

			stored, err := s.DeadLetter().Get(context.TODO(), entry.ID)
			Expect(err).To(BeNil())
			Expect(stored.RequeuedAt).ToNot(BeNil())
			Expect(*stored.RequeuedBy).To(Equal("operator@disputeflow"))

			// the message is claimable again
			claimed, err := s.Queue().ClaimNext(context.TODO(), "worker-2", nil, time.Now().UTC().Add(time.Second))
			Expect(err).To(BeNil())
			Expect(claimed.ID).To(Equal(requeued.ID))
		})

		It("refuses to requeue the same entry twice", func() {
			msg := enqueueAndClaim()

			entry, err := s.DeadLetter().Push(context.TODO(), msg, "retry budget exhausted", "timeout", true)
			Expect(err).To(BeNil())

			_, err = s.DeadLetter().Requeue(context.TODO(), entry.ID, "operator@disputeflow")
			Expect(err).To(BeNil())

			_, err = s.DeadLetter().Requeue(context.TODO(), entry.ID, "operator@disputeflow")
			Expect(errors.Is(err, st.ErrDuplicateKey)).To(BeTrue())
		})

		It("returns not found for an unknown entry", func() {
			_, err := s.DeadLetter().Requeue(context.TODO(), uuid.New(), "operator@disputeflow")
			Expect(errors.Is(err, st.ErrRecordNotFound)).To(BeTrue())
		})
	})

	Context("list and counts", func() {
		It("filters pending entries", func() {
			first := enqueueAndClaim()
			e1, err := s.DeadLetter().Push(context.TODO(), first, "retry budget exhausted", "timeout", true)
			Expect(err).To(BeNil())

			second := enqueueAndClaim()
			_, err = s.DeadLetter().Push(context.TODO(), second, "validation failed", "bad file", false)
			Expect(err).To(BeNil())

			_, err = s.DeadLetter().Requeue(context.TODO(), e1.ID, "operator@disputeflow")
			Expect(err).To(BeNil())

			pending, err := s.DeadLetter().List(context.TODO(), st.NewDeadLetterQueryFilter().OnlyPending(), nil)
			Expect(err).To(BeNil())
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].FailureReason).To(Equal("validation failed"))

			count, err := s.DeadLetter().PendingCount(context.TODO())
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(1)))
		})
	})
})
