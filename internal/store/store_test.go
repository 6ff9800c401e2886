package store_test

import (
	"context"

	"github.com/disputeflow/verifier/internal/config"
	st "github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("Store", Ordered, func() {
	var (
		store  st.Store
		gormDB *gorm.DB
	)

	BeforeAll(func() {
		cfg := config.NewDefault()
		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		store = st.NewStore(db, cfg.Queue.VisibilityTimeout)
		Expect(store).ToNot(BeNil())
		Expect(store.InitialMigration(context.TODO())).To(BeNil())
	})

	AfterAll(func() {
		store.Close()
	})

	Context("transaction", func() {
		It("insert a document successfully", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			docID := uuid.New()
			m := model.Document{
				ID:            docID,
				UserID:        "user-1",
				TransactionID: "txn-1",
				Status:        "processing",
			}
			doc, err := store.Document().Create(ctx, m)
			Expect(doc).ToNot(BeNil())
			Expect(err).To(BeNil())

			// commit
			_, cerr := st.Commit(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from documents;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("rollback a document successfully", func() {
			ctx, err := store.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			m := model.Document{
				ID:            uuid.New(),
				UserID:        "user-1",
				TransactionID: "txn-1",
				Status:        "processing",
			}
			doc, err := store.Document().Create(ctx, m)
			Expect(doc).ToNot(BeNil())
			Expect(err).To(BeNil())

			// count in the same transaction
			docs, err := store.Document().List(ctx, st.NewDocumentQueryFilter().ByUserID("user-1"), nil)
			Expect(err).To(BeNil())
			Expect(docs).To(HaveLen(1))

			// rollback
			_, cerr := st.Rollback(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from documents;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(0))
		})

		It("seed the database", func() {
			err := store.Seed()
			Expect(err).To(BeNil())

			count := 0
			err = gormDB.Raw("SELECT COUNT(*) from api_keys;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(1))

			count = 0
			err = gormDB.Raw("SELECT COUNT(*) from transaction_records;").Scan(&count).Error
			Expect(err).To(BeNil())
			Expect(count).To(Equal(1))

			// seeding twice upserts instead of failing
			err = store.Seed()
			Expect(err).To(BeNil())
		})

		AfterEach(func() {
			gormDB.Exec("DELETE from documents;")
			gormDB.Exec("DELETE from api_keys;")
			gormDB.Exec("DELETE from transaction_records;")
		})
	})
})
