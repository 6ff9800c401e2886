package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/config"
	"github.com/disputeflow/verifier/internal/events"
	"github.com/disputeflow/verifier/internal/pipeline"
	"github.com/disputeflow/verifier/internal/ratelimit"
	"github.com/disputeflow/verifier/internal/service/mappers"
	"github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
)

// SubmissionService admits a document, stages its content locally and
// enqueues the first pipeline stage. The heavy checks (structure, hash,
// content sniffing) belong to the validation stage; submission only
// refuses what it can see without reading the file.
type SubmissionService struct {
	store    store.Store
	limiter  *ratelimit.Limiter
	producer *events.EventProducer
	cfg      *config.Config
	log      *zap.SugaredLogger
}

func NewSubmissionService(s store.Store, limiter *ratelimit.Limiter, producer *events.EventProducer, cfg *config.Config) *SubmissionService {
	return &SubmissionService{
		store:    s,
		limiter:  limiter,
		producer: producer,
		cfg:      cfg,
		log:      zap.S().Named("submission_service"),
	}
}

func (s *SubmissionService) Submit(ctx context.Context, keyID string, form mappers.SubmitForm) (*api.SubmitReply, error) {
	now := time.Now().UTC()

	decision, err := s.limiter.Admit(ctx, keyID, now)
	if err != nil {
		switch {
		case errors.Is(err, ratelimit.ErrUnknownKey):
			return nil, NewErrUnknownApiKey(keyID)
		case errors.Is(err, ratelimit.ErrKeyDisabled):
			return nil, NewErrApiKeyDisabled(keyID)
		}
		return nil, err
	}
	if !decision.Allowed {
		return nil, NewErrRateLimited(decision)
	}

	if err := validateForm(form); err != nil {
		return nil, err
	}

	id := uuid.New()
	stagingPath, size, err := s.stageContent(id, form)
	if err != nil {
		return nil, err
	}
	form.FileSize = size

	doc := mappers.DocumentFromForm(id, form, stagingPath, now)

	txCtx, err := s.store.NewTransactionContext(ctx)
	if err != nil {
		_ = os.Remove(stagingPath)
		return nil, err
	}

	if _, err := s.store.Document().Create(txCtx, doc); err != nil {
		_, _ = store.Rollback(txCtx)
		_ = os.Remove(stagingPath)
		return nil, err
	}

	msg := mappers.QueueMessageFromDocument(doc, s.cfg.Queue.MaxRetries, form.StageConfig)
	if _, err := s.store.Queue().Enqueue(txCtx, msg); err != nil {
		_, _ = store.Rollback(txCtx)
		_ = os.Remove(stagingPath)
		return nil, err
	}

	if _, err := store.Commit(txCtx); err != nil {
		_ = os.Remove(stagingPath)
		return nil, err
	}

	s.log.Infow("document submitted",
		"document_id", id,
		"user_id", form.UserID,
		"transaction_id", form.TransactionID,
		"priority", doc.Priority,
		"size", size,
	)
	s.emitSubmitted(ctx, doc)

	return &api.SubmitReply{
		DocumentID: id,
		Status:     api.DocumentStatusProcessing,
		Stage:      api.StageDocumentValidation,
	}, nil
}

func validateForm(form mappers.SubmitForm) error {
	if form.UserID == "" {
		return NewErrInvalidSubmission("userId is required")
	}
	if form.TransactionID == "" {
		return NewErrInvalidSubmission("transactionId is required")
	}
	if form.FileName == "" {
		return NewErrInvalidSubmission("fileName is required")
	}
	if form.Content == nil {
		return NewErrInvalidSubmission("no file content in request")
	}
	if form.FileSize > pipeline.MaxDocumentSize {
		return NewErrInvalidSubmission("file exceeds the %d byte limit", pipeline.MaxDocumentSize)
	}
	if form.Priority != "" && !form.Priority.Valid() {
		return NewErrInvalidSubmission("unknown priority %q", form.Priority)
	}
	return nil
}

// stageContent copies the upload into the staging directory under the
// document id. The byte count written is authoritative; the declared
// multipart size is only a hint.
func (s *SubmissionService) stageContent(id uuid.UUID, form mappers.SubmitForm) (string, int64, error) {
	dir := s.cfg.Service.StagingDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create staging dir: %w", err)
	}

	path := filepath.Join(dir, id.String()+filepath.Ext(form.FileName))
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create staging file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(form.Content, pipeline.MaxDocumentSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("failed to stage document content: %w", err)
	}
	if written == 0 {
		_ = os.Remove(path)
		return "", 0, NewErrInvalidSubmission("empty file uploaded")
	}
	if written > pipeline.MaxDocumentSize {
		_ = os.Remove(path)
		return "", 0, NewErrInvalidSubmission("file exceeds the %d byte limit", pipeline.MaxDocumentSize)
	}

	return path, written, nil
}

func (s *SubmissionService) emitSubmitted(ctx context.Context, doc model.Document) {
	if s.producer == nil {
		return
	}

	payload := events.DocumentSubmittedEvent{
		DocumentID:    doc.ID,
		UserID:        doc.UserID,
		TransactionID: doc.TransactionID,
		FileName:      doc.FileName,
		FileSize:      doc.FileSize,
		Priority:      doc.Priority,
		SubmittedAt:   doc.SubmittedAt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.producer.Write(ctx, events.DocumentSubmittedKind, bytes.NewReader(data)); err != nil {
		s.log.Errorw("failed to write event", "error", err, "event_kind", events.DocumentSubmittedKind)
	}
}
