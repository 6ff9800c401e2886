package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/objstore"
	"github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
)

// UploadHandler moves a validated document from local staging to object
// storage. The object key is stable per document so a retried upload
// overwrites rather than duplicates.
type UploadHandler struct {
	store     store.Store
	objects   objstore.Store
	signedTTL time.Duration
	log       *zap.SugaredLogger
}

func NewUploadHandler(s store.Store, objects objstore.Store, signedTTL time.Duration) *UploadHandler {
	return &UploadHandler{
		store:     s,
		objects:   objects,
		signedTTL: signedTTL,
		log:       zap.S().Named("upload"),
	}
}

func (h *UploadHandler) Stage() api.Stage { return api.StageS3Upload }

func (h *UploadHandler) Run(ctx context.Context, msg *model.QueueMessage) (*Result, error) {
	doc, err := h.store.Document().Get(ctx, msg.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewFatalError("document %s has no record", msg.DocumentID)
		}
		return nil, NewInfraError("failed to load document", err)
	}

	f, err := os.Open(doc.StagingPath)
	if err != nil {
		return nil, NewFatalError("staged file for document %s is gone: %v", msg.DocumentID, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, NewInfraError("failed to stat staged file", err)
	}

	key := ObjectKey(msg.DocumentID.String(), msg.OriginalFileName)
	res, err := h.objects.Put(ctx, key, f, info.Size(), msg.ContentType)
	if err != nil {
		return nil, NewInfraError("failed to upload document", err)
	}

	summary := &api.UploadSummary{
		ObjectKey: res.ObjectKey,
		ETag:      res.ETag,
		Location:  res.Location,
	}

	if signed, err := h.objects.Presign(ctx, key, h.signedTTL); err != nil {
		h.log.Warnw("failed to presign object", "document_id", msg.DocumentID, "error", err)
	} else {
		summary.SignedURL = signed
	}

	doc.ObjectKey = &key
	if _, err := h.store.Document().Update(ctx, *doc); err != nil {
		return nil, NewInfraError("failed to record object key", err)
	}

	return &Result{
		Stage:  api.StageS3Upload,
		Upload: summary,
	}, nil
}

// ObjectKey is where a document lives in the bucket.
func ObjectKey(documentID, fileName string) string {
	name := filepath.Base(fileName)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return fmt.Sprintf("disputes/%s/%s", documentID, name)
}
