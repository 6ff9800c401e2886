package mappers

import (
	"io"
	"time"

	"github.com/google/uuid"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/store/model"
)

// SubmitForm carries everything a client sends with a new document. The
// transport layer fills it from the multipart request; the submission
// service owns validation and persistence.
type SubmitForm struct {
	UserID        string
	TransactionID string
	DisputeID     *string

	FileName    string
	FileSize    int64
	ContentType string
	Content     io.Reader

	// Priority is honored when set; otherwise it is derived from the
	// dispute context.
	Priority  api.Priority
	Immediate bool

	StageConfig *model.StageConfig
}

// DerivedPriority resolves the effective queue priority: an explicit
// valid priority wins, then dispute-linked or immediate submissions go
// high, everything else medium.
func (f SubmitForm) DerivedPriority() api.Priority {
	if f.Priority.Valid() {
		return f.Priority
	}
	if f.DisputeID != nil || f.Immediate {
		return api.PriorityHigh
	}
	return api.PriorityMedium
}

func DocumentFromForm(id uuid.UUID, form SubmitForm, stagingPath string, now time.Time) model.Document {
	return model.Document{
		ID:            id,
		UserID:        form.UserID,
		TransactionID: form.TransactionID,
		DisputeID:     form.DisputeID,
		FileName:      form.FileName,
		FileSize:      form.FileSize,
		ContentType:   form.ContentType,
		Status:        string(api.DocumentStatusProcessing),
		CurrentStage:  string(api.StageDocumentValidation),
		Priority:      string(form.DerivedPriority()),
		StagingPath:   stagingPath,
		SubmittedAt:   now,
	}
}

func QueueMessageFromDocument(doc model.Document, maxRetries int, stageConfig *model.StageConfig) model.QueueMessage {
	msg := model.QueueMessage{
		DocumentID:       doc.ID,
		Stage:            string(api.StageDocumentValidation),
		Priority:         doc.Priority,
		UserID:           doc.UserID,
		TransactionID:    doc.TransactionID,
		DisputeID:        doc.DisputeID,
		OriginalFileName: doc.FileName,
		FileSize:         doc.FileSize,
		ContentType:      doc.ContentType,
		MaxRetries:       maxRetries,
	}
	if stageConfig != nil {
		msg.StageConfig = model.MakeJSONField(*stageConfig)
	}
	return msg
}
