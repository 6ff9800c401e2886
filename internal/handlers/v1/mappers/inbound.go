package mappers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	api "github.com/disputeflow/verifier/api/v1"
	srvMappers "github.com/disputeflow/verifier/internal/service/mappers"
	"github.com/disputeflow/verifier/internal/store/model"
)

// SubmitRequest is the validated view of a multipart submission.
type SubmitRequest struct {
	UserID        string  `validate:"required,max=128"`
	TransactionID string  `validate:"required,transaction_ref"`
	DisputeID     *string `validate:"omitempty,dispute_ref"`
	Priority      string  `validate:"omitempty,priority_band"`
	FileName      string  `validate:"required,document_filename"`
	ContentType   string  `validate:"omitempty,document_content_type"`
}

// SubmitFormFromMultipart reads an already-parsed multipart request into
// the submission form. The document travels in the "file" part; its
// header supplies name, declared size and content type. The returned
// form borrows the file handle, so the caller owns closing the request
// body after the service consumed it.
func SubmitFormFromMultipart(r *http.Request) (srvMappers.SubmitForm, SubmitRequest, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return srvMappers.SubmitForm{}, SubmitRequest{}, fmt.Errorf("missing file part: %w", err)
	}

	form := srvMappers.SubmitForm{
		UserID:        r.FormValue("userId"),
		TransactionID: r.FormValue("transactionId"),
		FileName:      header.Filename,
		FileSize:      header.Size,
		ContentType:   header.Header.Get("Content-Type"),
		Content:       file,
		Priority:      api.Priority(r.FormValue("priority")),
	}

	if v := r.FormValue("disputeId"); v != "" {
		form.DisputeID = &v
	}
	if v := r.FormValue("immediate"); v != "" {
		form.Immediate, _ = strconv.ParseBool(v)
	}
	if v := r.FormValue("stageConfig"); v != "" {
		var sc model.StageConfig
		if err := json.Unmarshal([]byte(v), &sc); err != nil {
			return srvMappers.SubmitForm{}, SubmitRequest{}, fmt.Errorf("invalid stageConfig: %w", err)
		}
		form.StageConfig = &sc
	}

	req := SubmitRequest{
		UserID:        form.UserID,
		TransactionID: form.TransactionID,
		DisputeID:     form.DisputeID,
		Priority:      string(form.Priority),
		FileName:      form.FileName,
		ContentType:   form.ContentType,
	}

	return form, req, nil
}

// RequeueRequest is the optional body of a dead letter requeue call.
type RequeueRequest struct {
	RequeuedBy string `json:"requeuedBy"`
}
