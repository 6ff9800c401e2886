package mappers

import (
	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/ratelimit"
	"github.com/disputeflow/verifier/internal/store/model"
)

func ResultsToApi(row *model.DocumentResult) api.DocumentResults {
	out := api.DocumentResults{
		DocumentID:       row.DocumentID,
		ProcessingStatus: api.DocumentStatus(row.ProcessingStatus),
		Sealed:           row.Sealed,
		UpdatedAt:        row.UpdatedAt,
	}

	if row.Validation != nil {
		v := row.Validation.Data
		out.Validation = &v
	}
	if row.Upload != nil {
		v := row.Upload.Data
		out.Upload = &v
	}
	if row.OCR != nil {
		v := row.OCR.Data
		out.OCR = &v
	}
	if row.Comparison != nil {
		v := row.Comparison.Data
		out.Comparison = &v
	}
	if row.Authenticity != nil {
		v := row.Authenticity.Data
		out.Authenticity = &v
	}
	if row.Final != nil {
		v := row.Final.Data
		out.FinalAssessment = &v
	}

	return out
}

func DeadLetterToApi(entry model.DeadLetterEntry) api.DeadLetterReply {
	reply := api.DeadLetterReply{
		ID:            entry.ID,
		DocumentID:    entry.DocumentID,
		Stage:         api.Stage(entry.Stage),
		FailureReason: entry.FailureReason,
		LastError:     entry.LastError,
		RetryAttempts: entry.RetryAttempts,
		FailedAt:      entry.FailedAt,
		CanRetry:      entry.CanRetry,
		RequeuedAt:    entry.RequeuedAt,
	}
	if entry.RequeuedBy != nil {
		reply.RequeuedBy = *entry.RequeuedBy
	}
	return reply
}

func DeadLettersToApi(entries model.DeadLetterEntryList) []api.DeadLetterReply {
	replies := make([]api.DeadLetterReply, 0, len(entries))
	for _, entry := range entries {
		replies = append(replies, DeadLetterToApi(entry))
	}
	return replies
}

func QueueStatsToApi(stats model.QueueStats) api.QueueStatsReply {
	return api.QueueStatsReply{
		TotalQueued:    stats.TotalQueued,
		ByPriority:     stats.QueuedByPriority,
		ByStage:        stats.QueuedByStage,
		OldestQueuedAt: stats.OldestQueuedAt,
	}
}

func RateLimitToApi(decision *ratelimit.Decision) api.RateLimitReply {
	reply := api.RateLimitReply{
		RateLimitExceeded: true,
		ExceededWindows:   make([]string, 0, len(decision.ExceededWindows)),
		Windows:           make(map[string]api.WindowStatus, len(decision.Windows)),
	}
	for _, w := range decision.ExceededWindows {
		reply.ExceededWindows = append(reply.ExceededWindows, string(w))
	}
	for w, status := range decision.Windows {
		reply.Windows[string(w)] = api.WindowStatus{
			Limit:     status.Limit,
			Used:      status.Used,
			Remaining: status.Remaining,
			ResetAt:   status.ResetAt,
		}
	}
	return reply
}
