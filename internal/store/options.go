package store

import (
	"gorm.io/gorm"
)

type SortOrder int

const (
	Unsorted SortOrder = iota
	SortByEnqueuedTime
	SortByClaimOrder
	SortByFailedTime
	SortBySubmittedTime
	SortByUpdatedTime
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type QueueQueryFilter BaseQuerier

func NewQueueQueryFilter() *QueueQueryFilter {
	return &QueueQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *QueueQueryFilter) ByDocumentID(documentID string) *QueueQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("document_id = ?", documentID)
	})
	return qf
}

func (qf *QueueQueryFilter) ByStatus(status string) *QueueQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status = ?", status)
	})
	return qf
}

func (qf *QueueQueryFilter) ByStage(stage string) *QueueQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("stage = ?", stage)
	})
	return qf
}

func (qf *QueueQueryFilter) ByUserID(userID string) *QueueQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("user_id = ?", userID)
	})
	return qf
}

type QueueQueryOptions BaseQuerier

func NewQueueQueryOptions() *QueueQueryOptions {
	return &QueueQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *QueueQueryOptions) WithSortOrder(sort SortOrder) *QueueQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		switch sort {
		case SortByEnqueuedTime:
			return tx.Order("enqueued_at")
		case SortByClaimOrder:
			return tx.Order(priorityRankExpr + " DESC").Order("enqueued_at ASC")
		default:
			return tx
		}
	})
	return o
}

func (o *QueueQueryOptions) WithLimit(limit int) *QueueQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

type DeadLetterQueryFilter BaseQuerier

func NewDeadLetterQueryFilter() *DeadLetterQueryFilter {
	return &DeadLetterQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (df *DeadLetterQueryFilter) ByDocumentID(documentID string) *DeadLetterQueryFilter {
	df.QueryFn = append(df.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("document_id = ?", documentID)
	})
	return df
}

func (df *DeadLetterQueryFilter) ByStage(stage string) *DeadLetterQueryFilter {
	df.QueryFn = append(df.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("stage = ?", stage)
	})
	return df
}

// OnlyPending keeps entries that have not been requeued yet.
func (df *DeadLetterQueryFilter) OnlyPending() *DeadLetterQueryFilter {
	df.QueryFn = append(df.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("requeued_at IS NULL")
	})
	return df
}

func (df *DeadLetterQueryFilter) OnlyRetryable() *DeadLetterQueryFilter {
	df.QueryFn = append(df.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("can_retry IS TRUE")
	})
	return df
}

type DeadLetterQueryOptions BaseQuerier

func NewDeadLetterQueryOptions() *DeadLetterQueryOptions {
	return &DeadLetterQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *DeadLetterQueryOptions) WithSortOrder(sort SortOrder) *DeadLetterQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		switch sort {
		case SortByFailedTime:
			return tx.Order("failed_at DESC")
		default:
			return tx
		}
	})
	return o
}

func (o *DeadLetterQueryOptions) WithLimit(limit int) *DeadLetterQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

func (o *DeadLetterQueryOptions) WithOffset(offset int) *DeadLetterQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Offset(offset)
	})
	return o
}

type DocumentQueryFilter BaseQuerier

func NewDocumentQueryFilter() *DocumentQueryFilter {
	return &DocumentQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (df *DocumentQueryFilter) ByUserID(userID string) *DocumentQueryFilter {
	df.QueryFn = append(df.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("user_id = ?", userID)
	})
	return df
}

func (df *DocumentQueryFilter) ByStatus(status string) *DocumentQueryFilter {
	df.QueryFn = append(df.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status = ?", status)
	})
	return df
}

func (df *DocumentQueryFilter) ByTransactionID(transactionID string) *DocumentQueryFilter {
	df.QueryFn = append(df.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("transaction_id = ?", transactionID)
	})
	return df
}

type DocumentQueryOptions BaseQuerier

func NewDocumentQueryOptions() *DocumentQueryOptions {
	return &DocumentQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *DocumentQueryOptions) WithSortOrder(sort SortOrder) *DocumentQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		switch sort {
		case SortBySubmittedTime:
			return tx.Order("submitted_at DESC")
		default:
			return tx
		}
	})
	return o
}

func (o *DocumentQueryOptions) WithLimit(limit int) *DocumentQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

func (o *DocumentQueryOptions) WithOffset(offset int) *DocumentQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Offset(offset)
	})
	return o
}

type ResultsQueryFilter BaseQuerier

func NewResultsQueryFilter() *ResultsQueryFilter {
	return &ResultsQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (rf *ResultsQueryFilter) OnlySealed() *ResultsQueryFilter {
	rf.QueryFn = append(rf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("sealed IS TRUE")
	})
	return rf
}

func (rf *ResultsQueryFilter) ByProcessingStatus(status string) *ResultsQueryFilter {
	rf.QueryFn = append(rf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("processing_status = ?", status)
	})
	return rf
}

type ResultsQueryOptions BaseQuerier

func NewResultsQueryOptions() *ResultsQueryOptions {
	return &ResultsQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *ResultsQueryOptions) WithSortOrder(sort SortOrder) *ResultsQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		switch sort {
		case SortByUpdatedTime:
			return tx.Order("updated_at DESC")
		default:
			return tx
		}
	})
	return o
}

func (o *ResultsQueryOptions) WithLimit(limit int) *ResultsQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}
