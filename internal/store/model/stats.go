package model

import "time"

// QueueStats is a point-in-time snapshot of queue depth, exported to
// prometheus by the queue stats collector.
type QueueStats struct {
	TotalQueued        int64
	TotalClaimed       int64
	DeadLettersPending int64

	QueuedByPriority map[string]int64
	QueuedByStage    map[string]int64

	OldestQueuedAt *time.Time
}
