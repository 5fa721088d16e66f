// internal/model/send_queue_item.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
)

// ActiveQueueStatuses are the in-flight states; at most one row per
// (prospect, stage) may be in one of them.
var ActiveQueueStatuses = []QueueStatus{QueueStatusPending, QueueStatusProcessing}

type SendQueueItem struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	CampaignID   uuid.UUID   `db:"campaign_id" json:"campaign_id"`
	ProspectID   uuid.UUID   `db:"prospect_id" json:"prospect_id"`
	AccountID    uuid.UUID   `db:"account_id" json:"account_id"`
	Stage        Stage       `db:"stage" json:"stage"`
	Message      string      `db:"message" json:"message"`
	Target       string      `db:"target" json:"target"`
	ScheduledFor time.Time   `db:"scheduled_for" json:"scheduled_for"`
	Status       QueueStatus `db:"status" json:"status"`
	ErrorDetail  *string     `db:"error_detail" json:"error_detail,omitempty"` // nil means retryable
	RetryCount   int         `db:"retry_count" json:"retry_count"`
	SentAt       *time.Time  `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`

	// RepairAttempts counts identifier repair passes over a failed row;
	// RepairedAt is set once the row has been reset to pending.
	RepairAttempts int        `db:"repair_attempts" json:"repair_attempts"`
	RepairedAt     *time.Time `db:"repaired_at" json:"repaired_at,omitempty"`
}

func (q *SendQueueItem) Active() bool {
	return q.Status == QueueStatusPending || q.Status == QueueStatusProcessing
}

func (q *SendQueueItem) Due(now time.Time) bool {
	return q.Status == QueueStatusPending && !q.ScheduledFor.After(now)
}

func (q *SendQueueItem) LastError() string {
	if q.ErrorDetail == nil {
		return ""
	}
	return *q.ErrorDetail
}
