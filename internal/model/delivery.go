package model

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "SENT"
	DeliveryStatusFailed DeliveryStatus = "FAILED"
)

// DeliveryAttempt is one send attempt to one recipient target for one post.
// The triple (post_id, target, attempt_no) is unique; attempt_no grows by one
// per recorded attempt. Rows are never deleted, they are the audit trail the
// retry scheduler selects from.
type DeliveryAttempt struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	PostID    uuid.UUID      `db:"post_id" json:"post_id"`
	Target    string         `db:"target" json:"target"`
	AttemptNo int            `db:"attempt_no" json:"attempt_no"`
	Status    DeliveryStatus `db:"status" json:"status"`
	Error     *string        `db:"error" json:"error,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
