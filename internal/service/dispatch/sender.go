package dispatch

import (
	"context"

	"github.com/google/uuid"
)

// Presentation carries the recipient-facing controls attached to a message:
// the event the controls act on, an optional outbound link, and whether this
// is the event's first announcement (primary call-to-action) or a follow-up
// (secondary call-to-action).
type Presentation struct {
	EventID           uuid.UUID
	LinkURL           string
	FirstAnnouncement bool
}

// Sender delivers one message to one target on one channel. Implementations
// must be safe to call once per (post, target, attempt) with no side effects
// beyond the remote send.
type Sender interface {
	Send(ctx context.Context, target, text string, pres *Presentation) error
}

// SendOutcome is the result of a single-target send. PUBLIC dispatch treats a
// failed outcome as fatal to the post; SUBSCRIBERS dispatch does not.
type SendOutcome struct {
	Target string
	Err    error
}

func (o SendOutcome) Sent() bool {
	return o.Err == nil
}
