package dispatch

import (
	"context"

	"github.com/sportadm/events-api/pkg/logger"
)

// InternalSender delivers INTERNAL-channel posts to the service log. It
// exists so operators can schedule announcements that surface in operational
// tooling without any external messenger.
type InternalSender struct {
	logger *logger.Logger
}

func NewInternalSender(logger *logger.Logger) *InternalSender {
	return &InternalSender{logger: logger}
}

func (s *InternalSender) Send(_ context.Context, target, text string, _ *Presentation) error {
	s.logger.Info("internal announcement", "target", target, "text", text)
	return nil
}
