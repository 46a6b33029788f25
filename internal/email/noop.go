package email

import (
	"context"

	"go.uber.org/zap"
)

// NoopSender logs notifications instead of delivering them.
// The body is not logged since it names the address and the requester.
type NoopSender struct {
	logger *zap.Logger
}

// NewNoopSender creates a NoopSender backed by the given logger.
func NewNoopSender(logger *zap.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

// Send logs the subject and returns nil.
func (n *NoopSender) Send(_ context.Context, _, subject, _ string) error {
	n.logger.Debug("notification not sent (noop sender)", zap.String("subject", subject))
	return nil
}
