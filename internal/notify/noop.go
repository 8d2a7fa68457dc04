package notify

import (
	"context"
	"log/slog"
)

// NoopNotifier logs alerts instead of delivering them. Used when no email
// provider is configured.
type NoopNotifier struct {
	logger *slog.Logger
}

func NewNoopNotifier(logger *slog.Logger) *NoopNotifier {
	return &NoopNotifier{logger: logger}
}

func (n *NoopNotifier) SecurityAlert(_ context.Context, userID, subject, _ string) error {
	n.logger.Info("security alert suppressed, no notifier configured",
		slog.String("user_id", userID),
		slog.String("subject", subject))
	return nil
}
