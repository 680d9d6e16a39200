package reset

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Message carries one reset token dispatch. Token is the plain opaque
// secret; it exists only in flight and is never persisted.
type Message struct {
	UserID    string
	Recipient string
	Token     string
	ExpiresAt time.Time
}

// Sender dispatches reset messages. Implementations deliver over email,
// SMS or whatever channel the embedder provides.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes reset dispatches to the log instead of delivering
// them. Development use only: the token itself appears at debug level.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-backed sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the dispatch.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("password reset dispatched",
		zap.String("user_id", msg.UserID),
		zap.String("recipient", msg.Recipient),
		zap.Time("expires_at", msg.ExpiresAt))
	s.logger.Debug("password reset token",
		zap.String("user_id", msg.UserID),
		zap.String("token", msg.Token))
	return nil
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls the function.
func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
