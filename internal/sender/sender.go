package sender

import (
	"context"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/pkg/logger"
)

// Result is what a channel provider reported for one send.
type Result struct {
	ProviderCode string
	Status       model.AttemptStatus
}

// Sender delivers one message over one channel. Implementations are
// supplied per channel by the host; the dispatcher converts errors and
// timeouts into failed delivery attempts rather than propagating them.
type Sender interface {
	Channel() string
	Send(ctx context.Context, recipientID, subject, body string) (Result, error)
}

// LogSender writes messages to the log instead of delivering them. Useful
// for development and as a stand-in for channels without a provider yet.
type LogSender struct {
	channel string
	logger  *logger.Logger
}

func NewLogSender(channel string, log *logger.Logger) *LogSender {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogSender{channel: channel, logger: log}
}

func (s *LogSender) Channel() string {
	return s.channel
}

func (s *LogSender) Send(ctx context.Context, recipientID, subject, body string) (Result, error) {
	s.logger.Info("notification delivered to log",
		"channel", s.channel,
		"recipient_id", recipientID,
		"subject", subject)
	return Result{ProviderCode: "logged", Status: model.AttemptStatusSent}, nil
}
