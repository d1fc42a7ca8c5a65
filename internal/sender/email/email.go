package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/sender"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender delivers over SMTP. The recipient ID is used directly as the
// destination address; hosts with opaque recipient IDs should wrap this
// with their own address lookup.
type Sender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSender(cfg Config) (*Sender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from address is required")
	}

	return &Sender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}, nil
}

func (s *Sender) Channel() string {
	return model.ChannelEmail
}

func (s *Sender) Send(ctx context.Context, recipientID, subject, body string) (sender.Result, error) {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", recipientID)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	// gomail has no context support; run the dial in a goroutine so the
	// dispatcher's per-send timeout still applies.
	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return sender.Result{Status: model.AttemptStatusFailed}, fmt.Errorf("smtp send timed out: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return sender.Result{Status: model.AttemptStatusFailed}, fmt.Errorf("smtp send failed: %w", err)
		}
	}

	return sender.Result{ProviderCode: "250", Status: model.AttemptStatusSent}, nil
}
