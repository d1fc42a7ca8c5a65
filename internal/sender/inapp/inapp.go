package inapp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/sender"
	"github.com/jwalitptl/notify-api/pkg/messaging"
)

const topic = "notifications:in_app"

// Event is the payload published for in-app consumers.
type Event struct {
	ID          uuid.UUID `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sender publishes in-app notifications onto the message broker; the host
// application's frontend fan-out consumes them from there.
type Sender struct {
	broker messaging.Broker
}

func NewSender(broker messaging.Broker) *Sender {
	return &Sender{broker: broker}
}

func (s *Sender) Channel() string {
	return model.ChannelInApp
}

func (s *Sender) Send(ctx context.Context, recipientID, subject, body string) (sender.Result, error) {
	event := Event{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Subject:     subject,
		Body:        body,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.broker.Publish(ctx, topic, event); err != nil {
		return sender.Result{Status: model.AttemptStatusFailed}, fmt.Errorf("failed to publish in-app event: %w", err)
	}
	return sender.Result{ProviderCode: "published", Status: model.AttemptStatusSent}, nil
}
