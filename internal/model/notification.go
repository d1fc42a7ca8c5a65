package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusInFlight  NotificationStatus = "in_flight"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusDelivered NotificationStatus = "delivered"
	NotificationStatusFailed    NotificationStatus = "failed"
	NotificationStatusCancelled NotificationStatus = "cancelled"
)

// Terminal reports whether the status can never change again.
func (s NotificationStatus) Terminal() bool {
	switch s {
	case NotificationStatusSent, NotificationStatusDelivered,
		NotificationStatusFailed, NotificationStatusCancelled:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Weight orders priorities for batch selection, urgent first.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return Priority(s), nil
	case "":
		return PriorityNormal, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Delivery channels known to the built-in senders. Hosts may register
// senders for additional channel names.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
	ChannelInApp = "in_app"
)

// NotificationType is the read-mostly configuration for one kind of
// notification: default channels, priority, templates, and the minimum
// spacing between notifications of this type to the same recipient.
type NotificationType struct {
	Name                  string   `yaml:"name" json:"name"`
	Channels              []string `yaml:"channels" json:"channels"`
	Priority              Priority `yaml:"priority" json:"priority"`
	ThrottleWindowMinutes int      `yaml:"throttle_window_minutes" json:"throttle_window_minutes"`
	TemplateSubject       string   `yaml:"template_subject" json:"template_subject"`
	TemplateBody          string   `yaml:"template_body" json:"template_body"`
	MaxRetries            int      `yaml:"max_retries" json:"max_retries"`
}

func (t NotificationType) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(t.Channels) == 0 {
		return fmt.Errorf("at least one channel is required")
	}
	if _, err := ParsePriority(string(t.Priority)); err != nil {
		return err
	}
	if t.ThrottleWindowMinutes < 0 {
		return fmt.Errorf("throttle_window_minutes cannot be negative")
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}

func (t NotificationType) ThrottleWindow() time.Duration {
	return time.Duration(t.ThrottleWindowMinutes) * time.Minute
}

// Notification is one message to deliver. Channels are resolved at enqueue
// time and may override the type default. Only the dispatcher mutates a
// notification after creation, under a claim on its ID.
type Notification struct {
	ID          uuid.UUID          `db:"id" json:"id"`
	RecipientID string             `db:"recipient_id" json:"recipient_id"`
	Type        string             `db:"type" json:"type"`
	Subject     string             `db:"subject" json:"subject"`
	Body        string             `db:"body" json:"body"`
	Channels    ChannelList        `db:"channels" json:"channels"`
	Priority    Priority           `db:"priority" json:"priority"`
	Status      NotificationStatus `db:"status" json:"status"`
	ScheduledAt time.Time          `db:"scheduled_at" json:"scheduled_at"`
	SentAt      *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
	RetryCount  int                `db:"retry_count" json:"retry_count"`
	MaxRetries  int                `db:"max_retries" json:"max_retries"`
	NextRetryAt *time.Time         `db:"next_retry_at" json:"next_retry_at,omitempty"`
	ClaimedAt   *time.Time         `db:"claimed_at" json:"claimed_at,omitempty"`
	LastError   *string            `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at" json:"updated_at"`
}

type AttemptStatus string

const (
	AttemptStatusSent      AttemptStatus = "sent"
	AttemptStatusDelivered AttemptStatus = "delivered"
	AttemptStatusFailed    AttemptStatus = "failed"
	AttemptStatusBounced   AttemptStatus = "bounced"
)

// DeliveryAttempt is the append-only record of one send on one channel.
// Never updated after creation.
type DeliveryAttempt struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	NotificationID uuid.UUID     `db:"notification_id" json:"notification_id"`
	Channel        string        `db:"channel" json:"channel"`
	AttemptNumber  int           `db:"attempt_number" json:"attempt_number"`
	ProviderCode   string        `db:"provider_code" json:"provider_code,omitempty"`
	Status         AttemptStatus `db:"status" json:"status"`
	ErrorMessage   *string       `db:"error_message" json:"error_message,omitempty"`
	AttemptedAt    time.Time     `db:"attempted_at" json:"attempted_at"`
}
