package model

import (
	"fmt"
	"time"
)

// RateLimitRule configures the fixed-window limit for one action type.
// BlockDurationSeconds of zero means throttle only, no hard block.
type RateLimitRule struct {
	Action               string `yaml:"action" json:"action"`
	RequestsPerWindow    int    `yaml:"requests_per_window" json:"requests_per_window"`
	WindowSeconds        int    `yaml:"window_seconds" json:"window_seconds"`
	BlockDurationSeconds int    `yaml:"block_duration_seconds" json:"block_duration_seconds"`
}

func (r RateLimitRule) Validate() error {
	if r.Action == "" {
		return fmt.Errorf("action is required")
	}
	if r.RequestsPerWindow <= 0 {
		return fmt.Errorf("requests_per_window must be positive")
	}
	if r.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive")
	}
	if r.BlockDurationSeconds < 0 {
		return fmt.Errorf("block_duration_seconds cannot be negative")
	}
	return nil
}

func (r RateLimitRule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

func (r RateLimitRule) BlockDuration() time.Duration {
	return time.Duration(r.BlockDurationSeconds) * time.Second
}

// CounterTTL is how long a counter row stays relevant: the window itself,
// extended by the block period when one is configured.
func (r RateLimitRule) CounterTTL() time.Duration {
	return r.Window() + r.BlockDuration()
}

// RateLimitCounter is one fixed-window bucket for an (identifier, action)
// pair. Rows are created lazily on first request in a window and expire once
// the window plus any block period has elapsed.
type RateLimitCounter struct {
	Identifier    string     `db:"identifier" json:"identifier"`
	Action        string     `db:"action" json:"action"`
	WindowStart   time.Time  `db:"window_start" json:"window_start"`
	RequestCount  int        `db:"request_count" json:"request_count"`
	LimitExceeded bool       `db:"limit_exceeded" json:"limit_exceeded"`
	BlockedUntil  *time.Time `db:"blocked_until" json:"blocked_until,omitempty"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}
