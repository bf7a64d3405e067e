// Package history exports per-exec audit events to external systems
// (analytics/statistics). The engine sends events best-effort; a failing
// sink never affects cache correctness.
package history

import (
	"context"
	"log/slog"
	"time"
)

// Outcome classifies how an exec call ended.
type Outcome string

const (
	OutcomeHit     Outcome = "hit"
	OutcomeMiss    Outcome = "miss"
	OutcomeFailure Outcome = "failure"
)

// Event describes one exec call.
type Event struct {
	FnName     string        `json:"fn_name"`
	KeyDigest  string        `json:"key_digest"`
	Outcome    Outcome       `json:"outcome"`
	Duration   time.Duration `json:"duration"`
	OccurredAt time.Time     `json:"occurred_at"`
	Error      string        `json:"error,omitempty"`
}

// Sink is a destination for exec events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// SlogSink logs events through slog; the zero-config default.
type SlogSink struct{}

func (SlogSink) Send(_ context.Context, e Event) error {
	slog.Info("workcache exec",
		"fn", e.FnName,
		"key", e.KeyDigest,
		"outcome", string(e.Outcome),
		"duration", e.Duration,
		"error", e.Error)
	return nil
}

func (SlogSink) Close() error { return nil }
