// Package eventbus publishes domain activity to NATS JetStream for downstream
// consumers such as notification delivery.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Message is the envelope sent on every subject.
type Message struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	UserID     string         `json:"user_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// StreamConfig names the stream that captures the publisher's subjects.
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
}

// Publisher publishes messages to JetStream.
// The zero value and a nil pointer are both safe no-op stubs.
type Publisher struct {
	js  nats.JetStreamContext
	log *zap.Logger
	now func() time.Time
}

// New creates a Publisher using an existing JetStream context.
// Pass js=nil to get a no-op stub.
func New(js nats.JetStreamContext, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{js: js, log: log, now: time.Now}
}

// EnsureStream creates the stream or widens its subjects when it already exists.
func (p *Publisher) EnsureStream(_ context.Context, sc StreamConfig) error {
	if p == nil || p.js == nil {
		return nil
	}
	info, err := p.js.StreamInfo(sc.Name)
	if err == nil {
		if sameSubjects(info.Config.Subjects, sc.Subjects) {
			return nil
		}
		cfg := info.Config
		cfg.Subjects = sc.Subjects
		_, err := p.js.UpdateStream(&cfg)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     sc.Name,
		Subjects: sc.Subjects,
		Storage:  nats.FileStorage,
		MaxAge:   sc.MaxAge,
	})
	return err
}

// Publish sends a message asynchronously (fire-and-forget).
// Failures are logged as warnings and never surface to the caller.
func (p *Publisher) Publish(_ context.Context, subject, eventName, userID string, props map[string]any) {
	if p == nil || p.js == nil {
		return
	}
	data, err := json.Marshal(p.envelope(eventName, userID, props))
	if err != nil {
		p.log.Warn("eventbus: marshal failed", zap.String("event", eventName), zap.Error(err))
		return
	}
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.log.Warn("eventbus: publish failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	p.log.Debug("eventbus: published", zap.String("subject", subject), zap.String("event", eventName))
}

func (p *Publisher) envelope(eventName, userID string, props map[string]any) Message {
	return Message{
		EventID:    uuid.NewString(),
		EventName:  eventName,
		UserID:     userID,
		OccurredAt: p.now().UTC(),
		Properties: props,
	}
}

func sameSubjects(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			return false
		}
	}
	return true
}
