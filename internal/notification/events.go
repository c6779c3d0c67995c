package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	EventIdentityCreated    = "identity.created"
	EventProfileSubmitted   = "identity.profile_submitted"
	EventDocumentsSubmitted = "identity.documents_submitted"
	EventKYCApproved        = "identity.kyc_approved"
	EventKYCRejected        = "identity.kyc_rejected"
)

// Event records an onboarding state change for downstream consumers.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	IdentityID string    `json:"identity_id"`
	Role       string    `json:"role"`
	FromStage  string    `json:"from_stage,omitempty"`
	ToStage    string    `json:"to_stage"`
	KYCStatus  string    `json:"kyc_status"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits onboarding events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes events to the structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("onboarding event",
		slog.String("event_id", event.ID),
		slog.String("type", event.Type),
		slog.String("identity_id", event.IdentityID),
		slog.String("from_stage", event.FromStage),
		slog.String("to_stage", event.ToStage),
		slog.String("kyc_status", event.KYCStatus),
	)
	return nil
}

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher produces events as JSON records keyed by identity id, so all
// events for one identity land on the same partition in order.
type KafkaPublisher struct {
	client producer
	topic  string
}

// NewKafkaPublisher wraps a franz-go client.
func NewKafkaPublisher(client *kgo.Client, topic string) *KafkaPublisher {
	return &KafkaPublisher{client: client, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.IdentityID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event: %w", err)
	}
	return nil
}
