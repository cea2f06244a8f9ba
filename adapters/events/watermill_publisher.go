package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
)

// DefaultTopicPrefix prefixes every topic published by WatermillPublisher.
const DefaultTopicPrefix = "amper"

// Topic suffixes, appended to the prefix with a dot.
const (
	TopicTokenMinted      = "token.minted"
	TopicTokenInvalidated = "token.invalidated"
	TopicPaymentSettled   = "payment.settled"
	TopicPaymentFailed    = "payment.failed"
)

// TokenMintedEvent announces a newly cached token. Credentials stay local.
type TokenMintedEvent struct {
	TokenID   string     `json:"token_id"`
	Scope     string     `json:"scope"`
	Scheme    string     `json:"scheme"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// TokenInvalidatedEvent tells other instances to drop the token for a scope
type TokenInvalidatedEvent struct {
	Scope string `json:"scope"`
}

// PaymentSettledEvent records a settled invoice
type PaymentSettledEvent struct {
	Invoice     string    `json:"invoice"`
	PaymentHash string    `json:"payment_hash,omitempty"`
	FeeSats     int64     `json:"fee_sats"`
	SettledAt   time.Time `json:"settled_at"`
}

// PaymentFailedEvent records a failed settlement attempt
type PaymentFailedEvent struct {
	Invoice   string `json:"invoice"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	prefix    string
}

// NewWatermillPublisher creates a new Watermill publisher. An empty prefix
// means DefaultTopicPrefix.
func NewWatermillPublisher(publisher message.Publisher, prefix string) ports.EventPublisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &WatermillPublisher{
		publisher: publisher,
		prefix:    prefix,
	}
}

// Topic returns the full topic name for suffix.
func (p *WatermillPublisher) Topic(suffix string) string {
	return p.prefix + "." + suffix
}

// PublishTokenMinted publishes a token minted event
func (p *WatermillPublisher) PublishTokenMinted(ctx context.Context, token core.StoredToken) error {
	return p.publish(ctx, TopicTokenMinted, TokenMintedEvent{
		TokenID:   token.ID,
		Scope:     token.Scope,
		Scheme:    token.Scheme,
		CreatedAt: token.CreatedAt,
		ExpiresAt: token.ExpiresAt,
	})
}

// PublishTokenInvalidated publishes a token invalidated event
func (p *WatermillPublisher) PublishTokenInvalidated(ctx context.Context, scope string) error {
	return p.publish(ctx, TopicTokenInvalidated, TokenInvalidatedEvent{Scope: scope})
}

// PublishPaymentSettled publishes a payment settled event
func (p *WatermillPublisher) PublishPaymentSettled(ctx context.Context, invoice string, result core.PaymentResult) error {
	return p.publish(ctx, TopicPaymentSettled, PaymentSettledEvent{
		Invoice:     invoice,
		PaymentHash: result.PaymentHash,
		FeeSats:     result.FeeSats,
		SettledAt:   result.SettledAt,
	})
}

// PublishPaymentFailed publishes a payment failed event
func (p *WatermillPublisher) PublishPaymentFailed(ctx context.Context, invoice string, cause error) error {
	event := PaymentFailedEvent{
		Invoice:   invoice,
		Retryable: core.IsRetryable(cause),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	return p.publish(ctx, TopicPaymentFailed, event)
}

func (p *WatermillPublisher) publish(ctx context.Context, suffix string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.Topic(suffix), msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
