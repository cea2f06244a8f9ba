package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
)

const (
	// DefaultPaymentTimeout bounds how long a settlement may take before all
	// waiters are released with core.ErrPaymentTimeout.
	DefaultPaymentTimeout = 60 * time.Second
)

type options struct {
	logger         *slog.Logger
	events         ports.EventPublisher
	paymentTimeout time.Duration
	tokenTTL       time.Duration
	maxInvoiceSats int64
}

// Option configures a Coordinator or an Orchestrator.
type Option func(*options)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEvents publishes lifecycle events to publisher.
func WithEvents(publisher ports.EventPublisher) Option {
	return func(o *options) {
		o.events = publisher
	}
}

// WithPaymentTimeout bounds each settlement attempt.
func WithPaymentTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.paymentTimeout = timeout
	}
}

// WithTokenTTL gives minted tokens an expiry. Zero mints tokens without one.
func WithTokenTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.tokenTTL = ttl
	}
}

// WithMaxInvoiceSats refuses to pay invoices above sats, and invoices that do
// not state an amount. Zero disables the limit.
func WithMaxInvoiceSats(sats int64) Option {
	return func(o *options) {
		o.maxInvoiceSats = sats
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:         slog.Default(),
		events:         noopPublisher{},
		paymentTimeout: DefaultPaymentTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.events == nil {
		o.events = noopPublisher{}
	}
	if o.paymentTimeout <= 0 {
		o.paymentTimeout = DefaultPaymentTimeout
	}
	return o
}

type noopPublisher struct{}

func (noopPublisher) PublishTokenMinted(context.Context, core.StoredToken) error { return nil }
func (noopPublisher) PublishTokenInvalidated(context.Context, string) error      { return nil }
func (noopPublisher) PublishPaymentSettled(context.Context, string, core.PaymentResult) error {
	return nil
}
func (noopPublisher) PublishPaymentFailed(context.Context, string, error) error { return nil }

// invoiceRef shortens an invoice for logs.
func invoiceRef(invoice string) string {
	const keep = 16
	if len(invoice) <= keep {
		return invoice
	}
	return invoice[:keep] + "..."
}
