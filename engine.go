// Package amper pays L402 payment challenges and caches the resulting
// credentials by resource.
//
// An Engine needs two things from its host: a ports.Storage to keep tokens in
// and a ports.PaymentBackend that can settle Lightning invoices.
//
//	engine := amper.New(store.NewMemoryStore(), payment.NewLNDClient(lndURL))
//	resp, err := engine.HTTPClient(nil).Get("https://api.example.com/resource")
package amper

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
	"github.com/layer-3/amper/service"
	"github.com/layer-3/amper/transport/client"
)

// Engine wires the token store, the payment coordinator and the orchestrator
type Engine struct {
	orchestrator *service.Orchestrator
	granularity  core.ScopeGranularity
	logger       *slog.Logger
}

type engineOptions struct {
	granularity core.ScopeGranularity
	logger      *slog.Logger
	service     []service.Option
}

// Option configures an Engine
type Option func(*engineOptions)

// WithGranularity selects how request URLs map to cache scopes
func WithGranularity(granularity core.ScopeGranularity) Option {
	return func(o *engineOptions) {
		o.granularity = granularity
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithServiceOptions passes options to the coordinator and orchestrator
func WithServiceOptions(opts ...service.Option) Option {
	return func(o *engineOptions) {
		o.service = append(o.service, opts...)
	}
}

// New creates an engine keeping tokens in storage and paying through backend
func New(storage ports.Storage, backend ports.PaymentBackend, opts ...Option) *Engine {
	o := engineOptions{granularity: core.ScopePath, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	svcOpts := append([]service.Option{service.WithLogger(o.logger)}, o.service...)
	tokens := service.NewTokenStore(storage, o.logger)
	return &Engine{
		orchestrator: service.NewOrchestrator(tokens, service.NewCoordinator(backend, svcOpts...), svcOpts...),
		granularity:  o.granularity,
		logger:       o.logger,
	}
}

var _ Client = (*Engine)(nil)

// Orchestrator exposes the underlying orchestrator
func (e *Engine) Orchestrator() *service.Orchestrator {
	return e.orchestrator
}

// Granularity returns the scope granularity of the engine
func (e *Engine) Granularity() core.ScopeGranularity {
	return e.granularity
}

// Scope derives the cache scope of rawURL
func (e *Engine) Scope(rawURL string) (string, error) {
	return core.ScopeFromString(rawURL, e.granularity)
}

// ParseChallenge parses a WWW-Authenticate header value
func (e *Engine) ParseChallenge(header string) (core.Challenge, error) {
	return e.orchestrator.ParseChallenge(header)
}

// Authenticate returns a token for rawURL
func (e *Engine) Authenticate(ctx context.Context, rawURL, header string, opts service.AuthenticateOptions) (core.StoredToken, error) {
	scope, err := e.Scope(rawURL)
	if err != nil {
		return core.StoredToken{}, err
	}
	challenge, err := e.orchestrator.ParseChallenge(header)
	if err != nil {
		return core.StoredToken{}, err
	}
	return e.orchestrator.Authenticate(ctx, scope, challenge, opts)
}

// ListTokens returns every valid cached token
func (e *Engine) ListTokens(ctx context.Context) ([]core.StoredToken, error) {
	return e.orchestrator.ListTokens(ctx)
}

// Invalidate revokes the token cached for rawURL
func (e *Engine) Invalidate(ctx context.Context, rawURL string) error {
	scope, err := e.Scope(rawURL)
	if err != nil {
		return err
	}
	return e.orchestrator.Invalidate(ctx, scope)
}

// HTTPClient returns a client that pays L402 challenges transparently. A nil
// base uses http.DefaultTransport.
func (e *Engine) HTTPClient(base http.RoundTripper) *http.Client {
	t := client.NewTransport(base, e.orchestrator, e.granularity)
	t.Logger = e.logger
	return &http.Client{Transport: t}
}
