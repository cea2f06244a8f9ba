package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
	"golang.org/x/sync/singleflight"
)

// AuthenticateOptions tune a single Authenticate call.
//
// Concurrent calls for the same scope and invoice share one payment. Callers
// that join a payment already in progress get the token minted with the
// Metadata of the caller that started it.
type AuthenticateOptions struct {
	// ForceRefresh discards the cached token for the scope and pays again.
	ForceRefresh bool

	// StaleTokenID names the token the server rejected. With ForceRefresh, a
	// cached token with a different ID has already replaced it and is returned
	// without paying. Empty discards whatever token is cached.
	StaleTokenID string

	// AllowDegraded treats an unreadable token store as a cache miss.
	AllowDegraded bool

	// Metadata is stored with a newly minted token.
	Metadata map[string]string
}

type authState int

const (
	stateStart authState = iota
	stateCheckCache
	statePaying
	stateMinting
	stateDone
	stateFailed
)

func (s authState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateCheckCache:
		return "check_cache"
	case statePaying:
		return "paying"
	case stateMinting:
		return "minting"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// authRun is the state of one orchestration.
type authRun struct {
	scope     string
	challenge core.Challenge
	opts      AuthenticateOptions

	state authState
	proof core.PaymentResult
	token core.StoredToken
	err   error
}

func (r *authRun) terminal() bool {
	return r.state == stateDone || r.state == stateFailed
}

func (r *authRun) fail(err error) {
	r.err = err
	r.state = stateFailed
}

// Orchestrator turns a payment challenge into a usable token, reusing cached
// tokens and paying at most once per invoice.
type Orchestrator struct {
	tokens   *TokenStore
	payments Settler
	events   ports.EventPublisher
	logger   *slog.Logger

	tokenTTL       time.Duration
	maxInvoiceSats int64

	flights singleflight.Group
}

// NewOrchestrator creates an orchestrator over tokens and payments.
func NewOrchestrator(tokens *TokenStore, payments Settler, opts ...Option) *Orchestrator {
	o := buildOptions(opts)
	return &Orchestrator{
		tokens:         tokens,
		payments:       payments,
		events:         o.events,
		logger:         o.logger,
		tokenTTL:       o.tokenTTL,
		maxInvoiceSats: o.maxInvoiceSats,
	}
}

// ParseChallenge parses a WWW-Authenticate header value.
func (o *Orchestrator) ParseChallenge(header string) (core.Challenge, error) {
	return core.ParseChallenge(header)
}

// Authenticate returns a valid token for scope, paying challenge's invoice
// only when no cached token can be used.
//
// If the payment succeeded but the token could not be stored, the token is
// returned together with a *core.PersistError.
func (o *Orchestrator) Authenticate(ctx context.Context, scope string, challenge core.Challenge, opts AuthenticateOptions) (core.StoredToken, error) {
	run := &authRun{
		scope:     scope,
		challenge: challenge,
		opts:      opts,
		state:     stateStart,
	}

	for !run.terminal() {
		if run.state == statePaying {
			o.joinPayment(ctx, run)
			continue
		}
		o.step(ctx, run)
	}

	if run.state == stateFailed {
		return core.StoredToken{}, run.err
	}
	return run.token, run.err
}

// joinPayment runs the Paying and Minting states in a flight shared by every
// concurrent orchestration with the same flightKey.
func (o *Orchestrator) joinPayment(ctx context.Context, run *authRun) {
	key := flightKey(run)

	ch := o.flights.DoChan(key, func() (any, error) {
		shared := &authRun{
			scope:     run.scope,
			challenge: run.challenge,
			opts:      run.opts,
			state:     stateCheckCache,
		}
		fctx := context.WithoutCancel(ctx)
		if run.opts.ForceRefresh {
			o.revoke(fctx, shared)
		}
		for !shared.terminal() {
			o.step(fctx, shared)
		}
		return shared, nil
	})

	select {
	case res := <-ch:
		shared := res.Val.(*authRun)
		run.token, run.proof, run.err, run.state = shared.token, shared.proof, shared.err, shared.state
	case <-ctx.Done():
		run.fail(ctx.Err())
	}
}

func flightKey(run *authRun) string {
	return strings.Join([]string{
		run.scope,
		run.challenge.Invoice,
		strconv.FormatBool(run.opts.ForceRefresh),
		run.opts.StaleTokenID,
		strconv.FormatBool(run.opts.AllowDegraded),
	}, "\x00")
}

// revoke discards the rejected token once for all callers refreshing together
// and moves run to Paying, or to Done when a newer token is already cached.
func (o *Orchestrator) revoke(ctx context.Context, run *authRun) {
	if run.opts.StaleTokenID == "" {
		run.state = statePaying
		if err := o.Invalidate(ctx, run.scope); err != nil {
			run.fail(fmt.Errorf("failed to invalidate token: %w", err))
		}
		return
	}

	token, revoked, err := o.tokens.Supersede(ctx, run.scope, run.opts.StaleTokenID)
	if revoked {
		o.logger.Info("Token invalidated", "scope", run.scope, "token_id", run.opts.StaleTokenID)
		if err := o.events.PublishTokenInvalidated(ctx, run.scope); err != nil {
			o.logger.Warn("Failed to publish token invalidated", "error", err)
		}
	}
	switch {
	case err == nil:
		o.logger.Debug("Rejected token already replaced", "scope", run.scope, "token_id", token.ID)
		run.token = token
		run.state = stateDone
	case errors.Is(err, core.ErrNotFound):
		run.state = statePaying
	case errors.Is(err, core.ErrStoreUnavailable) && run.opts.AllowDegraded:
		o.logger.Warn("Token store unavailable, continuing without cache", "scope", run.scope, "error", err)
		run.state = statePaying
	default:
		run.fail(fmt.Errorf("failed to invalidate token: %w", err))
	}
}

// step executes the current state and advances run to the next one.
func (o *Orchestrator) step(ctx context.Context, run *authRun) {
	from := run.state
	defer func() {
		o.logger.Debug("Authentication state",
			"scope", run.scope, "from", from.String(), "to", run.state.String())
	}()

	switch run.state {
	case stateStart:
		if err := core.ValidateScope(run.scope); err != nil {
			run.fail(err)
			return
		}
		if err := run.challenge.Validate(); err != nil {
			run.fail(err)
			return
		}
		if run.opts.ForceRefresh {
			run.state = statePaying
			return
		}
		run.state = stateCheckCache

	case stateCheckCache:
		token, err := o.tokens.Get(ctx, run.scope)
		switch {
		case err == nil:
			run.token = token
			run.state = stateDone
		case errors.Is(err, core.ErrNotFound):
			run.state = statePaying
		case errors.Is(err, core.ErrStoreUnavailable) && run.opts.AllowDegraded:
			o.logger.Warn("Token store unavailable, continuing without cache", "scope", run.scope, "error", err)
			run.state = statePaying
		default:
			run.fail(err)
		}

	case statePaying:
		if err := o.checkBudget(run.challenge.Invoice); err != nil {
			run.fail(err)
			return
		}
		proof, err := o.payments.Settle(ctx, run.challenge.Invoice)
		if err != nil {
			run.fail(err)
			return
		}
		run.proof = proof
		run.state = stateMinting

	case stateMinting:
		token := core.NewStoredToken(run.scope, run.challenge, run.proof, o.tokenTTL, run.opts.Metadata)
		run.token = token
		run.state = stateDone
		if err := o.tokens.Put(ctx, token); err != nil {
			o.logger.Error("Paid token could not be stored", "scope", run.scope, "token_id", token.ID, "error", err)
			run.err = &core.PersistError{Token: token, Err: err}
			return
		}
		o.logger.Info("Token minted", "scope", run.scope, "token_id", token.ID)
		if err := o.events.PublishTokenMinted(ctx, token); err != nil {
			o.logger.Warn("Failed to publish token minted", "error", err)
		}

	default:
		run.fail(fmt.Errorf("unexpected authentication state %s", run.state))
	}
}

func (o *Orchestrator) checkBudget(invoice string) error {
	if o.maxInvoiceSats <= 0 {
		return nil
	}
	amount, err := core.ParseInvoiceAmount(invoice)
	if err != nil {
		return core.NewPermanentPaymentError(core.ErrPaymentRejected, err.Error())
	}
	if !amount.HasAmount {
		return core.NewPermanentPaymentError(core.ErrPaymentRejected, "invoice does not state an amount")
	}
	if sats := amount.Sats(); sats > o.maxInvoiceSats {
		return core.NewPermanentPaymentError(core.ErrPaymentRejected,
			fmt.Sprintf("invoice amount %d sats exceeds limit of %d sats", sats, o.maxInvoiceSats))
	}
	return nil
}

// Lookup returns the valid cached token for scope, or core.ErrNotFound.
func (o *Orchestrator) Lookup(ctx context.Context, scope string) (core.StoredToken, error) {
	if err := core.ValidateScope(scope); err != nil {
		return core.StoredToken{}, err
	}
	return o.tokens.Get(ctx, scope)
}

// Invalidate revokes the token cached for scope.
func (o *Orchestrator) Invalidate(ctx context.Context, scope string) error {
	if err := core.ValidateScope(scope); err != nil {
		return err
	}
	if err := o.tokens.Invalidate(ctx, scope); err != nil {
		return err
	}
	o.logger.Info("Token invalidated", "scope", scope)
	if err := o.events.PublishTokenInvalidated(ctx, scope); err != nil {
		o.logger.Warn("Failed to publish token invalidated", "error", err)
	}
	return nil
}

// ListTokens returns every valid cached token ordered by scope.
func (o *Orchestrator) ListTokens(ctx context.Context) ([]core.StoredToken, error) {
	return o.tokens.List(ctx)
}
