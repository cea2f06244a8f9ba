package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
	"golang.org/x/sync/singleflight"
)

// Settler settles invoices. *Coordinator is the production implementation.
type Settler interface {
	Settle(ctx context.Context, invoice string) (core.PaymentResult, error)
}

// Coordinator serialises payments per invoice: concurrent callers for the
// same invoice share one backend call and its outcome.
type Coordinator struct {
	backend ports.PaymentBackend
	events  ports.EventPublisher
	logger  *slog.Logger
	timeout time.Duration

	flights singleflight.Group
}

// NewCoordinator creates a coordinator paying through backend.
func NewCoordinator(backend ports.PaymentBackend, opts ...Option) *Coordinator {
	o := buildOptions(opts)
	return &Coordinator{
		backend: backend,
		events:  o.events,
		logger:  o.logger,
		timeout: o.paymentTimeout,
	}
}

// Settle pays invoice at most once among concurrent callers. The payment runs
// detached from ctx: a caller that gives up gets ctx.Err() while the shared
// attempt continues for the others, bounded by the payment timeout.
func (c *Coordinator) Settle(ctx context.Context, invoice string) (core.PaymentResult, error) {
	if invoice == "" {
		return core.PaymentResult{}, fmt.Errorf("%w: empty invoice", core.ErrInvalidInvoice)
	}

	ch := c.flights.DoChan(invoice, func() (any, error) {
		return c.pay(context.WithoutCancel(ctx), invoice)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return core.PaymentResult{}, res.Err
		}
		if res.Shared {
			c.logger.Debug("Joined in-flight payment", "invoice", invoiceRef(invoice))
		}
		return res.Val.(core.PaymentResult), nil
	case <-ctx.Done():
		c.logger.Debug("Caller stopped waiting for payment", "invoice", invoiceRef(invoice), "error", ctx.Err())
		return core.PaymentResult{}, ctx.Err()
	}
}

type payOutcome struct {
	result core.PaymentResult
	err    error
}

func (c *Coordinator) pay(ctx context.Context, invoice string) (core.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	c.logger.Info("Paying invoice", "invoice", invoiceRef(invoice))

	done := make(chan payOutcome, 1)
	go func() {
		result, err := c.backend.PayInvoice(ctx, invoice)
		done <- payOutcome{result: result, err: err}
	}()

	var out payOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = core.NewPaymentError(core.ErrPaymentTimeout, fmt.Sprintf("no settlement within %s", c.timeout))
	}

	if out.err == nil {
		if err := out.result.Verify(); err != nil {
			out.err = core.NewPermanentPaymentError(core.ErrPaymentRejected, err.Error())
		}
	} else {
		out.err = classifyPaymentError(out.err)
	}

	if out.err != nil {
		c.logger.Warn("Payment failed", "invoice", invoiceRef(invoice), "error", out.err, "duration", time.Since(started))
		if err := c.events.PublishPaymentFailed(context.WithoutCancel(ctx), invoice, out.err); err != nil {
			c.logger.Warn("Failed to publish payment failure", "error", err)
		}
		return core.PaymentResult{}, out.err
	}

	if out.result.SettledAt.IsZero() {
		out.result.SettledAt = time.Now().UTC()
	}
	c.logger.Info("Payment settled", "invoice", invoiceRef(invoice), "fee_sats", out.result.FeeSats, "duration", time.Since(started))
	if err := c.events.PublishPaymentSettled(context.WithoutCancel(ctx), invoice, out.result); err != nil {
		c.logger.Warn("Failed to publish payment settlement", "error", err)
	}
	return out.result, nil
}

// classifyPaymentError maps backend errors onto the payment error kinds.
func classifyPaymentError(err error) error {
	var perr *core.PaymentError
	switch {
	case errors.As(err, &perr):
		return perr
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, core.ErrPaymentTimeout):
		return core.NewPaymentError(core.ErrPaymentTimeout, err.Error())
	case errors.Is(err, core.ErrPaymentRejected):
		return core.NewPaymentError(core.ErrPaymentRejected, err.Error())
	default:
		return core.NewPaymentError(core.ErrBackendUnavailable, err.Error())
	}
}
