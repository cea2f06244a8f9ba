package ports

import (
	"context"

	"github.com/layer-3/amper/core"
)

// PaymentBackend settles invoices on behalf of the engine. Implementations
// report failures as *core.PaymentError where they can classify them; any
// other error is treated as core.ErrBackendUnavailable.
type PaymentBackend interface {
	PayInvoice(ctx context.Context, invoice string) (core.PaymentResult, error)
}
