package ports

import (
	"context"

	"github.com/layer-3/amper/core"
)

// EventPublisher publishes credential lifecycle events to other host contexts
// and instances. Payloads never carry macaroons or preimages.
type EventPublisher interface {
	PublishTokenMinted(ctx context.Context, token core.StoredToken) error
	PublishTokenInvalidated(ctx context.Context, scope string) error
	PublishPaymentSettled(ctx context.Context, invoice string, result core.PaymentResult) error
	PublishPaymentFailed(ctx context.Context, invoice string, cause error) error
}
