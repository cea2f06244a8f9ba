package amper

import (
	"context"

	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/service"
)

// Client represents the public interface for embedding the credential engine
type Client interface {
	// ParseChallenge parses a WWW-Authenticate header value
	ParseChallenge(header string) (core.Challenge, error)

	// Authenticate returns a token for the resource at rawURL, paying the
	// challenge in header only when no cached token exists
	Authenticate(ctx context.Context, rawURL, header string, opts service.AuthenticateOptions) (core.StoredToken, error)

	// ListTokens returns every valid cached token
	ListTokens(ctx context.Context) ([]core.StoredToken, error)

	// Invalidate revokes the token cached for the resource at rawURL
	Invalidate(ctx context.Context, rawURL string) error
}
