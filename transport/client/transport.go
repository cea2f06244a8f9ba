// Package client provides an http.RoundTripper that pays L402 challenges and
// retries the request with the resulting credential.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/service"
)

// Authenticator is the part of *service.Orchestrator the transport needs.
type Authenticator interface {
	Lookup(ctx context.Context, scope string) (core.StoredToken, error)
	Authenticate(ctx context.Context, scope string, challenge core.Challenge, opts service.AuthenticateOptions) (core.StoredToken, error)
}

// Transport attaches cached L402 credentials to outgoing requests and answers
// 402 challenges by authenticating and retrying once.
type Transport struct {
	// Base performs the actual requests; nil means http.DefaultTransport.
	Base http.RoundTripper

	Auth        Authenticator
	Granularity core.ScopeGranularity
	Logger      *slog.Logger

	// AllowDegraded is passed through to Authenticate.
	AllowDegraded bool
}

// NewTransport creates a transport over base authenticating through auth.
func NewTransport(base http.RoundTripper, auth Authenticator, granularity core.ScopeGranularity) *Transport {
	return &Transport{Base: base, Auth: auth, Granularity: granularity}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Requests carrying their own credentials are passed through untouched.
	if req.Header.Get("Authorization") != "" {
		return t.base().RoundTrip(req)
	}

	scope, err := core.ScopeFromURL(req.URL, t.Granularity)
	if err != nil {
		return t.base().RoundTrip(req)
	}
	ctx := req.Context()

	attempt := req
	var presented string
	if token, err := t.Auth.Lookup(ctx, scope); err == nil {
		attempt = withAuthorization(req, token)
		presented = token.ID
	} else if !errors.Is(err, core.ErrNotFound) {
		t.logger().Warn("Token lookup failed", "scope", scope, "error", err)
	}

	resp, err := t.base().RoundTrip(attempt)
	if err != nil || resp.StatusCode != http.StatusPaymentRequired {
		return resp, err
	}

	challenge, err := core.ParseChallengeHeaders(resp.Header.Values("WWW-Authenticate"))
	if err != nil {
		// A 402 without a usable L402 challenge is returned as is.
		return resp, nil
	}

	retry, err := rewind(req)
	if err != nil {
		t.logger().Debug("Request body cannot be replayed, not retrying", "scope", scope)
		return resp, nil
	}

	// A 402 for a request that carried our token means the server revoked it.
	token, err := t.Auth.Authenticate(ctx, scope, challenge, service.AuthenticateOptions{
		ForceRefresh:  presented != "",
		StaleTokenID:  presented,
		AllowDegraded: t.AllowDegraded,
	})
	var persistErr *core.PersistError
	if err != nil && !errors.As(err, &persistErr) {
		t.logger().Warn("L402 authentication failed", "scope", scope, "error", err, "retryable", core.IsRetryable(err))
		return resp, nil
	}
	if persistErr != nil {
		t.logger().Warn("Paid token was not cached", "scope", scope, "error", persistErr.Err)
	}

	drain(resp)
	return t.base().RoundTrip(withAuthorization(retry, token))
}

func withAuthorization(req *http.Request, token core.StoredToken) *http.Request {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", token.Authorization())
	return clone
}

// rewind returns a copy of req whose body can be sent again.
func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
