// Package payment contains PaymentBackend implementations.
package payment

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
)

// LNDClient pays invoices through the REST API of an LND node.
type LNDClient struct {
	baseURL    string
	macaroon   string
	httpClient *http.Client
	logger     *slog.Logger
}

// LNDOption configures an LNDClient.
type LNDOption func(*LNDClient)

// WithHTTPClient replaces the HTTP client used to reach the node.
func WithHTTPClient(client *http.Client) LNDOption {
	return func(c *LNDClient) {
		c.httpClient = client
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) LNDOption {
	return func(c *LNDClient) {
		c.logger = logger
	}
}

// WithMacaroon authenticates requests with a hex encoded macaroon.
func WithMacaroon(macaroonHex string) LNDOption {
	return func(c *LNDClient) {
		c.macaroon = macaroonHex
	}
}

// NewLNDClient creates a client for the node at baseURL, e.g.
// https://localhost:8080.
func NewLNDClient(baseURL string, opts ...LNDOption) *LNDClient {
	c := &LNDClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewLNDClientFromFiles creates a client reading the admin macaroon and the
// node's TLS certificate from disk. Empty paths are skipped.
func NewLNDClientFromFiles(baseURL, macaroonPath, tlsCertPath string, opts ...LNDOption) (*LNDClient, error) {
	if macaroonPath != "" {
		mac, err := os.ReadFile(macaroonPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read macaroon: %w", err)
		}
		opts = append(opts, WithMacaroon(hex.EncodeToString(mac)))
	}
	if tlsCertPath != "" {
		pemData, err := os.ReadFile(tlsCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read tls certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates found in %s", tlsCertPath)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
		opts = append([]LNDOption{WithHTTPClient(&http.Client{Transport: transport, Timeout: 2 * time.Minute})}, opts...)
	}
	return NewLNDClient(baseURL, opts...), nil
}

var _ ports.PaymentBackend = (*LNDClient)(nil)

type sendPaymentRequest struct {
	PaymentRequest string `json:"payment_request"`
}

type sendPaymentResponse struct {
	PaymentError    string `json:"payment_error"`
	PaymentPreimage string `json:"payment_preimage"`
	PaymentHash     string `json:"payment_hash"`
	PaymentRoute    *struct {
		TotalFees string `json:"total_fees"`
	} `json:"payment_route"`
}

type lndErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// PayInvoice sends a synchronous payment for invoice.
func (c *LNDClient) PayInvoice(ctx context.Context, invoice string) (core.PaymentResult, error) {
	body, err := json.Marshal(sendPaymentRequest{PaymentRequest: invoice})
	if err != nil {
		return core.PaymentResult{}, fmt.Errorf("failed to encode payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/channels/transactions", bytes.NewReader(body))
	if err != nil {
		return core.PaymentResult{}, core.NewPaymentError(core.ErrBackendUnavailable, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if c.macaroon != "" {
		req.Header.Set("Grpc-Metadata-macaroon", c.macaroon)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return core.PaymentResult{}, core.NewPaymentError(core.ErrPaymentTimeout, err.Error())
		}
		return core.PaymentResult{}, core.NewPaymentError(core.ErrBackendUnavailable, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return core.PaymentResult{}, core.NewPaymentError(core.ErrBackendUnavailable, err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return core.PaymentResult{}, classifyStatus(resp.StatusCode, raw)
	}

	var out sendPaymentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return core.PaymentResult{}, core.NewPaymentError(core.ErrBackendUnavailable, "unreadable node response")
	}
	if out.PaymentError != "" {
		c.logger.Debug("Node refused payment", "error", out.PaymentError)
		return core.PaymentResult{}, rejection(out.PaymentError)
	}

	preimage, err := base64ToHex(out.PaymentPreimage)
	if err != nil {
		return core.PaymentResult{}, core.NewPermanentPaymentError(core.ErrPaymentRejected, "node returned an unreadable preimage")
	}
	hash, err := base64ToHex(out.PaymentHash)
	if err != nil {
		hash = ""
	}

	result := core.PaymentResult{
		Preimage:    preimage,
		PaymentHash: hash,
		SettledAt:   time.Now().UTC(),
	}
	if out.PaymentRoute != nil {
		result.FeeSats, _ = strconv.ParseInt(out.PaymentRoute.TotalFees, 10, 64)
	}
	return result, nil
}

func classifyStatus(status int, body []byte) error {
	var lndErr lndErrorResponse
	_ = json.Unmarshal(body, &lndErr)
	msg := lndErr.Message
	if msg == "" {
		msg = lndErr.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.NewPaymentError(core.ErrBackendUnavailable, "node refused credentials: "+msg)
	case status >= 500 && !looksLikeRejection(msg):
		return core.NewPaymentError(core.ErrBackendUnavailable, msg)
	default:
		return rejection(msg)
	}
}

// rejection marks node-side refusals. Expired or already paid invoices will
// never succeed; routing failures may on a later attempt.
func rejection(msg string) error {
	lower := strings.ToLower(msg)
	permanent := strings.Contains(lower, "expired") ||
		strings.Contains(lower, "already paid") ||
		strings.Contains(lower, "invalid") ||
		strings.Contains(lower, "incorrect_or_unknown_payment_details")
	if permanent {
		return core.NewPermanentPaymentError(core.ErrPaymentRejected, msg)
	}
	return core.NewPaymentError(core.ErrPaymentRejected, msg)
}

func looksLikeRejection(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "invoice") || strings.Contains(lower, "payment")
}

func base64ToHex(value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("empty value")
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(value)
	}
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
