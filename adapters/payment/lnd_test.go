package payment

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/layer-3/amper/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPreimage = []byte("0123456789abcdef0123456789abcdef")

func newNode(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestPayInvoice(t *testing.T) {
	hash := sha256.Sum256(testPreimage)
	node := newNode(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/channels/transactions", r.URL.Path)
		assert.Equal(t, "0201", r.Header.Get("Grpc-Metadata-macaroon"))

		var req sendPaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "lnbc10u1pexample", req.PaymentRequest)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"payment_preimage": base64.StdEncoding.EncodeToString(testPreimage),
			"payment_hash":     base64.StdEncoding.EncodeToString(hash[:]),
			"payment_route":    map[string]any{"total_fees": "3"},
		})
	})

	client := NewLNDClient(node.URL+"/", WithMacaroon("0201"))
	result, err := client.PayInvoice(context.Background(), "lnbc10u1pexample")
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(testPreimage), result.Preimage)
	assert.Equal(t, hex.EncodeToString(hash[:]), result.PaymentHash)
	assert.Equal(t, int64(3), result.FeeSats)
	assert.False(t, result.SettledAt.IsZero())
	require.NoError(t, result.Verify())
}

func TestPayInvoiceFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      any
		kind      error
		permanent bool
	}{
		{
			name:      "expired invoice",
			status:    http.StatusOK,
			body:      map[string]any{"payment_error": "invoice expired"},
			kind:      core.ErrPaymentRejected,
			permanent: true,
		},
		{
			name:   "no route",
			status: http.StatusOK,
			body:   map[string]any{"payment_error": "unable to find a path to destination"},
			kind:   core.ErrPaymentRejected,
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   map[string]any{"message": "verification failed: signature mismatch"},
			kind:   core.ErrBackendUnavailable,
		},
		{
			name:      "invoice already paid",
			status:    http.StatusInternalServerError,
			body:      map[string]any{"message": "invoice is already paid"},
			kind:      core.ErrPaymentRejected,
			permanent: true,
		},
		{
			name:   "node error",
			status: http.StatusServiceUnavailable,
			body:   map[string]any{"message": "server is still in the process of starting"},
			kind:   core.ErrBackendUnavailable,
		},
		{
			name:      "missing preimage",
			status:    http.StatusOK,
			body:      map[string]any{},
			kind:      core.ErrPaymentRejected,
			permanent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newNode(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(tt.body)
			})

			_, err := NewLNDClient(node.URL).PayInvoice(context.Background(), "lnbc1...")
			require.ErrorIs(t, err, tt.kind)

			var perr *core.PaymentError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.permanent, perr.Permanent)
		})
	}
}

func TestPayInvoiceUnreachable(t *testing.T) {
	node := httptest.NewServer(http.NotFoundHandler())
	url := node.URL
	node.Close()

	_, err := NewLNDClient(url).PayInvoice(context.Background(), "lnbc1...")
	require.ErrorIs(t, err, core.ErrBackendUnavailable)
	assert.True(t, core.IsRetryable(err))
}

func TestPayInvoiceContextDeadline(t *testing.T) {
	node := newNode(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewLNDClient(node.URL).PayInvoice(ctx, "lnbc1...")
	require.ErrorIs(t, err, core.ErrPaymentTimeout)
}

func TestNewLNDClientFromFiles(t *testing.T) {
	dir := t.TempDir()
	macPath := filepath.Join(dir, "admin.macaroon")
	require.NoError(t, os.WriteFile(macPath, []byte{0x02, 0x01}, 0o600))

	client, err := NewLNDClientFromFiles("https://localhost:8080", macPath, "")
	require.NoError(t, err)
	assert.Equal(t, "0201", client.macaroon)

	certPath := filepath.Join(dir, "tls.cert")
	require.NoError(t, os.WriteFile(certPath, []byte("not a cert"), 0o600))
	_, err = NewLNDClientFromFiles("https://localhost:8080", "", certPath)
	assert.Error(t, err)

	_, err = NewLNDClientFromFiles("https://localhost:8080", filepath.Join(dir, "missing"), "")
	assert.Error(t, err)
}
