package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/amper/adapters/store"
	"github.com/layer-3/amper/adapters/tokenizer"
	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
	"github.com/layer-3/amper/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPreimage = "0102030405060708091011121314151617181920212223242526272829303132"
	testHeader   = `L402 macaroon="AGIAJEemVQUTEyNCR0exk7ek90Cg==", invoice="lnbc1..."`
)

type stubBackend struct {
	calls atomic.Int32
	err   error
}

func (b *stubBackend) PayInvoice(ctx context.Context, invoice string) (core.PaymentResult, error) {
	b.calls.Add(1)
	if b.err != nil {
		return core.PaymentResult{}, b.err
	}
	raw, _ := hex.DecodeString(testPreimage)
	sum := sha256.Sum256(raw)
	return core.PaymentResult{Preimage: testPreimage, PaymentHash: hex.EncodeToString(sum[:])}, nil
}

type bridgeFixture struct {
	router    *gin.Engine
	backend   *stubBackend
	tokenizer ports.Tokenizer
	bearer    string
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := tokenizer.GenerateKey()
	require.NoError(t, err)
	tok := tokenizer.NewJWTTokenizer(key)

	backend := &stubBackend{}
	tokens := service.NewTokenStore(store.NewMemoryStore(), nil)
	orch := service.NewOrchestrator(tokens, service.NewCoordinator(backend))

	client, err := core.NewBridgeClient("test", "", time.Hour)
	require.NoError(t, err)
	bearer, err := tok.IssueBridgeToken(client)
	require.NoError(t, err)

	return &bridgeFixture{
		router:    SetupRouter(orch, tok, core.ScopePath, nil),
		backend:   backend,
		tokenizer: tok,
		bearer:    bearer,
	}
}

func (f *bridgeFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.bearer)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthIsPublic(t *testing.T) {
	f := newBridgeFixture(t)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestParseChallengeRoute(t *testing.T) {
	f := newBridgeFixture(t)

	w := f.do(t, http.MethodPost, "/bridge/challenges", gin.H{"header": testHeader})
	require.Equal(t, http.StatusOK, w.Code)
	challenge := decode(t, w)["challenge"].(map[string]any)
	assert.Equal(t, "L402", challenge["scheme"])
	assert.Equal(t, "lnbc1...", challenge["invoice"])

	w = f.do(t, http.MethodPost, "/bridge/challenges", gin.H{"header": `L402 macaroon="m"`})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/bridge/challenges", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthenticateRoute(t *testing.T) {
	f := newBridgeFixture(t)
	body := gin.H{
		"url":      "https://API.example.com:443/resource?page=2",
		"header":   testHeader,
		"metadata": gin.H{"tab": "7"},
	}

	w := f.do(t, http.MethodPost, "/bridge/authenticate", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, "L402 AGIAJEemVQUTEyNCR0exk7ek90Cg==:"+testPreimage, out["authorization"])
	assert.Equal(t, true, out["persisted"])
	token := out["token"].(map[string]any)
	assert.Equal(t, "https://api.example.com/resource", token["scope"])

	w = f.do(t, http.MethodPost, "/bridge/authenticate", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, f.backend.calls.Load(), "second call is served from cache")

	w = f.do(t, http.MethodGet, "/bridge/tokens", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["tokens"], 1)

	w = f.do(t, http.MethodGet, "/bridge/tokens?url="+url.QueryEscape("https://api.example.com/resource"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodDelete, "/bridge/tokens?scope="+url.QueryEscape("https://api.example.com/resource"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/bridge/tokens?url="+url.QueryEscape("https://api.example.com/resource"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthenticateRouteErrors(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		header     string
		backendErr error
		status     int
	}{
		{name: "bad url", url: "ftp://example.com/", header: testHeader, status: http.StatusBadRequest},
		{name: "missing invoice", url: "https://a.example/", header: `L402 macaroon="m"`, status: http.StatusBadRequest},
		{
			name:       "rejected",
			url:        "https://a.example/",
			header:     testHeader,
			backendErr: core.NewPermanentPaymentError(core.ErrPaymentRejected, "invoice expired"),
			status:     http.StatusPaymentRequired,
		},
		{
			name:       "timeout",
			url:        "https://a.example/",
			header:     testHeader,
			backendErr: core.NewPaymentError(core.ErrPaymentTimeout, "slow"),
			status:     http.StatusGatewayTimeout,
		},
		{
			name:       "backend down",
			url:        "https://a.example/",
			header:     testHeader,
			backendErr: core.NewPaymentError(core.ErrBackendUnavailable, "connection refused"),
			status:     http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t)
			f.backend.err = tt.backendErr

			w := f.do(t, http.MethodPost, "/bridge/authenticate", gin.H{"url": tt.url, "header": tt.header})
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Contains(t, decode(t, w), "retryable")
		})
	}
}

func TestInvalidateRequiresScope(t *testing.T) {
	f := newBridgeFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/bridge/tokens", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/bridge/tokens?scope=not-a-scope", nil).Code)
}
