package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/layer-3/amper/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeAuthMiddleware(t *testing.T) {
	f := newBridgeFixture(t)

	bound, err := core.NewBridgeClient("popup", "https://app.example.com", time.Hour)
	require.NoError(t, err)
	boundToken, err := f.tokenizer.IssueBridgeToken(bound)
	require.NoError(t, err)

	tests := []struct {
		name   string
		auth   string
		origin string
		status int
	}{
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "wrong scheme", auth: "Basic abc", status: http.StatusUnauthorized},
		{name: "garbage token", auth: "Bearer nope", status: http.StatusUnauthorized},
		{name: "unbound client", auth: "Bearer " + f.bearer, status: http.StatusOK},
		{name: "bound client same origin", auth: "Bearer " + boundToken, origin: "https://app.example.com", status: http.StatusOK},
		{name: "bound client other origin", auth: "Bearer " + boundToken, origin: "https://evil.example.com", status: http.StatusForbidden},
		{name: "bound client without origin", auth: "Bearer " + boundToken, status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/bridge/tokens", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
