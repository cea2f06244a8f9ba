package tokenizer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/amper/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenizer(t *testing.T) (*JWTTokenizer, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	return NewJWTTokenizer(key).(*JWTTokenizer), key
}

func TestBridgeTokenRoundTrip(t *testing.T) {
	tok, _ := newTestTokenizer(t)

	client, err := core.NewBridgeClient("popup", "https://app.example.com", time.Hour)
	require.NoError(t, err)

	signed, err := tok.IssueBridgeToken(client)
	require.NoError(t, err)

	parsed, err := tok.ParseBridgeToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "popup", parsed.ID)
	assert.Equal(t, "https://app.example.com", parsed.Origin)
	assert.True(t, client.ExpiresAt.Equal(parsed.ExpiresAt))
	assert.True(t, client.IssuedAt.Equal(parsed.IssuedAt))
}

func TestParseBridgeTokenRejects(t *testing.T) {
	tok, key := newTestTokenizer(t)
	other, _ := newTestTokenizer(t)

	expired := &core.BridgeClient{ID: "cli", IssuedAt: time.Now().Add(-2 * time.Hour), ExpiresAt: time.Now().Add(-time.Hour)}
	expiredToken, err := tok.IssueBridgeToken(expired)
	require.NoError(t, err)

	valid, err := core.NewBridgeClient("cli", "", time.Hour)
	require.NoError(t, err)
	foreignToken, err := other.IssueBridgeToken(valid)
	require.NoError(t, err)

	wrongAudience, err := jwt.NewWithClaims(jwt.SigningMethodES256, BridgeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "cli",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Audience:  jwt.ClaimStrings{"session:access"},
		},
	}).SignedString(key)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodES256, BridgeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "cli",
			Audience: jwt.ClaimStrings{AudienceBridge},
		},
	}).SignedString(key)
	require.NoError(t, err)

	hmacToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, BridgeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "cli",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Audience:  jwt.ClaimStrings{AudienceBridge},
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":        "not-a-jwt",
		"expired":        expiredToken,
		"foreign key":    foreignToken,
		"wrong audience": wrongAudience,
		"no expiry":      noExpiry,
		"hmac":           hmacToken,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tok.ParseBridgeToken(token)
			assert.ErrorIs(t, err, core.ErrInvalidBridgeToken)
		})
	}
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.pem")

	created, err := LoadOrCreateKey(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.True(t, created.Equal(loaded))
}

func TestParseKeyRejects(t *testing.T) {
	_, err := ParseKey([]byte("nope"))
	assert.Error(t, err)

	p384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "p384.pem")
	require.NoError(t, writeKey(path, p384))
	_, err = LoadOrCreateKey(path)
	assert.Error(t, err)
}
