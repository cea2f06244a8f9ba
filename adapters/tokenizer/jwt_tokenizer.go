package tokenizer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
)

const AudienceBridge = "amper:bridge"

// JWTTokenizer implements the Tokenizer interface using JWT
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) ports.Tokenizer {
	return &JWTTokenizer{signKey: signKey}
}

// IssueBridgeToken converts a BridgeClient to a JWT token
func (j *JWTTokenizer) IssueBridgeToken(client *core.BridgeClient) (string, error) {
	claims := BridgeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   client.ID,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(client.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(client.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceBridge},
		},
		Origin: client.Origin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// ParseBridgeToken converts a JWT token to a BridgeClient
func (j *JWTTokenizer) ParseBridgeToken(tokenStr string) (*core.BridgeClient, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &BridgeClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(AudienceBridge), jwt.WithExpirationRequired())

	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidBridgeToken, err)
	}

	// Validate token
	if !token.Valid {
		return nil, core.ErrInvalidBridgeToken
	}

	claims, ok := token.Claims.(*BridgeClaims)
	if !ok || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid claims", core.ErrInvalidBridgeToken)
	}

	client := &core.BridgeClient{
		ID:        claims.Subject,
		Origin:    claims.Origin,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		client.IssuedAt = claims.IssuedAt.Time
	}

	return client, nil
}

// GenerateKey creates a new P-256 signing key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return key, nil
}

// LoadOrCreateKey reads a PEM encoded EC private key from path, creating and
// saving a new one when the file does not exist.
func LoadOrCreateKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return ParseKey(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := writeKey(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

func writeKey(path string, key *ecdsa.PrivateKey) error {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to encode signing key: %w", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, block, 0o600); err != nil {
		return fmt.Errorf("failed to write signing key: %w", err)
	}
	return nil
}

// ParseKey decodes a PEM encoded EC private key.
func ParseKey(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("signing key is not PEM encoded")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("signing key must use P-256 for ES256")
	}
	return key, nil
}
