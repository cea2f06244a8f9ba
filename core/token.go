package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// StoredToken is a paid credential cached under the scope of the request that
// produced its challenge.
type StoredToken struct {
	ID        string            `json:"id"`
	Scope     string            `json:"scope"`
	Scheme    string            `json:"scheme"`
	Macaroon  string            `json:"macaroon"`
	Preimage  string            `json:"preimage"`
	Invoice   string            `json:"invoice,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewStoredToken mints a token for scope from a paid challenge. A zero ttl
// yields a token without expiry.
func NewStoredToken(scope string, challenge Challenge, proof PaymentResult, ttl time.Duration, metadata map[string]string) StoredToken {
	now := time.Now().UTC()
	token := StoredToken{
		ID:        newTokenID(scope, now),
		Scope:     scope,
		Scheme:    challenge.Scheme,
		Macaroon:  challenge.Macaroon,
		Preimage:  proof.Preimage,
		Invoice:   challenge.Invoice,
		CreatedAt: now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		token.ExpiresAt = &expiresAt
	}
	if len(metadata) > 0 {
		token.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			token.Metadata[k] = v
		}
	}
	return token
}

// newTokenID hashes the scope and issuance time together with random entropy,
// so IDs are unique per mint and cannot be predicted from the scope.
func newTokenID(scope string, issuedAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(issuedAt.UnixNano(), 10)))
	h.Write([]byte{0})
	nonce := uuid.New()
	h.Write(nonce[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Valid reports whether the token is unexpired at now.
func (t StoredToken) Valid(now time.Time) bool {
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}

// TTL returns the remaining lifetime, or zero for tokens without expiry.
func (t StoredToken) TTL(now time.Time) time.Duration {
	if t.ExpiresAt == nil {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}

// Authorization renders the value of the Authorization header proving payment.
func (t StoredToken) Authorization() string {
	scheme := t.Scheme
	if scheme == "" {
		scheme = SchemeL402
	}
	return scheme + " " + t.Macaroon + ":" + t.Preimage
}
