package core

import (
	"fmt"
	"strings"
	"time"
)

// BridgeClient identifies a host context (extension page, content script,
// CLI) allowed to call the local bridge.
type BridgeClient struct {
	ID        string    // Unique identifier of the client
	Origin    string    // Origin the client is bound to, empty for any
	IssuedAt  time.Time // When the credential was issued
	ExpiresAt time.Time // When the credential expires
}

// NewBridgeClient creates a client credential valid for ttl.
func NewBridgeClient(id, origin string, ttl time.Duration) (*BridgeClient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("client credential lifetime must be positive")
	}
	now := time.Now().UTC().Truncate(time.Second)
	return &BridgeClient{
		ID:        id,
		Origin:    strings.TrimSuffix(strings.TrimSpace(origin), "/"),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// AllowsOrigin reports whether a request carrying origin may act as this
// client. Clients bound to an origin must present exactly that origin.
func (c *BridgeClient) AllowsOrigin(origin string) bool {
	return c.Origin == "" || c.Origin == origin
}
