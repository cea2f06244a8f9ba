package tokenizer

import "github.com/golang-jwt/jwt/v5"

// BridgeClaims combines standard claims with the origin a bridge client is
// bound to
type BridgeClaims struct {
	jwt.RegisteredClaims
	Origin string `json:"origin,omitempty"`
}
