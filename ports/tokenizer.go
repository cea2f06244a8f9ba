package ports

import "github.com/layer-3/amper/core"

// Tokenizer converts between bridge clients and the bearer tokens they present
// to the local bridge.
type Tokenizer interface {
	IssueBridgeToken(client *core.BridgeClient) (string, error)
	ParseBridgeToken(token string) (*core.BridgeClient, error)
}
