package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// PaymentResult is the proof returned by a payment backend for a settled
// invoice.
type PaymentResult struct {
	Preimage    string    `json:"preimage"`
	PaymentHash string    `json:"payment_hash,omitempty"`
	FeeSats     int64     `json:"fee_sats,omitempty"`
	SettledAt   time.Time `json:"settled_at"`
}

// Verify checks that the result carries a well formed preimage and, when the
// backend reported the payment hash, that the preimage hashes to it.
func (r PaymentResult) Verify() error {
	preimage, err := hex.DecodeString(r.Preimage)
	if err != nil || len(preimage) != sha256.Size {
		return fmt.Errorf("%w: preimage must be 32 hex-encoded bytes", ErrInvalidProof)
	}
	if r.PaymentHash == "" {
		return nil
	}
	sum := sha256.Sum256(preimage)
	if !strings.EqualFold(hex.EncodeToString(sum[:]), r.PaymentHash) {
		return fmt.Errorf("%w: preimage does not match payment hash", ErrInvalidProof)
	}
	return nil
}
