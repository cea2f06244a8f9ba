package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/layer-3/amper/adapters/store"
	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
)

const (
	testScope    = "https://api.example.com/resource"
	testPreimage = "0102030405060708091011121314151617181920212223242526272829303132"
)

func testChallenge(invoice string) core.Challenge {
	return core.Challenge{Scheme: core.SchemeL402, Macaroon: "AGIAJEemVQUTEyNCR0exk7ek90Cg==", Invoice: invoice}
}

func testProof() core.PaymentResult {
	raw, _ := hex.DecodeString(testPreimage)
	sum := sha256.Sum256(raw)
	return core.PaymentResult{Preimage: testPreimage, PaymentHash: hex.EncodeToString(sum[:]), FeeSats: 1}
}

// fakeBackend counts payments. When gate is set each payment blocks until the
// gate is closed, ignoring ctx.
type fakeBackend struct {
	calls  atomic.Int32
	gate   chan struct{}
	result core.PaymentResult
	err    error

	mu       sync.Mutex
	invoices []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{result: testProof()}
}

func (b *fakeBackend) PayInvoice(ctx context.Context, invoice string) (core.PaymentResult, error) {
	b.calls.Add(1)
	b.mu.Lock()
	b.invoices = append(b.invoices, invoice)
	b.mu.Unlock()
	if b.gate != nil {
		<-b.gate
	}
	return b.result, b.err
}

func (b *fakeBackend) Calls() int {
	return int(b.calls.Load())
}

// recordingPublisher counts published events.
type recordingPublisher struct {
	minted      atomic.Int32
	invalidated atomic.Int32
	settled     atomic.Int32
	failed      atomic.Int32
}

func (p *recordingPublisher) PublishTokenMinted(context.Context, core.StoredToken) error {
	p.minted.Add(1)
	return nil
}

func (p *recordingPublisher) PublishTokenInvalidated(context.Context, string) error {
	p.invalidated.Add(1)
	return nil
}

func (p *recordingPublisher) PublishPaymentSettled(context.Context, string, core.PaymentResult) error {
	p.settled.Add(1)
	return nil
}

func (p *recordingPublisher) PublishPaymentFailed(context.Context, string, error) error {
	p.failed.Add(1)
	return nil
}

var errHostDown = errors.New("host storage offline")

// flakyStorage fails reads and/or writes on demand.
type flakyStorage struct {
	ports.Storage
	failGet atomic.Bool
	failPut atomic.Bool
}

func newFlakyStorage() *flakyStorage {
	return &flakyStorage{Storage: store.NewMemoryStore()}
}

func (s *flakyStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if s.failGet.Load() {
		return nil, errHostDown
	}
	return s.Storage.Get(ctx, key)
}

func (s *flakyStorage) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.failPut.Load() {
		return errHostDown
	}
	return s.Storage.Put(ctx, key, value, ttl)
}
