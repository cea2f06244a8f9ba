package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
)

// TokenStore caches paid tokens by scope on top of host storage. Expired
// entries are never returned and are evicted when observed.
type TokenStore struct {
	storage ports.Storage
	logger  *slog.Logger
	now     func() time.Time
}

// NewTokenStore wraps storage. A nil logger falls back to slog.Default.
func NewTokenStore(storage ports.Storage, logger *slog.Logger) *TokenStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenStore{
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns the valid token for scope, or core.ErrNotFound.
func (s *TokenStore) Get(ctx context.Context, scope string) (core.StoredToken, error) {
	token, _, err := s.read(ctx, scope)
	return token, err
}

// read returns the valid token for scope together with its stored encoding.
func (s *TokenStore) read(ctx context.Context, scope string) (core.StoredToken, []byte, error) {
	raw, err := s.storage.Get(ctx, scope)
	if errors.Is(err, core.ErrNotFound) {
		return core.StoredToken{}, nil, core.ErrNotFound
	}
	if err != nil {
		return core.StoredToken{}, nil, fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}

	var token core.StoredToken
	if err := json.Unmarshal(raw, &token); err != nil || token.Scope != scope {
		s.logger.Warn("Dropping unreadable token entry", "scope", scope, "error", err)
		s.evict(ctx, scope, raw)
		return core.StoredToken{}, nil, core.ErrNotFound
	}
	if !token.Valid(s.now()) {
		s.logger.Debug("Evicting expired token", "scope", scope, "token_id", token.ID)
		s.evict(ctx, scope, raw)
		return core.StoredToken{}, nil, core.ErrNotFound
	}
	return token, raw, nil
}

// Supersede removes the token for scope if it is still staleID. When another
// token has replaced it, that token is returned instead. Otherwise the result
// is core.ErrNotFound and revoked reports whether an entry was removed.
func (s *TokenStore) Supersede(ctx context.Context, scope, staleID string) (token core.StoredToken, revoked bool, err error) {
	for {
		current, raw, err := s.read(ctx, scope)
		if err != nil {
			return core.StoredToken{}, revoked, err
		}
		if current.ID != staleID {
			return current, revoked, nil
		}
		deleted, err := s.storage.CompareAndDelete(ctx, scope, raw)
		if err != nil {
			return core.StoredToken{}, revoked, fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
		}
		revoked = revoked || deleted
		// A lost race means the entry changed underneath us; look again.
	}
}

// evict removes the exact entry that was read, leaving a concurrently written
// replacement in place.
func (s *TokenStore) evict(ctx context.Context, scope string, raw []byte) {
	if _, err := s.storage.CompareAndDelete(ctx, scope, raw); err != nil {
		s.logger.Warn("Failed to evict token", "scope", scope, "error", err)
	}
}

// Put writes token under its scope, replacing any previous token.
func (s *TokenStore) Put(ctx context.Context, token core.StoredToken) error {
	if err := core.ValidateScope(token.Scope); err != nil {
		return err
	}
	ttl := token.TTL(s.now())
	if token.ExpiresAt != nil && ttl <= 0 {
		return fmt.Errorf("token for %s already expired", token.Scope)
	}

	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := s.storage.Put(ctx, token.Scope, raw, ttl); err != nil {
		return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
	return nil
}

// Invalidate removes any token for scope.
func (s *TokenStore) Invalidate(ctx context.Context, scope string) error {
	if err := s.storage.Delete(ctx, scope); err != nil {
		return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
	return nil
}

// List returns every valid token ordered by scope.
func (s *TokenStore) List(ctx context.Context) ([]core.StoredToken, error) {
	keys, err := s.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}

	tokens := make([]core.StoredToken, 0, len(keys))
	for _, key := range keys {
		token, err := s.Get(ctx, key)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].Scope < tokens[j].Scope
	})
	return tokens, nil
}
