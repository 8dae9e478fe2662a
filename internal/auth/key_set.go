package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"
)

var (
	errKeyNotFound  = errors.New("signing key not found in jwks")
	errNoUsableKeys = errors.New("jwks document contained no usable keys")
)

// remoteKeySet serves RSA signing keys published at a JWKS endpoint.
// The set is refetched once it is older than ttl or when a token names a key id it does not hold.
type remoteKeySet struct {
	url    string
	client *http.Client
	ttl    time.Duration
	clock  func() time.Time
	logger *zap.Logger

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func (s *remoteKeySet) publicKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if key, ok := s.keys[keyID]; ok && now.Sub(s.fetchedAt) < s.ttl {
		return key, nil
	}

	keys, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.keys = keys
	s.fetchedAt = now

	key, ok := keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errKeyNotFound, keyID)
	}
	return key, nil
}

func (s *remoteKeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	response, err := s.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks request returned status %d", response.StatusCode)
	}

	var document jose.JSONWebKeySet
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, webKey := range document.Keys {
		publicKey, ok := webKey.Key.(*rsa.PublicKey)
		if !ok || (webKey.Use != "" && webKey.Use != "sig") {
			s.logger.Debug("skipping jwk", zap.String("kid", webKey.KeyID), zap.String("use", webKey.Use))
			continue
		}
		keys[webKey.KeyID] = publicKey
	}
	if len(keys) == 0 {
		return nil, errNoUsableKeys
	}

	s.logger.Debug("jwks refreshed", zap.Int("keys", len(keys)))
	return keys, nil
}
