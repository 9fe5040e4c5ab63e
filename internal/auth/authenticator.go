package auth

import (
	"context"
	"sync"
	"time"

	"driver-analytics/internal/config"
)

// KeyLookup resolves an API key to its owner. Backed by redis in
// production; "" means unknown.
type KeyLookup interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

type cacheEntry struct {
	owner     string
	expiresAt time.Time
}

// Authenticator validates dashboard API keys in three levels: static
// config keys, a process-local cache, then the shared key store.
type Authenticator struct {
	localCache sync.Map
	lookup     KeyLookup
	ttl        time.Duration
	staticKeys map[string]bool
}

func NewAuthenticator(cfg *config.Config, lookup KeyLookup) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		staticKeys[k] = true
	}

	return &Authenticator{
		lookup:     lookup,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
	}
}

func (a *Authenticator) Validate(ctx context.Context, apiKey string) bool {
	if a.staticKeys[apiKey] {
		return true
	}

	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			return true
		}
		a.localCache.Delete(apiKey)
	}

	if a.lookup == nil {
		return false
	}
	owner, err := a.lookup.GetAPIKey(ctx, apiKey)
	if err != nil || owner == "" {
		return false
	}

	a.localCache.Store(apiKey, cacheEntry{
		owner:     owner,
		expiresAt: time.Now().Add(a.ttl),
	})

	return true
}
