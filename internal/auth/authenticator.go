package auth

import (
	"context"
	"time"
)

// Outcome reports how a credential was authenticated, for metrics/logging.
type Outcome int

const (
	OutcomeCached Outcome = iota
	OutcomeResolved
)

// Authenticator fronts the resolver with the principal cache. It owns the
// TTL policy: structured-path resolutions are cached for the token's own
// remaining validity, opaque-path ones for a fixed default window.
type Authenticator struct {
	cache     *Cache
	resolver  *Resolver
	opaqueTTL time.Duration
}

func NewAuthenticator(cache *Cache, resolver *Resolver, opaqueTTL time.Duration) *Authenticator {
	if opaqueTTL <= 0 {
		opaqueTTL = 30 * time.Minute
	}
	return &Authenticator{cache: cache, resolver: resolver, opaqueTTL: opaqueTTL}
}

// Authenticate turns a raw bearer credential into a Principal, consulting the
// cache before the resolver. An empty credential fails with
// CodeMissingCredential before any cache or provider interaction. A resolved
// principal is cached even if the caller's request later fails.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (Principal, Outcome, error) {
	if raw == "" {
		return Principal{}, OutcomeResolved, NewError(CodeMissingCredential, nil)
	}
	if p, ok := a.cache.Lookup(raw); ok {
		return p, OutcomeCached, nil
	}
	res, err := a.resolver.Resolve(ctx, raw)
	if err != nil {
		return Principal{}, OutcomeResolved, err
	}
	ttl := res.CacheTTL
	if ttl <= 0 {
		ttl = a.opaqueTTL
	}
	a.cache.Store(raw, res.Principal, ttl)
	return res.Principal, OutcomeResolved, nil
}
