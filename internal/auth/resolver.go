package auth

import (
	"context"
	"time"

	"trailchat/messaging-service/internal/token"
)

// Provider is the external identity provider boundary the resolver consumes.
// Implementations must return *Error values: CodeInvalidCredential when the
// provider rejects, CodeProviderUnavailable on transport/provider failure
// (including timeouts — never silently valid or invalid).
type Provider interface {
	VerifyOpaqueToken(ctx context.Context, tok string) (Principal, error)
	VerifySubject(ctx context.Context, subjectID string) (Principal, error)
}

// Resolution is a successful credential resolution. CacheTTL is the window
// the principal may be memoized for: the token's remaining validity on the
// structured path, zero on the opaque path (caller applies its default).
type Resolution struct {
	Principal Principal
	Kind      CredentialKind
	CacheTTL  time.Duration
}

// Resolver verifies a bearer credential and produces a Principal. It is
// stateless; its only side effect is the provider call.
type Resolver struct {
	keyring  *token.Keyring
	provider Provider
}

func NewResolver(kr *token.Keyring, p Provider) *Resolver {
	return &Resolver{keyring: kr, provider: p}
}

// Resolve runs the verification path selected by Classify. Structured
// credentials are verified locally first — a failure there is
// CodeMalformedToken and no network call is made — then confirmed against
// the provider with exactly one call keyed by subject. Opaque credentials go
// to the provider as-is, exactly once. Both paths yield the same Principal
// shape so downstream code is path-agnostic.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Resolution, error) {
	kind := Classify(raw)
	if kind == KindStructured {
		claims, err := r.keyring.Verify(raw)
		if err != nil {
			return Resolution{}, NewError(CodeMalformedToken, err)
		}
		p, err := r.provider.VerifySubject(ctx, claims.Subject)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Principal: p, Kind: kind, CacheTTL: r.keyring.Remaining(claims)}, nil
	}

	p, err := r.provider.VerifyOpaqueToken(ctx, raw)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Principal: p, Kind: kind}, nil
}
