// Package middleware composes the request-time pipeline: credential
// extraction, cached authentication, and per-principal throttling. It is the
// only layer that translates the error taxonomy into HTTP responses; the
// components it wires stay transport-free.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trailchat/messaging-service/internal/auth"
	"trailchat/messaging-service/internal/httputil"
	"trailchat/messaging-service/internal/metrics"
	"trailchat/messaging-service/internal/rate"
)

type contextKey int

const principalKey contextKey = iota

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated principal attached by
// Authenticate, if any.
func PrincipalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(auth.Principal)
	return p, ok
}

// Core owns the per-request authorization pipeline consumed by route
// handlers. All state lives in the injected components; Core itself holds no
// maps.
type Core struct {
	Auth *auth.Authenticator
}

func NewCore(a *auth.Authenticator) *Core {
	return &Core{Auth: a}
}

// Authenticate extracts the bearer credential, authenticates it through the
// principal cache (falling back to the resolver), and attaches the principal
// to the request context. Absence of a credential fails before any cache or
// provider interaction. A principal cached by a successful resolve stays
// cached even if a later stage of the same request fails.
func (c *Core) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		p, outcome, err := c.Auth.Authenticate(r.Context(), raw)
		if err != nil {
			code := auth.CodeOf(err)
			metrics.AuthDecision.WithLabelValues("denied_" + strings.ToLower(string(code))).Inc()
			if code == auth.CodeProviderUnavailable {
				metrics.ProviderErrors.Inc()
			}
			logger := httputil.GetLogger(r.Context())
			logger.Warn().Err(err).Str("code", string(code)).Msg("authentication failed")
			WriteError(w, r, err)
			return
		}
		switch outcome {
		case auth.OutcomeCached:
			metrics.AuthDecision.WithLabelValues("cached").Inc()
			metrics.AuthCacheLookups.WithLabelValues("hit").Inc()
		default:
			metrics.AuthDecision.WithLabelValues("resolved").Inc()
			metrics.AuthCacheLookups.WithLabelValues("miss").Inc()
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// Throttle wraps a write endpoint with a per-principal fixed-window limiter.
// It must run after Authenticate. A denial short-circuits with 429, a
// Retry-After header, and the scope's stable error code.
func (c *Core) Throttle(scope, code, message string, limiter *rate.FixedWindow) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteError(w, r, auth.NewError(auth.CodeMissingCredential, nil))
				return
			}
			d := limiter.TryAcquire(p.ID)
			if !d.Allowed {
				metrics.RateLimited.WithLabelValues(scope).Inc()
				WriteRateLimited(w, r, code, message, d.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
	// RetryAfterMs is set only on rate-limit denials.
	RetryAfterMs int64 `json:"retryAfter,omitempty"`
}

// WriteError maps an auth taxonomy error to its transport representation.
// Anything outside the taxonomy is a plain 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := auth.CodeOf(err)
	if code == "" {
		httputil.WriteJSON(w, http.StatusInternalServerError, errorBody{
			Error:     "Internal error",
			Code:      "INTERNAL",
			RequestID: httputil.GetRequestID(r.Context()),
		})
		return
	}
	status := http.StatusUnauthorized
	var ae *auth.Error
	if errors.As(err, &ae) {
		status = ae.HTTPStatus()
	}
	msg := "Invalid authentication"
	switch code {
	case auth.CodeMissingCredential:
		msg = "Authentication required"
	case auth.CodeProviderUnavailable:
		msg = "Authentication temporarily unavailable"
	}
	httputil.WriteJSON(w, status, errorBody{
		Error:     msg,
		Code:      string(code),
		RequestID: httputil.GetRequestID(r.Context()),
	})
}

// WriteRateLimited writes a 429 with the retry hint in both the Retry-After
// header (seconds, rounded up) and the JSON body (milliseconds).
func WriteRateLimited(w http.ResponseWriter, r *http.Request, code, message string, retryAfter time.Duration) {
	secs := int64((retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	httputil.WriteJSON(w, http.StatusTooManyRequests, errorBody{
		Error:        message,
		Code:         code,
		RequestID:    httputil.GetRequestID(r.Context()),
		RetryAfterMs: retryAfter.Milliseconds(),
	})
}
