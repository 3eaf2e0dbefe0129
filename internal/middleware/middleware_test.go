package middleware

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trailchat/messaging-service/internal/auth"
	"trailchat/messaging-service/internal/rate"
	"trailchat/messaging-service/internal/token"
)

type fakeProvider struct {
	calls      int
	principals map[string]auth.Principal
	err        error
}

func (f *fakeProvider) VerifyOpaqueToken(_ context.Context, tok string) (auth.Principal, error) {
	f.calls++
	if f.err != nil {
		return auth.Principal{}, f.err
	}
	p, ok := f.principals[tok]
	if !ok {
		return auth.Principal{}, auth.NewError(auth.CodeInvalidCredential, errors.New("rejected"))
	}
	return p, nil
}

func (f *fakeProvider) VerifySubject(_ context.Context, sub string) (auth.Principal, error) {
	f.calls++
	if f.err != nil {
		return auth.Principal{}, f.err
	}
	p, ok := f.principals[sub]
	if !ok {
		return auth.Principal{}, auth.NewError(auth.CodeInvalidCredential, errors.New("unknown subject"))
	}
	return p, nil
}

func newCore(t *testing.T, fp *fakeProvider) *Core {
	t.Helper()
	secret := base64.RawURLEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	kr, err := token.NewKeyring("HS256", map[string]string{"k1": secret}, "k1", "trailchat", 30)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	a := auth.NewAuthenticator(auth.NewCache(100, time.Hour), auth.NewResolver(kr, fp), 30*time.Minute)
	return NewCore(a)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	fp := &fakeProvider{}
	core := newCore(t, fp)

	handler := core.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a credential")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != "AUTH_HEADER_MISSING" {
		t.Errorf("code = %q", body.Code)
	}
	if fp.calls != 0 {
		t.Error("provider must not be consulted without a credential")
	}
}

func TestAuthenticate_AttachesPrincipalAndCaches(t *testing.T) {
	fp := &fakeProvider{principals: map[string]auth.Principal{
		"opaque-tok": {ID: "u1", Email: "a@b.io", Role: "user"},
	}}
	core := newCore(t, fp)

	var seen auth.Principal
	handler := core.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			t.Fatal("no principal in context")
		}
		seen = p
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer opaque-tok")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}
	if seen.ID != "u1" {
		t.Errorf("principal = %+v", seen)
	}
	if fp.calls != 1 {
		t.Errorf("provider verified %d times across two requests, want 1", fp.calls)
	}
}

func TestAuthenticate_BadSchemeIsMissing(t *testing.T) {
	fp := &fakeProvider{}
	core := newCore(t, fp)
	handler := core.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if body := decodeError(t, rec); body.Code != "AUTH_HEADER_MISSING" {
		t.Errorf("code = %q, want AUTH_HEADER_MISSING", body.Code)
	}
}

func TestAuthenticate_ProviderDown(t *testing.T) {
	fp := &fakeProvider{err: auth.NewError(auth.CodeProviderUnavailable, errors.New("timeout"))}
	core := newCore(t, fp)
	handler := core.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != "PROVIDER_UNAVAILABLE" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	fp := &fakeProvider{principals: map[string]auth.Principal{}}
	core := newCore(t, fp)
	handler := core.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != "INVALID_TOKEN" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestThrottle_DeniesOverBudget(t *testing.T) {
	fp := &fakeProvider{principals: map[string]auth.Principal{
		"tok": {ID: "u1"},
	}}
	core := newCore(t, fp)
	limiter := rate.NewFixedWindow(time.Minute, 2)

	handler := core.Authenticate(
		core.Throttle("messages", "MESSAGE_LIMIT_EXCEEDED", "Too many messages", limiter)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
			})))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/messages", nil)
		req.Header.Set("Authorization", "Bearer tok")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusCreated {
		t.Fatalf("1st: %d", rec.Code)
	}
	if rec := send(); rec.Code != http.StatusCreated {
		t.Fatalf("2nd: %d", rec.Code)
	}

	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("3rd: status = %d, want 429", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Code != "MESSAGE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q", body.Code)
	}
	if body.RetryAfterMs <= 0 {
		t.Errorf("retryAfter = %d, want positive hint", body.RetryAfterMs)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestThrottle_RequiresAuthenticateFirst(t *testing.T) {
	fp := &fakeProvider{}
	core := newCore(t, fp)
	limiter := rate.NewFixedWindow(time.Minute, 2)

	handler := core.Throttle("messages", "MESSAGE_LIMIT_EXCEEDED", "Too many messages", limiter)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler must not run without a principal")
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/messages", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
