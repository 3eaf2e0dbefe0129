// Package api implements the route handlers that consume the middleware
// core: login, user listing, message threads, and message sending.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"trailchat/messaging-service/internal/auth"
	"trailchat/messaging-service/internal/cache"
	"trailchat/messaging-service/internal/config"
	"trailchat/messaging-service/internal/httputil"
	"trailchat/messaging-service/internal/metrics"
	"trailchat/messaging-service/internal/middleware"
	"trailchat/messaging-service/internal/presence"
	"trailchat/messaging-service/internal/provider"
	"trailchat/messaging-service/internal/rate"
	"trailchat/messaging-service/internal/store"
	"trailchat/messaging-service/internal/token"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// LoginProvider is the slice of the identity provider the login endpoint
// needs.
type LoginProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (auth.Principal, provider.Session, error)
}

// Handler serves the API routes. Caches and limiters are injected so tests
// control their clocks and lifecycles.
type Handler struct {
	Cfg          *config.Config
	Keyring      *token.Keyring
	Provider     LoginProvider
	Store        store.Store
	Users        *cache.TTLCache[[]store.User]
	Messages     *cache.TTLCache[[]store.Message]
	LoginLimiter *rate.LoginLimiter

	startTime time.Time
	nowFunc   func() time.Time
}

func NewHandler(cfg *config.Config, kr *token.Keyring, lp LoginProvider, st store.Store,
	users *cache.TTLCache[[]store.User], messages *cache.TTLCache[[]store.Message],
	login *rate.LoginLimiter) *Handler {
	return &Handler{
		Cfg:          cfg,
		Keyring:      kr,
		Provider:     lp,
		Store:        st,
		Users:        users,
		Messages:     messages,
		LoginLimiter: login,
		startTime:    time.Now(),
		nowFunc:      time.Now,
	}
}

// Register wires the routes. Read endpoints go through Authenticate only;
// message sending additionally passes the per-principal throttle.
func (h *Handler) Register(r *mux.Router, core *middleware.Core, msgLimiter *rate.FixedWindow) {
	throttled := core.Throttle("messages", "MESSAGE_LIMIT_EXCEEDED", "Too many messages", msgLimiter)

	r.Handle("/auth/login", http.HandlerFunc(h.Login)).Methods(http.MethodPost)
	r.Handle("/api/users", core.Authenticate(http.HandlerFunc(h.ListUsers))).Methods(http.MethodGet)
	r.Handle("/api/messages/{partnerId}", core.Authenticate(http.HandlerFunc(h.GetThread))).Methods(http.MethodGet)
	r.Handle("/api/messages", core.Authenticate(throttled(http.HandlerFunc(h.SendMessage)))).Methods(http.MethodPost)
	r.Handle("/healthz", http.HandlerFunc(h.Health)).Methods(http.MethodGet)
}

// ---- Login ----

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Session provider.Session `json:"session"`
	User    userView         `json:"user"`
	Token   string           `json:"token"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	defer h.observe("login", h.nowFunc())

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10*1024)).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "MISSING_CREDENTIALS", "Missing credentials")
		return
	}
	if req.Email == "" || req.Password == "" {
		h.writeError(w, r, http.StatusBadRequest, "MISSING_CREDENTIALS", "Missing credentials")
		return
	}
	if !emailRe.MatchString(req.Email) {
		h.writeError(w, r, http.StatusBadRequest, "INVALID_EMAIL", "Invalid email format")
		return
	}
	if len(req.Password) < 8 {
		h.writeError(w, r, http.StatusBadRequest, "PASSWORD_TOO_SHORT", "Password must be at least 8 characters")
		return
	}

	ip := httputil.ClientIP(r)
	if d := h.LoginLimiter.Check(ip); !d.Allowed {
		metrics.RateLimited.WithLabelValues("login").Inc()
		middleware.WriteRateLimited(w, r, "LOGIN_LIMIT_EXCEEDED", "Too many login attempts, please try again later", d.RetryAfter)
		return
	}

	p, sess, err := h.Provider.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		if auth.CodeOf(err) == auth.CodeProviderUnavailable {
			metrics.ProviderErrors.Inc()
			middleware.WriteError(w, r, err)
			return
		}
		h.LoginLimiter.RecordFailure(ip)
		// Obfuscated on purpose: no hint whether the account exists.
		h.writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials")
		return
	}
	h.LoginLimiter.RecordSuccess(ip)

	profile, err := h.Store.Profile(r.Context(), p.ID)
	if err == store.ErrNotFound {
		profile = store.User{
			ID:         p.ID,
			Email:      p.Email,
			Name:       strings.SplitN(p.Email, "@", 2)[0],
			Role:       "user",
			LastOnline: h.nowFunc(),
		}
		if cerr := h.Store.CreateProfile(r.Context(), profile); cerr != nil {
			logger := httputil.GetLogger(r.Context())
			logger.Error().Err(cerr).Msg("profile auto-provisioning failed")
			h.writeError(w, r, http.StatusInternalServerError, "AUTH_FAILURE", "Authentication failed")
			return
		}
	} else if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "AUTH_FAILURE", "Authentication failed")
		return
	}

	role := profile.Role
	if role == "" {
		role = "user"
	}
	tok, err := h.Keyring.Sign(p.ID, p.Email, role, h.Cfg.TokenTTL())
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "AUTH_FAILURE", "Authentication failed")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, loginResponse{
		Session: sess,
		User:    h.viewOf(profile),
		Token:   tok,
	})
}

// ---- Users ----

// userView is a stored user plus the presence status derived at read time.
// Status is never cached; it is recomputed from the raw timestamp on every
// response.
type userView struct {
	store.User
	Status presence.Status `json:"status"`
}

func (h *Handler) viewOf(u store.User) userView {
	return userView{User: u, Status: presence.Derive(u.LastOnline, h.nowFunc())}
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	defer h.observe("users", h.nowFunc())

	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, r, auth.NewError(auth.CodeMissingCredential, nil))
		return
	}

	key := "users-" + p.ID
	computed := false
	users, err := h.Users.GetOrCompute(r.Context(), key, h.Cfg.UsersTTL(), func(ctx context.Context) ([]store.User, error) {
		computed = true
		return h.Store.ListUsers(ctx, p.ID)
	})
	if err != nil {
		logger := httputil.GetLogger(r.Context())
		logger.Error().Err(err).Msg("user listing failed")
		h.writeError(w, r, http.StatusInternalServerError, "USER_FETCH_FAILED", "Failed to fetch users")
		return
	}
	h.cacheMetric("users", computed)

	views := make([]userView, len(users))
	for i, u := range users {
		views[i] = h.viewOf(u)
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

// ---- Messages ----

func threadKey(userID, partnerID string) string {
	return fmt.Sprintf("messages-%s-%s", userID, partnerID)
}

func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	defer h.observe("thread", h.nowFunc())

	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, r, auth.NewError(auth.CodeMissingCredential, nil))
		return
	}
	partnerID := mux.Vars(r)["partnerId"]
	if _, err := uuid.Parse(partnerID); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "INVALID_PARTNER_ID", "Invalid partner ID")
		return
	}

	computed := false
	msgs, err := h.Messages.GetOrCompute(r.Context(), threadKey(p.ID, partnerID), h.Cfg.MessagesTTL(), func(ctx context.Context) ([]store.Message, error) {
		computed = true
		return h.Store.Thread(ctx, p.ID, partnerID)
	})
	if err != nil {
		logger := httputil.GetLogger(r.Context())
		logger.Error().Err(err).Msg("thread fetch failed")
		h.writeError(w, r, http.StatusInternalServerError, "MESSAGE_FETCH_FAILED", "Failed to load messages")
		return
	}
	h.cacheMetric("messages", computed)

	if computed {
		// Mark inbound messages read off the request path; best effort.
		h.background(r, "mark thread read", func(ctx context.Context) error {
			return h.Store.MarkThreadRead(ctx, p.ID, partnerID)
		})
	}

	httputil.WriteJSON(w, http.StatusOK, msgs)
}

type sendRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	defer h.observe("send", h.nowFunc())

	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, r, auth.NewError(auth.CodeMissingCredential, nil))
		return
	}

	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10*1024)).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "MISSING_FIELDS", "Missing required fields")
		return
	}
	if req.ReceiverID == "" || req.Content == "" {
		h.writeError(w, r, http.StatusBadRequest, "MISSING_FIELDS", "Missing required fields")
		return
	}
	if len(req.Content) > 1000 {
		h.writeError(w, r, http.StatusBadRequest, "MESSAGE_TOO_LONG", "Message too long")
		return
	}

	msg, err := h.Store.InsertMessage(r.Context(), store.NewMessage{
		SenderID:   p.ID,
		ReceiverID: req.ReceiverID,
		Content:    strings.TrimSpace(req.Content),
	})
	if err != nil {
		logger := httputil.GetLogger(r.Context())
		logger.Error().Err(err).Msg("message insert failed")
		h.writeError(w, r, http.StatusInternalServerError, "MESSAGE_SEND_FAILED", "Message send failed")
		return
	}

	h.background(r, "touch lastonline", func(ctx context.Context) error {
		return h.Store.TouchLastOnline(ctx, p.ID)
	})

	// Both directional thread keys go stale on send. The pair need not be
	// atomic; each invalidation is independently safe.
	h.Messages.Invalidate(threadKey(p.ID, req.ReceiverID))
	h.Messages.Invalidate(threadKey(req.ReceiverID, p.ID))

	httputil.WriteJSON(w, http.StatusCreated, msg)
}

// ---- Health ----

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": h.nowFunc().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.startTime).Seconds(),
	})
}

// ---- helpers ----

type apiError struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	httputil.WriteJSON(w, status, apiError{
		Error:     msg,
		Code:      code,
		RequestID: httputil.GetRequestID(r.Context()),
	})
}

func (h *Handler) cacheMetric(name string, computed bool) {
	if computed {
		metrics.ResponseCacheLookups.WithLabelValues(name, "miss").Inc()
		return
	}
	metrics.ResponseCacheLookups.WithLabelValues(name, "hit").Inc()
}

func (h *Handler) observe(route string, start time.Time) {
	metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

// background runs op detached from the request with its own deadline,
// logging failures against the originating request ID.
func (h *Handler) background(r *http.Request, what string, op func(context.Context) error) {
	logger := httputil.GetLogger(r.Context())
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := op(ctx); err != nil {
			logger.Error().Err(err).Str("op", what).Msg("background operation failed")
		}
	}()
}
