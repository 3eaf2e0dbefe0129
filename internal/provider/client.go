// Package provider is the HTTP boundary to the external identity provider.
// It verifies bearer tokens, looks up users by subject, and performs the
// password grant used by the login endpoint.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"trailchat/messaging-service/internal/auth"
)

// Session is the provider-issued token pair returned by a password grant.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Client talks to the identity provider's auth API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// VerifyOpaqueToken asks the provider to validate a provider-issued token and
// returns the principal it belongs to.
func (c *Client) VerifyOpaqueToken(ctx context.Context, tok string) (auth.Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/auth/v1/user", nil)
	if err != nil {
		return auth.Principal{}, auth.NewError(auth.CodeProviderUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return c.doUser(req)
}

// VerifySubject confirms that a locally-verified subject still exists at the
// provider and returns its principal.
func (c *Client) VerifySubject(ctx context.Context, subjectID string) (auth.Principal, error) {
	url := fmt.Sprintf("%s/auth/v1/admin/users/%s", c.BaseURL, subjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return auth.Principal{}, auth.NewError(auth.CodeProviderUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	return c.doUser(req)
}

// SignInWithPassword performs the password grant. A rejection is
// CodeInvalidCredential with no detail leaked to the caller.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (auth.Principal, Session, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return auth.Principal{}, Session{}, auth.NewError(auth.CodeProviderUnavailable, err)
	}
	url := c.BaseURL + "/auth/v1/token?grant_type=password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return auth.Principal{}, Session{}, auth.NewError(auth.CodeProviderUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return auth.Principal{}, Session{}, auth.NewError(auth.CodeProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return auth.Principal{}, Session{}, auth.NewError(auth.CodeProviderUnavailable, fmt.Errorf("provider returned %d", resp.StatusCode))
	default:
		return auth.Principal{}, Session{}, auth.NewError(auth.CodeInvalidCredential, errors.New("password grant rejected"))
	}

	var out struct {
		Session
		User userPayload `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return auth.Principal{}, Session{}, auth.NewError(auth.CodeProviderUnavailable, err)
	}
	return principalFrom(out.User), out.Session, nil
}

// doUser executes a request whose 200 body is a user payload. Rejections map
// to CodeInvalidCredential; transport failures and 5xx (timeouts included) to
// CodeProviderUnavailable — never silently valid or invalid.
func (c *Client) doUser(req *http.Request) (auth.Principal, error) {
	req.Header.Set("apikey", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return auth.Principal{}, auth.NewError(auth.CodeProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return auth.Principal{}, auth.NewError(auth.CodeProviderUnavailable, fmt.Errorf("provider returned %d", resp.StatusCode))
	default:
		return auth.Principal{}, auth.NewError(auth.CodeInvalidCredential, fmt.Errorf("provider returned %d", resp.StatusCode))
	}

	var u userPayload
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return auth.Principal{}, auth.NewError(auth.CodeProviderUnavailable, err)
	}
	if u.ID == "" {
		return auth.Principal{}, auth.NewError(auth.CodeInvalidCredential, errors.New("provider returned no user"))
	}
	return principalFrom(u), nil
}

func principalFrom(u userPayload) auth.Principal {
	role := u.Role
	if role == "" {
		role = "user"
	}
	return auth.Principal{ID: u.ID, Email: u.Email, Role: role}
}
