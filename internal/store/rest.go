package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RESTClient implements Store against a PostgREST-style data API.
type RESTClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewRESTClient(baseURL, apiKey string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RESTClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *RESTClient) ListUsers(ctx context.Context, excludeID string) ([]User, error) {
	q := url.Values{}
	q.Set("select", "id,name,email,lastonline,role")
	q.Set("id", "neq."+excludeID)
	q.Set("order", "lastonline.desc")

	var users []User
	if err := c.do(ctx, http.MethodGet, "/rest/v1/users", q, nil, &users); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (c *RESTClient) Thread(ctx context.Context, userID, partnerID string) ([]Message, error) {
	q := url.Values{}
	q.Set("or", fmt.Sprintf("(and(sender_id.eq.%s,receiver_id.eq.%s),and(sender_id.eq.%s,receiver_id.eq.%s))",
		userID, partnerID, partnerID, userID))
	q.Set("order", "created_at.asc")
	q.Set("limit", "100")

	var msgs []Message
	if err := c.do(ctx, http.MethodGet, "/rest/v1/messages", q, nil, &msgs); err != nil {
		return nil, fmt.Errorf("fetch thread: %w", err)
	}
	return msgs, nil
}

func (c *RESTClient) InsertMessage(ctx context.Context, m NewMessage) (Message, error) {
	var out []Message
	if err := c.do(ctx, http.MethodPost, "/rest/v1/messages", nil, m, &out); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	if len(out) == 0 {
		return Message{}, fmt.Errorf("insert message: empty response")
	}
	return out[0], nil
}

func (c *RESTClient) MarkThreadRead(ctx context.Context, receiverID, senderID string) error {
	q := url.Values{}
	q.Set("receiver_id", "eq."+receiverID)
	q.Set("sender_id", "eq."+senderID)
	patch := map[string]any{"is_read": true}
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/messages", q, patch, nil); err != nil {
		return fmt.Errorf("mark thread read: %w", err)
	}
	return nil
}

func (c *RESTClient) TouchLastOnline(ctx context.Context, userID string) error {
	q := url.Values{}
	q.Set("id", "eq."+userID)
	patch := map[string]any{"lastonline": time.Now().UTC().Format(time.RFC3339)}
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/users", q, patch, nil); err != nil {
		return fmt.Errorf("touch lastonline: %w", err)
	}
	return nil
}

func (c *RESTClient) Profile(ctx context.Context, id string) (User, error) {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("limit", "1")

	var users []User
	if err := c.do(ctx, http.MethodGet, "/rest/v1/users", q, nil, &users); err != nil {
		return User{}, fmt.Errorf("fetch profile: %w", err)
	}
	if len(users) == 0 {
		return User{}, ErrNotFound
	}
	return users[0], nil
}

func (c *RESTClient) CreateProfile(ctx context.Context, u User) error {
	if err := c.do(ctx, http.MethodPost, "/rest/v1/users", nil, u, nil); err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("apikey", c.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost && out != nil {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("data store returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
