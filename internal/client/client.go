// Package client is a Go client for the payerbook HTTP API. Credentials live
// in an explicit Session carried on the context; the client refreshes an
// expired access token once and retries.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"payerbook.org/internal/entity"
	"payerbook.org/internal/obs"
)

const refreshCookieName = "refreshToken"

var (
	// ErrNoSession is returned when the context carries no Session.
	ErrNoSession = errors.New("client: no session in context")
	// ErrSessionExpired means the refresh token was rejected; sign in again.
	ErrSessionExpired = errors.New("client: session expired")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("payerbook: %d %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("payerbook: %d %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Client talks to one payerbook server.
type Client struct {
	base *url.URL
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. Its Jar is ignored;
// cookies are kept per Session.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// New returns a client for baseURL, e.g. "http://localhost:5000".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: base url %q must be absolute", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
}

type sessionData struct {
	Message     string `json:"message"`
	AccessToken string `json:"accessToken"`
}

// Signup creates an account and signs the session in.
func (c *Client) Signup(ctx context.Context, email, password, confirmPassword string) error {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return ErrNoSession
	}
	body := map[string]string{"email": email, "password": password, "confirmPassword": confirmPassword}
	var data sessionData
	if err := c.call(ctx, sess, http.MethodPost, "/api/signup", body, false, &data); err != nil {
		return err
	}
	sess.tokens.Save(data.AccessToken)
	return nil
}

// Login signs the session in.
func (c *Client) Login(ctx context.Context, email, password string) error {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return ErrNoSession
	}
	body := map[string]string{"email": email, "password": password}
	var data sessionData
	if err := c.call(ctx, sess, http.MethodPost, "/api/login", body, false, &data); err != nil {
		return err
	}
	sess.tokens.Save(data.AccessToken)
	return nil
}

// Logout ends the session on the server and forgets the local token even
// when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return ErrNoSession
	}
	defer sess.tokens.Clear()
	return c.call(ctx, sess, http.MethodPost, "/api/logout", nil, false, nil)
}

// Refresh rotates the refresh cookie and stores the new access token.
func (c *Client) Refresh(ctx context.Context) error {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return ErrNoSession
	}
	return c.refresh(ctx, sess, "")
}

// Dashboard lists the caller's entities.
func (c *Client) Dashboard(ctx context.Context) ([]entity.Entity, error) {
	var out []entity.Entity
	if err := c.authed(ctx, http.MethodGet, "/api/dashboard", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddEntity creates a payer/recipient entity.
func (c *Client) AddEntity(ctx context.Context, in entity.Input) error {
	return c.authed(ctx, http.MethodPost, "/api/add_entity", in, nil)
}

// UpdateEntity replaces the entity identified by in.ID.
func (c *Client) UpdateEntity(ctx context.Context, in entity.Input) error {
	return c.authed(ctx, http.MethodPost, "/api/update_entity", in, nil)
}

// Entity fetches one entity by id.
func (c *Client) Entity(ctx context.Context, id int64) (entity.Entity, error) {
	var out entity.Entity
	err := c.authed(ctx, http.MethodGet, "/api/entities/"+strconv.FormatInt(id, 10), nil, &out)
	return out, err
}

// Forms lists the forms filed for an entity.
func (c *Client) Forms(ctx context.Context, entityID int64) ([]entity.Form, error) {
	var out []entity.Form
	if err := c.authed(ctx, http.MethodGet, "/api/forms/"+strconv.FormatInt(entityID, 10), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// authed sends a bearer request. On 401 it refreshes once and retries.
func (c *Client) authed(ctx context.Context, method, path string, body, out any) error {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return ErrNoSession
	}
	sent, _ := sess.tokens.Load()
	err := c.call(ctx, sess, method, path, body, true, out)
	if StatusOf(err) != http.StatusUnauthorized || !sess.hasRefreshCookie(c.base) {
		return err
	}
	if rerr := c.refresh(ctx, sess, sent); rerr != nil {
		return rerr
	}
	return c.call(ctx, sess, method, path, body, true, out)
}

// refresh rotates the refresh token unless another caller already replaced
// stale with a newer access token.
func (c *Client) refresh(ctx context.Context, sess *Session, stale string) error {
	sess.refreshMu.Lock()
	defer sess.refreshMu.Unlock()

	if cur, ok := sess.tokens.Load(); ok && stale != "" && cur != stale {
		return nil
	}

	var data struct {
		AccessToken string `json:"accessToken"`
	}
	err := c.send(ctx, sess, http.MethodPost, "/api/refresh_token", nil, false, func(resp *http.Response) error {
		if resp.StatusCode != http.StatusOK {
			return decodeAPIError(resp)
		}
		return json.NewDecoder(resp.Body).Decode(&data)
	})
	if err != nil {
		if s := StatusOf(err); s == http.StatusUnauthorized || s == http.StatusForbidden {
			sess.tokens.Clear()
			return fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		return err
	}
	if data.AccessToken == "" {
		return errors.New("client: refresh returned no access token")
	}
	obs.Logger().Debug("client: access token refreshed")
	sess.tokens.Save(data.AccessToken)
	return nil
}

// call decodes the success envelope's data into out.
func (c *Client) call(ctx context.Context, sess *Session, method, path string, body any, bearer bool, out any) error {
	return c.send(ctx, sess, method, path, body, bearer, func(resp *http.Response) error {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return decodeAPIError(resp)
		}
		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return fmt.Errorf("client: decode %s: %w", path, err)
		}
		if out == nil || len(env.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("client: decode %s data: %w", path, err)
		}
		return nil
	})
}

func (c *Client) send(ctx context.Context, sess *Session, method, path string, body any, bearer bool, handle func(*http.Response) error) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode body: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}
	target := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer {
		if tok, ok := sess.tokens.Load(); ok {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	for _, ck := range sess.cookies(c.base) {
		req.AddCookie(ck)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	sess.storeCookies(c.base, resp)

	if err := handle(resp); err != nil {
		if StatusOf(err) >= http.StatusInternalServerError {
			obs.Logger().Warn("client: server error",
				zap.String("method", method),
				zap.String("path", path),
				zap.Error(err))
		}
		return err
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get("X-Request-ID")}
	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err == nil {
		apiErr.Message = env.Message
		if env.RequestID != "" {
			apiErr.RequestID = env.RequestID
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
