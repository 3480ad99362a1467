// Package amoria provides the Go client SDK for the Amoria API.
//
// The core of the package is the real-time chat engine: a ChatSession
// ties one live ChatSocket to a MessageStore that stays consistent with
// the authoritative server stream while giving instant local feedback
// for the user's own sends.
//
// Example:
//
//	client := amoria.NewClient(token)
//
//	match, _ := client.Matches.Get(ctx, "match-42")
//	session, _ := amoria.OpenSession(ctx, client, selfID, *match, nil)
//	defer session.Close()
//
//	session.SendText(ctx, "hey!")
package amoria

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL = "https://api.amoria.app"
	DefaultTimeout = 30 * time.Second
)

// maxPhotoSize caps uploads; the API rejects anything larger anyway.
const maxPhotoSize = 10 * 1024 * 1024

// ============================================================================
// Client
// ============================================================================

// Client is the HTTP API collaborator. Every request carries the bearer
// token; a 401 triggers exactly one shared re-authentication and one
// retry of the original request before failure surfaces.
type Client struct {
	baseURL    string
	httpClient *http.Client

	tokenMu      sync.RWMutex
	token        string
	refreshToken string

	refreshGroup singleflight.Group

	Matches  *MatchesClient
	Messages *MessagesClient
	Media    *MediaClient
	Gifts    *GiftsClient
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithRefreshToken enables automatic re-authentication on 401.
func WithRefreshToken(token string) ClientOption {
	return func(c *Client) { c.refreshToken = token }
}

// NewClient creates a new Amoria client. token may be empty for the
// login call itself.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Matches = &MatchesClient{client: c}
	c.Messages = &MessagesClient{client: c}
	c.Media = &MediaClient{client: c}
	c.Gifts = &GiftsClient{client: c}
	return c
}

// Token returns the current bearer token (the realtime socket carries
// it on its connection URL).
func (c *Client) Token() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token, e.g. after login.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

// BaseURL returns the configured API base.
func (c *Client) BaseURL() string { return c.baseURL }

// HTTPClient returns the underlying HTTP client, shared with the
// realtime socket's handshake.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// Login authenticates with credentials and installs the returned
// tokens on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginData, error) {
	res, err := c.do(ctx, "POST", "/api/auth/login", map[string]string{
		"email": email, "password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	var data LoginData
	if err := res.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode login: %w", err)
	}
	c.tokenMu.Lock()
	c.token = data.Token
	if data.RefreshToken != "" {
		c.refreshToken = data.RefreshToken
	}
	c.tokenMu.Unlock()
	return &data, nil
}

// ----------------------------------------------------------------------------
// Request plumbing
// ----------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body any, query map[string]string) (*APIResult, error) {
	res, status, err := c.doOnce(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		if err := c.reauthenticate(ctx); err != nil {
			return nil, err
		}
		res, status, err = c.doOnce(ctx, method, path, body, query)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, &APIError{Code: "UNAUTHORIZED", Message: "token rejected after refresh"}
		}
	}
	if !res.OK {
		if res.Error != nil {
			return nil, res.Error
		}
		return nil, &APIError{Code: "REQUEST_FAILED", Message: fmt.Sprintf("%s %s returned HTTP %d", method, path, status)}
	}
	return res, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, body any, query map[string]string) (*APIResult, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	var res APIResult
	if len(data) > 0 {
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	if !res.OK && res.Error == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Some endpoints return bare data without the envelope.
		res.OK = true
		res.Data = data
	}
	return &res, resp.StatusCode, nil
}

func (c *Client) setAuthHeader(req *http.Request) {
	c.tokenMu.RLock()
	token := c.token
	c.tokenMu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// reauthenticate refreshes the bearer token. Concurrent callers share
// a single refresh attempt rather than each firing their own.
func (c *Client) reauthenticate(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		c.tokenMu.RLock()
		refresh := c.refreshToken
		c.tokenMu.RUnlock()
		if refresh == "" {
			return nil, &APIError{Code: "UNAUTHORIZED", Message: "no refresh token configured"}
		}

		res, status, err := c.doOnce(ctx, "POST", "/api/auth/refresh", map[string]string{
			"refreshToken": refresh,
		}, nil)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized || !res.OK {
			return nil, &APIError{Code: "UNAUTHORIZED", Message: "re-authentication rejected"}
		}
		var data LoginData
		if err := res.Decode(&data); err != nil {
			return nil, fmt.Errorf("decode refresh: %w", err)
		}
		c.tokenMu.Lock()
		c.token = data.Token
		if data.RefreshToken != "" {
			c.refreshToken = data.RefreshToken
		}
		c.tokenMu.Unlock()
		return nil, nil
	})
	return err
}

// ============================================================================
// Sub-Clients
// ============================================================================

// MatchesClient handles the match list and per-match state.
type MatchesClient struct{ client *Client }

func (m *MatchesClient) List(ctx context.Context, opts *PaginationOptions) ([]Match, error) {
	res, err := m.client.do(ctx, "GET", "/api/matches", nil, paginationQuery(opts))
	if err != nil {
		return nil, err
	}
	var matches []Match
	if err := res.Decode(&matches); err != nil {
		return nil, fmt.Errorf("decode matches: %w", err)
	}
	return matches, nil
}

func (m *MatchesClient) Get(ctx context.Context, matchID string) (*Match, error) {
	res, err := m.client.do(ctx, "GET", "/api/matches/"+matchID, nil, nil)
	if err != nil {
		return nil, err
	}
	var match Match
	if err := res.Decode(&match); err != nil {
		return nil, fmt.Errorf("decode match: %w", err)
	}
	return &match, nil
}

// MarkRead marks the whole conversation read for the local user.
func (m *MatchesClient) MarkRead(ctx context.Context, matchID string) error {
	_, err := m.client.do(ctx, "POST", "/api/matches/"+matchID+"/read", nil, nil)
	return err
}

// MessagesClient handles message history and the fallback send path
// used when the realtime connection is down.
type MessagesClient struct{ client *Client }

func (m *MessagesClient) History(ctx context.Context, matchID string, opts *PaginationOptions) ([]HistoryMessage, error) {
	res, err := m.client.do(ctx, "GET", "/api/matches/"+matchID+"/messages", nil, paginationQuery(opts))
	if err != nil {
		return nil, err
	}
	var msgs []HistoryMessage
	if err := res.Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return msgs, nil
}

// SendText delivers a text message over the request/response path.
// clientID is echoed back by the server so the realtime stream can be
// deduplicated against the optimistic entry.
func (m *MessagesClient) SendText(ctx context.Context, matchID, text, clientID string) (*SendMessageData, error) {
	return m.send(ctx, matchID, map[string]string{
		"kind": string(KindText), "text": text, "clientId": clientID,
	})
}

// SendPhoto delivers an already-uploaded photo as a message.
func (m *MessagesClient) SendPhoto(ctx context.Context, matchID, photoURL, clientID string) (*SendMessageData, error) {
	return m.send(ctx, matchID, map[string]string{
		"kind": string(KindPhoto), "photoUrl": photoURL, "clientId": clientID,
	})
}

func (m *MessagesClient) send(ctx context.Context, matchID string, payload map[string]string) (*SendMessageData, error) {
	res, err := m.client.do(ctx, "POST", "/api/matches/"+matchID+"/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	var data SendMessageData
	if err := res.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode send: %w", err)
	}
	return &data, nil
}

// MediaClient handles photo uploads. Upload is a separate failure
// domain from sending: a failed upload never creates a message.
type MediaClient struct{ client *Client }

// UploadPhoto uploads raw image bytes and returns the hosted URL.
func (mc *MediaClient) UploadPhoto(ctx context.Context, data []byte, fileName string) (*UploadData, error) {
	if fileName == "" {
		return nil, fmt.Errorf("fileName is required")
	}
	if int64(len(data)) > maxPhotoSize {
		return nil, fmt.Errorf("photo exceeds maximum size of 10 MB")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("photo", fileName)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write photo data: %w", err)
	}
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", mc.client.baseURL+"/api/media/photos", &buf)
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Photo-Mime", guessMimeType(fileName))
	mc.client.setAuthHeader(req)

	resp, err := mc.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload failed (%d): %s", resp.StatusCode, string(body))
	}

	var res APIResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("unmarshal upload response: %w", err)
	}
	if !res.OK {
		if res.Error != nil {
			return nil, res.Error
		}
		return nil, fmt.Errorf("upload rejected")
	}
	var up UploadData
	if err := res.Decode(&up); err != nil {
		return nil, fmt.Errorf("decode upload: %w", err)
	}
	if up.PhotoURL == "" {
		return nil, fmt.Errorf("upload response missing photo URL")
	}
	return &up, nil
}

// GiftsClient handles super likes, the gift message kind.
type GiftsClient struct{ client *Client }

// SendSuperLike purchases and sends a super like in one call.
func (g *GiftsClient) SendSuperLike(ctx context.Context, matchID string) (*GiftData, error) {
	res, err := g.client.do(ctx, "POST", "/api/matches/"+matchID+"/super-like", nil, nil)
	if err != nil {
		return nil, err
	}
	var data GiftData
	if err := res.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode super like: %w", err)
	}
	return &data, nil
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func paginationQuery(opts *PaginationOptions) map[string]string {
	if opts == nil {
		return nil
	}
	q := map[string]string{}
	if opts.Limit > 0 {
		q["limit"] = fmt.Sprintf("%d", opts.Limit)
	}
	if opts.Offset > 0 {
		q["offset"] = fmt.Sprintf("%d", opts.Offset)
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// guessMimeType returns the MIME type for an image file name.
func guessMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	// Fallback for types not in Go's builtin registry
	if ext == ".webp" {
		return "image/webp"
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}
