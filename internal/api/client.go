// Package api is the typed client for the receipt backend's REST
// surface. It injects the current bearer credential at dispatch time,
// enforces per-call-class timeouts, and classifies failures; retry
// policy belongs to callers.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TokenSource supplies the bearer token attached to outbound requests.
// It is consulted on every dispatch, never captured at construction.
type TokenSource interface {
	Token() string
}

// Timeouts bounds worst-case suspension per operation class.
type Timeouts struct {
	Default time.Duration
	Receipt time.Duration
	Stats   time.Duration
}

// DefaultTimeouts returns the standard tiered timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default: 20 * time.Second,
		Receipt: 15 * time.Second,
		Stats:   10 * time.Second,
	}
}

// ResolveBaseURL picks the explicitly configured URL when set,
// otherwise derives the conventional host-local default.
func ResolveBaseURL(explicit, host string) string {
	if explicit != "" {
		return strings.TrimRight(explicit, "/")
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:8000", host)
}

// Client talks to the receipt backend.
type Client struct {
	baseURL  string
	client   *http.Client
	tokens   TokenSource
	timeouts Timeouts
}

// NewClient creates a Client. Zero timeout fields fall back to the
// defaults.
func NewClient(baseURL string, tokens TokenSource, timeouts Timeouts) *Client {
	def := DefaultTimeouts()
	if timeouts.Default <= 0 {
		timeouts.Default = def.Default
	}
	if timeouts.Receipt <= 0 {
		timeouts.Receipt = def.Receipt
	}
	if timeouts.Stats <= 0 {
		timeouts.Stats = def.Stats
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{},
		tokens:   tokens,
		timeouts: timeouts,
	}
}

// BaseURL returns the resolved base address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TokenResponse is the login response body. Older backend builds
// returned the token under "token" instead of "access_token".
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	LegacyToken string `json:"token"`
}

// Bearer returns whichever token field the backend populated.
func (t TokenResponse) Bearer() string {
	if t.AccessToken != "" {
		return t.AccessToken
	}
	return t.LegacyToken
}

// Profile is the authenticated identity from GET /me.
type Profile struct {
	Email       string `json:"email"`
	CompanyName string `json:"company_name"`
}

// ReceiptResponse is the creation response. PDFEndpoint is a
// base64-encoded scannable image pointing at the receipt document.
type ReceiptResponse struct {
	PDFEndpoint string `json:"pdf_endpoint"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (TokenResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var out TokenResponse
	err := c.do(ctx, c.timeouts.Default, http.MethodPost, "/api/v1/login", body, &out)
	return out, err
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, companyName, email, password string) error {
	body := map[string]string{
		"company_name": companyName,
		"email":        email,
		"password":     password,
	}
	return c.do(ctx, c.timeouts.Default, http.MethodPost, "/api/v1/register", body, nil)
}

// Me fetches the profile for the current credential.
func (c *Client) Me(ctx context.Context) (Profile, error) {
	var out Profile
	err := c.do(ctx, c.timeouts.Default, http.MethodGet, "/api/v1/me", nil, &out)
	return out, err
}

// CreateReceipt submits a validated total and returns the scannable
// image payload.
func (c *Client) CreateReceipt(ctx context.Context, total float64) (ReceiptResponse, error) {
	body := map[string]float64{"total": total}
	var out ReceiptResponse
	err := c.do(ctx, c.timeouts.Receipt, http.MethodPost, "/api/v1/receipts/", body, &out)
	return out, err
}

// Stats fetches the aggregate revenue resource. The body is returned
// raw; shapes vary across backend builds and normalization happens in
// the stats package.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, c.timeouts.Stats, http.MethodGet, "/api/v1/receipts/stats", nil, &out)
	return out, err
}

// AllReceipts fetches the receipt listing, raw for the same reason.
func (c *Client) AllReceipts(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, c.timeouts.Stats, http.MethodGet, "/api/v1/receipts/all", nil, &out)
	return out, err
}

// ReceiptPDF downloads the receipt document.
func (c *Client) ReceiptPDF(ctx context.Context, id string) ([]byte, error) {
	var out []byte
	err := c.do(ctx, c.timeouts.Default, http.MethodGet, "/api/v1/receipts/pdf/"+id, nil, &out)
	return out, err
}

// do runs one request: marshals body, attaches the current credential
// as a bearer header (mirrored into the token cookie), applies the
// class timeout, and classifies failures.
func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		req.AddCookie(&http.Cookie{Name: "token", Value: token})
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return classifyStatus(resp.StatusCode, data)
	}

	switch dst := out.(type) {
	case nil:
		return nil
	case *json.RawMessage:
		*dst = data
		return nil
	case *[]byte:
		*dst = data
		return nil
	default:
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}
}
