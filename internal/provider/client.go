// Package provider talks to the third-party messaging provider that owns the
// outreach accounts.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client is what the engine needs from the provider. accountID is always the
// provider-side account identifier.
type Client interface {
	ResolveProfile(ctx context.Context, accountID, vanity string) (*Profile, error)
	SendInvitation(ctx context.Context, accountID, providerID, message string) (*Receipt, error)
	SendMessage(ctx context.Context, accountID, providerID, message string) (*Receipt, error)
}

type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
}

var _ Client = (*HTTPClient)(nil)

type HTTPClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	limiter *accountLimiter
	logger  *zap.Logger
}

func NewHTTPClient(cfg Config, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		http:    &http.Client{},
		limiter: newAccountLimiter(cfg.RequestsPerSec, cfg.Burst),
		logger:  logger,
	}
}

func (c *HTTPClient) ResolveProfile(ctx context.Context, accountID, vanity string) (*Profile, error) {
	endpoint := fmt.Sprintf("%s/api/v1/users/%s?account_id=%s",
		c.baseURL, url.PathEscape(vanity), url.QueryEscape(accountID))

	body, err := c.do(ctx, accountID, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return nil, err
	}
	return ParseProfile(body)
}

func (c *HTTPClient) SendInvitation(ctx context.Context, accountID, providerID, message string) (*Receipt, error) {
	payload, err := json.Marshal(map[string]string{
		"account_id":  accountID,
		"provider_id": providerID,
		"message":     message,
	})
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, accountID, http.MethodPost, c.baseURL+"/api/v1/users/invite",
		bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}
	r := parseReceipt(body)
	return &r, nil
}

// SendMessage starts a chat with the attendee. The chats endpoint only takes
// multipart form data.
func (c *HTTPClient) SendMessage(ctx context.Context, accountID, providerID, message string) (*Receipt, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	for _, field := range [][2]string{
		{"account_id", accountID},
		{"attendees_ids", providerID},
		{"text", message},
	} {
		if err := form.WriteField(field[0], field[1]); err != nil {
			return nil, err
		}
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	body, err := c.do(ctx, accountID, http.MethodPost, c.baseURL+"/api/v1/chats", &buf, form.FormDataContentType())
	if err != nil {
		return nil, err
	}
	r := parseReceipt(body)
	return &r, nil
}

func (c *HTTPClient) do(
	ctx context.Context,
	accountID, method, endpoint string,
	body io.Reader,
	contentType string,
) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx, accountID); err != nil {
		return nil, fmt.Errorf("provider rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("provider call",
		zap.String("method", method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		return nil, decodeError(resp.StatusCode, respBody)
	}
	return respBody, nil
}
