package paypalprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coursepass/coursepass-backend/internal/payments"
	"github.com/coursepass/coursepass-backend/pkg/config"
)

const defaultTimeout = 30 * time.Second

// Client is a minimal PayPal REST client covering the checkout-order and
// billing-subscription endpoints the provider needs. Access tokens from the
// client-credentials grant are cached until shortly before expiry.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient builds a PayPal REST client from configuration.
func NewClient(cfg config.PayPalConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("paypal base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		http:         &http.Client{Timeout: timeout},
	}, nil
}

// Configured reports whether API credentials are present.
func (c *Client) Configured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", payments.NewProviderError(payments.ErrorKindUnavailable, "paypal credentials missing", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", payments.NewProviderError(payments.ErrorKindUnavailable, "building token request", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", normalizeTransportErr(err, "fetch access token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusErr(resp, "fetch access token")
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", payments.NewProviderError(payments.ErrorKindUnavailable, "decoding token response", err)
	}
	if tok.AccessToken == "" {
		return "", payments.NewProviderError(payments.ErrorKindUnavailable, "empty access token", nil)
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

// do performs an authenticated JSON request and decodes the response into out
// when out is non-nil. A nil body sends no payload.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return payments.NewProviderError(payments.ErrorKindUnavailable, "encoding request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return payments.NewProviderError(payments.ErrorKindUnavailable, "building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return normalizeTransportErr(err, method+" "+path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusErr(resp, method+" "+path)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return payments.NewProviderError(payments.ErrorKindUnavailable, "decoding response", err)
	}
	return nil
}

func normalizeTransportErr(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return payments.NewProviderError(payments.ErrorKindTimeout, op+" timed out", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return payments.NewProviderError(payments.ErrorKindTimeout, op+" timed out", err)
	}
	return payments.NewProviderError(payments.ErrorKindUnavailable, op+" failed", err)
}

func statusErr(resp *http.Response, op string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return payments.NewProviderError(payments.ErrorKindRejected, msg, nil)
	}
	return payments.NewProviderError(payments.ErrorKindUnavailable, msg, nil)
}
