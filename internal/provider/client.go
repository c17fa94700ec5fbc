package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a thin HTTP wrapper around the mail provider's API. It issues
// authenticated calls and reports failures; it performs no retries of its own.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// Config for the provider client.
type Config struct {
	BaseURL      string // e.g. https://api.aurinko.io/v1
	ClientID     string
	ClientSecret string
}

// NewClient creates a new provider API client.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:      cfg.BaseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// AuthURL returns the provider consent-screen URL for linking a mailbox of the
// given service type. The provider redirects to returnURL with a code on success.
func (c *Client) AuthURL(serviceType, returnURL string) (string, error) {
	if serviceType != "Google" && serviceType != "Office365" {
		return "", fmt.Errorf("unsupported service type %q", serviceType)
	}

	params := url.Values{}
	params.Set("clientId", c.clientID)
	params.Set("serviceType", serviceType)
	params.Set("scopes", "Mail.Read Mail.ReadWrite Mail.Send Mail.Drafts Mail.All")
	params.Set("responseType", "code")
	params.Set("returnUrl", returnURL)

	return c.baseURL + "/auth/authorize?" + params.Encode(), nil
}

// ExchangeCode exchanges an authorization code for an account id and access
// token, authenticating with the application's client credentials.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token/"+url.PathEscape(code), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)

	var token TokenResponse
	if err := c.do(req, &token); err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return &token, nil
}

// GetAccountDetails returns the mailbox name and address behind an access token.
func (c *Client) GetAccountDetails(ctx context.Context, accessToken string) (*AccountDetails, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/account", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var details AccountDetails
	if err := c.do(req, &details); err != nil {
		return nil, fmt.Errorf("failed to get account details: %w", err)
	}
	return &details, nil
}

// StartSync begins (or polls) an asynchronous server-side sync job covering
// the last daysWithin days. The job may not be ready yet; callers poll by
// calling StartSync again.
func (c *Client) StartSync(ctx context.Context, accessToken string, daysWithin int) (*SyncResponse, error) {
	endpoint := c.baseURL + "/email/sync?" + url.Values{
		"daysWithin": {strconv.Itoa(daysWithin)},
		"bodyType":   {"html"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var resp SyncResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("failed to start sync: %w", err)
	}
	return &resp, nil
}

// GetUpdated fetches one page of changed messages. The query carries either a
// delta token (start of an epoch) or a page token (continuation).
func (c *Client) GetUpdated(ctx context.Context, accessToken string, query UpdatedQuery) (*SyncUpdatedResponse, error) {
	params := url.Values{}
	if query.DeltaToken != "" {
		params.Set("deltaToken", query.DeltaToken)
	}
	if query.PageToken != "" {
		params.Set("pageToken", query.PageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/email/sync/updated?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var resp SyncUpdatedResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("failed to get updated messages: %w", err)
	}
	return &resp, nil
}

// SendMessage sends mail through the provider and returns the assigned ids.
func (c *Client) SendMessage(ctx context.Context, accessToken string, msg *OutgoingMessage) (*SendResult, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email/messages?returnIds=true", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	var result SendResult
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return &result, nil
}

// do executes the request, maps non-2xx responses to *Error, and decodes the
// JSON body into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
