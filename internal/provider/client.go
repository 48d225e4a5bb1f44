// Package provider is the HTTP client for the telephony provider's outbound
// call API. The provider is an external collaborator: calls are placed here,
// but all asynchronous results come back through webhooks and media streams
// handled elsewhere.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the provider API endpoint and credentials.
type Config struct {
	BaseURL    string // e.g. "https://api.twilio.com/2010-04-01"
	AccountSID string
	AuthToken  string
}

// Client is an HTTP client for the provider's REST API.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// NewClient creates a provider API client.
func NewClient(cfg Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cfg:        cfg,
	}
}

// CallParams describes one outbound call creation request. Zero-valued
// optional fields are omitted from the request.
type CallParams struct {
	To   string // destination number, or a sip: URI for trunk routing
	From string

	// URL is the instruction document the provider fetches when the call is
	// answered. ApplicationSID selects a pre-configured application instead;
	// the two are mutually exclusive.
	URL            string
	ApplicationSID string

	StatusCallback       string
	StatusCallbackEvents []string

	// Native in-provider machine detection.
	MachineDetection        string // "Enable" to turn on
	AsyncAMD                bool
	AsyncAMDStatusCallback  string
	MachineDetectionTimeout int // seconds
}

// APIError is a structured error response from the provider.
type APIError struct {
	Status  int    `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error %d (code %d): %s", e.Status, e.Code, e.Message)
}

// createCallResponse is the subset of the provider's call resource we use.
type createCallResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// CreateCall places an outbound call and returns the provider's call
// identifier. Errors distinguish provider rejections (*APIError) from
// transport failures.
func (c *Client) CreateCall(ctx context.Context, p CallParams) (string, error) {
	form := url.Values{}
	form.Set("To", p.To)
	form.Set("From", p.From)
	if p.URL != "" {
		form.Set("Url", p.URL)
	}
	if p.ApplicationSID != "" {
		form.Set("ApplicationSid", p.ApplicationSID)
	}
	if p.StatusCallback != "" {
		form.Set("StatusCallback", p.StatusCallback)
		form.Set("StatusCallbackMethod", http.MethodPost)
	}
	for _, ev := range p.StatusCallbackEvents {
		form.Add("StatusCallbackEvent", ev)
	}
	if p.MachineDetection != "" {
		form.Set("MachineDetection", p.MachineDetection)
	}
	if p.AsyncAMD {
		form.Set("AsyncAmd", "true")
		form.Set("AsyncAmdStatusCallback", p.AsyncAMDStatusCallback)
		form.Set("AsyncAmdStatusCallbackMethod", http.MethodPost)
	}
	if p.MachineDetectionTimeout > 0 {
		form.Set("MachineDetectionTimeout", strconv.Itoa(p.MachineDetectionTimeout))
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json",
		strings.TrimSuffix(c.cfg.BaseURL, "/"), c.cfg.AccountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("provider: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider: sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("provider: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		apiErr.Status = resp.StatusCode
		return "", apiErr
	}

	var call createCallResponse
	if err := json.Unmarshal(body, &call); err != nil {
		return "", fmt.Errorf("provider: decoding response: %w", err)
	}
	if call.SID == "" {
		return "", fmt.Errorf("provider: response missing call sid")
	}
	return call.SID, nil
}
