// Package paypal wraps the PayPal REST API calls the storefront depends on:
// OAuth token exchange, order creation, order capture, and webhook signature
// verification. Every call is a single synchronous round-trip with no retry;
// a failure propagates to the caller, which owns any retry policy.
//
// Webhook signatures are never verified locally; the raw event and its
// transmission headers are round-tripped to PayPal's own verification
// endpoint, exactly as the API documents.
package paypal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/resellplug/storefront-backend/internal/config"
)

const (
	sandboxBaseURL = "https://api-m.sandbox.paypal.com"
	liveBaseURL    = "https://api-m.paypal.com"
)

// ErrMissingCredentials is returned when the client id or secret is not
// configured. It is a deployment problem, fatal to the calling operation.
var ErrMissingCredentials = errors.New("paypal: client credentials are not configured")

// Client talks to the PayPal REST API. The zero value is not usable; build
// one with New.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	hc           *http.Client
}

// New constructs a Client for the configured environment. The base URL is
// selected from the sandbox/live mode; an explicit baseURL override is only
// exposed for tests via WithBaseURL.
func New(cfg config.PayPalConfig) *Client {
	base := liveBaseURL
	if cfg.Env == "sandbox" {
		base = sandboxBaseURL
	}
	return &Client{
		baseURL:      base,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		webhookID:    cfg.WebhookID,
		hc:           &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL overrides the API base URL. Intended for tests against a local
// stub server.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

// WebhookID returns the configured webhook identity, empty when webhooks are
// not configured.
func (c *Client) WebhookID() string { return c.webhookID }

// AccessToken exchanges the configured client credentials for a bearer token.
// Tokens are fetched per call; there is no cache.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return "", ErrMissingCredentials
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal: token request failed (%d): %s", resp.StatusCode, truncateBody(body))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("paypal: token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("paypal: token response carried no access_token")
	}
	return tok.AccessToken, nil
}

// CreateOrder creates a remote order with intent CAPTURE and returns the
// gateway-assigned order id. The description and referenceID are shown in the
// buyer's PayPal flow and in reports.
func (c *Client) CreateOrder(ctx context.Context, amount, currency, description, referenceID string) (string, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"description": description,
				"custom_id":   referenceID,
				"amount": map[string]string{
					"currency_code": currency,
					"value":         amount,
				},
			},
		},
		"application_context": map[string]string{
			"shipping_preference": "NO_SHIPPING",
			"user_action":         "PAY_NOW",
		},
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/checkout/orders", payload, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.New("paypal: create order response carried no id")
	}
	return created.ID, nil
}

// CaptureResult holds the fields the storefront extracts from a capture
// response, plus the raw payload retained for audit.
type CaptureResult struct {
	CaptureID     string
	PaymentSource string
	PayerName     string
	Raw           json.RawMessage
}

// CaptureOrder captures an approved order. The capture response is loosely
// structured; extraction applies defined fallbacks: the capture id comes from
// the first purchase unit's first capture, then the top-level order id, then a
// synthetic "CAP-<unix>" value. A double-capture surfaces as a gateway error.
func (c *Client) CaptureOrder(ctx context.Context, gatewayOrderID string) (*CaptureResult, error) {
	raw, err := c.callRaw(ctx, http.MethodPost, "/v2/checkout/orders/"+gatewayOrderID+"/capture", map[string]any{})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		ID            string `json:"id"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID string `json:"id"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
		PaymentSource map[string]json.RawMessage `json:"payment_source"`
		Payer         struct {
			Name struct {
				GivenName string `json:"given_name"`
				Surname   string `json:"surname"`
			} `json:"name"`
		} `json:"payer"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("paypal: capture response: %w", err)
	}

	captureID := ""
	if len(parsed.PurchaseUnits) > 0 && len(parsed.PurchaseUnits[0].Payments.Captures) > 0 {
		captureID = parsed.PurchaseUnits[0].Payments.Captures[0].ID
	}
	if captureID == "" {
		captureID = parsed.ID
	}
	if captureID == "" {
		captureID = fmt.Sprintf("CAP-%d", time.Now().Unix())
	}

	return &CaptureResult{
		CaptureID:     captureID,
		PaymentSource: paymentSourceName(parsed.PaymentSource),
		PayerName:     payerDisplayName(parsed.Payer.Name.GivenName, parsed.Payer.Name.Surname),
		Raw:           raw,
	}, nil
}

// WebhookHeaders carries the PayPal transmission headers required by the
// signature verification endpoint.
type WebhookHeaders struct {
	AuthAlgo         string
	CertURL          string
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
}

// WebhookHeadersFromRequest extracts the transmission headers from an inbound
// webhook request.
func WebhookHeadersFromRequest(h http.Header) WebhookHeaders {
	return WebhookHeaders{
		AuthAlgo:         h.Get("Paypal-Auth-Algo"),
		CertURL:          h.Get("Paypal-Cert-Url"),
		TransmissionID:   h.Get("Paypal-Transmission-Id"),
		TransmissionSig:  h.Get("Paypal-Transmission-Sig"),
		TransmissionTime: h.Get("Paypal-Transmission-Time"),
	}
}

// VerifyWebhookSignature reports whether PayPal confirms the authenticity of
// an inbound webhook event. The raw event body must be passed through
// unmodified so that the signature covers the exact bytes received.
func (c *Client) VerifyWebhookSignature(ctx context.Context, hdr WebhookHeaders, rawEvent json.RawMessage) (bool, error) {
	payload := map[string]any{
		"auth_algo":         hdr.AuthAlgo,
		"cert_url":          hdr.CertURL,
		"transmission_id":   hdr.TransmissionID,
		"transmission_sig":  hdr.TransmissionSig,
		"transmission_time": hdr.TransmissionTime,
		"webhook_id":        c.webhookID,
		"webhook_event":     rawEvent,
	}

	var verify struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, &verify); err != nil {
		return false, err
	}
	return verify.VerificationStatus == "SUCCESS", nil
}

// call performs an authenticated JSON round-trip and decodes the response
// into out (which may be nil).
func (c *Client) call(ctx context.Context, method, endpoint string, payload any, out any) error {
	raw, err := c.callRaw(ctx, method, endpoint, payload)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("paypal: decode %s response: %w", endpoint, err)
	}
	return nil
}

// callRaw performs an authenticated JSON round-trip and returns the raw
// response body. Non-2xx responses become errors carrying a truncated body.
func (c *Client) callRaw(ctx context.Context, method, endpoint string, payload any) (json.RawMessage, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("paypal: %s %s failed (%d): %s", method, endpoint, resp.StatusCode, truncateBody(raw))
	}
	return raw, nil
}

// paymentSourceName picks a stable name out of the payment_source object.
// Go maps iterate in random order, so preferred sources are checked first and
// the remainder falls back to the lexicographically smallest key.
func paymentSourceName(sources map[string]json.RawMessage) string {
	if len(sources) == 0 {
		return "paypal"
	}
	for _, pref := range []string{"paypal", "card", "venmo"} {
		if _, ok := sources[pref]; ok {
			return pref
		}
	}
	keys := make([]string, 0, len(sources))
	for k := range sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}

// payerDisplayName falls back to "Customer" when the payer name is absent.
func payerDisplayName(given, surname string) string {
	if given != "" {
		return given
	}
	if surname != "" {
		return surname
	}
	return "Customer"
}

// truncateBody caps error bodies so gateway failures do not flood logs.
func truncateBody(b []byte) string {
	const max = 512
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "…"
}
