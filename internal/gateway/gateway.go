// Package gateway talks to the hosted-checkout payment provider. The provider
// posts webhook events back signed with HMAC-SHA256 over the raw body.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Webhook event types
const (
	EventCheckoutCompleted = "checkout.completed"
	EventCheckoutExpired   = "checkout.expired"
)

var ErrBadSignature = errors.New("webhook signature mismatch")

// CreateSessionRequest asks the provider for a hosted checkout session.
// PaymentID travels in session metadata and comes back in webhook events, so
// reconciliation never relies on the guessable session id.
type CreateSessionRequest struct {
	OrderID        int64           `json:"order_id"`
	PaymentID      int64           `json:"payment_id"`
	TrackingNumber string          `json:"tracking_number"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
}

// Session is a hosted checkout session created upstream
type Session struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Event is a verified webhook event from the provider
type Event struct {
	ID        string
	Type      string
	PaymentID int64
	IntentID  string
	Method    string
	Reason    string
}

// Client is the HTTP implementation of the provider API
type Client struct {
	baseURL string
	apiKey  string
	secret  []byte
	http    *http.Client
}

// NewClient creates a gateway client
func NewClient(baseURL, apiKey, webhookSecret string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		secret:  []byte(webhookSecret),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateSession creates a hosted checkout session upstream
func (c *Client) CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error) {
	body := map[string]interface{}{
		"amount":    req.Amount,
		"currency":  req.Currency,
		"reference": req.TrackingNumber,
		"metadata": map[string]string{
			"payment_id": strconv.FormatInt(req.PaymentID, 10),
			"order_id":   strconv.FormatInt(req.OrderID, 10),
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/checkout/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(data))
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	return &session, nil
}

// SessionActive reports whether a previously created session is still open
// upstream. Unknown or expired sessions report false.
func (c *Client) SessionActive(ctx context.Context, sessionID string) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/checkout/sessions/"+sessionID, nil)
	if err != nil {
		return false, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return false, err
	}
	return session.Status == "open", nil
}

// webhookEnvelope is the provider's wire format for webhook deliveries
type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		SessionID     string            `json:"session_id"`
		PaymentIntent string            `json:"payment_intent"`
		Method        string            `json:"method"`
		Reason        string            `json:"reason"`
		Metadata      map[string]string `json:"metadata"`
	} `json:"data"`
}

// VerifyWebhook checks the HMAC signature and parses the event. It fails
// closed: any mismatch returns ErrBadSignature and the payload is discarded.
func (c *Client) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrBadSignature
	}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	event := &Event{
		ID:       env.ID,
		Type:     env.Type,
		IntentID: env.Data.PaymentIntent,
		Method:   env.Data.Method,
		Reason:   env.Data.Reason,
	}
	if raw, ok := env.Data.Metadata["payment_id"]; ok {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid payment_id in event metadata: %w", err)
		}
		event.PaymentID = id
	}
	return event, nil
}

// Sign computes the signature the provider would attach to payload. Exposed
// for tests and for the sandbox replay tool.
func (c *Client) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
