package payments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// IntentStatus is the processor-side state of a payment intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
)

// Intent is a processor payment intent reference.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// ConfirmedIntent is the processor's own record of an intent: its state
// plus the amount, currency and metadata captured when the intent was
// created. Completion logic acts only on this record; webhook payloads
// are public input and carry no authority.
type ConfirmedIntent struct {
	Status      IntentStatus      `json:"status"`
	AmountCents int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
}

// Processor abstracts the payment processor. This subsystem only needs
// "create pending, later learn completed/failed", whichever provider
// sits behind it.
type Processor interface {
	CreateIntent(amountCents int64, currency string, metadata map[string]string) (*Intent, error)
	ConfirmIntent(intentID string) (*ConfirmedIntent, error)
	CreateRefund(intentID string, amountCents int64) (string, error)
}

// HTTPProcessor talks to the processor's REST API.
type HTTPProcessor struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHTTPProcessor creates a processor client.
func NewHTTPProcessor(baseURL, apiKey string) *HTTPProcessor {
	return &HTTPProcessor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// CreateIntent registers a payment intent with the processor.
func (p *HTTPProcessor) CreateIntent(amountCents int64, currency string, metadata map[string]string) (*Intent, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"amount":   amountCents,
		"currency": currency,
		"metadata": metadata,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, p.baseURL+"/v1/intents", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create intent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("processor returned status %d", resp.StatusCode)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("failed to decode intent response: %w", err)
	}

	log.Printf("[PAY] Created processor intent %s (%d %s)", intent.ID, amountCents, currency)
	return &intent, nil
}

// ConfirmIntent asks the processor for the authoritative record of an
// intent. Webhook payloads are never trusted on their own.
func (p *HTTPProcessor) ConfirmIntent(intentID string) (*ConfirmedIntent, error) {
	req, err := http.NewRequest(http.MethodGet, p.baseURL+"/v1/intents/"+intentID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm intent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("processor returned status %d", resp.StatusCode)
	}

	var confirmed ConfirmedIntent
	if err := json.NewDecoder(resp.Body).Decode(&confirmed); err != nil {
		return nil, fmt.Errorf("failed to decode intent record: %w", err)
	}
	return &confirmed, nil
}

// CreateRefund issues a refund against an intent and returns the
// processor's refund reference.
func (p *HTTPProcessor) CreateRefund(intentID string, amountCents int64) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"intent": intentID,
		"amount": amountCents,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, p.baseURL+"/v1/refunds", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create refund: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("processor returned status %d", resp.StatusCode)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode refund response: %w", err)
	}
	return body.ID, nil
}
