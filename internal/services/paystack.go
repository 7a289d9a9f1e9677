package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// InitializeRequest - параметры создания платежа. Amount в минимальных единицах (kobo).
type InitializeRequest struct {
	Amount      int64
	Email       string
	OrderID     uint
	CallbackURL string
}

// Verification - результат проверки транзакции.
type Verification struct {
	Status    string
	Reference string
	Amount    int64
	OrderID   uint
	Message   string
}

func (v *Verification) Success() bool {
	return v != nil && v.Status == "success"
}

// GatewayError - отказ платёжного шлюза; Message показывается пользователю.
type GatewayError struct {
	Op      string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("paystack %s: %s", e.Op, e.Message)
}

type Gateway interface {
	Initialize(ctx context.Context, req InitializeRequest) (string, error)
	Verify(ctx context.Context, reference string) (*Verification, error)
}

// PaystackClient - клиент Paystack API (initialize/verify).
type PaystackClient struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewPaystackClient(baseURL, secret string, timeout time.Duration) *PaystackClient {
	return &PaystackClient{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

type paystackResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paymentMetadata struct {
	OrderID uint `json:"order_id"`
}

func (p *PaystackClient) Initialize(ctx context.Context, req InitializeRequest) (string, error) {
	body := map[string]interface{}{
		"amount":       req.Amount,
		"email":        req.Email,
		"order_id":     req.OrderID,
		"callback_url": req.CallbackURL,
		"metadata":     paymentMetadata{OrderID: req.OrderID},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	}
	if err := p.do(ctx, http.MethodPost, "/transaction/initialize", jsonBody, "initialize", &data); err != nil {
		return "", err
	}
	if data.AuthorizationURL == "" {
		return "", &GatewayError{Op: "initialize", Message: "no authorization url in response"}
	}
	return data.AuthorizationURL, nil
}

func (p *PaystackClient) Verify(ctx context.Context, reference string) (*Verification, error) {
	var data struct {
		Status          string          `json:"status"`
		Reference       string          `json:"reference"`
		Amount          int64           `json:"amount"`
		GatewayResponse string          `json:"gateway_response"`
		Metadata        json.RawMessage `json:"metadata"`
	}
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, "verify", &data); err != nil {
		return nil, err
	}
	v := &Verification{
		Status:    data.Status,
		Reference: data.Reference,
		Amount:    data.Amount,
		Message:   data.GatewayResponse,
	}
	// metadata бывает пустой строкой, поэтому ошибку разбора игнорируем
	var meta paymentMetadata
	if json.Unmarshal(data.Metadata, &meta) == nil {
		v.OrderID = meta.OrderID
	}
	return v, nil
}

func (p *PaystackClient) do(ctx context.Context, method, path string, body []byte, op string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("paystack %s: %w", op, err)
	}
	defer resp.Body.Close()

	var pr paystackResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return &GatewayError{Op: op, Message: fmt.Sprintf("unexpected response (HTTP %d)", resp.StatusCode)}
	}
	if resp.StatusCode/100 != 2 || !pr.Status {
		msg := pr.Message
		if msg == "" {
			msg = "Unknown error occurred."
		}
		return &GatewayError{Op: op, Message: msg}
	}
	if out != nil && len(pr.Data) > 0 {
		if err := json.Unmarshal(pr.Data, out); err != nil {
			return &GatewayError{Op: op, Message: "malformed response data"}
		}
	}
	return nil
}
