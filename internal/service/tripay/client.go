package tripay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/arraniry/storepay/internal/logger"
)

const (
	createTransactionPath = "/transaction/create"
	transactionDetailPath = "/transaction/detail"
	paymentChannelsPath   = "/merchant/payment-channel"

	requestTimeout = 10 * time.Second
)

// Error is returned for any failed gateway call: transport failures,
// timeouts and non-2xx responses. It is never retried by the client itself;
// a later poll cycle is the retry mechanism.
type Error struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tripay: status: %d, message: %s, error: %v", e.StatusCode, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type OrderItem struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type CreateTransactionRequest struct {
	Method        string      `json:"method"`
	MerchantRef   string      `json:"merchant_ref"`
	Amount        int64       `json:"amount"`
	CustomerName  string      `json:"customer_name"`
	Signature     string      `json:"signature"`
	OrderItems    []OrderItem `json:"order_items"`
	CustomerEmail string      `json:"customer_email,omitempty"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
	ReturnURL     string      `json:"return_url,omitempty"`
	ExpiredTime   int64       `json:"expired_time,omitempty"`
}

type Transaction struct {
	Reference   string `json:"reference"`
	MerchantRef string `json:"merchant_ref"`
	PaymentURL  string `json:"payment_url"`
	QRURL       string `json:"qr_url"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
}

type Channel struct {
	Group         string `json:"group"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	MinimumAmount int64  `json:"minimum_amount"`
	MaximumAmount int64  `json:"maximum_amount"`
	Active        bool   `json:"active"`
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Config struct {
	APIKey       string
	PrivateKey   string
	MerchantCode string
	BaseURL      string
}

// Client is a stateless wrapper around the gateway HTTP API.
// It keeps nothing between calls; all durable state lives in the repository.
type Client struct {
	baseURL string
	apiKey  string
	signer  *Signer

	client *http.Client
	logger logger.Logger
}

func NewClient(cfg Config, l logger.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		signer:  NewSigner(cfg.PrivateKey, cfg.MerchantCode),
		client:  &http.Client{},
		logger:  l,
	}
}

// Signer exposes the signer so callback verification uses the same key
func (c *Client) Signer() *Signer {
	return c.signer
}

// CreateTransaction registers the transaction at the gateway and returns the
// assigned reference. The request signature is computed here; callers never
// pass one in.
func (c *Client) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (Transaction, error) {
	var tr Transaction

	req.Signature = c.signer.TransactionSignature(req.MerchantRef, req.Amount)

	body, err := json.Marshal(req)
	if err != nil {
		return tr, &Error{Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	c.logger.Debug("Creating gateway transaction", "merchant_ref", req.MerchantRef, "amount", req.Amount, "method", req.Method)

	err = c.call(ctx, http.MethodPost, createTransactionPath, bytes.NewReader(body), &tr)
	if err != nil {
		return tr, err
	}

	return tr, nil
}

// GetTransaction fetches current transaction state by gateway reference
func (c *Client) GetTransaction(ctx context.Context, reference string) (Transaction, error) {
	var tr Transaction

	path := transactionDetailPath + "?reference=" + url.QueryEscape(reference)
	err := c.call(ctx, http.MethodGet, path, nil, &tr)
	if err != nil {
		return tr, err
	}

	return tr, nil
}

// ListChannels returns the payment channels the merchant may offer
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	var channels []Channel

	err := c.call(ctx, http.MethodGet, paymentChannelsPath, nil, &channels)
	if err != nil {
		return nil, err
	}

	return channels, nil
}

func (c *Client) call(ctx context.Context, method string, path string, body *bytes.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reqBody io.Reader = http.NoBody
	if body != nil {
		reqBody = body
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &Error{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close() // nolint:errcheck

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
		}
		return &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		c.logger.Warn("Gateway call failed", "path", path, "status_code", resp.StatusCode, "message", env.Message)
		return &Error{StatusCode: resp.StatusCode, Message: env.Message, Err: fmt.Errorf("gateway rejected request")}
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response data: %w", err)}
	}

	return nil
}
