package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
)

const (
	defaultBaseURL = "https://api.razorpay.com/v1"
	defaultTimeout = 10 * time.Second
)

var _ domain.PaymentGateway = (*Client)(nil)

// Client — REST-клиент платёжного провайдера с локальной проверкой
// подписей HMAC-SHA256.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	webhookKey string
	httpClient *http.Client
	logger     *log.Entry
}

// Config задаёт учётные данные и сетевые параметры клиента.
type Config struct {
	BaseURL string
	// KeyID и KeySecret — API-пара; KeySecret также подписывает checkout-подпись.
	KeyID     string
	KeySecret string
	// WebhookSecret подписывает тело webhook; отдельный от KeySecret ключ.
	WebhookSecret string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *log.Entry
}

// NewClient создаёт клиента провайдера.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "razorpay-client")
	}

	return &Client{
		baseURL:    baseURL,
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		webhookKey: cfg.WebhookSecret,
		httpClient: httpClient,
		logger:     logger,
	}
}

type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type paymentResponse struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
	Email    string `json:"email"`
	Contact  string `json:"contact"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder создаёт платёжную сессию; суммы передаются в минимальных
// денежных единицах, как того требует API провайдера.
func (c *Client) CreateOrder(ctx context.Context, req domain.GatewayOrderRequest) (domain.GatewayOrder, error) {
	body := orderRequest{
		Amount:   req.AmountMinor,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return domain.GatewayOrder{}, fmt.Errorf("razorpay create order: %w", err)
	}

	return domain.GatewayOrder{
		ID:          resp.ID,
		AmountMinor: resp.Amount,
		Currency:    resp.Currency,
		Status:      resp.Status,
	}, nil
}

// FetchPayment возвращает канонические данные платежа с сервера провайдера.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (domain.GatewayPayment, error) {
	var resp paymentResponse
	if err := c.do(ctx, http.MethodGet, "/payments/"+paymentID, nil, &resp); err != nil {
		return domain.GatewayPayment{}, fmt.Errorf("razorpay fetch payment: %w", err)
	}

	return domain.GatewayPayment{
		ID:          resp.ID,
		OrderID:     resp.OrderID,
		AmountMinor: resp.Amount,
		Currency:    resp.Currency,
		Status:      resp.Status,
		Method:      resp.Method,
		Email:       resp.Email,
		Contact:     resp.Contact,
	}, nil
}

// VerifySignature сверяет checkout-подпись: HMAC-SHA256 от строки
// "<order_id>|<payment_id>" на KeySecret, hex-кодирование, сравнение
// за постоянное время.
func (c *Client) VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if gatewayOrderID == "" || gatewayPaymentID == "" || signature == "" {
		return false
	}
	expected := signHMAC(c.keySecret, gatewayOrderID+"|"+gatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyWebhookSignature сверяет подпись над сырым телом webhook на
// отдельном webhook-ключе.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	if len(body) == 0 || signature == "" || c.webhookKey == "" {
		return false
	}
	expected := hmac.New(sha256.New, []byte(c.webhookKey))
	expected.Write(body)
	return hmac.Equal([]byte(hex.EncodeToString(expected.Sum(nil))), []byte(signature))
}

func signHMAC(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Description != "" {
			return fmt.Errorf("provider responded %d: %s (%s)", resp.StatusCode, apiErr.Error.Description, apiErr.Error.Code)
		}
		return fmt.Errorf("provider responded %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
