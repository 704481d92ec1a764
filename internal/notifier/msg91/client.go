package msg91

import (
	"bytes"
	"context"
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
	defaultBaseURL = "https://control.msg91.com/api/v5"
	defaultTimeout = 10 * time.Second
)

// Client — REST-клиент провайдера транзакционных уведомлений.
type Client struct {
	baseURL    string
	authKey    string
	fromEmail  string
	fromDomain string
	// waNumber — интеграционный номер WhatsApp-канала.
	waNumber   string
	httpClient *http.Client
	logger     *log.Entry
}

// Config задаёт учётные данные и сетевые параметры клиента.
type Config struct {
	BaseURL    string
	AuthKey    string
	FromEmail  string
	FromDomain string
	WANumber   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Entry
}

// NewClient создаёт клиента провайдера уведомлений.
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
		logger = log.WithField("component", "msg91-client")
	}

	return &Client{
		baseURL:    baseURL,
		authKey:    cfg.AuthKey,
		fromEmail:  cfg.FromEmail,
		fromDomain: cfg.FromDomain,
		waNumber:   cfg.WANumber,
		httpClient: httpClient,
		logger:     logger,
	}
}

type emailRequest struct {
	To []struct {
		Email string `json:"email"`
	} `json:"to"`
	From struct {
		Email string `json:"email"`
	} `json:"from"`
	Domain  string `json:"domain"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type whatsappRequest struct {
	IntegratedNumber string `json:"integrated_number"`
	ContentType      string `json:"content_type"`
	Recipient        string `json:"recipient_number"`
	Text             string `json:"text"`
}

// SendEmail отправляет транзакционное письмо.
func (c *Client) SendEmail(ctx context.Context, n domain.Notification) error {
	req := emailRequest{
		Domain:  c.fromDomain,
		Subject: n.Subject,
		Body:    n.Body,
	}
	req.To = append(req.To, struct {
		Email string `json:"email"`
	}{Email: n.Recipient})
	req.From.Email = c.fromEmail

	if err := c.do(ctx, "/email/send", req); err != nil {
		return fmt.Errorf("msg91 send email: %w", err)
	}
	return nil
}

// SendWhatsApp отправляет текстовое сообщение WhatsApp.
func (c *Client) SendWhatsApp(ctx context.Context, n domain.Notification) error {
	req := whatsappRequest{
		IntegratedNumber: c.waNumber,
		ContentType:      "text",
		Recipient:        n.Recipient,
		Text:             n.Body,
	}
	if err := c.do(ctx, "/whatsapp/whatsapp-outbound-message", req); err != nil {
		return fmt.Errorf("msg91 send whatsapp: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, body any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authkey", c.authKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("provider responded %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// EmailNotifier адаптирует клиента к каналу почтовых уведомлений.
type EmailNotifier struct{ client *Client }

// NewEmailNotifier создаёт notifier почтового канала.
func NewEmailNotifier(client *Client) *EmailNotifier {
	return &EmailNotifier{client: client}
}

var _ domain.Notifier = (*EmailNotifier)(nil)

func (n *EmailNotifier) Send(ctx context.Context, msg domain.Notification) error {
	return n.client.SendEmail(ctx, msg)
}

// WhatsAppNotifier адаптирует клиента к каналу WhatsApp.
type WhatsAppNotifier struct{ client *Client }

// NewWhatsAppNotifier создаёт notifier WhatsApp-канала.
func NewWhatsAppNotifier(client *Client) *WhatsAppNotifier {
	return &WhatsAppNotifier{client: client}
}

var _ domain.Notifier = (*WhatsAppNotifier)(nil)

func (n *WhatsAppNotifier) Send(ctx context.Context, msg domain.Notification) error {
	return n.client.SendWhatsApp(ctx, msg)
}
