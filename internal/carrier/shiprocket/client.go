package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
)

const (
	defaultBaseURL = "https://apiv2.shiprocket.in/v1/external"
	defaultTimeout = 15 * time.Second

	// tokenTTL — срок жизни токена провайдера за вычетом страхового зазора.
	tokenTTL       = 9 * 24 * time.Hour
	tokenSafetyGap = 1 * time.Hour

	// Дефолтные габариты отправления, когда каталожные не заданы.
	defaultWeightKg    = 0.5
	defaultDimensionCm = 10
)

var _ domain.ShippingCarrier = (*Client)(nil)

// TokenCache хранит авторизационный токен перевозчика между вызовами.
// Реализация обязана быть безопасной для конкурентного доступа.
type TokenCache interface {
	// Get возвращает токен и признак его валидности на момент вызова.
	Get() (string, bool)
	// Put сохраняет токен до expiresAt.
	Put(token string, expiresAt time.Time)
}

// memoryTokenCache — процессный кэш токена под мьютексом.
type memoryTokenCache struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

// NewMemoryTokenCache создаёт процессный кэш токена.
func NewMemoryTokenCache() TokenCache {
	return &memoryTokenCache{now: func() time.Time { return time.Now().UTC() }}
}

func (c *memoryTokenCache) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || !c.now().Before(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

func (c *memoryTokenCache) Put(token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = expiresAt
}

// Client — REST-клиент перевозчика; авторизуется по email/паролю и
// переиспользует токен через TokenCache.
type Client struct {
	baseURL    string
	email      string
	password   string
	pickup     string
	tokens     TokenCache
	httpClient *http.Client
	logger     *log.Entry

	// loginMu не даёт конкурентным запросам устроить шторм логинов.
	loginMu sync.Mutex
	now     func() time.Time
}

// Config задаёт учётные данные и сетевые параметры клиента.
type Config struct {
	BaseURL  string
	Email    string
	Password string
	// PickupLocation — имя точки забора, зарегистрированной у перевозчика.
	PickupLocation string
	TokenCache     TokenCache
	Timeout        time.Duration
	HTTPClient     *http.Client
	Logger         *log.Entry
}

// NewClient создаёт клиента перевозчика.
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
	tokens := cfg.TokenCache
	if tokens == nil {
		tokens = NewMemoryTokenCache()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "shiprocket-client")
	}
	pickup := cfg.PickupLocation
	if pickup == "" {
		pickup = "Primary"
	}

	return &Client{
		baseURL:    baseURL,
		email:      cfg.Email,
		password:   cfg.Password,
		pickup:     pickup,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type shipmentItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int32  `json:"units"`
	SellingPrice string `json:"selling_price"`
	Discount     string `json:"discount,omitempty"`
}

type shipmentRequest struct {
	OrderID           string         `json:"order_id"`
	OrderDate         string         `json:"order_date"`
	PickupLocation    string         `json:"pickup_location"`
	BillingName       string         `json:"billing_customer_name"`
	BillingAddress    string         `json:"billing_address"`
	BillingCity       string         `json:"billing_city"`
	BillingState      string         `json:"billing_state"`
	BillingPincode    string         `json:"billing_pincode"`
	BillingCountry    string         `json:"billing_country"`
	BillingPhone      string         `json:"billing_phone"`
	ShippingIsBilling bool           `json:"shipping_is_billing"`
	ShippingName      string         `json:"shipping_customer_name,omitempty"`
	ShippingAddress   string         `json:"shipping_address,omitempty"`
	ShippingCity      string         `json:"shipping_city,omitempty"`
	ShippingState     string         `json:"shipping_state,omitempty"`
	ShippingPincode   string         `json:"shipping_pincode,omitempty"`
	ShippingCountry   string         `json:"shipping_country,omitempty"`
	ShippingPhone     string         `json:"shipping_phone,omitempty"`
	OrderItems        []shipmentItem `json:"order_items"`
	PaymentMethod     string         `json:"payment_method"`
	SubTotal          string         `json:"sub_total"`
	Length            int32          `json:"length"`
	Breadth           int32          `json:"breadth"`
	Height            int32          `json:"height"`
	Weight            float64        `json:"weight"`
}

type shipmentResponse struct {
	ShipmentID  json.Number `json:"shipment_id"`
	AWBCode     string      `json:"awb_code"`
	CourierName string      `json:"courier_name"`
}

// CreateShipment регистрирует отправление у перевозчика. Нулевые
// габариты заменяются дефолтами.
func (c *Client) CreateShipment(ctx context.Context, order domain.Order) (domain.Shipment, error) {
	req := buildShipmentRequest(order, c.pickup)

	var resp shipmentResponse
	if err := c.doAuthorized(ctx, http.MethodPost, "/orders/create/adhoc", req, &resp); err != nil {
		return domain.Shipment{}, fmt.Errorf("shiprocket create shipment: %w", err)
	}

	return domain.Shipment{
		ShipmentID:  resp.ShipmentID.String(),
		WaybillCode: resp.AWBCode,
		Courier:     resp.CourierName,
	}, nil
}

func buildShipmentRequest(order domain.Order, pickup string) shipmentRequest {
	items := make([]shipmentItem, 0, len(order.Items))
	for _, item := range order.Items {
		line := shipmentItem{
			Name:         item.SKU,
			SKU:          item.SKU,
			Units:        item.Qty,
			SellingPrice: minorToDecimal(item.DiscountedUnitPriceMinor),
		}
		if discount := item.UnitPriceMinor - item.DiscountedUnitPriceMinor; discount > 0 {
			line.Discount = minorToDecimal(discount)
		}
		items = append(items, line)
	}

	paymentMethod := "Prepaid"
	if order.PaymentMethod == domain.PaymentMethodCOD {
		paymentMethod = "COD"
	}

	billing := order.BillingAddress
	shipping := order.ShippingAddress
	sameAddress := order.BillingSameAsShipping || billing == shipping

	req := shipmentRequest{
		OrderID:           order.Code,
		OrderDate:         order.CreatedAt.Format("2006-01-02 15:04"),
		PickupLocation:    pickup,
		BillingName:       billing.Name,
		BillingAddress:    billing.Line1,
		BillingCity:       billing.City,
		BillingState:      billing.State,
		BillingPincode:    billing.PostCode,
		BillingCountry:    billing.Country,
		BillingPhone:      billing.Phone,
		ShippingIsBilling: sameAddress,
		OrderItems:        items,
		PaymentMethod:     paymentMethod,
		SubTotal:          minorToDecimal(order.GrandTotalMinor),
		Length:            defaultDimensionCm,
		Breadth:           defaultDimensionCm,
		Height:            defaultDimensionCm,
		Weight:            defaultWeightKg,
	}
	if !sameAddress {
		req.ShippingName = shipping.Name
		req.ShippingAddress = shipping.Line1
		req.ShippingCity = shipping.City
		req.ShippingState = shipping.State
		req.ShippingPincode = shipping.PostCode
		req.ShippingCountry = shipping.Country
		req.ShippingPhone = shipping.Phone
	}
	return req
}

// minorToDecimal форматирует сумму в главных единицах с двумя знаками.
func minorToDecimal(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return sign + strconv.FormatInt(minor/100, 10) + "." + fmt.Sprintf("%02d", minor%100)
}

// token возвращает валидный токен, логинясь при промахе кэша. Логин
// сериализован: под loginMu кэш перечитывается, чтобы не дублировать
// запрос, выполненный соседней горутиной.
func (c *Client) token(ctx context.Context) (string, error) {
	if token, ok := c.tokens.Get(); ok {
		return token, nil
	}

	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	if token, ok := c.tokens.Get(); ok {
		return token, nil
	}

	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", loginRequest{Email: c.email, Password: c.password}, &resp); err != nil {
		return "", fmt.Errorf("shiprocket login: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("shiprocket login: empty token in response")
	}

	c.tokens.Put(resp.Token, c.now().Add(tokenTTL-tokenSafetyGap))
	c.logger.Info("carrier token refreshed")
	return resp.Token, nil
}

// doAuthorized выполняет запрос с токеном; на 401 сбрасывает кэш и
// повторяет один раз со свежим токеном.
func (c *Client) doAuthorized(ctx context.Context, method, path string, body, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	err = c.do(ctx, method, path, token, body, out)
	if isUnauthorized(err) {
		c.tokens.Put("", time.Time{})
		token, tokenErr := c.token(ctx)
		if tokenErr != nil {
			return tokenErr
		}
		return c.do(ctx, method, path, token, body, out)
	}
	return err
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("provider responded %d: %s", e.status, e.body)
	}
	return fmt.Sprintf("provider responded %d", e.status)
}

func isUnauthorized(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status == http.StatusUnauthorized
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
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
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
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
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
