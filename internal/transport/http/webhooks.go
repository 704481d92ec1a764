package http

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
	"github.com/amorozov/storefront/internal/gateway/razorpay"
	"github.com/amorozov/storefront/internal/metrics"
	"github.com/amorozov/storefront/internal/redisx"
	"github.com/amorozov/storefront/internal/service/lifecycle"
)

const gatewaySignatureHeader = "X-Razorpay-Signature"

// carrierTokenHeaders перечисляет заголовки, в которых перевозчик передаёт
// свой webhook-токен; интеграции провайдера непоследовательны между версиями.
var carrierTokenHeaders = []string{"X-Api-Key", "X-Webhook-Token", "Authorization"}

// WebhookHandler принимает callbacks провайдеров. После успешной
// аутентификации ответ всегда 200: провайдеры трактуют не-2xx как сбой
// и зацикливают ретраи, а внутренние ошибки здесь не вина отправителя.
type WebhookHandler struct {
	lifecycle *lifecycle.Orchestrator
	gateway   *razorpay.Client
	deduper   *redisx.Deduper
	metrics   *metrics.LifecycleMetrics

	carrierToken string
	logger       *log.Entry
}

// NewWebhookHandler создаёт handler webhook-эндпоинтов.
func NewWebhookHandler(orch *lifecycle.Orchestrator, gateway *razorpay.Client, deduper *redisx.Deduper, m *metrics.LifecycleMetrics, carrierToken string, logger *log.Entry) *WebhookHandler {
	if logger == nil {
		logger = log.WithField("component", "webhook-handler")
	}
	return &WebhookHandler{
		lifecycle:    orch,
		gateway:      gateway,
		deduper:      deduper,
		metrics:      m,
		carrierToken: carrierToken,
		logger:       logger,
	}
}

// Register вешает webhook-маршруты на router.
func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/razorpay", h.gatewayWebhook)
	r.Post("/shiprocket", h.carrierWebhook)
}

func (h *WebhookHandler) gatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.record("gateway", "read_error")
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "cannot read body", ErrorCode: "BAD_BODY"})
		return
	}

	if !h.gateway.VerifyWebhookSignature(body, r.Header.Get(gatewaySignatureHeader)) {
		h.record("gateway", "auth_failed")
		writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "invalid webhook signature", ErrorCode: "SIGNATURE_MISMATCH"})
		return
	}

	// Отправитель аутентифицирован: дальше только 200.
	event, err := razorpay.ParseWebhook(body)
	if err != nil {
		h.record("gateway", "bad_payload")
		h.logger.WithError(err).Warn("malformed gateway webhook payload")
		writeData(w, http.StatusOK, nil)
		return
	}

	seen, err := h.deduper.Seen(r.Context(), "razorpay", event.EventID)
	if err != nil {
		h.logger.WithError(err).Warn("webhook dedup check failed, processing anyway")
	}
	if seen {
		h.record("gateway", "duplicate")
		writeData(w, http.StatusOK, nil)
		return
	}

	if err := h.lifecycle.ApplyGatewayEvent(r.Context(), lifecycle.GatewayEvent{
		Name:             event.Name,
		EventID:          event.EventID,
		GatewayOrderID:   event.GatewayOrderID,
		GatewayPaymentID: event.GatewayPaymentID,
		AmountMinor:      event.AmountMinor,
		CustomerEmail:    event.Email,
	}); err != nil {
		h.record("gateway", "apply_error")
		h.logger.WithError(err).WithField("event", event.Name).Warn("gateway webhook not applied")
	}
	writeData(w, http.StatusOK, nil)
}

type carrierWebhookPayload struct {
	AWB           string      `json:"awb"`
	ShipmentID    json.Number `json:"shipment_id"`
	OrderID       string      `json:"order_id"`
	CurrentStatus string      `json:"current_status"`
	Courier       string      `json:"courier_name"`
	Scans         []struct {
		Status   string `json:"status"`
		Location string `json:"location"`
		Activity string `json:"activity"`
		Date     string `json:"date"`
	} `json:"scans"`
}

func (h *WebhookHandler) carrierWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.carrierAuthorized(r) {
		h.record("carrier", "auth_failed")
		writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "invalid webhook token", ErrorCode: "UNAUTHENTICATED"})
		return
	}

	var payload carrierWebhookPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
		h.record("carrier", "bad_payload")
		h.logger.WithError(err).Warn("malformed carrier webhook payload")
		writeData(w, http.StatusOK, nil)
		return
	}

	update := lifecycle.CarrierStatusUpdate{
		Waybill:    payload.AWB,
		ShipmentID: payload.ShipmentID.String(),
		OrderCode:  payload.OrderID,
		Status:     payload.CurrentStatus,
		Courier:    payload.Courier,
		Scans:      carrierScans(payload),
	}

	if err := h.lifecycle.ApplyCarrierStatus(r.Context(), update); err != nil {
		h.record("carrier", "apply_error")
		h.logger.WithError(err).WithFields(log.Fields{
			"awb":    payload.AWB,
			"status": payload.CurrentStatus,
		}).Warn("carrier webhook not applied")
	}
	writeData(w, http.StatusOK, nil)
}

// carrierAuthorized сверяет webhook-токен из любого из известных мест
// за постоянное время.
func (h *WebhookHandler) carrierAuthorized(r *http.Request) bool {
	if h.carrierToken == "" {
		return false
	}
	candidates := make([]string, 0, len(carrierTokenHeaders)+1)
	for _, header := range carrierTokenHeaders {
		if v := r.Header.Get(header); v != "" {
			candidates = append(candidates, v)
		}
	}
	if v := r.URL.Query().Get("token"); v != "" {
		candidates = append(candidates, v)
	}
	for _, candidate := range candidates {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(h.carrierToken)) == 1 {
			return true
		}
	}
	return false
}

func carrierScans(payload carrierWebhookPayload) []domain.TrackingEvent {
	scans := make([]domain.TrackingEvent, 0, len(payload.Scans))
	for _, scan := range payload.Scans {
		scans = append(scans, domain.TrackingEvent{
			Status:   scan.Status,
			Location: scan.Location,
			Activity: scan.Activity,
			Occurred: parseScanTime(scan.Date),
		})
	}
	return scans
}

// scanTimeLayouts - форматы дат, встречающиеся в трекинг-сканах перевозчика.
var scanTimeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseScanTime(raw string) time.Time {
	for _, layout := range scanTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (h *WebhookHandler) record(provider, result string) {
	if h.metrics != nil {
		h.metrics.RecordWebhookEvent(provider, result)
	}
}
