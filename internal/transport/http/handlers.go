package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/amorozov/storefront/internal/domain"
	"github.com/amorozov/storefront/internal/service/cart"
	"github.com/amorozov/storefront/internal/service/coupon"
	"github.com/amorozov/storefront/internal/service/lifecycle"
)

// customerHeader несёт идентификатор аутентифицированного покупателя;
// его проставляет вышестоящий слой аутентификации.
const customerHeader = "X-Customer-ID"

// Handler обслуживает покупательское API жизненного цикла заказа.
type Handler struct {
	lifecycle *lifecycle.Orchestrator
	carts     *cart.Service
	coupons   *coupon.Validator
	orders    domain.OrderRepository
	logger    *log.Entry
}

// NewHandler создаёт HTTP-handler покупательского API.
func NewHandler(orch *lifecycle.Orchestrator, carts *cart.Service, coupons *coupon.Validator, orders domain.OrderRepository, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-handler")
	}
	return &Handler{
		lifecycle: orch,
		carts:     carts,
		coupons:   coupons,
		orders:    orders,
		logger:    logger,
	}
}

// Register вешает маршруты покупательского API на router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/checkout", h.checkout)

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Get("/{orderID}", h.getOrder)
		r.Post("/{orderID}/cancel", h.cancelOrder)
		r.Post("/{orderID}/return", h.returnOrder)
		r.Post("/{orderID}/payment", h.createPayment)
		r.Post("/{orderID}/payment/verify", h.verifyPayment)
		r.Post("/{orderID}/payment/retry", h.retryPayment)
	})

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.getCart)
		r.Delete("/", h.clearCart)
		r.Post("/items", h.addCartItem)
		r.Put("/items/{productID}", h.updateCartItem)
		r.Delete("/items/{productID}", h.removeCartItem)
	})

	r.Route("/coupons", func(r chi.Router) {
		r.Post("/validate", h.validateCoupon)
		r.Post("/apply", h.applyCoupon)
	})
}

func customerID(r *http.Request) string {
	return r.Header.Get(customerHeader)
}

// requireCustomer достаёт покупателя из запроса; пустой заголовок — 401.
func (h *Handler) requireCustomer(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := customerID(r)
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "customer is not authenticated", ErrorCode: "UNAUTHENTICATED"})
		return "", false
	}
	return id, true
}

type checkoutRequest struct {
	ShippingAddress       addressDTO `json:"shippingAddress"`
	BillingAddress        addressDTO `json:"billingAddress"`
	BillingSameAsShipping bool       `json:"billingSameAsShipping"`
	PaymentMethod         string     `json:"paymentMethod"`
	CustomerEmail         string     `json:"customerEmail"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid json body", ErrorCode: "BAD_JSON"})
		return
	}

	order, err := h.lifecycle.PlaceOrder(r.Context(), customer, lifecycle.PlaceOrderInput{
		ShippingAddress:       req.ShippingAddress.toDomain(),
		BillingAddress:        req.BillingAddress.toDomain(),
		BillingSameAsShipping: req.BillingSameAsShipping,
		PaymentMethod:         domain.PaymentMethod(req.PaymentMethod),
		CustomerEmail:         req.CustomerEmail,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, orderToDTO(order))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.ListByCustomer(customer, 50)
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]orderDTO, 0, len(orders))
	for _, order := range orders {
		dtos = append(dtos, orderToDTO(order))
	}
	writeData(w, http.StatusOK, dtos)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetForCustomer(customer, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, orderToDTO(order))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	order, err := h.lifecycle.Cancel(r.Context(), customer, chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, orderToDTO(order))
}

func (h *Handler) returnOrder(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	order, err := h.lifecycle.Return(r.Context(), customer, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, orderToDTO(order))
}

// ownOrder убеждается, что заказ принадлежит покупателю, до любых
// платёжных операций.
func (h *Handler) ownOrder(w http.ResponseWriter, r *http.Request) (string, bool) {
	customer, ok := h.requireCustomer(w, r)
	if !ok {
		return "", false
	}
	orderID := chi.URLParam(r, "orderID")
	if _, err := h.orders.GetForCustomer(customer, orderID); err != nil {
		writeError(w, err)
		return "", false
	}
	return orderID, true
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.ownOrder(w, r)
	if !ok {
		return
	}

	session, err := h.lifecycle.CreateGatewayOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, sessionToDTO(session))
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"razorpayOrderId"`
	GatewayPaymentID string `json:"razorpayPaymentId"`
	Signature        string `json:"razorpaySignature"`
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.ownOrder(w, r)
	if !ok {
		return
	}

	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid json body", ErrorCode: "BAD_JSON"})
		return
	}

	order, err := h.lifecycle.VerifyPayment(r.Context(), orderID, lifecycle.VerifyPaymentInput{
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, orderToDTO(order))
}

func (h *Handler) retryPayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.ownOrder(w, r)
	if !ok {
		return
	}

	session, err := h.lifecycle.RetryPayment(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, sessionToDTO(session))
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	view, err := h.carts.Get(customer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, cartViewToDTO(view))
}

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Qty       int32  `json:"qty"`
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	var req cartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid json body", ErrorCode: "BAD_JSON"})
		return
	}

	view, err := h.carts.AddItem(customer, req.ProductID, req.Qty)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, cartViewToDTO(view))
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	var req struct {
		Qty int32 `json:"qty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid json body", ErrorCode: "BAD_JSON"})
		return
	}

	view, err := h.carts.UpdateQty(customer, chi.URLParam(r, "productID"), req.Qty)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, cartViewToDTO(view))
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	view, err := h.carts.RemoveItem(customer, chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, cartViewToDTO(view))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(customer); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

type couponRequest struct {
	Code string `json:"code"`
}

func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	var req couponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid json body", ErrorCode: "BAD_JSON"})
		return
	}

	quote, err := h.coupons.Validate(customer, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, quoteToDTO(quote))
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	customer, ok := h.requireCustomer(w, r)
	if !ok {
		return
	}

	var req couponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid json body", ErrorCode: "BAD_JSON"})
		return
	}

	quote, err := h.coupons.Apply(customer, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, quoteToDTO(quote))
}
