package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/amorozov/storefront/internal/domain"
)

// envelope — единый формат ответа API.
type envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Data      any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	status, code := mapError(err)
	writeJSON(w, status, envelope{Success: false, Message: err.Error(), ErrorCode: code})
}

// mapError переводит доменную ошибку в HTTP-статус и машинный код.
func mapError(err error) (int, string) {
	switch {
	case domain.IsInsufficientStock(err):
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "ORDER_NOT_FOUND"
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, "PRODUCT_NOT_FOUND"
	case errors.Is(err, domain.ErrCartNotFound):
		return http.StatusNotFound, "CART_NOT_FOUND"
	case errors.Is(err, domain.ErrCouponNotFound):
		return http.StatusNotFound, "COUPON_NOT_FOUND"
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusUnprocessableEntity, "EMPTY_CART"
	case errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrCustomerRequired),
		errors.Is(err, domain.ErrPaymentMethodInvalid):
		return http.StatusUnprocessableEntity, "VALIDATION_FAILED"
	case errors.Is(err, domain.ErrCouponInactive),
		errors.Is(err, domain.ErrCouponNotYetActive),
		errors.Is(err, domain.ErrCouponExpired),
		errors.Is(err, domain.ErrCouponUsageLimit),
		errors.Is(err, domain.ErrCouponMinimumOrder),
		errors.Is(err, domain.ErrCouponNotApplicable):
		return http.StatusUnprocessableEntity, "COUPON_NOT_ELIGIBLE"
	case errors.Is(err, domain.ErrAlreadyPaid):
		return http.StatusConflict, "ALREADY_PAID"
	case errors.Is(err, domain.ErrOrderExpired):
		return http.StatusConflict, "ORDER_EXPIRED"
	case errors.Is(err, domain.ErrRetryNotAllowed):
		return http.StatusConflict, "RETRY_NOT_ALLOWED"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, domain.ErrOrderVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT"
	case errors.Is(err, domain.ErrSignatureMismatch):
		return http.StatusBadRequest, "SIGNATURE_MISMATCH"
	case errors.Is(err, domain.ErrPaymentAmountMismatch):
		return http.StatusBadRequest, "AMOUNT_MISMATCH"
	case errors.Is(err, domain.ErrGatewayUnavailable),
		errors.Is(err, domain.ErrCarrierUnavailable):
		return http.StatusBadGateway, "UPSTREAM_FAILURE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
