package http

import (
	"time"

	"github.com/amorozov/storefront/internal/domain"
	"github.com/amorozov/storefront/internal/service/cart"
	"github.com/amorozov/storefront/internal/service/coupon"
	"github.com/amorozov/storefront/internal/service/lifecycle"
)

type addressDTO struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city"`
	State    string `json:"state"`
	PostCode string `json:"postCode"`
	Country  string `json:"country"`
}

func (a addressDTO) toDomain() domain.Address {
	return domain.Address{
		Name:     a.Name,
		Phone:    a.Phone,
		Line1:    a.Line1,
		Line2:    a.Line2,
		City:     a.City,
		State:    a.State,
		PostCode: a.PostCode,
		Country:  a.Country,
	}
}

func addressFromDomain(a domain.Address) addressDTO {
	return addressDTO{
		Name:     a.Name,
		Phone:    a.Phone,
		Line1:    a.Line1,
		Line2:    a.Line2,
		City:     a.City,
		State:    a.State,
		PostCode: a.PostCode,
		Country:  a.Country,
	}
}

type orderItemDTO struct {
	ProductID                string `json:"productId"`
	SKU                      string `json:"sku"`
	Qty                      int32  `json:"qty"`
	UnitPriceMinor           int64  `json:"unitPriceMinor"`
	DiscountedUnitPriceMinor int64  `json:"discountedUnitPriceMinor"`
}

type trackingEventDTO struct {
	Status   string    `json:"status"`
	Location string    `json:"location,omitempty"`
	Activity string    `json:"activity,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type orderDTO struct {
	ID                   string             `json:"id"`
	Code                 string             `json:"code"`
	Items                []orderItemDTO     `json:"items"`
	ShippingAddress      addressDTO         `json:"shippingAddress"`
	BillingAddress       addressDTO         `json:"billingAddress"`
	SubtotalMinor        int64              `json:"subtotalMinor"`
	ProductDiscountMinor int64              `json:"productDiscountMinor"`
	CouponDiscountMinor  int64              `json:"couponDiscountMinor"`
	ShippingFeeMinor     int64              `json:"shippingFeeMinor"`
	GrandTotalMinor      int64              `json:"grandTotalMinor"`
	CouponCode           string             `json:"couponCode,omitempty"`
	PaymentMethod        string             `json:"paymentMethod"`
	PaymentStatus        string             `json:"paymentStatus"`
	PaymentAttempts      int                `json:"paymentAttempts"`
	Status               string             `json:"status"`
	WaybillCode          string             `json:"waybillCode,omitempty"`
	StatusHistory        []trackingEventDTO `json:"statusHistory,omitempty"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

func orderToDTO(order domain.Order) orderDTO {
	items := make([]orderItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDTO{
			ProductID:                item.ProductID,
			SKU:                      item.SKU,
			Qty:                      item.Qty,
			UnitPriceMinor:           item.UnitPriceMinor,
			DiscountedUnitPriceMinor: item.DiscountedUnitPriceMinor,
		})
	}
	history := make([]trackingEventDTO, 0, len(order.StatusHistory))
	for _, ev := range order.StatusHistory {
		history = append(history, trackingEventDTO{
			Status:   ev.Status,
			Location: ev.Location,
			Activity: ev.Activity,
			Occurred: ev.Occurred,
		})
	}
	return orderDTO{
		ID:                   order.ID,
		Code:                 order.Code,
		Items:                items,
		ShippingAddress:      addressFromDomain(order.ShippingAddress),
		BillingAddress:       addressFromDomain(order.BillingAddress),
		SubtotalMinor:        order.SubtotalMinor,
		ProductDiscountMinor: order.ProductDiscountMinor,
		CouponDiscountMinor:  order.CouponDiscountMinor,
		ShippingFeeMinor:     order.ShippingFeeMinor,
		GrandTotalMinor:      order.GrandTotalMinor,
		CouponCode:           order.CouponCode,
		PaymentMethod:        string(order.PaymentMethod),
		PaymentStatus:        string(order.PaymentStatus),
		PaymentAttempts:      order.PaymentAttempts,
		Status:               string(order.Status),
		WaybillCode:          order.WaybillCode,
		StatusHistory:        history,
		CreatedAt:            order.CreatedAt,
		UpdatedAt:            order.UpdatedAt,
	}
}

type sessionDTO struct {
	GatewayOrderID string    `json:"gatewayOrderId"`
	AmountMinor    int64     `json:"amountMinor"`
	Currency       string    `json:"currency"`
	Attempt        int       `json:"attempt"`
	TimeoutAt      time.Time `json:"timeoutAt"`
}

func sessionToDTO(s lifecycle.GatewaySession) sessionDTO {
	return sessionDTO{
		GatewayOrderID: s.GatewayOrderID,
		AmountMinor:    s.AmountMinor,
		Currency:       s.Currency,
		Attempt:        s.Attempt,
		TimeoutAt:      s.TimeoutAt,
	}
}

type cartItemDTO struct {
	ProductID       string    `json:"productId"`
	Qty             int32     `json:"qty"`
	PriceAtAddMinor int64     `json:"priceAtAddMinor"`
	AddedAt         time.Time `json:"addedAt"`
}

type cartDTO struct {
	Items                []cartItemDTO `json:"items"`
	CouponCode           string        `json:"couponCode,omitempty"`
	SubtotalMinor        int64         `json:"subtotalMinor"`
	ProductDiscountMinor int64         `json:"productDiscountMinor"`
	CouponDiscountMinor  int64         `json:"couponDiscountMinor"`
	GrandTotalMinor      int64         `json:"grandTotalMinor"`
}

func cartViewToDTO(view cart.View) cartDTO {
	items := make([]cartItemDTO, 0, len(view.Cart.Items))
	for _, item := range view.Cart.Items {
		items = append(items, cartItemDTO{
			ProductID:       item.ProductID,
			Qty:             item.Qty,
			PriceAtAddMinor: item.PriceAtAddMinor,
			AddedAt:         item.AddedAt,
		})
	}
	dto := cartDTO{
		Items:                items,
		SubtotalMinor:        view.Totals.SubtotalMinor,
		ProductDiscountMinor: view.Totals.ProductDiscountMinor,
		CouponDiscountMinor:  view.Totals.CouponDiscountMinor,
		GrandTotalMinor:      view.Totals.GrandTotalMinor,
	}
	if view.Cart.Coupon != nil {
		dto.CouponCode = view.Cart.Coupon.Code
	}
	return dto
}

type quoteDTO struct {
	Code            string `json:"code"`
	SubtotalMinor   int64  `json:"subtotalMinor"`
	ApplicableMinor int64  `json:"applicableMinor"`
	DiscountMinor   int64  `json:"discountMinor"`
	NewTotalMinor   int64  `json:"newTotalMinor"`
}

func quoteToDTO(q coupon.Quote) quoteDTO {
	return quoteDTO{
		Code:            q.Coupon.Code,
		SubtotalMinor:   q.SubtotalMinor,
		ApplicableMinor: q.ApplicableMinor,
		DiscountMinor:   q.DiscountMinor,
		NewTotalMinor:   q.NewTotalMinor,
	}
}
