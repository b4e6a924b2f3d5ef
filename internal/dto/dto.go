package dto

import (
	"checkout-payments/internal/client"
	"checkout-payments/internal/model"
	"checkout-payments/internal/service"
)

type ShippingAddress struct {
	FullName   string `json:"fullName"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

func (a ShippingAddress) ToModel() model.ShippingAddress {
	return model.ShippingAddress{
		FullName:   a.FullName,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

// CreateOrderRequest carries no amount; the total always comes from the cart.
type CreateOrderRequest struct {
	ShippingAddress ShippingAddress `json:"shippingAddress"`
}

type CreateOrderResponse struct {
	Success       bool           `json:"success"`
	Order         *model.Order   `json:"order"`
	GatewayIntent *client.Intent `json:"gatewayIntent"`
	KeyID         string         `json:"keyId"`
}

// VerifyPaymentRequest accepts both our field names and the ones the
// Razorpay checkout callback posts as-is.
type VerifyPaymentRequest struct {
	IntentID  string `json:"intentId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`

	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func (r VerifyPaymentRequest) Input() service.VerifyInput {
	in := service.VerifyInput{IntentID: r.IntentID, PaymentID: r.PaymentID, Signature: r.Signature}
	if in.IntentID == "" {
		in.IntentID = r.RazorpayOrderID
	}
	if in.PaymentID == "" {
		in.PaymentID = r.RazorpayPaymentID
	}
	if in.Signature == "" {
		in.Signature = r.RazorpaySignature
	}
	return in
}

type CancelOrderRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

type OrderResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Order   *model.Order `json:"order"`
}

type OrdersResponse struct {
	Success bool           `json:"success"`
	Orders  []*model.Order `json:"orders"`
}

type PaymentsQuery struct {
	Status string `query:"status" validate:"omitempty,oneof=created pending_payment paid failed cancelled"`
	Limit  int    `query:"limit" validate:"omitempty,min=1,max=500"`
}

type PaymentsResponse struct {
	Success  bool                        `json:"success"`
	Payments []*model.Order              `json:"payments"`
	Total    int                         `json:"total"`
	ByStatus map[model.OrderStatus]int64 `json:"byStatus"`
}

type ReconcileResponse struct {
	Success bool                 `json:"success"`
	Report  *service.SweepReport `json:"report"`
}

type AddCartItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type CartResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Cart    *model.Cart `json:"cart"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}
