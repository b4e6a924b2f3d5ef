package model

// Webhook event names that settle an order.
const (
	WebhookPaymentCaptured   = "payment.captured"
	WebhookPaymentAuthorized = "payment.authorized"
	WebhookOrderPaid         = "order.paid"
	WebhookPaymentFailed     = "payment.failed"
)

type RazorpayPaymentEntity struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Method   string `json:"method"`
}

type RazorpayOrderEntity struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Receipt string `json:"receipt"`
	Amount  int64  `json:"amount"`
}

type RazorpayPaymentWrapper struct {
	Entity RazorpayPaymentEntity `json:"entity"`
}

type RazorpayOrderWrapper struct {
	Entity RazorpayOrderEntity `json:"entity"`
}

type RazorpayWebhookPayload struct {
	Payment *RazorpayPaymentWrapper `json:"payment,omitempty"`
	Order   *RazorpayOrderWrapper   `json:"order,omitempty"`
}

type RazorpayWebhookEvent struct {
	Entity    string                 `json:"entity"`
	AccountID string                 `json:"account_id"`
	Event     string                 `json:"event"`
	Contains  []string               `json:"contains"`
	Payload   RazorpayWebhookPayload `json:"payload"`
	CreatedAt int64                  `json:"created_at"`
}

// IntentID returns the gateway order id the event refers to.
func (e *RazorpayWebhookEvent) IntentID() string {
	if e.Payload.Payment != nil && e.Payload.Payment.Entity.OrderID != "" {
		return e.Payload.Payment.Entity.OrderID
	}
	if e.Payload.Order != nil {
		return e.Payload.Order.Entity.ID
	}
	return ""
}

func (e *RazorpayWebhookEvent) PaymentID() string {
	if e.Payload.Payment != nil {
		return e.Payload.Payment.Entity.ID
	}
	return ""
}
