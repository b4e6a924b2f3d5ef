package model

import "time"

type OrderStatus string

const (
	OrderStatusCreated        OrderStatus = "created"
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusFailed         OrderStatus = "failed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// OpenOrderStatuses are the states a finalize, fail or cancel may start from.
var OpenOrderStatuses = []OrderStatus{OrderStatusCreated, OrderStatusPendingPayment}

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusCreated:
		return next == OrderStatusPendingPayment || next.IsTerminal()
	case OrderStatusPendingPayment:
		return next.IsTerminal()
	}
	return false
}

// Finalization sources recorded in order metadata.
const (
	SourceClient    = "client"
	SourceWebhook   = "webhook"
	SourceReconcile = "reconcile"
)

// OrderItem is a priced line frozen at checkout time.
type OrderItem struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	Quantity       int    `json:"quantity"`
}

func (i OrderItem) LineTotal() int64 {
	return i.UnitPriceMinor * int64(i.Quantity)
}

type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone"`
}

// MissingFields lists the required address fields that are blank.
func (a ShippingAddress) MissingFields() []string {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"full_name", a.FullName},
		{"line1", a.Line1},
		{"city", a.City},
		{"postal_code", a.PostalCode},
		{"phone", a.Phone},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// PriceResolution records where a line's unit price came from.
type PriceResolution struct {
	ProductID      string `json:"product_id"`
	Source         string `json:"source"` // catalog | cached | dropped
	UnitPriceMinor int64  `json:"unit_price_minor,omitempty"`
}

type OrderMetadata struct {
	PriceResolution []PriceResolution `json:"price_resolution,omitempty"`
	StaleLines      int               `json:"stale_lines,omitempty"`
	FinalizedBy     string            `json:"finalized_by,omitempty"`
	Reconciled      bool              `json:"reconciled,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	IntentError     string            `json:"intent_error,omitempty"`
}

type Order struct {
	ID               string          `gorm:"primaryKey;size:36;not null" json:"id"`
	UserID           string          `gorm:"size:64;index;not null" json:"user_id"`
	Items            []OrderItem     `gorm:"type:text;serializer:json;not null" json:"items"`
	AmountMinor      int64           `gorm:"not null" json:"amount_minor"`
	Currency         string          `gorm:"size:8;not null" json:"currency"`
	Receipt          string          `gorm:"size:40;uniqueIndex;not null" json:"receipt"`
	GatewayIntentID  *string         `gorm:"size:64;uniqueIndex" json:"gateway_intent_id,omitempty"`
	GatewayPaymentID string          `gorm:"size:64" json:"gateway_payment_id,omitempty"`
	GatewaySignature string          `gorm:"size:128" json:"-"`
	Status           OrderStatus     `gorm:"size:32;not null;index:idx_orders_status_created,priority:1" json:"status"`
	ShippingAddress  ShippingAddress `gorm:"type:text;serializer:json" json:"shipping_address"`
	Metadata         OrderMetadata   `gorm:"type:text;serializer:json" json:"metadata"`
	CartCleared      bool            `gorm:"not null" json:"-"`
	LastReconciledAt *time.Time      `gorm:"index" json:"-"`
	CreatedAt        time.Time       `gorm:"index:idx_orders_status_created,priority:2" json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (o *Order) IntentID() string {
	if o.GatewayIntentID == nil {
		return ""
	}
	return *o.GatewayIntentID
}

func (o *Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	return ids
}
