package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem is the only cart line shape seen outside the cart repository.
type CartItem struct {
	ProductID            string `json:"product_id"`
	Quantity             int    `json:"quantity"`
	CachedUnitPriceMinor int64  `json:"cached_unit_price_minor,omitempty"`
}

// CartLine is a line as persisted. Rows written before the minor-unit
// migration carry productId/qty and a price in paise or in major units.
type CartLine struct {
	ProductID            string `json:"product_id,omitempty"`
	Quantity             int    `json:"quantity,omitempty"`
	CachedUnitPriceMinor int64  `json:"cached_unit_price_minor,omitempty"`

	LegacyProductID    string           `json:"productId,omitempty"`
	LegacyQty          int              `json:"qty,omitempty"`
	LegacyPriceInPaise int64            `json:"priceInPaise,omitempty"`
	LegacyPrice        *decimal.Decimal `json:"price,omitempty"`
}

type Cart struct {
	UserID    string     `gorm:"primaryKey;size:64;not null" json:"user_id"`
	Lines     []CartLine `gorm:"column:items;type:text;serializer:json" json:"-"`
	Items     []CartItem `gorm:"-" json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}
