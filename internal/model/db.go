package model

import "time"

type Product struct {
	ID         string `gorm:"primaryKey;size:64;not null"` // product sku
	Name       string `gorm:"size:255;not null"`
	PriceMinor int64  `gorm:"not null"`
	Currency   string `gorm:"size:8;not null"`
	Active     bool   `gorm:"not null;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:128;not null"`
	EventType   string `gorm:"size:64;index"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}
