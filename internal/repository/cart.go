package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-payments/internal/model"
	"checkout-payments/internal/money"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CartRepository stores one cart row per user. Reads always return
// canonical model.CartItem lines; legacy line shapes are converted here.
type CartRepository interface {
	Get(ctx context.Context, userID string) (*model.Cart, error)
	Save(ctx context.Context, cart *model.Cart) error
	Clear(ctx context.Context, userID string) error
}

type cartRepoImpl struct {
	db *gorm.DB
}

func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepoImpl{
		db: db,
	}
}

// Get returns an empty cart when the user has none yet.
func (r *cartRepoImpl) Get(ctx context.Context, userID string) (*model.Cart, error) {
	var cart model.Cart
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&cart).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.Cart{UserID: userID, Items: []model.CartItem{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	cart.Items = make([]model.CartItem, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		cart.Items = append(cart.Items, NormalizeCartLine(line))
	}
	cart.Lines = nil

	return &cart, nil
}

func (r *cartRepoImpl) Save(ctx context.Context, cart *model.Cart) error {
	lines := make([]model.CartLine, 0, len(cart.Items))
	for _, it := range cart.Items {
		lines = append(lines, model.CartLine{
			ProductID:            it.ProductID,
			Quantity:             it.Quantity,
			CachedUnitPriceMinor: it.CachedUnitPriceMinor,
		})
	}

	row := &model.Cart{
		UserID:    cart.UserID,
		Lines:     lines,
		UpdatedAt: time.Now().UTC(),
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"items", "updated_at"}),
		}).
		Create(row).Error
}

// Clear empties the cart; the row itself is kept.
func (r *cartRepoImpl) Clear(ctx context.Context, userID string) error {
	return r.Save(ctx, &model.Cart{UserID: userID, Items: []model.CartItem{}})
}

// NormalizeCartLine maps any stored line shape to a CartItem. A line whose
// product or quantity cannot be read keeps zero values so that callers drop it.
func NormalizeCartLine(l model.CartLine) model.CartItem {
	item := model.CartItem{
		ProductID:            l.ProductID,
		Quantity:             l.Quantity,
		CachedUnitPriceMinor: l.CachedUnitPriceMinor,
	}

	if item.ProductID == "" {
		item.ProductID = l.LegacyProductID
	}
	if item.Quantity == 0 {
		item.Quantity = l.LegacyQty
	}
	if item.CachedUnitPriceMinor == 0 {
		switch {
		case l.LegacyPriceInPaise > 0:
			item.CachedUnitPriceMinor = l.LegacyPriceInPaise
		case l.LegacyPrice != nil:
			if minor, err := money.ToMinorUnits(*l.LegacyPrice); err == nil {
				item.CachedUnitPriceMinor = minor
			}
		}
	}
	if item.CachedUnitPriceMinor < 0 {
		item.CachedUnitPriceMinor = 0
	}

	return item
}
