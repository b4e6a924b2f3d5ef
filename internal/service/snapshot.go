package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-payments/internal/apperr"
	"checkout-payments/internal/model"
	"checkout-payments/internal/money"
	"checkout-payments/internal/repository"

	"go.uber.org/zap"
)

// Catalog resolves the current product record. Unknown products return
// repository.ErrProductNotFound; any other error is an outage.
type Catalog interface {
	FindByID(ctx context.Context, productID string) (*model.Product, error)
}

const (
	priceFromCatalog = "catalog"
	priceFromCache   = "cached"
	priceDropped     = "dropped"
)

type Snapshot struct {
	UserID     string
	Items      []model.OrderItem
	TotalMinor int64
	StaleLines int
	Resolution []model.PriceResolution
}

type Snapshotter struct {
	carts         CartStore
	catalog       Catalog
	log           *zap.Logger
	lookupTimeout time.Duration
}

func NewSnapshotter(carts CartStore, catalog Catalog, log *zap.Logger) *Snapshotter {
	return &Snapshotter{
		carts:         carts,
		catalog:       catalog,
		log:           log,
		lookupTimeout: 3 * time.Second,
	}
}

// Snapshot prices the user's cart against the catalog. A line takes the
// catalog price, else its cached price, else it is dropped as stale. When
// lines were dropped the cleaned cart is written back once. A snapshot
// with no surviving lines or a non-positive total fails with EmptyCart.
func (s *Snapshotter) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	cart, err := s.carts.LoadCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	snap := &Snapshot{UserID: userID}
	kept := make([]model.CartItem, 0, len(cart.Items))

	for _, line := range cart.Items {
		if line.ProductID == "" || line.Quantity < 1 {
			snap.StaleLines++
			snap.Resolution = append(snap.Resolution, model.PriceResolution{ProductID: line.ProductID, Source: priceDropped})
			continue
		}

		item, source, err := s.resolve(ctx, line)
		if err != nil {
			return nil, err
		}
		if source == priceDropped {
			snap.StaleLines++
			snap.Resolution = append(snap.Resolution, model.PriceResolution{ProductID: line.ProductID, Source: priceDropped})
			continue
		}

		lineTotal, err := money.LineTotal(item.UnitPriceMinor, item.Quantity)
		if err != nil {
			return nil, err
		}
		if snap.TotalMinor, err = money.Add(snap.TotalMinor, lineTotal); err != nil {
			return nil, err
		}

		kept = append(kept, line)
		snap.Items = append(snap.Items, item)
		snap.Resolution = append(snap.Resolution, model.PriceResolution{
			ProductID:      item.ProductID,
			Source:         source,
			UnitPriceMinor: item.UnitPriceMinor,
		})
	}

	if snap.StaleLines > 0 {
		if err := s.carts.ReplaceItems(ctx, userID, kept); err != nil {
			s.log.Warn("failed to persist cleaned cart",
				zap.String("user_id", userID),
				zap.Int("stale_lines", snap.StaleLines),
				zap.Error(err))
		}
	}

	if len(snap.Items) == 0 || snap.TotalMinor <= 0 {
		return nil, apperr.ErrEmptyCart
	}

	return snap, nil
}

func (s *Snapshotter) resolve(ctx context.Context, line model.CartItem) (model.OrderItem, string, error) {
	item := model.OrderItem{
		ProductID: line.ProductID,
		Name:      line.ProductID,
		Quantity:  line.Quantity,
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	product, err := s.catalog.FindByID(lookupCtx, line.ProductID)
	switch {
	case err == nil:
		item.Name = product.Name
		if product.PriceMinor > 0 {
			item.UnitPriceMinor = product.PriceMinor
			return item, priceFromCatalog, nil
		}
	case errors.Is(err, repository.ErrProductNotFound):
	default:
		return item, "", fmt.Errorf("resolve price for %s: %w", line.ProductID, err)
	}

	if line.CachedUnitPriceMinor > 0 {
		item.UnitPriceMinor = line.CachedUnitPriceMinor
		return item, priceFromCache, nil
	}

	return item, priceDropped, nil
}
