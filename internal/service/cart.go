package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"checkout-payments/internal/apperr"
	"checkout-payments/internal/cache"
	"checkout-payments/internal/model"
	"checkout-payments/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CartStore is what checkout needs from the cart: read it, replace its
// lines, and empty it.
type CartStore interface {
	// LoadCart reads the stored cart, never the cache.
	LoadCart(ctx context.Context, userID string) (*model.Cart, error)
	ReplaceItems(ctx context.Context, userID string, items []model.CartItem) error
	ClearCart(ctx context.Context, userID string) error
	RemoveProducts(ctx context.Context, userID string, productIDs []string) error
}

type CartService interface {
	CartStore
	GetCart(ctx context.Context, userID string) (*model.Cart, error)
	AddItem(ctx context.Context, userID, productID string, quantity int) (*model.Cart, error)
	UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (*model.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string) (*model.Cart, error)
}

var ErrCartItemNotFound = errors.New("cart item not found")

type cartServiceImpl struct {
	cartRepo repository.CartRepository
	catalog  Catalog
	cache    cache.CartCache
	log      *zap.Logger

	sfg   singleflight.Group
	locks *keyedMutex
}

func NewCartService(
	cartRepo repository.CartRepository,
	catalog Catalog,
	cartCache cache.CartCache,
	log *zap.Logger,
) CartService {
	if cartCache == nil {
		cartCache = cache.NopCartCache{}
	}
	return &cartServiceImpl{
		cartRepo: cartRepo,
		catalog:  catalog,
		cache:    cartCache,
		log:      log,
		locks:    newKeyedMutex(),
	}
}

func (s *cartServiceImpl) GetCart(ctx context.Context, userID string) (*model.Cart, error) {
	cart, err := s.cache.Get(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.log.Warn("cart cache read failed", zap.String("user_id", userID), zap.Error(err))
	}

	// concurrent misses for one user share a single database read. The fill
	// holds the user's lock so a write cannot land between read and Set.
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		unlock := s.locks.Lock(userID)
		defer unlock()

		cart, err := s.cartRepo.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, cart); err != nil {
			s.log.Warn("cart cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	return copyCart(v.(*model.Cart)), nil
}

func (s *cartServiceImpl) LoadCart(ctx context.Context, userID string) (*model.Cart, error) {
	return s.cartRepo.Get(ctx, userID)
}

func (s *cartServiceImpl) AddItem(ctx context.Context, userID, productID string, quantity int) (*model.Cart, error) {
	if productID == "" {
		return nil, apperr.New(apperr.KindMissingFields, "missing required fields: product_id")
	}
	if quantity < 1 {
		return nil, apperr.New(apperr.KindInvalidAmount, "quantity must be at least 1")
	}

	product, err := s.catalog.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, userID, func(items []model.CartItem) ([]model.CartItem, error) {
		for i := range items {
			if items[i].ProductID == productID {
				items[i].Quantity += quantity
				items[i].CachedUnitPriceMinor = product.PriceMinor
				return items, nil
			}
		}
		return append(items, model.CartItem{
			ProductID:            productID,
			Quantity:             quantity,
			CachedUnitPriceMinor: product.PriceMinor,
		}), nil
	})
}

func (s *cartServiceImpl) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (*model.Cart, error) {
	if quantity < 1 {
		return nil, apperr.New(apperr.KindInvalidAmount, "quantity must be at least 1")
	}

	return s.mutate(ctx, userID, func(items []model.CartItem) ([]model.CartItem, error) {
		for i := range items {
			if items[i].ProductID == productID {
				items[i].Quantity = quantity
				return items, nil
			}
		}
		return nil, ErrCartItemNotFound
	})
}

func (s *cartServiceImpl) RemoveItem(ctx context.Context, userID, productID string) (*model.Cart, error) {
	return s.mutate(ctx, userID, func(items []model.CartItem) ([]model.CartItem, error) {
		return without(items, map[string]struct{}{productID: {}}), nil
	})
}

func (s *cartServiceImpl) ReplaceItems(ctx context.Context, userID string, items []model.CartItem) error {
	_, err := s.mutate(ctx, userID, func([]model.CartItem) ([]model.CartItem, error) {
		return items, nil
	})
	return err
}

func (s *cartServiceImpl) ClearCart(ctx context.Context, userID string) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.cartRepo.Clear(ctx, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// RemoveProducts drops the given products and leaves everything else in
// the cart, e.g. items added after an order was placed.
func (s *cartServiceImpl) RemoveProducts(ctx context.Context, userID string, productIDs []string) error {
	drop := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		drop[id] = struct{}{}
	}

	_, err := s.mutate(ctx, userID, func(items []model.CartItem) ([]model.CartItem, error) {
		return without(items, drop), nil
	})
	return err
}

// mutate runs a read-modify-write on the stored cart under the user's lock.
// The cache is bypassed on read and invalidated after the write.
func (s *cartServiceImpl) mutate(
	ctx context.Context,
	userID string,
	fn func([]model.CartItem) ([]model.CartItem, error),
) (*model.Cart, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	cart, err := s.cartRepo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	items, err := fn(cart.Items)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.CartItem{}
	}
	cart.Items = items

	if err := s.cartRepo.Save(ctx, cart); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	s.invalidate(ctx, userID)

	return cart, nil
}

func (s *cartServiceImpl) invalidate(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cart cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func without(items []model.CartItem, drop map[string]struct{}) []model.CartItem {
	kept := make([]model.CartItem, 0, len(items))
	for _, it := range items {
		if _, ok := drop[it.ProductID]; ok {
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

func copyCart(c *model.Cart) *model.Cart {
	cp := *c
	cp.Items = append([]model.CartItem(nil), c.Items...)
	return &cp
}

// keyedMutex serializes work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
