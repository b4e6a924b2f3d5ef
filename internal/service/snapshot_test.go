package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkout-payments/internal/apperr"
	"checkout-payments/internal/cache"
	"checkout-payments/internal/model"
	"checkout-payments/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubCatalog struct {
	products map[string]*model.Product
	err      error
}

func (c *stubCatalog) FindByID(ctx context.Context, productID string) (*model.Product, error) {
	if c.err != nil {
		return nil, c.err
	}
	if p, ok := c.products[productID]; ok {
		return p, nil
	}
	return nil, repository.ErrProductNotFound
}

func newSnapshotFixture(t *testing.T, items []model.CartItem, catalog Catalog) (*Snapshotter, repository.CartRepository) {
	t.Helper()
	db := newTestDB(t)
	log := zaptest.NewLogger(t)
	cartRepo := repository.NewCartRepository(db)
	require.NoError(t, cartRepo.Save(context.Background(), &model.Cart{UserID: "u1", Items: items}))

	carts := NewCartService(cartRepo, catalog, nil, log)
	return NewSnapshotter(carts, catalog, log), cartRepo
}

func TestSnapshotPricePrecedence(t *testing.T) {
	catalog := &stubCatalog{products: map[string]*model.Product{
		"A": {ID: "A", Name: "Product A", PriceMinor: 300000, Active: true},
	}}
	snap, cartRepo := newSnapshotFixture(t, []model.CartItem{
		{ProductID: "A", Quantity: 2, CachedUnitPriceMinor: 250000},
		{ProductID: "B", Quantity: 1, CachedUnitPriceMinor: 150000},
		{ProductID: "C", Quantity: 1},
	}, catalog)

	s, err := snap.Snapshot(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, int64(750000), s.TotalMinor)
	assert.Equal(t, 1, s.StaleLines)
	require.Len(t, s.Items, 2)
	assert.Equal(t, model.OrderItem{ProductID: "A", Name: "Product A", UnitPriceMinor: 300000, Quantity: 2}, s.Items[0])
	assert.Equal(t, int64(150000), s.Items[1].UnitPriceMinor)

	require.Len(t, s.Resolution, 3)
	assert.Equal(t, priceFromCatalog, s.Resolution[0].Source)
	assert.Equal(t, priceFromCache, s.Resolution[1].Source)
	assert.Equal(t, priceDropped, s.Resolution[2].Source)

	cart, err := cartRepo.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 2, "stale lines are removed from the stored cart")
	assert.Equal(t, "A", cart.Items[0].ProductID)
	assert.Equal(t, "B", cart.Items[1].ProductID)
}

func TestSnapshotDropsMalformedLines(t *testing.T) {
	catalog := &stubCatalog{products: map[string]*model.Product{
		"A": {ID: "A", Name: "Product A", PriceMinor: 100, Active: true},
	}}
	snap, _ := newSnapshotFixture(t, []model.CartItem{
		{ProductID: "", Quantity: 1, CachedUnitPriceMinor: 500},
		{ProductID: "A", Quantity: 0},
		{ProductID: "A", Quantity: 3},
	}, catalog)

	s, err := snap.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), s.TotalMinor)
	assert.Equal(t, 2, s.StaleLines)
}

func TestSnapshotEmptyCart(t *testing.T) {
	snap, cartRepo := newSnapshotFixture(t, []model.CartItem{
		{ProductID: "gone", Quantity: 1},
	}, &stubCatalog{})

	_, err := snap.Snapshot(context.Background(), "u1")
	assert.ErrorIs(t, err, apperr.ErrEmptyCart)

	cart, err := cartRepo.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	_, err = snap.Snapshot(context.Background(), "nobody")
	assert.ErrorIs(t, err, apperr.ErrEmptyCart)
}

func TestSnapshotCatalogOutage(t *testing.T) {
	snap, cartRepo := newSnapshotFixture(t, []model.CartItem{
		{ProductID: "A", Quantity: 1, CachedUnitPriceMinor: 100},
	}, &stubCatalog{err: errors.New("connection refused")})

	_, err := snap.Snapshot(context.Background(), "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrEmptyCart)

	cart, err := cartRepo.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1, "an outage never rewrites the cart")
}

func TestSnapshotOverflow(t *testing.T) {
	catalog := &stubCatalog{products: map[string]*model.Product{
		"A": {ID: "A", Name: "Product A", PriceMinor: 1 << 62, Active: true},
	}}
	snap, _ := newSnapshotFixture(t, []model.CartItem{{ProductID: "A", Quantity: 4}}, catalog)

	_, err := snap.Snapshot(context.Background(), "u1")
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
}

func TestSnapshotIgnoresCachedCart(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	log := zaptest.NewLogger(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	catalog := &stubCatalog{products: map[string]*model.Product{
		"A": {ID: "A", Name: "Product A", PriceMinor: 250000, Active: true},
		"B": {ID: "B", Name: "Product B", PriceMinor: 150000, Active: true},
	}}
	cartRepo := repository.NewCartRepository(db)
	require.NoError(t, cartRepo.Save(ctx, &model.Cart{UserID: "u1", Items: []model.CartItem{{ProductID: "B", Quantity: 1}}}))

	cartCache := cache.NewRedisCache(rdb, time.Minute)
	require.NoError(t, cartCache.Set(ctx, &model.Cart{UserID: "u1", Items: []model.CartItem{{ProductID: "A", Quantity: 3}}}))

	snap := NewSnapshotter(NewCartService(cartRepo, catalog, cartCache, log), catalog, log)
	s, err := snap.Snapshot(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, s.Items, 1)
	assert.Equal(t, "B", s.Items[0].ProductID)
	assert.Equal(t, int64(150000), s.TotalMinor)
}
