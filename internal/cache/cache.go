package cache

import (
	"context"
	"errors"

	"checkout-payments/internal/model"
)

type CartCache interface {
	Get(ctx context.Context, userID string) (*model.Cart, error)
	Set(ctx context.Context, cart *model.Cart) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// NopCartCache is used when no Redis address is configured.
type NopCartCache struct{}

func (NopCartCache) Get(context.Context, string) (*model.Cart, error) { return nil, ErrCacheMiss }
func (NopCartCache) Set(context.Context, *model.Cart) error           { return nil }
func (NopCartCache) Delete(context.Context, string) error             { return nil }
