package cache

import (
	"context"
	"errors"

	"github.com/fjod/storefront/internal/domain"
)

// CartCache holds cart rows keyed by user. Product data is never cached.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.CartContents, error)
	Set(ctx context.Context, userID string, cart *domain.CartContents) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// NoopCache never stores anything. Used when no Redis is configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*domain.CartContents, error) {
	return nil, ErrCacheMiss
}

func (NoopCache) Set(context.Context, string, *domain.CartContents) error {
	return nil
}

func (NoopCache) Delete(context.Context, string) error {
	return nil
}
