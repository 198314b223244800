package service

import (
	"context"
	"time"

	"pantry-service/internal/apperr"
	"pantry-service/internal/entity"
	"pantry-service/internal/repository"
	"pantry-service/internal/sharding"
)

// CartService manages the pending selection of each principal. All
// operations of one principal, including checkout, are serialized.
type CartService struct {
	carts repository.CartStore
	store repository.Store
	locks *sharding.KeyedMutex
	now   func() time.Time
}

// NewCartService creates a new instance of CartService.
func NewCartService(carts repository.CartStore, store repository.Store, locks *sharding.KeyedMutex) *CartService {
	return &CartService{carts: carts, store: store, locks: locks, now: time.Now}
}

// Get returns the cart of userID, empty if none was ever stored.
func (c *CartService) Get(ctx context.Context, userID string) (*entity.Cart, error) {
	cart, err := c.carts.Get(ctx, userID)
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting cart of %s", userID)
		return nil, err
	}
	return cart, nil
}

// AddLines adds every line to the cart, summing quantities for items that
// are already present. If any line references an unknown item nothing is
// added.
func (c *CartService) AddLines(ctx context.Context, userID string, lines []StockLine) (*entity.Cart, error) {
	merged, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(merged))
	for i, line := range merged {
		ids[i] = line.ItemID
	}
	items, err := c.store.GetItems(ctx, ids)
	if err != nil {
		logger.Error().Err(err).Msg("Error reading items for cart")
		return nil, err
	}
	for _, line := range merged {
		if _, ok := items[line.ItemID]; !ok {
			logger.Warn().Msgf("Item %s not found, rejecting cart add for %s", line.ItemID, userID)
			return nil, apperr.ItemNotFound(line.ItemID)
		}
	}

	unlock := c.locks.Lock(userID)
	defer unlock()

	cart, err := c.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, line := range merged {
		if i := cart.Line(line.ItemID); i >= 0 {
			cart.Lines[i].Quantity += line.Quantity
			continue
		}
		cart.Lines = append(cart.Lines, entity.CartLine{
			ItemID:   line.ItemID,
			Name:     items[line.ItemID].Name,
			Quantity: line.Quantity,
		})
	}
	return c.save(ctx, cart)
}

// SetQuantity replaces the quantity of a line; a quantity below 1 removes it.
func (c *CartService) SetQuantity(ctx context.Context, userID, itemID string, quantity int) (*entity.Cart, error) {
	if quantity < 1 {
		return c.RemoveLine(ctx, userID, itemID)
	}

	unlock := c.locks.Lock(userID)
	defer unlock()

	cart, err := c.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	i := cart.Line(itemID)
	if i < 0 {
		return nil, apperr.NotFound("item %s is not in the cart", itemID)
	}
	cart.Lines[i].Quantity = quantity
	return c.save(ctx, cart)
}

// RemoveLine drops the line for itemID from the cart.
func (c *CartService) RemoveLine(ctx context.Context, userID, itemID string) (*entity.Cart, error) {
	unlock := c.locks.Lock(userID)
	defer unlock()

	cart, err := c.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	i := cart.Line(itemID)
	if i < 0 {
		return nil, apperr.NotFound("item %s is not in the cart", itemID)
	}
	cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
	return c.save(ctx, cart)
}

// Clear empties the cart of userID.
func (c *CartService) Clear(ctx context.Context, userID string) error {
	unlock := c.locks.Lock(userID)
	defer unlock()

	if err := c.carts.Delete(ctx, userID); err != nil {
		logger.Error().Err(err).Msgf("Error clearing cart of %s", userID)
		return err
	}
	return nil
}

func (c *CartService) save(ctx context.Context, cart *entity.Cart) (*entity.Cart, error) {
	cart.LastUpdated = c.now()
	if err := c.carts.Save(ctx, cart); err != nil {
		logger.Error().Err(err).Msgf("Error saving cart of %s", cart.UserID)
		return nil, err
	}
	return cart, nil
}
