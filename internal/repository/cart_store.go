package repository

import (
	"context"
	"sync"

	"pantry-service/internal/entity"
)

// CartStore persists carts. Get never fails with not-found: a principal
// without a stored cart has an empty one.
type CartStore interface {
	Get(ctx context.Context, userID string) (*entity.Cart, error)
	Save(ctx context.Context, cart *entity.Cart) error
	Delete(ctx context.Context, userID string) error
	// Take removes the cart of userID and returns what it held, in one
	// atomic step. Of concurrent takers, only one gets the lines; the
	// others get an empty cart.
	Take(ctx context.Context, userID string) (*entity.Cart, error)
}

var (
	_ CartStore = (*MemoryCartStore)(nil)
	_ CartStore = (*RedisCartStore)(nil)
)

type MemoryCartStore struct {
	mu    sync.Mutex
	carts map[string]*entity.Cart
	fault func(op string) error
}

func NewMemoryCartStore() *MemoryCartStore {
	return &MemoryCartStore{carts: map[string]*entity.Cart{}}
}

// SetFault installs a hook consulted before every cart operation.
func (s *MemoryCartStore) SetFault(fault func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fault
}

func (s *MemoryCartStore) check(op string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op)
}

func (s *MemoryCartStore) Get(_ context.Context, userID string) (*entity.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("Get"); err != nil {
		return nil, err
	}
	cart, ok := s.carts[userID]
	if !ok {
		return &entity.Cart{UserID: userID}, nil
	}
	return cart.Clone(), nil
}

func (s *MemoryCartStore) Save(_ context.Context, cart *entity.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("Save"); err != nil {
		return err
	}
	s.carts[cart.UserID] = cart.Clone()
	return nil
}

func (s *MemoryCartStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("Delete"); err != nil {
		return err
	}
	delete(s.carts, userID)
	return nil
}

func (s *MemoryCartStore) Take(_ context.Context, userID string) (*entity.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("Take"); err != nil {
		return nil, err
	}
	cart, ok := s.carts[userID]
	if !ok {
		return &entity.Cart{UserID: userID}, nil
	}
	delete(s.carts, userID)
	return cart, nil
}
