package repository

import (
	"context"
	"time"

	"pantry-service/internal/entity"
)

// Tx is one atomic unit of work over the stock ledger and the history
// store. Everything written through a Tx becomes visible together when the
// function passed to Store.RunInTx returns nil, and not at all otherwise.
type Tx interface {
	// LockItems reads the given items and holds them against concurrent
	// writers until the unit of work ends. Missing ids are absent from the
	// result. Locks are taken in item_id order.
	LockItems(ctx context.Context, itemIDs []string) (map[string]*entity.Item, error)
	CreateItem(ctx context.Context, item *entity.Item) error
	// AdjustStock adds delta to current_stock only if the result stays
	// non-negative, and stamps last_restocked when restockedAt is set.
	AdjustStock(ctx context.Context, itemID string, delta int, restockedAt *time.Time) (*entity.Item, error)
	CountItemReferences(ctx context.Context, itemID string) (int, error)
	DeleteItem(ctx context.Context, itemID string) error
	InsertTransaction(ctx context.Context, record *entity.TransactionRecord, lines []entity.TransactionLine) error
	InsertOrder(ctx context.Context, order *entity.Order) error
}

type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetItem(ctx context.Context, itemID string) (*entity.Item, error)
	GetItems(ctx context.Context, itemIDs []string) (map[string]*entity.Item, error)
	ListItems(ctx context.Context, onlyAvailable bool) ([]*entity.Item, error)
	ListLowStock(ctx context.Context) ([]*entity.Item, error)
	// UpdateItem overwrites the administrative fields of an item.
	UpdateItem(ctx context.Context, itemID string, patch entity.ItemPatch) (*entity.Item, error)
	AddDemandScore(ctx context.Context, itemID string, delta float64) error

	GetTransaction(ctx context.Context, transactionID string) (*entity.TransactionRecord, []entity.TransactionLine, error)
	// ListOrders returns orders newest first; an empty userID lists all.
	ListOrders(ctx context.Context, userID string) ([]*entity.Order, error)
}
