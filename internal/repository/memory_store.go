package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"pantry-service/internal/apperr"
	"pantry-service/internal/entity"
)

// Compile-time contract assertions.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*MySQLStore)(nil)
)

type memoryState struct {
	items        map[string]entity.Item
	transactions map[string]entity.TransactionRecord
	lines        []entity.TransactionLine
	orders       []entity.Order
}

func (s memoryState) clone() memoryState {
	cp := memoryState{
		items:        make(map[string]entity.Item, len(s.items)),
		transactions: make(map[string]entity.TransactionRecord, len(s.transactions)),
		lines:        append([]entity.TransactionLine(nil), s.lines...),
		orders:       make([]entity.Order, len(s.orders)),
	}
	for k, v := range s.items {
		cp.items[k] = cloneItem(v)
	}
	for k, v := range s.transactions {
		cp.transactions[k] = v
	}
	for i, o := range s.orders {
		o.Items = append([]entity.OrderLine(nil), o.Items...)
		cp.orders[i] = o
	}
	return cp
}

func cloneItem(item entity.Item) entity.Item {
	if item.LastRestocked != nil {
		t := *item.LastRestocked
		item.LastRestocked = &t
	}
	return item
}

// MemoryStore is a Store kept in process memory, used for tests and
// ephemeral deployments. A unit of work runs against a clone of the state
// under the store mutex and replaces the state only when it succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state memoryState
	fault func(op string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memoryState{
		items:        map[string]entity.Item{},
		transactions: map[string]entity.TransactionRecord{},
	}}
}

// SetFault installs a hook consulted before every store operation; a
// non-nil return fails that operation with the returned error.
func (s *MemoryStore) SetFault(fault func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fault
}

func (s *MemoryStore) check(op string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op)
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("Begin"); err != nil {
		return err
	}
	tx := &memoryTx{store: s, state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err, "commit transaction")
	}
	if err := s.check("Commit"); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *MemoryStore) GetItem(_ context.Context, itemID string) (*entity.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("GetItem"); err != nil {
		return nil, err
	}
	item, ok := s.state.items[itemID]
	if !ok {
		return nil, apperr.ItemNotFound(itemID)
	}
	cp := cloneItem(item)
	return &cp, nil
}

func (s *MemoryStore) GetItems(_ context.Context, itemIDs []string) (map[string]*entity.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("GetItems"); err != nil {
		return nil, err
	}
	return s.state.lookup(itemIDs), nil
}

func (s memoryState) lookup(itemIDs []string) map[string]*entity.Item {
	items := make(map[string]*entity.Item, len(itemIDs))
	for _, id := range itemIDs {
		if item, ok := s.items[id]; ok {
			cp := cloneItem(item)
			items[id] = &cp
		}
	}
	return items
}

func (s *MemoryStore) ListItems(_ context.Context, onlyAvailable bool) ([]*entity.Item, error) {
	return s.list("ListItems", func(item entity.Item) bool {
		return !onlyAvailable || item.CurrentStock > 0
	})
}

func (s *MemoryStore) ListLowStock(_ context.Context) ([]*entity.Item, error) {
	return s.list("ListLowStock", func(item entity.Item) bool {
		return item.LowStock()
	})
}

func (s *MemoryStore) list(op string, keep func(entity.Item) bool) ([]*entity.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(op); err != nil {
		return nil, err
	}
	var items []*entity.Item
	for _, item := range s.state.items {
		if keep(item) {
			cp := cloneItem(item)
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *MemoryStore) UpdateItem(_ context.Context, itemID string, patch entity.ItemPatch) (*entity.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("UpdateItem"); err != nil {
		return nil, err
	}
	item, ok := s.state.items[itemID]
	if !ok {
		return nil, apperr.ItemNotFound(itemID)
	}
	patch.Apply(&item)
	if other := s.state.itemByName(item.Name); other != "" && other != itemID {
		return nil, apperr.Conflict("item name %q already in use", item.Name)
	}
	s.state.items[itemID] = item
	cp := cloneItem(item)
	return &cp, nil
}

func (s *MemoryStore) AddDemandScore(_ context.Context, itemID string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("AddDemandScore"); err != nil {
		return err
	}
	item, ok := s.state.items[itemID]
	if !ok {
		return apperr.ItemNotFound(itemID)
	}
	item.DemandScore += delta
	s.state.items[itemID] = item
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, transactionID string) (*entity.TransactionRecord, []entity.TransactionLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("GetTransaction"); err != nil {
		return nil, nil, err
	}
	record, ok := s.state.transactions[transactionID]
	if !ok {
		return nil, nil, apperr.NotFound("transaction %s not found", transactionID)
	}
	var lines []entity.TransactionLine
	for _, line := range s.state.lines {
		if line.TransactionID == transactionID {
			lines = append(lines, line)
		}
	}
	return &record, lines, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, userID string) ([]*entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("ListOrders"); err != nil {
		return nil, err
	}
	var orders []*entity.Order
	// Stored in commit order; walk backwards for newest first.
	for i := len(s.state.orders) - 1; i >= 0; i-- {
		order := s.state.orders[i]
		if userID != "" && order.UserID != userID {
			continue
		}
		order.Items = append([]entity.OrderLine(nil), order.Items...)
		orders = append(orders, &order)
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].Date.After(orders[j].Date) })
	return orders, nil
}

func (s memoryState) itemByName(name string) string {
	for id, item := range s.items {
		if item.Name == name {
			return id
		}
	}
	return ""
}

type memoryTx struct {
	store *MemoryStore
	state memoryState
}

func (t *memoryTx) LockItems(_ context.Context, itemIDs []string) (map[string]*entity.Item, error) {
	if err := t.store.check("LockItems"); err != nil {
		return nil, err
	}
	// The store mutex is already held for the whole unit of work.
	return t.state.lookup(itemIDs), nil
}

func (t *memoryTx) CreateItem(_ context.Context, item *entity.Item) error {
	if err := t.store.check("CreateItem"); err != nil {
		return err
	}
	if _, ok := t.state.items[item.ItemID]; ok {
		return apperr.Conflict("item %s already exists", item.ItemID)
	}
	if t.state.itemByName(item.Name) != "" {
		return apperr.Conflict("item name %q already in use", item.Name)
	}
	t.state.items[item.ItemID] = cloneItem(*item)
	return nil
}

func (t *memoryTx) AdjustStock(_ context.Context, itemID string, delta int, restockedAt *time.Time) (*entity.Item, error) {
	if err := t.store.check("AdjustStock"); err != nil {
		return nil, err
	}
	item, ok := t.state.items[itemID]
	if !ok {
		return nil, apperr.ItemNotFound(itemID)
	}
	if item.CurrentStock+delta < 0 {
		return nil, apperr.InsufficientStock(itemID, item.CurrentStock, -delta)
	}
	item.CurrentStock += delta
	if restockedAt != nil {
		at := *restockedAt
		item.LastRestocked = &at
	}
	t.state.items[itemID] = item
	cp := cloneItem(item)
	return &cp, nil
}

func (t *memoryTx) CountItemReferences(_ context.Context, itemID string) (int, error) {
	if err := t.store.check("CountItemReferences"); err != nil {
		return 0, err
	}
	count := 0
	for _, line := range t.state.lines {
		if line.ItemID == itemID {
			count++
		}
	}
	return count, nil
}

func (t *memoryTx) DeleteItem(_ context.Context, itemID string) error {
	if err := t.store.check("DeleteItem"); err != nil {
		return err
	}
	if _, ok := t.state.items[itemID]; !ok {
		return apperr.ItemNotFound(itemID)
	}
	delete(t.state.items, itemID)
	return nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, record *entity.TransactionRecord, lines []entity.TransactionLine) error {
	if err := t.store.check("InsertTransaction"); err != nil {
		return err
	}
	if _, ok := t.state.transactions[record.TransactionID]; ok {
		return apperr.Conflict("transaction %s already exists", record.TransactionID)
	}
	t.state.transactions[record.TransactionID] = *record
	for _, line := range lines {
		line.TransactionID = record.TransactionID
		t.state.lines = append(t.state.lines, line)
	}
	return nil
}

func (t *memoryTx) InsertOrder(_ context.Context, order *entity.Order) error {
	if err := t.store.check("InsertOrder"); err != nil {
		return err
	}
	for _, o := range t.state.orders {
		if o.OrderID == order.OrderID {
			return apperr.Conflict("order %s already exists", order.OrderID)
		}
	}
	cp := *order
	cp.Items = append([]entity.OrderLine(nil), order.Items...)
	t.state.orders = append(t.state.orders, cp)
	return nil
}
