package service

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"pantry-service/internal/apperr"
	"pantry-service/internal/entity"
	"pantry-service/internal/repository"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// StockLine is a requested movement of Quantity units of one item.
type StockLine struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// Adjustment is a signed change to one item's stock. Name, Category and
// Threshold are only used when a positive adjustment has to create the item.
type Adjustment struct {
	ItemID    string
	Delta     int
	Name      string
	Category  string
	Threshold *int
}

// LedgerService owns per-item stock levels and thresholds.
type LedgerService struct {
	store repository.Store
}

// NewLedgerService creates a new instance of LedgerService.
func NewLedgerService(store repository.Store) *LedgerService {
	return &LedgerService{store: store}
}

// GetItem retrieves a single item.
func (l *LedgerService) GetItem(ctx context.Context, itemID string) (*entity.Item, error) {
	item, err := l.store.GetItem(ctx, itemID)
	if err != nil {
		if !apperr.Is(err, apperr.KindNotFound) {
			logger.Error().Err(err).Msgf("Error getting item %s", itemID)
		}
		return nil, err
	}
	return item, nil
}

// ListItems lists the inventory, optionally only items with stock left.
func (l *LedgerService) ListItems(ctx context.Context, onlyAvailable bool) ([]*entity.Item, error) {
	items, err := l.store.ListItems(ctx, onlyAvailable)
	if err != nil {
		logger.Error().Err(err).Msg("Error listing items")
		return nil, err
	}
	return items, nil
}

// ListLowStock lists items whose stock is below their threshold.
func (l *LedgerService) ListLowStock(ctx context.Context) ([]*entity.Item, error) {
	items, err := l.store.ListLowStock(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Error listing low stock items")
		return nil, err
	}
	return items, nil
}

// Validate checks, without writing anything, that every line references an
// existing item and, for withdrawals, that enough stock is on hand.
func (l *LedgerService) Validate(ctx context.Context, typ entity.TransactionType, lines []StockLine) error {
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}

	ids := make([]string, len(merged))
	for i, line := range merged {
		ids[i] = line.ItemID
	}
	items, err := l.store.GetItems(ctx, ids)
	if err != nil {
		logger.Error().Err(err).Msg("Error reading items for validation")
		return err
	}

	for _, line := range merged {
		if _, ok := items[line.ItemID]; !ok {
			return apperr.ItemNotFound(line.ItemID)
		}
	}
	if typ != entity.TransactionWithdrawal {
		return nil
	}
	for _, line := range merged {
		if item := items[line.ItemID]; item.CurrentStock < line.Quantity {
			return apperr.InsufficientStock(line.ItemID, item.CurrentStock, line.Quantity)
		}
	}
	return nil
}

// UpdateItem overwrites the administrative fields of an item. Stock and
// demand score cannot be changed this way.
func (l *LedgerService) UpdateItem(ctx context.Context, itemID string, patch entity.ItemPatch) (*entity.Item, error) {
	if patch.Name != nil && *patch.Name == "" {
		return nil, apperr.Validation("name must not be empty")
	}
	if patch.Threshold != nil && *patch.Threshold < 0 {
		return nil, apperr.Validation("threshold must not be negative")
	}

	item, err := l.store.UpdateItem(ctx, itemID, patch)
	if err != nil {
		logger.Error().Err(err).Msgf("Error updating item %s", itemID)
		return nil, err
	}
	return item, nil
}

// DeleteItem removes an item that no transaction references. Items with
// history are kept so that the audit trail stays resolvable.
func (l *LedgerService) DeleteItem(ctx context.Context, itemID string) error {
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		items, err := tx.LockItems(ctx, []string{itemID})
		if err != nil {
			return err
		}
		if _, ok := items[itemID]; !ok {
			return apperr.ItemNotFound(itemID)
		}

		refs, err := tx.CountItemReferences(ctx, itemID)
		if err != nil {
			return err
		}
		if refs > 0 {
			return apperr.Conflict("item %s is referenced by %d transaction lines", itemID, refs)
		}
		return tx.DeleteItem(ctx, itemID)
	})
	if err != nil {
		logger.Error().Err(err).Msgf("Error deleting item %s", itemID)
		return err
	}
	return nil
}

// RecordDemand raises the advisory demand score of an item.
func (l *LedgerService) RecordDemand(ctx context.Context, itemID string, amount float64) error {
	if err := l.store.AddDemandScore(ctx, itemID, amount); err != nil {
		logger.Error().Err(err).Msgf("Error recording demand for item %s", itemID)
		return err
	}
	return nil
}

// applyAdjustments applies every adjustment inside tx or none of them.
// Deltas for the same item are summed first. Missing items referenced by a
// positive delta are created; by a negative delta they fail with not found.
// The returned items are in item_id order and reflect the new stock.
func (l *LedgerService) applyAdjustments(ctx context.Context, tx repository.Tx, adjustments []Adjustment, now time.Time) ([]*entity.Item, error) {
	merged := mergeAdjustments(adjustments)
	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items, err := tx.LockItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Check everything before the first write.
	for _, id := range ids {
		adj := merged[id]
		if _, ok := items[id]; ok {
			continue
		}
		if adj.Delta < 0 {
			return nil, apperr.ItemNotFound(id)
		}
		if adj.Name == "" {
			return nil, apperr.Validation("name is required to create item %s", id)
		}
	}
	for _, id := range ids {
		if item, ok := items[id]; ok && item.CurrentStock+merged[id].Delta < 0 {
			return nil, apperr.InsufficientStock(id, item.CurrentStock, -merged[id].Delta)
		}
	}

	updated := make([]*entity.Item, 0, len(ids))
	for _, id := range ids {
		adj := merged[id]
		var restockedAt *time.Time
		if adj.Delta > 0 {
			restockedAt = &now
		}

		if existing, ok := items[id]; ok {
			if adj.Delta == 0 {
				updated = append(updated, existing)
				continue
			}
			item, err := tx.AdjustStock(ctx, id, adj.Delta, restockedAt)
			if err != nil {
				return nil, err
			}
			updated = append(updated, item)
			continue
		}

		threshold := entity.DefaultThreshold(adj.Delta)
		if adj.Threshold != nil {
			threshold = *adj.Threshold
		}
		item := &entity.Item{
			ItemID:        id,
			Name:          adj.Name,
			Category:      adj.Category,
			CurrentStock:  adj.Delta,
			Threshold:     threshold,
			LastRestocked: restockedAt,
		}
		if err := tx.CreateItem(ctx, item); err != nil {
			return nil, err
		}
		updated = append(updated, item)
	}
	return updated, nil
}

// mergeLines validates lines and sums quantities of duplicate items,
// keeping the order in which items first appear.
func mergeLines(lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, apperr.Validation("at least one line is required")
	}
	index := map[string]int{}
	var merged []StockLine
	for _, line := range lines {
		if line.ItemID == "" {
			return nil, apperr.Validation("item_id is required")
		}
		if line.Quantity < 1 {
			return nil, apperr.Validation("quantity for item %s must be at least 1", line.ItemID)
		}
		if i, ok := index[line.ItemID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ItemID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}

func mergeAdjustments(adjustments []Adjustment) map[string]Adjustment {
	merged := make(map[string]Adjustment, len(adjustments))
	for _, adj := range adjustments {
		cur, ok := merged[adj.ItemID]
		if !ok {
			merged[adj.ItemID] = adj
			continue
		}
		cur.Delta += adj.Delta
		if cur.Name == "" {
			cur.Name = adj.Name
		}
		if cur.Category == "" {
			cur.Category = adj.Category
		}
		if cur.Threshold == nil {
			cur.Threshold = adj.Threshold
		}
		merged[adj.ItemID] = cur
	}
	return merged
}
