package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"pantry-service/internal/apperr"
	"pantry-service/internal/entity"
)

const itemColumns = `item_id, name, category, current_stock, threshold, last_restocked, demand_score`

func scanItem(row interface{ Scan(dest ...any) error }) (*entity.Item, error) {
	var item entity.Item
	var lastRestocked sql.NullTime
	err := row.Scan(&item.ItemID, &item.Name, &item.Category, &item.CurrentStock, &item.Threshold, &lastRestocked, &item.DemandScore)
	if err != nil {
		return nil, err
	}
	if lastRestocked.Valid {
		t := lastRestocked.Time
		item.LastRestocked = &t
	}
	return &item, nil
}

func getItem(ctx context.Context, q queryer, itemID string, forUpdate bool) (*entity.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE item_id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	item, err := scanItem(q.QueryRowContext(ctx, query, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ItemNotFound(itemID)
	}
	if err != nil {
		return nil, classify(err, "get item")
	}
	return item, nil
}

func getItems(ctx context.Context, q queryer, itemIDs []string, forUpdate bool) (map[string]*entity.Item, error) {
	items := make(map[string]*entity.Item, len(itemIDs))
	if len(itemIDs) == 0 {
		return items, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(itemIDs)), ",")
	query := `SELECT ` + itemColumns + ` FROM items WHERE item_id IN (` + placeholders + `) ORDER BY item_id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	args := make([]any, len(itemIDs))
	for i, id := range itemIDs {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "get items")
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, classify(err, "scan item")
		}
		items[item.ItemID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "get items")
	}
	return items, nil
}

func listItems(ctx context.Context, q queryer, where string) ([]*entity.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY name`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(err, "list items")
	}
	defer rows.Close()

	var items []*entity.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, classify(err, "scan item")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list items")
	}
	return items, nil
}

func (s *MySQLStore) GetItem(ctx context.Context, itemID string) (*entity.Item, error) {
	return getItem(ctx, s.db, itemID, false)
}

func (s *MySQLStore) GetItems(ctx context.Context, itemIDs []string) (map[string]*entity.Item, error) {
	return getItems(ctx, s.db, itemIDs, false)
}

func (s *MySQLStore) ListItems(ctx context.Context, onlyAvailable bool) ([]*entity.Item, error) {
	if onlyAvailable {
		return listItems(ctx, s.db, `current_stock > 0`)
	}
	return listItems(ctx, s.db, "")
}

func (s *MySQLStore) ListLowStock(ctx context.Context) ([]*entity.Item, error) {
	return listItems(ctx, s.db, `current_stock < threshold`)
}

func (s *MySQLStore) UpdateItem(ctx context.Context, itemID string, patch entity.ItemPatch) (*entity.Item, error) {
	var updated *entity.Item
	err := s.runInTx(ctx, func(t *mysqlTx) error {
		item, err := getItem(ctx, t.tx, itemID, true)
		if err != nil {
			return err
		}
		patch.Apply(item)

		query := `UPDATE items SET name = ?, category = ?, threshold = ? WHERE item_id = ?`
		if _, err := t.tx.ExecContext(ctx, query, item.Name, item.Category, item.Threshold, itemID); err != nil {
			return classify(err, "update item")
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *MySQLStore) AddDemandScore(ctx context.Context, itemID string, delta float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE items SET demand_score = demand_score + ? WHERE item_id = ?`, delta, itemID)
	if err != nil {
		return classify(err, "update demand score")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ItemNotFound(itemID)
	}
	return nil
}

func (t *mysqlTx) LockItems(ctx context.Context, itemIDs []string) (map[string]*entity.Item, error) {
	return getItems(ctx, t.tx, itemIDs, true)
}

func (t *mysqlTx) CreateItem(ctx context.Context, item *entity.Item) error {
	query := `INSERT INTO items (` + itemColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, query, item.ItemID, item.Name, item.Category, item.CurrentStock, item.Threshold, item.LastRestocked, item.DemandScore)
	if isDuplicatePrimary(err) {
		// Another batch created the same new item after LockItems found
		// none. A retry sees the row and adjusts it instead.
		return apperr.Unavailable(err, "create item %s: created concurrently", item.ItemID)
	}
	if err != nil {
		return classify(err, "create item "+item.ItemID)
	}
	return nil
}

func (t *mysqlTx) AdjustStock(ctx context.Context, itemID string, delta int, restockedAt *time.Time) (*entity.Item, error) {
	// Conditional update: the row is only touched if stock stays non-negative.
	query := `UPDATE items SET current_stock = current_stock + ?, last_restocked = COALESCE(?, last_restocked)
		WHERE item_id = ? AND current_stock + ? >= 0`
	res, err := t.tx.ExecContext(ctx, query, delta, restockedAt, itemID, delta)
	if err != nil {
		return nil, classify(err, "adjust stock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, classify(err, "adjust stock")
	}

	item, err := getItem(ctx, t.tx, itemID, false)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, apperr.InsufficientStock(itemID, item.CurrentStock, -delta)
	}
	return item, nil
}

func (t *mysqlTx) CountItemReferences(ctx context.Context, itemID string) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM transaction_lines WHERE item_id = ?`, itemID).Scan(&count)
	if err != nil {
		return 0, classify(err, "count item references")
	}
	return count, nil
}

func (t *mysqlTx) DeleteItem(ctx context.Context, itemID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM items WHERE item_id = ?`, itemID)
	if err != nil {
		return classify(err, "delete item")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ItemNotFound(itemID)
	}
	return nil
}
