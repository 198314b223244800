//go:build integration

package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry-service/internal/apperr"
	"pantry-service/internal/entity"
	"pantry-service/migrations"
)

// Run with: PANTRY_TEST_MYSQL_DSN='user:pass@tcp(localhost:3306)/pantry_test?parseTime=true' go test -tags integration ./internal/repository/
func openTestMySQL(t *testing.T) *MySQLStore {
	t.Helper()
	dsn := os.Getenv("PANTRY_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("PANTRY_TEST_MYSQL_DSN not set")
	}
	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())
	require.NoError(t, migrations.AutoMigrate(db, 0))
	return NewMySQLStore(db)
}

// uniqueID keeps runs against a shared database apart.
func uniqueID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func cleanupItems(t *testing.T, s *MySQLStore, txIDs []string, itemIDs ...string) {
	t.Helper()
	t.Cleanup(func() {
		ctx := context.Background()
		for _, id := range txIDs {
			s.db.ExecContext(ctx, `DELETE FROM orders WHERE order_id = ?`, id)
			s.db.ExecContext(ctx, `DELETE FROM transaction_lines WHERE transaction_id = ?`, id)
			s.db.ExecContext(ctx, `DELETE FROM transactions WHERE transaction_id = ?`, id)
		}
		for _, id := range itemIDs {
			s.db.ExecContext(ctx, `DELETE FROM items WHERE item_id = ?`, id)
		}
	})
}

func createTestItem(t *testing.T, s *MySQLStore, itemID string, stock int) {
	t.Helper()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.CreateItem(ctx, &entity.Item{ItemID: itemID, Name: itemID, CurrentStock: stock, Threshold: 1})
	})
	require.NoError(t, err)
}

func TestMySQL_AdjustStock_NeverNegative(t *testing.T) {
	s := openTestMySQL(t)
	ctx := context.Background()
	itemID := uniqueID("X")
	cleanupItems(t, s, nil, itemID)
	createTestItem(t, s, itemID, 2)

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockItems(ctx, []string{itemID}); err != nil {
			return err
		}
		_, err := tx.AdjustStock(ctx, itemID, -3, nil)
		return err
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientStock), "unexpected error: %v", err)

	item, err := s.GetItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, 2, item.CurrentStock)

	restocked := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	err = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		item, err := tx.AdjustStock(ctx, itemID, -2, nil)
		if err != nil {
			return err
		}
		assert.Equal(t, 0, item.CurrentStock)
		_, err = tx.AdjustStock(ctx, itemID, 5, &restocked)
		return err
	})
	require.NoError(t, err)

	item, err = s.GetItem(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, 5, item.CurrentStock)
	require.NotNil(t, item.LastRestocked)
	assert.True(t, restocked.Equal(item.LastRestocked.UTC()))
}

func TestMySQL_LockItems_SkipsMissing(t *testing.T) {
	s := openTestMySQL(t)
	a, b := uniqueID("A"), uniqueID("B")
	cleanupItems(t, s, nil, a, b)
	createTestItem(t, s, a, 1)
	createTestItem(t, s, b, 1)

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		items, err := tx.LockItems(ctx, []string{b, "missing-" + a, a})
		if err != nil {
			return err
		}
		assert.Len(t, items, 2)
		assert.Contains(t, items, a)
		assert.Contains(t, items, b)
		return nil
	})
	require.NoError(t, err)
}

func TestMySQL_CreateItem_DuplicateIDIsRetryable(t *testing.T) {
	s := openTestMySQL(t)
	itemID := uniqueID("X")
	cleanupItems(t, s, nil, itemID)
	createTestItem(t, s, itemID, 1)

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.CreateItem(ctx, &entity.Item{ItemID: itemID, Name: uniqueID("other")})
	})
	assert.True(t, apperr.Retryable(err), "unexpected error: %v", err)

	other := uniqueID("Y")
	cleanupItems(t, s, nil, other)
	err = s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.CreateItem(ctx, &entity.Item{ItemID: other, Name: itemID})
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict), "unexpected error: %v", err)
}

func TestMySQL_ListOrders_GroupsLinesNewestFirst(t *testing.T) {
	s := openTestMySQL(t)
	ctx := context.Background()
	userID := uniqueID("user")
	a, b := uniqueID("A"), uniqueID("B")
	older, newer := uniqueID("WD-old"), uniqueID("WD-new")
	cleanupItems(t, s, []string{older, newer}, a, b)
	createTestItem(t, s, a, 10)
	createTestItem(t, s, b, 10)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	insert := func(txID string, at time.Time, lines ...entity.OrderLine) {
		t.Helper()
		err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			txLines := make([]entity.TransactionLine, len(lines))
			for i, line := range lines {
				txLines[i] = entity.TransactionLine{TransactionID: txID, ItemID: line.ItemID, Quantity: line.Quantity}
			}
			record := &entity.TransactionRecord{TransactionID: txID, UserID: userID, Type: entity.TransactionWithdrawal, Date: at}
			if err := tx.InsertTransaction(ctx, record, txLines); err != nil {
				return err
			}
			return tx.InsertOrder(ctx, &entity.Order{OrderID: txID, UserID: userID, Status: entity.OrderStatusCompleted, Date: at, Items: lines})
		})
		require.NoError(t, err)
	}
	insert(older, base, entity.OrderLine{ItemID: a, Name: "Widget", Quantity: 1}, entity.OrderLine{ItemID: b, Name: "Gadget", Quantity: 2})
	insert(newer, base.Add(time.Minute), entity.OrderLine{ItemID: b, Name: "Gadget", Quantity: 3})

	orders, err := s.ListOrders(ctx, userID)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, newer, orders[0].OrderID)
	assert.Equal(t, []entity.OrderLine{{ItemID: b, Name: "Gadget", Quantity: 3}}, orders[0].Items)
	assert.Equal(t, older, orders[1].OrderID)
	assert.Equal(t, []entity.OrderLine{
		{ItemID: a, Name: "Widget", Quantity: 1},
		{ItemID: b, Name: "Gadget", Quantity: 2},
	}, orders[1].Items)

	record, lines, err := s.GetTransaction(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, userID, record.UserID)
	assert.Len(t, lines, 2)
}
