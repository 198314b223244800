package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"pantry-service/internal/apperr"
	"pantry-service/internal/entity"
)

func (t *mysqlTx) InsertTransaction(ctx context.Context, record *entity.TransactionRecord, lines []entity.TransactionLine) error {
	query := `INSERT INTO transactions (transaction_id, user_id, requester_id, type, date) VALUES (?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, query, record.TransactionID, record.UserID, record.RequesterID, record.Type, record.Date)
	if err != nil {
		return classify(err, "insert transaction")
	}
	if len(lines) == 0 {
		return nil
	}

	// Insert lines with batch
	lineQuery := `INSERT INTO transaction_lines (transaction_id, item_id, quantity) VALUES ` +
		strings.TrimSuffix(strings.Repeat("(?, ?, ?),", len(lines)), ",")
	values := make([]any, 0, len(lines)*3)
	for _, line := range lines {
		values = append(values, record.TransactionID, line.ItemID, line.Quantity)
	}
	if _, err := t.tx.ExecContext(ctx, lineQuery, values...); err != nil {
		return classify(err, "insert transaction lines")
	}
	return nil
}

func (t *mysqlTx) InsertOrder(ctx context.Context, order *entity.Order) error {
	query := `INSERT INTO orders (order_id, user_id, status, date) VALUES (?, ?, ?, ?)`
	if _, err := t.tx.ExecContext(ctx, query, order.OrderID, order.UserID, order.Status, order.Date); err != nil {
		return classify(err, "insert order")
	}
	if len(order.Items) == 0 {
		return nil
	}

	lineQuery := `INSERT INTO order_lines (order_id, item_id, name, quantity) VALUES ` +
		strings.TrimSuffix(strings.Repeat("(?, ?, ?, ?),", len(order.Items)), ",")
	values := make([]any, 0, len(order.Items)*4)
	for _, line := range order.Items {
		values = append(values, order.OrderID, line.ItemID, line.Name, line.Quantity)
	}
	if _, err := t.tx.ExecContext(ctx, lineQuery, values...); err != nil {
		return classify(err, "insert order lines")
	}
	return nil
}

func (s *MySQLStore) GetTransaction(ctx context.Context, transactionID string) (*entity.TransactionRecord, []entity.TransactionLine, error) {
	record := &entity.TransactionRecord{}
	query := `SELECT transaction_id, user_id, requester_id, type, date FROM transactions WHERE transaction_id = ?`
	err := s.db.QueryRowContext(ctx, query, transactionID).
		Scan(&record.TransactionID, &record.UserID, &record.RequesterID, &record.Type, &record.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, apperr.NotFound("transaction %s not found", transactionID)
	}
	if err != nil {
		return nil, nil, classify(err, "get transaction")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT item_id, quantity FROM transaction_lines WHERE transaction_id = ? ORDER BY id`, transactionID)
	if err != nil {
		return nil, nil, classify(err, "get transaction lines")
	}
	defer rows.Close()

	var lines []entity.TransactionLine
	for rows.Next() {
		line := entity.TransactionLine{TransactionID: transactionID}
		if err := rows.Scan(&line.ItemID, &line.Quantity); err != nil {
			return nil, nil, classify(err, "scan transaction line")
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, classify(err, "get transaction lines")
	}
	return record, lines, nil
}

func (s *MySQLStore) ListOrders(ctx context.Context, userID string) ([]*entity.Order, error) {
	query := `SELECT order_id, user_id, status, date FROM orders`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY date DESC, order_id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "list orders")
	}
	defer rows.Close()

	var orders []*entity.Order
	byID := map[string]*entity.Order{}
	for rows.Next() {
		order := &entity.Order{}
		if err := rows.Scan(&order.OrderID, &order.UserID, &order.Status, &order.Date); err != nil {
			return nil, classify(err, "scan order")
		}
		orders = append(orders, order)
		byID[order.OrderID] = order
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list orders")
	}
	if len(orders) == 0 {
		return orders, nil
	}

	args = args[:0]
	for _, order := range orders {
		args = append(args, order.OrderID)
	}
	lineQuery := `SELECT order_id, item_id, name, quantity FROM order_lines WHERE order_id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(orders)), ",") + `) ORDER BY id`
	lineRows, err := s.db.QueryContext(ctx, lineQuery, args...)
	if err != nil {
		return nil, classify(err, "list order lines")
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var orderID string
		var line entity.OrderLine
		if err := lineRows.Scan(&orderID, &line.ItemID, &line.Name, &line.Quantity); err != nil {
			return nil, classify(err, "scan order line")
		}
		if order, ok := byID[orderID]; ok {
			order.Items = append(order.Items, line)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, classify(err, "list order lines")
	}
	return orders, nil
}
