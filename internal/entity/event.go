package entity

import "time"

// StockEvent is published after a batch has been committed.
type StockEvent struct {
	TransactionID string           `json:"transaction_id"`
	Type          TransactionType  `json:"type"`
	UserID        string           `json:"user_id"`
	Items         []StockEventItem `json:"items"`
	Date          time.Time        `json:"date"`
}

type StockEventItem struct {
	ItemID       string `json:"item_id"`
	Delta        int    `json:"delta"`
	CurrentStock int    `json:"current_stock"`
	Threshold    int    `json:"threshold"`
}
