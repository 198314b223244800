package entity

import "time"

type OrderStatus string

// OrderStatusCompleted is the only status the engine ever writes.
const OrderStatusCompleted OrderStatus = "completed"

type Order struct {
	OrderID string      `json:"order_id"` // same as the withdrawal transaction id
	UserID  string      `json:"user_id"`
	Items   []OrderLine `json:"items"`
	Status  OrderStatus `json:"status"`
	Date    time.Time   `json:"date"`
}

type OrderLine struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}
