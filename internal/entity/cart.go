package entity

import "time"

type CartLine struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Cart is the pending selection of one principal. It is keyed by UserID,
// which is either an account id or an anonymous session principal.
type Cart struct {
	UserID      string     `json:"user_id"`
	Lines       []CartLine `json:"items"`
	LastUpdated time.Time  `json:"last_updated"`
}

func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Line returns the index of the line for itemID, or -1.
func (c *Cart) Line(itemID string) int {
	for i, line := range c.Lines {
		if line.ItemID == itemID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so that callers can keep a snapshot of the cart.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Lines = append([]CartLine(nil), c.Lines...)
	return &cp
}
