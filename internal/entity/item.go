package entity

import "time"

type Item struct {
	ItemID        string     `json:"item_id"`
	Name          string     `json:"name"`
	Category      string     `json:"category"`
	CurrentStock  int        `json:"current_stock"`
	Threshold     int        `json:"threshold"`
	LastRestocked *time.Time `json:"last_restocked"`
	DemandScore   float64    `json:"demand_score"`
}

// LowStock reports whether the item is below its alert level.
func (i *Item) LowStock() bool {
	return i.CurrentStock < i.Threshold
}

// ItemPatch carries the administrative fields of an item that may be
// overwritten directly. Stock and demand score are not among them.
type ItemPatch struct {
	Name      *string `json:"name"`
	Category  *string `json:"category"`
	Threshold *int    `json:"threshold"`
}

// Apply copies the set fields of the patch onto item.
func (p ItemPatch) Apply(item *Item) {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Category != nil {
		item.Category = *p.Category
	}
	if p.Threshold != nil {
		item.Threshold = *p.Threshold
	}
}

// DefaultThreshold is the low-stock level given to an item created by a
// restock that did not specify one: 20% of the quantity, rounded down.
func DefaultThreshold(quantity int) int {
	return quantity * 2 / 10
}

/*
Schema MySQL for items table:
CREATE TABLE items (
  item_id VARCHAR(64) NOT NULL PRIMARY KEY,
  name VARCHAR(255) NOT NULL UNIQUE,
  category VARCHAR(255) NOT NULL DEFAULT '',
  current_stock INT NOT NULL,
  threshold INT NOT NULL,
  last_restocked DATETIME(6) NULL,
  demand_score DOUBLE NOT NULL DEFAULT 0,
  CHECK (current_stock >= 0)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
*/
