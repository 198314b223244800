package entity

import "time"

type TransactionType string

const (
	TransactionRestock    TransactionType = "restock"
	TransactionWithdrawal TransactionType = "withdrawal"
)

// TransactionRecord is the immutable header of a stock-affecting batch.
// RequesterID is set when the batch was performed on behalf of UserID by
// somebody else, e.g. an administrator recording a direct withdrawal.
type TransactionRecord struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	RequesterID   string          `json:"requester_id,omitempty"`
	Type          TransactionType `json:"type"`
	Date          time.Time       `json:"date"`
}

// TransactionLine holds the magnitude moved for one item. Direction is
// carried by the parent record's Type; Quantity is always positive.
type TransactionLine struct {
	TransactionID string `json:"transaction_id"`
	ItemID        string `json:"item_id"`
	Quantity      int    `json:"quantity"`
}

// SignedQuantity returns the stock delta the line represents.
func (l TransactionLine) SignedQuantity(t TransactionType) int {
	if t == TransactionWithdrawal {
		return -l.Quantity
	}
	return l.Quantity
}

/*
Schema MySQL:
CREATE TABLE transactions (
  transaction_id VARCHAR(64) NOT NULL PRIMARY KEY,
  user_id VARCHAR(255) NOT NULL,
  requester_id VARCHAR(255) NOT NULL DEFAULT '',
  type VARCHAR(20) NOT NULL,
  date DATETIME(6) NOT NULL
);

CREATE TABLE transaction_lines (
  id INT AUTO_INCREMENT PRIMARY KEY,
  transaction_id VARCHAR(64) NOT NULL REFERENCES transactions(transaction_id),
  item_id VARCHAR(64) NOT NULL REFERENCES items(item_id) ON DELETE RESTRICT,
  quantity INT NOT NULL
);
*/
