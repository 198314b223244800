package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

var tables = []struct {
	name  string
	query string
}{
	{"items", `
		CREATE TABLE IF NOT EXISTS items (
			item_id VARCHAR(64) NOT NULL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			category VARCHAR(255) NOT NULL DEFAULT '',
			current_stock INT NOT NULL,
			threshold INT NOT NULL DEFAULT 0,
			last_restocked DATETIME(6) NULL,
			demand_score DOUBLE NOT NULL DEFAULT 0,
			CHECK (current_stock >= 0)
		);
	`},
	{"transactions", `
		CREATE TABLE IF NOT EXISTS transactions (
			transaction_id VARCHAR(64) NOT NULL PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			requester_id VARCHAR(255) NOT NULL DEFAULT '',
			type VARCHAR(20) NOT NULL,
			date DATETIME(6) NOT NULL,
			INDEX idx_transactions_user (user_id)
		);
	`},
	{"transaction_lines", `
		CREATE TABLE IF NOT EXISTS transaction_lines (
			id INT AUTO_INCREMENT PRIMARY KEY,
			transaction_id VARCHAR(64) NOT NULL,
			item_id VARCHAR(64) NOT NULL,
			quantity INT NOT NULL,
			FOREIGN KEY (transaction_id) REFERENCES transactions(transaction_id),
			FOREIGN KEY (item_id) REFERENCES items(item_id) ON DELETE RESTRICT
		);
	`},
	{"orders", `
		CREATE TABLE IF NOT EXISTS orders (
			order_id VARCHAR(64) NOT NULL PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL,
			date DATETIME(6) NOT NULL,
			INDEX idx_orders_user_date (user_id, date),
			FOREIGN KEY (order_id) REFERENCES transactions(transaction_id)
		);
	`},
	{"order_lines", `
		CREATE TABLE IF NOT EXISTS order_lines (
			id INT AUTO_INCREMENT PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL,
			item_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			quantity INT NOT NULL,
			FOREIGN KEY (order_id) REFERENCES orders(order_id) ON DELETE CASCADE
		);
	`},
}

// AutoMigrate creates every pantry table that does not exist yet, in
// dependency order, retrying each statement up to retries times.
func AutoMigrate(db *sql.DB, retries int) error {
	for _, table := range tables {
		_, err := db.Exec(table.query)
		if err != nil {
			// Retry creating the table
			for i := 0; i < retries; i++ {
				time.Sleep(1 * time.Second)
				_, err = db.Exec(table.query)
				if err == nil {
					break
				}
			}
		}
		if err != nil {
			return fmt.Errorf("create table %s: %w", table.name, err)
		}
	}
	return nil
}
