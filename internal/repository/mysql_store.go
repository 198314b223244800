package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"pantry-service/internal/apperr"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// MySQL server error numbers the store reacts to.
const (
	errDuplicateEntry  = 1062
	errRowIsReferenced = 1451
	errRowReferenced2  = 1217
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db}
}

type mysqlTx struct {
	tx *sql.Tx
}

func (s *MySQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.runInTx(ctx, func(tx *mysqlTx) error {
		return fn(ctx, tx)
	})
}

func (s *MySQLStore) runInTx(ctx context.Context, fn func(tx *mysqlTx) error) error {
	// Start a transaction
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err, "begin transaction")
	}

	if err := fn(&mysqlTx{tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.Error().Err(rbErr).Msg("Error rolling back transaction")
		}
		return err
	}

	// Commit the transaction
	if err := tx.Commit(); err != nil {
		return classify(err, "commit transaction")
	}
	return nil
}

// isDuplicatePrimary reports a duplicate key on a primary key, as opposed
// to a secondary unique index such as items.name.
func isDuplicatePrimary(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != errDuplicateEntry {
		return false
	}
	// MySQL 8 reports 'items.PRIMARY', older servers 'PRIMARY'.
	return strings.HasSuffix(myErr.Message, "PRIMARY'")
}

// classify turns driver errors into the service error taxonomy.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errDuplicateEntry:
			return apperr.Wrap(err, apperr.KindConflict, "%s: duplicate key", op)
		case errRowIsReferenced, errRowReferenced2:
			return apperr.Wrap(err, apperr.KindConflict, "%s: row is referenced", op)
		case errLockWaitTimeout, errDeadlock:
			return apperr.Unavailable(err, "%s: lock contention", op)
		}
		return apperr.Wrap(err, apperr.KindInternal, "%s", op)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return apperr.Wrap(err, apperr.KindNotFound, "%s: not found", op)
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		return apperr.Unavailable(err, "%s: storage unavailable", op)
	}
	return apperr.Wrap(err, apperr.KindInternal, "%s", op)
}
