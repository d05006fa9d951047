package order

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrUnknownStatus       = errors.New("unknown order status")
	ErrOrderNotFulfilled   = errors.New("only a fulfilled order can be reverted")
	ErrUnauthorized        = errors.New("revert secret mismatch")
	ErrNoteIndexOutOfRange = errors.New("note index out of range")

	// ErrTxConflict and ErrStoreUnavailable are the only retryable kinds.
	ErrTxConflict       = errors.New("transaction conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsRetryable reports whether a caller may retry the operation (with
// backoff). Everything else is terminal and must be surfaced as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTxConflict) || errors.Is(err, ErrStoreUnavailable)
}

// classifyPgError folds Postgres failures into the retryable sentinels so
// callers can distinguish a serialization/deadlock abort from a business
// error without knowing SQLSTATEs.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsTransactionRollback(pgErr.Code):
			return fmt.Errorf("%w: %s", ErrTxConflict, pgErr.Message)
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code):
			return fmt.Errorf("%w: %s", ErrStoreUnavailable, pgErr.Message)
		}
	}

	return err
}
