package projections

import (
	"database/sql"
	"errors"
	"fmt"

	domainPayment "clubdues/internal/domain/payment"
)

// storeError maps a store failure onto the payment error taxonomy.
func storeError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domainPayment.ErrNotFound)
	}
	return &domainPayment.StorageError{Op: op, Err: err}
}
