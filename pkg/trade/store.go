package trade

import (
	"errors"
	"time"
)

var ErrDuplicate = errors.New("trade: duplicate trade")

// Store keeps the append-only trade history. Append must fail with
// ErrDuplicate for an id that has already been stored.
type Store interface {
	Append(*Trade) error
	List(from time.Time, to time.Time) ([]*Trade, error)
}
