package book

import "github.com/cockroachdb/errors"

// Validation errors. These are returned before the book is touched.
var (
	ErrMarketMismatch = errors.New("order targets a different market")
	ErrInvalidSide    = errors.New("order side must be bid or ask")
	ErrZeroQuantity   = errors.New("order quantity must be positive")
	ErrZeroPrice      = errors.New("order price must be positive")
)

// ErrSettlement marks a failed settlement notification (the Web3 error kind).
// When Submit returns it, the match has already been committed.
var ErrSettlement = errors.New("settlement notification failed")

// ErrRestoreCrosses is returned by Restore for an order that would trade
// against the opposite side.
var ErrRestoreCrosses = errors.New("restored order crosses the book")

// IsValidation reports whether err was raised by pre-match validation.
func IsValidation(err error) bool {
	return errors.IsAny(err, ErrMarketMismatch, ErrInvalidSide, ErrZeroQuantity, ErrZeroPrice)
}

// IsSettlement reports whether err is a settlement transport failure.
func IsSettlement(err error) bool {
	return errors.Is(err, ErrSettlement)
}
