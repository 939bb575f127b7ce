package ledger

import "errors"

// Sentinel errors for ledger transitions. The API layer maps these to HTTP
// status codes. A transition that returns an error leaves the input ledger
// untouched — there are no half-applied mutations.
var (
	// ErrInsufficientFunds is returned when a buy would drive cash negative.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientHoldings is returned when a sell exceeds the units held.
	ErrInsufficientHoldings = errors.New("ledger: insufficient holdings")

	// ErrInvalidQuantity is returned for a non-positive order quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")

	// ErrInvalidPrice is returned for a non-positive execution or target price.
	ErrInvalidPrice = errors.New("ledger: price must be positive")

	// ErrInvalidSide is returned for a side other than BUY or SELL.
	ErrInvalidSide = errors.New("ledger: side must be BUY or SELL")

	// ErrOrderNotFound is returned when a cancel or fill target is absent.
	ErrOrderNotFound = errors.New("ledger: order not found")

	// ErrAssetNotFound is returned when an order references an unknown asset.
	// Defensive; should not occur given the closed asset universe.
	ErrAssetNotFound = errors.New("ledger: asset not found")
)
