package services

import "errors"

var (
	// ErrInvalidAmount: the amount is not a positive integer. Raised before
	// any serialization, nothing is touched.
	ErrInvalidAmount = errors.New("invalid amount: must be a positive integer")

	// ErrInsufficientBalance: a use exceeds the balance at commit time.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBalanceOverflow: a charge would push the balance past int64.
	ErrBalanceOverflow = errors.New("balance overflow")
)
