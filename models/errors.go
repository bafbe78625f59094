package models

import (
	"errors"
	"fmt"
)

// Kategori error. Semua error domain membungkus salah satu dari ini
// sehingga handler cukup memakai errors.Is untuk menentukan status HTTP.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrTransient    = errors.New("transient failure")
)

var (
	ErrTableNotFound   = fmt.Errorf("table %w", ErrNotFound)
	ErrOrderNotFound   = fmt.Errorf("order %w", ErrNotFound)
	ErrItemNotFound    = fmt.Errorf("order item %w", ErrNotFound)
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	ErrPaymentNotFound = fmt.Errorf("payment record %w", ErrNotFound)
	ErrNoActiveRound   = fmt.Errorf("confirmation round %w", ErrNotFound)

	ErrRoundActive       = fmt.Errorf("%w: confirmation round already active", ErrConflict)
	ErrAlreadyPaid       = fmt.Errorf("%w: obligation already paid", ErrConflict)
	ErrAttemptSuperseded = fmt.Errorf("%w: payment attempt superseded", ErrConflict)
	ErrAlreadyProcessed  = fmt.Errorf("%w: payment already processed", ErrConflict)

	ErrOrderClosed      = fmt.Errorf("%w: order is closed", ErrInvalidState)
	ErrNotInRound       = fmt.Errorf("%w: client is not part of the confirmation round", ErrInvalidState)
	ErrAmountMismatch   = fmt.Errorf("%w: reported amount does not match", ErrInvalidState)
	ErrInvalidQuantity  = fmt.Errorf("%w: quantity must be positive", ErrInvalidState)
	ErrInvalidItemState = fmt.Errorf("%w: unknown item state", ErrInvalidState)
	ErrNothingToPay     = fmt.Errorf("%w: nothing to pay", ErrInvalidState)
	ErrNoItems          = fmt.Errorf("%w: order has no pending items", ErrInvalidState)
)

// Transient membungkus error storage/gateway agar bisa dikenali sebagai ErrTransient.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
