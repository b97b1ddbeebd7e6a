package repository

import "errors"

var (
	ErrRecordNotFound      = errors.New("inventory record not found")
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrVersionConflict means another writer got to the record first.
	// Callers re-read and retry.
	ErrVersionConflict = errors.New("inventory record version conflict")

	// ErrReservationStateChanged means the reservation left the expected
	// state between read and write. The caller re-reads and applies the
	// terminal-state policy.
	ErrReservationStateChanged = errors.New("reservation state changed")
)
