package liasse

import "errors"

var (
	// ErrInvalidOperation is returned when a request cannot be honoured given its inputs,
	// such as completing a bundle below target.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrInvalidTarget is returned, wrapped in ErrInvalidOperation, for a non-positive target.
	ErrInvalidTarget = errors.New("target must be a positive integer")
	// ErrBelowTarget is returned, wrapped in ErrInvalidOperation, when an incomplete bundle is submitted.
	ErrBelowTarget = errors.New("cannot complete a bundle below target")
	// ErrUnitLimit is returned, wrapped in ErrInvalidOperation, when piles exceed MaxUnits.
	ErrUnitLimit = errors.New("unit limit exceeded")
	// ErrAlreadyCompleted is returned when a bundle was already recorded or no longer matches the piles.
	ErrAlreadyCompleted = errors.New("bundle already completed")
	// ErrStaleInstruction is returned, wrapped in ErrAlreadyCompleted, when a
	// bundle's steps no longer match the piles, typically because an earlier
	// bundle drawing on the same piles has not been completed.
	ErrStaleInstruction = errors.New("instruction no longer matches the piles")
	// ErrNotFound is returned when a bundle is not present in the ledger.
	ErrNotFound = errors.New("bundle not found")
	// ErrInvariantViolation signals that unit conservation was broken while applying a bundle.
	ErrInvariantViolation = errors.New("unit conservation invariant violated")
)
