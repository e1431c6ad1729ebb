package service

import (
	"errors"
	"fmt"
)

// Common service errors
var (
	// ErrNotFound is returned when a resource is not found. The entity
	// specific errors below wrap it.
	ErrNotFound = errors.New("not found")

	ErrDealNotFound     = fmt.Errorf("deal %w", ErrNotFound)
	ErrCustomerNotFound = fmt.Errorf("customer %w", ErrNotFound)
	ErrWipNotFound      = fmt.Errorf("wip record %w", ErrNotFound)

	// ErrForbidden is returned when the caller's role does not allow the action
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidStage is returned for a stage outside the canonical set
	ErrInvalidStage = errors.New("invalid deal stage")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrCustomerHasDeals is returned when deleting a customer that deals still reference
	ErrCustomerHasDeals = errors.New("customer still has deals")

	// ErrDeletionFailed is returned when a deal survives every deletion strategy
	ErrDeletionFailed = errors.New("deal deletion failed")
)
