package models

import (
	"errors"
	"fmt"
)

// Sentinel domain errors, mapped to HTTP statuses at the API boundary.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("service unavailable")
	ErrTooFrequent = errors.New("too many requests")
)

// ValidationError reports bad input shape or range.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// InsufficientStockError names the item that could not be fulfilled.
type InsufficientStockError struct {
	SKUID int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for sku %d", e.SKUID)
}
