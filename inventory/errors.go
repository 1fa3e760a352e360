/*
errors.go - Centralized error types for the stock engine

PURPOSE:
  All failures the engine can return, in one place. Callers branch with
  errors.Is on the sentinels or errors.As on the structured types.

ERROR CATEGORIES:
  1. Client errors     - ValidationError, ProductNotFound, InsufficientStock
  2. Store conflicts   - Conflict (floor violated), ConcurrentModification
                         (lost an optimistic race, retried by the engine)
  3. Persistence       - PersistenceError: store unavailable, timed out, or
                         retries exhausted. The submission was not applied.

USAGE:
  tx, err := engine.Submit(ctx, req)
  var short *inventory.InsufficientStockError
  if errors.As(err, &short) {
      fmt.Println("not enough", short.Name)
  }

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package inventory

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrProductNotFound is returned when a product does not exist in the
	// requesting business.
	ErrProductNotFound = errors.New("product not found")

	// ErrContactNotFound is returned by ContactDirectory lookups.
	ErrContactNotFound = errors.New("contact not found")

	// ErrTransactionNotFound is returned by ledger lookups.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInsufficientStock is returned when a sale exceeds available stock.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrConflict is returned when a stock adjustment would make stock negative.
	ErrConflict = errors.New("stock conflict")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists in the business.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrProductExists is returned when creating a product whose id is
	// already taken in the business.
	ErrProductExists = errors.New("product already exists")

	// ErrPersistence is wrapped by every PersistenceError.
	ErrPersistence = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports malformed or missing input. No side effects occurred.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ProductNotFoundError names a product that did not resolve within the business.
type ProductNotFoundError struct {
	BusinessID BusinessID
	ProductID  ProductID
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found in business %s", e.ProductID, e.BusinessID)
}

func (e *ProductNotFoundError) Unwrap() error {
	return ErrProductNotFound
}

// InsufficientStockError names the first product a sale could not be filled from.
type InsufficientStockError struct {
	ProductID ProductID
	Name      string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = string(e.ProductID)
	}
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// StockConflictError is returned by AdjustStock when applying Delta to Stock
// would go below zero. Stock is the value observed when the update was refused.
type StockConflictError struct {
	ProductID ProductID
	Stock     int64
	Delta     int64
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("stock conflict on product %s: stock %d, delta %d",
		e.ProductID, e.Stock, e.Delta)
}

func (e *StockConflictError) Unwrap() error {
	return ErrConflict
}

// PersistenceError means the store could not durably commit. The caller must
// treat the submission as not applied.
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrProductExists)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrContactNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
