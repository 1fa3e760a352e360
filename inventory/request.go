/*
request.go - Submission input for the stock engine

PURPOSE:
  SubmitRequest is what callers hand to Engine.Submit. Validate performs
  every check that needs no store access, so malformed input is rejected
  before anything is read or written.

VALIDATION RULES:
  - BusinessID required
  - Type must be sale or purchase
  - At least one line item
  - Each line: product id present, 0 < quantity <= MaxLineQuantity,
    price >= 0
  - IdempotencyKey, when present, at most 128 characters

SEE ALSO:
  - engine.go: Consumes SubmitRequest
  - api/dto.go: HTTP shape mapped onto SubmitRequest
*/
package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const maxIdempotencyKeyLen = 128

// MaxLineQuantity bounds the quantity of a single line item.
const MaxLineQuantity int64 = 1_000_000_000

// SubmitRequest describes a sale or purchase to be recorded.
type SubmitRequest struct {
	BusinessID     BusinessID
	Type           TransactionType
	CounterpartyID ContactID
	LineItems      []LineItem
	// Date is the business date of the transaction. Zero means now.
	Date           time.Time
	IdempotencyKey string
}

// Validate checks the request shape. It returns *ValidationError for the
// first problem found.
func (r SubmitRequest) Validate() error {
	if r.BusinessID == "" {
		return &ValidationError{Field: "businessId", Message: "is required"}
	}
	if !r.Type.Valid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("must be %q or %q", TxSale, TxPurchase)}
	}
	if len(r.LineItems) == 0 {
		return &ValidationError{Field: "lineItems", Message: "at least one line item is required"}
	}
	for i, li := range r.LineItems {
		field := fmt.Sprintf("lineItems[%d]", i)
		if li.ProductID == "" {
			return &ValidationError{Field: field + ".productId", Message: "is required"}
		}
		if li.Quantity <= 0 {
			return &ValidationError{Field: field + ".quantity", Message: "must be a positive integer"}
		}
		if li.Quantity > MaxLineQuantity {
			return &ValidationError{Field: field + ".quantity", Message: fmt.Sprintf("must not exceed %d", MaxLineQuantity)}
		}
		if li.Price.LessThan(decimal.Zero) {
			return &ValidationError{Field: field + ".price", Message: "must not be negative"}
		}
	}
	if len(r.IdempotencyKey) > maxIdempotencyKeyLen {
		return &ValidationError{Field: "idempotencyKey", Message: fmt.Sprintf("must be at most %d characters", maxIdempotencyKeyLen)}
	}
	return nil
}
