/*
types.go - Core domain types for stock-tracked sales and purchases

PURPOSE:
  Defines the value types shared by the engine, the stores and the API:
  products with a non-negative stock level, contacts (customers and vendors),
  and immutable ledger transactions made of priced line items.

KEY CONCEPTS:
  Business:     Tenant scope. Every product, contact and transaction carries
                one and is never visible across businesses.
  Transaction:  A committed sale or purchase. Created once, never updated.
  LineItem:     (product, quantity, price). The price is captured at submit
                time and never re-derived from the catalog.
  StockDelta:   Signed stock change for one product (+ purchase, - sale).

MONEY:
  Prices and totals are shopspring/decimal values so totals are exact sums
  of quantity x price with no float drift.

SEE ALSO:
  - engine.go: Applies transactions to stock
  - store.go: Persistence contracts for these types
  - errors.go: Typed failures
*/
package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BusinessID string
type ProductID string
type ContactID string
type TransactionID string

// =============================================================================
// TRANSACTION TYPE
// =============================================================================

// TransactionType distinguishes sales (stock leaves) from purchases (stock arrives).
type TransactionType string

const (
	TxSale     TransactionType = "sale"
	TxPurchase TransactionType = "purchase"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	return t == TxSale || t == TxPurchase
}

// StockSign is the direction a transaction of this type moves stock.
func (t TransactionType) StockSign() int64 {
	if t == TxSale {
		return -1
	}
	return 1
}

// CounterpartyType is the contact type a transaction of this type may reference.
func (t TransactionType) CounterpartyType() ContactType {
	if t == TxSale {
		return ContactCustomer
	}
	return ContactVendor
}

// =============================================================================
// CATALOG
// =============================================================================

type ContactType string

const (
	ContactCustomer ContactType = "customer"
	ContactVendor   ContactType = "vendor"
)

// Valid reports whether c is a known contact type.
func (c ContactType) Valid() bool {
	return c == ContactCustomer || c == ContactVendor
}

// Product is a stock-tracked catalog item.
// Stock is mutated only through ProductStore.AdjustStock; Version increments
// on every mutation.
type Product struct {
	ID          ProductID
	BusinessID  BusinessID
	Name        string
	Description string
	Category    string
	Price       decimal.Decimal
	Stock       int64
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Contact is a customer or vendor referenced by transactions.
type Contact struct {
	ID         ContactID
	BusinessID BusinessID
	Name       string
	Email      string
	Phone      string
	Address    string
	Type       ContactType
	CreatedAt  time.Time
}

// =============================================================================
// TRANSACTION
// =============================================================================

// LineItem is one priced quantity of a product within a transaction.
type LineItem struct {
	ProductID ProductID
	Quantity  int64
	Price     decimal.Decimal
}

// Amount returns Quantity x Price.
func (li LineItem) Amount() decimal.Decimal {
	return decimal.NewFromInt(li.Quantity).Mul(li.Price)
}

// Transaction is an immutable ledger entry.
// At most one of CustomerID (sales) or VendorID (purchases) is set.
type Transaction struct {
	ID             TransactionID
	BusinessID     BusinessID
	Type           TransactionType
	CustomerID     ContactID
	VendorID       ContactID
	LineItems      []LineItem
	TotalAmount    decimal.Decimal
	Date           time.Time
	IdempotencyKey string
	CreatedAt      time.Time
}

// CounterpartyID returns whichever contact the transaction references.
func (t Transaction) CounterpartyID() ContactID {
	if t.CustomerID != "" {
		return t.CustomerID
	}
	return t.VendorID
}

// TotalOf returns the exact sum of quantity x price over items.
func TotalOf(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, li := range items {
		total = total.Add(li.Amount())
	}
	return total
}

// =============================================================================
// STOCK DELTAS
// =============================================================================

// StockDelta is the signed stock change a transaction applies to one product.
type StockDelta struct {
	ProductID ProductID
	Delta     int64
}

// Deltas folds line items into one delta per product, in order of first
// appearance. A product listed twice moves by the sum of its quantities. A
// sum that does not fit in int64 is a ValidationError on the line that
// overflowed it.
func Deltas(t TransactionType, items []LineItem) ([]StockDelta, error) {
	index := make(map[ProductID]int, len(items))
	deltas := make([]StockDelta, 0, len(items))
	sign := t.StockSign()

	for i, li := range items {
		if li.Quantity <= 0 || li.Quantity > MaxLineQuantity {
			return nil, quantityError(i, fmt.Sprintf("must be between 1 and %d", MaxLineQuantity))
		}
		if j, ok := index[li.ProductID]; ok {
			sum, ok := AddStock(deltas[j].Delta, sign*li.Quantity)
			if !ok {
				return nil, quantityError(i, "total quantity for the product is too large")
			}
			deltas[j].Delta = sum
			continue
		}
		index[li.ProductID] = len(deltas)
		deltas = append(deltas, StockDelta{ProductID: li.ProductID, Delta: sign * li.Quantity})
	}
	return deltas, nil
}

// AddStock returns stock+delta, or false when the sum overflows int64.
func AddStock(stock, delta int64) (int64, bool) {
	sum := stock + delta
	if (delta > 0 && sum < stock) || (delta < 0 && sum > stock) {
		return 0, false
	}
	return sum, true
}

func quantityError(line int, msg string) *ValidationError {
	return &ValidationError{Field: fmt.Sprintf("lineItems[%d].quantity", line), Message: msg}
}
