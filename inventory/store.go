/*
store.go - Persistence contracts consumed by the stock engine

PURPOSE:
  Defines the interface between the engine and the database. Products carry
  mutable stock; the ledger is append-only. Implementations: SQLite
  (store/sqlite) and in-memory (inventory/store).

KEY INTERFACES:
  ProductStore:     Business-scoped product lookup and conditional stock updates
  ContactDirectory: Counterparty resolution
  LedgerStore:      Append-only transaction persistence and paged listing
  TxStore:          Runs stock adjustments and the ledger append as one unit
  CatalogStore:     Product/contact maintenance used outside the engine

ADJUST STOCK CONTRACT:
  AdjustStock applies delta only if the resulting stock is >= 0. Otherwise it
  returns *StockConflictError and leaves the product untouched. It never
  clamps and never performs a read-modify-write on a stale snapshot. A delta
  that would overflow int64 is a *ValidationError.

APPEND-ONLY CONTRACT:
  There is no Update or Delete for transactions. Idempotency keys are unique
  per business; a second append with the same key returns
  ErrDuplicateIdempotencyKey.

ATOMIC UNITS:
  WithTx hands fn a UnitOfWork. If fn returns an error, every stock
  adjustment and ledger append made through the UnitOfWork is undone before
  WithTx returns. Nothing partial is visible after WithTx returns.

SEE ALSO:
  - engine.go: The only writer of stock and ledger
  - store/sqlite/sqlite.go: SQL implementation
  - inventory/store/memory.go: In-memory implementation
*/
package inventory

import (
	"context"
	"time"
)

// =============================================================================
// PRODUCTS AND CONTACTS
// =============================================================================

// ProductStore is the product contract consumed by the engine.
type ProductStore interface {
	// GetProduct returns ErrProductNotFound if the product does not exist
	// in businessID.
	GetProduct(ctx context.Context, businessID BusinessID, productID ProductID) (Product, error)

	// AdjustStock atomically adds delta to the product's stock and returns
	// the updated product. A negative result is refused with *StockConflictError.
	AdjustStock(ctx context.Context, businessID BusinessID, productID ProductID, delta int64) (Product, error)
}

// ContactDirectory resolves counterparties referenced by transactions.
type ContactDirectory interface {
	// ResolveContact returns ErrContactNotFound if the contact does not exist
	// in businessID.
	ResolveContact(ctx context.Context, businessID BusinessID, contactID ContactID) (Contact, error)
}

// CatalogStore maintains products and contacts. Catalog writes never touch
// stock of an existing product.
type CatalogStore interface {
	// CreateProduct inserts p or fails with ErrProductExists.
	CreateProduct(ctx context.Context, p Product) error
	SaveProduct(ctx context.Context, p Product) error
	ListProducts(ctx context.Context, businessID BusinessID) ([]Product, error)
	SaveContact(ctx context.Context, c Contact) error
	ListContacts(ctx context.Context, businessID BusinessID, typ ContactType) ([]Contact, error)
}

// =============================================================================
// LEDGER
// =============================================================================

// ListFilter narrows a ledger listing. Nil bounds are open; both bounds are
// inclusive and compare against Transaction.Date.
type ListFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Type      TransactionType
}

// Validate rejects inverted ranges and unknown types.
func (f ListFilter) Validate() error {
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return &ValidationError{Field: "startDate", Message: "must not be after endDate"}
	}
	if f.Type != "" && !f.Type.Valid() {
		return &ValidationError{Field: "type", Message: "must be sale or purchase"}
	}
	return nil
}

// Matches reports whether tx passes the filter.
func (f ListFilter) Matches(tx Transaction) bool {
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.StartDate != nil && tx.Date.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && tx.Date.After(*f.EndDate) {
		return false
	}
	return true
}

// Page is one slice of a ledger listing. Cursor is the insertion sequence of
// the last transaction in the page; pass it back to fetch the next page.
type Page struct {
	Transactions []Transaction
	Cursor       int64
}

// LedgerStore persists transactions. APPEND-ONLY.
type LedgerStore interface {
	// AppendTransaction writes a committed transaction outside any unit of work.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// GetTransaction returns ErrTransactionNotFound outside businessID.
	GetTransaction(ctx context.Context, businessID BusinessID, id TransactionID) (Transaction, error)

	// FindByIdempotencyKey returns the transaction recorded under key, if any.
	FindByIdempotencyKey(ctx context.Context, businessID BusinessID, key string) (Transaction, bool, error)

	// ListTransactions returns up to limit transactions inserted after cursor,
	// in insertion order.
	ListTransactions(ctx context.Context, businessID BusinessID, filter ListFilter, cursor int64, limit int) (Page, error)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// UnitOfWork is the transactional view handed to a WithTx callback.
type UnitOfWork interface {
	ProductStore
	AppendTransaction(ctx context.Context, tx Transaction) error
}

// TxStore runs fn as one all-or-nothing unit scoped to businessID.
type TxStore interface {
	WithTx(ctx context.Context, businessID BusinessID, fn func(UnitOfWork) error) error
}

// Store is everything the engine needs.
type Store interface {
	ProductStore
	ContactDirectory
	LedgerStore
	TxStore
}

// Backend is a Store that also maintains the catalog. Both shipped
// implementations satisfy it.
type Backend interface {
	Store
	CatalogStore
}
