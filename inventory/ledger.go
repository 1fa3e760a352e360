/*
ledger.go - Read side of the transaction ledger

PURPOSE:
  Lists committed transactions for one business. The listing is a lazy
  iterator: pages are fetched from the LedgerStore only as the caller
  ranges, and ranging again starts over from the first transaction.

ORDERING:
  Insertion order, i.e. the order transactions committed.

FILTERS:
  Inclusive date range on Transaction.Date and/or a transaction type.
  See ListFilter.

EXAMPLE:
  ledger := inventory.NewLedger(store, 100)
  for tx, err := range ledger.List(ctx, "biz-1", inventory.ListFilter{Type: inventory.TxSale}) {
      if err != nil {
          return err
      }
      fmt.Println(tx.ID, tx.TotalAmount)
  }

SEE ALSO:
  - store.go: LedgerStore paging contract
  - engine.go: The only writer
*/
package inventory

import (
	"context"
	"iter"

	"github.com/shopspring/decimal"
)

// DefaultPageSize is used when NewLedger is given a non-positive page size.
const DefaultPageSize = 100

// Ledger is the query surface over a LedgerStore.
type Ledger struct {
	store    LedgerStore
	pageSize int
}

// NewLedger creates a ledger reader that fetches pageSize transactions per
// store round trip.
func NewLedger(store LedgerStore, pageSize int) *Ledger {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Ledger{store: store, pageSize: pageSize}
}

// List yields the business's transactions that match filter. A store error or
// an invalid filter is yielded once as the final element.
func (l *Ledger) List(ctx context.Context, businessID BusinessID, filter ListFilter) iter.Seq2[Transaction, error] {
	return func(yield func(Transaction, error) bool) {
		if err := filter.Validate(); err != nil {
			yield(Transaction{}, err)
			return
		}

		var cursor int64
		for {
			page, err := l.store.ListTransactions(ctx, businessID, filter, cursor, l.pageSize)
			if err != nil {
				yield(Transaction{}, err)
				return
			}
			for _, tx := range page.Transactions {
				if !yield(tx, nil) {
					return
				}
			}
			if len(page.Transactions) < l.pageSize {
				return
			}
			cursor = page.Cursor
		}
	}
}

// Collect drains List into a slice.
func (l *Ledger) Collect(ctx context.Context, businessID BusinessID, filter ListFilter) ([]Transaction, error) {
	txs := []Transaction{}
	for tx, err := range l.List(ctx, businessID, filter) {
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// Get returns one transaction of the business.
func (l *Ledger) Get(ctx context.Context, businessID BusinessID, id TransactionID) (Transaction, error) {
	return l.store.GetTransaction(ctx, businessID, id)
}

// =============================================================================
// SUMMARY
// =============================================================================

// TypeSummary aggregates transactions of one type.
type TypeSummary struct {
	Count       int
	TotalAmount decimal.Decimal
	Quantity    int64
}

// Summary aggregates a listing per transaction type.
type Summary struct {
	Sales     TypeSummary
	Purchases TypeSummary
}

// Summarize ranges over the filtered listing and totals it per type.
func (l *Ledger) Summarize(ctx context.Context, businessID BusinessID, filter ListFilter) (Summary, []Transaction, error) {
	s := Summary{
		Sales:     TypeSummary{TotalAmount: decimal.Zero},
		Purchases: TypeSummary{TotalAmount: decimal.Zero},
	}
	txs := []Transaction{}
	for tx, err := range l.List(ctx, businessID, filter) {
		if err != nil {
			return Summary{}, nil, err
		}
		txs = append(txs, tx)

		ts := &s.Purchases
		if tx.Type == TxSale {
			ts = &s.Sales
		}
		ts.Count++
		ts.TotalAmount = ts.TotalAmount.Add(tx.TotalAmount)
		for _, li := range tx.LineItems {
			ts.Quantity += li.Quantity
		}
	}
	return s, txs, nil
}
