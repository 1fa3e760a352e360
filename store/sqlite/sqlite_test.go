package sqlite

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/stock-engine/inventory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const biz inventory.BusinessID = "biz-1"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newFileStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "stock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func saveProduct(t *testing.T, s *Store, businessID inventory.BusinessID, id string, stock int64) {
	t.Helper()
	require.NoError(t, s.SaveProduct(context.Background(), inventory.Product{
		ID:         inventory.ProductID(id),
		BusinessID: businessID,
		Name:       "Product " + id,
		Category:   "general",
		Price:      decimal.RequireFromString("2.50"),
		Stock:      stock,
	}))
}

func stock(t *testing.T, s *Store, businessID inventory.BusinessID, id string) int64 {
	t.Helper()
	p, err := s.GetProduct(context.Background(), businessID, inventory.ProductID(id))
	require.NoError(t, err)
	return p.Stock
}

func newEngine(t *testing.T, s *Store) *inventory.Engine {
	t.Helper()
	cfg := inventory.DefaultEngineConfig()
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxRetries = 5
	return inventory.NewEngine(s, inventory.WithConfig(cfg), inventory.WithLogger(zaptest.NewLogger(t)))
}

func saleOf(productID string, qty int64) inventory.SubmitRequest {
	return inventory.SubmitRequest{
		BusinessID: biz,
		Type:       inventory.TxSale,
		LineItems: []inventory.LineItem{{
			ProductID: inventory.ProductID(productID),
			Quantity:  qty,
			Price:     decimal.RequireFromString("2.50"),
		}},
	}
}

// =============================================================================
// PRODUCTS
// =============================================================================

func TestSQLite_ProductRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProduct(ctx, inventory.Product{
		ID: "p1", BusinessID: biz, Name: "Lamp", Description: "Desk lamp", Category: "lighting",
		Price: decimal.RequireFromString("19.99"), Stock: 7,
	}))

	p, err := s.GetProduct(ctx, biz, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Lamp", p.Name)
	assert.Equal(t, "Desk lamp", p.Description)
	assert.Equal(t, "19.99", p.Price.String())
	assert.Equal(t, int64(7), p.Stock)
	assert.Equal(t, int64(1), p.Version)
	assert.False(t, p.CreatedAt.IsZero())

	// Catalog update keeps stock.
	require.NoError(t, s.SaveProduct(ctx, inventory.Product{
		ID: "p1", BusinessID: biz, Name: "Lamp XL", Price: decimal.RequireFromString("24.00"), Stock: 500,
	}))
	p, err = s.GetProduct(ctx, biz, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Lamp XL", p.Name)
	assert.Equal(t, int64(7), p.Stock)

	_, err = s.GetProduct(ctx, "biz-2", "p1")
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func TestSQLite_SameProductIDInTwoBusinesses(t *testing.T) {
	s := newTestStore(t)
	saveProduct(t, s, biz, "p1", 3)
	saveProduct(t, s, "biz-2", "p1", 40)

	_, err := s.AdjustStock(context.Background(), biz, "p1", -1)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stock(t, s, biz, "p1"))
	assert.Equal(t, int64(40), stock(t, s, "biz-2", "p1"))

	products, err := s.ListProducts(context.Background(), biz)
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestSQLite_ConditionalUpdateRefusesNegativeStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveProduct(t, s, biz, "p1", 2)

	p, err := s.AdjustStock(ctx, biz, "p1", -2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Stock)
	assert.Equal(t, int64(2), p.Version)

	_, err = s.AdjustStock(ctx, biz, "p1", -1)
	var conflict *inventory.StockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(0), conflict.Stock)

	_, err = s.AdjustStock(ctx, biz, "missing", 1)
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func TestSQLite_ConditionalUpdateRefusesOverflow(t *testing.T) {
	// GIVEN: A product one unit below the int64 limit
	// WHEN: Adjustments would push stock past the limit
	// THEN: They fail as validation errors and stock stays an exact integer

	s := newTestStore(t)
	ctx := context.Background()
	saveProduct(t, s, biz, "p1", math.MaxInt64-1)

	_, err := s.AdjustStock(ctx, biz, "p1", 2)
	assert.ErrorIs(t, err, inventory.ErrValidation)
	assert.NotErrorIs(t, err, inventory.ErrConflict)
	assert.Equal(t, int64(math.MaxInt64-1), stock(t, s, biz, "p1"))

	p, err := s.AdjustStock(ctx, biz, "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), p.Stock)

	_, err = s.AdjustStock(ctx, biz, "p1", math.MinInt64)
	assert.ErrorIs(t, err, inventory.ErrValidation)

	p, err = s.AdjustStock(ctx, biz, "p1", -math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Stock)
}

func TestSQLite_CreateProductRejectsTakenID(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	const n = 6
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.CreateProduct(ctx, inventory.Product{
				ID: "p1", BusinessID: biz, Name: "Lamp", Price: decimal.NewFromInt(int64(i)), Stock: int64(i),
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, inventory.ErrProductExists)
	}
	assert.Equal(t, 1, created)

	require.NoError(t, s.CreateProduct(ctx, inventory.Product{ID: "p1", BusinessID: "biz-2", Name: "Lamp"}))
}

// =============================================================================
// CONTACTS
// =============================================================================

func TestSQLite_Contacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveContact(ctx, inventory.Contact{
		ID: "c1", BusinessID: biz, Name: "Maya", Email: "maya@example.com", Type: inventory.ContactCustomer,
	}))
	require.NoError(t, s.SaveContact(ctx, inventory.Contact{ID: "v1", BusinessID: biz, Name: "Acme", Type: inventory.ContactVendor}))

	c, err := s.ResolveContact(ctx, biz, "c1")
	require.NoError(t, err)
	assert.Equal(t, "maya@example.com", c.Email)
	assert.Equal(t, inventory.ContactCustomer, c.Type)

	_, err = s.ResolveContact(ctx, "biz-2", "c1")
	assert.ErrorIs(t, err, inventory.ErrContactNotFound)

	vendors, err := s.ListContacts(ctx, biz, inventory.ContactVendor)
	require.NoError(t, err)
	require.Len(t, vendors, 1)
	assert.Equal(t, inventory.ContactID("v1"), vendors[0].ID)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestSQLite_TransactionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2025, time.May, 4, 10, 0, 0, 123, time.UTC)

	in := inventory.Transaction{
		ID:         "t1",
		BusinessID: biz,
		Type:       inventory.TxPurchase,
		VendorID:   "v1",
		LineItems: []inventory.LineItem{
			{ProductID: "p1", Quantity: 3, Price: decimal.RequireFromString("1.10")},
			{ProductID: "p2", Quantity: 1, Price: decimal.RequireFromString("0.05")},
		},
		TotalAmount:    decimal.RequireFromString("3.35"),
		Date:           date,
		IdempotencyKey: "k1",
		CreatedAt:      date,
	}
	require.NoError(t, s.AppendTransaction(ctx, in))

	out, err := s.GetTransaction(ctx, biz, "t1")
	require.NoError(t, err)
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.VendorID, out.VendorID)
	assert.Empty(t, out.CustomerID)
	assert.Equal(t, "3.35", out.TotalAmount.String())
	assert.True(t, date.Equal(out.Date))
	require.Len(t, out.LineItems, 2)
	assert.Equal(t, inventory.ProductID("p1"), out.LineItems[0].ProductID)
	assert.Equal(t, "0.05", out.LineItems[1].Price.String())

	found, ok, err := s.FindByIdempotencyKey(ctx, biz, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, in.ID, found.ID)

	_, err = s.GetTransaction(ctx, "biz-2", "t1")
	assert.ErrorIs(t, err, inventory.ErrTransactionNotFound)
}

func TestSQLite_DuplicateIdempotencyKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendTransaction(ctx, inventory.Transaction{ID: "t1", BusinessID: biz, Type: inventory.TxSale, IdempotencyKey: "k"}))
	err := s.AppendTransaction(ctx, inventory.Transaction{ID: "t2", BusinessID: biz, Type: inventory.TxSale, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, inventory.ErrDuplicateIdempotencyKey)

	require.NoError(t, s.AppendTransaction(ctx, inventory.Transaction{ID: "t3", BusinessID: "biz-2", Type: inventory.TxSale, IdempotencyKey: "k"}))
	// Keyless transactions never collide.
	require.NoError(t, s.AppendTransaction(ctx, inventory.Transaction{ID: "t4", BusinessID: biz, Type: inventory.TxSale}))
	require.NoError(t, s.AppendTransaction(ctx, inventory.Transaction{ID: "t5", BusinessID: biz, Type: inventory.TxSale}))
}

func TestSQLite_LedgerIsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AppendTransaction(ctx, inventory.Transaction{
		ID: "t1", BusinessID: biz, Type: inventory.TxSale,
		LineItems: []inventory.LineItem{{ProductID: "p1", Quantity: 1, Price: decimal.Zero}},
	}))

	_, err := s.db.ExecContext(ctx, `UPDATE transactions SET total_amount = '0' WHERE id = 't1'`)
	assert.ErrorContains(t, err, "append-only")
	_, err = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = 't1'`)
	assert.ErrorContains(t, err, "append-only")
	_, err = s.db.ExecContext(ctx, `UPDATE transaction_lines SET quantity = 5 WHERE transaction_id = 't1'`)
	assert.ErrorContains(t, err, "append-only")
}

func TestSQLite_ListTransactionsFiltersAndPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		typ := inventory.TxSale
		if i%2 == 0 {
			typ = inventory.TxPurchase
		}
		require.NoError(t, s.AppendTransaction(ctx, inventory.Transaction{
			ID:         inventory.TransactionID("t" + string(rune('0'+i))),
			BusinessID: biz,
			Type:       typ,
			Date:       time.Date(2025, time.June, i, 0, 0, 0, 0, time.UTC),
		}))
	}

	page, err := s.ListTransactions(ctx, biz, inventory.ListFilter{}, 0, 2)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, inventory.TransactionID("t1"), page.Transactions[0].ID)

	page, err = s.ListTransactions(ctx, biz, inventory.ListFilter{}, page.Cursor, 10)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 3)
	assert.Equal(t, inventory.TransactionID("t3"), page.Transactions[0].ID)

	start := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.June, 4, 0, 0, 0, 0, time.UTC)
	page, err = s.ListTransactions(ctx, biz, inventory.ListFilter{StartDate: &start, EndDate: &end, Type: inventory.TxPurchase}, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, inventory.TransactionID("t2"), page.Transactions[0].ID)
	assert.Equal(t, inventory.TransactionID("t4"), page.Transactions[1].ID)

	ledger := inventory.NewLedger(s, 2)
	all, err := ledger.Collect(ctx, biz, inventory.ListFilter{Type: inventory.TxSale})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

func TestSQLite_WithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveProduct(t, s, biz, "p1", 5)
	boom := errors.New("boom")

	err := s.WithTx(ctx, biz, func(uow inventory.UnitOfWork) error {
		if _, err := uow.AdjustStock(ctx, biz, "p1", -4); err != nil {
			return err
		}
		if err := uow.AppendTransaction(ctx, inventory.Transaction{ID: "t1", BusinessID: biz, Type: inventory.TxSale}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, int64(5), stock(t, s, biz, "p1"))
	_, err = s.GetTransaction(ctx, biz, "t1")
	assert.ErrorIs(t, err, inventory.ErrTransactionNotFound)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestSQLite_EngineRejectsWholeSaleOnShortLine(t *testing.T) {
	s := newTestStore(t)
	engine := newEngine(t, s)
	saveProduct(t, s, biz, "p1", 10)
	saveProduct(t, s, biz, "p2", 1)

	req := saleOf("p1", 4)
	req.LineItems = append(req.LineItems, inventory.LineItem{ProductID: "p2", Quantity: 2, Price: decimal.NewFromInt(1)})
	_, err := engine.Submit(context.Background(), req)

	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, int64(10), stock(t, s, biz, "p1"))
	assert.Equal(t, int64(1), stock(t, s, biz, "p2"))
}

func TestSQLite_EngineConcurrentSalesNeverOversell(t *testing.T) {
	// GIVEN: Stock 5 in a file-backed database shared by several connections
	// WHEN: Ten sales of 3 race
	// THEN: Exactly one commits and stock ends at 2

	s := newFileStore(t)
	engine := newEngine(t, s)
	saveProduct(t, s, biz, "p1", 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	committed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Submit(context.Background(), saleOf("p1", 3))
			if err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, committed)
	assert.Equal(t, int64(2), stock(t, s, biz, "p1"))

	txs, err := inventory.NewLedger(s, 0).Collect(context.Background(), biz, inventory.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestSQLite_EngineIdempotentReplay(t *testing.T) {
	s := newTestStore(t)
	engine := newEngine(t, s)
	saveProduct(t, s, biz, "p1", 10)

	req := saleOf("p1", 2)
	req.IdempotencyKey = "order:42"

	first, err := engine.Submit(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(8), stock(t, s, biz, "p1"))
}
