package inventory_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/inventory"
	"github.com/warp/stock-engine/inventory/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func day(d int) time.Time {
	return time.Date(2025, time.June, d, 12, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

// countingStore counts ListTransactions round trips.
type countingStore struct {
	inventory.LedgerStore
	pages atomic.Int32
}

func (c *countingStore) ListTransactions(ctx context.Context, biz inventory.BusinessID, f inventory.ListFilter, cursor int64, limit int) (inventory.Page, error) {
	c.pages.Add(1)
	return c.LedgerStore.ListTransactions(ctx, biz, f, cursor, limit)
}

// seedLedger records, in order: purchase on day 1, sales on days 2..6,
// purchase on day 7, and one sale for another business.
func seedLedger(t *testing.T) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	engine := newTestEngine(t, mem)
	ctx := context.Background()
	seedProduct(t, mem, bizA, "p1", 0)
	seedProduct(t, mem, bizB, "p1", 10)

	submit := func(req inventory.SubmitRequest, d time.Time) {
		req.Date = d
		_, err := engine.Submit(ctx, req)
		require.NoError(t, err)
	}

	submit(purchase(bizA, line("p1", 20, "1.00")), day(1))
	for d := 2; d <= 6; d++ {
		submit(sale(bizA, line("p1", 1, "2.50")), day(d))
	}
	submit(purchase(bizA, line("p1", 5, "1.20")), day(7))
	submit(sale(bizB, line("p1", 1, "9.99")), day(3))
	return mem
}

func dates(txs []inventory.Transaction) []int {
	out := make([]int, len(txs))
	for i, tx := range txs {
		out[i] = tx.Date.Day()
	}
	return out
}

// =============================================================================
// LISTING
// =============================================================================

func TestLedger_ListInInsertionOrder(t *testing.T) {
	mem := seedLedger(t)

	txs, err := inventory.NewLedger(mem, 0).Collect(context.Background(), bizA, inventory.ListFilter{})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, dates(txs))
	for _, tx := range txs {
		assert.Equal(t, bizA, tx.BusinessID)
	}
}

func TestLedger_Filters(t *testing.T) {
	mem := seedLedger(t)
	ledger := inventory.NewLedger(mem, 2)

	tests := []struct {
		name   string
		filter inventory.ListFilter
		want   []int
	}{
		{"type sale", inventory.ListFilter{Type: inventory.TxSale}, []int{2, 3, 4, 5, 6}},
		{"type purchase", inventory.ListFilter{Type: inventory.TxPurchase}, []int{1, 7}},
		{"bounds inclusive", inventory.ListFilter{StartDate: ptr(day(3)), EndDate: ptr(day(5))}, []int{3, 4, 5}},
		{"start only", inventory.ListFilter{StartDate: ptr(day(6))}, []int{6, 7}},
		{"end only", inventory.ListFilter{EndDate: ptr(day(1))}, []int{1}},
		{"type and range", inventory.ListFilter{Type: inventory.TxPurchase, StartDate: ptr(day(2))}, []int{7}},
		{"empty range", inventory.ListFilter{StartDate: ptr(day(20))}, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs, err := ledger.Collect(context.Background(), bizA, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dates(txs))
		})
	}
}

func TestLedger_EmptyBusinessYieldsEmptySlice(t *testing.T) {
	txs, err := inventory.NewLedger(store.NewMemory(), 0).Collect(context.Background(), "nobody", inventory.ListFilter{})

	require.NoError(t, err)
	assert.NotNil(t, txs)
	assert.Empty(t, txs)
}

func TestLedger_InvalidFilter(t *testing.T) {
	ledger := inventory.NewLedger(store.NewMemory(), 0)

	_, err := ledger.Collect(context.Background(), bizA, inventory.ListFilter{StartDate: ptr(day(5)), EndDate: ptr(day(4))})
	assert.ErrorIs(t, err, inventory.ErrValidation)

	_, err = ledger.Collect(context.Background(), bizA, inventory.ListFilter{Type: "refund"})
	assert.ErrorIs(t, err, inventory.ErrValidation)
}

// =============================================================================
// PAGING
// =============================================================================

func TestLedger_PagesLazily(t *testing.T) {
	// GIVEN: 7 transactions and a page size of 3
	// WHEN: The listing is drained, then a second listing stops after 2 items
	// THEN: Draining takes 3 round trips, stopping early takes 1

	mem := seedLedger(t)
	counting := &countingStore{LedgerStore: mem}
	ledger := inventory.NewLedger(counting, 3)
	ctx := context.Background()

	txs, err := ledger.Collect(ctx, bizA, inventory.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, txs, 7)
	assert.Equal(t, int32(3), counting.pages.Load())

	counting.pages.Store(0)
	seen := 0
	for _, err := range ledger.List(ctx, bizA, inventory.ListFilter{}) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
	assert.Equal(t, int32(1), counting.pages.Load())
}

func TestLedger_ListingIsRestartable(t *testing.T) {
	mem := seedLedger(t)
	seq := inventory.NewLedger(mem, 2).List(context.Background(), bizA, inventory.ListFilter{Type: inventory.TxSale})

	var first, second []inventory.TransactionID
	for tx, err := range seq {
		require.NoError(t, err)
		first = append(first, tx.ID)
	}
	for tx, err := range seq {
		require.NoError(t, err)
		second = append(second, tx.ID)
	}

	assert.Len(t, first, 5)
	assert.Equal(t, first, second)
}

func TestLedger_SeesTransactionsCommittedBetweenPages(t *testing.T) {
	mem := seedLedger(t)
	engine := newTestEngine(t, mem)
	ctx := context.Background()

	seen := 0
	for _, err := range inventory.NewLedger(mem, 2).List(ctx, bizA, inventory.ListFilter{}) {
		require.NoError(t, err)
		seen++
		if seen == 1 {
			_, err := engine.Submit(ctx, purchase(bizA, line("p1", 1, "1")))
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 8, seen, "appends land after the cursor")
}

// =============================================================================
// GET AND SUMMARY
// =============================================================================

func TestLedger_GetIsScopedToBusiness(t *testing.T) {
	mem := seedLedger(t)
	ledger := inventory.NewLedger(mem, 0)
	ctx := context.Background()

	txs, err := ledger.Collect(ctx, bizB, inventory.ListFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)

	got, err := ledger.Get(ctx, bizB, txs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, txs[0].ID, got.ID)

	_, err = ledger.Get(ctx, bizA, txs[0].ID)
	assert.ErrorIs(t, err, inventory.ErrTransactionNotFound)
}

func TestLedger_Summarize(t *testing.T) {
	mem := seedLedger(t)

	summary, txs, err := inventory.NewLedger(mem, 2).Summarize(context.Background(), bizA, inventory.ListFilter{})

	require.NoError(t, err)
	assert.Len(t, txs, 7)
	assert.Equal(t, 5, summary.Sales.Count)
	assert.Equal(t, int64(5), summary.Sales.Quantity)
	assert.True(t, summary.Sales.TotalAmount.Equal(decimal.RequireFromString("12.50")), "sales %s", summary.Sales.TotalAmount)
	assert.Equal(t, 2, summary.Purchases.Count)
	assert.Equal(t, int64(25), summary.Purchases.Quantity)
	assert.True(t, summary.Purchases.TotalAmount.Equal(decimal.RequireFromString("26.00")), "purchases %s", summary.Purchases.TotalAmount)

	// Ledger and stock agree: 20 + 5 in, 5 out.
	assert.Equal(t, int64(20), stockOf(t, mem, bizA, "p1"))
}
