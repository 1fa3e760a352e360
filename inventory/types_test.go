package inventory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltas_FoldsRepeatedProducts(t *testing.T) {
	items := []LineItem{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p1", Quantity: 3},
	}

	sale, err := Deltas(TxSale, items)
	require.NoError(t, err)
	assert.Equal(t, []StockDelta{{ProductID: "p1", Delta: -5}, {ProductID: "p2", Delta: -1}}, sale)

	buy, err := Deltas(TxPurchase, items)
	require.NoError(t, err)
	assert.Equal(t, []StockDelta{{ProductID: "p1", Delta: 5}, {ProductID: "p2", Delta: 1}}, buy)
}

func TestDeltas_RejectsQuantitiesThatWouldWrap(t *testing.T) {
	_, err := Deltas(TxSale, []LineItem{
		{ProductID: "p1", Quantity: math.MaxInt64},
		{ProductID: "p1", Quantity: math.MaxInt64},
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lineItems[0].quantity", verr.Field)

	_, err = Deltas(TxPurchase, []LineItem{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p1", Quantity: 0},
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lineItems[1].quantity", verr.Field)
}

func TestAddStock(t *testing.T) {
	tests := []struct {
		stock, delta int64
		want         int64
		ok           bool
	}{
		{10, -3, 7, true},
		{10, -11, -1, true},
		{math.MaxInt64 - 1, 1, math.MaxInt64, true},
		{math.MaxInt64, 1, 0, false},
		{math.MaxInt64, math.MaxInt64, 0, false},
		{math.MinInt64, -1, 0, false},
		{0, math.MinInt64, math.MinInt64, true},
	}
	for _, tt := range tests {
		got, ok := AddStock(tt.stock, tt.delta)
		assert.Equal(t, tt.ok, ok, "%d + %d", tt.stock, tt.delta)
		assert.Equal(t, tt.want, got, "%d + %d", tt.stock, tt.delta)
	}
}
