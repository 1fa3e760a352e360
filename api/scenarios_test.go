package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListScenarios(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios", "demo", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarios))
	ids := make([]string, len(list))
	for i, sc := range list {
		ids[i] = sc.ID
	}
	assert.Contains(t, ids, "corner-shop")
	assert.Contains(t, ids, "hardware-store")
}

func TestLoadScenario_CornerShop(t *testing.T) {
	// GIVEN: An empty business
	// WHEN: The corner-shop scenario is loaded
	// THEN: Stock reflects opening levels plus the scripted ledger

	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", "demo", LoadScenarioRequest{ScenarioID: "corner-shop"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[LoadScenarioResponse](t, rec)
	assert.Len(t, resp.Transactions, 3)
	assert.Len(t, resp.Contacts, 2)

	stock := map[string]int64{}
	for _, p := range resp.Products {
		stock[p.Name] = p.Stock
		assert.Equal(t, "demo", p.BusinessID)
	}
	assert.Equal(t, int64(24+12-2), stock["Whole Milk 1L"])
	assert.Equal(t, int64(10-1), stock["Sourdough Loaf"])
	assert.Equal(t, int64(8+6-1), stock["Ground Coffee 250g"])
}

func TestLoadScenario_HardwareStoreSkipsRejectedSale(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", "demo", LoadScenarioRequest{ScenarioID: "hardware-store"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[LoadScenarioResponse](t, rec)
	assert.Len(t, resp.Transactions, 2, "oversized drill order rejected")

	stock := map[string]int64{}
	for _, p := range resp.Products {
		stock[p.Name] = p.Stock
	}
	assert.Equal(t, int64(3-2+4), stock["Cordless Drill"])
	assert.Equal(t, int64(12), stock["Claw Hammer"], "rejected sale left hammer untouched")
	assert.Equal(t, int64(140), stock["Wood Screws (100)"])

	rec = s.do(http.MethodGet, "/api/transactions", "demo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TransactionDTO](t, rec), 2)
}

func TestLoadScenario_Unknown(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", "demo", LoadScenarioRequest{ScenarioID: "moon-base"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoadScenario_BusinessesAreIsolated(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/scenarios/load", "shop-a", LoadScenarioRequest{ScenarioID: "corner-shop"}).Code)

	rec := s.do(http.MethodGet, "/api/products", "shop-b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]ProductDTO](t, rec))
}
