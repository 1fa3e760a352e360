/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the requesting business with a realistic catalog, a few
	contacts and some ledger history. Transactions go through the engine,
	so stock levels and the ledger agree exactly as they would in production.

AVAILABLE SCENARIOS:

	corner-shop:    Groceries, one wholesaler delivery and two walk-in sales
	hardware-store: Tools with thin stock on power tools, one rejected sale

HOW SCENARIOS WORK:
 1. Create products with their opening stock
 2. Create customers and vendors
 3. Submit the scripted transactions through the engine
    (rejections are expected in some scenarios and are skipped)

USAGE VIA API:

	POST /api/scenarios/load
	X-Business-ID: demo-shop
	{"scenario_id": "corner-shop"}

ADDING NEW SCENARIOS:
 1. Add an entry to 'scenarios' with its catalog, contacts and script

NOTE:

	Scenarios add data; they never delete. Load each into a fresh business.

SEE ALSO:
  - handlers.go: Handler and response helpers
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/inventory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type seedProduct struct {
	key      string
	name     string
	category string
	price    string
	stock    int64
}

type seedContact struct {
	key  string
	name string
	typ  inventory.ContactType
}

type seedLine struct {
	product  string
	quantity int64
	price    string
}

type seedTransaction struct {
	typ     inventory.TransactionType
	contact string
	lines   []seedLine
}

type scenario struct {
	info         ScenarioDTO
	products     []seedProduct
	contacts     []seedContact
	transactions []seedTransaction
}

var scenarios = []scenario{
	{
		info: ScenarioDTO{
			ID:          "corner-shop",
			Name:        "Corner Shop",
			Description: "Groceries restocked by a wholesaler and sold to walk-in customers",
		},
		products: []seedProduct{
			{key: "milk", name: "Whole Milk 1L", category: "dairy", price: "1.20", stock: 24},
			{key: "bread", name: "Sourdough Loaf", category: "bakery", price: "3.50", stock: 10},
			{key: "coffee", name: "Ground Coffee 250g", category: "pantry", price: "6.75", stock: 8},
		},
		contacts: []seedContact{
			{key: "wholesaler", name: "Metro Wholesale", typ: inventory.ContactVendor},
			{key: "regular", name: "Dana Whitfield", typ: inventory.ContactCustomer},
		},
		transactions: []seedTransaction{
			{typ: inventory.TxPurchase, contact: "wholesaler", lines: []seedLine{
				{product: "milk", quantity: 12, price: "0.80"},
				{product: "coffee", quantity: 6, price: "4.10"},
			}},
			{typ: inventory.TxSale, contact: "regular", lines: []seedLine{
				{product: "milk", quantity: 2, price: "1.20"},
				{product: "bread", quantity: 1, price: "3.50"},
			}},
			{typ: inventory.TxSale, lines: []seedLine{
				{product: "coffee", quantity: 1, price: "6.75"},
			}},
		},
	},
	{
		info: ScenarioDTO{
			ID:          "hardware-store",
			Name:        "Hardware Store",
			Description: "Tools with thin stock on power tools; one oversized order is rejected",
		},
		products: []seedProduct{
			{key: "drill", name: "Cordless Drill", category: "power-tools", price: "89.00", stock: 3},
			{key: "screws", name: "Wood Screws (100)", category: "fasteners", price: "4.25", stock: 150},
			{key: "hammer", name: "Claw Hammer", category: "hand-tools", price: "15.50", stock: 12},
		},
		contacts: []seedContact{
			{key: "supplier", name: "Toolworks Supply", typ: inventory.ContactVendor},
			{key: "contractor", name: "Ridgeline Builders", typ: inventory.ContactCustomer},
		},
		transactions: []seedTransaction{
			{typ: inventory.TxSale, contact: "contractor", lines: []seedLine{
				{product: "drill", quantity: 2, price: "85.00"},
				{product: "screws", quantity: 10, price: "4.00"},
			}},
			{typ: inventory.TxSale, contact: "contractor", lines: []seedLine{
				{product: "hammer", quantity: 1, price: "15.50"},
				{product: "drill", quantity: 5, price: "85.00"},
			}},
			{typ: inventory.TxPurchase, contact: "supplier", lines: []seedLine{
				{product: "drill", quantity: 4, price: "61.00"},
			}},
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.info.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.info
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario loads a predefined scenario into the requesting business.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	resp, err := h.loadScenario(r, s)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) loadScenario(r *http.Request, s scenario) (LoadScenarioResponse, error) {
	ctx := r.Context()
	businessID := businessFrom(r)
	resp := LoadScenarioResponse{Scenario: s.info}

	productIDs := make(map[string]inventory.ProductID, len(s.products))
	for _, sp := range s.products {
		p := inventory.Product{
			ID:         inventory.ProductID(uuid.New().String()),
			BusinessID: businessID,
			Name:       sp.name,
			Category:   sp.category,
			Price:      decimal.RequireFromString(sp.price),
			Stock:      sp.stock,
		}
		if err := h.Store.CreateProduct(ctx, p); err != nil {
			return resp, fmt.Errorf("product %s: %w", sp.key, err)
		}
		productIDs[sp.key] = p.ID
	}

	contactIDs := make(map[string]inventory.ContactID, len(s.contacts))
	for _, sc := range s.contacts {
		c := inventory.Contact{
			ID:         inventory.ContactID(uuid.New().String()),
			BusinessID: businessID,
			Name:       sc.name,
			Type:       sc.typ,
		}
		if err := h.Store.SaveContact(ctx, c); err != nil {
			return resp, fmt.Errorf("contact %s: %w", sc.key, err)
		}
		contactIDs[sc.key] = c.ID
		resp.Contacts = append(resp.Contacts, toContactDTO(c))
	}

	for i, st := range s.transactions {
		req := inventory.SubmitRequest{
			BusinessID:     businessID,
			Type:           st.typ,
			CounterpartyID: contactIDs[st.contact],
		}
		for _, sl := range st.lines {
			req.LineItems = append(req.LineItems, inventory.LineItem{
				ProductID: productIDs[sl.product],
				Quantity:  sl.quantity,
				Price:     decimal.RequireFromString(sl.price),
			})
		}

		tx, err := h.Engine.Submit(ctx, req)
		if err != nil {
			if inventory.IsClientError(err) {
				h.Log.Info("scenario transaction rejected",
					zap.String("scenario", s.info.ID), zap.Int("step", i), zap.Error(err))
				continue
			}
			return resp, fmt.Errorf("transaction %d: %w", i, err)
		}
		resp.Transactions = append(resp.Transactions, toTransactionDTO(tx))
	}

	products, err := h.Store.ListProducts(ctx, businessID)
	if err != nil {
		return resp, err
	}
	for _, p := range products {
		resp.Products = append(resp.Products, toProductDTO(p))
	}
	return resp, nil
}
