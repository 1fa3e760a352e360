/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  inventory domain types. Field names follow the persisted transaction
  shape: {id, type, customerId, vendorId, lineItems, totalAmount, date,
  businessId, createdAt}.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Report: Aggregated report responses

MONEY:
  Prices and totals are shopspring/decimal values. They are written as JSON
  strings ("10.5") and accepted as either strings or numbers.

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - inventory/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/inventory"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// LineItemDTO is one line of a transaction.
type LineItemDTO struct {
	ProductID string          `json:"productId"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// TransactionDTO represents a committed transaction.
type TransactionDTO struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	CustomerID     string          `json:"customerId,omitempty"`
	VendorID       string          `json:"vendorId,omitempty"`
	LineItems      []LineItemDTO   `json:"lineItems"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	Date           string          `json:"date"`
	BusinessID     string          `json:"businessId"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	CreatedAt      string          `json:"createdAt"`
}

// CreateTransactionRequest is the body of POST /api/transactions.
// Exactly one of CustomerID (sale) or VendorID (purchase) may be set.
type CreateTransactionRequest struct {
	Type           string        `json:"type"`
	CustomerID     string        `json:"customerId,omitempty"`
	VendorID       string        `json:"vendorId,omitempty"`
	LineItems      []LineItemDTO `json:"lineItems"`
	Date           string        `json:"date,omitempty"`
	IdempotencyKey string        `json:"idempotencyKey,omitempty"`
}

func toTransactionDTO(tx inventory.Transaction) TransactionDTO {
	lines := make([]LineItemDTO, len(tx.LineItems))
	for i, li := range tx.LineItems {
		lines[i] = LineItemDTO{ProductID: string(li.ProductID), Quantity: li.Quantity, Price: li.Price}
	}
	return TransactionDTO{
		ID:             string(tx.ID),
		Type:           string(tx.Type),
		CustomerID:     string(tx.CustomerID),
		VendorID:       string(tx.VendorID),
		LineItems:      lines,
		TotalAmount:    tx.TotalAmount,
		Date:           tx.Date.UTC().Format(time.RFC3339),
		BusinessID:     string(tx.BusinessID),
		IdempotencyKey: tx.IdempotencyKey,
		CreatedAt:      tx.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []inventory.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

// =============================================================================
// CATALOG
// =============================================================================

// ProductDTO represents a product in API responses.
type ProductDTO struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
	BusinessID  string          `json:"businessId"`
	CreatedAt   string          `json:"createdAt,omitempty"`
	UpdatedAt   string          `json:"updatedAt,omitempty"`
}

// CreateProductRequest is the request to create a product. Stock is the
// opening stock level; later changes go through transactions.
type CreateProductRequest struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
}

// UpdateProductRequest replaces a product's catalog fields. Stock is not
// accepted; it only moves through transactions.
type UpdateProductRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Price       decimal.Decimal `json:"price"`
}

func toProductDTO(p inventory.Product) ProductDTO {
	return ProductDTO{
		ID:          string(p.ID),
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price,
		Stock:       p.Stock,
		BusinessID:  string(p.BusinessID),
		CreatedAt:   formatOptionalTime(p.CreatedAt),
		UpdatedAt:   formatOptionalTime(p.UpdatedAt),
	}
}

// ContactDTO represents a customer or vendor.
type ContactDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	Type       string `json:"type"`
	BusinessID string `json:"businessId"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// CreateContactRequest is the request to create a contact.
type CreateContactRequest struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Type    string `json:"type"`
}

func toContactDTO(c inventory.Contact) ContactDTO {
	return ContactDTO{
		ID:         string(c.ID),
		Name:       c.Name,
		Email:      c.Email,
		Phone:      c.Phone,
		Address:    c.Address,
		Type:       string(c.Type),
		BusinessID: string(c.BusinessID),
		CreatedAt:  formatOptionalTime(c.CreatedAt),
	}
}

// =============================================================================
// REPORTS
// =============================================================================

// InventoryRowDTO is one product line of the inventory report.
type InventoryRowDTO struct {
	ProductID  string          `json:"productId"`
	Name       string          `json:"name"`
	Category   string          `json:"category,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Stock      int64           `json:"stock"`
	StockValue decimal.Decimal `json:"stockValue"`
}

// InventoryReport lists current stock and its value at catalog price.
type InventoryReport struct {
	Products      []InventoryRowDTO `json:"products"`
	TotalProducts int               `json:"totalProducts"`
	TotalUnits    int64             `json:"totalUnits"`
	TotalValue    decimal.Decimal   `json:"totalValue"`
}

// TypeSummaryDTO aggregates transactions of one type.
type TypeSummaryDTO struct {
	Count       int             `json:"count"`
	Quantity    int64           `json:"quantity"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// TransactionsReport is the filtered ledger plus per-type totals.
type TransactionsReport struct {
	Sales        TypeSummaryDTO   `json:"sales"`
	Purchases    TypeSummaryDTO   `json:"purchases"`
	Transactions []TransactionDTO `json:"transactions"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse reports what a scenario created.
type LoadScenarioResponse struct {
	Scenario     ScenarioDTO      `json:"scenario"`
	Products     []ProductDTO     `json:"products"`
	Contacts     []ContactDTO     `json:"contacts"`
	Transactions []TransactionDTO `json:"transactions"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
