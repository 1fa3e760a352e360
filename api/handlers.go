/*
handlers.go - HTTP API handlers for the stock engine

PURPOSE:
  Exposes the stock engine, ledger and catalog via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Transactions:
    POST   /api/transactions           Record a sale or purchase
    GET    /api/transactions           List (startDate, endDate, type)
    GET    /api/transactions/{id}      Get one transaction

  Catalog:
    GET    /api/products               List products (?name, ?category)
    POST   /api/products               Create product (opening stock)
    GET    /api/products/{id}          Get product
    PUT    /api/products/{id}          Update catalog fields (not stock)
    GET    /api/contacts               List contacts (?type, ?name, ?email,
                                       ?phone, ?address)
    POST   /api/contacts               Create contact

  Reports:
    GET    /api/reports/inventory      Stock and stock value per product
    GET    /api/reports/transactions   Filtered ledger with per-type totals

BUSINESS SCOPE:
  Every /api request carries X-Business-ID. Authentication is handled in
  front of this service; the header is trusted as-is.

ERROR HANDLING:
  Errors are returned as JSON {error, code, details}:
  - 400: ValidationError, malformed body
  - 404: Product, contact or transaction not found
  - 409: Insufficient stock, duplicate idempotency key, product id taken
  - 503: PersistenceFailure (retry with the same idempotency key)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/inventory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  inventory.Backend
	Engine *inventory.Engine
	Ledger *inventory.Ledger
	Log    *zap.Logger
}

// NewHandler creates a handler. A nil logger disables logging.
func NewHandler(store inventory.Backend, engine *inventory.Engine, ledger *inventory.Ledger, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Store: store, Engine: engine, Ledger: ledger, Log: log}
}

// BusinessHeader carries the tenant scope of a request.
const BusinessHeader = "X-Business-ID"

type businessKey struct{}

// RequireBusiness rejects requests without a business scope and stores it
// in the request context.
func RequireBusiness(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(BusinessHeader))
		if id == "" {
			writeError(w, http.StatusBadRequest, "Missing "+BusinessHeader+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), businessKey{}, inventory.BusinessID(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func businessFrom(r *http.Request) inventory.BusinessID {
	id, _ := r.Context().Value(businessKey{}).(inventory.BusinessID)
	return id
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction records a sale or purchase.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	submit, err := toSubmitRequest(businessFrom(r), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && submit.IdempotencyKey == "" {
		submit.IdempotencyKey = key
	}

	tx, err := h.Engine.Submit(r.Context(), submit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

func toSubmitRequest(businessID inventory.BusinessID, req CreateTransactionRequest) (inventory.SubmitRequest, error) {
	typ := inventory.TransactionType(req.Type)
	out := inventory.SubmitRequest{
		BusinessID:     businessID,
		Type:           typ,
		IdempotencyKey: req.IdempotencyKey,
	}

	switch {
	case req.CustomerID != "" && req.VendorID != "":
		return out, &inventory.ValidationError{Field: "vendorId", Message: "only one of customerId or vendorId may be set"}
	case req.CustomerID != "" && typ == inventory.TxPurchase:
		return out, &inventory.ValidationError{Field: "customerId", Message: "a purchase references a vendor"}
	case req.VendorID != "" && typ == inventory.TxSale:
		return out, &inventory.ValidationError{Field: "vendorId", Message: "a sale references a customer"}
	case req.CustomerID != "":
		out.CounterpartyID = inventory.ContactID(req.CustomerID)
	case req.VendorID != "":
		out.CounterpartyID = inventory.ContactID(req.VendorID)
	}

	if req.Date != "" {
		d, err := parseDate(req.Date, false)
		if err != nil {
			return out, &inventory.ValidationError{Field: "date", Message: "use RFC3339 or YYYY-MM-DD"}
		}
		out.Date = d
	}

	out.LineItems = make([]inventory.LineItem, len(req.LineItems))
	for i, li := range req.LineItems {
		out.LineItems[i] = inventory.LineItem{
			ProductID: inventory.ProductID(li.ProductID),
			Quantity:  li.Quantity,
			Price:     li.Price,
		}
	}
	return out, nil
}

// ListTransactions returns the business's transactions in commit order.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	txs, err := h.Ledger.Collect(r.Context(), businessFrom(r), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetTransaction returns one transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := inventory.TransactionID(chi.URLParam(r, "id"))

	tx, err := h.Ledger.Get(r.Context(), businessFrom(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// parseListFilter reads startDate, endDate and type. A date-only endDate
// covers the whole day.
func parseListFilter(r *http.Request) (inventory.ListFilter, error) {
	q := r.URL.Query()
	var filter inventory.ListFilter

	if s := q.Get("startDate"); s != "" {
		t, err := parseDate(s, false)
		if err != nil {
			return filter, &inventory.ValidationError{Field: "startDate", Message: "use RFC3339 or YYYY-MM-DD"}
		}
		filter.StartDate = &t
	}
	if s := q.Get("endDate"); s != "" {
		t, err := parseDate(s, true)
		if err != nil {
			return filter, &inventory.ValidationError{Field: "endDate", Message: "use RFC3339 or YYYY-MM-DD"}
		}
		filter.EndDate = &t
	}
	filter.Type = inventory.TransactionType(q.Get("type"))

	return filter, filter.Validate()
}

// parseDate accepts RFC3339 or YYYY-MM-DD (UTC). With endOfDay, a date-only
// value is moved to the last instant of that day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns the business's products. The name and category
// query parameters filter by case-insensitive substring.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context(), businessFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	q := r.URL.Query()
	name, category := q.Get("name"), q.Get("category")
	dtos := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		if matchesFold(p.Name, name) && matchesFold(p.Category, category) {
			dtos = append(dtos, toProductDTO(p))
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := inventory.ProductID(chi.URLParam(r, "id"))

	p, err := h.Store.GetProduct(r.Context(), businessFrom(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// CreateProduct creates a product with its opening stock.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	switch {
	case strings.TrimSpace(req.Name) == "":
		writeDomainError(w, &inventory.ValidationError{Field: "name", Message: "is required"})
		return
	case req.Price.LessThan(decimal.Zero):
		writeDomainError(w, &inventory.ValidationError{Field: "price", Message: "must not be negative"})
		return
	case req.Stock < 0:
		writeDomainError(w, &inventory.ValidationError{Field: "stock", Message: "must not be negative"})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	businessID := businessFrom(r)
	p := inventory.Product{
		ID:          inventory.ProductID(req.ID),
		BusinessID:  businessID,
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Stock:       req.Stock,
	}
	if err := h.Store.CreateProduct(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}

	saved, err := h.Store.GetProduct(r.Context(), businessID, p.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(saved))
}

// UpdateProduct replaces the catalog fields of an existing product. Stock
// and version are left to the engine.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req UpdateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	switch {
	case strings.TrimSpace(req.Name) == "":
		writeDomainError(w, &inventory.ValidationError{Field: "name", Message: "is required"})
		return
	case req.Price.LessThan(decimal.Zero):
		writeDomainError(w, &inventory.ValidationError{Field: "price", Message: "must not be negative"})
		return
	}

	businessID := businessFrom(r)
	existing, err := h.Store.GetProduct(r.Context(), businessID, inventory.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	existing.Category = req.Category
	existing.Price = req.Price
	if err := h.Store.SaveProduct(r.Context(), existing); err != nil {
		writeDomainError(w, err)
		return
	}

	saved, err := h.Store.GetProduct(r.Context(), businessID, existing.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(saved))
}

// =============================================================================
// CONTACT HANDLERS
// =============================================================================

// ListContacts returns the business's contacts, optionally filtered by type
// and by case-insensitive substring on name, email, phone and address.
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	typ := inventory.ContactType(r.URL.Query().Get("type"))
	if typ != "" && !typ.Valid() {
		writeDomainError(w, &inventory.ValidationError{Field: "type", Message: "must be customer or vendor"})
		return
	}

	contacts, err := h.Store.ListContacts(r.Context(), businessFrom(r), typ)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list contacts", err)
		return
	}

	q := r.URL.Query()
	dtos := make([]ContactDTO, 0, len(contacts))
	for _, c := range contacts {
		if matchesFold(c.Name, q.Get("name")) &&
			matchesFold(c.Email, q.Get("email")) &&
			matchesFold(c.Phone, q.Get("phone")) &&
			matchesFold(c.Address, q.Get("address")) {
			dtos = append(dtos, toContactDTO(c))
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// matchesFold reports whether value contains query, ignoring case. An empty
// query matches everything.
func matchesFold(value, query string) bool {
	return query == "" || strings.Contains(strings.ToLower(value), strings.ToLower(query))
}

// CreateContact creates a customer or vendor.
func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	var req CreateContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	typ := inventory.ContactType(req.Type)
	switch {
	case strings.TrimSpace(req.Name) == "":
		writeDomainError(w, &inventory.ValidationError{Field: "name", Message: "is required"})
		return
	case !typ.Valid():
		writeDomainError(w, &inventory.ValidationError{Field: "type", Message: "must be customer or vendor"})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	c := inventory.Contact{
		ID:         inventory.ContactID(req.ID),
		BusinessID: businessFrom(r),
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		Address:    req.Address,
		Type:       typ,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.SaveContact(r.Context(), c); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toContactDTO(c))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// InventoryReport lists stock levels and their value at catalog price.
func (h *Handler) InventoryReport(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context(), businessFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build inventory report", err)
		return
	}

	report := InventoryReport{
		Products:   make([]InventoryRowDTO, 0, len(products)),
		TotalValue: decimal.Zero,
	}
	for _, p := range products {
		value := p.Price.Mul(decimal.NewFromInt(p.Stock))
		report.Products = append(report.Products, InventoryRowDTO{
			ProductID:  string(p.ID),
			Name:       p.Name,
			Category:   p.Category,
			Price:      p.Price,
			Stock:      p.Stock,
			StockValue: value,
		})
		report.TotalUnits += p.Stock
		report.TotalValue = report.TotalValue.Add(value)
	}
	report.TotalProducts = len(products)

	writeJSON(w, http.StatusOK, report)
}

// TransactionsReport returns the filtered ledger with per-type totals.
func (h *Handler) TransactionsReport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summary, txs, err := h.Ledger.Summarize(r.Context(), businessFrom(r), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TransactionsReport{
		Sales: TypeSummaryDTO{
			Count:       summary.Sales.Count,
			Quantity:    summary.Sales.Quantity,
			TotalAmount: summary.Sales.TotalAmount,
		},
		Purchases: TypeSummaryDTO{
			Count:       summary.Purchases.Count,
			Quantity:    summary.Purchases.Quantity,
			TotalAmount: summary.Purchases.TotalAmount,
		},
		Transactions: toTransactionDTOs(txs),
	})
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps inventory errors onto HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation   *inventory.ValidationError
		insufficient *inventory.InsufficientStockError
		notFound     *inventory.ProductNotFoundError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   validation.Error(),
			Code:    "validation_error",
			Details: map[string]string{"field": validation.Field},
		})
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: insufficient.Error(),
			Code:  "insufficient_stock",
			Details: map[string]any{
				"productId": insufficient.ProductID,
				"name":      insufficient.Name,
				"available": insufficient.Available,
				"requested": insufficient.Requested,
			},
		})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   notFound.Error(),
			Code:    "product_not_found",
			Details: map[string]any{"productId": notFound.ProductID},
		})
	case inventory.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, inventory.ErrProductExists):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "product_exists"})
	case errors.Is(err, inventory.ErrDuplicateIdempotencyKey):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "duplicate_idempotency_key"})
	case errors.Is(err, inventory.ErrPersistence):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "persistence_failure"})
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
