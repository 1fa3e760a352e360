/*
Package sqlite provides a SQLite-backed implementation of the inventory storage interfaces.

PURPOSE:
  Implements inventory.Backend (products, contacts, ledger, units of work)
  on SQLite through sqlx. The same statements run on PostgreSQL with only
  placeholder rebinding and upsert syntax differences.

INTERFACES IMPLEMENTED:
  inventory.ProductStore:     Product lookup and conditional stock updates
  inventory.ContactDirectory: Counterparty resolution
  inventory.LedgerStore:      Append-only transactions with line items
  inventory.TxStore:          Database transactions as units of work
  inventory.CatalogStore:     Product and contact upserts

STOCK UPDATES:
  Stock is never read, modified and written back. Every change is a single
  conditional statement:

    UPDATE products SET stock = stock + ?
    WHERE business_id = ? AND id = ? AND stock >= ? AND stock <= ?

  The bounds are -delta (floor at zero) and MaxInt64-delta (no overflow).
  Zero rows affected means the product is missing or a bound would be
  violated; a follow-up read tells them apart. A CHECK (stock >= 0)
  constraint backs this up at the schema level.

APPEND-ONLY ENFORCEMENT:
  Triggers abort any UPDATE or DELETE on transactions and transaction_lines.

KEY TABLES:
  products:          Catalog plus live stock, keyed by (business_id, id)
  contacts:          Customers and vendors, keyed by (business_id, id)
  transactions:      Ledger header rows; seq gives insertion order
  transaction_lines: Line items, (transaction_id, line_no)

CONCURRENCY:
  Transactions begin IMMEDIATE (_txlock=immediate) so the write lock is taken
  up front, and busy_timeout makes writers queue instead of failing at once.
  SQLITE_BUSY / SQLITE_LOCKED that still escape are reported as
  inventory.ErrConcurrentModification and retried by the engine.

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := inventory.NewEngine(store)

SEE ALSO:
  - inventory/store.go: Interface definitions
  - inventory/store/memory.go: In-memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-engine/inventory"
)

// timeLayout is fixed width so stored timestamps compare lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements inventory.Backend using SQLite.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ inventory.Backend = (*Store)(nil)

// New opens (and migrates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		business_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL,
		stock INTEGER NOT NULL CHECK (stock >= 0),
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (business_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_products_business_name
		ON products(business_id, name);

	CREATE TABLE IF NOT EXISTS contacts (
		business_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL CHECK (type IN ('customer', 'vendor')),
		created_at TEXT NOT NULL,
		PRIMARY KEY (business_id, id)
	);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		business_id TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('sale', 'purchase')),
		customer_id TEXT,
		vendor_id TEXT,
		total_amount TEXT NOT NULL,
		date TEXT NOT NULL,
		idempotency_key TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(business_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_business_seq
		ON transactions(business_id, seq);
	CREATE INDEX IF NOT EXISTS idx_transactions_business_date
		ON transactions(business_id, date);

	CREATE TABLE IF NOT EXISTS transaction_lines (
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		price TEXT NOT NULL,
		PRIMARY KEY (transaction_id, line_no)
	);

	CREATE TRIGGER IF NOT EXISTS trg_transactions_no_update
		BEFORE UPDATE ON transactions
	BEGIN
		SELECT RAISE(ABORT, 'transactions are append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_transactions_no_delete
		BEFORE DELETE ON transactions
	BEGIN
		SELECT RAISE(ABORT, 'transactions are append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_transaction_lines_no_update
		BEFORE UPDATE ON transaction_lines
	BEGIN
		SELECT RAISE(ABORT, 'transaction lines are append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_transaction_lines_no_delete
		BEFORE DELETE ON transaction_lines
	BEGIN
		SELECT RAISE(ABORT, 'transaction lines are append-only');
	END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ROWS
// =============================================================================

type productRow struct {
	BusinessID  string `db:"business_id"`
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Category    string `db:"category"`
	Price       string `db:"price"`
	Stock       int64  `db:"stock"`
	Version     int64  `db:"version"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (r productRow) toProduct() (inventory.Product, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return inventory.Product{}, fmt.Errorf("failed to parse price of product %s: %w", r.ID, err)
	}
	return inventory.Product{
		ID:          inventory.ProductID(r.ID),
		BusinessID:  inventory.BusinessID(r.BusinessID),
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		Price:       price,
		Stock:       r.Stock,
		Version:     r.Version,
		CreatedAt:   parseTime(r.CreatedAt),
		UpdatedAt:   parseTime(r.UpdatedAt),
	}, nil
}

type contactRow struct {
	BusinessID string `db:"business_id"`
	ID         string `db:"id"`
	Name       string `db:"name"`
	Email      string `db:"email"`
	Phone      string `db:"phone"`
	Address    string `db:"address"`
	Type       string `db:"type"`
	CreatedAt  string `db:"created_at"`
}

func (r contactRow) toContact() inventory.Contact {
	return inventory.Contact{
		ID:         inventory.ContactID(r.ID),
		BusinessID: inventory.BusinessID(r.BusinessID),
		Name:       r.Name,
		Email:      r.Email,
		Phone:      r.Phone,
		Address:    r.Address,
		Type:       inventory.ContactType(r.Type),
		CreatedAt:  parseTime(r.CreatedAt),
	}
}

type transactionRow struct {
	Seq            int64          `db:"seq"`
	ID             string         `db:"id"`
	BusinessID     string         `db:"business_id"`
	Type           string         `db:"type"`
	CustomerID     sql.NullString `db:"customer_id"`
	VendorID       sql.NullString `db:"vendor_id"`
	TotalAmount    string         `db:"total_amount"`
	Date           string         `db:"date"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	CreatedAt      string         `db:"created_at"`
}

type lineRow struct {
	TransactionID string `db:"transaction_id"`
	LineNo        int    `db:"line_no"`
	ProductID     string `db:"product_id"`
	Quantity      int64  `db:"quantity"`
	Price         string `db:"price"`
}

const productColumns = `business_id, id, name, description, category, price, stock, version, created_at, updated_at`

const transactionColumns = `seq, id, business_id, type, customer_id, vendor_id, total_amount, date, idempotency_key, created_at`

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
}

// =============================================================================
// PRODUCTS (inventory.ProductStore)
// =============================================================================

// GetProduct returns the product if it belongs to businessID.
func (s *Store) GetProduct(ctx context.Context, businessID inventory.BusinessID, productID inventory.ProductID) (inventory.Product, error) {
	return getProduct(ctx, s.db, businessID, productID)
}

func getProduct(ctx context.Context, q queryer, businessID inventory.BusinessID, productID inventory.ProductID) (inventory.Product, error) {
	var row productRow
	err := q.GetContext(ctx, &row,
		`SELECT `+productColumns+` FROM products WHERE business_id = ? AND id = ?`,
		businessID, productID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Product{}, &inventory.ProductNotFoundError{BusinessID: businessID, ProductID: productID}
	}
	if err != nil {
		return inventory.Product{}, mapError(fmt.Errorf("failed to get product: %w", err))
	}
	return row.toProduct()
}

// AdjustStock applies delta in its own database transaction.
func (s *Store) AdjustStock(ctx context.Context, businessID inventory.BusinessID, productID inventory.ProductID, delta int64) (inventory.Product, error) {
	var updated inventory.Product
	err := s.WithTx(ctx, businessID, func(uow inventory.UnitOfWork) error {
		p, err := uow.AdjustStock(ctx, businessID, productID, delta)
		updated = p
		return err
	})
	if err != nil {
		return inventory.Product{}, err
	}
	return updated, nil
}

func adjustStock(ctx context.Context, q queryer, now time.Time, businessID inventory.BusinessID, productID inventory.ProductID, delta int64) (inventory.Product, error) {
	if delta == math.MinInt64 {
		return inventory.Product{}, errStockOverflow
	}
	// SQLite promotes overflowing integer arithmetic to REAL, so the bounds
	// are checked on stock itself: floor <= stock <= ceiling.
	floor, ceiling := int64(0), int64(math.MaxInt64)
	if delta < 0 {
		floor = -delta
	} else {
		ceiling = math.MaxInt64 - delta
	}

	res, err := q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + ?, version = version + 1, updated_at = ?
		WHERE business_id = ? AND id = ? AND stock >= ? AND stock <= ?
	`, delta, formatTime(now), businessID, productID, floor, ceiling)
	if err != nil {
		return inventory.Product{}, mapError(fmt.Errorf("failed to adjust stock: %w", err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return inventory.Product{}, mapError(fmt.Errorf("failed to adjust stock: %w", err))
	}

	p, err := getProduct(ctx, q, businessID, productID)
	if err != nil {
		return inventory.Product{}, err
	}
	if n == 0 {
		if p.Stock > ceiling {
			return inventory.Product{}, errStockOverflow
		}
		return inventory.Product{}, &inventory.StockConflictError{ProductID: productID, Stock: p.Stock, Delta: delta}
	}
	return p, nil
}

var errStockOverflow = &inventory.ValidationError{Field: "stock", Message: "adjustment would overflow the stock level"}

// =============================================================================
// CATALOG (inventory.CatalogStore)
// =============================================================================

// CreateProduct inserts a new product. The (business, id) primary key turns
// a concurrent duplicate into inventory.ErrProductExists.
func (s *Store) CreateProduct(ctx context.Context, p inventory.Product) error {
	if p.Stock < 0 {
		return &inventory.ValidationError{Field: "stock", Message: "must not be negative"}
	}
	now := formatTime(s.now())
	createdAt := now
	if !p.CreatedAt.IsZero() {
		createdAt = formatTime(p.CreatedAt)
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (:business_id, :id, :name, :description, :category, :price, :stock, 1, :created_at, :updated_at)
	`, productRow{
		BusinessID:  string(p.BusinessID),
		ID:          string(p.ID),
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price.String(),
		Stock:       p.Stock,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	})
	if err != nil {
		if isPrimaryKeyError(err) {
			return inventory.ErrProductExists
		}
		return mapError(fmt.Errorf("failed to create product: %w", err))
	}
	return nil
}

// SaveProduct inserts a product or updates its catalog fields. Stock of an
// existing product is left alone.
func (s *Store) SaveProduct(ctx context.Context, p inventory.Product) error {
	if p.Stock < 0 {
		return &inventory.ValidationError{Field: "stock", Message: "must not be negative"}
	}
	now := formatTime(s.now())
	createdAt := now
	if !p.CreatedAt.IsZero() {
		createdAt = formatTime(p.CreatedAt)
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (:business_id, :id, :name, :description, :category, :price, :stock, 1, :created_at, :updated_at)
		ON CONFLICT (business_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			price = excluded.price,
			updated_at = excluded.updated_at
	`, productRow{
		BusinessID:  string(p.BusinessID),
		ID:          string(p.ID),
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price.String(),
		Stock:       p.Stock,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	})
	if err != nil {
		return mapError(fmt.Errorf("failed to save product: %w", err))
	}
	return nil
}

// ListProducts returns the business's products sorted by name.
func (s *Store) ListProducts(ctx context.Context, businessID inventory.BusinessID) ([]inventory.Product, error) {
	var rows []productRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+productColumns+` FROM products WHERE business_id = ? ORDER BY name ASC, id ASC`,
		businessID,
	)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to list products: %w", err))
	}

	products := make([]inventory.Product, 0, len(rows))
	for _, r := range rows {
		p, err := r.toProduct()
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

// SaveContact inserts or replaces a contact.
func (s *Store) SaveContact(ctx context.Context, c inventory.Contact) error {
	createdAt := s.now()
	if !c.CreatedAt.IsZero() {
		createdAt = c.CreatedAt
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO contacts (business_id, id, name, email, phone, address, type, created_at)
		VALUES (:business_id, :id, :name, :email, :phone, :address, :type, :created_at)
		ON CONFLICT (business_id, id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone,
			address = excluded.address,
			type = excluded.type
	`, contactRow{
		BusinessID: string(c.BusinessID),
		ID:         string(c.ID),
		Name:       c.Name,
		Email:      c.Email,
		Phone:      c.Phone,
		Address:    c.Address,
		Type:       string(c.Type),
		CreatedAt:  formatTime(createdAt),
	})
	if err != nil {
		return mapError(fmt.Errorf("failed to save contact: %w", err))
	}
	return nil
}

// ListContacts returns the business's contacts, optionally of one type.
func (s *Store) ListContacts(ctx context.Context, businessID inventory.BusinessID, typ inventory.ContactType) ([]inventory.Contact, error) {
	query := `SELECT business_id, id, name, email, phone, address, type, created_at FROM contacts WHERE business_id = ?`
	args := []any{businessID}
	if typ != "" {
		query += ` AND type = ?`
		args = append(args, typ)
	}
	query += ` ORDER BY name ASC, id ASC`

	var rows []contactRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(fmt.Errorf("failed to list contacts: %w", err))
	}

	contacts := make([]inventory.Contact, 0, len(rows))
	for _, r := range rows {
		contacts = append(contacts, r.toContact())
	}
	return contacts, nil
}

// =============================================================================
// CONTACTS (inventory.ContactDirectory)
// =============================================================================

// ResolveContact returns the contact if it belongs to businessID.
func (s *Store) ResolveContact(ctx context.Context, businessID inventory.BusinessID, contactID inventory.ContactID) (inventory.Contact, error) {
	var row contactRow
	err := s.db.GetContext(ctx, &row,
		`SELECT business_id, id, name, email, phone, address, type, created_at
		 FROM contacts WHERE business_id = ? AND id = ?`,
		businessID, contactID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Contact{}, inventory.ErrContactNotFound
	}
	if err != nil {
		return inventory.Contact{}, mapError(fmt.Errorf("failed to resolve contact: %w", err))
	}
	return row.toContact(), nil
}

// =============================================================================
// LEDGER (inventory.LedgerStore)
// =============================================================================

// AppendTransaction writes tx in its own database transaction.
func (s *Store) AppendTransaction(ctx context.Context, tx inventory.Transaction) error {
	return s.WithTx(ctx, tx.BusinessID, func(uow inventory.UnitOfWork) error {
		return uow.AppendTransaction(ctx, tx)
	})
}

func appendTransaction(ctx context.Context, q queryer, tx inventory.Transaction) error {
	_, err := q.NamedExecContext(ctx, `
		INSERT INTO transactions
		(id, business_id, type, customer_id, vendor_id, total_amount, date, idempotency_key, created_at)
		VALUES (:id, :business_id, :type, :customer_id, :vendor_id, :total_amount, :date, :idempotency_key, :created_at)
	`, transactionRow{
		ID:             string(tx.ID),
		BusinessID:     string(tx.BusinessID),
		Type:           string(tx.Type),
		CustomerID:     nullString(string(tx.CustomerID)),
		VendorID:       nullString(string(tx.VendorID)),
		TotalAmount:    tx.TotalAmount.String(),
		Date:           formatTime(tx.Date),
		IdempotencyKey: nullString(tx.IdempotencyKey),
		CreatedAt:      formatTime(tx.CreatedAt),
	})
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
			return inventory.ErrDuplicateIdempotencyKey
		}
		return mapError(fmt.Errorf("failed to append transaction: %w", err))
	}

	lines := make([]lineRow, len(tx.LineItems))
	for i, li := range tx.LineItems {
		lines[i] = lineRow{
			TransactionID: string(tx.ID),
			LineNo:        i,
			ProductID:     string(li.ProductID),
			Quantity:      li.Quantity,
			Price:         li.Price.String(),
		}
	}
	if len(lines) == 0 {
		return nil
	}

	_, err = q.NamedExecContext(ctx, `
		INSERT INTO transaction_lines (transaction_id, line_no, product_id, quantity, price)
		VALUES (:transaction_id, :line_no, :product_id, :quantity, :price)
	`, lines)
	if err != nil {
		return mapError(fmt.Errorf("failed to append transaction lines: %w", err))
	}
	return nil
}

// GetTransaction returns one transaction of the business.
func (s *Store) GetTransaction(ctx context.Context, businessID inventory.BusinessID, id inventory.TransactionID) (inventory.Transaction, error) {
	txs, err := s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE business_id = ? AND id = ?`,
		businessID, id,
	)
	if err != nil {
		return inventory.Transaction{}, err
	}
	if len(txs) == 0 {
		return inventory.Transaction{}, inventory.ErrTransactionNotFound
	}
	return txs[0].tx, nil
}

// FindByIdempotencyKey looks up a transaction by its client key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, businessID inventory.BusinessID, key string) (inventory.Transaction, bool, error) {
	txs, err := s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE business_id = ? AND idempotency_key = ?`,
		businessID, key,
	)
	if err != nil {
		return inventory.Transaction{}, false, err
	}
	if len(txs) == 0 {
		return inventory.Transaction{}, false, nil
	}
	return txs[0].tx, true, nil
}

// ListTransactions pages through the business's ledger in insertion order.
func (s *Store) ListTransactions(ctx context.Context, businessID inventory.BusinessID, filter inventory.ListFilter, cursor int64, limit int) (inventory.Page, error) {
	conditions := []string{"business_id = ?", "seq > ?"}
	args := []any{businessID, cursor}

	if filter.StartDate != nil {
		conditions = append(conditions, "date >= ?")
		args = append(args, formatTime(*filter.StartDate))
	}
	if filter.EndDate != nil {
		conditions = append(conditions, "date <= ?")
		args = append(args, formatTime(*filter.EndDate))
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filter.Type)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY seq ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.queryTransactions(ctx, query, args...)
	if err != nil {
		return inventory.Page{}, err
	}

	page := inventory.Page{Transactions: make([]inventory.Transaction, 0, len(rows)), Cursor: cursor}
	for _, r := range rows {
		page.Transactions = append(page.Transactions, r.tx)
		page.Cursor = r.seq
	}
	return page, nil
}

type sequencedTx struct {
	seq int64
	tx  inventory.Transaction
}

// queryTransactions loads header rows then their lines with one IN query.
func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]sequencedTx, error) {
	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(fmt.Errorf("failed to query transactions: %w", err))
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	inQuery, inArgs, err := sqlx.In(
		`SELECT transaction_id, line_no, product_id, quantity, price
		 FROM transaction_lines WHERE transaction_id IN (?)
		 ORDER BY transaction_id, line_no`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build line query: %w", err)
	}

	var lines []lineRow
	if err := s.db.SelectContext(ctx, &lines, s.db.Rebind(inQuery), inArgs...); err != nil {
		return nil, mapError(fmt.Errorf("failed to query transaction lines: %w", err))
	}

	byTx := make(map[string][]inventory.LineItem, len(rows))
	for _, l := range lines {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			return nil, fmt.Errorf("failed to parse line price of transaction %s: %w", l.TransactionID, err)
		}
		byTx[l.TransactionID] = append(byTx[l.TransactionID], inventory.LineItem{
			ProductID: inventory.ProductID(l.ProductID),
			Quantity:  l.Quantity,
			Price:     price,
		})
	}

	result := make([]sequencedTx, 0, len(rows))
	for _, r := range rows {
		total, err := decimal.NewFromString(r.TotalAmount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse total of transaction %s: %w", r.ID, err)
		}
		result = append(result, sequencedTx{
			seq: r.Seq,
			tx: inventory.Transaction{
				ID:             inventory.TransactionID(r.ID),
				BusinessID:     inventory.BusinessID(r.BusinessID),
				Type:           inventory.TransactionType(r.Type),
				CustomerID:     inventory.ContactID(r.CustomerID.String),
				VendorID:       inventory.ContactID(r.VendorID.String),
				LineItems:      byTx[r.ID],
				TotalAmount:    total,
				Date:           parseTime(r.Date),
				IdempotencyKey: r.IdempotencyKey.String,
				CreatedAt:      parseTime(r.CreatedAt),
			},
		})
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL STORE (inventory.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. Any error from fn rolls
// back every statement fn issued.
func (s *Store) WithTx(ctx context.Context, _ inventory.BusinessID, fn func(inventory.UnitOfWork) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, now: s.now}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type txStore struct {
	tx  *sqlx.Tx
	now func() time.Time
}

func (ts *txStore) GetProduct(ctx context.Context, businessID inventory.BusinessID, productID inventory.ProductID) (inventory.Product, error) {
	return getProduct(ctx, ts.tx, businessID, productID)
}

func (ts *txStore) AdjustStock(ctx context.Context, businessID inventory.BusinessID, productID inventory.ProductID, delta int64) (inventory.Product, error) {
	return adjustStock(ctx, ts.tx, ts.now(), businessID, productID, delta)
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx inventory.Transaction) error {
	return appendTransaction(ctx, ts.tx, tx)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func isPrimaryKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique)
}

// mapError turns lock contention into inventory.ErrConcurrentModification.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", inventory.ErrConcurrentModification, err)
	}
	return err
}
