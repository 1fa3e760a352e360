// Package store provides an in-memory inventory.Backend for tests and
// single-process deployments.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/stock-engine/inventory"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps products, contacts and ledgers in maps.
//
// Writes to one business are serialized by a per-business slot: a one-token
// channel, so waiting for it honours context deadlines. Units of work stage
// their stock deltas and ledger entry and publish them under mu only on
// success, so readers never observe a partial commit.
type Memory struct {
	mu       sync.RWMutex
	products map[productKey]inventory.Product
	contacts map[contactKey]inventory.Contact
	ledgers  map[inventory.BusinessID]*ledger
	seq      int64

	slotsMu sync.Mutex
	slots   map[inventory.BusinessID]chan struct{}

	now func() time.Time
}

type productKey struct {
	BusinessID inventory.BusinessID
	ProductID  inventory.ProductID
}

type contactKey struct {
	BusinessID inventory.BusinessID
	ContactID  inventory.ContactID
}

type ledgerEntry struct {
	seq int64
	tx  inventory.Transaction
}

type ledger struct {
	entries []ledgerEntry
	byID    map[inventory.TransactionID]int
	byKey   map[string]int
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		products: make(map[productKey]inventory.Product),
		contacts: make(map[contactKey]inventory.Contact),
		ledgers:  make(map[inventory.BusinessID]*ledger),
		slots:    make(map[inventory.BusinessID]chan struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ inventory.Backend = (*Memory)(nil)

// =============================================================================
// BUSINESS SLOTS
// =============================================================================

func (m *Memory) slot(businessID inventory.BusinessID) chan struct{} {
	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()

	s, ok := m.slots[businessID]
	if !ok {
		s = make(chan struct{}, 1)
		m.slots[businessID] = s
	}
	return s
}

func (m *Memory) acquire(ctx context.Context, businessID inventory.BusinessID) (release func(), err error) {
	s := m.slot(businessID)
	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// =============================================================================
// PRODUCTS
// =============================================================================

// GetProduct returns the product if it belongs to businessID.
func (m *Memory) GetProduct(_ context.Context, businessID inventory.BusinessID, productID inventory.ProductID) (inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[productKey{businessID, productID}]
	if !ok {
		return inventory.Product{}, &inventory.ProductNotFoundError{BusinessID: businessID, ProductID: productID}
	}
	return p, nil
}

// AdjustStock applies delta as its own unit of work.
func (m *Memory) AdjustStock(ctx context.Context, businessID inventory.BusinessID, productID inventory.ProductID, delta int64) (inventory.Product, error) {
	var updated inventory.Product
	err := m.WithTx(ctx, businessID, func(uow inventory.UnitOfWork) error {
		p, err := uow.AdjustStock(ctx, businessID, productID, delta)
		updated = p
		return err
	})
	if err != nil {
		return inventory.Product{}, err
	}
	return updated, nil
}

var errStockOverflow = &inventory.ValidationError{Field: "stock", Message: "adjustment would overflow the stock level"}

// SaveProduct creates a product or updates its catalog fields. The stock of
// an existing product is never changed here. It waits for the business slot
// so an in-flight unit of work cannot publish over the edit.
func (m *Memory) SaveProduct(ctx context.Context, p inventory.Product) error {
	if p.Stock < 0 {
		return &inventory.ValidationError{Field: "stock", Message: "must not be negative"}
	}

	release, err := m.acquire(ctx, p.BusinessID)
	if err != nil {
		return err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.putProduct(p)
	return nil
}

// CreateProduct inserts a new product. An id already taken in the business
// fails with ErrProductExists.
func (m *Memory) CreateProduct(ctx context.Context, p inventory.Product) error {
	if p.Stock < 0 {
		return &inventory.ValidationError{Field: "stock", Message: "must not be negative"}
	}

	release, err := m.acquire(ctx, p.BusinessID)
	if err != nil {
		return err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[productKey{p.BusinessID, p.ID}]; ok {
		return inventory.ErrProductExists
	}
	m.putProduct(p)
	return nil
}

// putProduct writes p, keeping the stock of an existing product. mu and the
// business slot must be held.
func (m *Memory) putProduct(p inventory.Product) {
	k := productKey{p.BusinessID, p.ID}
	now := m.now()
	if existing, ok := m.products[k]; ok {
		p.Stock = existing.Stock
		p.Version = existing.Version
		p.CreatedAt = existing.CreatedAt
	} else {
		p.Version = 1
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
	}
	p.UpdatedAt = now
	m.products[k] = p
}

// ListProducts returns the business's products sorted by name.
func (m *Memory) ListProducts(_ context.Context, businessID inventory.BusinessID) ([]inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []inventory.Product{}
	for k, p := range m.products {
		if k.BusinessID == businessID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// =============================================================================
// CONTACTS
// =============================================================================

// ResolveContact returns the contact if it belongs to businessID.
func (m *Memory) ResolveContact(_ context.Context, businessID inventory.BusinessID, contactID inventory.ContactID) (inventory.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contacts[contactKey{businessID, contactID}]
	if !ok {
		return inventory.Contact{}, inventory.ErrContactNotFound
	}
	return c, nil
}

// SaveContact creates or replaces a contact.
func (m *Memory) SaveContact(_ context.Context, c inventory.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	m.contacts[contactKey{c.BusinessID, c.ID}] = c
	return nil
}

// ListContacts returns the business's contacts, optionally of one type.
func (m *Memory) ListContacts(_ context.Context, businessID inventory.BusinessID, typ inventory.ContactType) ([]inventory.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []inventory.Contact{}
	for k, c := range m.contacts {
		if k.BusinessID == businessID && (typ == "" || c.Type == typ) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// =============================================================================
// LEDGER
// =============================================================================

// AppendTransaction appends as its own unit of work.
func (m *Memory) AppendTransaction(ctx context.Context, tx inventory.Transaction) error {
	return m.WithTx(ctx, tx.BusinessID, func(uow inventory.UnitOfWork) error {
		return uow.AppendTransaction(ctx, tx)
	})
}

// GetTransaction returns one transaction of the business.
func (m *Memory) GetTransaction(_ context.Context, businessID inventory.BusinessID, id inventory.TransactionID) (inventory.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.ledgers[businessID]
	if !ok {
		return inventory.Transaction{}, inventory.ErrTransactionNotFound
	}
	i, ok := l.byID[id]
	if !ok {
		return inventory.Transaction{}, inventory.ErrTransactionNotFound
	}
	return cloneTx(l.entries[i].tx), nil
}

// FindByIdempotencyKey looks up a transaction by its client key.
func (m *Memory) FindByIdempotencyKey(_ context.Context, businessID inventory.BusinessID, key string) (inventory.Transaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.ledgers[businessID]
	if !ok {
		return inventory.Transaction{}, false, nil
	}
	i, ok := l.byKey[key]
	if !ok {
		return inventory.Transaction{}, false, nil
	}
	return cloneTx(l.entries[i].tx), true, nil
}

// ListTransactions pages through the business's ledger in insertion order.
func (m *Memory) ListTransactions(_ context.Context, businessID inventory.BusinessID, filter inventory.ListFilter, cursor int64, limit int) (inventory.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	page := inventory.Page{Transactions: []inventory.Transaction{}, Cursor: cursor}
	l, ok := m.ledgers[businessID]
	if !ok {
		return page, nil
	}

	start := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].seq > cursor })
	for _, e := range l.entries[start:] {
		if limit > 0 && len(page.Transactions) >= limit {
			break
		}
		if !filter.Matches(e.tx) {
			continue
		}
		page.Transactions = append(page.Transactions, cloneTx(e.tx))
		page.Cursor = e.seq
	}
	return page, nil
}

func cloneTx(tx inventory.Transaction) inventory.Transaction {
	tx.LineItems = append([]inventory.LineItem(nil), tx.LineItems...)
	return tx
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx runs fn with exclusive write access to businessID. Changes are
// staged and published only if fn succeeds; otherwise they are discarded.
func (m *Memory) WithTx(ctx context.Context, businessID inventory.BusinessID, fn func(inventory.UnitOfWork) error) error {
	release, err := m.acquire(ctx, businessID)
	if err != nil {
		return err
	}
	defer release()

	uow := &memoryUnit{parent: m, businessID: businessID, staged: make(map[inventory.ProductID]inventory.Product)}
	if err := fn(uow); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.publish(uow)
	return nil
}

func (m *Memory) publish(uow *memoryUnit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range uow.staged {
		m.products[productKey{p.BusinessID, p.ID}] = p
	}

	if len(uow.appended) == 0 {
		return
	}
	l, ok := m.ledgers[uow.businessID]
	if !ok {
		l = &ledger{byID: make(map[inventory.TransactionID]int), byKey: make(map[string]int)}
		m.ledgers[uow.businessID] = l
	}
	for _, tx := range uow.appended {
		m.seq++
		l.entries = append(l.entries, ledgerEntry{seq: m.seq, tx: tx})
		l.byID[tx.ID] = len(l.entries) - 1
		if tx.IdempotencyKey != "" {
			l.byKey[tx.IdempotencyKey] = len(l.entries) - 1
		}
	}
}

// memoryUnit stages writes for one WithTx call. The business slot is held,
// so committed state of the business cannot change underneath it.
type memoryUnit struct {
	parent     *Memory
	businessID inventory.BusinessID
	staged     map[inventory.ProductID]inventory.Product
	appended   []inventory.Transaction
}

func (u *memoryUnit) GetProduct(ctx context.Context, businessID inventory.BusinessID, productID inventory.ProductID) (inventory.Product, error) {
	if businessID == u.businessID {
		if p, ok := u.staged[productID]; ok {
			return p, nil
		}
	}
	return u.parent.GetProduct(ctx, businessID, productID)
}

func (u *memoryUnit) AdjustStock(ctx context.Context, businessID inventory.BusinessID, productID inventory.ProductID, delta int64) (inventory.Product, error) {
	if businessID != u.businessID {
		return inventory.Product{}, &inventory.ProductNotFoundError{BusinessID: businessID, ProductID: productID}
	}
	p, err := u.GetProduct(ctx, businessID, productID)
	if err != nil {
		return inventory.Product{}, err
	}
	stock, ok := inventory.AddStock(p.Stock, delta)
	if !ok {
		return inventory.Product{}, errStockOverflow
	}
	if stock < 0 {
		return inventory.Product{}, &inventory.StockConflictError{ProductID: productID, Stock: p.Stock, Delta: delta}
	}

	p.Stock = stock
	p.Version++
	p.UpdatedAt = u.parent.now()
	u.staged[productID] = p
	return p, nil
}

func (u *memoryUnit) AppendTransaction(_ context.Context, tx inventory.Transaction) error {
	if tx.BusinessID != u.businessID {
		return &inventory.ValidationError{Field: "businessId", Message: "does not match unit of work"}
	}
	if tx.IdempotencyKey != "" {
		if _, found, _ := u.parent.FindByIdempotencyKey(context.Background(), tx.BusinessID, tx.IdempotencyKey); found {
			return inventory.ErrDuplicateIdempotencyKey
		}
		for _, staged := range u.appended {
			if staged.IdempotencyKey == tx.IdempotencyKey {
				return inventory.ErrDuplicateIdempotencyKey
			}
		}
	}
	u.appended = append(u.appended, cloneTx(tx))
	return nil
}
