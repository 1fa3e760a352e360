/*
engine.go - Stock reconciliation engine

PURPOSE:
  Records sales and purchases. A submission validates its input, resolves
  its counterparty and products, checks stock for sales, then commits the
  ledger entry and every stock delta as one unit of work.

SUBMIT FLOW:
  1. Validate request shape                       -> ValidationError
  2. Replay: idempotency key already recorded     -> original transaction
  3. Resolve counterparty (type must match)       -> ValidationError
  4. Resolve products in the business             -> ProductNotFound
  5. Sales: aggregate per product, check stock    -> InsufficientStock
  6. WithTx: AdjustStock per product (conditional), AppendTransaction
  7. Commit-time floor violation                  -> InsufficientStock
  8. ConcurrentModification                       -> retried, then PersistenceFailure

CONCURRENCY:
  Step 5 is advisory. The real guard is the conditional update in step 6,
  which refuses any delta that would make stock negative. Two sales racing
  for the last units cannot both commit.

TIMEOUTS:
  The whole submission runs under CommitTimeout on a context detached from
  the caller, so a client disconnect cannot abort a commit half way. A
  deadline surfaces as PersistenceError.

SEE ALSO:
  - store.go: Contracts the engine drives
  - ledger.go: Read side
  - errors.go: Failure taxonomy
*/
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// EngineConfig bounds retries and store latency.
type EngineConfig struct {
	// MaxRetries is how many times a ConcurrentModification is retried.
	MaxRetries int
	// BaseBackoff and MaxBackoff shape the full-jitter exponential backoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// CommitTimeout bounds one whole submission including retries.
	CommitTimeout time.Duration
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxRetries:    3,
		BaseBackoff:   10 * time.Millisecond,
		MaxBackoff:    250 * time.Millisecond,
		CommitTimeout: 5 * time.Second,
	}
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithConfig replaces the engine configuration.
func WithConfig(cfg EngineConfig) EngineOption {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides transaction id generation.
func WithIDGenerator(gen func() TransactionID) EngineOption {
	return func(e *Engine) { e.newID = gen }
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine is safe for concurrent use.
type Engine struct {
	store Store
	cfg   EngineConfig
	log   *zap.Logger
	now   func() time.Time
	newID func() TransactionID
}

// NewEngine creates an engine over store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store: store,
		cfg:   DefaultEngineConfig(),
		log:   zap.NewNop(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() TransactionID { return TransactionID(uuid.New().String()) },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit records a sale or purchase and applies its stock deltas atomically.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (Transaction, error) {
	if err := req.Validate(); err != nil {
		return Transaction{}, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CommitTimeout)
	defer cancel()

	log := e.log.With(
		zap.String("business_id", string(req.BusinessID)),
		zap.String("type", string(req.Type)),
		zap.Int("line_items", len(req.LineItems)),
	)

	attempts := 0
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, backoffDelay(e.cfg.BaseBackoff, e.cfg.MaxBackoff, attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		attempts++

		tx, err := e.submitOnce(ctx, req)
		if err == nil {
			log.Info("transaction committed",
				zap.String("transaction_id", string(tx.ID)),
				zap.String("total_amount", tx.TotalAmount.String()),
				zap.Int("attempts", attempts),
			)
			return tx, nil
		}
		if !IsRetryable(err) {
			return Transaction{}, e.classify(log, err, attempts)
		}

		lastErr = err
		log.Warn("transaction commit conflicted, retrying", zap.Int("attempt", attempts), zap.Error(err))
	}

	log.Error("transaction commit retries exhausted", zap.Int("attempts", attempts), zap.Error(lastErr))
	return Transaction{}, &PersistenceError{Op: "submit", Attempts: attempts, Err: lastErr}
}

// classify passes client errors through and wraps everything else as a
// persistence failure.
func (e *Engine) classify(log *zap.Logger, err error, attempts int) error {
	if IsClientError(err) {
		log.Info("transaction rejected", zap.Error(err))
		return err
	}
	var perr *PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	log.Error("transaction commit failed", zap.Error(err))
	return &PersistenceError{Op: "submit", Attempts: attempts, Err: err}
}

func (e *Engine) submitOnce(ctx context.Context, req SubmitRequest) (Transaction, error) {
	if req.IdempotencyKey != "" {
		existing, ok, err := e.store.FindByIdempotencyKey(ctx, req.BusinessID, req.IdempotencyKey)
		if err != nil {
			return Transaction{}, err
		}
		if ok {
			return existing, nil
		}
	}

	tx, products, err := e.prepare(ctx, req)
	if err != nil {
		return Transaction{}, err
	}

	deltas, err := Deltas(tx.Type, tx.LineItems)
	if err != nil {
		return Transaction{}, err
	}
	err = e.store.WithTx(ctx, tx.BusinessID, func(uow UnitOfWork) error {
		for _, d := range deltas {
			if _, err := uow.AdjustStock(ctx, tx.BusinessID, d.ProductID, d.Delta); err != nil {
				return err
			}
		}
		return uow.AppendTransaction(ctx, tx)
	})
	if err == nil {
		return tx, nil
	}

	// A concurrent submission with the same key won the race.
	if errors.Is(err, ErrDuplicateIdempotencyKey) && req.IdempotencyKey != "" {
		existing, ok, ferr := e.store.FindByIdempotencyKey(ctx, req.BusinessID, req.IdempotencyKey)
		if ferr == nil && ok {
			return existing, nil
		}
		return Transaction{}, err
	}

	var conflict *StockConflictError
	if errors.As(err, &conflict) {
		return Transaction{}, &InsufficientStockError{
			ProductID: conflict.ProductID,
			Name:      products[conflict.ProductID].Name,
			Available: conflict.Stock,
			Requested: -conflict.Delta,
		}
	}
	if errors.Is(err, ErrProductNotFound) {
		return Transaction{}, &ProductNotFoundError{BusinessID: req.BusinessID, ProductID: productIDOf(err)}
	}
	return Transaction{}, err
}

// prepare resolves references and builds the transaction to commit.
func (e *Engine) prepare(ctx context.Context, req SubmitRequest) (Transaction, map[ProductID]Product, error) {
	now := e.now()
	tx := Transaction{
		ID:             e.newID(),
		BusinessID:     req.BusinessID,
		Type:           req.Type,
		LineItems:      append([]LineItem(nil), req.LineItems...),
		TotalAmount:    TotalOf(req.LineItems),
		Date:           req.Date,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}
	if tx.Date.IsZero() {
		tx.Date = now
	}

	if req.CounterpartyID != "" {
		if err := e.resolveCounterparty(ctx, req); err != nil {
			return Transaction{}, nil, err
		}
		if req.Type == TxSale {
			tx.CustomerID = req.CounterpartyID
		} else {
			tx.VendorID = req.CounterpartyID
		}
	}

	products := make(map[ProductID]Product, len(req.LineItems))
	for _, li := range req.LineItems {
		if _, seen := products[li.ProductID]; seen {
			continue
		}
		p, err := e.store.GetProduct(ctx, req.BusinessID, li.ProductID)
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				return Transaction{}, nil, &ProductNotFoundError{BusinessID: req.BusinessID, ProductID: li.ProductID}
			}
			return Transaction{}, nil, err
		}
		products[li.ProductID] = p
	}

	deltas, err := Deltas(req.Type, req.LineItems)
	if err != nil {
		return Transaction{}, nil, err
	}
	for _, d := range deltas {
		p := products[d.ProductID]
		if req.Type == TxSale && d.Delta < -p.Stock {
			return Transaction{}, nil, &InsufficientStockError{
				ProductID: p.ID,
				Name:      p.Name,
				Available: p.Stock,
				Requested: -d.Delta,
			}
		}
		if _, ok := AddStock(p.Stock, d.Delta); !ok {
			return Transaction{}, nil, quantityError(lineOf(req.LineItems, d.ProductID), "would overflow the product's stock level")
		}
	}

	return tx, products, nil
}

func (e *Engine) resolveCounterparty(ctx context.Context, req SubmitRequest) error {
	want := req.Type.CounterpartyType()
	field := "customerId"
	if want == ContactVendor {
		field = "vendorId"
	}

	c, err := e.store.ResolveContact(ctx, req.BusinessID, req.CounterpartyID)
	if errors.Is(err, ErrContactNotFound) {
		return &ValidationError{Field: field, Message: "contact not found in business"}
	}
	if err != nil {
		return err
	}
	if c.Type != want {
		return &ValidationError{Field: field, Message: "contact is a " + string(c.Type) + ", expected " + string(want)}
	}
	return nil
}

// productIDOf extracts the product from a store-level not-found error.
func productIDOf(err error) ProductID {
	var nf *ProductNotFoundError
	if errors.As(err, &nf) {
		return nf.ProductID
	}
	return ""
}

func lineOf(items []LineItem, productID ProductID) int {
	for i, li := range items {
		if li.ProductID == productID {
			return i
		}
	}
	return 0
}
