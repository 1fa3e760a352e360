/*
Package events turns order events from Kafka into sale transactions.

PURPOSE:
  An upstream order service publishes OrderCreated events. Each one becomes
  a single sale submitted through the stock engine, so stock and ledger stay
  consistent with orders taken elsewhere.

DELIVERY:
  Kafka delivers at least once. The sale carries IdempotencyKey
  "order:<event_id>", so a redelivered event replays the original
  transaction instead of decrementing stock twice.

OFFSETS:
  Messages are fetched without auto-commit. An offset is committed only once
  the message is settled: recorded, rejected by the engine, or skipped as not
  an order. Persistence failures are retried with capped exponential backoff
  and the offset is left alone, so a crash or shutdown mid-retry leaves the
  event on the topic for the next consumer.

FAILURES:
  - Undecodable or non-order messages are logged, skipped and committed.
  - Rejections (validation, unknown product, insufficient stock) are logged
    and committed; retrying cannot change the outcome.
  - Anything else is retried until it succeeds or ctx is cancelled.

SEE ALSO:
  - inventory/engine.go: Submit
  - cmd/server/main.go: Starts the listener when brokers are configured
*/
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/inventory"
)

// EventOrderCreated is the only event type the listener acts on.
const EventOrderCreated = "OrderCreated"

// ErrSkipped is returned by Handle for messages that are not orders the
// listener can act on.
var ErrSkipped = errors.New("event skipped")

// MessageReader is the subset of *kafka.Reader the listener uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Submitter records transactions. *inventory.Engine satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req inventory.SubmitRequest) (inventory.Transaction, error)
}

// OrderCreatedEvent is the envelope published by the order service.
type OrderCreatedEvent struct {
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	Payload   OrderPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

type OrderPayload struct {
	ID         string             `json:"id"`
	BusinessID string             `json:"business_id"`
	CustomerID string             `json:"customer_id,omitempty"`
	Items      []OrderItemPayload `json:"items"`
}

type OrderItemPayload struct {
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderListener consumes order events and submits sales.
type OrderListener struct {
	reader     MessageReader
	engine     Submitter
	logger     *zap.Logger
	backoff    time.Duration
	maxBackoff time.Duration
}

// NewOrderListener creates a listener.
func NewOrderListener(reader MessageReader, engine Submitter, logger *zap.Logger) *OrderListener {
	return &OrderListener{
		reader:     reader,
		engine:     engine,
		logger:     logger,
		backoff:    time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// NewKafkaReader builds a consumer-group reader for the orders topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Start reads until ctx is cancelled or the reader is closed.
func (l *OrderListener) Start(ctx context.Context) {
	l.logger.Info("starting order event listener")
	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				l.logger.Info("stopping order event listener")
				return
			}
			l.logger.Error("failed to fetch kafka message", zap.Error(err))

			if !l.wait(ctx, l.backoff) {
				return
			}
			continue
		}

		if err := l.settle(ctx, msg); err != nil {
			l.logger.Info("stopping order event listener with message unsettled",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
			return
		}
	}
}

// settle handles msg until it is recorded, rejected or skipped, then commits
// its offset. It returns ctx's error if cancelled first; the offset is then
// left uncommitted.
func (l *OrderListener) settle(ctx context.Context, msg kafka.Message) error {
	delay := l.backoff
	for attempt := 1; ; attempt++ {
		_, err := l.Handle(ctx, msg.Value)
		if err == nil || errors.Is(err, ErrSkipped) || inventory.IsClientError(err) {
			if err := l.reader.CommitMessages(ctx, msg); err != nil {
				// Redelivery replays through the idempotency key.
				l.logger.Warn("failed to commit kafka offset",
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
			return nil
		}

		l.logger.Warn("order event not recorded, retrying",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		if !l.wait(ctx, delay) {
			return ctx.Err()
		}
		delay = min(delay*2, l.maxBackoff)
	}
}

func (l *OrderListener) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close closes the underlying reader.
func (l *OrderListener) Close() error {
	return l.reader.Close()
}

// Handle processes one message value and returns the committed
// transaction. Messages it does not act on return an error wrapping
// ErrSkipped; engine errors are returned as is.
func (l *OrderListener) Handle(ctx context.Context, value []byte) (inventory.Transaction, error) {
	var event OrderCreatedEvent
	if err := json.Unmarshal(value, &event); err != nil {
		l.logger.Error("failed to unmarshal event", zap.Error(err))
		return inventory.Transaction{}, fmt.Errorf("%w: %v", ErrSkipped, err)
	}
	if event.EventType != EventOrderCreated {
		return inventory.Transaction{}, fmt.Errorf("%w: event type %q", ErrSkipped, event.EventType)
	}
	if event.EventID == "" {
		l.logger.Warn("order event without event_id skipped", zap.String("order_id", event.Payload.ID))
		return inventory.Transaction{}, fmt.Errorf("%w: missing event_id", ErrSkipped)
	}

	log := l.logger.With(
		zap.String("event_id", event.EventID),
		zap.String("order_id", event.Payload.ID),
		zap.String("business_id", event.Payload.BusinessID),
	)
	log.Info("processing order event")

	req := inventory.SubmitRequest{
		BusinessID:     inventory.BusinessID(event.Payload.BusinessID),
		Type:           inventory.TxSale,
		CounterpartyID: inventory.ContactID(event.Payload.CustomerID),
		Date:           event.Timestamp,
		IdempotencyKey: "order:" + event.EventID,
	}
	for _, item := range event.Payload.Items {
		req.LineItems = append(req.LineItems, inventory.LineItem{
			ProductID: inventory.ProductID(item.ProductID),
			Quantity:  item.Quantity,
			Price:     item.UnitPrice,
		})
	}

	tx, err := l.engine.Submit(ctx, req)
	if err != nil {
		if inventory.IsClientError(err) {
			log.Warn("order rejected", zap.Error(err))
		} else {
			log.Error("failed to record order", zap.Error(err))
		}
		return inventory.Transaction{}, err
	}

	log.Info("order recorded", zap.String("transaction_id", string(tx.ID)))
	return tx, nil
}
