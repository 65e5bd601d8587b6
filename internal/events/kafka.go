// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/storefront/internal/domain/order"
)

// TypeOrderCreated is the event type written for new orders.
const TypeOrderCreated = "order.created"

// MessageWriter is the subset of *kafka.Writer used by Publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ order.Publisher = (*Publisher)(nil)

// Config configures the Kafka writer.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Publisher writes order events keyed by order code, so every event of one
// order lands on the same partition.
type Publisher struct {
	w   MessageWriter
	now func() time.Time
}

// NewPublisher creates a Publisher with a kafka-go writer for cfg.
func NewPublisher(cfg Config) *Publisher {
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return NewPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	})
}

// NewPublisherWithWriter creates a Publisher on top of an existing writer.
func NewPublisherWithWriter(w MessageWriter) *Publisher {
	return &Publisher{w: w, now: time.Now}
}

// OrderCreated publishes an order.created event for o.
func (p *Publisher) OrderCreated(ctx context.Context, o *order.Order) error {
	id, err := uuid.NewRandom()
	if err != nil {
		return errors.Wrap(err, "event id")
	}

	msg := kafka.Message{
		Key:   []byte(o.Code),
		Value: encodeOrderCreated(id, p.now(), o),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(TypeOrderCreated)},
			{Key: "event_id", Value: []byte(id.String())},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s for %s", TypeOrderCreated, o.Code)
	}
	return nil
}

// Close flushes pending writes and releases the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

func encodeOrderCreated(id uuid.UUID, at time.Time, o *order.Order) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(id.String())
	e.FieldStart("type")
	e.Str(TypeOrderCreated)
	e.FieldStart("occurred_at")
	e.Str(at.UTC().Format(time.RFC3339Nano))
	e.FieldStart("order")
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("order_code")
	e.Str(o.Code)
	e.FieldStart("product_id")
	e.Int64(o.ProductID)
	e.FieldStart("product_name")
	e.Str(o.ProductName)
	e.FieldStart("quantity")
	e.Int(o.Quantity)
	if o.VoucherCode != "" {
		e.FieldStart("voucher_code")
		e.Str(o.VoucherCode)
	}
	e.FieldStart("discount_amount")
	e.Num(jx.Num(o.DiscountAmount.String()))
	e.FieldStart("total_price")
	e.Num(jx.Num(o.TotalPrice.String()))
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("created_at")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	e.ObjEnd()
	return e.Bytes()
}
