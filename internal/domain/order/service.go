package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/voucher"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/order"

// maxCodeAttempts bounds order code regeneration on collision.
const maxCodeAttempts = 3

// Sentinel errors for order input validation.
var (
	ErrMissingFields   = errors.New("missing required fields")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// CreateOrderInput holds the customer-supplied checkout data.
type CreateOrderInput struct {
	CustomerName    string
	CustomerPhone   string
	CustomerAddress string
	ProductID       int64
	Color           string
	Size            string
	// Quantity defaults to 1 when zero.
	Quantity    int
	VoucherCode string
	Note        string
}

func (in CreateOrderInput) normalized() CreateOrderInput {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CustomerPhone = strings.TrimSpace(in.CustomerPhone)
	in.CustomerAddress = strings.TrimSpace(in.CustomerAddress)
	in.Color = strings.TrimSpace(in.Color)
	in.Size = strings.TrimSpace(in.Size)
	in.Note = strings.TrimSpace(in.Note)
	in.VoucherCode = voucher.NormalizeCode(in.VoucherCode)
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	return in
}

func (in CreateOrderInput) validate() error {
	if in.CustomerName == "" || in.CustomerPhone == "" || in.CustomerAddress == "" || in.ProductID <= 0 {
		return ErrMissingFields
	}
	if in.Quantity < 1 {
		return ErrInvalidQuantity
	}
	return nil
}

// CreateOrderResult is returned for a committed order.
type CreateOrderResult struct {
	Order    *Order
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Service implements the checkout workflow.
type Service struct {
	tx      Transactor
	events  Publisher
	now     func() time.Time
	newCode CodeGenerator

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	tracer   trace.Tracer
	created  metric.Int64Counter
	redeemed metric.Int64Counter
	rejected metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the publisher notified after each committed order.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeGenerator overrides order code generation.
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *Service) { s.newCode = gen }
}

// WithTelemetry sets the providers used for spans and counters.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(s *Service) {
		s.tracerProvider = tp
		s.meterProvider = mp
	}
}

// NewService creates the order Service.
func NewService(tx Transactor, opts ...Option) (*Service, error) {
	s := &Service{
		tx:             tx,
		events:         nopPublisher{},
		now:            time.Now,
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	if s.newCode == nil {
		gen, err := NewCodeGenerator()
		if err != nil {
			return nil, err
		}
		s.newCode = gen
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.created, err = meter.Int64Counter("storefront.orders.created",
		metric.WithDescription("Orders committed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	if s.redeemed, err = meter.Int64Counter("storefront.vouchers.redeemed",
		metric.WithDescription("Voucher redemptions recorded with an order"),
	); err != nil {
		return nil, errors.Wrap(err, "vouchers.redeemed counter")
	}
	if s.rejected, err = meter.Int64Counter("storefront.orders.rejected",
		metric.WithDescription("Order attempts rejected, by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.rejected counter")
	}

	return s, nil
}

// CreateOrder validates the input, then in one transaction loads the active
// product, validates and consumes the voucher, prices the line and inserts
// the order. A failure at any step rolls back the voucher increment.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (_ *CreateOrderResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", RejectReason(rerr))))
		}
		span.End()
	}()

	in = in.normalized()
	if err := in.validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("product.id", in.ProductID),
		attribute.Int("order.quantity", in.Quantity),
		attribute.Bool("order.voucher", in.VoucherCode != ""),
	)

	now := s.now()
	var o *Order
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.Products().GetActive(ctx, in.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return product.ErrNotFound
			}
			return errors.Wrap(err, "get product")
		}

		discount := decimal.Zero
		if in.VoucherCode != "" {
			v, err := voucher.NewValidator(tx.Vouchers()).Validate(ctx, in.VoucherCode, now)
			if err != nil {
				return err
			}
			if err := tx.Vouchers().Consume(ctx, v.ID); err != nil {
				if errors.Is(err, voucher.ErrVoucherLimit) {
					return voucher.ErrVoucherLimit
				}
				return errors.Wrap(err, "consume voucher")
			}
			discount = v.DiscountAmount
		}

		q := Price(p.Price, in.Quantity, discount)
		o = &Order{
			CustomerName:    in.CustomerName,
			CustomerPhone:   in.CustomerPhone,
			CustomerAddress: in.CustomerAddress,
			ProductID:       p.ID,
			ProductName:     p.Name,
			ProductPrice:    p.Price,
			Color:           in.Color,
			Size:            in.Size,
			Quantity:        in.Quantity,
			VoucherCode:     in.VoucherCode,
			DiscountAmount:  q.Discount,
			TotalPrice:      q.Total,
			Note:            in.Note,
			Status:          StatusPending,
		}
		return s.insert(ctx, tx.Orders(), o, now)
	})
	if err != nil {
		return nil, err
	}

	s.created.Add(ctx, 1)
	if o.VoucherCode != "" {
		s.redeemed.Add(ctx, 1, metric.WithAttributes(attribute.String("voucher.code", o.VoucherCode)))
	}
	if err := s.events.OrderCreated(ctx, o); err != nil {
		zctx.From(ctx).Warn("Publish order event failed",
			zap.String("order_code", o.Code),
			zap.Error(err),
		)
	}

	return &CreateOrderResult{
		Order:    o,
		Discount: o.DiscountAmount,
		Total:    o.TotalPrice,
	}, nil
}

// insert stores o under a freshly generated code, regenerating the code when
// it collides with an existing order.
func (s *Service) insert(ctx context.Context, orders Repository, o *Order, now time.Time) error {
	for attempt := 1; ; attempt++ {
		o.Code = s.newCode(now)
		err := orders.Create(ctx, o)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrDuplicateCode) && attempt < maxCodeAttempts {
			continue
		}
		return errors.Wrap(err, "create order")
	}
}

// RejectReason classifies a CreateOrder error for metrics and logs.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingFields):
		return "missing_fields"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, product.ErrNotFound):
		return "product_not_found"
	case errors.Is(err, voucher.ErrInvalidVoucher):
		return "invalid_voucher"
	case errors.Is(err, voucher.ErrVoucherLimit):
		return "voucher_limit"
	default:
		return "internal"
	}
}
