package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/coupon"

// Checker resolves a coupon code and evaluates it against a cart.
type Checker interface {
	Check(ctx context.Context, code string, cart Cart) (Result, *Coupon, error)
}

var _ Checker = (*Service)(nil)

// Service looks coupons up by code, runs ValidateForCart and enforces the
// redemption limits that need stored counts.
type Service struct {
	repo        Repository
	now         func() time.Time
	tracer      trace.Tracer
	evaluations metric.Int64Counter
}

// NewService creates a Service backed by repo.
func NewService(repo Repository, tp trace.TracerProvider, mp metric.MeterProvider) (*Service, error) {
	meter := mp.Meter(instrumentationName)
	evaluations, err := meter.Int64Counter("coupon.evaluations",
		metric.WithDescription("Coupon evaluations by discount kind and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create evaluations counter")
	}
	return &Service{
		repo:        repo,
		now:         time.Now,
		tracer:      tp.Tracer(instrumentationName),
		evaluations: evaluations,
	}, nil
}

// Check returns the evaluation of the coupon with the given code against
// cart. An unknown code yields a rejected Result, not an error. The returned
// coupon is nil only when the code was not found.
func (s *Service) Check(ctx context.Context, code string, cart Cart) (Result, *Coupon, error) {
	code = NormalizeCode(code)
	ctx, span := s.tracer.Start(ctx, "coupon.Check",
		trace.WithAttributes(attribute.String("coupon.code", code)),
	)
	defer span.End()

	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.record(ctx, "", ReasonNotFound)
			return Reject(ReasonNotFound), nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return Result{}, nil, errors.Wrap(err, "lookup coupon")
	}

	res, err := ValidateForCart(c, cart, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed coupon")
		return Result{}, c, err
	}
	if res.Valid {
		res, err = s.checkUsage(ctx, c, cart, res)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "count redemptions")
			return Result{}, c, err
		}
	}

	s.record(ctx, c.Discount.Kind(), res.Reason)
	zctx.From(ctx).Debug("Coupon evaluated",
		zap.String("code", c.Code),
		zap.String("kind", string(c.Discount.Kind())),
		zap.Bool("valid", res.Valid),
		zap.String("reason", string(res.Reason)),
		zap.Stringer("discount", res.DiscountAmount),
		zap.Int("free_units", res.FreeQuantity()),
	)
	span.SetAttributes(
		attribute.Bool("coupon.valid", res.Valid),
		attribute.String("coupon.reason", string(res.Reason)),
	)
	return res, c, nil
}

func (s *Service) checkUsage(ctx context.Context, c *Coupon, cart Cart, res Result) (Result, error) {
	if c.TotalUsageLimit > 0 {
		n, err := s.repo.CountRedemptions(ctx, c.ID, "")
		if err != nil {
			return Result{}, errors.Wrap(err, "count redemptions")
		}
		if n >= c.TotalUsageLimit {
			return Reject(ReasonUsageLimitReached), nil
		}
	}
	if c.CustomerUsageLimit > 0 && cart.UserID != "" {
		n, err := s.repo.CountRedemptions(ctx, c.ID, cart.UserID)
		if err != nil {
			return Result{}, errors.Wrap(err, "count customer redemptions")
		}
		if n >= c.CustomerUsageLimit {
			return Reject(ReasonCustomerUsageLimitReached), nil
		}
	}
	return res, nil
}

func (s *Service) record(ctx context.Context, kind Kind, reason Reason) {
	outcome := "valid"
	if reason != "" {
		outcome = string(reason)
	}
	s.evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	))
}
