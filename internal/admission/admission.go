// Package admission turns a checkout request into a persisted order with server-computed amounts.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-reconciler/internal/idempotency"
	"github.com/imrishuroy/storefront-reconciler/internal/identity"
	"github.com/imrishuroy/storefront-reconciler/internal/logging"
	"github.com/imrishuroy/storefront-reconciler/internal/metrics"
	"github.com/imrishuroy/storefront-reconciler/internal/notify"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
	"github.com/imrishuroy/storefront-reconciler/internal/pricing"
	"github.com/imrishuroy/storefront-reconciler/internal/promo"
	"github.com/imrishuroy/storefront-reconciler/internal/stock"
)

// ErrInvalidRequest wraps every validation failure found before any state change.
var ErrInvalidRequest = errors.New("invalid order request")

const maxAdmitRetries = 3

// Request is a checkout. Client-side prices and totals are never part of it.
type Request struct {
	User           identity.Identity
	Items          []orders.LineItem
	Shipping       orders.ShippingAddress
	PaymentMethod  orders.PaymentMethod
	Gateway        orders.Gateway
	PromoCode      string
	IdempotencyKey string
}

// Result is the admitted order. Replayed is true when an earlier request with the same
// idempotency key already created it.
type Result struct {
	Order    *orders.Order
	Replayed bool
}

// CartClearer empties a user's cart.
type CartClearer interface {
	Clear(ctx context.Context, userID string) (int, error)
}

// Service admits orders.
type Service struct {
	orders      *orders.Store
	stock       *stock.Mutator
	pricer      *pricing.Pricer
	promos      *promo.Store
	idempotency *idempotency.Store
	carts       CartClearer
	notify      *notify.Dispatcher
	metrics     metrics.Recorder
	currency    string
	nowFunc     func() time.Time
}

// Config bundles the Service collaborators. Promos, Idempotency, Carts and Notify are optional.
type Config struct {
	Orders      *orders.Store
	Stock       *stock.Mutator
	Pricer      *pricing.Pricer
	Promos      *promo.Store
	Idempotency *idempotency.Store
	Carts       CartClearer
	Notify      *notify.Dispatcher
	Metrics     metrics.Recorder
	Currency    string
}

func NewService(cfg Config) *Service {
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Service{
		orders:      cfg.Orders,
		stock:       cfg.Stock,
		pricer:      cfg.Pricer,
		promos:      cfg.Promos,
		idempotency: cfg.Idempotency,
		carts:       cfg.Carts,
		notify:      cfg.Notify,
		metrics:     rec,
		currency:    cfg.Currency,
		nowFunc:     time.Now,
	}
}

// PlaceOrder validates and persists an order. COD orders take stock in the same transaction as
// the order write and start in Processing; Prepaid orders only check availability.
func (s *Service) PlaceOrder(ctx context.Context, req Request) (*Result, error) {
	logger := logging.FromContext(ctx).With(zap.String("user_id", req.User.UserID))

	if err := validate(req); err != nil {
		return nil, err
	}
	if res, err := s.replay(ctx, req); res != nil || err != nil {
		return res, err
	}

	quote, err := s.pricer.Price(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	discount, err := s.discount(ctx, req.PromoCode, quote.Subtotal)
	if err != nil {
		return nil, err
	}
	discount, shipping, total := s.pricer.Totals(quote.Subtotal, discount)

	o := &orders.Order{
		OrderID:        uuid.NewString(),
		UserID:         req.User.UserID,
		Items:          quote.Items,
		Shipping:       req.Shipping,
		PaymentMethod:  req.PaymentMethod,
		PaymentStatus:  orders.PaymentPending,
		OrderStatus:    orders.StatusPending,
		PaymentGateway: req.Gateway,
		Currency:       s.currency,
		PromoCode:      promo.Normalize(req.PromoCode),
		Subtotal:       quote.Subtotal,
		DiscountAmount: discount,
		ShippingCost:   shipping,
		TotalAmount:    total,
		CreatedAt:      s.nowFunc().UTC(),
	}
	if o.PaymentMethod == orders.MethodCOD {
		o.OrderStatus = orders.StatusProcessing
		o.PaymentGateway = ""
	}

	res, err := s.commit(ctx, req, o)
	if err != nil {
		return nil, err
	}
	if res.Replayed {
		return res, nil
	}

	s.metrics.Count(ctx, metrics.OrdersAdmitted, metrics.L("method", string(o.PaymentMethod)))
	logger.Info("order_admitted",
		zap.String("order_id", o.OrderID),
		zap.String("payment_method", string(o.PaymentMethod)),
		zap.Int64("total_amount", o.TotalAmount))

	if o.PaymentMethod == orders.MethodCOD {
		if s.carts != nil {
			if _, err := s.carts.Clear(ctx, o.UserID); err != nil {
				logger.Warn("cart_clear_failed", zap.String("order_id", o.OrderID), zap.Error(err))
			}
		}
	}
	s.notify.OrderPlaced(ctx, o, req.User)
	return res, nil
}

// commit writes the order with its stock plan and idempotency claim, re-planning the stock on a
// product version race.
func (s *Service) commit(ctx context.Context, req Request, o *orders.Order) (*Result, error) {
	lines := stock.LinesFor(o.Items)
	for attempt := 0; attempt < maxAdmitRetries; attempt++ {
		var extra []types.TransactWriteItem
		if o.PaymentMethod == orders.MethodCOD {
			plan, err := s.stock.Reduce(ctx, lines, stock.ModeAdmission)
			if err != nil {
				return nil, err
			}
			extra = append(extra, plan.Items...)
		} else if err := s.stock.CheckAvailability(ctx, lines); err != nil {
			return nil, err
		}

		reserveAt := -1
		if s.idempotency != nil && req.IdempotencyKey != "" {
			item, err := s.idempotency.Reserve(req.User.UserID, req.IdempotencyKey, o.OrderID)
			if err != nil {
				return nil, err
			}
			reserveAt = len(extra)
			extra = append(extra, item)
		}

		err := s.orders.Create(ctx, o, extra...)
		if err == nil {
			return &Result{Order: o}, nil
		}
		var conflict *orders.ConflictError
		if !errors.As(err, &conflict) {
			return nil, err
		}
		if reserveAt >= 0 && containsIndex(conflict.Extra, reserveAt) {
			// a concurrent request with the same key won
			if res, err := s.replay(ctx, req); res != nil || err != nil {
				return res, err
			}
		}
		if errors.Is(err, orders.ErrAlreadyExists) {
			return nil, err
		}
		s.metrics.Count(ctx, metrics.CommitConflicts, metrics.L("op", "admission"))
		logging.FromContext(ctx).Debug("order_admission_conflict",
			zap.String("order_id", o.OrderID),
			zap.Ints("extra", conflict.Extra),
			zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("admit order %s: %w", o.OrderID, orders.ErrVersionConflict)
}

// replay returns the order an earlier request with the same key created.
func (s *Service) replay(ctx context.Context, req Request) (*Result, error) {
	if s.idempotency == nil || req.IdempotencyKey == "" {
		return nil, nil
	}
	rec, err := s.idempotency.Get(ctx, req.User.UserID, req.IdempotencyKey)
	if err != nil || rec == nil {
		return nil, err
	}
	o, err := s.orders.Get(ctx, rec.OrderID)
	if err != nil {
		return nil, fmt.Errorf("replay idempotency key: %w", err)
	}
	logging.FromContext(ctx).Info("order_replayed",
		zap.String("order_id", o.OrderID),
		zap.String("idempotency_key", req.IdempotencyKey))
	return &Result{Order: o, Replayed: true}, nil
}

func (s *Service) discount(ctx context.Context, code string, subtotal int64) (int64, error) {
	if strings.TrimSpace(code) == "" {
		return 0, nil
	}
	if s.promos == nil {
		return 0, fmt.Errorf("%w: promo codes are not accepted", ErrInvalidRequest)
	}
	d, err := s.promos.Apply(ctx, code, subtotal)
	switch {
	case err == nil:
		return d, nil
	case errors.Is(err, promo.ErrNotFound), errors.Is(err, promo.ErrInactive),
		errors.Is(err, promo.ErrExpired), errors.Is(err, promo.ErrMinSubtotal):
		return 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	default:
		return 0, err
	}
}

func validate(req Request) error {
	if req.User.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidRequest)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidRequest)
	}
	for i, it := range req.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d needs a product and a positive quantity", ErrInvalidRequest, i)
		}
	}
	switch req.PaymentMethod {
	case orders.MethodCOD:
	case orders.MethodPrepaid:
		if !req.Gateway.Valid() {
			return fmt.Errorf("%w: prepaid orders need a gateway", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidRequest, req.PaymentMethod)
	}
	return nil
}

func containsIndex(xs []int, want int) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
