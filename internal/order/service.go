package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mvtien/storefront-backend/internal/auth"
)

// BuyerOrderScope selects which slice of a buyer's orders to return.
type BuyerOrderScope string

const (
	ScopeAll       BuyerOrderScope = ""
	ScopeActive    BuyerOrderScope = "active"
	ScopeCompleted BuyerOrderScope = "completed"
)

// TransitionRequest asks the engine to move one order to a target status.
// The idempotency key is optional; a repeat of the last applied key is
// answered with the current order and no stock effect.
type TransitionRequest struct {
	OrderID        uuid.UUID
	Target         OrderStatus
	ActingUserID   uuid.NullUUID
	IdempotencyKey string
}

// RevertRequest asks for the privileged Fulfilled -> Pending revert.
type RevertRequest struct {
	OrderID        uuid.UUID
	Secret         string
	ActingUserID   uuid.NullUUID
	IdempotencyKey string
}

// ListQuery is the admin dashboard listing: status filter, creation month
// (YYYY-MM), buyer filter, pagination.
type ListQuery struct {
	Status  string
	Month   string
	BuyerID uuid.NullUUID
	Page    int
	Limit   int
}

type OrderPage struct {
	Orders     []Order `json:"orders"`
	Total      int     `json:"total"`
	Page       int     `json:"page"`
	TotalPages int     `json:"total_pages"`
}

type Service interface {
	CreateOrder(ctx context.Context, o *Order) (*Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, q ListQuery) (*OrderPage, error)
	GetOrdersByBuyer(ctx context.Context, buyerID uuid.UUID, scope BuyerOrderScope) ([]Order, error)
	Transition(ctx context.Context, req TransitionRequest) (*Order, error)
	Revert(ctx context.Context, req RevertRequest) (*Order, error)
	AppendNote(ctx context.Context, orderID uuid.UUID, text string) (*Order, error)
	RemoveNote(ctx context.Context, orderID uuid.UUID, index int) (*Order, error)
	DeleteOrder(ctx context.Context, orderID uuid.UUID) error
}

type service struct {
	orderRepo Repository
	secret    auth.SecretVerifier
	events    EventPublisher
}

func NewService(orderRepo Repository, secret auth.SecretVerifier, events EventPublisher) Service {
	if events == nil {
		events = NoopPublisher{}
	}
	return &service{
		orderRepo: orderRepo,
		secret:    secret,
		events:    events,
	}
}

func (s *service) CreateOrder(ctx context.Context, o *Order) (*Order, error) {
	if len(o.LineItems) == 0 {
		log.Warn().Stringer("buyer_id", o.BuyerID).Msg("service: attempt to create order with no line items")
		return nil, errors.New("service: order must contain at least one line item")
	}
	if o.BuyerID == uuid.Nil {
		return nil, errors.New("service: buyer id is required")
	}
	if o.DeliveryAddress == "" {
		return nil, errors.New("service: delivery address is required")
	}

	o.ID = uuid.Nil

	total := decimal.Zero
	for i := range o.LineItems {
		item := &o.LineItems[i]

		if item.ProductID == uuid.Nil {
			return nil, errors.New("service: product id in line item cannot be nil")
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("service: line item quantity for product %s must be at least 1", item.ProductID)
		}
		if item.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("service: line item unit price for product %s cannot be negative", item.ProductID)
		}

		item.ID = uuid.Nil
		item.OrderID = uuid.Nil

		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	// Creation reserves nothing: stock moves only on Pending -> Shipping.
	o.Status = StatusPending
	o.TotalPrice = total
	o.HandlerID = uuid.NullUUID{}
	o.PromisedDeliveryAt = time.Now().UTC().Add(deliveryLeadTime)

	_, err := s.orderRepo.CreateOrder(ctx, o)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to create order in repository")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().Stringer("order_id", o.ID).Stringer("buyer_id", o.BuyerID).Msg("service: order created")
	return o, nil
}

func (s *service) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.orderRepo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return o, nil
}

func (s *service) ListOrders(ctx context.Context, q ListQuery) (*OrderPage, error) {
	filter := ListFilter{
		BuyerID: q.BuyerID,
		Page:    q.Page,
		Limit:   q.Limit,
	}

	if q.Status != "" {
		status, err := ParseStatus(q.Status)
		if err != nil {
			return nil, err
		}
		filter.Status = status
	}

	if q.Month != "" {
		from, err := time.Parse("2006-01", q.Month)
		if err != nil {
			return nil, fmt.Errorf("service: invalid month %q, want YYYY-MM", q.Month)
		}
		filter.CreatedFrom = from
		filter.CreatedTo = from.AddDate(0, 1, 0).Add(-time.Nanosecond)
	}

	if filter.Limit <= 0 {
		filter.Limit = 10
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	orders, total, err := s.orderRepo.ListOrders(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list orders in repository")
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}

	totalPages := (total + filter.Limit - 1) / filter.Limit
	return &OrderPage{
		Orders:     orders,
		Total:      total,
		Page:       filter.Page,
		TotalPages: totalPages,
	}, nil
}

func (s *service) GetOrdersByBuyer(ctx context.Context, buyerID uuid.UUID, scope BuyerOrderScope) ([]Order, error) {
	var statuses []OrderStatus
	switch scope {
	case ScopeActive:
		statuses = []OrderStatus{StatusPending, StatusShipping, StatusCancelled}
	case ScopeCompleted:
		statuses = []OrderStatus{StatusFulfilled}
	case ScopeAll:
	default:
		return nil, fmt.Errorf("service: unknown order scope %q", scope)
	}

	orders, err := s.orderRepo.GetOrdersByBuyer(ctx, buyerID, statuses)
	if err != nil {
		log.Error().Err(err).Stringer("buyer_id", buyerID).Msg("service: failed to fetch buyer orders in repository")
		return nil, fmt.Errorf("service: failed to fetch buyer orders: %w", err)
	}

	return orders, nil
}

func (s *service) Transition(ctx context.Context, req TransitionRequest) (*Order, error) {
	if _, err := ParseStatus(string(req.Target)); err != nil {
		return nil, err
	}

	res, err := s.orderRepo.ApplyTransition(ctx, TransitionParams{
		OrderID:        req.OrderID,
		Target:         req.Target,
		HandlerID:      req.ActingUserID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", req.OrderID).Stringer("target", req.Target).Msg("service: order not found, cannot transition")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", req.OrderID).Stringer("target", req.Target).Msg("service: failed to apply transition")
		return nil, fmt.Errorf("service: failed to apply transition: %w", err)
	}

	if !res.Applied {
		log.Info().
			Stringer("order_id", req.OrderID).
			Str("idempotency_key", req.IdempotencyKey).
			Msg("service: transition already applied, returning current order")
		return res.Order, nil
	}

	log.Info().
		Stringer("order_id", req.OrderID).
		Stringer("old_status", res.Previous).
		Stringer("new_status", req.Target).
		Msg("service: order status updated")

	s.publishStatusChanged(ctx, res, req.ActingUserID)

	return res.Order, nil
}

func (s *service) Revert(ctx context.Context, req RevertRequest) (*Order, error) {
	// The secret is checked before the order is even loaded, so a wrong
	// secret looks the same whether or not the order exists.
	if !s.secret.Verify(req.Secret) {
		log.Warn().Stringer("order_id", req.OrderID).Msg("service: revert rejected, secret mismatch")
		return nil, ErrUnauthorized
	}

	res, err := s.orderRepo.RevertFulfilled(ctx, RevertParams{
		OrderID:        req.OrderID,
		HandlerID:      req.ActingUserID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrOrderNotFulfilled) {
			log.Warn().Err(err).Stringer("order_id", req.OrderID).Msg("service: revert refused")
			return nil, err
		}
		log.Error().Err(err).Stringer("order_id", req.OrderID).Msg("service: failed to revert order")
		return nil, fmt.Errorf("service: failed to revert order: %w", err)
	}

	if !res.Applied {
		return res.Order, nil
	}

	log.Info().Stringer("order_id", req.OrderID).Msg("service: fulfilled order reverted to pending")

	s.publishStatusChanged(ctx, res, req.ActingUserID)

	return res.Order, nil
}

func (s *service) publishStatusChanged(ctx context.Context, res *TransitionResult, handlerID uuid.NullUUID) {
	if res.Previous == res.Order.Status {
		return
	}

	event := StatusChangedEvent{
		OrderID:    res.Order.ID,
		From:       res.Previous,
		To:         res.Order.Status,
		HandlerID:  handlerID,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.events.PublishStatusChanged(ctx, event); err != nil {
		// The transition is already durable; losing the event is logged,
		// not propagated.
		log.Error().Err(err).Stringer("order_id", res.Order.ID).Msg("service: failed to publish status change event")
	}
}

func (s *service) AppendNote(ctx context.Context, orderID uuid.UUID, text string) (*Order, error) {
	o, err := s.orderRepo.AppendNote(ctx, orderID, text)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to append note")
		return nil, fmt.Errorf("service: failed to append note: %w", err)
	}
	return o, nil
}

func (s *service) RemoveNote(ctx context.Context, orderID uuid.UUID, index int) (*Order, error) {
	o, err := s.orderRepo.RemoveNote(ctx, orderID, index)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrNoteIndexOutOfRange) {
			return nil, err
		}
		log.Error().Err(err).Stringer("order_id", orderID).Int("index", index).Msg("service: failed to remove note")
		return nil, fmt.Errorf("service: failed to remove note: %w", err)
	}
	return o, nil
}

func (s *service) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	err := s.orderRepo.DeleteOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to delete order")
		return fmt.Errorf("service: failed to delete order: %w", err)
	}
	return nil
}
