package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mvtien/storefront-backend/internal/auth"
	"github.com/mvtien/storefront-backend/internal/order"
	"github.com/mvtien/storefront-backend/pkg/idempotency"
)

// Headers supplied by the identity layer; validation of the session itself
// is not this service's job.
const (
	headerUserID    = "X-User-ID"
	headerSessionID = "X-Session-ID"
)

type OrderHandler struct {
	svc      order.Service
	attempts *auth.AttemptTracker
}

func NewOrderHandler(svc order.Service, attempts *auth.AttemptTracker) *OrderHandler {
	return &OrderHandler{svc: svc, attempts: attempts}
}

func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/orders", h.handleCreateOrder)
	r.Get("/orders", h.handleListOrders)
	r.Get("/orders/{id}", h.handleGetOrder)
	r.Delete("/orders/{id}", h.handleDeleteOrder)
	r.Patch("/orders/{id}/status", h.handleTransition)
	r.Post("/orders/{id}/revert", h.handleRevert)
	r.Post("/orders/{id}/notes", h.handleAppendNote)
	r.Delete("/orders/{id}/notes/{index}", h.handleRemoveNote)
	r.Get("/buyers/{id}/orders", h.handleBuyerOrders)
}

type LineItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CreateOrderRequest struct {
	BuyerID         string            `json:"buyer_id"`
	DeliveryAddress string            `json:"delivery_address"`
	LineItems       []LineItemRequest `json:"line_items"`
	Notes           []string          `json:"notes"`
}

type TransitionStatusRequest struct {
	Status    string `json:"status"`
	HandlerID string `json:"handler_id"`
}

type RevertOrderRequest struct {
	Secret string `json:"secret"`
}

type AppendNoteRequest struct {
	Text string `json:"text"`
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	buyerID, err := uuid.FromString(req.BuyerID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid buyer_id")
		return
	}

	items := make([]order.LineItem, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		productID, err := uuid.FromString(item.ProductID)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid product_id in line item")
			return
		}
		items = append(items, order.LineItem{
			ProductID: productID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	o := &order.Order{
		BuyerID:         buyerID,
		DeliveryAddress: req.DeliveryAddress,
		LineItems:       items,
		Notes:           req.Notes,
	}

	created, err := h.svc.CreateOrder(r.Context(), o)
	if err != nil {
		log.Info().Err(err).Msg("handler: failed to create order")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	o, err := h.svc.GetOrderByID(r.Context(), orderID)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	q := order.ListQuery{
		Status: query.Get("status"),
		Month:  query.Get("month"),
	}
	if page, err := strconv.Atoi(query.Get("page")); err == nil {
		q.Page = page
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		q.Limit = limit
	}
	if rawBuyer := query.Get("buyer_id"); rawBuyer != "" {
		buyerID, err := uuid.FromString(rawBuyer)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid buyer_id")
			return
		}
		q.BuyerID = uuid.NullUUID{UUID: buyerID, Valid: true}
	}

	page, err := h.svc.ListOrders(r.Context(), q)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, page)
}

func (h *OrderHandler) handleBuyerOrders(w http.ResponseWriter, r *http.Request) {
	buyerID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid buyer id")
		return
	}

	scope := order.BuyerOrderScope(r.URL.Query().Get("state"))

	orders, err := h.svc.GetOrdersByBuyer(r.Context(), buyerID, scope)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleTransition(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	var req TransitionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actingUser, ok := actingUserID(w, r, req.HandlerID)
	if !ok {
		return
	}

	o, err := h.svc.Transition(r.Context(), order.TransitionRequest{
		OrderID:        orderID,
		Target:         order.OrderStatus(req.Status),
		ActingUserID:   actingUser,
		IdempotencyKey: idempotency.Key(r),
	})
	if err != nil {
		log.Info().Err(err).Stringer("order_id", orderID).Msg("handler: failed to transition order")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleRevert(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	var req RevertOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actingUser, ok := actingUserID(w, r, "")
	if !ok {
		return
	}

	attemptKey := r.Header.Get(headerSessionID) + ":" + orderID.String()

	o, err := h.svc.Revert(r.Context(), order.RevertRequest{
		OrderID:        orderID,
		Secret:         req.Secret,
		ActingUserID:   actingUser,
		IdempotencyKey: idempotency.Key(r),
	})
	if err != nil {
		if errors.Is(err, order.ErrUnauthorized) {
			// The identity layer owns the session; this service only tells
			// it when the attempt budget is spent.
			if h.attempts.Fail(attemptKey) {
				respondWithJSON(w, http.StatusUnauthorized, map[string]any{
					"error":               "incorrect secret",
					"session_invalidated": true,
				})
				return
			}
			respondWithError(w, http.StatusUnauthorized, "incorrect secret")
			return
		}
		log.Info().Err(err).Stringer("order_id", orderID).Msg("handler: failed to revert order")
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	h.attempts.Reset(attemptKey)
	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleAppendNote(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	var req AppendNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.svc.AppendNote(r.Context(), orderID, req.Text)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleRemoveNote(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid note index")
		return
	}

	o, err := h.svc.RemoveNote(r.Context(), orderID, index)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteOrder(r.Context(), orderID); err != nil {
		respondWithError(w, mapErrorToStatusCode(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseOrderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return uuid.Nil, false
	}
	return orderID, true
}

// actingUserID resolves the privileged actor: the X-User-ID header from the
// identity layer, or the handler_id the dashboard sends in the body.
func actingUserID(w http.ResponseWriter, r *http.Request, bodyHandlerID string) (uuid.NullUUID, bool) {
	raw := r.Header.Get(headerUserID)
	if raw == "" {
		raw = bodyHandlerID
	}
	if raw == "" {
		return uuid.NullUUID{}, true
	}

	id, err := uuid.FromString(raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid acting user id")
		return uuid.NullUUID{}, false
	}
	return uuid.NullUUID{UUID: id, Valid: true}, true
}
