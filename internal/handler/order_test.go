package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mvtien/storefront-backend/internal/auth"
	"github.com/mvtien/storefront-backend/internal/handler"
	"github.com/mvtien/storefront-backend/internal/order"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CreateOrder(ctx context.Context, o *order.Order) (*order.Order, error) {
	args := m.Called(ctx, o)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ListOrders(ctx context.Context, q order.ListQuery) (*order.OrderPage, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.OrderPage), args.Error(1)
}

func (m *MockOrderService) GetOrdersByBuyer(ctx context.Context, buyerID uuid.UUID, scope order.BuyerOrderScope) ([]order.Order, error) {
	args := m.Called(ctx, buyerID, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) Transition(ctx context.Context, req order.TransitionRequest) (*order.Order, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) Revert(ctx context.Context, req order.RevertRequest) (*order.Order, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) AppendNote(ctx context.Context, orderID uuid.UUID, text string) (*order.Order, error) {
	args := m.Called(ctx, orderID, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) RemoveNote(ctx context.Context, orderID uuid.UUID, index int) (*order.Order, error) {
	args := m.Called(ctx, orderID, index)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func newTestRouter(svc order.Service) *chi.Mux {
	router := chi.NewRouter()
	h := handler.NewOrderHandler(svc, auth.NewAttemptTracker(3))
	h.RegisterRoutes(router)
	return router
}

func TestOrderHandler_CreateOrder(t *testing.T) {
	buyerID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())

	t.Run("success", func(t *testing.T) {
		mockService := new(MockOrderService)
		router := newTestRouter(mockService)

		created := &order.Order{ID: uuid.Must(uuid.NewV4()), BuyerID: buyerID, Status: order.StatusPending}
		mockService.On("CreateOrder", mock.Anything, mock.MatchedBy(func(o *order.Order) bool {
			return o.BuyerID == buyerID &&
				len(o.LineItems) == 1 &&
				o.LineItems[0].ProductID == productID &&
				o.LineItems[0].Quantity == 3
		})).Return(created, nil).Once()

		body := fmt.Sprintf(`{
			"buyer_id": %q,
			"delivery_address": "12 Nguyen Trai, District 1",
			"line_items": [{"product_id": %q, "quantity": 3, "unit_price": "10.00"}]
		}`, buyerID, productID)

		rr := doRequest(router, http.MethodPost, "/orders", body, nil)

		require.Equal(t, http.StatusCreated, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("invalid_json", func(t *testing.T) {
		router := newTestRouter(new(MockOrderService))

		rr := doRequest(router, http.MethodPost, "/orders", `{invalid`, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("invalid_buyer_id", func(t *testing.T) {
		router := newTestRouter(new(MockOrderService))

		rr := doRequest(router, http.MethodPost, "/orders", `{"buyer_id": "not-a-uuid"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestOrderHandler_Transition(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())
	actingUser := uuid.Must(uuid.NewV4())

	t.Run("success_passes_acting_user_and_idempotency_key", func(t *testing.T) {
		mockService := new(MockOrderService)
		router := newTestRouter(mockService)

		updated := &order.Order{ID: orderID, Status: order.StatusShipping}
		mockService.On("Transition", mock.Anything, order.TransitionRequest{
			OrderID:        orderID,
			Target:         order.StatusShipping,
			ActingUserID:   uuid.NullUUID{UUID: actingUser, Valid: true},
			IdempotencyKey: "req-7",
		}).Return(updated, nil).Once()

		rr := doRequest(router, http.MethodPatch, "/orders/"+orderID.String()+"/status",
			`{"status": "SHIPPING"}`,
			map[string]string{
				"X-User-ID":       actingUser.String(),
				"Idempotency-Key": "req-7",
			})

		require.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("order_not_found", func(t *testing.T) {
		mockService := new(MockOrderService)
		router := newTestRouter(mockService)

		mockService.On("Transition", mock.Anything, mock.Anything).Return(nil, order.ErrOrderNotFound).Once()

		rr := doRequest(router, http.MethodPatch, "/orders/"+orderID.String()+"/status", `{"status": "SHIPPING"}`, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("unknown_status", func(t *testing.T) {
		mockService := new(MockOrderService)
		router := newTestRouter(mockService)

		mockService.On("Transition", mock.Anything, mock.Anything).Return(nil, order.ErrUnknownStatus).Once()

		rr := doRequest(router, http.MethodPatch, "/orders/"+orderID.String()+"/status", `{"status": "DELIVERED"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("conflict_maps_to_409", func(t *testing.T) {
		mockService := new(MockOrderService)
		router := newTestRouter(mockService)

		mockService.On("Transition", mock.Anything, mock.Anything).Return(nil, order.ErrTxConflict).Once()

		rr := doRequest(router, http.MethodPatch, "/orders/"+orderID.String()+"/status", `{"status": "SHIPPING"}`, nil)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("invalid_order_id", func(t *testing.T) {
		router := newTestRouter(new(MockOrderService))

		rr := doRequest(router, http.MethodPatch, "/orders/nope/status", `{"status": "SHIPPING"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestOrderHandler_Revert(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())

	t.Run("third_failure_invalidates_session", func(t *testing.T) {
		mockService := new(MockOrderService)
		router := newTestRouter(mockService)

		mockService.On("Revert", mock.Anything, mock.Anything).Return(nil, order.ErrUnauthorized).Times(3)

		headers := map[string]string{"X-Session-ID": "sess-1"}
		body := `{"secret": "wrong"}`

		for i := 0; i < 2; i++ {
			rr := doRequest(router, http.MethodPost, "/orders/"+orderID.String()+"/revert", body, headers)
			require.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.NotContains(t, rr.Body.String(), "session_invalidated")
		}

		rr := doRequest(router, http.MethodPost, "/orders/"+orderID.String()+"/revert", body, headers)
		require.Equal(t, http.StatusUnauthorized, rr.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["session_invalidated"])
		mockService.AssertExpectations(t)
	})

	t.Run("success_resets_attempts", func(t *testing.T) {
		mockService := new(MockOrderService)
		router := newTestRouter(mockService)

		headers := map[string]string{"X-Session-ID": "sess-2"}

		mockService.On("Revert", mock.Anything, mock.Anything).Return(nil, order.ErrUnauthorized).Twice()
		for i := 0; i < 2; i++ {
			rr := doRequest(router, http.MethodPost, "/orders/"+orderID.String()+"/revert", `{"secret": "wrong"}`, headers)
			require.Equal(t, http.StatusUnauthorized, rr.Code)
		}

		reverted := &order.Order{ID: orderID, Status: order.StatusPending}
		mockService.On("Revert", mock.Anything, mock.MatchedBy(func(req order.RevertRequest) bool {
			return req.OrderID == orderID && req.Secret == "right"
		})).Return(reverted, nil).Once()

		rr := doRequest(router, http.MethodPost, "/orders/"+orderID.String()+"/revert", `{"secret": "right"}`, headers)
		require.Equal(t, http.StatusOK, rr.Code)

		// The counter restarted, so one more failure is not yet the third.
		mockService.On("Revert", mock.Anything, mock.Anything).Return(nil, order.ErrUnauthorized).Once()
		rr = doRequest(router, http.MethodPost, "/orders/"+orderID.String()+"/revert", `{"secret": "wrong"}`, headers)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.NotContains(t, rr.Body.String(), "session_invalidated")
	})

	t.Run("not_fulfilled_maps_to_400", func(t *testing.T) {
		mockService := new(MockOrderService)
		router := newTestRouter(mockService)

		mockService.On("Revert", mock.Anything, mock.Anything).Return(nil, order.ErrOrderNotFulfilled).Once()

		rr := doRequest(router, http.MethodPost, "/orders/"+orderID.String()+"/revert", `{"secret": "right"}`, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestOrderHandler_Notes(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())

	t.Run("append", func(t *testing.T) {
		mockService := new(MockOrderService)
		router := newTestRouter(mockService)

		updated := &order.Order{ID: orderID, Notes: []string{"fragile"}}
		mockService.On("AppendNote", mock.Anything, orderID, "fragile").Return(updated, nil).Once()

		rr := doRequest(router, http.MethodPost, "/orders/"+orderID.String()+"/notes", `{"text": "fragile"}`, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("remove_out_of_range", func(t *testing.T) {
		mockService := new(MockOrderService)
		router := newTestRouter(mockService)

		mockService.On("RemoveNote", mock.Anything, orderID, 4).Return(nil, order.ErrNoteIndexOutOfRange).Once()

		rr := doRequest(router, http.MethodDelete, "/orders/"+orderID.String()+"/notes/4", "", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("remove_invalid_index", func(t *testing.T) {
		router := newTestRouter(new(MockOrderService))

		rr := doRequest(router, http.MethodDelete, "/orders/"+orderID.String()+"/notes/abc", "", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestOrderHandler_DeleteOrder(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())

	t.Run("success", func(t *testing.T) {
		mockService := new(MockOrderService)
		router := newTestRouter(mockService)

		mockService.On("DeleteOrder", mock.Anything, orderID).Return(nil).Once()

		rr := doRequest(router, http.MethodDelete, "/orders/"+orderID.String(), "", nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("not_found", func(t *testing.T) {
		mockService := new(MockOrderService)
		router := newTestRouter(mockService)

		mockService.On("DeleteOrder", mock.Anything, orderID).Return(order.ErrOrderNotFound).Once()

		rr := doRequest(router, http.MethodDelete, "/orders/"+orderID.String(), "", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestOrderHandler_BuyerOrders(t *testing.T) {
	buyerID := uuid.Must(uuid.NewV4())

	mockService := new(MockOrderService)
	router := newTestRouter(mockService)

	mockService.On("GetOrdersByBuyer", mock.Anything, buyerID, order.ScopeActive).Return([]order.Order{}, nil).Once()

	rr := doRequest(router, http.MethodGet, "/buyers/"+buyerID.String()+"/orders?state=active", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	mockService.AssertExpectations(t)
}

func doRequest(router *chi.Mux, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != "" {
		reqBody = bytes.NewBufferString(body)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, target, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
