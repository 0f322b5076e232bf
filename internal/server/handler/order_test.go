package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/traderd/internal/domain"
	"github.com/alanyoungcy/traderd/internal/server/middleware"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// asRole routes the request through the auth middleware with a key bound to
// the given role, mirroring how the server wires handlers.
func asRole(pattern string, h http.HandlerFunc, role domain.Role) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	return middleware.Auth(true, []middleware.KeyEntry{
		{Key: "test-key", Actor: "tester", Role: role},
	})(mux)
}

type fakeOrderRouter struct {
	submitFn func(ctx context.Context, intent domain.OrderIntent, actor string) domain.OrderResult
	cancelFn func(ctx context.Context, brokerOrderID, actor string) error
	statusFn func(ctx context.Context, brokerOrderID string) (domain.BrokerOrder, error)
}

func (r *fakeOrderRouter) SubmitOrder(ctx context.Context, intent domain.OrderIntent, actor string) domain.OrderResult {
	if r.submitFn != nil {
		return r.submitFn(ctx, intent, actor)
	}
	return domain.OrderResult{Success: true, IntentID: intent.IntentID}
}

func (r *fakeOrderRouter) CancelOrder(ctx context.Context, brokerOrderID, actor string) error {
	if r.cancelFn != nil {
		return r.cancelFn(ctx, brokerOrderID, actor)
	}
	return nil
}

func (r *fakeOrderRouter) GetOrderStatus(ctx context.Context, brokerOrderID string) (domain.BrokerOrder, error) {
	if r.statusFn != nil {
		return r.statusFn(ctx, brokerOrderID)
	}
	return domain.BrokerOrder{}, domain.ErrNotFound
}

type stubOrderStore struct {
	open []domain.Order
	all  []domain.Order
}

func (s *stubOrderStore) RecordSubmission(context.Context, domain.OrderIntent, domain.Order, map[string]any) error {
	return nil
}
func (s *stubOrderStore) MarkCancelled(context.Context, string, string) error { return nil }
func (s *stubOrderStore) GetByBrokerID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}
func (s *stubOrderStore) ListOpen(context.Context) ([]domain.Order, error) { return s.open, nil }
func (s *stubOrderStore) List(context.Context, domain.ListOpts) ([]domain.Order, error) {
	return s.all, nil
}

func TestSubmitOrderEndpoint(t *testing.T) {
	var gotActor string
	router := &fakeOrderRouter{
		submitFn: func(_ context.Context, intent domain.OrderIntent, actor string) domain.OrderResult {
			gotActor = actor
			return domain.OrderResult{
				Success:         true,
				IntentID:        intent.IntentID,
				BrokerOrderID:   "bo-1",
				RiskCheckPassed: true,
			}
		},
	}
	h := NewOrderHandler(router, &stubOrderStore{}, testLogger())
	srv := asRole("POST /api/orders/submit", h.SubmitOrder, domain.RoleOperator)

	body := `{"symbol":"AAPL","side":"buy","qty":5,"orderType":"limit","limitPrice":100}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders/submit", strings.NewReader(body))
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "tester", gotActor)

	var result domain.OrderResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "bo-1", result.BrokerOrderID)
}

func TestSubmitOrderEndpointRejection(t *testing.T) {
	router := &fakeOrderRouter{
		submitFn: func(context.Context, domain.OrderIntent, string) domain.OrderResult {
			return domain.OrderResult{Success: false, FailReason: "Position limit exceeded: projected AAPL value $2500.00 > max $2000.00"}
		},
	}
	h := NewOrderHandler(router, &stubOrderStore{}, testLogger())
	srv := asRole("POST /api/orders/submit", h.SubmitOrder, domain.RoleOperator)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/submit", strings.NewReader(`{"symbol":"AAPL"}`))
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	// Gate rejections are client errors carrying the full result, not 500s.
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var result domain.OrderResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Contains(t, result.FailReason, "Position limit exceeded")
}

func TestSubmitOrderEndpointViewerForbidden(t *testing.T) {
	h := NewOrderHandler(&fakeOrderRouter{}, &stubOrderStore{}, testLogger())
	srv := asRole("POST /api/orders/submit", h.SubmitOrder, domain.RoleViewer)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/submit", strings.NewReader(`{}`))
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitOrderEndpointBadBody(t *testing.T) {
	h := NewOrderHandler(&fakeOrderRouter{}, &stubOrderStore{}, testLogger())
	srv := asRole("POST /api/orders/submit", h.SubmitOrder, domain.RoleAdmin)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/submit", strings.NewReader(`{not json`))
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestCancelOrderEndpoint(t *testing.T) {
	testCases := []struct {
		desc     string
		cancelFn func(ctx context.Context, brokerOrderID, actor string) error
		wantCode int
	}{
		{"success", nil, http.StatusOK},
		{
			"not found",
			func(context.Context, string, string) error { return domain.ErrNotFound },
			http.StatusNotFound,
		},
		{
			"no broker",
			func(context.Context, string, string) error { return domain.ErrNoBroker },
			http.StatusServiceUnavailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			router := &fakeOrderRouter{cancelFn: tc.cancelFn}
			h := NewOrderHandler(router, &stubOrderStore{}, testLogger())
			srv := asRole("DELETE /api/orders/{brokerOrderId}", h.CancelOrder, domain.RoleOperator)

			req := httptest.NewRequest(http.MethodDelete, "/api/orders/bo-1", nil)
			req.Header.Set("X-API-Key", "test-key")
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantCode, rec.Code)
		})
	}
}

func TestListOrdersEndpoint(t *testing.T) {
	store := &stubOrderStore{
		open: []domain.Order{{OrderID: "o-1", Status: domain.OrderStatusAccepted}},
		all: []domain.Order{
			{OrderID: "o-1", Status: domain.OrderStatusAccepted},
			{OrderID: "o-2", Status: domain.OrderStatusFilled},
		},
	}
	h := NewOrderHandler(&fakeOrderRouter{}, store, testLogger())
	srv := asRole("GET /api/orders", h.ListOrders, domain.RoleViewer)

	fetch := func(url string) map[string][]domain.Order {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		req.Header.Set("X-API-Key", "test-key")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var payload map[string][]domain.Order
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		return payload
	}

	assert.Len(t, fetch("/api/orders")["orders"], 2)
	assert.Len(t, fetch("/api/orders?open=true")["orders"], 1)
}

func TestGetOrderEndpointNotFound(t *testing.T) {
	h := NewOrderHandler(&fakeOrderRouter{}, &stubOrderStore{}, testLogger())
	srv := asRole("GET /api/orders/{brokerOrderId}", h.GetOrder, domain.RoleViewer)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/bo-404", nil)
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
