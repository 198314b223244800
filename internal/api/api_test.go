package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry-service/internal/apperr"
	"pantry-service/internal/auth"
	"pantry-service/internal/idempotency"
	"pantry-service/internal/repository"
	"pantry-service/internal/service"
	"pantry-service/internal/sharding"
)

var testSecret = []byte("test-secret")

type testServer struct {
	e       *echo.Echo
	store   *repository.MemoryStore
	admin   string
	student string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := repository.NewMemoryStore()
	ledger := service.NewLedgerService(store)
	carts := service.NewCartService(repository.NewMemoryCartStore(), store, sharding.NewKeyedMutex(4))
	fulfillment := service.NewFulfillmentService(ledger, carts, nil)
	history := service.NewHistoryService(store)

	h := NewPantryHandler(ledger, carts, fulfillment, history, idempotency.NewMemoryStore(), auth.NewMemoryRevocationList())
	e := echo.New()
	h.RegisterRoutes(e, testSecret)

	admin, err := auth.IssueToken(testSecret, "admin-1", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)
	student, err := auth.IssueToken(testSecret, "student-1", auth.RoleStudent, time.Hour)
	require.NoError(t, err)
	return &testServer{e: e, store: store, admin: admin, student: student}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) restock(t *testing.T, itemID, name string, quantity int) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/inventory/restock", s.admin, map[string]any{
		"items": []map[string]any{{"item_id": itemID, "name": name, "quantity": quantity}},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestCheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	s.restock(t, "X1", "Widget", 10)

	rec := s.do(t, http.MethodPost, "/cart/items", s.student, map[string]any{"item_id": "X1", "quantity": 2}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/cart/items", s.student, map[string]any{"items": []map[string]any{{"item_id": "X1", "quantity": 1}}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	lines := decode(t, rec)["items"].([]any)
	require.Len(t, lines, 1)
	assert.EqualValues(t, 3, lines[0].(map[string]any)["quantity"])

	rec = s.do(t, http.MethodPost, "/cart/checkout", s.student, nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, out["transaction_id"], out["order_id"])

	rec = s.do(t, http.MethodGet, "/inventory/X1", s.student, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 7, decode(t, rec)["current_stock"])

	rec = s.do(t, http.MethodGet, "/orders/my", s.student, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "completed", orders[0]["status"])

	rec = s.do(t, http.MethodGet, "/transactions/"+out["transaction_id"].(string), s.admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "withdrawal", decode(t, rec)["type"])
}

func TestCheckout_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.restock(t, "X1", "Widget", 2)

	rec := s.do(t, http.MethodPost, "/cart/checkout", s.student, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty_cart", decode(t, rec)["kind"])

	rec = s.do(t, http.MethodPost, "/cart/items", s.student, map[string]any{"item_id": "X1", "quantity": 5}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/cart/checkout", s.student, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "insufficient_stock", body["kind"])
	assert.Equal(t, "X1", body["item_id"])
	assert.EqualValues(t, 2, body["available"])
	assert.EqualValues(t, 5, body["requested"])

	rec = s.do(t, http.MethodPost, "/cart/items", s.student, map[string]any{"item_id": "X1", "quantity": 0}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decode(t, rec)["kind"])

	rec = s.do(t, http.MethodPost, "/cart/items", s.student, map[string]any{"item_id": "nope", "quantity": 1}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckout_IdempotentKey(t *testing.T) {
	s := newTestServer(t)
	s.restock(t, "X1", "Widget", 10)
	key := map[string]string{HeaderIdempotentKey: "k-1"}

	// A failed attempt frees the key.
	rec := s.do(t, http.MethodPost, "/cart/checkout", s.student, nil, key)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/cart/items", s.student, map[string]any{"item_id": "X1", "quantity": 1}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	first := s.do(t, http.MethodPost, "/cart/checkout", s.student, nil, key)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := s.do(t, http.MethodPost, "/cart/checkout", s.student, nil, key)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	rec = s.do(t, http.MethodGet, "/inventory/X1", s.student, nil, nil)
	assert.EqualValues(t, 9, decode(t, rec)["current_stock"])
}

// contextStore fails like a network-backed store once ctx is done.
type contextStore struct {
	idempotency.Store
}

func (s contextStore) Complete(ctx context.Context, key string, resp *idempotency.Response) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err, "complete idempotency key")
	}
	return s.Store.Complete(ctx, key, resp)
}

func (s contextStore) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err, "release idempotency key")
	}
	return s.Store.Release(ctx, key)
}

func idempotentCall(t *testing.T, h *PantryHandler, ctx context.Context, run func() (int, any, error)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/inventory/restock", nil).WithContext(ctx)
	req.Header.Set(HeaderIdempotentKey, "k-1")
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetPath("/inventory/restock")
	require.NoError(t, h.idempotent(c, auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}, run))
	return rec
}

func TestIdempotentKey_FreedWhenClientGoesAway(t *testing.T) {
	h := &PantryHandler{idem: contextStore{idempotency.NewMemoryStore()}}

	ctx, cancel := context.WithCancel(context.Background())
	rec := idempotentCall(t, h, ctx, func() (int, any, error) {
		cancel()
		return 0, nil, apperr.Unavailable(ctx.Err(), "commit transaction")
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	runs := 0
	rec = idempotentCall(t, h, context.Background(), func() (int, any, error) {
		runs++
		return http.StatusCreated, map[string]string{"transaction_id": "RS-1"}, nil
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, runs)
}

func TestIdempotentKey_CompletedWhenClientGoesAway(t *testing.T) {
	h := &PantryHandler{idem: contextStore{idempotency.NewMemoryStore()}}

	runs := 0
	ctx, cancel := context.WithCancel(context.Background())
	first := idempotentCall(t, h, ctx, func() (int, any, error) {
		runs++
		cancel()
		return http.StatusCreated, map[string]string{"transaction_id": "RS-1"}, nil
	})
	require.Equal(t, http.StatusCreated, first.Code)

	second := idempotentCall(t, h, context.Background(), func() (int, any, error) {
		runs++
		return http.StatusCreated, map[string]string{"transaction_id": "RS-2"}, nil
	})
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, runs)
}

func TestIdempotentKey_FreedAfterPanic(t *testing.T) {
	h := &PantryHandler{idem: contextStore{idempotency.NewMemoryStore()}}

	assert.Panics(t, func() {
		idempotentCall(t, h, context.Background(), func() (int, any, error) {
			panic("boom")
		})
	})

	rec := idempotentCall(t, h, context.Background(), func() (int, any, error) {
		return http.StatusCreated, map[string]string{"transaction_id": "RS-1"}, nil
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestStudentSessionCart(t *testing.T) {
	s := newTestServer(t)
	s.restock(t, "X1", "Widget", 3)
	session := map[string]string{auth.HeaderSessionID: "abc"}

	rec := s.do(t, http.MethodPost, "/cart/student/items", "", map[string]any{"item_id": "X1", "quantity": 1}, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/cart/student", "", nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "session:abc", decode(t, rec)["user_id"])

	rec = s.do(t, http.MethodPost, "/cart/student/checkout", "", nil, session)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/cart/student", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInventoryAdmin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/inventory", s.admin, map[string]any{"item_id": "X1", "name": "Widget", "current_stock": 10}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decode(t, rec)["threshold"])

	rec = s.do(t, http.MethodPut, "/inventory/X1", s.admin, map[string]any{"current_stock": 99}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPut, "/inventory/X1", s.admin, map[string]any{"demand_score": 3}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/inventory/X1", s.admin, map[string]any{"name": "Sprocket", "threshold": 12}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Sprocket", body["name"])
	assert.EqualValues(t, 10, body["current_stock"])

	rec = s.do(t, http.MethodGet, "/inventory/low-stock", s.student, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var low []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &low))
	require.Len(t, low, 1)
	assert.Equal(t, "X1", low[0]["item_id"])

	// The opening stock is recorded as history, so the item is protected.
	rec = s.do(t, http.MethodDelete, "/inventory/X1", s.admin, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/inventory", s.admin, map[string]any{"item_id": "X2", "name": "Empty"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodDelete, "/inventory/X2", s.admin, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/inventory/X2", s.admin, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInventory_Validate(t *testing.T) {
	s := newTestServer(t)
	s.restock(t, "X1", "Widget", 3)

	rec := s.do(t, http.MethodPost, "/inventory/validate", s.student, map[string]any{"items": []map[string]any{{"item_id": "X1", "quantity": 3}}}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/inventory/validate", s.student, map[string]any{"items": []map[string]any{{"item_id": "X1", "quantity": 4}}}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWithdraw_RecordsRequester(t *testing.T) {
	s := newTestServer(t)
	s.restock(t, "X1", "Widget", 3)

	rec := s.do(t, http.MethodPost, "/inventory/withdraw", s.admin, map[string]any{"user_id": "student-9", "item_id": "X1", "quantity": 2}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	txID := decode(t, rec)["transaction_id"].(string)

	rec = s.do(t, http.MethodGet, "/transactions/"+txID, s.admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "student-9", body["user_id"])
	assert.Equal(t, "admin-1", body["requester_id"])
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/inventory", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/inventory/restock", s.student, map[string]any{
		"items": []map[string]any{{"item_id": "X1", "name": "Widget", "quantity": 1}},
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/transactions/WD-1", s.student, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/logout", s.student, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/inventory", s.student, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStorageUnavailable_IsRetryable(t *testing.T) {
	s := newTestServer(t)
	s.store.SetFault(func(op string) error {
		if op == "ListItems" {
			return apperr.Unavailable(errors.New("connection refused"), "list items")
		}
		return nil
	})

	rec := s.do(t, http.MethodGet, "/inventory", s.admin, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "storage_unavailable", body["kind"])
	assert.Equal(t, true, body["retryable"])
}
