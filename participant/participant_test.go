package participant

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fortressi/sagaorch"
	"github.com/fortressi/sagaorch/internal/response"
	"github.com/fortressi/sagaorch/orderflow"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*Services, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := NewServices(100, []Product{
		{ProductID: "p-1", Name: "Widget", Price: 5, Stock: 3},
		{ProductID: "p-2", Name: "Gadget", Price: 7, Stock: 1},
	}, nil)
	return s, NewRouter(s)
}

func post(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func compensation(txID string) sagaorch.CompensationRequest {
	return sagaorch.CompensationRequest{TransactionID: txID, SagaType: orderflow.SagaType}
}

func TestOrdersCreateAndCancel(t *testing.T) {
	s, r := newTestRouter(t)

	rec := post(t, r, orderflow.PathCreateOrder, orderflow.CreateOrderPayload{
		TransactionID: "tx-1",
		OrderID:       "o-1",
		Items:         []orderflow.Item{{ProductID: "p-1", Quantity: 1}},
		Amount:        5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, OrderCreated, decode[Order](t, rec).Status)

	// Creating again for the same transaction returns the same order.
	rec = post(t, r, orderflow.PathCreateOrder, orderflow.CreateOrderPayload{
		TransactionID: "tx-1",
		OrderID:       "o-other",
		Items:         []orderflow.Item{{ProductID: "p-1", Quantity: 1}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "o-1", decode[Order](t, rec).OrderID)

	rec = post(t, r, orderflow.PathCancelOrder, compensation("tx-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ResultApplied, decode[CompensationResult](t, rec).Result)

	rec = post(t, r, orderflow.PathCancelOrder, compensation("tx-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ResultNoop, decode[CompensationResult](t, rec).Result)

	order, ok := s.Orders.Lookup("tx-1")
	require.True(t, ok)
	assert.Equal(t, OrderCancelled, order.Status)

	req := httptest.NewRequest(http.MethodGet, "/orders/tx-1", nil)
	get := httptest.NewRecorder()
	r.ServeHTTP(get, req)
	assert.Equal(t, http.StatusOK, get.Code)
}

func TestOrdersRejectEmptyOrder(t *testing.T) {
	_, r := newTestRouter(t)

	rec := post(t, r, orderflow.PathCreateOrder, orderflow.CreateOrderPayload{TransactionID: "tx-1", OrderID: "o-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode[response.ErrorEnvelope](t, rec)
	assert.Equal(t, "empty_order", env.Error.Code)

	rec = post(t, r, orderflow.PathCreateOrder, orderflow.CreateOrderPayload{OrderID: "o-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompensationOfUnknownTransactionIsNoop(t *testing.T) {
	_, r := newTestRouter(t)

	for _, path := range []string{
		orderflow.PathCancelOrder,
		orderflow.PathRefundPayment,
		orderflow.PathReleaseInventory,
	} {
		rec := post(t, r, path, compensation("never-seen"))
		require.Equal(t, http.StatusOK, rec.Code, path)
		got := decode[CompensationResult](t, rec)
		assert.Equal(t, ResultNoop, got.Result, path)
		assert.Equal(t, "never-seen", got.TransactionID, path)
	}
}

func TestPaymentsLimitAndRefund(t *testing.T) {
	s, r := newTestRouter(t)

	rec := post(t, r, orderflow.PathProcessPayment, orderflow.PaymentPayload{TransactionID: "tx-big", Amount: 500})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "limit_exceeded", decode[response.ErrorEnvelope](t, rec).Error.Code)
	_, ok := s.Payments.Lookup("tx-big")
	assert.False(t, ok)

	rec = post(t, r, orderflow.PathProcessPayment, orderflow.PaymentPayload{TransactionID: "tx-1", Amount: 50})
	require.Equal(t, http.StatusOK, rec.Code)
	payment := decode[Payment](t, rec)
	assert.Equal(t, PaymentCaptured, payment.Status)
	assert.NotEmpty(t, payment.PaymentID)

	rec = post(t, r, orderflow.PathRefundPayment, compensation("tx-1"))
	assert.Equal(t, ResultApplied, decode[CompensationResult](t, rec).Result)
	rec = post(t, r, orderflow.PathRefundPayment, compensation("tx-1"))
	assert.Equal(t, ResultNoop, decode[CompensationResult](t, rec).Result)

	got, ok := s.Payments.Lookup("tx-1")
	require.True(t, ok)
	assert.Equal(t, PaymentRefunded, got.Status)

	rec = post(t, r, orderflow.PathProcessPayment, orderflow.PaymentPayload{TransactionID: "tx-2", Amount: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInventoryReserveAndRelease(t *testing.T) {
	s, r := newTestRouter(t)

	rec := post(t, r, orderflow.PathReserveInventory, orderflow.InventoryPayload{
		TransactionID: "tx-1",
		Items:         []orderflow.Item{{ProductID: "p-1", Quantity: 2}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	p, _ := s.Inventory.Product("p-1")
	assert.Equal(t, 1, p.Stock)

	// Replaying the same transaction reserves nothing more.
	rec = post(t, r, orderflow.PathReserveInventory, orderflow.InventoryPayload{
		TransactionID: "tx-1",
		Items:         []orderflow.Item{{ProductID: "p-1", Quantity: 2}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	p, _ = s.Inventory.Product("p-1")
	assert.Equal(t, 1, p.Stock)

	rec = post(t, r, orderflow.PathReleaseInventory, compensation("tx-1"))
	assert.Equal(t, ResultApplied, decode[CompensationResult](t, rec).Result)
	rec = post(t, r, orderflow.PathReleaseInventory, compensation("tx-1"))
	assert.Equal(t, ResultNoop, decode[CompensationResult](t, rec).Result)
	p, _ = s.Inventory.Product("p-1")
	assert.Equal(t, 3, p.Stock)
}

func TestInventoryReservationIsAllOrNothing(t *testing.T) {
	s, r := newTestRouter(t)

	rec := post(t, r, orderflow.PathReserveInventory, orderflow.InventoryPayload{
		TransactionID: "tx-1",
		Items: []orderflow.Item{
			{ProductID: "p-1", Quantity: 1},
			{ProductID: "p-2", Quantity: 2},
		},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_stock", decode[response.ErrorEnvelope](t, rec).Error.Code)

	p1, _ := s.Inventory.Product("p-1")
	p2, _ := s.Inventory.Product("p-2")
	assert.Equal(t, 3, p1.Stock)
	assert.Equal(t, 1, p2.Stock)

	rec = post(t, r, orderflow.PathReserveInventory, orderflow.InventoryPayload{
		TransactionID: "tx-2",
		Items:         []orderflow.Item{{ProductID: "p-missing", Quantity: 1}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// A rejected reservation leaves nothing to release.
	rec = post(t, r, orderflow.PathReleaseInventory, compensation("tx-1"))
	assert.Equal(t, ResultNoop, decode[CompensationResult](t, rec).Result)
}

func TestInventoryRejectsNonPositiveQuantity(t *testing.T) {
	s, r := newTestRouter(t)

	for _, items := range [][]orderflow.Item{
		{{ProductID: "p-1", Quantity: -5}},
		{{ProductID: "p-1", Quantity: 1}, {ProductID: "p-2", Quantity: 0}},
		nil,
	} {
		rec := post(t, r, orderflow.PathReserveInventory, orderflow.InventoryPayload{TransactionID: "tx-neg", Items: items})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_quantity", decode[response.ErrorEnvelope](t, rec).Error.Code)
	}

	p1, _ := s.Inventory.Product("p-1")
	p2, _ := s.Inventory.Product("p-2")
	assert.Equal(t, 3, p1.Stock)
	assert.Equal(t, 1, p2.Stock)

	rec := post(t, r, orderflow.PathReleaseInventory, compensation("tx-neg"))
	assert.Equal(t, ResultNoop, decode[CompensationResult](t, rec).Result)
}

func TestListProducts(t *testing.T) {
	_, r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/inventory/products", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	products := decode[[]Product](t, rec)
	require.Len(t, products, 2)
	assert.Equal(t, "p-1", products[0].ProductID)

	req = httptest.NewRequest(http.MethodGet, "/inventory/products/p-9", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
