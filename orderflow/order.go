// Package orderflow defines the order saga: create the order, capture the
// payment, then reserve inventory.
package orderflow

import (
	"strings"

	"github.com/fortressi/sagaorch"
)

// SagaType is the registry name of the order saga.
const SagaType = "order"

const (
	StepCreateOrder     = "create-order"
	StepProcessPayment  = "process-payment"
	StepUpdateInventory = "update-inventory"
)

// Item is one order line.
type Item struct {
	ProductID string  `json:"product_id" validate:"required"`
	Quantity  int     `json:"quantity" validate:"gt=0"`
	Price     float64 `json:"price" validate:"gte=0"`
}

// OrderRequest is the trigger of the order saga.
type OrderRequest struct {
	OrderID    string  `json:"order_id" validate:"required"`
	CustomerID string  `json:"customer_id" validate:"required"`
	Items      []Item  `json:"items" validate:"required,min=1,dive"`
	Amount     float64 `json:"amount" validate:"gt=0"`
}

func (r *OrderRequest) BusinessID() string { return r.OrderID }

// CreateOrderPayload is sent to the order service.
type CreateOrderPayload struct {
	TransactionID string  `json:"transaction_id"`
	OrderID       string  `json:"order_id"`
	CustomerID    string  `json:"customer_id"`
	Items         []Item  `json:"items"`
	Amount        float64 `json:"amount"`
}

// PaymentPayload is sent to the payment service.
type PaymentPayload struct {
	TransactionID string  `json:"transaction_id"`
	OrderID       string  `json:"order_id"`
	CustomerID    string  `json:"customer_id"`
	Amount        float64 `json:"amount"`
}

// InventoryPayload is sent to the inventory service.
type InventoryPayload struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Items         []Item `json:"items"`
}

// Endpoints holds the participant base URLs. They may point at the same host.
type Endpoints struct {
	OrderURL     string
	PaymentURL   string
	InventoryURL string
}

// Participant paths, relative to the endpoint base URLs.
const (
	PathCreateOrder      = "/orders"
	PathCancelOrder      = "/orders/cancel"
	PathProcessPayment   = "/payments"
	PathRefundPayment    = "/payments/refund"
	PathReserveInventory = "/inventory/reserve"
	PathReleaseInventory = "/inventory/release"
)

func join(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// Steps returns the order saga steps in execution order.
func Steps(ep Endpoints) []sagaorch.StepSpec[*OrderRequest] {
	return []sagaorch.StepSpec[*OrderRequest]{
		{
			Name:         StepCreateOrder,
			Label:        "Create order",
			Forward:      join(ep.OrderURL, PathCreateOrder),
			Compensation: join(ep.OrderURL, PathCancelOrder),
			Payload: func(r *OrderRequest, txID string) (any, error) {
				return CreateOrderPayload{
					TransactionID: txID,
					OrderID:       r.OrderID,
					CustomerID:    r.CustomerID,
					Items:         r.Items,
					Amount:        r.Amount,
				}, nil
			},
		},
		{
			Name:         StepProcessPayment,
			Label:        "Process payment",
			Forward:      join(ep.PaymentURL, PathProcessPayment),
			Compensation: join(ep.PaymentURL, PathRefundPayment),
			Payload: func(r *OrderRequest, txID string) (any, error) {
				return PaymentPayload{
					TransactionID: txID,
					OrderID:       r.OrderID,
					CustomerID:    r.CustomerID,
					Amount:        r.Amount,
				}, nil
			},
		},
		{
			Name:         StepUpdateInventory,
			Label:        "Update inventory",
			Forward:      join(ep.InventoryURL, PathReserveInventory),
			Compensation: join(ep.InventoryURL, PathReleaseInventory),
			Payload: func(r *OrderRequest, txID string) (any, error) {
				return InventoryPayload{
					TransactionID: txID,
					OrderID:       r.OrderID,
					Items:         r.Items,
				}, nil
			},
		},
	}
}

// Definition builds the order saga definition.
func Definition(ep Endpoints) (*sagaorch.Definition[*OrderRequest], error) {
	return sagaorch.NewDefinition(SagaType, Steps(ep)...)
}

// Register adds the order saga to registry.
func Register(registry *sagaorch.DefinitionRegistry[*OrderRequest], ep Endpoints) error {
	def, err := Definition(ep)
	if err != nil {
		return err
	}
	return registry.Register(def)
}
