// Package participant implements the three services the order saga calls:
// orders, payments and inventory. State is held in memory.
//
// Every compensation endpoint is idempotent. Compensating a transaction that
// was never seen, or was already compensated, answers 200 {"result":"noop"}.
package participant

import (
	"errors"
	"net/http"
	"time"

	"github.com/fortressi/sagaorch"
	"github.com/fortressi/sagaorch/internal/response"
	"github.com/fortressi/sagaorch/orderflow"
	"github.com/gin-gonic/gin"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const (
	ResultApplied = "applied"
	ResultNoop    = "noop"
)

// CompensationResult is the body of every compensation reply.
type CompensationResult struct {
	TransactionID string `json:"transaction_id"`
	Result        string `json:"result"`
}

type OrderStatus string

const (
	OrderCreated   OrderStatus = "CREATED"
	OrderCancelled OrderStatus = "CANCELLED"
)

type Order struct {
	TransactionID string           `json:"transaction_id"`
	OrderID       string           `json:"order_id"`
	CustomerID    string           `json:"customer_id"`
	Items         []orderflow.Item `json:"items"`
	Amount        float64          `json:"amount"`
	Status        OrderStatus      `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
}

// OrderService records orders keyed by saga transaction id.
type OrderService struct {
	orders *xsync.MapOf[string, *Order]
	log    *zap.Logger
}

func NewOrderService(log *zap.Logger) *OrderService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderService{orders: xsync.NewMapOf[string, *Order](), log: log.Named("orders")}
}

func (s *OrderService) Create(c *gin.Context) {
	var req orderflow.CreateOrderPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.TransactionID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("transaction_id is required"))
		return
	}
	if len(req.Items) == 0 {
		response.RespondError(c, http.StatusBadRequest, "empty_order", errors.New("order has no items"))
		return
	}

	order, _ := s.orders.LoadOrCompute(req.TransactionID, func() *Order {
		return &Order{
			TransactionID: req.TransactionID,
			OrderID:       req.OrderID,
			CustomerID:    req.CustomerID,
			Items:         req.Items,
			Amount:        req.Amount,
			Status:        OrderCreated,
			CreatedAt:     time.Now().UTC(),
		}
	})
	s.log.Info("order created", zap.String("transaction_id", req.TransactionID), zap.String("order_id", req.OrderID))
	response.RespondOK(c, order)
}

func (s *OrderService) Cancel(c *gin.Context) {
	var req sagaorch.CompensationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	result := ResultNoop
	s.orders.Compute(req.TransactionID, func(order *Order, loaded bool) (*Order, bool) {
		if !loaded {
			return nil, true
		}
		if order.Status == OrderCancelled {
			return order, false
		}
		cancelled := *order
		cancelled.Status = OrderCancelled
		result = ResultApplied
		return &cancelled, false
	})
	s.log.Info("order cancel", zap.String("transaction_id", req.TransactionID), zap.String("result", result))
	response.RespondOK(c, CompensationResult{TransactionID: req.TransactionID, Result: result})
}

func (s *OrderService) Get(c *gin.Context) {
	order, ok := s.Lookup(c.Param("tx"))
	if !ok {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("order not found"))
		return
	}
	response.RespondOK(c, order)
}

// Lookup returns a copy of the order created by transaction txID.
func (s *OrderService) Lookup(txID string) (Order, bool) {
	order, ok := s.orders.Load(txID)
	if !ok {
		return Order{}, false
	}
	return *order, true
}
