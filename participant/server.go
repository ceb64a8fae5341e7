package participant

import (
	"github.com/fortressi/sagaorch/internal/response"
	"github.com/fortressi/sagaorch/orderflow"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services bundles the three participants.
type Services struct {
	Orders    *OrderService
	Payments  *PaymentService
	Inventory *InventoryService
}

func NewServices(paymentLimit float64, products []Product, log *zap.Logger) *Services {
	return &Services{
		Orders:    NewOrderService(log),
		Payments:  NewPaymentService(paymentLimit, log),
		Inventory: NewInventoryService(products, log),
	}
}

// NewRouter serves all participants on one engine, at the paths the order
// saga definition expects.
func NewRouter(s *Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", response.HealthCheck)

	r.POST(orderflow.PathCreateOrder, s.Orders.Create)
	r.POST(orderflow.PathCancelOrder, s.Orders.Cancel)
	r.GET("/orders/:tx", s.Orders.Get)

	r.POST(orderflow.PathProcessPayment, s.Payments.Process)
	r.POST(orderflow.PathRefundPayment, s.Payments.Refund)
	r.GET("/payments/:tx", s.Payments.Get)

	r.POST(orderflow.PathReserveInventory, s.Inventory.Reserve)
	r.POST(orderflow.PathReleaseInventory, s.Inventory.Release)
	r.GET("/inventory/products", s.Inventory.ListProducts)
	r.GET("/inventory/products/:id", s.Inventory.GetProduct)

	return r
}
