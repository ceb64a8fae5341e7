package participant

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fortressi/sagaorch"
	"github.com/fortressi/sagaorch/internal/response"
	"github.com/fortressi/sagaorch/orderflow"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// DefaultPaymentLimit is the largest amount accepted when no limit is set.
const DefaultPaymentLimit = 1000.0

type PaymentStatus string

const (
	PaymentCaptured PaymentStatus = "CAPTURED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type Payment struct {
	PaymentID     string        `json:"payment_id"`
	TransactionID string        `json:"transaction_id"`
	OrderID       string        `json:"order_id"`
	CustomerID    string        `json:"customer_id"`
	Amount        float64       `json:"amount"`
	Status        PaymentStatus `json:"status"`
	CapturedAt    time.Time     `json:"captured_at"`
}

// PaymentService captures payments up to a fixed limit.
type PaymentService struct {
	payments *xsync.MapOf[string, *Payment]
	limit    float64
	log      *zap.Logger
}

func NewPaymentService(limit float64, log *zap.Logger) *PaymentService {
	if limit <= 0 {
		limit = DefaultPaymentLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentService{payments: xsync.NewMapOf[string, *Payment](), limit: limit, log: log.Named("payments")}
}

func (s *PaymentService) Process(c *gin.Context) {
	var req orderflow.PaymentPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.TransactionID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("transaction_id is required"))
		return
	}
	if req.Amount <= 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_amount", errors.New("amount must be positive"))
		return
	}
	if req.Amount > s.limit {
		s.log.Warn("payment declined", zap.String("transaction_id", req.TransactionID), zap.Float64("amount", req.Amount))
		response.RespondError(c, http.StatusPaymentRequired, "limit_exceeded",
			fmt.Errorf("amount %.2f exceeds limit %.2f", req.Amount, s.limit))
		return
	}

	payment, _ := s.payments.LoadOrCompute(req.TransactionID, func() *Payment {
		return &Payment{
			PaymentID:     uuid.NewString(),
			TransactionID: req.TransactionID,
			OrderID:       req.OrderID,
			CustomerID:    req.CustomerID,
			Amount:        req.Amount,
			Status:        PaymentCaptured,
			CapturedAt:    time.Now().UTC(),
		}
	})
	s.log.Info("payment captured", zap.String("transaction_id", req.TransactionID), zap.String("payment_id", payment.PaymentID))
	response.RespondOK(c, payment)
}

func (s *PaymentService) Refund(c *gin.Context) {
	var req sagaorch.CompensationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	result := ResultNoop
	s.payments.Compute(req.TransactionID, func(p *Payment, loaded bool) (*Payment, bool) {
		if !loaded {
			return nil, true
		}
		if p.Status == PaymentRefunded {
			return p, false
		}
		refunded := *p
		refunded.Status = PaymentRefunded
		result = ResultApplied
		return &refunded, false
	})
	s.log.Info("payment refund", zap.String("transaction_id", req.TransactionID), zap.String("result", result))
	response.RespondOK(c, CompensationResult{TransactionID: req.TransactionID, Result: result})
}

func (s *PaymentService) Get(c *gin.Context) {
	payment, ok := s.Lookup(c.Param("tx"))
	if !ok {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("payment not found"))
		return
	}
	response.RespondOK(c, payment)
}

// Lookup returns a copy of the payment captured by transaction txID.
func (s *PaymentService) Lookup(txID string) (Payment, bool) {
	p, ok := s.payments.Load(txID)
	if !ok {
		return Payment{}, false
	}
	return *p, true
}
