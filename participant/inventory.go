package participant

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/fortressi/sagaorch"
	"github.com/fortressi/sagaorch/internal/response"
	"github.com/fortressi/sagaorch/orderflow"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Product struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Stock     int     `json:"stock"`
}

type reservation struct {
	items    []orderflow.Item
	released bool
}

// InventoryService reserves stock for orders. A reservation is all or nothing.
type InventoryService struct {
	mu           sync.Mutex
	products     map[string]*Product
	reservations map[string]*reservation
	log          *zap.Logger
}

func NewInventoryService(products []Product, log *zap.Logger) *InventoryService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &InventoryService{
		products:     make(map[string]*Product, len(products)),
		reservations: make(map[string]*reservation),
		log:          log.Named("inventory"),
	}
	for _, p := range products {
		s.products[p.ProductID] = &p
	}
	return s
}

// DefaultProducts is the catalogue the bundled services start with.
func DefaultProducts() []Product {
	return []Product{
		{ProductID: "p-100", Name: "Keyboard", Price: 49.9, Stock: 10},
		{ProductID: "p-200", Name: "Mouse", Price: 19.9, Stock: 25},
		{ProductID: "p-300", Name: "Monitor", Price: 199, Stock: 3},
	}
}

var errInsufficientStock = errors.New("insufficient stock")

func (s *InventoryService) reserve(txID string, items []orderflow.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[txID]; ok {
		return nil
	}

	need := make(map[string]int, len(items))
	for _, it := range items {
		need[it.ProductID] += it.Quantity
	}
	for id, qty := range need {
		p, ok := s.products[id]
		if !ok {
			return fmt.Errorf("%w: unknown product %s", errInsufficientStock, id)
		}
		if p.Stock < qty {
			return fmt.Errorf("%w: product %s has %d, need %d", errInsufficientStock, id, p.Stock, qty)
		}
	}
	for id, qty := range need {
		s.products[id].Stock -= qty
	}
	s.reservations[txID] = &reservation{items: items}
	return nil
}

func (s *InventoryService) release(txID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[txID]
	if !ok || r.released {
		return ResultNoop
	}
	for _, it := range r.items {
		if p, ok := s.products[it.ProductID]; ok {
			p.Stock += it.Quantity
		}
	}
	r.released = true
	return ResultApplied
}

func (s *InventoryService) Reserve(c *gin.Context) {
	var req orderflow.InventoryPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.TransactionID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("transaction_id is required"))
		return
	}
	if len(req.Items) == 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_quantity", errors.New("no items to reserve"))
		return
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_quantity",
				fmt.Errorf("product %s: quantity must be positive, got %d", it.ProductID, it.Quantity))
			return
		}
	}

	if err := s.reserve(req.TransactionID, req.Items); err != nil {
		s.log.Warn("reservation rejected", zap.String("transaction_id", req.TransactionID), zap.Error(err))
		response.RespondError(c, http.StatusConflict, "insufficient_stock", err)
		return
	}
	s.log.Info("stock reserved", zap.String("transaction_id", req.TransactionID), zap.Int("lines", len(req.Items)))
	response.RespondOK(c, gin.H{"transaction_id": req.TransactionID, "status": "RESERVED"})
}

func (s *InventoryService) Release(c *gin.Context) {
	var req sagaorch.CompensationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	result := s.release(req.TransactionID)
	s.log.Info("stock release", zap.String("transaction_id", req.TransactionID), zap.String("result", result))
	response.RespondOK(c, CompensationResult{TransactionID: req.TransactionID, Result: result})
}

func (s *InventoryService) GetProduct(c *gin.Context) {
	p, ok := s.Product(c.Param("id"))
	if !ok {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("product not found"))
		return
	}
	response.RespondOK(c, p)
}

func (s *InventoryService) ListProducts(c *gin.Context) {
	response.RespondOK(c, s.Products())
}

// Product returns a copy of one product.
func (s *InventoryService) Product(id string) (Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, false
	}
	return *p, true
}

// Products returns the catalogue sorted by product id.
func (s *InventoryService) Products() []Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
