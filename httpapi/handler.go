// Package httpapi exposes an orchestrator over HTTP.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/fortressi/sagaorch"
	"github.com/fortressi/sagaorch/internal/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves the saga API for triggers of type T. newTrigger returns an
// empty trigger for the request body to be decoded into.
type Handler[T sagaorch.Trigger] struct {
	orch       *sagaorch.Orchestrator[T]
	newTrigger func() T
	log        *zap.Logger
}

func NewHandler[T sagaorch.Trigger](orch *sagaorch.Orchestrator[T], newTrigger func() T, log *zap.Logger) *Handler[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler[T]{orch: orch, newTrigger: newTrigger, log: log}
}

// ListResponse is one page of sagas. Next is the marker for the following
// page, empty on the last page.
type ListResponse struct {
	Sagas []*sagaorch.Instance `json:"sagas"`
	Next  string               `json:"next,omitempty"`
}

func (h *Handler[T]) StartSaga(c *gin.Context) {
	trigger := h.newTrigger()
	if err := c.ShouldBindJSON(trigger); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}

	inst, err := h.orch.StartSaga(c.Request.Context(), c.Param("type"), trigger)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.RespondOK(c, inst)
}

func (h *Handler[T]) GetSaga(c *gin.Context) {
	inst, err := h.orch.GetSagaStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.RespondOK(c, inst)
}

func (h *Handler[T]) ListSagas(c *gin.Context) {
	limit := sagaorch.DefaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, sagaorch.DefaultListLimit)
	}

	sagas, err := h.orch.ListSagas(c.Request.Context(), c.Query("after"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp := ListResponse{Sagas: sagas}
	if len(sagas) == limit {
		resp.Next = sagas[len(sagas)-1].TransactionID
	}
	response.RespondOK(c, resp)
}

func (h *Handler[T]) CompensateSaga(c *gin.Context) {
	inst, err := h.orch.Compensate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.RespondOK(c, inst)
}

func (h *Handler[T]) ListDefinitions(c *gin.Context) {
	registry := h.orch.Registry()
	infos := make([]sagaorch.DefinitionInfo, 0)
	for _, name := range registry.Names() {
		def, err := registry.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, def.Describe())
	}
	response.RespondOK(c, infos)
}

func (h *Handler[T]) GetDefinition(c *gin.Context) {
	def, err := h.orch.Registry().Get(c.Param("type"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.RespondOK(c, def.Describe())
}

func (h *Handler[T]) GetDefinitionGraph(c *gin.Context) {
	def, err := h.orch.Registry().Get(c.Param("type"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	dot, err := def.DOT()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/vnd.graphviz; charset=utf-8", []byte(dot))
}

// writeError maps orchestrator errors to HTTP statuses.
func (h *Handler[T]) writeError(c *gin.Context, err error) {
	var verr *sagaorch.ValidationError
	switch {
	case errors.As(err, &verr):
		response.RespondError(c, http.StatusBadRequest, "invalid_trigger", err)
	case errors.Is(err, sagaorch.ErrUnknownSagaType):
		response.RespondError(c, http.StatusNotFound, "unknown_saga_type", err)
	case errors.Is(err, sagaorch.ErrNotFound):
		response.RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, sagaorch.ErrNotCompensable):
		response.RespondError(c, http.StatusConflict, "not_compensable", err)
	default:
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
