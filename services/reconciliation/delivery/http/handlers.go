package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cohortmanager/platform/services/reconciliation/usecase"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Reconciler runs one reconciliation
type Reconciler interface {
	Reconcile(ctx context.Context, from time.Time) (*usecase.Result, error)
}

// WindowStart supplies the default start of a reconciliation window
type WindowStart interface {
	From(ctx context.Context) time.Time
}

// ReconciliationHandlers exposes manual reconciliation runs
type ReconciliationHandlers struct {
	reconciler Reconciler
	window     WindowStart
}

// NewReconciliationHandlers creates the handlers
func NewReconciliationHandlers(reconciler Reconciler, window WindowStart) *ReconciliationHandlers {
	return &ReconciliationHandlers{reconciler: reconciler, window: window}
}

// RegisterRoutes mounts the handlers on router
func (h *ReconciliationHandlers) RegisterRoutes(router gin.IRouter) {
	router.POST("/reconciliation/run", h.Run)
}

// Run reconciles from the RFC 3339 time in the from parameter, or from the
// scheduler's window start when it is absent
func (h *ReconciliationHandlers) Run(c *gin.Context) {
	ctx := c.Request.Context()

	var from time.Time
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "from must be an RFC 3339 timestamp"})
			return
		}
		from = parsed
	} else {
		from = h.window.From(ctx)
	}

	result, err := h.reconciler.Reconcile(ctx, from)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "reconciliation_error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
