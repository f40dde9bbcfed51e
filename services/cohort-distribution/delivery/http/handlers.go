package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/services/cohort-distribution/domain/repository"
	"github.com/cohortmanager/platform/shared/entity"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ExtractResponse carries one extraction batch
type ExtractResponse struct {
	RequestID string                      `json:"request_id"`
	Count     int                         `json:"count"`
	Records   []entity.CohortDistribution `json:"records"`
}

// ExtractHandlers serves the distribution feed to downstream consumers
type ExtractHandlers struct {
	repo         repository.ExtractRepository
	defaultLimit int
	maxLimit     int
	logger       *logging.Logger
}

// NewExtractHandlers creates the extraction handlers
func NewExtractHandlers(repo repository.ExtractRepository, defaultLimit, maxLimit int, logger *logging.Logger) *ExtractHandlers {
	return &ExtractHandlers{
		repo:         repo,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		logger:       logger.WithComponent("extract-handlers"),
	}
}

// RegisterRoutes mounts the handlers on router
func (h *ExtractHandlers) RegisterRoutes(router gin.IRouter) {
	group := router.Group("/distribution")
	group.POST("/extract", h.Extract)
	group.GET("/requests/:id", h.GetRequest)
}

// Extract marks up to limit pending rows of one screening service as
// extracted and returns them. An empty batch answers 204 but is still audited.
func (h *ExtractHandlers) Extract(c *gin.Context) {
	screeningID := c.Query("screening_id")
	if screeningID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "screening_id is required"})
		return
	}

	limit := h.defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > h.maxLimit {
		limit = h.maxLimit
	}

	requestID, rows, err := h.repo.Extract(c.Request.Context(), screeningID, limit)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("Extraction failed",
			logging.String("screening_id", screeningID), logging.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "extract_error", Message: "Extraction failed"})
		return
	}

	c.Header("X-Request-ID", requestID)
	if len(rows) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, ExtractResponse{RequestID: requestID, Count: len(rows), Records: rows})
}

// GetRequest returns the audit row of one extraction request
func (h *ExtractHandlers) GetRequest(c *gin.Context) {
	requestID := c.Param("id")
	if _, err := uuid.Parse(requestID); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "request id must be a UUID"})
		return
	}

	audit, err := h.repo.RequestAudit(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "lookup_error", Message: "Request lookup failed"})
		return
	}
	if audit == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Unknown request"})
		return
	}
	c.JSON(http.StatusOK, audit)
}
