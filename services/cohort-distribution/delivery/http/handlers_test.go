package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cohortmanager/platform/pkg/logging"
	"github.com/cohortmanager/platform/shared/entity"
)

type memoryExtracts struct {
	pending  []entity.CohortDistribution
	audits   map[string]entity.CohortRequestAudit
	lastSize int
	err      error
}

func (m *memoryExtracts) Extract(_ context.Context, screeningID string, limit int) (string, []entity.CohortDistribution, error) {
	if m.err != nil {
		return "", nil, m.err
	}
	m.lastSize = limit
	requestID := uuid.NewString()
	var out, rest []entity.CohortDistribution
	for _, row := range m.pending {
		if row.ScreeningServiceID == screeningID && len(out) < limit {
			row.IsExtracted = true
			row.RequestID = &requestID
			out = append(out, row)
			continue
		}
		rest = append(rest, row)
	}
	m.pending = rest
	status := "200"
	if len(out) == 0 {
		status = "204"
	}
	m.audits[requestID] = entity.CohortRequestAudit{RequestID: requestID, StatusCode: status, CreatedAt: time.Now()}
	return requestID, out, nil
}

func (m *memoryExtracts) RequestAudit(_ context.Context, requestID string) (*entity.CohortRequestAudit, error) {
	audit, ok := m.audits[requestID]
	if !ok {
		return nil, nil
	}
	return &audit, nil
}

func setupRouter(t *testing.T, repo *memoryExtracts) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewExtractHandlers(repo, 2, 3, logging.FromZap(zaptest.NewLogger(t), "test")).RegisterRoutes(router)
	return router
}

func serve(router *gin.Engine, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestExtractReturnsPendingRowsAndAudits(t *testing.T) {
	repo := &memoryExtracts{audits: map[string]entity.CohortRequestAudit{}}
	for i := 0; i < 3; i++ {
		repo.pending = append(repo.pending, entity.CohortDistribution{CohortDistributionID: int64(i + 1), ScreeningServiceID: "1"})
	}
	router := setupRouter(t, repo)

	w := serve(router, http.MethodPost, "/distribution/extract?screening_id=1")
	require.Equal(t, http.StatusOK, w.Code)

	var body ExtractResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, body.RequestID, w.Header().Get("X-Request-ID"))
	for _, row := range body.Records {
		assert.True(t, row.IsExtracted)
	}

	w = serve(router, http.MethodGet, "/distribution/requests/"+body.RequestID)
	require.Equal(t, http.StatusOK, w.Code)
	var audit entity.CohortRequestAudit
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &audit))
	assert.Equal(t, "200", audit.StatusCode)
}

func TestExtractEmptyBatchIsNoContent(t *testing.T) {
	repo := &memoryExtracts{audits: map[string]entity.CohortRequestAudit{}}
	router := setupRouter(t, repo)

	w := serve(router, http.MethodPost, "/distribution/extract?screening_id=1&limit=50")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 3, repo.lastSize)

	audit := repo.audits[w.Header().Get("X-Request-ID")]
	assert.Equal(t, "204", audit.StatusCode)
}

func TestExtractRejectsBadInput(t *testing.T) {
	router := setupRouter(t, &memoryExtracts{audits: map[string]entity.CohortRequestAudit{}})

	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/distribution/extract").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/distribution/extract?screening_id=1&limit=-4").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/distribution/requests/not-a-uuid").Code)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/distribution/requests/"+uuid.NewString()).Code)
}

func TestExtractStoreFailure(t *testing.T) {
	router := setupRouter(t, &memoryExtracts{err: errors.New("db down")})
	assert.Equal(t, http.StatusInternalServerError, serve(router, http.MethodPost, "/distribution/extract?screening_id=1").Code)
}
