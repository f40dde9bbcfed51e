package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cohortmanager/platform/pkg/metrics"
	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, config common.EndpointConfig) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	config.BaseURL = server.URL
	return NewClient("test", config, zaptest.NewLogger(t), metrics.NewCollector("external_test"))
}

func TestDemographicRoundTrip(t *testing.T) {
	stored := map[string]entity.Demographic{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path[len("/demographics/"):]
		switch r.Method {
		case http.MethodPut:
			var d entity.Demographic
			require.NoError(t, json.NewDecoder(r.Body).Decode(&d))
			stored[key] = d
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			d, ok := stored[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			require.NoError(t, json.NewEncoder(w).Encode(d))
		}
	}, common.EndpointConfig{})

	demographics := NewDemographicClient(client)
	ctx := context.Background()

	missing, err := demographics.Get(ctx, "9434765919")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ok, err := demographics.Upsert(ctx, "9434765919", entity.Demographic{GivenName: "Ada", Postcode: "BS1 4DJ"})
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := demographics.Get(ctx, "9434765919")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, types.IdentityKey("9434765919"), found.IdentityKey)
	assert.Equal(t, "Ada", found.GivenName)
}

func TestAllocationRequiresProvider(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req allocationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		provider := ""
		if req.Postcode == "BS1 4DJ" {
			provider = "BS SELECT"
		}
		require.NoError(t, json.NewEncoder(w).Encode(allocationResponse{ServiceProvider: provider}))
	}, common.EndpointConfig{})

	allocation := NewAllocationClient(client)

	provider, err := allocation.Allocate(context.Background(), "9434765919", "BSS", "BS1 4DJ")
	require.NoError(t, err)
	assert.Equal(t, "BS SELECT", provider)

	_, err = allocation.Allocate(context.Background(), "9434765919", "BSS", "ZZ9 9ZZ")
	require.Error(t, err)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeExternalService))
}

func TestRulesValidate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req validationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Common", req.Workflow)
		assert.Nil(t, req.ExistingRecord)
		require.NoError(t, json.NewEncoder(w).Encode(validationResponse{Results: []types.RuleResult{
			{RuleName: "36.ValidatePostcode", Outcome: types.RuleFailFatal},
		}}))
	}, common.EndpointConfig{})

	results, err := NewRulesClient(client).Validate(context.Background(), &entity.CohortDistribution{IdentityKey: "9434765919"}, nil, "Common")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Fatal())
}

func TestRulesValidateMissingRuleSetIsTerminal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, common.EndpointConfig{})

	results, err := NewRulesClient(client).Validate(context.Background(), &entity.CohortDistribution{IdentityKey: "9434765919"}, nil, "Unknown")
	require.Error(t, err)
	assert.Nil(t, results)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeNotFound))
	assert.True(t, common.IsTerminal(err))
}

func TestRulesValidateNoContentMeansNoRules(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, common.EndpointConfig{})

	results, err := NewRulesClient(client).Validate(context.Background(), &entity.CohortDistribution{IdentityKey: "9434765919"}, nil, "Common")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRulesValidateRejectsUnknownOutcome(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"rule_name":"36.ValidatePostcode","outcome":"FAIL_FATAL"}]}`))
	}, common.EndpointConfig{})

	results, err := NewRulesClient(client).Validate(context.Background(), &entity.CohortDistribution{IdentityKey: "9434765919"}, nil, "Common")
	require.Error(t, err)
	assert.Nil(t, results)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidInput))
	assert.True(t, common.IsTerminal(err))
}

func TestClientErrorDoesNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad postcode", http.StatusBadRequest)
	}, common.EndpointConfig{BreakerThreshold: 1})

	allocation := NewAllocationClient(client)
	for i := 0; i < 3; i++ {
		_, err := allocation.Allocate(context.Background(), "9434765919", "BSS", "??")
		require.Error(t, err)
		assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidInput))
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestServerErrorOpensBreaker(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, common.EndpointConfig{BreakerThreshold: 2, BreakerTimeout: time.Minute})

	allocation := NewAllocationClient(client)
	for i := 0; i < 4; i++ {
		_, err := allocation.Allocate(context.Background(), "9434765919", "BSS", "BS1 4DJ")
		require.Error(t, err)
		assert.True(t, common.IsTransient(err))
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestTimeoutIsReported(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, common.EndpointConfig{Timeout: 50 * time.Millisecond})

	_, err := NewDemographicClient(client).Get(context.Background(), "9434765919")
	require.Error(t, err)
	assert.True(t, common.IsTransient(err))
}
