package runpod

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visgate-ai/deploy-orchestrator/internal/provider"
)

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		GraphQLURL: srv.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, zap.NewNop())
	return c
}

func TestCreateEndpointSendsInputAndDerivesRunURL(t *testing.T) {
	var got gqlRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rpa_TEST", r.URL.Query().Get("api_key"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"saveEndpoint":{"id":"ep123abc"}}}`))
	})

	ep, err := c.CreateEndpoint(context.Background(), "visgate-abc-flux", "AMPERE_48", "visgateai/inference:latest",
		map[string]string{"HF_MODEL_ID": "black-forest-labs/FLUX.1-schnell"}, "rpa_TEST",
		provider.CreateOptions{
			TemplateID:   "tmpl-1",
			WorkersMin:   1,
			WorkersMax:   2,
			IdleTimeout:  300,
			ScalerType:   "QUEUE_DELAY",
			ScalerValue:  2,
			VolumeSizeGB: 20,
			Locations:    "US",
		})
	require.NoError(t, err)
	assert.Equal(t, "ep123abc", ep.ID)
	assert.Equal(t, "https://api.runpod.ai/v2/ep123abc/run", ep.URL)

	require.Contains(t, got.Query, "saveEndpoint")
	input, ok := got.Variables["input"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "visgate-abc-flux", input["name"])
	assert.Equal(t, "AMPERE_48", input["gpuIds"])
	assert.Equal(t, "tmpl-1", input["templateId"])
	assert.Equal(t, float64(20), input["volumeInGb"])
	assert.Equal(t, "/runpod-volume", input["volumeMountPath"])
}

func TestCreateEndpointSurfacesGraphQLError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":[{"message":"There are no longer any instances available with enough disk space"}]}`))
	})

	_, err := c.CreateEndpoint(context.Background(), "n", "AMPERE_16", "img", nil, "rpa_TEST", provider.CreateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no longer any instances available")
}

func TestGraphQLRequestRetriesServerErrors(t *testing.T) {
	var calls int64
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			http.Error(w, "upstream blew up", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"saveEndpoint":{"id":"ep-after-retry"}}}`))
	})

	ep, err := c.CreateEndpoint(context.Background(), "n", "AMPERE_16", "img", nil, "rpa_TEST", provider.CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ep-after-retry", ep.ID)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestGraphQLRequestDoesNotRetryClientErrors(t *testing.T) {
	var calls int64
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.Error(w, "bad api key", http.StatusUnauthorized)
	})

	_, err := c.CreateEndpoint(context.Background(), "n", "AMPERE_16", "img", nil, "rpa_BAD", provider.CreateOptions{})
	require.Error(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "4xx responses other than 429 must not be retried")
}

func TestListEndpointsMapsMyselfEndpoints(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.True(t, strings.Contains(string(body), "endpoints"))
		_, _ = w.Write([]byte(`{"data":{"myself":{"endpoints":[
			{"id":"ep1","name":"visgate-pool-stabilityai--sdxl-turbo","status":"RUNNING"},
			{"id":"ep2","name":"visgate-0123456789-foo--bar","status":"TERMINATED"}
		]}}}`))
	})

	eps, err := c.ListEndpoints(context.Background(), "rpa_TEST")
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "ep1", eps[0].ID)
	assert.Equal(t, "visgate-pool-stabilityai--sdxl-turbo", eps[0].Name)
	assert.Equal(t, "RUNNING", eps[0].Status)
	assert.Equal(t, "https://api.runpod.ai/v2/ep1/run", eps[0].URL)
	assert.Equal(t, "TERMINATED", eps[1].Status)
}

func TestDeleteEndpoint(t *testing.T) {
	var got gqlRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"data":{"deleteEndpoint":true}}`))
	})

	require.NoError(t, c.DeleteEndpoint(context.Background(), "ep-gone", "rpa_TEST"))
	assert.Contains(t, got.Query, "deleteEndpoint")
	assert.Equal(t, "ep-gone", got.Variables["id"])
}

func TestRunURL(t *testing.T) {
	c := NewClient(Config{}, zap.NewNop())
	assert.Equal(t, "https://api.runpod.ai/v2/xyz/run", c.RunURL("xyz"))
}
