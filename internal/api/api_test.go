package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visgate-ai/deploy-orchestrator/internal/config"
	"github.com/visgate-ai/deploy-orchestrator/internal/logring"
	"github.com/visgate-ai/deploy-orchestrator/internal/modelresolver"
	"github.com/visgate-ai/deploy-orchestrator/internal/orchestrator"
	"github.com/visgate-ai/deploy-orchestrator/internal/provider"
	"github.com/visgate-ai/deploy-orchestrator/internal/ratelimit"
	"github.com/visgate-ai/deploy-orchestrator/internal/secretcache"
	"github.com/visgate-ai/deploy-orchestrator/internal/store"
	"github.com/visgate-ai/deploy-orchestrator/internal/webhook"
	"github.com/visgate-ai/deploy-orchestrator/pkg/events"
)

const (
	testBearerA = "rpa_TEST"
	testBearerB = "rpa_OTHER"
	testSecret  = "internal-test-secret"
)

func hashOf(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// memStore is the same in-memory store.Store fake the orchestrator tests
// use, re-declared here because Go test fixtures don't cross package
// boundaries.
type memStore struct {
	mu   sync.Mutex
	data map[string]*store.Deployment
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]*store.Deployment)}
}

func (m *memStore) Get(_ context.Context, id string) (*store.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) Set(_ context.Context, d *store.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.data[d.DeploymentID] = &cp
	return nil
}

func (m *memStore) Update(_ context.Context, id string, u store.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[id]
	if !ok {
		return nil
	}
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.RunpodEndpointID != nil {
		d.RunpodEndpointID = *u.RunpodEndpointID
	}
	if u.EndpointURL != nil {
		d.EndpointURL = *u.EndpointURL
	}
	if u.GPUAllocated != nil {
		d.GPUAllocated = *u.GPUAllocated
	}
	if u.ModelVRAMGB != nil {
		d.ModelVRAMGB = *u.ModelVRAMGB
	}
	if u.Error != nil {
		d.Error = *u.Error
	}
	if u.ReadyAt != nil {
		d.ReadyAt = u.ReadyAt
	}
	if u.Provider != nil {
		d.Provider = *u.Provider
	}
	return nil
}

func (m *memStore) AppendLog(_ context.Context, id string, level, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[id]
	if !ok {
		return nil
	}
	d.Logs = append(d.Logs, store.LogEntry{Timestamp: time.Now().UTC(), Level: level, Message: message})
	return nil
}

func (m *memStore) FindReusable(_ context.Context, _, _ string) (*store.Deployment, error) {
	return nil, nil
}

func (m *memStore) CountByStatus(_ context.Context) (map[string]int, error) {
	return nil, nil
}

func (m *memStore) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

type fakeProvider struct{}

func (fakeProvider) CreateEndpoint(_ context.Context, name, gpuID, _ string, _ map[string]string, _ string, _ provider.CreateOptions) (provider.Endpoint, error) {
	return provider.Endpoint{ID: "ep-" + name, URL: "https://endpoints.invalid/v2/ep-" + gpuID + "/run"}, nil
}

func (fakeProvider) DeleteEndpoint(_ context.Context, _, _ string) error { return nil }

func (fakeProvider) ListEndpoints(_ context.Context, _ string) ([]provider.EndpointInfo, error) {
	return nil, nil
}

func (fakeProvider) RunURL(endpointID string) string {
	return "https://endpoints.invalid/v2/" + endpointID + "/run"
}

type testEnv struct {
	srv  *httptest.Server
	mem  *memStore
	logs *logring.Ring
}

func newTestEnv(t *testing.T, userLimit, ipLimit *ratelimit.Limiter) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	mem := newMemStore()
	logs := logring.New()
	resolver := modelresolver.New(nil)

	registry := provider.NewRegistry()
	registry.Register("runpod", fakeProvider{})

	cfg := &config.Config{
		Runpod: config.RunpodConfig{
			TemplateID:       "tmpl-test",
			DockerImage:      "visgateai/inference:latest",
			DefaultLocations: "US",
			VolumeSizeGB:     20,
		},
		Webhook:  config.WebhookConfig{TimeoutSeconds: 1, MaxRetries: 1},
		Internal: config.InternalConfig{Secret: testSecret, BaseURL: "https://orchestrator.internal"},
	}

	engine := orchestrator.New(mem, resolver, registry, secretcache.New(), webhook.New(logger), events.NewBus(logger), cfg, logger)

	if userLimit == nil {
		userLimit = ratelimit.New(1000, time.Minute, "user")
	}
	if ipLimit == nil {
		ipLimit = ratelimit.New(1000, time.Minute, "ip")
	}

	s := New(Deps{
		Store:      mem,
		Engine:     engine,
		Resolver:   resolver,
		Logs:       logs,
		UserLimit:  userLimit,
		IPLimit:    ipLimit,
		Config:     cfg,
		Logger:     logger,
		DepsHealth: func() map[string]bool { return map[string]bool{"store": true} },
	})
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, mem: mem, logs: logs}
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var decoded map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	if len(data) > 0 {
		_ = json.Unmarshal(data, &decoded)
	}
	return resp, decoded
}

func (e *testEnv) seed(t *testing.T, d *store.Deployment) {
	t.Helper()
	require.NoError(t, e.mem.Set(context.Background(), d))
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	resp, body := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = env.do(t, http.MethodGet, "/readiness", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}

func TestCreateRequiresBearer(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	resp, body := env.do(t, http.MethodPost, "/v1/deployments", "", map[string]any{
		"hf_model_id":      "black-forest-labs/FLUX.1-schnell",
		"user_webhook_url": "https://example.com/hook",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Unauthorized", body["error"])
}

func TestCreateColdPath(t *testing.T) {
	webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer webhookSrv.Close()

	env := newTestEnv(t, nil, nil)
	resp, body := env.do(t, http.MethodPost, "/v1/deployments", testBearerA, map[string]any{
		"hf_model_id":      "black-forest-labs/FLUX.1-schnell",
		"gpu_tier":         "A40",
		"user_webhook_url": webhookSrv.URL,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "cold", body["path"])
	assert.Equal(t, "accepted_cold", body["status"])
	assert.Equal(t, float64(180), body["estimated_ready_seconds"])
	assert.Equal(t, float64(5), body["poll_interval_seconds"])
	assert.Equal(t, "black-forest-labs/FLUX.1-schnell", body["model_id"])

	id, _ := body["deployment_id"].(string)
	require.True(t, strings.HasPrefix(id, "dep_"), "deployment id %q", id)
	assert.Equal(t, "/v1/deployments/"+id+"/stream", body["stream_url"])

	dep, err := env.mem.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, dep)
	assert.Equal(t, hashOf(testBearerA), dep.UserHash)
}

func TestCreateValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing model", map[string]any{"user_webhook_url": "https://example.com/hook"}},
		{"missing webhook url", map[string]any{"hf_model_id": "a/b"}},
		{"relative webhook url", map[string]any{"hf_model_id": "a/b", "user_webhook_url": "/hook"}},
		{"bad task", map[string]any{"hf_model_id": "a/b", "user_webhook_url": "https://example.com/hook", "task": "speech2text"}},
		{"private cache without s3 url", map[string]any{"hf_model_id": "a/b", "user_webhook_url": "https://example.com/hook", "cache_scope": "private"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/v1/deployments", testBearerA, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "InvalidDeploymentRequest", body["error"])
		})
	}
	assert.Equal(t, 0, env.mem.size(), "no record may be created for a rejected request")
}

func TestCreateUnknownAliasReturns400(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	resp, body := env.do(t, http.MethodPost, "/v1/deployments", testBearerA, map[string]any{
		"model_name":       "nonexistent",
		"provider":         "fal",
		"user_webhook_url": "https://example.com/hook",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "UnknownModel", body["error"])

	details, _ := body["details"].(map[string]any)
	require.NotNil(t, details)
	assert.Equal(t, "nonexistent", details["model_name"])
	assert.Equal(t, "fal", details["provider"])
	assert.Equal(t, 0, env.mem.size())
}

func TestGetEnforcesTenancy(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seed(t, &store.Deployment{
		DeploymentID: "dep_2026_aabbccdd",
		Status:       store.StatusLoadingModel,
		HFModelID:    "black-forest-labs/FLUX.1-schnell",
		UserHash:     hashOf(testBearerA),
		CreatedAt:    time.Now().UTC(),
	})

	resp, body := env.do(t, http.MethodGet, "/v1/deployments/dep_2026_aabbccdd", testBearerB, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "cross-tenant reads must 404, never 403")
	assert.Equal(t, "DeploymentNotFound", body["error"])

	resp, body = env.do(t, http.MethodGet, "/v1/deployments/dep_2026_aabbccdd", testBearerA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, store.StatusLoadingModel, body["status"])
	assert.Equal(t, float64(45), body["estimated_remaining_seconds"])
}

func TestGetUnknownStatusFallsBackToDefaultEstimate(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seed(t, &store.Deployment{
		DeploymentID: "dep_2026_eeff0011",
		Status:       "some_future_status",
		UserHash:     hashOf(testBearerA),
		CreatedAt:    time.Now().UTC(),
	})
	resp, body := env.do(t, http.MethodGet, "/v1/deployments/dep_2026_eeff0011", testBearerA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(60), body["estimated_remaining_seconds"])
}

func TestDeleteIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seed(t, &store.Deployment{
		DeploymentID:     "dep_2026_deadbeef",
		Status:           store.StatusReady,
		RunpodEndpointID: "ep-1",
		EndpointURL:      "https://api.runpod.ai/v2/ep-1/run",
		UserHash:         hashOf(testBearerA),
		CreatedAt:        time.Now().UTC(),
	})

	resp, _ := env.do(t, http.MethodDelete, "/v1/deployments/dep_2026_deadbeef", testBearerA, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/v1/deployments/dep_2026_deadbeef", testBearerA, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	dep, err := env.mem.Get(context.Background(), "dep_2026_deadbeef")
	require.NoError(t, err)
	assert.Equal(t, store.StatusDeleted, dep.Status)
}

func TestRateLimitReturns429WithRetryAfter(t *testing.T) {
	env := newTestEnv(t, ratelimit.New(2, time.Minute, "user"), nil)

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodGet, "/v1/deployments/dep_none", testBearerA, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodGet, "/v1/deployments/dep_none", testBearerA, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RateLimited", body["error"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	details, _ := body["details"].(map[string]any)
	require.NotNil(t, details)
	assert.GreaterOrEqual(t, details["retry_after_seconds"], float64(1))

	// A different caller is an independent window.
	resp, _ = env.do(t, http.MethodGet, "/v1/deployments/dep_none", testBearerB, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInternalRoutesRejectBadSecret(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/internal/deployment-ready/dep_x",
		strings.NewReader(`{"status":"ready"}`))
	require.NoError(t, err)
	req.Header.Set("X-Visgate-Internal-Secret", "wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWorkerReadyCallbackMarksReadyAndDeliversWebhook(t *testing.T) {
	var webhookCalls int64
	var mu sync.Mutex
	var payload map[string]any
	webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		webhookCalls++
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer webhookSrv.Close()

	env := newTestEnv(t, nil, nil)
	env.seed(t, &store.Deployment{
		DeploymentID:     "dep_2026_cafe0001",
		Status:           store.StatusLoadingModel,
		HFModelID:        "black-forest-labs/FLUX.1-schnell",
		UserWebhookURL:   webhookSrv.URL,
		RunpodEndpointID: "ep-cafe",
		EndpointURL:      "https://api.runpod.ai/v2/ep-cafe",
		UserHash:         hashOf(testBearerA),
		CreatedAt:        time.Now().UTC().Add(-30 * time.Second),
	})

	// Intermediate phase first, via the ?secret= query form.
	req, err := http.NewRequest(http.MethodPost,
		env.srv.URL+"/internal/deployment-ready/dep_2026_cafe0001?secret="+testSecret,
		strings.NewReader(`{"status":"downloading_model"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dep, err := env.mem.Get(context.Background(), "dep_2026_cafe0001")
	require.NoError(t, err)
	assert.Equal(t, store.StatusDownloadingModel, dep.Status)

	// Terminal ready, via the header form.
	req, err = http.NewRequest(http.MethodPost,
		env.srv.URL+"/internal/deployment-ready/dep_2026_cafe0001",
		strings.NewReader(`{"status":"ready"}`))
	require.NoError(t, err)
	req.Header.Set("X-Visgate-Internal-Secret", testSecret)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dep, err = env.mem.Get(context.Background(), "dep_2026_cafe0001")
	require.NoError(t, err)
	assert.Equal(t, store.StatusReady, dep.Status)
	require.NotNil(t, dep.ReadyAt)
	assert.True(t, strings.HasSuffix(dep.EndpointURL, "/run"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(1), webhookCalls)
	assert.Equal(t, "deployment_ready", payload["event"])
	assert.Equal(t, "black-forest-labs/FLUX.1-schnell", payload["model_id"])
	assert.Greater(t, payload["duration_seconds"], float64(0))
}

func TestStreamStatusTerminatesOnTerminalStatus(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seed(t, &store.Deployment{
		DeploymentID: "dep_2026_55aa55aa",
		Status:       store.StatusReady,
		EndpointURL:  "https://api.runpod.ai/v2/ep-ss/run",
		UserHash:     hashOf(testBearerA),
		CreatedAt:    time.Now().UTC(),
	})

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/v1/deployments/dep_2026_55aa55aa/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testBearerA)

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "a terminal deployment must end the stream promptly")
	assert.Contains(t, string(body), "event: status")
	assert.Contains(t, string(body), `"status":"ready"`)
}

func TestLogTunnelFeedsLogStream(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seed(t, &store.Deployment{
		DeploymentID: "dep_2026_10091009",
		Status:       store.StatusReady,
		UserHash:     hashOf(testBearerA),
		CreatedAt:    time.Now().UTC(),
	})

	req, err := http.NewRequest(http.MethodPost,
		env.srv.URL+"/internal/logs/dep_2026_10091009",
		strings.NewReader(`{"level":"INFO","message":"pipeline warmed"}`))
	require.NoError(t, err)
	req.Header.Set("X-Visgate-Internal-Secret", testSecret)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	streamReq, err := http.NewRequest(http.MethodGet, env.srv.URL+"/v1/deployments/dep_2026_10091009/logs/stream", nil)
	require.NoError(t, err)
	streamReq.Header.Set("Authorization", "Bearer "+testBearerA)
	client := &http.Client{Timeout: 3 * time.Second}
	streamResp, err := client.Do(streamReq)
	require.NoError(t, err)
	defer streamResp.Body.Close()

	body, err := io.ReadAll(streamResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pipeline warmed")
}

func TestTaskTriggerDispatchesOnlyWhileValidating(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seed(t, &store.Deployment{
		DeploymentID: "dep_2026_77667766",
		Status:       store.StatusReady,
		UserHash:     hashOf(testBearerA),
		CreatedAt:    time.Now().UTC(),
	})

	req, err := http.NewRequest(http.MethodPost,
		env.srv.URL+"/internal/tasks/orchestrate-deployment",
		strings.NewReader(`{"deployment_id":"dep_2026_77667766"}`))
	require.NoError(t, err)
	req.Header.Set("X-Visgate-Internal-Secret", testSecret)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["dispatched"], "a deployment past validating must not be re-dispatched")
}
