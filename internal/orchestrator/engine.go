// Package orchestrator drives a deployment from creation through GPU
// selection, provider endpoint creation, and worker readiness, to the
// ready/failed terminal states. The state machine and its background
// dispatch live in a single Engine so both the HTTP-accepted create path
// and the worker-callback path share one set of store transitions.
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/visgate-ai/deploy-orchestrator/internal/apierr"
	"github.com/visgate-ai/deploy-orchestrator/internal/config"
	"github.com/visgate-ai/deploy-orchestrator/internal/endpointname"
	"github.com/visgate-ai/deploy-orchestrator/internal/gpuselect"
	"github.com/visgate-ai/deploy-orchestrator/internal/modelresolver"
	"github.com/visgate-ai/deploy-orchestrator/internal/provider"
	"github.com/visgate-ai/deploy-orchestrator/internal/redact"
	"github.com/visgate-ai/deploy-orchestrator/internal/secretcache"
	"github.com/visgate-ai/deploy-orchestrator/internal/store"
	"github.com/visgate-ai/deploy-orchestrator/internal/webhook"
	"github.com/visgate-ai/deploy-orchestrator/pkg/events"
	"github.com/visgate-ai/deploy-orchestrator/pkg/metrics"
	"github.com/visgate-ai/deploy-orchestrator/pkg/telemetry"
)

const (
	readinessProbeInterval = 8 * time.Second
	readinessProbeTimeout  = 15 * time.Minute
)

// Engine owns the full deployment lifecycle.
type Engine struct {
	store      store.Store
	resolver   *modelresolver.Resolver
	providers  *provider.Registry
	secrets    *secretcache.Cache
	notifier   *webhook.Notifier
	bus        *events.Bus
	logger     *zap.Logger
	cfg        *config.Config
	probeClient *http.Client
}

func New(s store.Store, resolver *modelresolver.Resolver, providers *provider.Registry, secrets *secretcache.Cache, notifier *webhook.Notifier, bus *events.Bus, cfg *config.Config, logger *zap.Logger) *Engine {
	return &Engine{
		store:       s,
		resolver:    resolver,
		providers:   providers,
		secrets:     secrets,
		notifier:    notifier,
		bus:         bus,
		cfg:         cfg,
		logger:      logger,
		probeClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateRequest is the orchestrator-facing view of a POST /v1/deployments
// body, after the API layer has resolved hf_model_id/model_name+provider to
// a single HF model id and validated user_webhook_url.
type CreateRequest struct {
	HFModelID          string
	UserWebhookURL     string
	GPUTier            string
	Region             string
	UserRunpodKey      string
	HFToken            string
	Task               string
	CacheScope         string
	UserS3URL          string
	UserAWSAccessKeyID string
	UserAWSSecretKey   string
	UserAWSEndpointURL string
	UserHash           string
}

// CreateResult is returned synchronously to the API layer for the 202
// response body.
type CreateResult struct {
	DeploymentID          string
	Status                string
	ModelID               string
	EstimatedReadySeconds int
	PollIntervalSeconds   int
	StreamURL             string
	WebhookURL            string
	EndpointURL           string
	Path                  string
	CreatedAt             time.Time
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Create registers a new deployment, short-circuiting to a warm reuse when
// a live endpoint already serves this (user, model) pair, and otherwise
// dispatching the cold path in the background.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	now := time.Now().UTC()
	id := store.GenerateID(now, randHex(4))
	streamURL := fmt.Sprintf("/v1/deployments/%s/stream", id)

	e.secrets.Store(id, secretcache.Secrets{
		ProviderAPIKey:     req.UserRunpodKey,
		HFToken:            req.HFToken,
		AWSAccessKeyID:     req.UserAWSAccessKeyID,
		AWSSecretAccessKey: req.UserAWSSecretKey,
		AWSEndpointURL:     req.UserAWSEndpointURL,
		S3ModelURL:         req.UserS3URL,
	})

	if warm := e.findWarmEndpoint(ctx, req); warm != nil {
		dep := &store.Deployment{
			DeploymentID:     id,
			Status:           store.StatusCreatingEndpoint,
			HFModelID:        req.HFModelID,
			UserWebhookURL:   req.UserWebhookURL,
			GPUTier:          req.GPUTier,
			Region:           req.Region,
			RunpodEndpointID: warm.ID,
			EndpointURL:      warm.URL,
			CreatedAt:        now,
			UserHash:         req.UserHash,
			Provider:         "runpod",
			EndpointName:     warm.Name,
			Logs: []store.LogEntry{{
				Timestamp: now, Level: "INFO",
				Message: fmt.Sprintf("Reusing active endpoint %s", warm.ID),
			}},
		}
		if err := e.store.Set(ctx, dep); err != nil {
			return nil, apierr.Internal(fmt.Sprintf("failed to persist deployment: %v", err))
		}
		e.notifyAndMarkReady(ctx, id, warm.URL)
		metrics.DeploymentsCreatedTotal.WithLabelValues("warm").Inc()

		return &CreateResult{
			DeploymentID:          id,
			Status:                "warm_ready",
			ModelID:               req.HFModelID,
			EstimatedReadySeconds: 0,
			PollIntervalSeconds:   1,
			StreamURL:             streamURL,
			WebhookURL:            req.UserWebhookURL,
			EndpointURL:           store.NormalizeRunURL(warm.URL),
			Path:                  "warm",
			CreatedAt:             now,
		}, nil
	}

	dep := &store.Deployment{
		DeploymentID:   id,
		Status:         store.StatusValidating,
		HFModelID:      req.HFModelID,
		UserWebhookURL: req.UserWebhookURL,
		GPUTier:        req.GPUTier,
		Region:         req.Region,
		CreatedAt:      now,
		UserHash:       req.UserHash,
	}
	if err := e.store.Set(ctx, dep); err != nil {
		return nil, apierr.Internal(fmt.Sprintf("failed to persist deployment: %v", err))
	}

	e.bus.Publish(ctx, events.NewEvent(events.EventDeploymentCreated, id, map[string]any{
		"hf_model_id": req.HFModelID,
		"path":        "cold",
	}))
	metrics.DeploymentsCreatedTotal.WithLabelValues("cold").Inc()

	go e.run(context.Background(), id, req)

	return &CreateResult{
		DeploymentID:          id,
		Status:                "accepted_cold",
		ModelID:               req.HFModelID,
		EstimatedReadySeconds: 180,
		PollIntervalSeconds:   5,
		StreamURL:             streamURL,
		WebhookURL:            req.UserWebhookURL,
		Path:                  "cold",
		CreatedAt:             now,
	}, nil
}

// findWarmEndpoint checks the durable store first (cheap, works even
// without the caller's own provider credentials) for a ready deployment
// against the same model that this caller or the shared pool already owns,
// then falls back to asking the provider directly when the caller supplied
// credentials. A missing API key or a provider error is treated as "no warm
// endpoint" rather than failing the request: warm reuse is an optimization,
// not a requirement.
func (e *Engine) findWarmEndpoint(ctx context.Context, req CreateRequest) *provider.EndpointInfo {
	if reused, err := e.store.FindReusable(ctx, req.UserHash, req.HFModelID); err == nil && reused != nil && reused.EndpointURL != "" {
		return &provider.EndpointInfo{
			ID:   reused.RunpodEndpointID,
			Name: reused.EndpointName,
			URL:  reused.EndpointURL,
		}
	}

	if req.UserRunpodKey == "" {
		return nil
	}
	p, ok := e.providers.Get("runpod")
	if !ok {
		return nil
	}
	endpoints, err := p.ListEndpoints(ctx, req.UserRunpodKey)
	if err != nil {
		e.logger.Debug("warm endpoint lookup failed, proceeding cold", zap.Error(err))
		return nil
	}

	userName := endpointname.UserScoped(req.UserHash, req.HFModelID)
	poolName := endpointname.Pool(req.HFModelID)
	for _, ep := range endpoints {
		if !provider.IsLive(ep.Status) {
			continue
		}
		if ep.Name == userName || ep.Name == poolName {
			found := ep
			return &found
		}
	}
	return nil
}

func (e *Engine) setStatus(ctx context.Context, id, status string) {
	if err := e.store.Update(ctx, id, store.Update{Status: &status}); err != nil {
		e.logger.Error("failed to update deployment status", zap.String("deployment_id", id), zap.Error(err))
	}
}

func (e *Engine) logStep(ctx context.Context, id, level, message string) {
	if err := e.store.AppendLog(ctx, id, level, message); err != nil {
		e.logger.Error("failed to append deployment log", zap.String("deployment_id", id), zap.Error(err))
	}
}

func (e *Engine) fail(ctx context.Context, id, message string) {
	status := store.StatusFailed
	if err := e.store.Update(ctx, id, store.Update{Status: &status, Error: &message}); err != nil {
		e.logger.Error("failed to mark deployment failed", zap.String("deployment_id", id), zap.Error(err))
	}
	e.logStep(ctx, id, "ERROR", message)
	e.bus.Publish(ctx, events.NewEvent(events.EventDeploymentFailed, id, map[string]any{"error": message}))
}

// run is the background cold-path worker: validate -> select GPU -> create
// endpoint -> wait for readiness.
func (e *Engine) run(ctx context.Context, id string, req CreateRequest) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("orchestration panicked", zap.String("deployment_id", id), zap.Any("panic", r))
			e.fail(ctx, id, fmt.Sprintf("internal error: %v", r))
		}
	}()

	ctx, end := telemetry.Span(ctx, "orchestrator.run", map[string]string{"deployment_id": id})
	defer end()
	defer e.secrets.Clear(id)

	e.logStep(ctx, id, "INFO", "Validating Hugging Face model")
	if err := e.resolver.CheckExists(ctx, req.HFModelID); err != nil {
		e.fail(ctx, id, err.Error())
		return
	}
	if err := e.resolver.CheckTask(req.HFModelID, req.Task); err != nil {
		e.fail(ctx, id, err.Error())
		return
	}

	vramGB := e.resolver.EstimateVRAMGB(req.HFModelID, nil, 0)
	if err := e.store.Update(ctx, id, store.Update{ModelVRAMGB: &vramGB}); err != nil {
		e.logger.Error("failed to record vram estimate", zap.Error(err))
	}
	e.logStep(ctx, id, "INFO", fmt.Sprintf("HF model validated, estimated %d GB VRAM", vramGB))

	e.setStatus(ctx, id, store.StatusSelectingGPU)
	candidates := gpuselect.Select(vramGB, req.GPUTier, nil, nil)
	if len(candidates) == 0 {
		e.fail(ctx, id, apierr.InsufficientGPU(vramGB).Error())
		return
	}
	e.logStep(ctx, id, "INFO", fmt.Sprintf("Selected %d GPU candidates, first=%s", len(candidates), candidates[0].DisplayName))

	e.setStatus(ctx, id, store.StatusCreatingEndpoint)
	endpoint, gpuDisplay, err := e.createEndpointWithFallback(ctx, id, req, candidates)
	if err != nil {
		e.fail(ctx, id, err.Error())
		return
	}

	providerName := "runpod"
	if err := e.store.Update(ctx, id, store.Update{
		RunpodEndpointID: &endpoint.ID,
		EndpointURL:      &endpoint.URL,
		GPUAllocated:     &gpuDisplay,
		Provider:         &providerName,
	}); err != nil {
		e.logger.Error("failed to record endpoint", zap.Error(err))
	}
	e.logStep(ctx, id, "INFO", fmt.Sprintf("Runpod endpoint created: %s", endpoint.ID))
	e.bus.Publish(ctx, events.NewEvent(events.EventEndpointCreated, id, map[string]any{"endpoint_id": endpoint.ID}))

	e.setStatus(ctx, id, store.StatusLoadingModel)
	e.logStep(ctx, id, "INFO", "Waiting for model load signal from worker")

	e.monitorReadiness(ctx, id, endpoint.URL, req.UserRunpodKey)
}

// buildWorkerEnv constructs the environment variables passed to the
// inference container: model id, internal callback URLs guarded by the
// shared secret, and optional cache credentials.
func (e *Engine) buildWorkerEnv(id string, req CreateRequest) map[string]string {
	env := map[string]string{
		"HF_MODEL_ID":          req.HFModelID,
		"VISGATE_DEPLOYMENT_ID": id,
	}
	if req.HFToken != "" {
		env["HF_TOKEN"] = req.HFToken
	}

	accessKey := req.UserAWSAccessKeyID
	secretKey := req.UserAWSSecretKey
	endpointURL := req.UserAWSEndpointURL
	s3URL := req.UserS3URL
	if req.CacheScope != "private" {
		accessKey, secretKey, endpointURL, s3URL = e.cfg.AWS.AccessKeyID, e.cfg.AWS.SecretAccessKey, e.cfg.AWS.EndpointURL, e.cfg.AWS.S3ModelURL
	}
	if accessKey != "" {
		env["AWS_ACCESS_KEY_ID"] = accessKey
	}
	if secretKey != "" {
		env["AWS_SECRET_ACCESS_KEY"] = secretKey
	}
	if endpointURL != "" {
		env["AWS_ENDPOINT_URL"] = endpointURL
	}
	if s3URL != "" {
		env["S3_MODEL_URL"] = s3URL
	}

	base := e.cfg.Internal.BaseURL
	visgateWebhook := fmt.Sprintf("%s/internal/deployment-ready/%s", base, id)
	if e.cfg.Internal.Secret != "" {
		visgateWebhook += "?secret=" + e.cfg.Internal.Secret
		env["VISGATE_INTERNAL_SECRET"] = e.cfg.Internal.Secret
	}
	env["VISGATE_WEBHOOK"] = visgateWebhook
	if base != "" {
		env["VISGATE_LOG_TUNNEL"] = fmt.Sprintf("%s/internal/logs/%s", base, id)
	}
	if e.cfg.Internal.CleanupIdleTimeoutSeconds > 0 {
		env["CLEANUP_IDLE_TIMEOUT_SECONDS"] = fmt.Sprintf("%d", e.cfg.Internal.CleanupIdleTimeoutSeconds)
	}
	if e.cfg.Internal.CleanupFailureThreshold > 0 {
		env["CLEANUP_FAILURE_THRESHOLD"] = fmt.Sprintf("%d", e.cfg.Internal.CleanupFailureThreshold)
	}
	return env
}

func (e *Engine) createEndpointWithFallback(ctx context.Context, id string, req CreateRequest, candidates []gpuselect.Candidate) (provider.Endpoint, string, error) {
	p, ok := e.providers.Get("runpod")
	if !ok {
		return provider.Endpoint{}, "", apierr.Internal("runpod provider not configured")
	}

	env := e.buildWorkerEnv(id, req)
	e.logger.Debug("worker callbacks configured",
		zap.String("deployment_id", id),
		zap.String("webhook", redact.URL(env["VISGATE_WEBHOOK"])))
	name := endpointname.UserScoped(req.UserHash, req.HFModelID)
	locations := req.Region
	if locations == "" {
		locations = e.cfg.Runpod.DefaultLocations
	}

	opts := provider.CreateOptions{
		TemplateID:   e.cfg.Runpod.TemplateID,
		WorkersMin:   1,
		WorkersMax:   2,
		IdleTimeout:  300,
		ScalerType:   "QUEUE_DELAY",
		ScalerValue:  2,
		VolumeSizeGB: e.cfg.Runpod.VolumeSizeGB,
		Locations:    locations,
	}

	var lastErr error
	for _, candidate := range candidates {
		endpoint, err := p.CreateEndpoint(ctx, name, candidate.ID, e.cfg.Runpod.DockerImage, env, req.UserRunpodKey, opts)
		if err == nil {
			return endpoint, candidate.DisplayName, nil
		}
		lastErr = err
		if provider.IsCapacityError(err.Error()) {
			e.logStep(ctx, id, "WARNING", fmt.Sprintf("GPU candidate unavailable: %s", candidate.DisplayName))
			continue
		}
		return provider.Endpoint{}, "", apierr.NewProviderAPIError(err.Error(), false)
	}
	if lastErr != nil {
		return provider.Endpoint{}, "", apierr.NewProviderAPIError(lastErr.Error(), true)
	}
	return provider.Endpoint{}, "", apierr.Internal("no suitable GPU candidate endpoint could be created")
}

// monitorReadiness is the fallback readiness monitor: if the worker's
// webhook never arrives, poll the endpoint directly and mark it ready once
// the probe reports the pipeline loaded.
func (e *Engine) monitorReadiness(ctx context.Context, id, endpointURL, apiKey string) {
	deadline := time.Now().Add(readinessProbeTimeout)
	ticker := time.NewTicker(readinessProbeInterval)
	defer ticker.Stop()

	for {
		dep, err := e.store.Get(ctx, id)
		if err != nil || dep == nil {
			e.logger.Warn("deployment missing during readiness monitoring", zap.String("deployment_id", id))
			return
		}
		if store.IsTerminal(dep.Status) {
			return
		}
		if time.Now().After(deadline) {
			e.logStep(ctx, id, "WARNING", "Readiness monitor timed out; waiting for worker webhook")
			return
		}

		ready, probeErr := e.probeReadiness(ctx, endpointURL, apiKey)
		if ready {
			e.logStep(ctx, id, "INFO", "Readiness probe succeeded; marking deployment ready")
			e.notifyAndMarkReady(ctx, id, endpointURL)
			return
		}
		if probeErr != "" {
			e.logStep(ctx, id, "WARNING", "Readiness probe retry: "+probeErr)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

type probeResponse struct {
	Status         string `json:"status"`
	PipelineLoaded bool   `json:"pipeline_loaded"`
	Error          string `json:"error"`
}

func (e *Engine) probeReadiness(ctx context.Context, endpointURL, apiKey string) (bool, string) {
	root := strings.TrimSuffix(endpointURL, "/run")
	if root == "" {
		return false, "missing endpoint url"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, root+"/runsync", strings.NewReader(`{"input":{"debug":true}}`))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.probeClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, fmt.Sprintf("probe http %d", resp.StatusCode)
	}

	var payload probeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, err.Error()
	}
	status := strings.ToUpper(payload.Status)
	if status == "OK" && payload.PipelineLoaded {
		return true, ""
	}
	if status == "FAILED" {
		return false, payload.Error
	}
	return false, ""
}

// notifyAndMarkReady wraps MarkReadyAndNotify for call sites that don't
// need the returned bool.
func (e *Engine) notifyAndMarkReady(ctx context.Context, id, endpointURL string) {
	_, _ = e.MarkReadyAndNotify(ctx, id, endpointURL)
}

// MarkReadyAndNotify transitions a deployment to ready and delivers the
// user webhook. Idempotent: a deployment already ready with a ready_at
// timestamp is treated as already notified.
func (e *Engine) MarkReadyAndNotify(ctx context.Context, id, endpointURL string) (bool, error) {
	dep, err := e.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if dep == nil {
		return false, nil
	}
	if dep.Status == store.StatusReady && dep.ReadyAt != nil {
		return true, nil
	}

	now := time.Now().UTC()
	resolved := store.NormalizeRunURL(endpointURL)
	if resolved == "" {
		resolved = store.NormalizeRunURL(dep.EndpointURL)
	}

	status := store.StatusReady
	update := store.Update{Status: &status, ReadyAt: &now}
	if resolved != "" {
		update.EndpointURL = &resolved
	}
	if err := e.store.Update(ctx, id, update); err != nil {
		return false, err
	}
	e.logStep(ctx, id, "INFO", "Model loaded, deployment ready")

	duration := now.Sub(dep.CreatedAt).Seconds()
	telemetry.RecordDeploymentReadyDuration(duration)

	payload := map[string]any{
		"event":              "deployment_ready",
		"deployment_id":       id,
		"status":             "ready",
		"endpoint_url":       resolved,
		"runpod_endpoint_id": dep.RunpodEndpointID,
		"model_id":           dep.HFModelID,
		"gpu_allocated":      dep.GPUAllocated,
		"created_at":         dep.CreatedAt,
		"ready_at":           now,
		"duration_seconds":   duration,
		"usage_example": map[string]any{
			"method": "POST",
			"url":    resolved,
			"headers": map[string]string{
				"Authorization": "Bearer <YOUR_RUNPOD_API_KEY>",
			},
			"body": map[string]any{
				"input": map[string]any{
					"prompt":             "An astronaut riding a horse in photorealistic style",
					"num_inference_steps": 28,
					"guidance_scale":     3.5,
				},
			},
		},
	}

	success := e.notifier.Notify(ctx, dep.UserWebhookURL, payload, time.Duration(e.cfg.Webhook.TimeoutSeconds)*time.Second, e.cfg.Webhook.MaxRetries, id)
	if !success {
		failMsg := "User webhook delivery failed after retries"
		if err := e.store.Update(ctx, id, store.Update{Error: &failMsg}); err != nil {
			e.logger.Error("failed to record webhook failure", zap.Error(err))
		}
		e.logStep(ctx, id, "WARNING", "User webhook delivery failed after retries; deployment remains ready")
		e.bus.Publish(ctx, events.NewEvent(events.EventWebhookFailed, id, map[string]any{"url": dep.UserWebhookURL}))
	} else {
		e.bus.Publish(ctx, events.NewEvent(events.EventWebhookDelivered, id, nil))
	}
	e.bus.Publish(ctx, events.NewEvent(events.EventDeploymentReady, id, map[string]any{"duration_seconds": duration}))
	return success, nil
}

// UpdatePhaseFromWorker applies a worker-reported intermediate or terminal
// phase update, e.g. downloading_model/loading_model/failed.
func (e *Engine) UpdatePhaseFromWorker(ctx context.Context, id, status, message, endpointURL string) (bool, error) {
	dep, err := e.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if dep == nil {
		return false, nil
	}

	if status == store.StatusReady {
		return e.MarkReadyAndNotify(ctx, id, endpointURL)
	}
	if dep.Status == store.StatusReady && status != store.StatusFailed {
		return true, nil
	}

	update := store.Update{Status: &status}
	resolved := store.NormalizeRunURL(endpointURL)
	if resolved != "" {
		update.EndpointURL = &resolved
	}
	if status == store.StatusFailed {
		errMsg := message
		if errMsg == "" {
			errMsg = "Worker reported failure"
		}
		update.Error = &errMsg
	}
	if err := e.store.Update(ctx, id, update); err != nil {
		return false, err
	}

	logMessage := message
	level := "INFO"
	switch {
	case logMessage != "":
	case status == store.StatusDownloadingModel:
		logMessage = "Worker is downloading model artifacts"
	case status == store.StatusLoadingModel:
		logMessage = "Worker is loading model into memory"
	case status == store.StatusFailed:
		logMessage = "Worker reported model loading failure"
	default:
		logMessage = "Worker phase update: " + status
	}
	if status == store.StatusFailed {
		level = "ERROR"
		e.bus.Publish(ctx, events.NewEvent(events.EventDeploymentFailed, id, map[string]any{"error": logMessage}))
	}
	e.logStep(ctx, id, level, logMessage)
	return true, nil
}

// Delete tears down a deployment: best-effort provider endpoint deletion
// followed by an unconditional local status transition to deleted. apiKey is
// the caller's bearer credential, which doubles as the provider API key for
// this orchestrator's stateless auth model; it is used in place of the
// secret cache because by the time a caller deletes a ready deployment the
// cache entry has usually already been cleared on workflow completion.
// Idempotent: deleting a missing or already-deleted deployment is a no-op.
func (e *Engine) Delete(ctx context.Context, id, apiKey string) error {
	dep, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if dep == nil || dep.Status == store.StatusDeleted {
		return nil
	}

	if dep.RunpodEndpointID != "" && apiKey != "" {
		if p, ok := e.providers.Get("runpod"); ok {
			if err := p.DeleteEndpoint(ctx, dep.RunpodEndpointID, apiKey); err != nil {
				e.logger.Warn("best-effort provider teardown failed",
					zap.String("deployment_id", id), zap.String("endpoint_id", dep.RunpodEndpointID), zap.Error(err))
			}
		}
	}

	status := store.StatusDeleted
	if err := e.store.Update(ctx, id, store.Update{Status: &status}); err != nil {
		return err
	}
	e.secrets.Clear(id)
	e.bus.Publish(ctx, events.NewEvent(events.EventDeploymentDeleted, id, nil))
	return nil
}

// Resume re-dispatches the background cold-path workflow for a deployment
// that has not yet progressed past validating, serving as the equivalent
// entry point a durable task queue would call instead of the in-process
// goroutine started by Create. It is a deliberate no-op once GPU selection
// or endpoint creation has begun, since re-running the cold path past that
// point would create a second provider endpoint for the same deployment;
// cross-dispatch safety in a true queue-backed deployment comes from the
// queue's own delivery semantics plus this status guard. Returns whether it
// actually dispatched.
func (e *Engine) Resume(ctx context.Context, id string) (bool, error) {
	dep, err := e.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if dep == nil {
		return false, apierr.DeploymentNotFound(id)
	}
	if dep.Status != store.StatusValidating {
		return false, nil
	}

	secrets, _ := e.secrets.Get(id)
	req := CreateRequest{
		HFModelID:          dep.HFModelID,
		UserWebhookURL:     dep.UserWebhookURL,
		GPUTier:            dep.GPUTier,
		Region:             dep.Region,
		UserHash:           dep.UserHash,
		UserRunpodKey:      secrets.ProviderAPIKey,
		HFToken:            secrets.HFToken,
		UserAWSAccessKeyID: secrets.AWSAccessKeyID,
		UserAWSSecretKey:   secrets.AWSSecretAccessKey,
		UserAWSEndpointURL: secrets.AWSEndpointURL,
		UserS3URL:          secrets.S3ModelURL,
	}

	go e.run(context.Background(), id, req)
	return true, nil
}
