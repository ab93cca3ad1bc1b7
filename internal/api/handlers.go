package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visgate-ai/deploy-orchestrator/internal/apierr"
	"github.com/visgate-ai/deploy-orchestrator/internal/orchestrator"
	"github.com/visgate-ai/deploy-orchestrator/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeAPIError projects the orchestrator's typed error taxonomy onto the
// HTTP response, falling back to a generic 500 for anything that isn't one
// of apierr's constructors.
func writeAPIError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *apierr.ProviderAPIError:
		writeJSON(w, e.StatusCode, errorBody{Error: e.Code, Message: e.Message, Details: e.Details})
	case *apierr.Error:
		writeJSON(w, e.StatusCode, errorBody{Error: e.Code, Message: e.Message, Details: e.Details})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal", Message: err.Error()})
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfterSeconds int) {
	w.Header().Set("Retry-After", itoa(retryAfterSeconds))
	writeAPIError(w, apierr.RateLimited(retryAfterSeconds))
}

func itoa(n int) string {
	if n <= 0 {
		return "1"
	}
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// handleHealth is the liveness probe: the process is up, no dependency check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness reports per-dependency health.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	deps := map[string]bool{}
	if s.depsHealth != nil {
		deps = s.depsHealth()
	}
	healthy := true
	for _, ok := range deps {
		if !ok {
			healthy = false
			break
		}
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"status": map[bool]string{true: "ready", false: "not_ready"}[healthy], "dependencies": deps})
}

// handleCreate accepts POST /v1/deployments, resolving model_name+provider
// to a Hugging Face id when hf_model_id wasn't supplied directly.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body deploymentCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, apierr.InvalidDeploymentRequest("malformed JSON body"))
		return
	}
	if err := body.validate(); err != nil {
		writeAPIError(w, apierr.InvalidDeploymentRequest(err.Error()))
		return
	}

	hfModelID := body.HFModelID
	if hfModelID == "" {
		resolved, err := s.resolver.ResolveAlias(trimmedLower(body.Provider), body.ModelName)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		hfModelID = resolved
	}

	runpodKey := body.UserRunpodKey
	if runpodKey == "" {
		runpodKey = providerKeyFrom(r)
	}

	req := orchestrator.CreateRequest{
		HFModelID:          hfModelID,
		UserWebhookURL:     body.UserWebhookURL,
		GPUTier:            body.GPUTier,
		Region:             body.Region,
		UserRunpodKey:      runpodKey,
		HFToken:            body.HFToken,
		Task:               body.Task,
		CacheScope:         body.CacheScope,
		UserS3URL:          body.UserS3URL,
		UserAWSAccessKeyID: body.UserAWSAccessKeyID,
		UserAWSSecretKey:   body.UserAWSSecretAccessKey,
		UserAWSEndpointURL: body.UserAWSEndpointURL,
		UserHash:           userHashFrom(r),
	}

	result, err := s.engine.Create(r.Context(), req)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, deploymentResponse202{
		DeploymentID:          result.DeploymentID,
		Status:                result.Status,
		ModelID:               result.ModelID,
		EstimatedReadySeconds: result.EstimatedReadySeconds,
		EstimatedReadyAt:      result.CreatedAt.Add(time.Duration(result.EstimatedReadySeconds) * time.Second),
		PollIntervalSeconds:   result.PollIntervalSeconds,
		StreamURL:             result.StreamURL,
		WebhookURL:            result.WebhookURL,
		EndpointURL:           result.EndpointURL,
		Path:                  result.Path,
		CreatedAt:             result.CreatedAt,
	})
}

// handleGet serves GET /v1/deployments/{id}. A tenancy mismatch is reported
// identically to a missing record: never 403, per the no-enumeration
// invariant.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dep, err := s.loadOwned(r, id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeploymentResponse(dep))
}

// handleDelete serves DELETE /v1/deployments/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.loadOwned(r, id); err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.engine.Delete(r.Context(), id, providerKeyFrom(r)); err != nil {
		writeAPIError(w, apierr.Internal(err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadOwned fetches a deployment and enforces that it belongs to the
// requesting user_hash, returning apierr.DeploymentNotFound for either a
// missing record or a tenancy mismatch.
func (s *Server) loadOwned(r *http.Request, id string) (*store.Deployment, error) {
	dep, err := s.store.Get(r.Context(), id)
	if err != nil {
		return nil, apierr.Internal(err.Error())
	}
	if dep == nil || dep.UserHash != userHashFrom(r) {
		return nil, apierr.DeploymentNotFound(id)
	}
	return dep, nil
}

// handleWorkerReady is POST /internal/deployment-ready/{id}, the worker's
// readiness callback.
func (s *Server) handleWorkerReady(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body deploymentReadyPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, apierr.InvalidDeploymentRequest("malformed JSON body"))
		return
	}
	body.normalize()
	if err := body.validate(); err != nil {
		writeAPIError(w, apierr.InvalidDeploymentRequest(err.Error()))
		return
	}

	found, err := s.engine.UpdatePhaseFromWorker(r.Context(), id, body.Status, body.Message, body.EndpointURL)
	if err != nil {
		writeAPIError(w, apierr.Internal(err.Error()))
		return
	}
	if !found {
		writeAPIError(w, apierr.DeploymentNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

type workerLogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// handleWorkerLogs is POST /internal/logs/{id}: live log lines land in the
// process-local ring buffer, not the durable store — they are a best-effort
// tail for SSE subscribers, while the durable history stays in the record's
// logs column.
func (s *Server) handleWorkerLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body workerLogPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, apierr.InvalidDeploymentRequest("malformed JSON body"))
		return
	}
	if body.Level == "" {
		body.Level = "INFO"
	}
	s.logs.Append(id, body.Level, body.Message)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// handleWorkerCleanup is POST /internal/cleanup/{id}: the worker's
// self-reported idle/failure teardown. The request carries no caller
// credential, so Engine.Delete gets an empty API key: the record is marked
// deleted, but the provider endpoint itself is not deleted.
func (s *Server) handleWorkerCleanup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dep, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeAPIError(w, apierr.Internal(err.Error()))
		return
	}
	if dep == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_gone"})
		return
	}
	if err := s.engine.Delete(r.Context(), id, ""); err != nil {
		writeAPIError(w, apierr.Internal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned_up"})
}

type taskTriggerPayload struct {
	DeploymentID string `json:"deployment_id"`
}

// handleTaskTrigger is POST /internal/tasks/orchestrate-deployment, the
// trampoline a durable task queue would call in place of Create's in-process
// goroutine dispatch.
func (s *Server) handleTaskTrigger(w http.ResponseWriter, r *http.Request) {
	var body taskTriggerPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DeploymentID == "" {
		writeAPIError(w, apierr.InvalidDeploymentRequest("deployment_id is required"))
		return
	}
	started, err := s.engine.Resume(r.Context(), body.DeploymentID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"dispatched": started})
}
