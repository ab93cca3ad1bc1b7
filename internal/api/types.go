package api

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/visgate-ai/deploy-orchestrator/internal/store"
)

// deploymentCreateRequest is the POST /v1/deployments body. Either HFModelID
// or ModelName (+ optional Provider) must be set; the handler resolves the
// latter pair to a Hugging Face id via modelresolver before dispatching.
type deploymentCreateRequest struct {
	HFModelID               string `json:"hf_model_id"`
	ModelName               string `json:"model_name"`
	Provider                string `json:"provider"`
	UserRunpodKey           string `json:"user_runpod_key"`
	UserWebhookURL          string `json:"user_webhook_url"`
	GPUTier                 string `json:"gpu_tier"`
	HFToken                 string `json:"hf_token"`
	Region                  string `json:"region"`
	Task                    string `json:"task"`
	CacheScope              string `json:"cache_scope"`
	UserS3URL               string `json:"user_s3_url"`
	UserAWSAccessKeyID      string `json:"user_aws_access_key_id"`
	UserAWSSecretAccessKey  string `json:"user_aws_secret_access_key"`
	UserAWSEndpointURL      string `json:"user_aws_endpoint_url"`
}

var validTasks = map[string]bool{"": true, "text2img": true, "image2img": true, "text2video": true}
var validCacheScopes = map[string]bool{"": true, "off": true, "shared": true, "private": true}

// validate applies the request's field-shape checks: at least one of
// hf_model_id/model_name must be present, and user_webhook_url must be a
// well-formed absolute HTTP(S) URL.
func (r *deploymentCreateRequest) validate() error {
	if r.HFModelID == "" && r.ModelName == "" {
		return fmt.Errorf("either hf_model_id or model_name must be set")
	}
	if r.HFModelID != "" && len(r.HFModelID) > 256 {
		return fmt.Errorf("hf_model_id exceeds maximum length")
	}
	if r.ModelName != "" && len(r.ModelName) > 128 {
		return fmt.Errorf("model_name exceeds maximum length")
	}
	if r.UserWebhookURL == "" {
		return fmt.Errorf("user_webhook_url is required")
	}
	u, err := url.Parse(r.UserWebhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("user_webhook_url must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("user_webhook_url must use http or https")
	}
	if !validTasks[r.Task] {
		return fmt.Errorf("task must be one of text2img, image2img, text2video")
	}
	if !validCacheScopes[r.CacheScope] {
		return fmt.Errorf("cache_scope must be one of off, shared, private")
	}
	if r.CacheScope == "private" && r.UserS3URL == "" {
		return fmt.Errorf("user_s3_url is required when cache_scope=private")
	}
	return nil
}

// deploymentResponse202 is the POST /v1/deployments response body.
type deploymentResponse202 struct {
	DeploymentID          string    `json:"deployment_id"`
	Status                string    `json:"status"`
	ModelID               string    `json:"model_id"`
	EstimatedReadySeconds int       `json:"estimated_ready_seconds"`
	EstimatedReadyAt      time.Time `json:"estimated_ready_at"`
	PollIntervalSeconds   int       `json:"poll_interval_seconds"`
	StreamURL             string    `json:"stream_url"`
	WebhookURL            string    `json:"webhook_url"`
	EndpointURL           string    `json:"endpoint_url,omitempty"`
	Path                  string    `json:"path"`
	CreatedAt             time.Time `json:"created_at"`
}

type logEntryResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// deploymentResponse is the GET /v1/deployments/{id} response body.
type deploymentResponse struct {
	DeploymentID               string             `json:"deployment_id"`
	Status                     string             `json:"status"`
	RunpodEndpointID           string             `json:"runpod_endpoint_id,omitempty"`
	EndpointURL                string             `json:"endpoint_url,omitempty"`
	GPUAllocated               string             `json:"gpu_allocated,omitempty"`
	ModelVRAMGB                int                `json:"model_vram_gb,omitempty"`
	Logs                       []logEntryResponse `json:"logs"`
	Error                      string             `json:"error,omitempty"`
	EstimatedRemainingSeconds  *int               `json:"estimated_remaining_seconds,omitempty"`
	CreatedAt                  time.Time          `json:"created_at"`
	ReadyAt                    *time.Time         `json:"ready_at,omitempty"`
}

func toDeploymentResponse(d *store.Deployment) deploymentResponse {
	logs := make([]logEntryResponse, 0, len(d.Logs))
	for _, l := range d.Logs {
		logs = append(logs, logEntryResponse{Timestamp: l.Timestamp, Level: l.Level, Message: l.Message})
	}
	resp := deploymentResponse{
		DeploymentID:     d.DeploymentID,
		Status:           d.Status,
		RunpodEndpointID: d.RunpodEndpointID,
		EndpointURL:      d.EndpointURL,
		GPUAllocated:     d.GPUAllocated,
		ModelVRAMGB:      d.ModelVRAMGB,
		Logs:             logs,
		Error:            d.Error,
		CreatedAt:        d.CreatedAt,
		ReadyAt:          d.ReadyAt,
	}
	if !store.IsTerminal(d.Status) {
		remaining := estimatedRemainingSeconds(d)
		resp.EstimatedRemainingSeconds = &remaining
	}
	return resp
}

// statusRemainingSeconds maps each non-terminal status to its nominal
// remaining-time estimate.
var statusRemainingSeconds = map[string]int{
	store.StatusValidating:        20,
	store.StatusSelectingGPU:      15,
	store.StatusCreatingEndpoint:  120,
	store.StatusDownloadingModel:  90,
	store.StatusLoadingModel:      45,
}

// estimatedRemainingSeconds looks up the nominal remaining-time estimate for
// the deployment's current status, falling back to the "unknown" default for
// any status outside the known set.
func estimatedRemainingSeconds(d *store.Deployment) int {
	if remaining, ok := statusRemainingSeconds[d.Status]; ok {
		return remaining
	}
	return 60
}

// deploymentReadyPayload is the body workers POST to
// /internal/deployment-ready/{deployment_id}.
type deploymentReadyPayload struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	EndpointURL string `json:"endpoint_url"`
}

var validWorkerStatuses = map[string]bool{
	"":                        true,
	store.StatusDownloadingModel: true,
	store.StatusLoadingModel:     true,
	store.StatusReady:            true,
	store.StatusFailed:           true,
}

func (p *deploymentReadyPayload) normalize() {
	if p.Status == "" {
		p.Status = store.StatusReady
	}
}

func (p *deploymentReadyPayload) validate() error {
	if !validWorkerStatuses[p.Status] {
		return fmt.Errorf("status must be one of downloading_model, loading_model, ready, failed")
	}
	return nil
}

func trimmedLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
