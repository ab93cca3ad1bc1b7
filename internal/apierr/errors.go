// Package apierr defines the orchestrator's typed error taxonomy.
//
// Every error carries an HTTP status code, a stable error code used as the
// `error` field in API responses, and a details map for machine-readable
// context (required VRAM, webhook URL, etc).
package apierr

import "fmt"

// Error is the base type every orchestrator error embeds.
type Error struct {
	Message    string
	StatusCode int
	Code       string
	Details    map[string]any
}

func (e *Error) Error() string { return e.Message }

func newErr(message string, statusCode int, code string, details map[string]any) *Error {
	if details == nil {
		details = map[string]any{}
	}
	return &Error{Message: message, StatusCode: statusCode, Code: code, Details: details}
}

func InvalidDeploymentRequest(message string) *Error {
	return newErr(message, 400, "InvalidDeploymentRequest", nil)
}

func Unauthorized(message string) *Error {
	if message == "" {
		message = "Invalid or missing API key"
	}
	return newErr(message, 401, "Unauthorized", nil)
}

func DeploymentNotFound(deploymentID string) *Error {
	return newErr(fmt.Sprintf("Deployment not found: %s", deploymentID), 404, "DeploymentNotFound",
		map[string]any{"deployment_id": deploymentID})
}

func HFModelNotFound(modelID string) *Error {
	return newErr(fmt.Sprintf("Hugging Face model not found: %s", modelID), 404, "HFModelNotFound",
		map[string]any{"hf_model_id": modelID})
}

func UnknownModel(modelName, provider string) *Error {
	return newErr(fmt.Sprintf("Unknown model: %s (provider=%s)", modelName, provider), 400, "UnknownModel",
		map[string]any{"model_name": modelName, "provider": provider})
}

func InsufficientGPU(requiredVRAMGB int) *Error {
	return newErr(fmt.Sprintf("No GPU with sufficient VRAM (required >= %d GB)", requiredVRAMGB), 503, "InsufficientGPU",
		map[string]any{"required_vram_gb": requiredVRAMGB})
}

// ProviderAPIError wraps a failure from the GPU-serverless provider. IsCapacity
// flags whether the message matched the capacity-error heuristic, which the
// orchestration engine uses to decide whether to rotate to the next GPU
// candidate rather than fail the deployment outright.
type ProviderAPIError struct {
	*Error
	IsCapacity bool
}

func NewProviderAPIError(message string, isCapacity bool) *ProviderAPIError {
	return &ProviderAPIError{
		Error:      newErr(message, 502, "ProviderAPIError", map[string]any{"is_capacity": isCapacity}),
		IsCapacity: isCapacity,
	}
}

func WebhookDeliveryError(url string) *Error {
	return newErr(fmt.Sprintf("Webhook delivery failed after retries: %s", url), 502, "WebhookDeliveryError",
		map[string]any{"webhook_url": url})
}

func RateLimited(retryAfterSeconds int) *Error {
	return newErr("Rate limit exceeded. Try again later.", 429, "RateLimited",
		map[string]any{"retry_after_seconds": retryAfterSeconds})
}

func Internal(message string) *Error {
	return newErr(message, 500, "Internal", nil)
}
