// Package modelresolver resolves short provider/model-name aliases to
// Hugging Face model ids and estimates the GPU memory a model needs.
package modelresolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/visgate-ai/deploy-orchestrator/internal/apierr"
)

// aliasKey is (provider, name); provider "" matches any provider not found
// under a more specific key.
type aliasKey struct {
	provider string
	name     string
}

// AliasTable maps short (provider, model_name) pairs to HF ids.
var AliasTable = map[aliasKey]string{
	{provider: "fal", name: "veo3"}:  "fal-ai/veo3",
	{provider: "fal", name: "veo2"}:  "fal-ai/veo2",
	{provider: "", name: "veo3"}:     "fal-ai/veo3",
	{provider: "", name: "flux-schnell"}: "black-forest-labs/FLUX.1-schnell",
	{provider: "", name: "flux-dev"}:     "black-forest-labs/FLUX.1-dev",
	{provider: "", name: "sdxl-turbo"}:   "stabilityai/sdxl-turbo",
}

// RegistryEntry is a curated, authoritative spec for one known HF model.
type RegistryEntry struct {
	VRAMGB int
	Tasks  map[string]bool
}

// Registry is the curated VRAM/task registry. A hit here is authoritative:
// it wins over any estimate and skips the Hub existence check.
var Registry = map[string]RegistryEntry{
	"black-forest-labs/FLUX.1-schnell": {VRAMGB: 12, Tasks: map[string]bool{"text2img": true, "image2img": true}},
	"black-forest-labs/FLUX.1-dev":     {VRAMGB: 24, Tasks: map[string]bool{"text2img": true, "image2img": true}},
	"stabilityai/sdxl-turbo":           {VRAMGB: 8, Tasks: map[string]bool{"text2img": true, "image2img": true}},
}

// gpuTierSteps is the set of VRAM sizes (GB) that byte-accounting estimates
// snap up to.
var gpuTierSteps = []int{6, 8, 10, 12, 16, 24, 28, 40, 48, 80}

// conservativeDefaultVRAMGB is returned when no better signal is available.
const conservativeDefaultVRAMGB = 16

// bytesPerDtype gives the on-disk size of one parameter for dtypes commonly
// seen in safetensors metadata.
var bytesPerDtype = map[string]float64{
	"BF16": 2, "F16": 2, "F32": 4, "F64": 8,
	"I8": 1, "U8": 1, "I16": 2, "U16": 2,
	"I32": 4, "U32": 4, "I64": 8, "U64": 8,
	"F8_E4M3": 1, "F8_E5M2": 1,
}

const vramHeadroom = 1.35

// HFClient checks whether a model id exists on the Hub. Implementations
// must retry on 429 internally up to the configured attempt count and map
// not-found responses to a distinguishable error.
type HFClient interface {
	Exists(ctx context.Context, hfModelID string) error
}

// ErrHFModelNotFound is returned by an HFClient.Exists implementation when
// the Hub confirms the model id does not exist.
type ErrHFModelNotFound struct{ ModelID string }

func (e *ErrHFModelNotFound) Error() string { return fmt.Sprintf("model not found: %s", e.ModelID) }

// Resolver resolves aliases and estimates GPU memory requirements.
type Resolver struct {
	aliases  map[aliasKey]string
	registry map[string]RegistryEntry
	hf       HFClient
}

// New constructs a Resolver. hf may be nil, in which case existence checks
// for models outside the curated registry are skipped.
func New(hf HFClient) *Resolver {
	return &Resolver{aliases: AliasTable, registry: Registry, hf: hf}
}

// ResolveAlias maps a (provider, modelName) pair to an HF model id. An
// unknown combination is an *apierr.Error (400 UnknownModel).
func (r *Resolver) ResolveAlias(provider, modelName string) (string, error) {
	if id, ok := r.aliases[aliasKey{provider: provider, name: modelName}]; ok {
		return id, nil
	}
	if id, ok := r.aliases[aliasKey{provider: "", name: modelName}]; ok {
		return id, nil
	}
	return "", apierr.UnknownModel(modelName, provider)
}

// CheckExists validates that hfModelID exists on the Hub, when an HFClient
// was configured and the model is not already in the curated registry (a
// registry hit is authoritative and needs no network round trip).
func (r *Resolver) CheckExists(ctx context.Context, hfModelID string) error {
	if _, ok := r.registry[hfModelID]; ok {
		return nil
	}
	if r.hf == nil {
		return nil
	}
	if err := r.hf.Exists(ctx, hfModelID); err != nil {
		var notFound *ErrHFModelNotFound
		if asErrHFModelNotFound(err, &notFound) {
			return apierr.HFModelNotFound(hfModelID)
		}
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "404") || strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist") {
			return apierr.HFModelNotFound(hfModelID)
		}
		return apierr.Internal(fmt.Sprintf("hugging face existence check failed: %v", err))
	}
	return nil
}

func asErrHFModelNotFound(err error, target **ErrHFModelNotFound) bool {
	if nf, ok := err.(*ErrHFModelNotFound); ok {
		*target = nf
		return true
	}
	return false
}

// CheckTask validates that hfModelID supports task, when both are known. A
// registry miss is treated as "assume compatible" rather than an error.
func (r *Resolver) CheckTask(hfModelID, task string) error {
	if task == "" {
		return nil
	}
	entry, ok := r.registry[hfModelID]
	if !ok {
		return nil
	}
	if !entry.Tasks[task] {
		return apierr.InvalidDeploymentRequest(fmt.Sprintf("model %s does not support task %s", hfModelID, task))
	}
	return nil
}

// SafetensorsParam is one entry of a safetensors metadata parameter count
// broken down by storage dtype.
type SafetensorsParam struct {
	Dtype string
	Count int64
}

// EstimateVRAMGB computes the minimum GPU memory, in whole GB, needed to
// serve hfModelID, per the priority chain: curated registry, safetensors
// byte-accounting, parameter-count heuristic, conservative default.
func (r *Resolver) EstimateVRAMGB(hfModelID string, params []SafetensorsParam, totalParams int64) int {
	if entry, ok := r.registry[hfModelID]; ok {
		return entry.VRAMGB
	}
	if len(params) > 0 {
		return estimateFromSafetensors(params)
	}
	if totalParams > 0 {
		return estimateFromParamCount(totalParams)
	}
	return conservativeDefaultVRAMGB
}

func estimateFromSafetensors(params []SafetensorsParam) int {
	var totalBytes float64
	for _, p := range params {
		perParam, ok := bytesPerDtype[strings.ToUpper(p.Dtype)]
		if !ok {
			perParam = 2 // unknown dtype: assume half precision
		}
		totalBytes += float64(p.Count) * perParam
	}
	gb := (totalBytes * vramHeadroom) / (1024 * 1024 * 1024)
	return snapToTier(gb)
}

func snapToTier(gb float64) int {
	for _, step := range gpuTierSteps {
		if float64(step) >= gb {
			return step
		}
	}
	return gpuTierSteps[len(gpuTierSteps)-1]
}

// estimateFromParamCount is a coarser piecewise table used when only a
// total parameter count is known (no per-tensor dtype breakdown).
func estimateFromParamCount(totalParams int64) int {
	const billion = 1_000_000_000
	switch {
	case totalParams <= 1*billion:
		return 8
	case totalParams <= 3*billion:
		return 12
	case totalParams <= 7*billion:
		return 16
	case totalParams <= 13*billion:
		return 24
	case totalParams <= 34*billion:
		return 40
	case totalParams <= 70*billion:
		return 48
	default:
		return 80
	}
}
