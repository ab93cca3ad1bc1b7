// Package endpointname derives deterministic provider endpoint names from a
// model id and caller identity, so a later request can discover a warm
// endpoint by recomputing the name rather than consulting a side index.
package endpointname

import "strings"

// ModelSlug turns a Hugging Face model id into a name-safe slug.
func ModelSlug(modelID string) string {
	return strings.ReplaceAll(strings.TrimSpace(modelID), "/", "--")
}

// UserScoped is the endpoint name for a caller-private deployment.
func UserScoped(userHash, modelID string) string {
	short := userHash
	if len(short) > 10 {
		short = short[:10]
	}
	return "visgate-" + short + "-" + ModelSlug(modelID)
}

// Pool is the endpoint name for a platform-shared warm pool deployment.
func Pool(modelID string) string {
	return "visgate-pool-" + ModelSlug(modelID)
}
