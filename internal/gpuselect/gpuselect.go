// Package gpuselect maps a required VRAM amount and optional tier hint to
// an ordered list of candidate GPU types on the provider, cheapest-first.
package gpuselect

import "sort"

// Spec describes one GPU type offered by the provider.
type Spec struct {
	ID          string
	DisplayName string
	VRAMGB      int
	CostIndex   int
}

// Registry is the default provider GPU catalog: seven GPU types spanning
// Ampere and Ada Lovelace generations, ordered by increasing cost.
var Registry = []Spec{
	{ID: "AMPERE_16", DisplayName: "NVIDIA A16", VRAMGB: 16, CostIndex: 1},
	{ID: "AMPERE_24", DisplayName: "NVIDIA A10/A30", VRAMGB: 24, CostIndex: 2},
	{ID: "ADA_24", DisplayName: "NVIDIA L40/RTX 4090", VRAMGB: 24, CostIndex: 3},
	{ID: "AMPERE_48", DisplayName: "NVIDIA A40", VRAMGB: 48, CostIndex: 5},
	{ID: "ADA_48_PRO", DisplayName: "NVIDIA L40S", VRAMGB: 48, CostIndex: 6},
	{ID: "AMPERE_80", DisplayName: "NVIDIA A100", VRAMGB: 80, CostIndex: 8},
	{ID: "ADA_80_PRO", DisplayName: "NVIDIA H100", VRAMGB: 80, CostIndex: 10},
}

// TierMapping maps a tier or hardware-name hint to the set of registry ids
// that satisfy it.
var TierMapping = map[string][]string{
	"ECONOMY":  {"AMPERE_16", "AMPERE_24"},
	"STANDARD": {"ADA_24", "AMPERE_24"},
	"PRO":      {"AMPERE_48", "ADA_48_PRO"},
	"ULTIMATE": {"AMPERE_80", "ADA_80_PRO"},
	"A16":      {"AMPERE_16"},
	"A10":      {"AMPERE_24"},
	"A40":      {"AMPERE_48"},
	"A100":     {"AMPERE_80"},
	"H100":     {"ADA_80_PRO"},
	"4090":     {"ADA_24"},
}

// Candidate is one entry in the ordered result of Select.
type Candidate struct {
	ID          string
	DisplayName string
}

// Select returns every registry entry with enough VRAM for requiredVRAMGB,
// ordered so that entries matching tier (if given and known) come first,
// followed by every other matching entry — both passes sorted ascending by
// (cost_index, vram_gb). Callers iterate the list on provider capacity
// errors rather than retrying a single choice.
func Select(requiredVRAMGB int, tier string, registry []Spec, tierMapping map[string][]string) []Candidate {
	if registry == nil {
		registry = Registry
	}
	if tierMapping == nil {
		tierMapping = TierMapping
	}

	sorted := make([]Spec, len(registry))
	copy(sorted, registry)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CostIndex != sorted[j].CostIndex {
			return sorted[i].CostIndex < sorted[j].CostIndex
		}
		return sorted[i].VRAMGB < sorted[j].VRAMGB
	})

	var result []Candidate
	seen := map[string]bool{}

	if tier != "" {
		if tierIDs, ok := tierMapping[tier]; ok {
			allowed := make(map[string]bool, len(tierIDs))
			for _, id := range tierIDs {
				allowed[id] = true
			}
			for _, spec := range sorted {
				if allowed[spec.ID] && spec.VRAMGB >= requiredVRAMGB {
					result = append(result, Candidate{ID: spec.ID, DisplayName: spec.DisplayName})
					seen[spec.ID] = true
				}
			}
		}
	}

	for _, spec := range sorted {
		if seen[spec.ID] {
			continue
		}
		if spec.VRAMGB >= requiredVRAMGB {
			result = append(result, Candidate{ID: spec.ID, DisplayName: spec.DisplayName})
		}
	}

	return result
}

// DisplayName looks up a registry entry's display name by id.
func DisplayName(id string, registry []Spec) string {
	if registry == nil {
		registry = Registry
	}
	for _, spec := range registry {
		if spec.ID == id {
			return spec.DisplayName
		}
	}
	return id
}
