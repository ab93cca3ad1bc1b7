package modelresolver

import (
	"context"
	"errors"
	"testing"
)

type fakeHF struct {
	err error
}

func (f *fakeHF) Exists(ctx context.Context, hfModelID string) error { return f.err }

func TestResolveAliasProviderSpecificWins(t *testing.T) {
	r := New(nil)
	id, err := r.ResolveAlias("fal", "veo3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "fal-ai/veo3" {
		t.Fatalf("expected fal-ai/veo3, got %s", id)
	}
}

func TestResolveAliasFallsBackToProviderlessEntry(t *testing.T) {
	r := New(nil)
	id, err := r.ResolveAlias("someOtherProvider", "flux-schnell")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "black-forest-labs/FLUX.1-schnell" {
		t.Fatalf("unexpected id: %s", id)
	}
}

func TestResolveAliasUnknownIsInvalidRequest(t *testing.T) {
	r := New(nil)
	_, err := r.ResolveAlias("fal", "nonexistent")
	if err == nil {
		t.Fatal("expected an error for unknown alias")
	}
}

func TestEstimateVRAMRegistryAlwaysWins(t *testing.T) {
	r := New(nil)
	got := r.EstimateVRAMGB("black-forest-labs/FLUX.1-schnell", []SafetensorsParam{{Dtype: "F32", Count: 1_000_000_000}}, 999_000_000_000)
	if got != 12 {
		t.Fatalf("expected registry value 12, got %d", got)
	}
}

func TestEstimateVRAMFromSafetensorsSnapsUpToTier(t *testing.T) {
	r := New(nil)
	// 7 billion params at F16 (2 bytes) = 14GB raw; *1.35 headroom = ~18.9GB -> snaps to 24.
	got := r.EstimateVRAMGB("unknown/model", []SafetensorsParam{{Dtype: "F16", Count: 7_000_000_000}}, 0)
	if got != 24 {
		t.Fatalf("expected snap to 24GB tier, got %d", got)
	}
}

func TestEstimateVRAMFromParamCountHeuristic(t *testing.T) {
	r := New(nil)
	got := r.EstimateVRAMGB("unknown/model", nil, 13_000_000_000)
	if got != 24 {
		t.Fatalf("expected 24GB for 13B params, got %d", got)
	}
}

func TestEstimateVRAMConservativeDefault(t *testing.T) {
	r := New(nil)
	got := r.EstimateVRAMGB("unknown/model", nil, 0)
	if got != 16 {
		t.Fatalf("expected conservative default 16GB, got %d", got)
	}
}

func TestCheckExistsSkipsRegistryHits(t *testing.T) {
	r := New(&fakeHF{err: errors.New("should not be called")})
	if err := r.CheckExists(context.Background(), "black-forest-labs/FLUX.1-schnell"); err != nil {
		t.Fatalf("registry hit should short-circuit the HF client: %v", err)
	}
}

func TestCheckExistsMapsNotFound(t *testing.T) {
	r := New(&fakeHF{err: &ErrHFModelNotFound{ModelID: "nope/nope"}})
	err := r.CheckExists(context.Background(), "nope/nope")
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestCheckExistsNilClientSkipsValidation(t *testing.T) {
	r := New(nil)
	if err := r.CheckExists(context.Background(), "anything/goes"); err != nil {
		t.Fatalf("nil HF client should skip validation: %v", err)
	}
}

func TestCheckTaskRegistryMissAssumesCompatible(t *testing.T) {
	r := New(nil)
	if err := r.CheckTask("unknown/model", "text2video"); err != nil {
		t.Fatalf("registry miss should assume compatible: %v", err)
	}
}

func TestCheckTaskRegistryHitRejectsUnsupportedTask(t *testing.T) {
	r := New(nil)
	if err := r.CheckTask("black-forest-labs/FLUX.1-schnell", "text2video"); err == nil {
		t.Fatal("expected task mismatch to be rejected")
	}
}
