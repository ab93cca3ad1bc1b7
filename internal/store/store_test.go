package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRunURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://api.runpod.ai/v2/xyz", "https://api.runpod.ai/v2/xyz/run"},
		{"https://api.runpod.ai/v2/xyz/", "https://api.runpod.ai/v2/xyz/run"},
		{"https://api.runpod.ai/v2/xyz/run", "https://api.runpod.ai/v2/xyz/run"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeRunURL(tt.in), tt.in)
	}
}

func TestGenerateID(t *testing.T) {
	now := time.Date(2026, time.August, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "dep_2026_deadbeef", GenerateID(now, "deadbeef"))
}

func TestIsTerminal(t *testing.T) {
	for _, status := range []string{StatusReady, StatusFailed, StatusWebhookFailed, StatusDeleted} {
		assert.True(t, IsTerminal(status), status)
	}
	for _, status := range []string{StatusValidating, StatusSelectingGPU, StatusCreatingEndpoint, StatusDownloadingModel, StatusLoadingModel, ""} {
		assert.False(t, IsTerminal(status), status)
	}
}
