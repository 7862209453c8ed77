package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/provider/orchestrator"
)

const providersYAML = `
strategy: priority_list
providers:
  - id: deepgram
    type: stt
    priority: 1
    capabilities: [streaming, diarization]
    health_check:
      url: https://deepgram.test/health
      headers:
        Authorization: Token ${TEST_DEEPGRAM_KEY}
  - id: assemblyai
    type: stt
    priority: 2
    weight: 3
  - id: whisper
    type: stt
    priority: 3
    enabled: false
    health_check:
      url: https://whisper.test/health
      method: HEAD
`

func writeProviders(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("VOXGATE_PROVIDERS_FILE", path)
	return path
}

func TestLoad_Defaults(t *testing.T) {
	writeProviders(t, providersYAML)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 30*time.Second, cfg.Health.CheckInterval)
	assert.Equal(t, 3, cfg.Health.MaxConsecutiveFailures)
	assert.Equal(t, 256, cfg.Events.QueueSize)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.PubSub.Enabled())

	assert.Equal(t, orchestrator.StrategyPriorityList, cfg.Orchestrator.Strategy, "file strategy wins")
	assert.Equal(t, 5, cfg.Orchestrator.CircuitBreaker.FailureThreshold)
	require.Len(t, cfg.Orchestrator.Preferences, 3)
	assert.Equal(t, orchestrator.ProviderPreference{
		ProviderID:   "deepgram",
		ProviderType: "stt",
		Priority:     1,
		Weight:       1,
		Enabled:      true,
		Capabilities: []string{"streaming", "diarization"},
	}, cfg.Orchestrator.Preferences[0])
	assert.Equal(t, 3.0, cfg.Orchestrator.Preferences[1].Weight)
	assert.False(t, cfg.Orchestrator.Preferences[2].Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	writeProviders(t, providersYAML)
	t.Setenv("VOXGATE_PORT", "9090")
	t.Setenv("VOXGATE_HEALTH_CHECK_INTERVAL", "5s")
	t.Setenv("VOXGATE_BREAKER_FAILURE_THRESHOLD", "2")
	t.Setenv("VOXGATE_AUTO_FAILOVER", "false")
	t.Setenv("VOXGATE_MIN_HEALTH_SCORE", "85.5")
	t.Setenv("VOXGATE_DB_ENABLED", "true")
	t.Setenv("VOXGATE_PUBSUB_PROJECT", "voxgate-prod")
	t.Setenv("VOXGATE_PUBSUB_EVENTS_TOPIC", "provider-switches")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Health.CheckInterval)
	assert.Equal(t, 2, cfg.Orchestrator.CircuitBreaker.FailureThreshold)
	assert.False(t, cfg.Orchestrator.AutoFailover)
	assert.Equal(t, 85.5, cfg.Orchestrator.MinProviderHealthScore)
	assert.True(t, cfg.Database.Enabled)
	assert.True(t, cfg.PubSub.Enabled())
}

func TestLoad_MalformedValues(t *testing.T) {
	writeProviders(t, providersYAML)
	t.Setenv("VOXGATE_HEALTH_TIMEOUT", "ten seconds")
	t.Setenv("VOXGATE_AUTO_FAILOVER", "maybe")

	_, err := config.Load()
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "VOXGATE_HEALTH_TIMEOUT")
	assert.Contains(t, err.Error(), "VOXGATE_AUTO_FAILOVER")
}

func TestLoad_InvalidComponentConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown strategy", map[string]string{"VOXGATE_STRATEGY": "fastest"}},
		{"zero check interval", map[string]string{"VOXGATE_HEALTH_CHECK_INTERVAL": "0s"}},
		{"warning above error", map[string]string{"VOXGATE_HEALTH_LATENCY_WARNING": "5s"}},
		{"production without signing key", map[string]string{"VOXGATE_ENV": "production"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeProviders(t, "providers:\n  - id: deepgram\n")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingProvidersFile(t *testing.T) {
	t.Setenv("VOXGATE_PROVIDERS_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := config.Load()
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestParseProviderFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"no providers", "strategy: random\n"},
		{"missing id", "providers:\n  - type: stt\n"},
		{"unknown key", "providers:\n  - id: deepgram\n    region: eu\n"},
		{"not yaml", "providers: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.ParseProviderFile([]byte(tt.body))
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestTargets(t *testing.T) {
	t.Setenv("TEST_DEEPGRAM_KEY", "secret")

	file, err := config.ParseProviderFile([]byte(providersYAML))
	require.NoError(t, err)
	assert.Equal(t, "Token secret", file.Providers[0].HealthCheck.Headers["Authorization"])

	targets, skipped := config.Targets(file.Providers)

	require.Len(t, targets, 2)
	assert.Equal(t, "deepgram", targets[0].ProviderID)
	assert.True(t, targets[0].Enabled)
	assert.NotNil(t, targets[0].Prober)
	assert.Equal(t, "whisper", targets[1].ProviderID)
	assert.False(t, targets[1].Enabled)
	assert.Equal(t, []string{"assemblyai"}, skipped)
}

func TestLoadProviderFile_RepositorySample(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "dg-secret")

	file, err := config.LoadProviderFile(filepath.Join("..", "..", "providers.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "best_performance", file.Strategy)
	require.Len(t, file.Providers, 4)
	assert.Equal(t, "Token dg-secret", file.Providers[0].HealthCheck.Headers["Authorization"])
	assert.False(t, file.Providers[3].IsEnabled())
	assert.Equal(t, 2.0, file.Providers[2].EffectiveWeight())

	targets, skipped := config.Targets(file.Providers)
	assert.Len(t, targets, 3)
	assert.Equal(t, []string{"azure-speech"}, skipped)
}
