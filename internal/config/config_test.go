package config

import (
	"os"
	"testing"

	"go.uber.org/zap"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg := Load(zap.NewNop())
	if cfg.InferenceMaxRetries != 3 {
		t.Fatalf("InferenceMaxRetries = %d, want 3", cfg.InferenceMaxRetries)
	}
	if cfg.AgentMaxToolRounds != 20 {
		t.Fatalf("AgentMaxToolRounds = %d, want 20", cfg.AgentMaxToolRounds)
	}
	if cfg.ShellyDedupCapacity != 256 {
		t.Fatalf("ShellyDedupCapacity = %d, want 256", cfg.ShellyDedupCapacity)
	}
	if cfg.ShellyMaxPayloadBytes != 65536 {
		t.Fatalf("ShellyMaxPayloadBytes = %d, want 65536", cfg.ShellyMaxPayloadBytes)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("INFERENCE_MAX_RETRIES", "7")
	t.Setenv("AGENT_MAX_TOOL_ROUNDS", "5")
	t.Setenv("SHELLY_LISTEN_ADDR", "127.0.0.1:9000")

	cfg := Load(zap.NewNop())
	if cfg.InferenceMaxRetries != 7 {
		t.Fatalf("InferenceMaxRetries = %d, want 7", cfg.InferenceMaxRetries)
	}
	if cfg.AgentMaxToolRounds != 5 {
		t.Fatalf("AgentMaxToolRounds = %d, want 5", cfg.AgentMaxToolRounds)
	}
	if cfg.ShellyListenAddr != "127.0.0.1:9000" {
		t.Fatalf("ShellyListenAddr = %q, want 127.0.0.1:9000", cfg.ShellyListenAddr)
	}
}

func TestLoadFallsBackOnUnparseableInt(t *testing.T) {
	clearEnv(t)
	t.Setenv("INFERENCE_MAX_RETRIES", "not-a-number")

	cfg := Load(zap.NewNop())
	if cfg.InferenceMaxRetries != 3 {
		t.Fatalf("InferenceMaxRetries = %d, want fallback default 3", cfg.InferenceMaxRetries)
	}
}

func TestLoadOptionalSamplingParamsAbsentByDefault(t *testing.T) {
	clearEnv(t)
	cfg := Load(zap.NewNop())
	if cfg.InferenceTemperature != nil {
		t.Fatalf("InferenceTemperature = %v, want nil", cfg.InferenceTemperature)
	}
	if cfg.InferenceTopP != nil {
		t.Fatalf("InferenceTopP = %v, want nil", cfg.InferenceTopP)
	}
}
