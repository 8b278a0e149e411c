// Package config loads the daemon's environment-variable configuration,
// grounded on the teacher's internal/infrastructure/config package's use
// of viper, trimmed to a flat set of env vars (spec.md §6) instead of a
// layered YAML file hierarchy — this daemon has no on-disk config file.
package config

import (
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config bundles every INFERENCE_*, AGENT_*, and SHELLY_* environment
// variable spec.md §6 and SPEC_FULL.md §2 name.
type Config struct {
	InferenceEndpoint    string
	InferenceAPIKey      string
	InferenceModel       string
	InferenceMaxRetries  int
	InferenceRetryDelay  time.Duration
	InferenceTimeout     time.Duration
	InferenceMaxTokens   int
	InferenceTemperature *float64
	InferenceTopP        *float64
	InferenceTopK        *int

	AgentMaxToolRounds   int
	AgentInitTimeout     time.Duration
	AgentShutdownTimeout time.Duration
	AgentHandleTimeout   time.Duration

	ShellyListenAddr      string
	ShellyDedupCapacity   int
	ShellyDedupTTL        time.Duration
	ShellyDedupSweep      time.Duration
	ShellyMaxPayloadBytes int
	ShellyQueueCapacity   int
}

// envVars lists every bound name, for setDefaults/bindAll to iterate.
var envVars = []string{
	"INFERENCE_ENDPOINT", "INFERENCE_API_KEY", "INFERENCE_MODEL",
	"INFERENCE_MAX_RETRIES", "INFERENCE_RETRY_DELAY_MS", "INFERENCE_TIMEOUT_SECS",
	"INFERENCE_MAX_TOKENS", "INFERENCE_TEMPERATURE", "INFERENCE_TOP_P", "INFERENCE_TOP_K",
	"AGENT_MAX_TOOL_ROUNDS", "AGENT_INIT_TIMEOUT_SECS", "AGENT_SHUTDOWN_TIMEOUT_SECS",
	"AGENT_HANDLE_TIMEOUT_SECS",
	"SHELLY_LISTEN_ADDR", "SHELLY_DEDUP_CAPACITY", "SHELLY_DEDUP_TTL_SECS",
	"SHELLY_DEDUP_SWEEP_SECS", "SHELLY_MAX_PAYLOAD_BYTES", "SHELLY_QUEUE_CAPACITY",
}

// Load reads the process environment into a Config, applying spec.md §6's
// documented defaults and logging a warning (rather than failing) for any
// value present but not parseable as its declared type.
func Load(logger *zap.Logger) *Config {
	v := viper.New()
	v.SetDefault("INFERENCE_MAX_RETRIES", 3)
	v.SetDefault("INFERENCE_RETRY_DELAY_MS", 1000)
	v.SetDefault("INFERENCE_TIMEOUT_SECS", 120)
	v.SetDefault("INFERENCE_MAX_TOKENS", 4096)
	v.SetDefault("AGENT_MAX_TOOL_ROUNDS", 20)
	v.SetDefault("AGENT_INIT_TIMEOUT_SECS", 120)
	v.SetDefault("AGENT_SHUTDOWN_TIMEOUT_SECS", 30)
	v.SetDefault("AGENT_HANDLE_TIMEOUT_SECS", 300)
	v.SetDefault("SHELLY_LISTEN_ADDR", "0.0.0.0:7777")
	v.SetDefault("SHELLY_DEDUP_CAPACITY", 256)
	v.SetDefault("SHELLY_DEDUP_TTL_SECS", 300)
	v.SetDefault("SHELLY_DEDUP_SWEEP_SECS", 30)
	v.SetDefault("SHELLY_MAX_PAYLOAD_BYTES", 65536)
	v.SetDefault("SHELLY_QUEUE_CAPACITY", 1024)

	for _, name := range envVars {
		_ = v.BindEnv(name)
	}

	cfg := &Config{
		InferenceEndpoint:     v.GetString("INFERENCE_ENDPOINT"),
		InferenceAPIKey:       v.GetString("INFERENCE_API_KEY"),
		InferenceModel:        v.GetString("INFERENCE_MODEL"),
		InferenceMaxRetries:   getIntOrDefault(v, logger, "INFERENCE_MAX_RETRIES", 3),
		InferenceRetryDelay:   time.Duration(getIntOrDefault(v, logger, "INFERENCE_RETRY_DELAY_MS", 1000)) * time.Millisecond,
		InferenceTimeout:      time.Duration(getIntOrDefault(v, logger, "INFERENCE_TIMEOUT_SECS", 120)) * time.Second,
		InferenceMaxTokens:    getIntOrDefault(v, logger, "INFERENCE_MAX_TOKENS", 4096),
		InferenceTemperature:  getOptionalFloat(v, logger, "INFERENCE_TEMPERATURE"),
		InferenceTopP:         getOptionalFloat(v, logger, "INFERENCE_TOP_P"),
		InferenceTopK:         getOptionalInt(v, logger, "INFERENCE_TOP_K"),

		AgentMaxToolRounds:   getIntOrDefault(v, logger, "AGENT_MAX_TOOL_ROUNDS", 20),
		AgentInitTimeout:     time.Duration(getIntOrDefault(v, logger, "AGENT_INIT_TIMEOUT_SECS", 120)) * time.Second,
		AgentShutdownTimeout: time.Duration(getIntOrDefault(v, logger, "AGENT_SHUTDOWN_TIMEOUT_SECS", 30)) * time.Second,
		AgentHandleTimeout:   time.Duration(getIntOrDefault(v, logger, "AGENT_HANDLE_TIMEOUT_SECS", 300)) * time.Second,

		ShellyListenAddr:      v.GetString("SHELLY_LISTEN_ADDR"),
		ShellyDedupCapacity:   getIntOrDefault(v, logger, "SHELLY_DEDUP_CAPACITY", 256),
		ShellyDedupTTL:        time.Duration(getIntOrDefault(v, logger, "SHELLY_DEDUP_TTL_SECS", 300)) * time.Second,
		ShellyDedupSweep:      time.Duration(getIntOrDefault(v, logger, "SHELLY_DEDUP_SWEEP_SECS", 30)) * time.Second,
		ShellyMaxPayloadBytes: getIntOrDefault(v, logger, "SHELLY_MAX_PAYLOAD_BYTES", 65536),
		ShellyQueueCapacity:   getIntOrDefault(v, logger, "SHELLY_QUEUE_CAPACITY", 1024),
	}
	return cfg
}

// getIntOrDefault returns v's integer value for key, falling back to
// def and logging a warning if the raw string is present but fails to
// parse as an integer, per spec.md §6 ("unparseable values fall back to
// defaults with a warning").
func getIntOrDefault(v *viper.Viper, logger *zap.Logger, key string, def int) int {
	raw := v.GetString(key)
	if raw == "" {
		return def
	}
	n := v.GetInt(key)
	if n == 0 && raw != "0" {
		logger.Warn("config: unparseable integer value, using default",
			zap.String("key", key), zap.String("value", raw), zap.Int("default", def))
		return def
	}
	return n
}

func getOptionalFloat(v *viper.Viper, logger *zap.Logger, key string) *float64 {
	raw := v.GetString(key)
	if raw == "" {
		return nil
	}
	f := v.GetFloat64(key)
	if f == 0 && raw != "0" {
		logger.Warn("config: unparseable float value, ignoring",
			zap.String("key", key), zap.String("value", raw))
		return nil
	}
	return &f
}

func getOptionalInt(v *viper.Viper, logger *zap.Logger, key string) *int {
	raw := v.GetString(key)
	if raw == "" {
		return nil
	}
	n := v.GetInt(key)
	if n == 0 && raw != "0" {
		logger.Warn("config: unparseable integer value, ignoring",
			zap.String("key", key), zap.String("value", raw))
		return nil
	}
	return &n
}
