// Package config loads relay configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ServiceConfig identifies the relay process.
type ServiceConfig struct {
	Name      string
	Principal string
	HTTPPort  string
}

// BackendConfig holds the external backend endpoints.
type BackendConfig struct {
	TranscribeWSURL string
	BroadcastWSURL  string
	AnalysisURL     string
}

// AudioConfig holds capture and framing parameters.
type AudioConfig struct {
	SampleRateHz     int
	FrameSamples     int
	SilenceThreshold float64
}

// SessionConfig holds session lifecycle parameters.
type SessionConfig struct {
	FinalizeGrace time.Duration
	PingInterval  time.Duration
	MidTierPolicy string // append or replace-cumulative
}

// KafkaConfig holds the audit publisher settings.
type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	TopicCommit string
	TopicFinal  string
	Principal   string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

// Configuration is the full relay configuration.
type Configuration struct {
	Service       ServiceConfig
	Backend       BackendConfig
	Audio         AudioConfig
	Session       SessionConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// Load reads configuration from the environment with defaults.
func Load() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Name:      envOrDefault("SERVICE_NAME", "meeting-relay"),
			Principal: envOrDefault("SERVICE_PRINCIPAL", "svc-meeting-relay"),
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
		},
		Backend: BackendConfig{
			TranscribeWSURL: envOrDefault("TRANSCRIBE_WS_URL", "ws://localhost:8000/ws/transcribe"),
			BroadcastWSURL:  envOrDefault("BROADCAST_WS_URL", "ws://localhost:8000/ws/meeting"),
			AnalysisURL:     envOrDefault("ANALYSIS_URL", "http://localhost:8000"),
		},
		Audio: AudioConfig{
			SampleRateHz:     envOrDefaultInt("AUDIO_SAMPLE_RATE_HZ", 16000),
			FrameSamples:     envOrDefaultInt("AUDIO_FRAME_SAMPLES", 1600),
			SilenceThreshold: envOrDefaultFloat("AUDIO_SILENCE_THRESHOLD", 0.01),
		},
		Session: SessionConfig{
			FinalizeGrace: envOrDefaultDuration("SESSION_FINALIZE_GRACE", 30*time.Second),
			PingInterval:  envOrDefaultDuration("SESSION_PING_INTERVAL", 30*time.Second),
			MidTierPolicy: envOrDefault("SESSION_MID_TIER_POLICY", "append"),
		},
		Kafka: KafkaConfig{
			Enabled:     envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:     envOrDefaultList("KAFKA_BROKERS", nil),
			TopicCommit: envOrDefault("KAFKA_TOPIC_COMMIT", "session.transcript.commit"),
			TopicFinal:  envOrDefault("KAFKA_TOPIC_FINAL", "session.transcript.final"),
			Principal:   envOrDefault("SERVICE_PRINCIPAL", "svc-meeting-relay"),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
