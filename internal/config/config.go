package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr   = ":8080"
	defaultStepDuration = 100 * time.Millisecond
	defaultPollInterval = 10 * time.Millisecond

	envListenAddr = "COHORT_LISTEN_ADDR"
	envLogLevel   = "COHORT_LOG_LEVEL"
	envStepMS     = "COHORT_STEP_MS"
	envPollMS     = "COHORT_POLL_MS"
	envGroupsFile = "COHORT_GROUPS_FILE"
	envTraceFile  = "COHORT_TRACE_FILE"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	LogLevel   slog.Level

	// StepDuration is the latency of one step of the builtin work kinds.
	StepDuration time.Duration

	// PollInterval is how often timeout watchers check their deadline.
	PollInterval time.Duration

	// GroupsFile, when set, is a YAML manifest of groups loaded at startup.
	GroupsFile string

	// TraceFile, when set, receives OpenTelemetry spans as JSON lines.
	TraceFile string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return load(slog.LevelInfo)
}

// LoadShell is Load for the interactive shell, whose log level defaults to
// warn so records stay out of the prompt.
func LoadShell() Config {
	return load(slog.LevelWarn)
}

func load(level slog.Level) Config {
	cfg := Config{
		ListenAddr:   defaultListenAddr,
		LogLevel:     level,
		StepDuration: defaultStepDuration,
		PollInterval: defaultPollInterval,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envStepMS); v != "" {
		cfg.StepDuration = parseMillis(v, defaultStepDuration)
	}
	if v := os.Getenv(envPollMS); v != "" {
		cfg.PollInterval = parseMillis(v, defaultPollInterval)
	}
	cfg.GroupsFile = os.Getenv(envGroupsFile)
	cfg.TraceFile = os.Getenv(envTraceFile)

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseMillis reads a positive millisecond count, falling back to def.
func parseMillis(s string, def time.Duration) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
