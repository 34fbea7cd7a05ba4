package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup parses the environment variable key with parse. Unset or empty
// variables yield def. So do unparsable ones, with a warning.
func lookup[T any](key string, def T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		slog.Warn("Ignoring invalid environment variable", "key", key, "error", err)
		return def
	}
	return v
}

// GetEnv returns the environment variable value or a default.
func GetEnv(key, defaultValue string) string {
	return lookup(key, defaultValue, func(s string) (string, error) { return s, nil })
}

// GetIntEnv returns an integer environment variable or a default.
func GetIntEnv(key string, defaultValue int) int {
	return lookup(key, defaultValue, strconv.Atoi)
}

// GetDurationEnv returns a duration such as "90s" or "5m", or a default.
func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	return lookup(key, defaultValue, time.ParseDuration)
}

// GetListEnv splits a comma separated variable. Blank items are dropped.
func GetListEnv(key string, defaultValue []string) []string {
	return lookup(key, defaultValue, func(s string) ([]string, error) {
		var items []string
		for item := range strings.SplitSeq(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	})
}

// GetLevelEnv parses a slog level name (debug, info, warn, error).
func GetLevelEnv(key string, defaultValue slog.Level) slog.Level {
	return lookup(key, defaultValue, func(s string) (slog.Level, error) {
		var level slog.Level
		err := level.UnmarshalText([]byte(s))
		return level, err
	})
}

// GetSecretFile reads a secret mounted as a file, as Docker and Kubernetes
// secrets are. Unreadable paths yield "".
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Failed to read secret file", "path", path, "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}
