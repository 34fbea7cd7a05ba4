// Package config provides configuration loading from environment variables.
package config

import (
	"log/slog"
	"time"
)

// Machine backends selectable with MACHINE_BACKEND.
const (
	BackendEC2    = "ec2"
	BackendDocker = "docker"
)

// ServiceConfig holds configuration for the opsbot service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	LogLevel          slog.Level

	BotMention string // Messages must start with this mention when set
	NotifyURL  string // Webhook receiving job messages as CloudEvents
	NotifyKey  string // HMAC key for signing notifications
	// NotifyEvents lists the job lifecycle events forwarded to NotifyURL;
	// empty forwards all.
	NotifyEvents []string

	MachineBackend string // "ec2" or "docker"
	AWSRegion      string
	StatusTimeout  time.Duration // Indexer status request timeout

	ReapInterval     time.Duration // How often the supervisor reaps without inbound traffic
	CompletionBuffer int           // Completion channel capacity
	ShutdownTimeout  time.Duration // How long to wait for cancelled jobs on exit
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		LogLevel:          GetLevelEnv("LOG_LEVEL", slog.LevelInfo),
		BotMention:        GetEnv("BOT_MENTION", ""),
		NotifyURL:         GetEnv("NOTIFY_URL", ""),
		NotifyKey:         GetSecretFile(GetEnv("NOTIFY_KEY_FILE", "")),
		NotifyEvents:      GetListEnv("NOTIFY_EVENTS", nil),
		MachineBackend:    GetEnv("MACHINE_BACKEND", BackendEC2),
		AWSRegion:         GetEnv("AWS_REGION", "us-west-2"),
		StatusTimeout:     GetDurationEnv("STATUS_TIMEOUT", 30*time.Second),
		ReapInterval:      GetDurationEnv("REAP_INTERVAL", 5*time.Second),
		CompletionBuffer:  GetIntEnv("COMPLETION_BUFFER", 1024),
		ShutdownTimeout:   GetDurationEnv("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}
