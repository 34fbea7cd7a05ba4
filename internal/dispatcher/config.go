package dispatcher

import (
	"time"

	"opsbot/internal/config"
)

// MemoryConfig holds configuration for the in-memory dispatcher.
type MemoryConfig struct {
	BufferSize  int           // pending events buffer (default: 1000)
	Workers     int           // concurrent delivery goroutines (default: 4)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)

	MaxRetries       int           // retries after the first attempt (default: 3)
	InitialBackoff   time.Duration // first retry delay (default: 100ms)
	MaxBackoff       time.Duration // retry delay cap (default: 5s)
	BreakerThreshold int           // failures before a host's circuit opens (default: 5)
	BreakerCooldown  time.Duration // open circuit cooldown, also the requeue delay (default: 30s)
	MaxRequeues      int           // requeues before an event is dropped (default: 10)
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		BufferSize:       config.GetIntEnv("NOTIFY_BUFFER_SIZE", 1000),
		Workers:          config.GetIntEnv("NOTIFY_WORKERS", 4),
		HTTPTimeout:      config.GetDurationEnv("NOTIFY_HTTP_TIMEOUT", 10*time.Second),
		MaxRetries:       config.GetIntEnv("NOTIFY_MAX_RETRIES", 3),
		BreakerThreshold: config.GetIntEnv("NOTIFY_BREAKER_THRESHOLD", 5),
		BreakerCooldown:  config.GetDurationEnv("NOTIFY_BREAKER_COOLDOWN", 30*time.Second),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.MaxRequeues <= 0 {
		c.MaxRequeues = 10
	}
	return c
}

// deliveryBudget bounds one delivery, retries included.
func (c MemoryConfig) deliveryBudget() time.Duration {
	return time.Duration(c.MaxRetries+1)*c.HTTPTimeout + time.Duration(c.MaxRetries)*c.MaxBackoff
}
