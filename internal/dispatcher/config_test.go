package dispatcher

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("NOTIFY_WORKERS", "2")
	t.Setenv("NOTIFY_BREAKER_COOLDOWN", "1m")

	cfg := LoadConfigFromEnv()
	if cfg.Workers != 2 {
		t.Errorf("Expected Workers 2, got %d", cfg.Workers)
	}
	if cfg.BreakerCooldown != time.Minute {
		t.Errorf("Expected BreakerCooldown 1m, got %v", cfg.BreakerCooldown)
	}
	if cfg.BufferSize != 1000 {
		t.Errorf("Expected default BufferSize 1000, got %d", cfg.BufferSize)
	}
}

func TestMemoryConfig_WithDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   MemoryConfig
	}{
		{"zero values", MemoryConfig{}},
		{"negative values", MemoryConfig{
			BufferSize: -1, Workers: -1, HTTPTimeout: -1, MaxRetries: -1,
			InitialBackoff: -1, MaxBackoff: -1, BreakerThreshold: -1, BreakerCooldown: -1, MaxRequeues: -1,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.in.withDefaults()
			want := MemoryConfig{
				BufferSize:       1000,
				Workers:          4,
				HTTPTimeout:      10 * time.Second,
				MaxRetries:       3,
				InitialBackoff:   100 * time.Millisecond,
				MaxBackoff:       5 * time.Second,
				BreakerThreshold: 5,
				BreakerCooldown:  30 * time.Second,
				MaxRequeues:      10,
			}
			if cfg != want {
				t.Errorf("withDefaults() = %+v, want %+v", cfg, want)
			}
		})
	}
}

func TestMemoryConfig_WithDefaults_PreservesValidValues(t *testing.T) {
	t.Parallel()
	cfg := MemoryConfig{
		BufferSize:      500,
		Workers:         5,
		HTTPTimeout:     20 * time.Second,
		BreakerCooldown: time.Second,
	}.withDefaults()

	if cfg.BufferSize != 500 {
		t.Errorf("Expected BufferSize 500, got %d", cfg.BufferSize)
	}
	if cfg.Workers != 5 {
		t.Errorf("Expected Workers 5, got %d", cfg.Workers)
	}
	if cfg.HTTPTimeout != 20*time.Second {
		t.Errorf("Expected HTTPTimeout 20s, got %v", cfg.HTTPTimeout)
	}
	if cfg.BreakerCooldown != time.Second {
		t.Errorf("Expected BreakerCooldown 1s, got %v", cfg.BreakerCooldown)
	}
}
