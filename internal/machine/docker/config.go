package docker

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"opsbot/internal/config"
)

// Size is the resource allotment behind a size name.
type Size struct {
	CPUs     float64 `yaml:"cpus"`
	MemoryMB int64   `yaml:"memoryMB"`
}

func (s Size) nanoCPUs() int64 {
	return int64(s.CPUs * 1e9)
}

func (s Size) memoryBytes() int64 {
	return s.MemoryMB * 1024 * 1024
}

// DefaultSizes mirrors the small general purpose EC2 types so commands
// written against EC2 work unchanged.
func DefaultSizes() map[string]Size {
	return map[string]Size{
		"t2.micro":  {CPUs: 1, MemoryMB: 1024},
		"t2.small":  {CPUs: 1, MemoryMB: 2048},
		"t2.medium": {CPUs: 2, MemoryMB: 4096},
		"t2.large":  {CPUs: 2, MemoryMB: 8192},
		"t2.xlarge": {CPUs: 4, MemoryMB: 16384},
	}
}

// ParseSizes decodes a YAML size table:
//
//	t2.medium: {cpus: 2, memoryMB: 4096}
func ParseSizes(data []byte) (map[string]Size, error) {
	var sizes map[string]Size
	if err := yaml.Unmarshal(data, &sizes); err != nil {
		return nil, fmt.Errorf("failed to parse size table: %w", err)
	}
	for name, s := range sizes {
		if s.CPUs <= 0 || s.MemoryMB <= 0 {
			return nil, fmt.Errorf("size %q: cpus and memoryMB must be positive", name)
		}
	}
	return sizes, nil
}

// LoadSizes reads a YAML size table from path.
func LoadSizes(path string) (map[string]Size, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read size table: %w", err)
	}
	return ParseSizes(data)
}

// LoadConfigFromEnv loads Docker backend configuration from environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		ScopeLabel:  config.GetEnv("DOCKER_SCOPE_LABEL", DefaultScopeLabel),
		StopTimeout: config.GetDurationEnv("DOCKER_STOP_TIMEOUT", 10*time.Second),
	}
	if path := config.GetEnv("DOCKER_SIZES_FILE", ""); path != "" {
		sizes, err := LoadSizes(path)
		if err != nil {
			return Config{}, err
		}
		cfg.Sizes = sizes
	}
	return cfg, nil
}
